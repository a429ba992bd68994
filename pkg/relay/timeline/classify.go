package timeline

import (
	"strings"
	"unicode"
)

// Classification tags a run event's role inside the timeline.
type Classification int

const (
	ClassMiddle Classification = iota
	ClassStart
	ClassEnd
)

var startEvents = map[string]struct{}{
	"RunStarted":      {},
	"TeamRunStarted":  {},
	"AgentRunStarted": {},
}

var endEvents = map[string]struct{}{
	"RunCompleted":      {},
	"TeamRunCompleted":  {},
	"AgentRunCompleted": {},
}

// labelTable maps well-known middle event types to their display group.
var labelTable = map[string]string{
	"ToolCallStarted":       "Tools",
	"ToolCallCompleted":     "Tools",
	"ReasoningStep":         "Reasoning",
	"ReasoningStarted":      "Reasoning",
	"ReasoningCompleted":    "Reasoning",
	"MemoryUpdateStarted":   "Memory",
	"MemoryUpdateCompleted": "Memory",
	"RunContent":            "Response",
}

// Classify tags an event type as START, END, or MIDDLE.
func Classify(eventType string) Classification {
	if _, ok := startEvents[eventType]; ok {
		return ClassStart
	}
	if _, ok := endEvents[eventType]; ok {
		return ClassEnd
	}
	return ClassMiddle
}

// labelFor resolves the display label for a middle event: the lookup table
// first, then a derived label for unknown types.
func labelFor(eventType string) string {
	if label, ok := labelTable[eventType]; ok {
		return label
	}
	return deriveLabel(eventType)
}

// deriveLabel strips a leading Team/Agent prefix and inserts spaces before
// capitals, so "TeamKnowledgeSearch" becomes "Knowledge Search".
func deriveLabel(eventType string) string {
	trimmed := eventType
	for _, prefix := range []string{"Team", "Agent"} {
		if strings.HasPrefix(trimmed, prefix) && len(trimmed) > len(prefix) {
			trimmed = trimmed[len(prefix):]
			break
		}
	}

	var b strings.Builder
	for i, r := range trimmed {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
