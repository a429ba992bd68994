package timeline

import (
	"testing"

	"agent-console-be/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassStart, Classify("RunStarted"))
	assert.Equal(t, ClassStart, Classify("TeamRunStarted"))
	assert.Equal(t, ClassStart, Classify("AgentRunStarted"))
	assert.Equal(t, ClassEnd, Classify("RunCompleted"))
	assert.Equal(t, ClassEnd, Classify("TeamRunCompleted"))
	assert.Equal(t, ClassEnd, Classify("AgentRunCompleted"))
	assert.Equal(t, ClassMiddle, Classify("ToolCallStarted"))
	assert.Equal(t, ClassMiddle, Classify("SomethingElse"))
}

func TestDeriveLabel(t *testing.T) {
	assert.Equal(t, "Knowledge Search", deriveLabel("TeamKnowledgeSearch"))
	assert.Equal(t, "Plan Step", deriveLabel("AgentPlanStep"))
	assert.Equal(t, "Custom Thing", deriveLabel("CustomThing"))
	// Table hits never reach derivation.
	assert.Equal(t, "Tools", labelFor("ToolCallStarted"))
	assert.Equal(t, "Reasoning", labelFor("ReasoningStep"))
}

func TestAggregateScenario(t *testing.T) {
	a := NewAggregator(logger.NewNopLogger())
	defer a.Teardown()

	for _, ev := range []RunEvent{
		{Type: "RunStarted", Timestamp: 0},
		{Type: "ToolCallStarted", Timestamp: 1},
		{Type: "ToolCallCompleted", Timestamp: 2},
		{Type: "ToolCallStarted", Timestamp: 3},
		{Type: "ToolCallCompleted", Timestamp: 4},
		{Type: "RunCompleted", Timestamp: 5},
	} {
		a.AddEvent("s1", ev)
	}

	entries := a.Aggregate("s1")
	require.Len(t, entries, 3)

	require.NotNil(t, entries[0].Event)
	assert.Equal(t, "RunStarted", entries[0].Event.Type)

	// Two tool calls, each a started/completed pair.
	assert.Equal(t, "Tools", entries[1].Label)
	assert.Equal(t, 2, entries[1].Count)
	assert.Equal(t, "ToolCallStarted", entries[1].RepresentativeCategory)

	require.NotNil(t, entries[2].Event)
	assert.Equal(t, "RunCompleted", entries[2].Event.Type)

	assert.True(t, a.IsCompleted("s1"))
	assert.False(t, a.IsRunning("s1"))
	assert.Equal(t, int64(5), a.Duration("s1"))
}

func TestLastWriteWinsForMarkers(t *testing.T) {
	a := NewAggregator(logger.NewNopLogger())
	defer a.Teardown()

	a.AddEvent("s1", RunEvent{Type: "RunStarted", Timestamp: 0})
	a.AddEvent("s1", RunEvent{Type: "AgentRunStarted", Timestamp: 10})
	a.AddEvent("s1", RunEvent{Type: "RunCompleted", Timestamp: 20})
	a.AddEvent("s1", RunEvent{Type: "TeamRunCompleted", Timestamp: 30})

	entries := a.Aggregate("s1")
	require.Len(t, entries, 2)
	assert.Equal(t, "AgentRunStarted", entries[0].Event.Type)
	assert.Equal(t, "TeamRunCompleted", entries[1].Event.Type)
}

func TestGroupsKeepFirstSeenOrder(t *testing.T) {
	a := NewAggregator(logger.NewNopLogger())
	defer a.Teardown()

	a.AddEvent("s1", RunEvent{Type: "ReasoningStep", Timestamp: 1})
	a.AddEvent("s1", RunEvent{Type: "ToolCallStarted", Timestamp: 2})
	a.AddEvent("s1", RunEvent{Type: "ReasoningStep", Timestamp: 3})

	entries := a.Aggregate("s1")
	require.Len(t, entries, 2)
	assert.Equal(t, "Reasoning", entries[0].Label)
	assert.Equal(t, 2, entries[0].Count)
	assert.Equal(t, "Tools", entries[1].Label)
}

func TestStartTimeIsFirstEventEver(t *testing.T) {
	a := NewAggregator(logger.NewNopLogger())
	defer a.Teardown()

	// The explicit start signal arrives after real activity.
	a.AddEvent("s1", RunEvent{Type: "ToolCallStarted", Timestamp: 100})
	a.AddEvent("s1", RunEvent{Type: "RunStarted", Timestamp: 150})

	start, ok := a.StartTime("s1")
	require.True(t, ok)
	assert.Equal(t, int64(100), start)
}

func TestDurationWhileRunning(t *testing.T) {
	a := NewAggregator(logger.NewNopLogger())
	defer a.Teardown()
	a.SetClock(func() int64 { return 5000 })

	a.AddEvent("s1", RunEvent{Type: "RunStarted", Timestamp: 1000})
	assert.True(t, a.IsRunning("s1"))
	assert.Equal(t, int64(4000), a.Duration("s1"))

	// Completion freezes duration to lastEvent - start, not now - start.
	a.AddEvent("s1", RunEvent{Type: "RunCompleted", Timestamp: 3000})
	assert.Equal(t, int64(2000), a.Duration("s1"))
}

func TestAuthoritativeCompletionOverride(t *testing.T) {
	a := NewAggregator(logger.NewNopLogger())
	defer a.Teardown()

	a.AddEvent("s1", RunEvent{Type: "RunCompleted", Timestamp: 1})
	assert.True(t, a.IsCompleted("s1"))

	// An explicit false suppresses the derived terminal signal.
	f := false
	a.SetCompleted("s1", &f)
	assert.False(t, a.IsCompleted("s1"))

	tr := true
	a.SetCompleted("s1", &tr)
	assert.True(t, a.IsCompleted("s1"))

	// nil falls back to derivation.
	a.SetCompleted("s1", nil)
	assert.True(t, a.IsCompleted("s1"))
}

func TestEmptySession(t *testing.T) {
	a := NewAggregator(logger.NewNopLogger())
	defer a.Teardown()

	assert.Nil(t, a.Aggregate("nope"))
	assert.False(t, a.IsCompleted("nope"))
	assert.False(t, a.IsRunning("nope"))
	_, ok := a.StartTime("nope")
	assert.False(t, ok)
	assert.Equal(t, int64(0), a.Duration("nope"))
}

func TestClearSessionIsIsolated(t *testing.T) {
	a := NewAggregator(logger.NewNopLogger())
	defer a.Teardown()

	a.AddEvent("s1", RunEvent{Type: "RunStarted", Timestamp: 1})
	a.AddEvent("s2", RunEvent{Type: "RunStarted", Timestamp: 1})

	a.ClearSession("s1")
	assert.Nil(t, a.Aggregate("s1"))
	assert.Len(t, a.Events("s2"), 1)
}
