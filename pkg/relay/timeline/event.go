package timeline

// RunEvent is one immutable entry of a session's run event feed, as pushed
// by the streaming transport. Timestamps are unix milliseconds.
type RunEvent struct {
	Type      string                 `json:"type"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Entry is one display-ready timeline element: either a passthrough marker
// event (start/end) or a grouped bucket of middle events.
type Entry struct {
	// Event is set for passthrough start/end markers.
	Event *RunEvent `json:"event,omitempty"`

	// Grouped middle events.
	Label string `json:"label,omitempty"`
	Count int    `json:"count,omitempty"`

	// RepresentativeCategory is the type of the first event seen under this
	// label; display layers pick an icon from it.
	RepresentativeCategory string `json:"representative_category,omitempty"`
}
