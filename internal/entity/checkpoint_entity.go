package entity

import "time"

// Incomplete-session last states.
const (
	RunStateStreaming = "streaming"
	RunStateError     = "error"
	RunStateCancelled = "cancelled"
)

// IncompleteSession is a durable checkpoint of a run that has not reached a
// terminal event. It survives restarts until explicitly resolved or
// abandoned, so the caller can offer resume-or-discard on next load.
type IncompleteSession struct {
	SessionID       string
	AgentMessageID  string
	OriginalMessage string
	RunnerID        string
	RunnerType      string
	StartedAt       time.Time
	LastState       string
	LastEventType   string
	LastEventAt     *time.Time
	// Payload of the last observed run event, kept for resume diagnostics.
	Metadata map[string]interface{}
}

// RetrySettings tunes the backoff schedule. Persisted alongside the
// checkpoints so operator overrides survive restarts.
type RetrySettings struct {
	BaseDelayMS int
	MaxDelayMS  int
	MaxRetries  int
}

// DefaultRetrySettings returns the stock backoff tuning.
func DefaultRetrySettings() *RetrySettings {
	return &RetrySettings{
		BaseDelayMS: 1000,
		MaxDelayMS:  30000,
		MaxRetries:  3,
	}
}
