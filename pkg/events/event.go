package events

import "time"

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "RUN_COMPLETED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// BaseEvent is the generic implementation used by the relay domain.
type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// Run lifecycle event codes published to the bus for downstream consumers
// (notification fan-out, audit).
const (
	TypeRunCompleted      = "RUN_COMPLETED"
	TypeRunFailed         = "RUN_FAILED"
	TypeRunRetryScheduled = "RUN_RETRY_SCHEDULED"
	TypeRunResumed        = "RUN_RESUMED"
	TypeRunDiscarded      = "RUN_DISCARDED"
)

// NewRunCompleted signals a session's run reached a terminal event.
func NewRunCompleted(sessionID string, durationMS int64) Event {
	return BaseEvent{
		Type: TypeRunCompleted,
		Data: map[string]interface{}{
			"session_id":  sessionID,
			"duration_ms": durationMS,
		},
		OccurredAt: time.Now(),
	}
}

// NewRunFailed signals a transport failure was recorded for a session.
func NewRunFailed(sessionID, errorID, category string, retriable bool) Event {
	return BaseEvent{
		Type: TypeRunFailed,
		Data: map[string]interface{}{
			"session_id": sessionID,
			"error_id":   errorID,
			"category":   category,
			"retriable":  retriable,
		},
		OccurredAt: time.Now(),
	}
}

// NewRunRetryScheduled signals a backoff timer was armed for an error.
func NewRunRetryScheduled(sessionID, errorID string, attempt int, delayMS int64) Event {
	return BaseEvent{
		Type: TypeRunRetryScheduled,
		Data: map[string]interface{}{
			"session_id": sessionID,
			"error_id":   errorID,
			"attempt":    attempt,
			"delay_ms":   delayMS,
		},
		OccurredAt: time.Now(),
	}
}

// NewRunResumed signals an incomplete session was picked up again.
func NewRunResumed(sessionID string) Event {
	return BaseEvent{
		Type:       TypeRunResumed,
		Data:       map[string]interface{}{"session_id": sessionID},
		OccurredAt: time.Now(),
	}
}

// NewRunDiscarded signals an incomplete session was abandoned.
func NewRunDiscarded(sessionID string) Event {
	return BaseEvent{
		Type:       TypeRunDiscarded,
		Data:       map[string]interface{}{"session_id": sessionID},
		OccurredAt: time.Now(),
	}
}
