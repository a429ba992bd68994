package failure

import "time"

// RunError records one transport failure, attached to both a session and the
// agent message being produced when it happened. History keeps every error;
// only the newest is the session's active error.
type RunError struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	AgentMessageID  string     `json:"agent_message_id"`
	OriginalMessage string     `json:"original_message"`
	Category        Category   `json:"category"`
	Message         string     `json:"message"`
	StatusCode      int        `json:"status_code,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	IsRetriable     bool       `json:"is_retriable"`
	IsRetrying      bool       `json:"is_retrying"`
	NextRetryAt     *time.Time `json:"next_retry_at,omitempty"`
}

// Input carries the raw failure data pushed by the transport.
type Input struct {
	SessionID       string
	AgentMessageID  string
	OriginalMessage string
	Message         string
	StatusCode      int // 0 when the failure carried no HTTP status
}

// CheckpointPatch is a partial update for an incomplete-session checkpoint.
type CheckpointPatch struct {
	LastState     *string
	LastEventType *string
	LastEventAt   *time.Time
	Metadata      map[string]interface{}
}
