package dto

import (
	"time"

	"agent-console-be/pkg/relay/failure"
	"agent-console-be/pkg/relay/ledger"
	"agent-console-be/pkg/relay/timeline"
)

// Inbound transport callbacks

type PushRunEventRequest struct {
	Type      string                 `json:"type" validate:"required"`
	Timestamp int64                  `json:"timestamp" validate:"required"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

type PushTokenDeltaRequest struct {
	Delta string `json:"delta" validate:"required"`
}

type PushFailureRequest struct {
	Message         string `json:"message" validate:"required"`
	StatusCode      int    `json:"status_code,omitempty"`
	AgentMessageID  string `json:"agent_message_id,omitempty"`
	OriginalMessage string `json:"original_message,omitempty"`
}

// Watermill envelopes: controllers publish these, the ingest service is
// the single consumer.

type PublishRunEventMessage struct {
	SessionID string              `json:"session_id"`
	Event     PushRunEventRequest `json:"event"`
}

type PublishTokenDeltaMessage struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Delta     string `json:"delta"`
}

type PublishFailureMessage struct {
	SessionID       string `json:"session_id"`
	Message         string `json:"message"`
	StatusCode      int    `json:"status_code"`
	AgentMessageID  string `json:"agent_message_id"`
	OriginalMessage string `json:"original_message"`
}

// Session / tab lifecycle

type CreateTabRequest struct {
	TabID       string `json:"tab_id" validate:"required"`
	SessionID   string `json:"session_id,omitempty"`
	Title       string `json:"title,omitempty"`
	StageID     string `json:"stage_id,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
}

type UpdateTabRequest struct {
	SessionID        *string `json:"session_id,omitempty"`
	Title            *string `json:"title,omitempty"`
	StageID          *string `json:"stage_id,omitempty"`
	WorkspaceID      *string `json:"workspace_id,omitempty"`
	ProjectID        *string `json:"project_id,omitempty"`
	LastSeenMessages *int    `json:"last_seen_message_count,omitempty"`
	IsCreating       *bool   `json:"is_creating,omitempty"`
	IsDeleting       *bool   `json:"is_deleting,omitempty"`
}

type CreateTabFromSessionRequest struct {
	StageID         string `json:"stage_id,omitempty"`
	StageTemplateID string `json:"stage_template_id,omitempty"`
	Title           string `json:"title,omitempty"`
}

type SetActiveSessionRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

type LoadHistoryRequest struct {
	Messages []ledger.Message `json:"messages" validate:"required"`
}

type SendMessageRequest struct {
	Content    string `json:"content" validate:"required"`
	RunnerID   string `json:"runner_id,omitempty"`
	RunnerType string `json:"runner_type,omitempty"`
}

type SetCompletedRequest struct {
	// Completed is the caller's authoritative flag; null reverts to the
	// derived signal.
	Completed *bool `json:"completed"`
}

type UpdateRetrySettingsRequest struct {
	BaseDelayMS int `json:"base_delay_ms" validate:"required,min=1"`
	MaxDelayMS  int `json:"max_delay_ms" validate:"required,min=1"`
	MaxRetries  int `json:"max_retries" validate:"required,min=0"`
}

// Query responses

type CreateTabFromSessionResponse struct {
	TabID   string `json:"tab_id"`
	Created bool   `json:"created"`
}

type LoadHistoryResponse struct {
	Kept      int `json:"kept"`
	Discarded int `json:"discarded"`
}

type StreamStateResponse struct {
	IsStreaming        bool   `json:"is_streaming"`
	StreamingMessageID string `json:"streaming_message_id,omitempty"`
	IsTyping           bool   `json:"is_typing"`
}

type TimelineResponse struct {
	Entries     []timeline.Entry `json:"entries"`
	IsCompleted bool             `json:"is_completed"`
	IsRunning   bool             `json:"is_running"`
	StartTime   *int64           `json:"start_time,omitempty"`
	DurationMS  int64            `json:"duration_ms"`
}

type ActiveErrorResponse struct {
	Error *failure.RunError `json:"error"`
	// RetryExhausted is the caller-side check: the retry affordance must
	// disappear once retryCount reaches maxRetries.
	RetryExhausted bool `json:"retry_exhausted"`
}

type IncompleteSessionResponse struct {
	SessionID       string                 `json:"session_id"`
	AgentMessageID  string                 `json:"agent_message_id"`
	OriginalMessage string                 `json:"original_message"`
	RunnerID        string                 `json:"runner_id,omitempty"`
	RunnerType      string                 `json:"runner_type,omitempty"`
	StartedAt       time.Time              `json:"started_at"`
	LastState       string                 `json:"last_state"`
	LastEventType   string                 `json:"last_event_type,omitempty"`
	LastEventAt     *time.Time             `json:"last_event_at,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

type SendMessageResponse struct {
	UserMessageID  string `json:"user_message_id"`
	AgentMessageID string `json:"agent_message_id"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis"`
	NATS   string `json:"nats"`
	DB     string `json:"db"`
}
