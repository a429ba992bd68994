package ledger

import "time"

const (
	SenderUser  = "user"
	SenderAgent = "agent"
)

// MessageAction is an interactive affordance attached to an agent message.
type MessageAction struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
}

// Attachment references an uploaded file linked to a message.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
}

// Message is one entry of the per-session conversation log. Streaming append
// replaces the whole value (copy-on-write) so observers comparing identities
// always see a change.
type Message struct {
	ID          string          `json:"id"`
	Sender      string          `json:"sender"`
	Content     string          `json:"content"`
	Timestamp   time.Time       `json:"timestamp"`
	Actions     []MessageAction `json:"actions,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	AgentID     string          `json:"agent_id,omitempty"`
	AgentName   string          `json:"agent_name,omitempty"`
}

// Patch holds partial message updates. Nil fields are left untouched.
type Patch struct {
	Content     *string
	Actions     *[]MessageAction
	Attachments *[]Attachment
	AgentID     *string
	AgentName   *string
}
