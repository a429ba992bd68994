package registry

import "time"

// Session is one agent conversation thread, addressable from one or more tabs.
type Session struct {
	SessionID          string     `json:"session_id"`
	TabID              string     `json:"tab_id"`
	Title              string     `json:"title"`
	StageID            string     `json:"stage_id,omitempty"`
	WorkspaceID        string     `json:"workspace_id,omitempty"`
	ProjectID          string     `json:"project_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	IsHistoryLoaded    bool       `json:"is_history_loaded"`
	HistoryPreloaded   bool       `json:"history_preloaded"`
	HistoryPreloadedAt *time.Time `json:"history_preloaded_at,omitempty"`
	LastSeenMessages   int        `json:"last_seen_message_count,omitempty"`
	IsCreating         bool       `json:"is_creating"`
	IsDeleting         bool       `json:"is_deleting"`
}

// Metadata carries the optional fields accepted when creating a session.
type Metadata struct {
	SessionID   string
	Title       string
	StageID     string
	WorkspaceID string
	ProjectID   string
	IsCreating  bool
}

// Patch holds partial updates. Nil fields are left untouched.
type Patch struct {
	SessionID        *string
	Title            *string
	StageID          *string
	WorkspaceID      *string
	ProjectID        *string
	LastSeenMessages *int
	IsCreating       *bool
	IsDeleting       *bool
}

// Snapshot is the durable slice of registry state. Session titles and
// metadata are rebuilt from the history collaborator after a restart.
type Snapshot struct {
	SessionsByTab   map[string]string `json:"sessions_by_tab"`
	StageActiveTabs map[string]string `json:"stage_active_tabs"`
	ActiveSessionID string            `json:"active_session_id"`
}
