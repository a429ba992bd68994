package model

import (
	"time"

	"gorm.io/datatypes"
)

type RelayIncompleteSession struct {
	SessionID       string     `gorm:"type:text;primaryKey"`
	AgentMessageID  string     `gorm:"type:text;not null"`
	OriginalMessage string     `gorm:"type:text;not null"`
	RunnerID        string     `gorm:"type:text"`
	RunnerType      string     `gorm:"type:text"`
	StartedAt       time.Time  `gorm:"not null"`
	LastState       string     `gorm:"type:text;not null;index"`
	LastEventType   string     `gorm:"type:text"`
	LastEventAt     *time.Time
	Metadata        datatypes.JSON `gorm:"type:jsonb"` // last transport payload, for resume diagnostics
	CreatedAt       time.Time      `gorm:"autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime"`
}

func (RelayIncompleteSession) TableName() string {
	return "relay_incomplete_sessions"
}

// RelayRetrySettings is a singleton row (id always 1).
type RelayRetrySettings struct {
	ID          int       `gorm:"primaryKey"`
	BaseDelayMS int       `gorm:"not null"`
	MaxDelayMS  int       `gorm:"not null"`
	MaxRetries  int       `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (RelayRetrySettings) TableName() string {
	return "relay_retry_settings"
}
