package repository

import (
	"context"

	"agent-console-be/internal/entity"
)

// CheckpointRepository persists incomplete-session checkpoints. These, plus
// retry settings, are the only relay state that must survive a full restart.
type CheckpointRepository interface {
	Save(ctx context.Context, checkpoint *entity.IncompleteSession) error
	Update(ctx context.Context, checkpoint *entity.IncompleteSession) error
	Delete(ctx context.Context, sessionID string) error
	FindBySessionID(ctx context.Context, sessionID string) (*entity.IncompleteSession, error)
	FindAll(ctx context.Context) ([]*entity.IncompleteSession, error)
}

// RetrySettingsRepository persists the backoff tuning singleton.
type RetrySettingsRepository interface {
	// Load returns the stored tuning, or nil when none was ever saved.
	Load(ctx context.Context) (*entity.RetrySettings, error)
	Save(ctx context.Context, settings *entity.RetrySettings) error
}
