package implementation

import (
	"context"
	"errors"

	"agent-console-be/internal/entity"
	"agent-console-be/internal/mapper"
	"agent-console-be/internal/model"
	"agent-console-be/internal/repository"

	"gorm.io/gorm"
)

type CheckpointRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.RelayMapper
}

func NewCheckpointRepository(db *gorm.DB) repository.CheckpointRepository {
	return &CheckpointRepositoryImpl{
		db:     db,
		mapper: mapper.NewRelayMapper(),
	}
}

func (r *CheckpointRepositoryImpl) Save(ctx context.Context, checkpoint *entity.IncompleteSession) error {
	m := r.mapper.IncompleteSessionToModel(checkpoint)
	// Retrying a run re-tracks the same session; upsert keeps one row per session.
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *CheckpointRepositoryImpl) Update(ctx context.Context, checkpoint *entity.IncompleteSession) error {
	m := r.mapper.IncompleteSessionToModel(checkpoint)
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *CheckpointRepositoryImpl) Delete(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&model.RelayIncompleteSession{}).Error
}

func (r *CheckpointRepositoryImpl) FindBySessionID(ctx context.Context, sessionID string) (*entity.IncompleteSession, error) {
	var m model.RelayIncompleteSession
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.IncompleteSessionToEntity(&m), nil
}

func (r *CheckpointRepositoryImpl) FindAll(ctx context.Context) ([]*entity.IncompleteSession, error) {
	var models []*model.RelayIncompleteSession
	if err := r.db.WithContext(ctx).Order("started_at asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*entity.IncompleteSession, 0, len(models))
	for _, m := range models {
		out = append(out, r.mapper.IncompleteSessionToEntity(m))
	}
	return out, nil
}

type RetrySettingsRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.RelayMapper
}

func NewRetrySettingsRepository(db *gorm.DB) repository.RetrySettingsRepository {
	return &RetrySettingsRepositoryImpl{
		db:     db,
		mapper: mapper.NewRelayMapper(),
	}
}

func (r *RetrySettingsRepositoryImpl) Load(ctx context.Context) (*entity.RetrySettings, error) {
	var m model.RelayRetrySettings
	err := r.db.WithContext(ctx).First(&m, 1).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.RetrySettingsToEntity(&m), nil
}

func (r *RetrySettingsRepositoryImpl) Save(ctx context.Context, settings *entity.RetrySettings) error {
	m := r.mapper.RetrySettingsToModel(settings)
	return r.db.WithContext(ctx).Save(m).Error
}
