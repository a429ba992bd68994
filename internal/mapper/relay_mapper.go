package mapper

import (
	"encoding/json"

	"gorm.io/datatypes"

	"agent-console-be/internal/entity"
	"agent-console-be/internal/model"
)

type RelayMapper struct{}

func NewRelayMapper() *RelayMapper {
	return &RelayMapper{}
}

func (m *RelayMapper) IncompleteSessionToModel(e *entity.IncompleteSession) *model.RelayIncompleteSession {
	if e == nil {
		return nil
	}
	return &model.RelayIncompleteSession{
		SessionID:       e.SessionID,
		AgentMessageID:  e.AgentMessageID,
		OriginalMessage: e.OriginalMessage,
		RunnerID:        e.RunnerID,
		RunnerType:      e.RunnerType,
		StartedAt:       e.StartedAt,
		LastState:       e.LastState,
		LastEventType:   e.LastEventType,
		LastEventAt:     e.LastEventAt,
		Metadata:        metadataToJSON(e.Metadata),
	}
}

func (m *RelayMapper) IncompleteSessionToEntity(s *model.RelayIncompleteSession) *entity.IncompleteSession {
	if s == nil {
		return nil
	}
	return &entity.IncompleteSession{
		SessionID:       s.SessionID,
		AgentMessageID:  s.AgentMessageID,
		OriginalMessage: s.OriginalMessage,
		RunnerID:        s.RunnerID,
		RunnerType:      s.RunnerType,
		StartedAt:       s.StartedAt,
		LastState:       s.LastState,
		LastEventType:   s.LastEventType,
		LastEventAt:     s.LastEventAt,
		Metadata:        metadataFromJSON(s.Metadata),
	}
}

func metadataToJSON(meta map[string]interface{}) datatypes.JSON {
	if len(meta) == 0 {
		return nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func metadataFromJSON(raw datatypes.JSON) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}
	return meta
}

func (m *RelayMapper) RetrySettingsToModel(e *entity.RetrySettings) *model.RelayRetrySettings {
	if e == nil {
		return nil
	}
	return &model.RelayRetrySettings{
		ID:          1,
		BaseDelayMS: e.BaseDelayMS,
		MaxDelayMS:  e.MaxDelayMS,
		MaxRetries:  e.MaxRetries,
	}
}

func (m *RelayMapper) RetrySettingsToEntity(s *model.RelayRetrySettings) *entity.RetrySettings {
	if s == nil {
		return nil
	}
	return &entity.RetrySettings{
		BaseDelayMS: s.BaseDelayMS,
		MaxDelayMS:  s.MaxDelayMS,
		MaxRetries:  s.MaxRetries,
	}
}
