package service

import (
	"context"

	"agent-console-be/internal/dto"
	"agent-console-be/internal/pkg/logger"
	"agent-console-be/internal/websocket"
	"agent-console-be/pkg/relay/ledger"
	"agent-console-be/pkg/relay/registry"
)

type ISessionService interface {
	CreateTab(ctx context.Context, req *dto.CreateTabRequest) (*registry.Session, error)
	UpdateTab(ctx context.Context, tabID string, req *dto.UpdateTabRequest) (*registry.Session, error)
	DeleteTab(ctx context.Context, tabID string)
	CreateTabFromSession(ctx context.Context, sessionID string, req *dto.CreateTabFromSessionRequest) *dto.CreateTabFromSessionResponse
	SetActiveSession(ctx context.Context, sessionID string)
	ActiveSession() string
	Tabs() map[string]*registry.Session
	NeedsHistoryLoad(tabID string) bool
	MarkHistoryLoaded(tabID string) error
	LoadHistory(ctx context.Context, tabID string, messages []ledger.Message) (*dto.LoadHistoryResponse, error)
}

// sessionService fronts the tab registry and keeps the conversation ledger
// in step during bulk history loads.
type sessionService struct {
	sessions *registry.Manager
	messages *ledger.Ledger
	hub      *websocket.Hub
	log      logger.ILogger
}

func NewSessionService(sessions *registry.Manager, messages *ledger.Ledger, hub *websocket.Hub, log logger.ILogger) ISessionService {
	return &sessionService{
		sessions: sessions,
		messages: messages,
		hub:      hub,
		log:      log,
	}
}

func (ss *sessionService) CreateTab(ctx context.Context, req *dto.CreateTabRequest) (*registry.Session, error) {
	session, err := ss.sessions.CreateSession(ctx, req.TabID, registry.Metadata{
		SessionID:   req.SessionID,
		Title:       req.Title,
		StageID:     req.StageID,
		WorkspaceID: req.WorkspaceID,
		ProjectID:   req.ProjectID,
	})
	if err != nil {
		return nil, err
	}
	ss.notifySessions(session.SessionID)
	return session, nil
}

func (ss *sessionService) UpdateTab(ctx context.Context, tabID string, req *dto.UpdateTabRequest) (*registry.Session, error) {
	session, err := ss.sessions.UpdateSession(ctx, tabID, registry.Patch{
		SessionID:        req.SessionID,
		Title:            req.Title,
		StageID:          req.StageID,
		WorkspaceID:      req.WorkspaceID,
		ProjectID:        req.ProjectID,
		LastSeenMessages: req.LastSeenMessages,
		IsCreating:       req.IsCreating,
		IsDeleting:       req.IsDeleting,
	})
	if err != nil {
		return nil, err
	}
	ss.notifySessions(session.SessionID)
	return session, nil
}

func (ss *sessionService) DeleteTab(ctx context.Context, tabID string) {
	var sessionID string
	if session, ok := ss.sessions.Get(tabID); ok {
		sessionID = session.SessionID
	}
	ss.sessions.DeleteSession(ctx, tabID)
	ss.notifySessions(sessionID)
}

func (ss *sessionService) CreateTabFromSession(ctx context.Context, sessionID string, req *dto.CreateTabFromSessionRequest) *dto.CreateTabFromSessionResponse {
	tabID, created := ss.sessions.CreateTabFromSession(ctx, sessionID, req.StageID, req.StageTemplateID, req.Title)
	if created {
		ss.notifySessions(sessionID)
	}
	return &dto.CreateTabFromSessionResponse{TabID: tabID, Created: created}
}

func (ss *sessionService) SetActiveSession(ctx context.Context, sessionID string) {
	ss.sessions.SetActiveSession(ctx, sessionID)
	ss.notifySessions(sessionID)
}

func (ss *sessionService) ActiveSession() string {
	return ss.sessions.ActiveSession()
}

func (ss *sessionService) Tabs() map[string]*registry.Session {
	return ss.sessions.All()
}

func (ss *sessionService) NeedsHistoryLoad(tabID string) bool {
	return ss.sessions.NeedsHistoryLoad(tabID)
}

func (ss *sessionService) MarkHistoryLoaded(tabID string) error {
	return ss.sessions.MarkHistoryLoaded(tabID)
}

// LoadHistory replaces the session's conversation log with the fetched
// history and stamps the tab's freshness window.
func (ss *sessionService) LoadHistory(ctx context.Context, tabID string, messages []ledger.Message) (*dto.LoadHistoryResponse, error) {
	session, ok := ss.sessions.Get(tabID)
	if !ok {
		return nil, registry.ErrTabNotFound
	}

	kept := ss.messages.SetMessages(session.SessionID, messages)
	if err := ss.sessions.MarkHistoryPreloaded(tabID); err != nil {
		return nil, err
	}
	if err := ss.sessions.MarkHistoryLoaded(tabID); err != nil {
		return nil, err
	}

	ss.hub.Notify(session.SessionID, websocket.SliceMessages, ss.messages.Messages(session.SessionID))
	ss.notifySessions(session.SessionID)

	return &dto.LoadHistoryResponse{
		Kept:      kept,
		Discarded: len(messages) - kept,
	}, nil
}

func (ss *sessionService) notifySessions(sessionID string) {
	ss.hub.Notify(sessionID, websocket.SliceSessions, ss.sessions.All())
}
