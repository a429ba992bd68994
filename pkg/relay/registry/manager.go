package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agent-console-be/internal/pkg/logger"
	"agent-console-be/pkg/persistence"

	"github.com/google/uuid"
)

// historyFreshness is how long a background preload keeps a tab fresh
// before a full history fetch is required again.
const historyFreshness = 5 * time.Minute

const snapshotKey = "relay:tabs"

var (
	ErrTabNotFound      = errors.New("tab not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrTabAlreadyExists = errors.New("tab already exists")
)

// Manager owns the session/tab lifecycle partition. One tab maps to at most
// one session; a session may be referenced by multiple tabs.
type Manager struct {
	mu              sync.RWMutex
	sessions        map[string]*Session // keyed by tab id
	stageActiveTabs map[string]string   // stage template id -> most recent tab id
	activeSessionID string

	store  persistence.Store
	logger logger.ILogger
	now    func() time.Time
}

// NewManager creates a session registry. The store receives the durable
// tab/session snapshot; pass nil to keep the registry purely in memory.
func NewManager(store persistence.Store, log logger.ILogger) *Manager {
	return &Manager{
		sessions:        make(map[string]*Session),
		stageActiveTabs: make(map[string]string),
		store:           store,
		logger:          log,
		now:             time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// CreateSession registers a session under tabID. The session id is taken
// from meta when the backend already allocated one, otherwise generated.
func (m *Manager) CreateSession(ctx context.Context, tabID string, meta Metadata) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[tabID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTabAlreadyExists, tabID)
	}

	sessionID := meta.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s := &Session{
		SessionID:   sessionID,
		TabID:       tabID,
		Title:       meta.Title,
		StageID:     meta.StageID,
		WorkspaceID: meta.WorkspaceID,
		ProjectID:   meta.ProjectID,
		CreatedAt:   m.now(),
		IsCreating:  meta.IsCreating,
	}
	m.sessions[tabID] = s

	m.logger.Info("SessionRegistry", "Session created", map[string]interface{}{
		"tab_id":     tabID,
		"session_id": sessionID,
	})

	m.persistLocked(ctx)
	return s.clone(), nil
}

// UpdateSession applies a partial update to the session mapped to tabID.
func (m *Manager) UpdateSession(ctx context.Context, tabID string, patch Patch) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[tabID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
	}

	sessionChanged := false
	if patch.SessionID != nil {
		s.SessionID = *patch.SessionID
		sessionChanged = true
	}
	if patch.Title != nil {
		s.Title = *patch.Title
	}
	if patch.StageID != nil {
		s.StageID = *patch.StageID
	}
	if patch.WorkspaceID != nil {
		s.WorkspaceID = *patch.WorkspaceID
	}
	if patch.ProjectID != nil {
		s.ProjectID = *patch.ProjectID
	}
	if patch.LastSeenMessages != nil {
		s.LastSeenMessages = *patch.LastSeenMessages
	}
	if patch.IsCreating != nil {
		s.IsCreating = *patch.IsCreating
	}
	if patch.IsDeleting != nil {
		s.IsDeleting = *patch.IsDeleting
	}

	if sessionChanged {
		m.persistLocked(ctx)
	}
	return s.clone(), nil
}

// DeleteSession removes the tab mapping. Idempotent.
func (m *Manager) DeleteSession(ctx context.Context, tabID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[tabID]
	if !ok {
		return
	}
	delete(m.sessions, tabID)
	for stage, tab := range m.stageActiveTabs {
		if tab == tabID {
			delete(m.stageActiveTabs, stage)
		}
	}
	if m.activeSessionID == s.SessionID && m.tabForSessionLocked(s.SessionID) == "" {
		m.activeSessionID = ""
	}

	m.logger.Info("SessionRegistry", "Session deleted", map[string]interface{}{
		"tab_id":     tabID,
		"session_id": s.SessionID,
	})
	m.persistLocked(ctx)
}

// SetActiveSession moves the active-session pointer.
func (m *Manager) SetActiveSession(ctx context.Context, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeSessionID = sessionID
	m.persistLocked(ctx)
}

// ActiveSession returns the active-session pointer, empty when unset.
func (m *Manager) ActiveSession() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeSessionID
}

// Get returns the session mapped to tabID.
func (m *Manager) Get(tabID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[tabID]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// GetBySessionID returns the first session record carrying sessionID.
func (m *Manager) GetBySessionID(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tab := m.tabForSessionLocked(sessionID)
	if tab == "" {
		return nil, false
	}
	return m.sessions[tab].clone(), true
}

// All returns every registered session keyed by tab id.
func (m *Manager) All() map[string]*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Session, len(m.sessions))
	for tab, s := range m.sessions {
		out[tab] = s.clone()
	}
	return out
}

// MarkHistoryLoaded flags tabID as fully loaded from the history collaborator.
func (m *Manager) MarkHistoryLoaded(tabID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tabID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
	}
	s.IsHistoryLoaded = true
	return nil
}

// MarkHistoryPreloaded records a background preload with its timestamp,
// opening the freshness window used by NeedsHistoryLoad.
func (m *Manager) MarkHistoryPreloaded(tabID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tabID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
	}
	now := m.now()
	s.HistoryPreloaded = true
	s.HistoryPreloadedAt = &now
	return nil
}

// NeedsHistoryLoad reports whether tabID requires a history fetch.
// Already-loaded tabs never do; preloaded tabs stay fresh for five minutes.
func (m *Manager) NeedsHistoryLoad(tabID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[tabID]
	if !ok {
		return true
	}
	if s.IsHistoryLoaded {
		return false
	}
	if s.HistoryPreloaded && s.HistoryPreloadedAt != nil {
		if m.now().Sub(*s.HistoryPreloadedAt) < historyFreshness {
			return false
		}
	}
	return true
}

// CreateTabFromSession opens (or reuses) a tab for an existing session.
// If a tab already maps to sessionID it is returned as-is and only the
// active-session pointer moves. A non-empty stageTemplateID records the new
// tab as that stage's most recent tab.
func (m *Manager) CreateTabFromSession(ctx context.Context, sessionID, stageID, stageTemplateID, title string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.tabForSessionLocked(sessionID); existing != "" {
		m.activeSessionID = sessionID
		m.persistLocked(ctx)
		return existing, false
	}

	tabID := uuid.NewString()
	m.sessions[tabID] = &Session{
		SessionID: sessionID,
		TabID:     tabID,
		Title:     title,
		StageID:   stageID,
		CreatedAt: m.now(),
	}
	if stageTemplateID != "" {
		m.stageActiveTabs[stageTemplateID] = tabID
	}
	m.activeSessionID = sessionID

	m.logger.Info("SessionRegistry", "Tab created from session", map[string]interface{}{
		"tab_id":     tabID,
		"session_id": sessionID,
		"stage_id":   stageID,
	})
	m.persistLocked(ctx)
	return tabID, true
}

// StageActiveTab returns the most recent tab recorded for a stage template.
func (m *Manager) StageActiveTab(stageTemplateID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tab, ok := m.stageActiveTabs[stageTemplateID]
	return tab, ok
}

// Restore rehydrates the durable tab snapshot after a restart. Sessions come
// back with empty titles and unloaded history; the freshness policy then
// forces a refetch.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	var snap Snapshot
	found, err := m.store.Get(ctx, snapshotKey, &snap)
	if err != nil {
		return fmt.Errorf("restore registry snapshot: %w", err)
	}
	if !found {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for tab, sessionID := range snap.SessionsByTab {
		if _, ok := m.sessions[tab]; ok {
			continue
		}
		m.sessions[tab] = &Session{
			SessionID: sessionID,
			TabID:     tab,
			CreatedAt: m.now(),
		}
	}
	for stage, tab := range snap.StageActiveTabs {
		m.stageActiveTabs[stage] = tab
	}
	m.activeSessionID = snap.ActiveSessionID

	m.logger.Info("SessionRegistry", "Registry snapshot restored", map[string]interface{}{
		"tabs": len(snap.SessionsByTab),
	})
	return nil
}

// Teardown clears all in-memory state. Used on workspace switch / logout.
func (m *Manager) Teardown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
	m.stageActiveTabs = make(map[string]string)
	m.activeSessionID = ""
	m.persistLocked(ctx)
}

func (m *Manager) tabForSessionLocked(sessionID string) string {
	for tab, s := range m.sessions {
		if s.SessionID == sessionID {
			return tab
		}
	}
	return ""
}

func (m *Manager) persistLocked(ctx context.Context) {
	if m.store == nil {
		return
	}
	snap := Snapshot{
		SessionsByTab:   make(map[string]string, len(m.sessions)),
		StageActiveTabs: make(map[string]string, len(m.stageActiveTabs)),
		ActiveSessionID: m.activeSessionID,
	}
	for tab, s := range m.sessions {
		snap.SessionsByTab[tab] = s.SessionID
	}
	for stage, tab := range m.stageActiveTabs {
		snap.StageActiveTabs[stage] = tab
	}
	if err := m.store.Put(ctx, snapshotKey, snap); err != nil {
		m.logger.Warn("SessionRegistry", "Failed to persist registry snapshot", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (s *Session) clone() *Session {
	c := *s
	if s.HistoryPreloadedAt != nil {
		t := *s.HistoryPreloadedAt
		c.HistoryPreloadedAt = &t
	}
	return &c
}
