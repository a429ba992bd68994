package failure

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"agent-console-be/internal/entity"
	"agent-console-be/internal/pkg/logger"
	"agent-console-be/internal/repository"

	"github.com/google/uuid"
)

var (
	ErrErrorNotFound      = errors.New("run error not found")
	ErrCheckpointNotFound = errors.New("incomplete session not found")
)

// Manager owns the error/retry partition: classification, per-session error
// history with a singular active pointer, backoff arithmetic, and the
// durable incomplete-session checkpoints.
type Manager struct {
	mu       sync.RWMutex
	history  map[string][]*RunError // keyed by session id
	active   map[string]string      // session id -> active error id
	settings entity.RetrySettings

	checkpoints map[string]*entity.IncompleteSession

	checkpointRepo repository.CheckpointRepository
	settingsRepo   repository.RetrySettingsRepository
	logger         logger.ILogger
	now            func() time.Time
	jitter         func() float64 // uniform in [0,1)
}

// NewManager creates the error/retry partition. Repositories may be nil in
// tests; state then stays in memory.
func NewManager(checkpointRepo repository.CheckpointRepository, settingsRepo repository.RetrySettingsRepository, log logger.ILogger) *Manager {
	return &Manager{
		history:        make(map[string][]*RunError),
		active:         make(map[string]string),
		settings:       *entity.DefaultRetrySettings(),
		checkpoints:    make(map[string]*entity.IncompleteSession),
		checkpointRepo: checkpointRepo,
		settingsRepo:   settingsRepo,
		logger:         log,
		now:            time.Now,
		jitter:         rand.Float64,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetJitter overrides the backoff jitter source. Test hook.
func (m *Manager) SetJitter(jitter func() float64) { m.jitter = jitter }

// LoadState restores retry settings and incomplete-session checkpoints from
// the durable store. Called once at startup.
func (m *Manager) LoadState(ctx context.Context) error {
	if m.settingsRepo != nil {
		settings, err := m.settingsRepo.Load(ctx)
		if err != nil {
			return fmt.Errorf("load retry settings: %w", err)
		}
		if settings != nil {
			m.mu.Lock()
			m.settings = *settings
			m.mu.Unlock()
		}
	}

	if m.checkpointRepo != nil {
		checkpoints, err := m.checkpointRepo.FindAll(ctx)
		if err != nil {
			return fmt.Errorf("load incomplete sessions: %w", err)
		}
		m.mu.Lock()
		for _, cp := range checkpoints {
			m.checkpoints[cp.SessionID] = cp
		}
		m.mu.Unlock()

		if len(checkpoints) > 0 {
			m.logger.Info("ErrorManager", "Recovered incomplete sessions", map[string]interface{}{
				"count": len(checkpoints),
			})
		}
	}
	return nil
}

// AddError classifies and records a failure, making it the session's active
// error. Older errors stay in history.
func (m *Manager) AddError(in Input) *RunError {
	category, retriable := Classify(in.Message, in.StatusCode)

	m.mu.Lock()
	defer m.mu.Unlock()

	runErr := &RunError{
		ID:              uuid.NewString(),
		SessionID:       in.SessionID,
		AgentMessageID:  in.AgentMessageID,
		OriginalMessage: in.OriginalMessage,
		Category:        category,
		Message:         in.Message,
		StatusCode:      in.StatusCode,
		Timestamp:       m.now(),
		MaxRetries:      m.settings.MaxRetries,
		IsRetriable:     retriable,
	}
	// A repeat failure of the same agent message continues the backoff
	// schedule rather than restarting it.
	if prevID, ok := m.active[in.SessionID]; ok && in.AgentMessageID != "" {
		if prev := m.findLocked(in.SessionID, prevID); prev != nil && prev.AgentMessageID == in.AgentMessageID {
			runErr.RetryCount = prev.RetryCount
		}
	}
	m.history[in.SessionID] = append(m.history[in.SessionID], runErr)
	m.active[in.SessionID] = runErr.ID

	m.logger.Warn("ErrorManager", "Run error recorded", map[string]interface{}{
		"session_id":  in.SessionID,
		"error_id":    runErr.ID,
		"category":    string(category),
		"status_code": in.StatusCode,
		"retriable":   retriable,
	})
	return runErr.clone()
}

// MarkRetrying flags the error as mid-retry without touching retryCount.
func (m *Manager) MarkRetrying(sessionID, errorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	runErr := m.findLocked(sessionID, errorID)
	if runErr == nil {
		return fmt.Errorf("%w: %s", ErrErrorNotFound, errorID)
	}
	runErr.IsRetrying = true
	return nil
}

// UpdateRetryAttempt records a finished attempt: retryCount goes up (capped
// at maxRetries), nextRetryAt is stored, and the retrying flag clears.
func (m *Manager) UpdateRetryAttempt(sessionID, errorID string, nextRetryAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	runErr := m.findLocked(sessionID, errorID)
	if runErr == nil {
		return fmt.Errorf("%w: %s", ErrErrorNotFound, errorID)
	}
	if runErr.RetryCount < runErr.MaxRetries {
		runErr.RetryCount++
	}
	runErr.NextRetryAt = nextRetryAt
	runErr.IsRetrying = false
	return nil
}

// ClearRetrying unsets the mid-retry flag without recording an attempt. Used
// when a redispatch was accepted and the run is streaming again.
func (m *Manager) ClearRetrying(sessionID, errorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if runErr := m.findLocked(sessionID, errorID); runErr != nil {
		runErr.IsRetrying = false
	}
}

// MarkResolved deletes the error from history and clears the active pointer
// if it referenced that error.
func (m *Manager) MarkResolved(sessionID, errorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	errs := m.history[sessionID]
	for i, runErr := range errs {
		if runErr.ID != errorID {
			continue
		}
		m.history[sessionID] = append(errs[:i:i], errs[i+1:]...)
		if m.active[sessionID] == errorID {
			delete(m.active, sessionID)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrErrorNotFound, errorID)
}

// ClearActive removes only the active pointer; history is kept for audit.
func (m *Manager) ClearActive(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, sessionID)
}

// ActiveError returns the session's active error, nil when clear.
func (m *Manager) ActiveError(sessionID string) *RunError {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.active[sessionID]
	if !ok {
		return nil
	}
	if runErr := m.findLocked(sessionID, id); runErr != nil {
		return runErr.clone()
	}
	return nil
}

// IsActive reports whether errorID is still the session's active error. The
// retry scheduler checks this before executing, so a cleared error turns a
// pending backoff timer into a no-op.
func (m *Manager) IsActive(sessionID, errorID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[sessionID] == errorID
}

// History returns the session's full error history in arrival order.
func (m *Manager) History(sessionID string) []*RunError {
	m.mu.RLock()
	defer m.mu.RUnlock()
	errs := m.history[sessionID]
	out := make([]*RunError, 0, len(errs))
	for _, runErr := range errs {
		out = append(out, runErr.clone())
	}
	return out
}

// CalculateRetryDelay computes the jittered exponential backoff:
// min(base * 2^retryCount * (1 + U(0,0.3)), max).
func (m *Manager) CalculateRetryDelay(retryCount int) time.Duration {
	m.mu.RLock()
	settings := m.settings
	jitter := m.jitter
	m.mu.RUnlock()

	base := float64(settings.BaseDelayMS)
	for i := 0; i < retryCount; i++ {
		base *= 2
	}
	delayMS := base * (1 + jitter()*0.3)
	if maxMS := float64(settings.MaxDelayMS); delayMS > maxMS {
		delayMS = maxMS
	}
	return time.Duration(delayMS) * time.Millisecond
}

// SeedSettings sets the retry tuning without persisting it. Called at
// startup before LoadState, so a durable override still wins.
func (m *Manager) SeedSettings(settings entity.RetrySettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
}

// Settings returns the current retry tuning.
func (m *Manager) Settings() entity.RetrySettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// UpdateSettings replaces the retry tuning and persists it.
func (m *Manager) UpdateSettings(ctx context.Context, settings entity.RetrySettings) error {
	m.mu.Lock()
	m.settings = settings
	m.mu.Unlock()

	if m.settingsRepo != nil {
		if err := m.settingsRepo.Save(ctx, &settings); err != nil {
			return fmt.Errorf("persist retry settings: %w", err)
		}
	}
	return nil
}

// TrackIncompleteSession writes a durable checkpoint for a run in flight.
func (m *Manager) TrackIncompleteSession(ctx context.Context, cp *entity.IncompleteSession) error {
	m.mu.Lock()
	m.checkpoints[cp.SessionID] = cp
	m.mu.Unlock()

	if m.checkpointRepo != nil {
		if err := m.checkpointRepo.Save(ctx, cp); err != nil {
			return fmt.Errorf("persist checkpoint %s: %w", cp.SessionID, err)
		}
	}
	return nil
}

// UpdateIncompleteSession applies a partial checkpoint update.
func (m *Manager) UpdateIncompleteSession(ctx context.Context, sessionID string, patch CheckpointPatch) error {
	m.mu.Lock()
	cp, ok := m.checkpoints[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCheckpointNotFound, sessionID)
	}
	if patch.LastState != nil {
		cp.LastState = *patch.LastState
	}
	if patch.LastEventType != nil {
		cp.LastEventType = *patch.LastEventType
	}
	if patch.LastEventAt != nil {
		cp.LastEventAt = patch.LastEventAt
	}
	if patch.Metadata != nil {
		cp.Metadata = patch.Metadata
	}
	updated := *cp
	m.mu.Unlock()

	if m.checkpointRepo != nil {
		if err := m.checkpointRepo.Update(ctx, &updated); err != nil {
			return fmt.Errorf("persist checkpoint %s: %w", sessionID, err)
		}
	}
	return nil
}

// RemoveIncompleteSession resolves or abandons a checkpoint.
func (m *Manager) RemoveIncompleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	_, ok := m.checkpoints[sessionID]
	delete(m.checkpoints, sessionID)
	m.mu.Unlock()

	if ok && m.checkpointRepo != nil {
		if err := m.checkpointRepo.Delete(ctx, sessionID); err != nil {
			return fmt.Errorf("delete checkpoint %s: %w", sessionID, err)
		}
	}
	return nil
}

// IncompleteSession returns the checkpoint for a session, if any.
func (m *Manager) IncompleteSession(sessionID string) (*entity.IncompleteSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[sessionID]
	if !ok {
		return nil, false
	}
	c := *cp
	return &c, true
}

// IncompleteSessions returns every tracked checkpoint.
func (m *Manager) IncompleteSessions() []*entity.IncompleteSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entity.IncompleteSession, 0, len(m.checkpoints))
	for _, cp := range m.checkpoints {
		c := *cp
		out = append(out, &c)
	}
	return out
}

// HasIncompleteRun reports whether the session has a pending checkpoint.
func (m *Manager) HasIncompleteRun(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.checkpoints[sessionID]
	return ok
}

// Teardown clears in-memory error state. Checkpoints are durable and stay.
func (m *Manager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = make(map[string][]*RunError)
	m.active = make(map[string]string)
}

func (m *Manager) findLocked(sessionID, errorID string) *RunError {
	for _, runErr := range m.history[sessionID] {
		if runErr.ID == errorID {
			return runErr
		}
	}
	return nil
}

func (e *RunError) clone() *RunError {
	c := *e
	if e.NextRetryAt != nil {
		t := *e.NextRetryAt
		c.NextRetryAt = &t
	}
	return &c
}
