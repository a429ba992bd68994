package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agent-console-be/internal/pkg/logger"
	"agent-console-be/pkg/persistence"
)

const snapshotKey = "relay:stream"

// typingStaleAfter bounds how old a restored typing flag may be. A snapshot
// written minutes before a crash should not resurrect a stuck indicator.
const typingStaleAfter = 5 * time.Minute

// Snapshot is the durable slice of streaming state. Restoring it lets a
// client reconnecting after a reload still see "in progress" while the
// transport catches up; content itself is not persisted.
type Snapshot struct {
	StreamingBySession map[string]string `json:"streaming_by_session"`
	TypingBySession    map[string]bool   `json:"typing_by_session"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Coordinator tracks which message, if any, is actively streaming per
// session. The slot is a map keyed by session id, so a second SetStreaming
// replaces the previous slot by construction: at most one active streaming
// message per session.
type Coordinator struct {
	mu        sync.RWMutex
	streaming map[string]string // session id -> message id
	typing    map[string]bool

	store  persistence.Store
	logger logger.ILogger
	now    func() time.Time
}

// NewCoordinator creates the streaming partition. The store receives the
// durable streaming/typing snapshot; nil keeps the partition in memory only.
func NewCoordinator(store persistence.Store, log logger.ILogger) *Coordinator {
	return &Coordinator{
		streaming: make(map[string]string),
		typing:    make(map[string]bool),
		store:     store,
		logger:    log,
		now:       time.Now,
	}
}

// SetStreaming points the session's slot at messageID. An empty messageID
// clears the slot; other sessions are untouched.
func (c *Coordinator) SetStreaming(ctx context.Context, sessionID, messageID string) {
	c.mu.Lock()
	if messageID == "" {
		delete(c.streaming, sessionID)
	} else {
		c.streaming[sessionID] = messageID
	}
	c.mu.Unlock()
	c.persist(ctx)
}

// IsStreaming reports whether the session has an active streaming message.
func (c *Coordinator) IsStreaming(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.streaming[sessionID]
	return ok
}

// StreamingMessageID returns the active message id, empty when idle.
func (c *Coordinator) StreamingMessageID(sessionID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streaming[sessionID]
}

// SetTyping flips the typing indicator for a session.
func (c *Coordinator) SetTyping(ctx context.Context, sessionID string, typing bool) {
	c.mu.Lock()
	if typing {
		c.typing[sessionID] = true
	} else {
		delete(c.typing, sessionID)
	}
	c.mu.Unlock()
	c.persist(ctx)
}

// IsTyping reports the typing indicator for a session.
func (c *Coordinator) IsTyping(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.typing[sessionID]
}

// Clear drops both slots for a session, leaving other sessions untouched.
func (c *Coordinator) Clear(ctx context.Context, sessionID string) {
	c.mu.Lock()
	delete(c.streaming, sessionID)
	delete(c.typing, sessionID)
	c.mu.Unlock()
	c.persist(ctx)
}

// Restore rehydrates streaming/typing state after a restart. Typing flags
// older than five minutes are dropped instead of restored.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	var snap Snapshot
	found, err := c.store.Get(ctx, snapshotKey, &snap)
	if err != nil {
		return fmt.Errorf("restore stream snapshot: %w", err)
	}
	if !found {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for sessionID, messageID := range snap.StreamingBySession {
		c.streaming[sessionID] = messageID
	}
	if c.now().Sub(snap.UpdatedAt) < typingStaleAfter {
		for sessionID, typing := range snap.TypingBySession {
			if typing {
				c.typing[sessionID] = true
			}
		}
	}

	c.logger.Info("StreamingCoordinator", "Stream snapshot restored", map[string]interface{}{
		"streaming_sessions": len(snap.StreamingBySession),
	})
	return nil
}

// Teardown clears all streaming state and the persisted snapshot.
func (c *Coordinator) Teardown(ctx context.Context) {
	c.mu.Lock()
	c.streaming = make(map[string]string)
	c.typing = make(map[string]bool)
	c.mu.Unlock()
	if c.store != nil {
		if err := c.store.Delete(ctx, snapshotKey); err != nil {
			c.logger.Warn("StreamingCoordinator", "Failed to delete stream snapshot", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

func (c *Coordinator) persist(ctx context.Context) {
	if c.store == nil {
		return
	}
	c.mu.RLock()
	snap := Snapshot{
		StreamingBySession: make(map[string]string, len(c.streaming)),
		TypingBySession:    make(map[string]bool, len(c.typing)),
		UpdatedAt:          c.now(),
	}
	for sessionID, messageID := range c.streaming {
		snap.StreamingBySession[sessionID] = messageID
	}
	for sessionID, typing := range c.typing {
		snap.TypingBySession[sessionID] = typing
	}
	c.mu.RUnlock()

	if err := c.store.Put(ctx, snapshotKey, snap); err != nil {
		c.logger.Warn("StreamingCoordinator", "Failed to persist stream snapshot", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
