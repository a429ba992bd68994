package ledger

import (
	"errors"
	"fmt"
	"sync"

	"agent-console-be/internal/pkg/logger"
)

var ErrMessageNotFound = errors.New("message not found")

// Ledger is the ordered per-session message log. Message bodies are never
// persisted; the history collaborator replays them via SetMessages after a
// restart.
type Ledger struct {
	mu       sync.RWMutex
	messages map[string][]Message // keyed by session id
	logger   logger.ILogger
}

func NewLedger(log logger.ILogger) *Ledger {
	return &Ledger{
		messages: make(map[string][]Message),
		logger:   log,
	}
}

// AddMessage appends msg to the session log. A duplicate id is logged and
// dropped; bulk-load dedup is the contract of SetMessages, incremental
// append keeps the same guarantee.
func (l *Ledger) AddMessage(sessionID string, msg Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.messages[sessionID] {
		if existing.ID == msg.ID {
			l.logger.Warn("MessageLedger", "Dropping duplicate message", map[string]interface{}{
				"session_id": sessionID,
				"message_id": msg.ID,
			})
			return nil
		}
	}
	l.messages[sessionID] = append(l.messages[sessionID], msg)
	return nil
}

// UpdateMessage applies a partial update in place.
func (l *Ledger) UpdateMessage(sessionID, messageID string, patch Patch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	msgs := l.messages[sessionID]
	for i := range msgs {
		if msgs[i].ID != messageID {
			continue
		}
		updated := msgs[i]
		if patch.Content != nil {
			updated.Content = *patch.Content
		}
		if patch.Actions != nil {
			updated.Actions = *patch.Actions
		}
		if patch.Attachments != nil {
			updated.Attachments = *patch.Attachments
		}
		if patch.AgentID != nil {
			updated.AgentID = *patch.AgentID
		}
		if patch.AgentName != nil {
			updated.AgentName = *patch.AgentName
		}
		msgs[i] = updated
		return nil
	}
	return fmt.Errorf("%w: %s in session %s", ErrMessageNotFound, messageID, sessionID)
}

// DeleteMessage removes one message from the session log.
func (l *Ledger) DeleteMessage(sessionID, messageID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	msgs := l.messages[sessionID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			l.messages[sessionID] = append(msgs[:i:i], msgs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s in session %s", ErrMessageNotFound, messageID, sessionID)
}

// SetMessages bulk-replaces the session log, deduplicating by id with first
// occurrence winning. Overlapping history pages are the usual source of
// duplicates; discarded ids are logged for diagnosis. Returns the kept count.
func (l *Ledger) SetMessages(sessionID string, list []Message) int {
	seen := make(map[string]struct{}, len(list))
	deduped := make([]Message, 0, len(list))
	var discarded []string

	for _, msg := range list {
		if _, dup := seen[msg.ID]; dup {
			discarded = append(discarded, msg.ID)
			continue
		}
		seen[msg.ID] = struct{}{}
		deduped = append(deduped, msg)
	}

	if len(discarded) > 0 {
		l.logger.Warn("MessageLedger", "Discarded duplicate messages on bulk load", map[string]interface{}{
			"session_id":    sessionID,
			"discarded_ids": discarded,
			"discarded":     len(discarded),
			"kept":          len(deduped),
		})
	}

	l.mu.Lock()
	l.messages[sessionID] = deduped
	l.mu.Unlock()
	return len(deduped)
}

// ClearMessages drops the whole session log. Explicit session clear is the
// only way messages are deleted wholesale.
func (l *Ledger) ClearMessages(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.messages, sessionID)
}

// AppendToMessage applies a streaming token delta. The stored message is
// replaced by a fresh value whose content is the old content plus delta, so
// identity-based change detection downstream reliably fires.
func (l *Ledger) AppendToMessage(sessionID, messageID, delta string) (Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msgs := l.messages[sessionID]
	for i := range msgs {
		if msgs[i].ID != messageID {
			continue
		}
		next := msgs[i]
		next.Content = next.Content + delta
		msgs[i] = next
		return next, nil
	}
	return Message{}, fmt.Errorf("%w: %s in session %s", ErrMessageNotFound, messageID, sessionID)
}

// Messages returns a copy of the session log in arrival order.
func (l *Ledger) Messages(sessionID string) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	msgs := l.messages[sessionID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Get returns a single message by id.
func (l *Ledger) Get(sessionID, messageID string) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, msg := range l.messages[sessionID] {
		if msg.ID == messageID {
			return msg, true
		}
	}
	return Message{}, false
}

// Teardown clears every session log.
func (l *Ledger) Teardown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = make(map[string][]Message)
}
