package service

import (
	"context"
	"testing"
	"time"

	"agent-console-be/internal/dto"
	"agent-console-be/internal/pkg/logger"
	"agent-console-be/internal/websocket"
	"agent-console-be/pkg/persistence"
	"agent-console-be/pkg/relay/ledger"
	"agent-console-be/pkg/relay/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessionFixture(t *testing.T) (ISessionService, *registry.Manager, *ledger.Ledger) {
	t.Helper()
	log := logger.NewNopLogger()
	sessions := registry.NewManager(persistence.NewMemoryStore(), log)
	messages := ledger.NewLedger(log)
	hub := websocket.NewHub(nil, log)
	return NewSessionService(sessions, messages, hub, log), sessions, messages
}

func TestCreateTabConflictOnDuplicate(t *testing.T) {
	svc, _, _ := newSessionFixture(t)
	ctx := context.Background()

	created, err := svc.CreateTab(ctx, &dto.CreateTabRequest{TabID: "t1", SessionID: "s1", Title: "First"})
	require.NoError(t, err)
	assert.Equal(t, "s1", created.SessionID)

	_, err = svc.CreateTab(ctx, &dto.CreateTabRequest{TabID: "t1", SessionID: "s2"})
	assert.ErrorIs(t, err, registry.ErrTabAlreadyExists)
}

func TestLoadHistoryReplacesLedgerAndStampsFreshness(t *testing.T) {
	svc, sessions, messages := newSessionFixture(t)
	ctx := context.Background()

	_, err := svc.CreateTab(ctx, &dto.CreateTabRequest{TabID: "t1", SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, svc.NeedsHistoryLoad("t1"))

	now := time.Now()
	res, err := svc.LoadHistory(ctx, "t1", []ledger.Message{
		{ID: "m1", Sender: ledger.SenderUser, Content: "hi", Timestamp: now},
		{ID: "m2", Sender: ledger.SenderAgent, Content: "hello", Timestamp: now},
		{ID: "m1", Sender: ledger.SenderUser, Content: "dup", Timestamp: now},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Kept)
	assert.Equal(t, 1, res.Discarded)

	msgs := messages.Messages("s1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)

	assert.False(t, svc.NeedsHistoryLoad("t1"))

	session, ok := sessions.Get("t1")
	require.True(t, ok)
	assert.True(t, session.IsHistoryLoaded)
	assert.True(t, session.HistoryPreloaded)
}

func TestLoadHistoryUnknownTab(t *testing.T) {
	svc, _, _ := newSessionFixture(t)
	_, err := svc.LoadHistory(context.Background(), "ghost", nil)
	assert.ErrorIs(t, err, registry.ErrTabNotFound)
}

func TestDeleteTabClearsActivePointer(t *testing.T) {
	svc, sessions, _ := newSessionFixture(t)
	ctx := context.Background()

	_, err := svc.CreateTab(ctx, &dto.CreateTabRequest{TabID: "t1", SessionID: "s1"})
	require.NoError(t, err)
	svc.SetActiveSession(ctx, "s1")
	require.Equal(t, "s1", svc.ActiveSession())

	svc.DeleteTab(ctx, "t1")
	assert.Empty(t, svc.ActiveSession())
	_, ok := sessions.Get("t1")
	assert.False(t, ok)
}

func TestCreateTabFromSessionIsIdempotent(t *testing.T) {
	svc, _, _ := newSessionFixture(t)
	ctx := context.Background()

	first := svc.CreateTabFromSession(ctx, "s1", &dto.CreateTabFromSessionRequest{StageID: "stage-1", Title: "History"})
	assert.True(t, first.Created)

	second := svc.CreateTabFromSession(ctx, "s1", &dto.CreateTabFromSessionRequest{StageID: "stage-1"})
	assert.False(t, second.Created)
	assert.Equal(t, first.TabID, second.TabID)
}
