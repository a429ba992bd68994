package service

import (
	"context"
	"testing"
	"time"

	"agent-console-be/internal/dto"
	"agent-console-be/internal/entity"
	"agent-console-be/internal/pkg/logger"
	"agent-console-be/internal/websocket"
	"agent-console-be/pkg/events"
	"agent-console-be/pkg/persistence"
	"agent-console-be/pkg/relay/failure"
	"agent-console-be/pkg/relay/ledger"
	"agent-console-be/pkg/relay/registry"
	"agent-console-be/pkg/relay/stream"
	"agent-console-be/pkg/relay/timeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingTransport rejects the first failUntil dispatches with a 503 and
// accepts everything after.
type failingTransport struct {
	calls     []TransportRequest
	failUntil int
}

func (t *failingTransport) Dispatch(_ context.Context, req TransportRequest) error {
	t.calls = append(t.calls, req)
	if len(t.calls) <= t.failUntil {
		return &TransportError{StatusCode: 503, Message: "upstream unavailable"}
	}
	return nil
}

type capturedEvents struct {
	published []events.Event
}

func (c *capturedEvents) Publish(_ context.Context, event events.Event) error {
	c.published = append(c.published, event)
	return nil
}

func (c *capturedEvents) types() []string {
	out := make([]string, 0, len(c.published))
	for _, e := range c.published {
		out = append(out, e.EventType())
	}
	return out
}

type relayFixture struct {
	svc       *relayService
	transport *failingTransport
	events    *capturedEvents
	failures  *failure.Manager
	streams   *stream.Coordinator
	messages  *ledger.Ledger
	timelines *timeline.Aggregator
}

func newRelayFixture(t *testing.T, failUntil int) *relayFixture {
	t.Helper()
	log := logger.NewNopLogger()
	store := persistence.NewMemoryStore()

	f := &relayFixture{
		transport: &failingTransport{failUntil: failUntil},
		events:    &capturedEvents{},
		failures:  failure.NewManager(nil, nil, log),
		streams:   stream.NewCoordinator(store, log),
		messages:  ledger.NewLedger(log),
		timelines: timeline.NewAggregator(log),
	}
	t.Cleanup(f.timelines.Teardown)

	sessions := registry.NewManager(store, log)
	hub := websocket.NewHub(nil, log)

	svc := NewRelayService(
		sessions, f.messages, f.streams, f.timelines, f.failures,
		f.transport, hub, f.events, log,
	).(*relayService)
	// Retry timers fire synchronously so the test sees the whole loop.
	svc.afterFunc = func(_ time.Duration, fn func()) { fn() }
	f.svc = svc
	return f
}

func TestSendMessageRecordsPairAndTakesSlot(t *testing.T) {
	f := newRelayFixture(t, 0)

	res, err := f.svc.SendMessage(context.Background(), "s1", &dto.SendMessageRequest{Content: "hello"})
	require.NoError(t, err)

	msgs := f.messages.Messages("s1")
	require.Len(t, msgs, 2)
	assert.Equal(t, ledger.SenderUser, msgs[0].Sender)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, ledger.SenderAgent, msgs[1].Sender)
	assert.Empty(t, msgs[1].Content)

	assert.True(t, f.streams.IsStreaming("s1"))
	assert.Equal(t, res.AgentMessageID, f.streams.StreamingMessageID("s1"))
	assert.True(t, f.streams.IsTyping("s1"))

	cp, ok := f.failures.IncompleteSession("s1")
	require.True(t, ok)
	assert.Equal(t, res.AgentMessageID, cp.AgentMessageID)
	assert.Equal(t, entity.RunStateStreaming, cp.LastState)

	require.Len(t, f.transport.calls, 1)
	assert.Equal(t, "hello", f.transport.calls[0].Content)
}

func TestDispatchFailureRetriesUntilSuccess(t *testing.T) {
	// First dispatch and first retry fail, second retry succeeds.
	f := newRelayFixture(t, 2)

	_, err := f.svc.SendMessage(context.Background(), "s1", &dto.SendMessageRequest{Content: "hello"})
	require.NoError(t, err)

	// initial send + 2 retries
	assert.Len(t, f.transport.calls, 3)

	active := f.failures.ActiveError("s1")
	require.NotNil(t, active)
	assert.Equal(t, failure.CategoryServer, active.Category)
	assert.Equal(t, 2, active.RetryCount)
	assert.False(t, active.IsRetrying)

	// The successful redispatch re-armed the streaming slot.
	assert.True(t, f.streams.IsStreaming("s1"))

	assert.Contains(t, f.events.types(), events.TypeRunFailed)
	assert.Contains(t, f.events.types(), events.TypeRunRetryScheduled)
}

func TestRetryAttemptStoresNextRetryAt(t *testing.T) {
	// Initial dispatch fails, the single retry succeeds.
	f := newRelayFixture(t, 1)
	f.failures.SetJitter(func() float64 { return 0 })

	before := time.Now()
	_, err := f.svc.SendMessage(context.Background(), "s1", &dto.SendMessageRequest{Content: "hello"})
	require.NoError(t, err)

	active := f.failures.ActiveError("s1")
	require.NotNil(t, active)
	assert.Equal(t, 1, active.RetryCount)

	// With zero jitter the first attempt is scheduled exactly one base
	// delay out, and the record carries that instant for the countdown.
	require.NotNil(t, active.NextRetryAt)
	assert.WithinDuration(t, before.Add(time.Second), *active.NextRetryAt, 500*time.Millisecond)
	assert.False(t, active.IsRetrying)
}

func TestRetriesExhaustAtMaxAndStop(t *testing.T) {
	// Never succeeds: initial send + maxRetries attempts, then silence.
	f := newRelayFixture(t, 100)

	_, err := f.svc.SendMessage(context.Background(), "s1", &dto.SendMessageRequest{Content: "hello"})
	require.NoError(t, err)

	assert.Len(t, f.transport.calls, 1+3)

	active := f.failures.ActiveError("s1")
	require.NotNil(t, active)
	assert.Equal(t, active.MaxRetries, active.RetryCount)
	// Retriability is a property of the classification, not of exhaustion.
	assert.True(t, active.IsRetriable)
}

func TestClearedErrorCancelsPendingRetry(t *testing.T) {
	f := newRelayFixture(t, 100)
	var pending func()
	f.svc.afterFunc = func(_ time.Duration, fn func()) { pending = fn }

	_, err := f.svc.SendMessage(context.Background(), "s1", &dto.SendMessageRequest{Content: "hello"})
	require.NoError(t, err)
	require.NotNil(t, pending)

	// Error is cleared before the timer fires; the callback must not
	// redispatch.
	f.failures.ClearActive("s1")
	pending()

	assert.Len(t, f.transport.calls, 1)
}

func TestResumeRedispatchesFromCheckpoint(t *testing.T) {
	f := newRelayFixture(t, 0)

	res, err := f.svc.SendMessage(context.Background(), "s1", &dto.SendMessageRequest{Content: "hello", RunnerID: "agent-7"})
	require.NoError(t, err)

	// Simulate a restart: streaming slot lost, checkpoint kept.
	f.streams.Clear(context.Background(), "s1")

	require.NoError(t, f.svc.Resume(context.Background(), "s1"))

	require.Len(t, f.transport.calls, 2)
	assert.Equal(t, res.AgentMessageID, f.transport.calls[1].AgentMessageID)
	assert.Equal(t, "hello", f.transport.calls[1].Content)
	assert.Equal(t, "agent-7", f.transport.calls[1].RunnerID)
	assert.True(t, f.streams.IsStreaming("s1"))
	assert.Contains(t, f.events.types(), events.TypeRunResumed)
}

func TestResumeWithoutCheckpointFails(t *testing.T) {
	f := newRelayFixture(t, 0)
	assert.ErrorIs(t, f.svc.Resume(context.Background(), "ghost"), ErrNoIncompleteRun)
}

func TestDiscardDropsCheckpointAndState(t *testing.T) {
	f := newRelayFixture(t, 0)

	_, err := f.svc.SendMessage(context.Background(), "s1", &dto.SendMessageRequest{Content: "hello"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Discard(context.Background(), "s1"))

	assert.False(t, f.failures.HasIncompleteRun("s1"))
	assert.False(t, f.streams.IsStreaming("s1"))
	assert.Contains(t, f.events.types(), events.TypeRunDiscarded)

	assert.ErrorIs(t, f.svc.Discard(context.Background(), "s1"), ErrNoIncompleteRun)
}

func TestClearSessionWipesAllPartitions(t *testing.T) {
	f := newRelayFixture(t, 0)

	_, err := f.svc.SendMessage(context.Background(), "s1", &dto.SendMessageRequest{Content: "hello"})
	require.NoError(t, err)
	f.timelines.AddEvent("s1", timeline.RunEvent{Type: "RunContent", Timestamp: 1000})

	require.NoError(t, f.svc.ClearSession(context.Background(), "s1"))

	assert.Empty(t, f.messages.Messages("s1"))
	assert.Empty(t, f.timelines.Events("s1"))
	assert.False(t, f.streams.IsStreaming("s1"))
	assert.False(t, f.failures.HasIncompleteRun("s1"))
	assert.Nil(t, f.failures.ActiveError("s1"))
}

func TestEventsReturnsRawFeedInArrivalOrder(t *testing.T) {
	f := newRelayFixture(t, 0)

	f.timelines.AddEvent("s1", timeline.RunEvent{Type: "RunStarted", Timestamp: 0})
	f.timelines.AddEvent("s1", timeline.RunEvent{Type: "ToolCallStarted", Timestamp: 1, Data: map[string]interface{}{"tool": "grep"}})
	f.timelines.AddEvent("s1", timeline.RunEvent{Type: "ToolCallCompleted", Timestamp: 2})

	raw := f.svc.Events("s1")
	require.Len(t, raw, 3)
	assert.Equal(t, "RunStarted", raw[0].Type)
	assert.Equal(t, "ToolCallStarted", raw[1].Type)
	assert.Equal(t, "grep", raw[1].Data["tool"])

	assert.Empty(t, f.svc.Events("s2"))
}

func TestActiveErrorReportsExhaustion(t *testing.T) {
	f := newRelayFixture(t, 100)

	_, err := f.svc.SendMessage(context.Background(), "s1", &dto.SendMessageRequest{Content: "hello"})
	require.NoError(t, err)

	res := f.svc.ActiveError("s1")
	require.NotNil(t, res.Error)
	assert.True(t, res.RetryExhausted)

	// A session without errors reports neither.
	clean := f.svc.ActiveError("s2")
	assert.Nil(t, clean.Error)
	assert.False(t, clean.RetryExhausted)
}
