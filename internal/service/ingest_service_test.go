package service

import (
	"context"
	"encoding/json"
	"sync"
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
	"agent-console-be/pkg/relay/stream"
	"agent-console-be/pkg/relay/timeline"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRunEventTopic = "TEST_RUN_EVENT"
	testTokenTopic    = "TEST_TOKEN_DELTA"
	testFailureTopic  = "TEST_RUN_FAILURE"
)

type retryRecorder struct {
	mu        sync.Mutex
	scheduled []*failure.RunError
}

func (r *retryRecorder) ScheduleRetry(_ context.Context, runErr *failure.RunError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, runErr)
}

func (r *retryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scheduled)
}

type lockedEvents struct {
	mu        sync.Mutex
	published []events.Event
}

func (c *lockedEvents) Publish(_ context.Context, event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, event)
	return nil
}

func (c *lockedEvents) has(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.published {
		if e.EventType() == eventType {
			return true
		}
	}
	return false
}

type ingestFixture struct {
	pubSub    *gochannel.GoChannel
	messages  *ledger.Ledger
	streams   *stream.Coordinator
	timelines *timeline.Aggregator
	failures  *failure.Manager
	events    *lockedEvents
	retries   *retryRecorder
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	log := logger.NewNopLogger()
	store := persistence.NewMemoryStore()

	f := &ingestFixture{
		pubSub:    gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}),
		messages:  ledger.NewLedger(log),
		streams:   stream.NewCoordinator(store, log),
		timelines: timeline.NewAggregator(log),
		failures:  failure.NewManager(nil, nil, log),
		events:    &lockedEvents{},
		retries:   &retryRecorder{},
	}
	t.Cleanup(f.timelines.Teardown)

	hub := websocket.NewHub(nil, log)
	ingest := NewIngestService(
		f.pubSub,
		testRunEventTopic, testTokenTopic, testFailureTopic,
		f.messages, f.streams, f.timelines, f.failures,
		hub, f.events, f.retries, log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, ingest.Consume(ctx))
	return f
}

func (f *ingestFixture) publish(t *testing.T, topic string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, NewPublisherService(topic, f.pubSub).Publish(context.Background(), raw))
}

func TestIngestAppendsTokenDeltasInOrder(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	require.NoError(t, f.messages.AddMessage("s1", ledger.Message{ID: "m1", Sender: ledger.SenderAgent}))
	f.streams.SetStreaming(ctx, "s1", "m1")
	f.streams.SetTyping(ctx, "s1", true)

	for _, delta := range []string{"Hel", "lo ", "world"} {
		f.publish(t, testTokenTopic, dto.PublishTokenDeltaMessage{SessionID: "s1", MessageID: "m1", Delta: delta})
	}

	require.Eventually(t, func() bool {
		msg, ok := f.messages.Get("s1", "m1")
		return ok && msg.Content == "Hello world"
	}, time.Second, 5*time.Millisecond)

	// First delta ends the typing phase.
	assert.False(t, f.streams.IsTyping("s1"))
	assert.True(t, f.streams.IsStreaming("s1"))
}

func TestIngestDropsDeltaWithoutMatchingSlot(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	require.NoError(t, f.messages.AddMessage("s1", ledger.Message{ID: "m1", Sender: ledger.SenderAgent}))
	// Slot points at a newer message.
	f.streams.SetStreaming(ctx, "s1", "m2")

	f.publish(t, testTokenTopic, dto.PublishTokenDeltaMessage{SessionID: "s1", MessageID: "m1", Delta: "stale"})

	// Give the consumer time to see it, then confirm nothing was written.
	time.Sleep(50 * time.Millisecond)
	msg, ok := f.messages.Get("s1", "m1")
	require.True(t, ok)
	assert.Empty(t, msg.Content)
}

func TestIngestTerminalEventFinishesRun(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	f.streams.SetStreaming(ctx, "s1", "m1")
	require.NoError(t, f.failures.TrackIncompleteSession(ctx, &entity.IncompleteSession{
		SessionID:      "s1",
		AgentMessageID: "m1",
		StartedAt:      time.Now(),
		LastState:      entity.RunStateStreaming,
	}))

	f.publish(t, testRunEventTopic, dto.PublishRunEventMessage{
		SessionID: "s1",
		Event:     dto.PushRunEventRequest{Type: "RunStarted", Timestamp: 1000},
	})
	f.publish(t, testRunEventTopic, dto.PublishRunEventMessage{
		SessionID: "s1",
		Event:     dto.PushRunEventRequest{Type: "RunCompleted", Timestamp: 4000},
	})

	require.Eventually(t, func() bool {
		return f.timelines.IsCompleted("s1") && !f.streams.IsStreaming("s1")
	}, time.Second, 5*time.Millisecond)

	assert.False(t, f.failures.HasIncompleteRun("s1"))
	assert.True(t, f.events.has(events.TypeRunCompleted))
	assert.Equal(t, int64(3000), f.timelines.Duration("s1"))
}

func TestIngestMiddleEventTouchesCheckpoint(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	require.NoError(t, f.failures.TrackIncompleteSession(ctx, &entity.IncompleteSession{
		SessionID:      "s1",
		AgentMessageID: "m1",
		StartedAt:      time.Now(),
		LastState:      entity.RunStateStreaming,
	}))

	f.publish(t, testRunEventTopic, dto.PublishRunEventMessage{
		SessionID: "s1",
		Event: dto.PushRunEventRequest{
			Type:      "ToolCallStarted",
			Timestamp: 2000,
			Data:      map[string]interface{}{"tool": "grep", "args": "-r relay"},
		},
	})

	require.Eventually(t, func() bool {
		cp, ok := f.failures.IncompleteSession("s1")
		return ok && cp.LastEventType == "ToolCallStarted"
	}, time.Second, 5*time.Millisecond)

	cp, ok := f.failures.IncompleteSession("s1")
	require.True(t, ok)
	require.NotNil(t, cp.LastEventAt)
	assert.Equal(t, int64(2000), cp.LastEventAt.UnixMilli())
	// The event payload rides along for resume diagnostics.
	assert.Equal(t, "grep", cp.Metadata["tool"])
}

func TestIngestStartEventBeginsTyping(t *testing.T) {
	f := newIngestFixture(t)

	f.publish(t, testRunEventTopic, dto.PublishRunEventMessage{
		SessionID: "s1",
		Event:     dto.PushRunEventRequest{Type: "AgentRunStarted", Timestamp: 1000},
	})

	require.Eventually(t, func() bool {
		return f.streams.IsTyping("s1")
	}, time.Second, 5*time.Millisecond)
	assert.True(t, f.timelines.IsRunning("s1"))
}

func TestIngestFailureRecordsErrorAndSchedulesRetry(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	f.streams.SetStreaming(ctx, "s1", "m1")
	require.NoError(t, f.failures.TrackIncompleteSession(ctx, &entity.IncompleteSession{
		SessionID:      "s1",
		AgentMessageID: "m1",
		StartedAt:      time.Now(),
		LastState:      entity.RunStateStreaming,
	}))

	f.publish(t, testFailureTopic, dto.PublishFailureMessage{
		SessionID:      "s1",
		Message:        "upstream unavailable",
		StatusCode:     503,
		AgentMessageID: "m1",
	})

	require.Eventually(t, func() bool {
		return f.failures.ActiveError("s1") != nil
	}, time.Second, 5*time.Millisecond)

	active := f.failures.ActiveError("s1")
	assert.Equal(t, failure.CategoryServer, active.Category)
	assert.True(t, active.IsRetriable)
	assert.False(t, f.streams.IsStreaming("s1"))

	cp, ok := f.failures.IncompleteSession("s1")
	require.True(t, ok)
	assert.Equal(t, entity.RunStateError, cp.LastState)

	require.Eventually(t, func() bool { return f.retries.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, f.events.has(events.TypeRunFailed))
}

func TestIngestNonRetriableFailureDoesNotSchedule(t *testing.T) {
	f := newIngestFixture(t)

	f.publish(t, testFailureTopic, dto.PublishFailureMessage{
		SessionID:  "s1",
		Message:    "bad credentials",
		StatusCode: 401,
	})

	require.Eventually(t, func() bool {
		return f.failures.ActiveError("s1") != nil
	}, time.Second, 5*time.Millisecond)

	active := f.failures.ActiveError("s1")
	assert.Equal(t, failure.CategoryAuth, active.Category)
	assert.False(t, active.IsRetriable)
	assert.Zero(t, f.retries.count())
}
