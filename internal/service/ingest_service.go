package service

import (
	"context"
	"encoding/json"
	"time"

	"agent-console-be/internal/dto"
	"agent-console-be/internal/entity"
	"agent-console-be/internal/pkg/logger"
	"agent-console-be/internal/websocket"
	"agent-console-be/pkg/events"
	"agent-console-be/pkg/relay/failure"
	"agent-console-be/pkg/relay/ledger"
	"agent-console-be/pkg/relay/stream"
	"agent-console-be/pkg/relay/timeline"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// EventPublisher is the outbound lifecycle-event port (NATS in production).
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// RetryScheduler arms a retry timer for a retriable run error. Implemented
// by RelayService; split out so the ingest consumer stays one-directional.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, runErr *failure.RunError)
}

type IIngestService interface {
	Consume(ctx context.Context) error
}

// ingestService is the single consumer of the relay ingest topics and the
// single writer into the ledger, stream, timeline and failure partitions.
// All mutation ordering guarantees hang off this being one goroutine per
// topic over an in-process channel.
type ingestService struct {
	pubSub         *gochannel.GoChannel
	runEventTopic  string
	tokenTopic     string
	failureTopic   string
	messages       *ledger.Ledger
	streams        *stream.Coordinator
	timelines      *timeline.Aggregator
	failures       *failure.Manager
	hub            *websocket.Hub
	eventPublisher EventPublisher
	retries        RetryScheduler
	log            logger.ILogger
}

func NewIngestService(
	pubSub *gochannel.GoChannel,
	runEventTopic string,
	tokenTopic string,
	failureTopic string,
	messages *ledger.Ledger,
	streams *stream.Coordinator,
	timelines *timeline.Aggregator,
	failures *failure.Manager,
	hub *websocket.Hub,
	eventPublisher EventPublisher,
	retries RetryScheduler,
	log logger.ILogger,
) IIngestService {
	return &ingestService{
		pubSub:         pubSub,
		runEventTopic:  runEventTopic,
		tokenTopic:     tokenTopic,
		failureTopic:   failureTopic,
		messages:       messages,
		streams:        streams,
		timelines:      timelines,
		failures:       failures,
		hub:            hub,
		eventPublisher: eventPublisher,
		retries:        retries,
		log:            log,
	}
}

func (is *ingestService) Consume(ctx context.Context) error {
	runEvents, err := is.pubSub.Subscribe(ctx, is.runEventTopic)
	if err != nil {
		return err
	}
	tokenDeltas, err := is.pubSub.Subscribe(ctx, is.tokenTopic)
	if err != nil {
		return err
	}
	failures, err := is.pubSub.Subscribe(ctx, is.failureTopic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range runEvents {
			is.processRunEvent(ctx, msg)
		}
	}()
	go func() {
		for msg := range tokenDeltas {
			is.processTokenDelta(ctx, msg)
		}
	}()
	go func() {
		for msg := range failures {
			is.processFailure(ctx, msg)
		}
	}()

	return nil
}

func (is *ingestService) processTokenDelta(ctx context.Context, msg *message.Message) {
	var payload dto.PublishTokenDeltaMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		is.log.Error("INGEST", "Failed to unmarshal token delta", map[string]interface{}{"error": err.Error()})
		msg.Ack()
		return
	}

	messageID := is.streams.StreamingMessageID(payload.SessionID)
	if messageID == "" || messageID != payload.MessageID {
		// Delta arrived after the run finished, or a newer run took the
		// streaming slot. Either way it has no destination anymore.
		is.log.Warn("INGEST", "Token delta with no matching streaming slot, dropping", map[string]interface{}{
			"session_id": payload.SessionID,
			"message_id": payload.MessageID,
		})
		msg.Ack()
		return
	}

	// First token ends the typing phase.
	if is.streams.IsTyping(payload.SessionID) {
		is.streams.SetTyping(ctx, payload.SessionID, false)
		is.notifyStream(payload.SessionID)
	}

	updated, err := is.messages.AppendToMessage(payload.SessionID, messageID, payload.Delta)
	if err != nil {
		is.log.Error("INGEST", "Streaming slot points at missing message", map[string]interface{}{
			"session_id": payload.SessionID,
			"message_id": messageID,
		})
		msg.Ack()
		return
	}

	is.hub.Notify(payload.SessionID, websocket.SliceMessages, updated)
	msg.Ack()
}

func (is *ingestService) processRunEvent(ctx context.Context, msg *message.Message) {
	var payload dto.PublishRunEventMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		is.log.Error("INGEST", "Failed to unmarshal run event", map[string]interface{}{"error": err.Error()})
		msg.Ack()
		return
	}

	ev := timeline.RunEvent{
		Type:      payload.Event.Type,
		Timestamp: payload.Event.Timestamp,
		Data:      payload.Event.Data,
	}
	is.timelines.AddEvent(payload.SessionID, ev)

	switch timeline.Classify(ev.Type) {
	case timeline.ClassStart:
		is.streams.SetTyping(ctx, payload.SessionID, true)
		is.notifyStream(payload.SessionID)
	case timeline.ClassEnd:
		is.finishRun(ctx, payload.SessionID)
	default:
		is.touchCheckpoint(ctx, payload.SessionID, ev)
	}

	is.hub.Notify(payload.SessionID, websocket.SliceTimeline, is.timelinePayload(payload.SessionID))
	msg.Ack()
}

func (is *ingestService) processFailure(ctx context.Context, msg *message.Message) {
	var payload dto.PublishFailureMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		is.log.Error("INGEST", "Failed to unmarshal failure", map[string]interface{}{"error": err.Error()})
		msg.Ack()
		return
	}

	runErr := is.failures.AddError(failure.Input{
		SessionID:       payload.SessionID,
		AgentMessageID:  payload.AgentMessageID,
		OriginalMessage: payload.OriginalMessage,
		Message:         payload.Message,
		StatusCode:      payload.StatusCode,
	})

	is.streams.Clear(ctx, payload.SessionID)
	is.notifyStream(payload.SessionID)

	state := entity.RunStateError
	if err := is.failures.UpdateIncompleteSession(ctx, payload.SessionID, failure.CheckpointPatch{
		LastState: &state,
	}); err != nil {
		is.log.Warn("INGEST", "Failed to checkpoint error state", map[string]interface{}{
			"session_id": payload.SessionID,
			"error":      err.Error(),
		})
	}

	if err := is.eventPublisher.Publish(ctx, events.NewRunFailed(
		runErr.SessionID, runErr.ID, string(runErr.Category), runErr.IsRetriable,
	)); err != nil {
		is.log.Error("INGEST", "Failed to publish run failed event", map[string]interface{}{"error": err.Error()})
	}

	is.hub.Notify(payload.SessionID, websocket.SliceError, runErr)

	if runErr.IsRetriable && runErr.RetryCount < runErr.MaxRetries {
		is.retries.ScheduleRetry(ctx, runErr)
	} else {
		is.log.Info("INGEST", "Failure is not retriable, waiting for manual action", map[string]interface{}{
			"session_id": runErr.SessionID,
			"category":   string(runErr.Category),
		})
	}

	msg.Ack()
}

// finishRun tears down the per-run transient state once a terminal event
// lands: the streaming slot, the typing flag, the incomplete-session
// checkpoint and the active error all go away.
func (is *ingestService) finishRun(ctx context.Context, sessionID string) {
	is.streams.Clear(ctx, sessionID)
	is.notifyStream(sessionID)

	is.failures.ClearActive(sessionID)
	is.hub.Notify(sessionID, websocket.SliceError, nil)

	if err := is.failures.RemoveIncompleteSession(ctx, sessionID); err != nil {
		is.log.Warn("INGEST", "Failed to remove checkpoint", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}

	if err := is.eventPublisher.Publish(ctx, events.NewRunCompleted(sessionID, is.timelines.Duration(sessionID))); err != nil {
		is.log.Error("INGEST", "Failed to publish run completed event", map[string]interface{}{"error": err.Error()})
	}
}

func (is *ingestService) touchCheckpoint(ctx context.Context, sessionID string, ev timeline.RunEvent) {
	if _, ok := is.failures.IncompleteSession(sessionID); !ok {
		return
	}
	at := time.UnixMilli(ev.Timestamp)
	if err := is.failures.UpdateIncompleteSession(ctx, sessionID, failure.CheckpointPatch{
		LastEventType: &ev.Type,
		LastEventAt:   &at,
		Metadata:      ev.Data,
	}); err != nil {
		is.log.Warn("INGEST", "Failed to touch checkpoint", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

func (is *ingestService) notifyStream(sessionID string) {
	is.hub.Notify(sessionID, websocket.SliceStream, dto.StreamStateResponse{
		IsStreaming:        is.streams.IsStreaming(sessionID),
		StreamingMessageID: is.streams.StreamingMessageID(sessionID),
		IsTyping:           is.streams.IsTyping(sessionID),
	})
}

func (is *ingestService) timelinePayload(sessionID string) dto.TimelineResponse {
	resp := dto.TimelineResponse{
		Entries:     is.timelines.Aggregate(sessionID),
		IsCompleted: is.timelines.IsCompleted(sessionID),
		IsRunning:   is.timelines.IsRunning(sessionID),
		DurationMS:  is.timelines.Duration(sessionID),
	}
	if start, ok := is.timelines.StartTime(sessionID); ok {
		resp.StartTime = &start
	}
	return resp
}
