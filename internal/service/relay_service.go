package service

import (
	"context"
	"errors"
	"time"

	"agent-console-be/internal/dto"
	"agent-console-be/internal/entity"
	"agent-console-be/internal/pkg/logger"
	"agent-console-be/internal/websocket"
	"agent-console-be/pkg/events"
	"agent-console-be/pkg/relay/failure"
	"agent-console-be/pkg/relay/ledger"
	"agent-console-be/pkg/relay/registry"
	"agent-console-be/pkg/relay/stream"
	"agent-console-be/pkg/relay/timeline"

	"github.com/google/uuid"
)

var ErrNoIncompleteRun = errors.New("no incomplete run for session")

type IRelayService interface {
	SendMessage(ctx context.Context, sessionID string, req *dto.SendMessageRequest) (*dto.SendMessageResponse, error)
	ScheduleRetry(ctx context.Context, runErr *failure.RunError)
	Resume(ctx context.Context, sessionID string) error
	Discard(ctx context.Context, sessionID string) error
	ClearSession(ctx context.Context, sessionID string) error
	Recover(ctx context.Context) error

	Messages(sessionID string) []ledger.Message
	StreamState(sessionID string) *dto.StreamStateResponse
	Timeline(sessionID string) *dto.TimelineResponse
	Events(sessionID string) []timeline.RunEvent
	SetCompleted(sessionID string, completed *bool)
	ActiveError(sessionID string) *dto.ActiveErrorResponse
	ErrorHistory(sessionID string) []*failure.RunError
	IncompleteSessions() []*entity.IncompleteSession
	RetrySettings() entity.RetrySettings
	UpdateRetrySettings(ctx context.Context, settings entity.RetrySettings) error
}

// relayService fronts the relay partitions for callers and owns the retry
// loop. Retry timers re-validate the error id against the active pointer
// when they fire, so clearing an error cancels its pending retry without
// timer bookkeeping.
type relayService struct {
	sessions  *registry.Manager
	messages  *ledger.Ledger
	streams   *stream.Coordinator
	timelines *timeline.Aggregator
	failures  *failure.Manager

	transport      TransportRequester
	hub            *websocket.Hub
	eventPublisher EventPublisher
	log            logger.ILogger

	afterFunc func(d time.Duration, f func()) // time.AfterFunc, swappable in tests
}

func NewRelayService(
	sessions *registry.Manager,
	messages *ledger.Ledger,
	streams *stream.Coordinator,
	timelines *timeline.Aggregator,
	failures *failure.Manager,
	transport TransportRequester,
	hub *websocket.Hub,
	eventPublisher EventPublisher,
	log logger.ILogger,
) IRelayService {
	return &relayService{
		sessions:       sessions,
		messages:       messages,
		streams:        streams,
		timelines:      timelines,
		failures:       failures,
		transport:      transport,
		hub:            hub,
		eventPublisher: eventPublisher,
		log:            log,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// SendMessage records the user message and an empty agent placeholder, takes
// the streaming slot for the placeholder, checkpoints the run, then hands the
// request to the transport.
func (rs *relayService) SendMessage(ctx context.Context, sessionID string, req *dto.SendMessageRequest) (*dto.SendMessageResponse, error) {
	now := time.Now()
	userMsg := ledger.Message{
		ID:        uuid.NewString(),
		Sender:    ledger.SenderUser,
		Content:   req.Content,
		Timestamp: now,
	}
	agentMsg := ledger.Message{
		ID:        uuid.NewString(),
		Sender:    ledger.SenderAgent,
		Timestamp: now,
	}
	if err := rs.messages.AddMessage(sessionID, userMsg); err != nil {
		return nil, err
	}
	if err := rs.messages.AddMessage(sessionID, agentMsg); err != nil {
		return nil, err
	}
	rs.hub.Notify(sessionID, websocket.SliceMessages, userMsg)
	rs.hub.Notify(sessionID, websocket.SliceMessages, agentMsg)

	rs.streams.SetStreaming(ctx, sessionID, agentMsg.ID)
	rs.streams.SetTyping(ctx, sessionID, true)
	rs.notifyStream(sessionID)

	if err := rs.failures.TrackIncompleteSession(ctx, &entity.IncompleteSession{
		SessionID:       sessionID,
		AgentMessageID:  agentMsg.ID,
		OriginalMessage: req.Content,
		RunnerID:        req.RunnerID,
		RunnerType:      req.RunnerType,
		StartedAt:       now,
		LastState:       entity.RunStateStreaming,
	}); err != nil {
		rs.log.Warn("RelayService", "Failed to checkpoint outgoing run", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}

	if err := rs.transport.Dispatch(ctx, TransportRequest{
		SessionID:      sessionID,
		AgentMessageID: agentMsg.ID,
		Content:        req.Content,
		RunnerID:       req.RunnerID,
		RunnerType:     req.RunnerType,
	}); err != nil {
		rs.handleDispatchFailure(ctx, sessionID, agentMsg.ID, req.Content, err)
	}

	return &dto.SendMessageResponse{
		UserMessageID:  userMsg.ID,
		AgentMessageID: agentMsg.ID,
	}, nil
}

// handleDispatchFailure records a synchronous transport rejection through the
// failure partition and arms the retry loop when the classification allows.
func (rs *relayService) handleDispatchFailure(ctx context.Context, sessionID, agentMessageID, originalMessage string, dispatchErr error) {
	statusCode := 0
	msg := dispatchErr.Error()
	var te *TransportError
	if errors.As(dispatchErr, &te) {
		statusCode = te.StatusCode
		msg = te.Message
	}

	runErr := rs.failures.AddError(failure.Input{
		SessionID:       sessionID,
		AgentMessageID:  agentMessageID,
		OriginalMessage: originalMessage,
		Message:         msg,
		StatusCode:      statusCode,
	})

	rs.streams.Clear(ctx, sessionID)
	rs.notifyStream(sessionID)

	state := entity.RunStateError
	if err := rs.failures.UpdateIncompleteSession(ctx, sessionID, failure.CheckpointPatch{LastState: &state}); err != nil {
		rs.log.Warn("RelayService", "Failed to checkpoint error state", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}

	if err := rs.eventPublisher.Publish(ctx, events.NewRunFailed(
		sessionID, runErr.ID, string(runErr.Category), runErr.IsRetriable,
	)); err != nil {
		rs.log.Error("RelayService", "Failed to publish run failed event", map[string]interface{}{"error": err.Error()})
	}
	rs.hub.Notify(sessionID, websocket.SliceError, runErr)

	if runErr.IsRetriable && runErr.RetryCount < runErr.MaxRetries {
		rs.ScheduleRetry(ctx, runErr)
	}
}

// ScheduleRetry arms a backoff timer for a retriable error and records the
// attempt on the record, so the query surface can show the countdown until
// the next dispatch. The timer only acts if the error is still the session's
// active error when it fires.
func (rs *relayService) ScheduleRetry(ctx context.Context, runErr *failure.RunError) {
	if runErr.RetryCount >= runErr.MaxRetries {
		return
	}
	delay := rs.failures.CalculateRetryDelay(runErr.RetryCount)
	nextRetryAt := time.Now().Add(delay)
	sessionID, errorID := runErr.SessionID, runErr.ID
	attempt := runErr.RetryCount + 1

	if err := rs.failures.UpdateRetryAttempt(sessionID, errorID, &nextRetryAt); err != nil {
		rs.log.Error("RelayService", "Failed to record retry attempt", map[string]interface{}{"error": err.Error()})
		return
	}
	rs.hub.Notify(sessionID, websocket.SliceError, rs.failures.ActiveError(sessionID))

	rs.log.Info("RelayService", "Retry scheduled", map[string]interface{}{
		"session_id":    sessionID,
		"error_id":      errorID,
		"attempt":       attempt,
		"delay_ms":      delay.Milliseconds(),
		"next_retry_at": nextRetryAt,
	})
	if err := rs.eventPublisher.Publish(ctx, events.NewRunRetryScheduled(sessionID, errorID, attempt, delay.Milliseconds())); err != nil {
		rs.log.Error("RelayService", "Failed to publish retry scheduled event", map[string]interface{}{"error": err.Error()})
	}

	rs.afterFunc(delay, func() {
		rs.executeRetry(context.Background(), sessionID, errorID)
	})
}

func (rs *relayService) executeRetry(ctx context.Context, sessionID, errorID string) {
	if !rs.failures.IsActive(sessionID, errorID) {
		rs.log.Info("RelayService", "Retry skipped, error no longer active", map[string]interface{}{
			"session_id": sessionID,
			"error_id":   errorID,
		})
		return
	}
	runErr := rs.failures.ActiveError(sessionID)
	if runErr == nil {
		return
	}

	if err := rs.failures.MarkRetrying(sessionID, errorID); err != nil {
		return
	}
	rs.hub.Notify(sessionID, websocket.SliceError, rs.failures.ActiveError(sessionID))

	// Re-arm the streaming slot so the replayed run lands in the same
	// placeholder message.
	rs.streams.SetStreaming(ctx, sessionID, runErr.AgentMessageID)
	rs.streams.SetTyping(ctx, sessionID, true)
	rs.notifyStream(sessionID)

	state := entity.RunStateStreaming
	if err := rs.failures.UpdateIncompleteSession(ctx, sessionID, failure.CheckpointPatch{LastState: &state}); err != nil {
		rs.log.Warn("RelayService", "Failed to checkpoint retry", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}

	dispatchErr := rs.transport.Dispatch(ctx, TransportRequest{
		SessionID:      sessionID,
		AgentMessageID: runErr.AgentMessageID,
		Content:        runErr.OriginalMessage,
	})
	if dispatchErr == nil {
		rs.failures.ClearRetrying(sessionID, errorID)
		rs.hub.Notify(sessionID, websocket.SliceError, rs.failures.ActiveError(sessionID))
		return
	}

	rs.streams.Clear(ctx, sessionID)
	rs.notifyStream(sessionID)

	if runErr.RetryCount < runErr.MaxRetries {
		rs.ScheduleRetry(ctx, runErr)
		return
	}
	rs.failures.ClearRetrying(sessionID, errorID)
	rs.hub.Notify(sessionID, websocket.SliceError, rs.failures.ActiveError(sessionID))
	rs.log.Warn("RelayService", "Retries exhausted", map[string]interface{}{
		"session_id": sessionID,
		"error_id":   errorID,
	})
}

// Resume replays an incomplete run from its checkpoint.
func (rs *relayService) Resume(ctx context.Context, sessionID string) error {
	cp, ok := rs.failures.IncompleteSession(sessionID)
	if !ok {
		return ErrNoIncompleteRun
	}

	rs.failures.ClearActive(sessionID)
	rs.hub.Notify(sessionID, websocket.SliceError, nil)

	rs.streams.SetStreaming(ctx, sessionID, cp.AgentMessageID)
	rs.streams.SetTyping(ctx, sessionID, true)
	rs.notifyStream(sessionID)

	state := entity.RunStateStreaming
	if err := rs.failures.UpdateIncompleteSession(ctx, sessionID, failure.CheckpointPatch{LastState: &state}); err != nil {
		rs.log.Warn("RelayService", "Failed to checkpoint resume", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}

	if err := rs.eventPublisher.Publish(ctx, events.NewRunResumed(sessionID)); err != nil {
		rs.log.Error("RelayService", "Failed to publish resume event", map[string]interface{}{"error": err.Error()})
	}

	if err := rs.transport.Dispatch(ctx, TransportRequest{
		SessionID:      sessionID,
		AgentMessageID: cp.AgentMessageID,
		Content:        cp.OriginalMessage,
		RunnerID:       cp.RunnerID,
		RunnerType:     cp.RunnerType,
	}); err != nil {
		rs.handleDispatchFailure(ctx, sessionID, cp.AgentMessageID, cp.OriginalMessage, err)
	}
	return nil
}

// Discard abandons an incomplete run: checkpoint gone, error cleared,
// streaming slot released.
func (rs *relayService) Discard(ctx context.Context, sessionID string) error {
	if !rs.failures.HasIncompleteRun(sessionID) {
		return ErrNoIncompleteRun
	}
	if err := rs.failures.RemoveIncompleteSession(ctx, sessionID); err != nil {
		return err
	}
	rs.failures.ClearActive(sessionID)
	rs.streams.Clear(ctx, sessionID)
	rs.notifyStream(sessionID)
	rs.hub.Notify(sessionID, websocket.SliceError, nil)

	if err := rs.eventPublisher.Publish(ctx, events.NewRunDiscarded(sessionID)); err != nil {
		rs.log.Error("RelayService", "Failed to publish discard event", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

// ClearSession wipes all per-session relay state across the partitions.
func (rs *relayService) ClearSession(ctx context.Context, sessionID string) error {
	rs.messages.ClearMessages(sessionID)
	rs.timelines.ClearSession(sessionID)
	rs.streams.Clear(ctx, sessionID)
	rs.failures.ClearActive(sessionID)
	if err := rs.failures.RemoveIncompleteSession(ctx, sessionID); err != nil {
		return err
	}

	rs.hub.Notify(sessionID, websocket.SliceMessages, []ledger.Message{})
	rs.notifyStream(sessionID)
	rs.hub.Notify(sessionID, websocket.SliceTimeline, rs.Timeline(sessionID))
	rs.hub.Notify(sessionID, websocket.SliceError, nil)
	return nil
}

// Recover restores durable state on boot: retry settings, incomplete-session
// checkpoints, the streaming/typing snapshot and the tab snapshot.
func (rs *relayService) Recover(ctx context.Context) error {
	if err := rs.failures.LoadState(ctx); err != nil {
		return err
	}
	if err := rs.streams.Restore(ctx); err != nil {
		rs.log.Warn("RelayService", "Stream snapshot restore failed", map[string]interface{}{"error": err.Error()})
	}
	if err := rs.sessions.Restore(ctx); err != nil {
		rs.log.Warn("RelayService", "Tab snapshot restore failed", map[string]interface{}{"error": err.Error()})
	}

	if pending := rs.failures.IncompleteSessions(); len(pending) > 0 {
		rs.log.Info("RelayService", "Incomplete runs awaiting resume or discard", map[string]interface{}{
			"count": len(pending),
		})
	}
	return nil
}

func (rs *relayService) Messages(sessionID string) []ledger.Message {
	return rs.messages.Messages(sessionID)
}

func (rs *relayService) StreamState(sessionID string) *dto.StreamStateResponse {
	return &dto.StreamStateResponse{
		IsStreaming:        rs.streams.IsStreaming(sessionID),
		StreamingMessageID: rs.streams.StreamingMessageID(sessionID),
		IsTyping:           rs.streams.IsTyping(sessionID),
	}
}

func (rs *relayService) Timeline(sessionID string) *dto.TimelineResponse {
	resp := &dto.TimelineResponse{
		Entries:     rs.timelines.Aggregate(sessionID),
		IsCompleted: rs.timelines.IsCompleted(sessionID),
		IsRunning:   rs.timelines.IsRunning(sessionID),
		DurationMS:  rs.timelines.Duration(sessionID),
	}
	if start, ok := rs.timelines.StartTime(sessionID); ok {
		resp.StartTime = &start
	}
	return resp
}

// Events returns the raw per-session event feed, unaggregated.
func (rs *relayService) Events(sessionID string) []timeline.RunEvent {
	return rs.timelines.Events(sessionID)
}

func (rs *relayService) SetCompleted(sessionID string, completed *bool) {
	rs.timelines.SetCompleted(sessionID, completed)
	rs.hub.Notify(sessionID, websocket.SliceTimeline, rs.Timeline(sessionID))
}

func (rs *relayService) ActiveError(sessionID string) *dto.ActiveErrorResponse {
	runErr := rs.failures.ActiveError(sessionID)
	resp := &dto.ActiveErrorResponse{Error: runErr}
	if runErr != nil {
		resp.RetryExhausted = runErr.RetryCount >= runErr.MaxRetries
	}
	return resp
}

func (rs *relayService) ErrorHistory(sessionID string) []*failure.RunError {
	return rs.failures.History(sessionID)
}

func (rs *relayService) IncompleteSessions() []*entity.IncompleteSession {
	return rs.failures.IncompleteSessions()
}

func (rs *relayService) RetrySettings() entity.RetrySettings {
	return rs.failures.Settings()
}

func (rs *relayService) UpdateRetrySettings(ctx context.Context, settings entity.RetrySettings) error {
	return rs.failures.UpdateSettings(ctx, settings)
}

func (rs *relayService) notifyStream(sessionID string) {
	rs.hub.Notify(sessionID, websocket.SliceStream, rs.StreamState(sessionID))
}
