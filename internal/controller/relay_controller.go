package controller

import (
	"encoding/json"
	"errors"

	"agent-console-be/internal/dto"
	"agent-console-be/internal/entity"
	"agent-console-be/internal/pkg/serverutils"
	"agent-console-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IRelayController interface {
	RegisterRoutes(r fiber.Router)
	PushRunEvent(ctx *fiber.Ctx) error
	PushTokenDelta(ctx *fiber.Ctx) error
	PushFailure(ctx *fiber.Ctx) error
	SendMessage(ctx *fiber.Ctx) error
	GetMessages(ctx *fiber.Ctx) error
	ClearMessages(ctx *fiber.Ctx) error
	GetStreamState(ctx *fiber.Ctx) error
	GetTimeline(ctx *fiber.Ctx) error
	GetRunEvents(ctx *fiber.Ctx) error
	SetCompleted(ctx *fiber.Ctx) error
	GetActiveError(ctx *fiber.Ctx) error
	GetErrorHistory(ctx *fiber.Ctx) error
	GetIncompleteSessions(ctx *fiber.Ctx) error
	Resume(ctx *fiber.Ctx) error
	Discard(ctx *fiber.Ctx) error
	GetRetrySettings(ctx *fiber.Ctx) error
	UpdateRetrySettings(ctx *fiber.Ctx) error
}

type relayController struct {
	relayService      service.IRelayService
	runEventPublisher service.IPublisherService
	tokenPublisher    service.IPublisherService
	failurePublisher  service.IPublisherService
}

func NewRelayController(
	relayService service.IRelayService,
	runEventPublisher service.IPublisherService,
	tokenPublisher service.IPublisherService,
	failurePublisher service.IPublisherService,
) IRelayController {
	return &relayController{
		relayService:      relayService,
		runEventPublisher: runEventPublisher,
		tokenPublisher:    tokenPublisher,
		failurePublisher:  failurePublisher,
	}
}

func (c *relayController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/relay/v1")
	h.Use(serverutils.JwtMiddleware)

	// Transport callbacks
	h.Post("sessions/:sessionId/events", c.PushRunEvent)
	h.Post("sessions/:sessionId/messages/:messageId/delta", c.PushTokenDelta)
	h.Post("sessions/:sessionId/failures", c.PushFailure)

	// Conversation
	h.Post("sessions/:sessionId/messages", c.SendMessage)
	h.Get("sessions/:sessionId/messages", c.GetMessages)
	h.Delete("sessions/:sessionId/messages", c.ClearMessages)

	// Run state
	h.Get("sessions/:sessionId/stream", c.GetStreamState)
	h.Get("sessions/:sessionId/timeline", c.GetTimeline)
	h.Get("sessions/:sessionId/events", c.GetRunEvents)
	h.Put("sessions/:sessionId/completed", c.SetCompleted)

	// Errors and recovery
	h.Get("sessions/incomplete", c.GetIncompleteSessions)
	h.Get("sessions/:sessionId/error", c.GetActiveError)
	h.Get("sessions/:sessionId/errors", c.GetErrorHistory)
	h.Post("sessions/:sessionId/resume", c.Resume)
	h.Post("sessions/:sessionId/discard", c.Discard)

	h.Get("settings/retry", c.GetRetrySettings)
	h.Put("settings/retry", c.UpdateRetrySettings)
}

func (c *relayController) PushRunEvent(ctx *fiber.Ctx) error {
	var req dto.PushRunEventRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	payload, err := json.Marshal(dto.PublishRunEventMessage{
		SessionID: ctx.Params("sessionId"),
		Event:     req,
	})
	if err != nil {
		return err
	}
	if err := c.runEventPublisher.Publish(ctx.Context(), payload); err != nil {
		return err
	}
	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Run event accepted", nil))
}

func (c *relayController) PushTokenDelta(ctx *fiber.Ctx) error {
	var req dto.PushTokenDeltaRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	payload, err := json.Marshal(dto.PublishTokenDeltaMessage{
		SessionID: ctx.Params("sessionId"),
		MessageID: ctx.Params("messageId"),
		Delta:     req.Delta,
	})
	if err != nil {
		return err
	}
	if err := c.tokenPublisher.Publish(ctx.Context(), payload); err != nil {
		return err
	}
	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Token delta accepted", nil))
}

func (c *relayController) PushFailure(ctx *fiber.Ctx) error {
	var req dto.PushFailureRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	payload, err := json.Marshal(dto.PublishFailureMessage{
		SessionID:       ctx.Params("sessionId"),
		Message:         req.Message,
		StatusCode:      req.StatusCode,
		AgentMessageID:  req.AgentMessageID,
		OriginalMessage: req.OriginalMessage,
	})
	if err != nil {
		return err
	}
	if err := c.failurePublisher.Publish(ctx.Context(), payload); err != nil {
		return err
	}
	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Failure accepted", nil))
}

func (c *relayController) SendMessage(ctx *fiber.Ctx) error {
	var req dto.SendMessageRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.relayService.SendMessage(ctx.Context(), ctx.Params("sessionId"), &req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success send message", res))
}

func (c *relayController) GetMessages(ctx *fiber.Ctx) error {
	res := c.relayService.Messages(ctx.Params("sessionId"))
	return ctx.JSON(serverutils.SuccessResponse("Success get messages", res))
}

func (c *relayController) ClearMessages(ctx *fiber.Ctx) error {
	if err := c.relayService.ClearSession(ctx.Context(), ctx.Params("sessionId")); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success clear session", nil))
}

func (c *relayController) GetStreamState(ctx *fiber.Ctx) error {
	res := c.relayService.StreamState(ctx.Params("sessionId"))
	return ctx.JSON(serverutils.SuccessResponse("Success get stream state", res))
}

func (c *relayController) GetTimeline(ctx *fiber.Ctx) error {
	res := c.relayService.Timeline(ctx.Params("sessionId"))
	return ctx.JSON(serverutils.SuccessResponse("Success get timeline", res))
}

func (c *relayController) GetRunEvents(ctx *fiber.Ctx) error {
	res := c.relayService.Events(ctx.Params("sessionId"))
	return ctx.JSON(serverutils.SuccessResponse("Success get run events", res))
}

func (c *relayController) SetCompleted(ctx *fiber.Ctx) error {
	var req dto.SetCompletedRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	c.relayService.SetCompleted(ctx.Params("sessionId"), req.Completed)
	return ctx.JSON(serverutils.SuccessResponse("Success set completed", nil))
}

func (c *relayController) GetActiveError(ctx *fiber.Ctx) error {
	res := c.relayService.ActiveError(ctx.Params("sessionId"))
	return ctx.JSON(serverutils.SuccessResponse("Success get active error", res))
}

func (c *relayController) GetErrorHistory(ctx *fiber.Ctx) error {
	res := c.relayService.ErrorHistory(ctx.Params("sessionId"))
	return ctx.JSON(serverutils.SuccessResponse("Success get error history", res))
}

func (c *relayController) GetIncompleteSessions(ctx *fiber.Ctx) error {
	checkpoints := c.relayService.IncompleteSessions()
	res := make([]dto.IncompleteSessionResponse, 0, len(checkpoints))
	for _, cp := range checkpoints {
		res = append(res, dto.IncompleteSessionResponse{
			SessionID:       cp.SessionID,
			AgentMessageID:  cp.AgentMessageID,
			OriginalMessage: cp.OriginalMessage,
			RunnerID:        cp.RunnerID,
			RunnerType:      cp.RunnerType,
			StartedAt:       cp.StartedAt,
			LastState:       cp.LastState,
			LastEventType:   cp.LastEventType,
			LastEventAt:     cp.LastEventAt,
			Metadata:        cp.Metadata,
		})
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get incomplete sessions", res))
}

func (c *relayController) Resume(ctx *fiber.Ctx) error {
	if err := c.relayService.Resume(ctx.Context(), ctx.Params("sessionId")); err != nil {
		if errors.Is(err, service.ErrNoIncompleteRun) {
			return ctx.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse("No incomplete run for session"))
		}
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success resume session", nil))
}

func (c *relayController) Discard(ctx *fiber.Ctx) error {
	if err := c.relayService.Discard(ctx.Context(), ctx.Params("sessionId")); err != nil {
		if errors.Is(err, service.ErrNoIncompleteRun) {
			return ctx.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse("No incomplete run for session"))
		}
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success discard session", nil))
}

func (c *relayController) GetRetrySettings(ctx *fiber.Ctx) error {
	res := c.relayService.RetrySettings()
	return ctx.JSON(serverutils.SuccessResponse("Success get retry settings", res))
}

func (c *relayController) UpdateRetrySettings(ctx *fiber.Ctx) error {
	var req dto.UpdateRetrySettingsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	if err := c.relayService.UpdateRetrySettings(ctx.Context(), entity.RetrySettings{
		BaseDelayMS: req.BaseDelayMS,
		MaxDelayMS:  req.MaxDelayMS,
		MaxRetries:  req.MaxRetries,
	}); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success update retry settings", nil))
}
