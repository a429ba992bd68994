package controller

import (
	"errors"

	"agent-console-be/internal/dto"
	"agent-console-be/internal/pkg/serverutils"
	"agent-console-be/internal/service"
	"agent-console-be/pkg/relay/registry"

	"github.com/gofiber/fiber/v2"
)

type ISessionController interface {
	RegisterRoutes(r fiber.Router)
	CreateTab(ctx *fiber.Ctx) error
	UpdateTab(ctx *fiber.Ctx) error
	DeleteTab(ctx *fiber.Ctx) error
	ListTabs(ctx *fiber.Ctx) error
	CreateTabFromSession(ctx *fiber.Ctx) error
	SetActiveSession(ctx *fiber.Ctx) error
	GetActiveSession(ctx *fiber.Ctx) error
	NeedsHistory(ctx *fiber.Ctx) error
	MarkHistoryLoaded(ctx *fiber.Ctx) error
	LoadHistory(ctx *fiber.Ctx) error
}

type sessionController struct {
	sessionService service.ISessionService
}

func NewSessionController(sessionService service.ISessionService) ISessionController {
	return &sessionController{
		sessionService: sessionService,
	}
}

func (c *sessionController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/relay/v1")
	h.Use(serverutils.JwtMiddleware)

	h.Get("tabs", c.ListTabs)
	h.Post("tabs", c.CreateTab)
	h.Patch("tabs/:tabId", c.UpdateTab)
	h.Delete("tabs/:tabId", c.DeleteTab)
	h.Get("tabs/:tabId/needs-history", c.NeedsHistory)
	h.Post("tabs/:tabId/history-loaded", c.MarkHistoryLoaded)
	h.Post("tabs/:tabId/history", c.LoadHistory)

	h.Get("sessions/active", c.GetActiveSession)
	h.Put("sessions/active", c.SetActiveSession)
	h.Post("sessions/:sessionId/tab", c.CreateTabFromSession)
}

func (c *sessionController) CreateTab(ctx *fiber.Ctx) error {
	var req dto.CreateTabRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.sessionService.CreateTab(ctx.Context(), &req)
	if err != nil {
		if errors.Is(err, registry.ErrTabAlreadyExists) {
			return ctx.Status(fiber.StatusConflict).JSON(serverutils.ErrorResponse("Tab already exists"))
		}
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success create tab", res))
}

func (c *sessionController) UpdateTab(ctx *fiber.Ctx) error {
	var req dto.UpdateTabRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	res, err := c.sessionService.UpdateTab(ctx.Context(), ctx.Params("tabId"), &req)
	if err != nil {
		if errors.Is(err, registry.ErrTabNotFound) {
			return ctx.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse("Tab not found"))
		}
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success update tab", res))
}

func (c *sessionController) DeleteTab(ctx *fiber.Ctx) error {
	c.sessionService.DeleteTab(ctx.Context(), ctx.Params("tabId"))
	return ctx.JSON(serverutils.SuccessResponse("Success delete tab", nil))
}

func (c *sessionController) ListTabs(ctx *fiber.Ctx) error {
	res := c.sessionService.Tabs()
	return ctx.JSON(serverutils.SuccessResponse("Success list tabs", res))
}

func (c *sessionController) CreateTabFromSession(ctx *fiber.Ctx) error {
	var req dto.CreateTabFromSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	res := c.sessionService.CreateTabFromSession(ctx.Context(), ctx.Params("sessionId"), &req)
	return ctx.JSON(serverutils.SuccessResponse("Success create tab from session", res))
}

func (c *sessionController) SetActiveSession(ctx *fiber.Ctx) error {
	var req dto.SetActiveSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	c.sessionService.SetActiveSession(ctx.Context(), req.SessionID)
	return ctx.JSON(serverutils.SuccessResponse("Success set active session", nil))
}

func (c *sessionController) GetActiveSession(ctx *fiber.Ctx) error {
	res := c.sessionService.ActiveSession()
	return ctx.JSON(serverutils.SuccessResponse("Success get active session", fiber.Map{"session_id": res}))
}

func (c *sessionController) NeedsHistory(ctx *fiber.Ctx) error {
	res := c.sessionService.NeedsHistoryLoad(ctx.Params("tabId"))
	return ctx.JSON(serverutils.SuccessResponse("Success check history freshness", fiber.Map{"needs_history_load": res}))
}

func (c *sessionController) MarkHistoryLoaded(ctx *fiber.Ctx) error {
	if err := c.sessionService.MarkHistoryLoaded(ctx.Params("tabId")); err != nil {
		if errors.Is(err, registry.ErrTabNotFound) {
			return ctx.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse("Tab not found"))
		}
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success mark history loaded", nil))
}

func (c *sessionController) LoadHistory(ctx *fiber.Ctx) error {
	var req dto.LoadHistoryRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.sessionService.LoadHistory(ctx.Context(), ctx.Params("tabId"), req.Messages)
	if err != nil {
		if errors.Is(err, registry.ErrTabNotFound) {
			return ctx.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse("Tab not found"))
		}
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success load history", res))
}
