package handler

import (
	"os"
	"strings"

	"agent-console-be/internal/pkg/logger"
	internalWS "agent-console-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
)

// RelayWsHandler upgrades observer connections. An observer subscribes to
// one session and optionally narrows to specific slices:
// GET /ws/relay?sessionId=<id>&slices=messages,stream
type RelayWsHandler struct {
	hub    *internalWS.Hub
	logger logger.ILogger
}

func NewRelayWsHandler(hub *internalWS.Hub, log logger.ILogger) *RelayWsHandler {
	return &RelayWsHandler{
		hub:    hub,
		logger: log,
	}
}

func (h *RelayWsHandler) ServeWs(c *fiber.Ctx) error {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing sessionId query param"})
	}

	// Auth mirrors the HTTP surface: enforced only when a secret is set.
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			authHeader := c.Get("Authorization")
			if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
				tokenStr = authHeader[7:]
			}
		}
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing token (Query 'token' or Header 'Authorization')"})
		}

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.ErrUnauthorized
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			h.logger.Warn("RelayWsHandler", "Invalid token in WS handshake", map[string]interface{}{"error": err})
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		}
	}

	// Empty slice filter means every slice.
	slices := make(map[string]bool)
	if raw := c.Query("slices"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				slices[s] = true
			}
		}
	}

	if websocket.IsWebSocketUpgrade(c) {
		return websocket.New(func(conn *websocket.Conn) {
			h.logger.Info("RelayWsHandler", "Observer connected", map[string]interface{}{
				"session_id": sessionID,
				"slices":     len(slices),
			})
			internalWS.ServeWs(h.hub, conn, sessionID, slices)
			h.logger.Info("RelayWsHandler", "Observer disconnected", map[string]interface{}{
				"session_id": sessionID,
			})
		})(c)
	}
	return fiber.ErrUpgradeRequired
}
