package controller

import (
	"agent-console-be/internal/dto"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type IHealthController interface {
	RegisterRoutes(r fiber.Router)
	Health(ctx *fiber.Ctx) error
}

// NatsStatus is what the health probe needs from the NATS publisher.
type NatsStatus interface {
	Connected() bool
}

type healthController struct {
	db   *gorm.DB
	rdb  *redis.Client
	nats NatsStatus
}

// NewHealthController wires the liveness probe. Any dependency may be nil
// when the deployment runs without it.
func NewHealthController(db *gorm.DB, rdb *redis.Client, natsStatus NatsStatus) IHealthController {
	return &healthController{db: db, rdb: rdb, nats: natsStatus}
}

func (c *healthController) RegisterRoutes(r fiber.Router) {
	r.Get("/health", c.Health)
}

func (c *healthController) Health(ctx *fiber.Ctx) error {
	res := dto.HealthResponse{Status: "ok", Redis: "disabled", NATS: "disabled", DB: "disabled"}

	if c.rdb != nil {
		res.Redis = "up"
		if err := c.rdb.Ping(ctx.Context()).Err(); err != nil {
			res.Redis = "down"
			res.Status = "degraded"
		}
	}
	if c.nats != nil {
		res.NATS = "up"
		if !c.nats.Connected() {
			res.NATS = "down"
			res.Status = "degraded"
		}
	}
	if c.db != nil {
		res.DB = "up"
		sqlDB, err := c.db.DB()
		if err != nil || sqlDB.Ping() != nil {
			res.DB = "down"
			res.Status = "degraded"
		}
	}

	return ctx.JSON(res)
}
