package bootstrap

import (
	"context"
	"log"

	"agent-console-be/internal/config"
	"agent-console-be/internal/controller"
	"agent-console-be/internal/entity"
	"agent-console-be/internal/handler"
	"agent-console-be/internal/pkg/logger"
	"agent-console-be/internal/repository/implementation"
	"agent-console-be/internal/service"
	"agent-console-be/internal/websocket"
	"agent-console-be/pkg/persistence"
	"agent-console-be/pkg/relay/failure"
	"agent-console-be/pkg/relay/ledger"
	"agent-console-be/pkg/relay/registry"
	"agent-console-be/pkg/relay/stream"
	"agent-console-be/pkg/relay/timeline"

	pktNats "agent-console-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	RelayController   controller.IRelayController
	SessionController controller.ISessionController
	HealthController  controller.IHealthController

	// Background services (exposed for main.go to run)
	IngestService service.IIngestService
	RelayService  service.IRelayService

	// WebSockets
	RelayWsHandler *handler.RelayWsHandler
	WebSocketHub   *websocket.Hub

	// Held for shutdown
	NatsPublisher *pktNats.Publisher
	Logger        logger.ILogger
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Event bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// 2.5 Infrastructure
	// NATS
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
	}
	natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
	}

	// Redis
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)

	// Snapshots go to redis when it answers, otherwise in-process.
	var snapshots persistence.Store
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v. Snapshots stay in memory", err)
		snapshots = persistence.NewMemoryStore()
	} else {
		snapshots = persistence.NewRedisStore(rdb, "relay")
	}

	// WebSocket hub
	wsLogger := logger.NewIsolatedLogger("logs/relay_ws.log")
	wsHub := websocket.NewHub(rdb, wsLogger)
	go wsHub.Run()

	// 3. Relay partitions
	checkpointRepo := implementation.NewCheckpointRepository(db)
	settingsRepo := implementation.NewRetrySettingsRepository(db)

	sessions := registry.NewManager(snapshots, sysLogger)
	messages := ledger.NewLedger(sysLogger)
	streams := stream.NewCoordinator(snapshots, sysLogger)
	timelines := timeline.NewAggregator(sysLogger)
	failures := failure.NewManager(checkpointRepo, settingsRepo, sysLogger)
	failures.SeedSettings(entity.RetrySettings{
		BaseDelayMS: cfg.Relay.RetryBaseDelayMS,
		MaxDelayMS:  cfg.Relay.RetryMaxDelayMS,
		MaxRetries:  cfg.Relay.MaxRetries,
	})

	// Live timeline ticks reach observers through the hub.
	timelines.OnTick = func(sessionID string) {
		wsHub.Notify(sessionID, websocket.SliceTimeline, map[string]interface{}{
			"duration_ms": timelines.Duration(sessionID),
			"is_running":  timelines.IsRunning(sessionID),
		})
	}

	// 4. Services
	transport := service.NewHTTPTransportRequester(cfg.Relay.AgentBaseURL)
	relayService := service.NewRelayService(
		sessions, messages, streams, timelines, failures,
		transport, wsHub, natsPub, sysLogger,
	)
	sessionService := service.NewSessionService(sessions, messages, wsHub, sysLogger)

	runEventPublisher := service.NewPublisherService(cfg.Relay.RunEventTopic, pubSub)
	tokenPublisher := service.NewPublisherService(cfg.Relay.TokenDeltaTopic, pubSub)
	failurePublisher := service.NewPublisherService(cfg.Relay.FailureTopic, pubSub)

	ingestService := service.NewIngestService(
		pubSub,
		cfg.Relay.RunEventTopic,
		cfg.Relay.TokenDeltaTopic,
		cfg.Relay.FailureTopic,
		messages, streams, timelines, failures,
		wsHub, natsPub, relayService, sysLogger,
	)

	// Audit trail over the lifecycle stream
	if natsSub != nil {
		auditService := service.NewAuditService(natsSub, sysLogger)
		if err := auditService.Start(); err != nil {
			log.Printf("[WARN] Failed to start audit consumer: %v", err)
		}
	}

	// Handler
	wsHandler := handler.NewRelayWsHandler(wsHub, wsLogger)

	// 5. Controllers
	return &Container{
		RelayController:   controller.NewRelayController(relayService, runEventPublisher, tokenPublisher, failurePublisher),
		SessionController: controller.NewSessionController(sessionService),
		HealthController:  controller.NewHealthController(db, rdb, natsPub),

		IngestService: ingestService,
		RelayService:  relayService,

		RelayWsHandler: wsHandler,
		WebSocketHub:   wsHub,

		NatsPublisher: natsPub,
		Logger:        sysLogger,
	}
}
