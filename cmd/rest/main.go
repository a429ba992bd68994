package main

import (
	"context"
	"log"

	"agent-console-be/internal/bootstrap"
	"agent-console-be/internal/config"
	"agent-console-be/internal/server"
	"agent-console-be/internal/tracer"
	"agent-console-be/pkg/database"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()

	// 2. Initialize Tracer (no-op unless OTEL_ENABLED=true)
	shutdownTracer := tracer.InitTracer(cfg.Otel)
	defer shutdownTracer(context.Background())

	// 3. Initialize Database
	gormDB, err := database.NewGormDBFromDSN(cfg.Database.Connection)
	if err != nil {
		log.Panicf("Unable to connect to GORM DB: %v", err)
	}

	// 4. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(gormDB, cfg)

	// 5. Recover durable state (retry settings, checkpoints, snapshots)
	if err := container.RelayService.Recover(context.Background()); err != nil {
		log.Printf("Startup recovery error: %v", err)
	}

	// 6. Start Background Services
	go func() {
		log.Println("Background: Starting Ingest Service...")
		if err := container.IngestService.Consume(context.Background()); err != nil {
			log.Printf("Background Ingest Error: %v", err)
		}
	}()

	// 7. Initialize Server
	srv := server.New(cfg, container)

	// 8. Run Server
	log.Fatal(srv.Run())
}
