package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/chaoschain/verdict-engine/internal/api"
	"github.com/chaoschain/verdict-engine/internal/db"
	"github.com/chaoschain/verdict-engine/internal/engine"
	"github.com/chaoschain/verdict-engine/internal/ledger"
	"github.com/chaoschain/verdict-engine/internal/registry"
	"github.com/chaoschain/verdict-engine/internal/reputation"
	"github.com/chaoschain/verdict-engine/internal/watcher"
	"github.com/chaoschain/verdict-engine/pkg/models"
)

func main() {
	log.Println("Starting ChaosChain Verification & Reward Engine...")

	// ─── Configuration ──────────────────────────────────────────────
	// Credentials come from environment variables; a local .env file is
	// loaded when present: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	var dbConn *db.PostgresStore
	if dbUrl := os.Getenv("DATABASE_URL"); dbUrl != "" {
		conn, err := db.Connect(dbUrl)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing in memory-only mode. Error: %v", err)
		} else {
			dbConn = conn
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	} else {
		log.Println("WARNING: DATABASE_URL not set — engine running memory-only (no durable settlement mirror)")
	}

	// In-memory registries back the consumed interfaces until an external
	// identity/role/reputation surface is wired in.
	reg := registry.NewInMemory()
	if os.Getenv("DEV_ALLOW_ALL_ROLES") == "true" {
		log.Println("WARNING: DEV_ALLOW_ALL_ROLES=true — every account passes role checks. Never use in production.")
		reg.AllowAll = true
	}
	sink := registry.NewLogSink()

	led := ledger.New(reg, reg, reg)

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	publisher := reputation.NewPublisher(sink, sink, reg, func(ev models.ReputationEvent) {
		wsHub.BroadcastEvent(models.EventTypeReputation, ev)
	})

	var store engine.ClosureStore
	if dbConn != nil {
		store = dbConn
	}
	eng := engine.New(led, reg, reg, publisher, store, func(ev models.WorkClosedEvent) {
		wsHub.BroadcastEvent(models.EventTypeWorkClosed, ev)
	})

	// Lifecycle watcher announces window transitions to stream observers.
	interval := 5 * time.Second
	if raw := getEnvOrDefault("WATCHER_INTERVAL_S", ""); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			interval = time.Duration(secs) * time.Second
		}
	}
	watch := watcher.New(led, func(ev models.StreamEvent) {
		wsHub.BroadcastEvent(ev.Type, ev.Payload)
	}, interval)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watch.Run(ctx)

	// Setup the Gin Router
	r := api.SetupRouter(dbConn, led, eng, watch, wsHub)

	port := getEnvOrDefault("PORT", "5340")

	// Start the server
	log.Printf("Engine running on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
