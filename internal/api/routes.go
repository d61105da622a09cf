package api

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chaoschain/verdict-engine/internal/db"
	"github.com/chaoschain/verdict-engine/internal/engine"
	"github.com/chaoschain/verdict-engine/internal/ledger"
	"github.com/chaoschain/verdict-engine/internal/watcher"
)

// Default windows applied when a deadline request omits them.
const (
	defaultCommitWindow = time.Hour
	defaultRevealWindow = time.Hour
)

type APIHandler struct {
	dbStore *db.PostgresStore
	ledger  *ledger.Ledger
	engine  *engine.Engine
	watcher *watcher.Watcher
	wsHub   *Hub
}

func SetupRouter(dbStore *db.PostgresStore, led *ledger.Ledger, eng *engine.Engine, watch *watcher.Watcher, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://studio.example.org
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		dbStore: dbStore,
		ledger:  led,
		engine:  eng,
		watcher: watch,
		wsHub:   wsHub,
	}

	// ── Public endpoints (no auth) ─────────────────────────────
	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/works/:id", handler.handleGetWork)
		pub.GET("/works/:id/consensus/:worker", handler.handleGetConsensus)
		pub.GET("/works/:id/report", handler.handleGetReport)
		pub.GET("/accounts/:addr/balance", handler.handleGetBalance)
		pub.GET("/stats/accuracy", handler.handleAccuracyStats)
		pub.GET("/epochs/progress", handler.handleCloseProgress)
		pub.GET("/ws", wsHub.Subscribe)
	}

	// ── Protected endpoints (bearer auth + rate limit) ─────────
	limiter := NewRateLimiter(120, 30)
	protected := r.Group("/api/v1")
	protected.Use(AuthMiddleware(), limiter.Middleware())
	{
		protected.POST("/works", handler.handleRegisterWork)
		protected.POST("/works/:id/deadlines", handler.handleSetDeadlines)
		protected.POST("/works/:id/commit", handler.handleCommit)
		protected.POST("/works/:id/reveal", handler.handleReveal)
		protected.POST("/works/:id/legacy-scores", handler.handleLegacyScores)
		protected.POST("/epochs/close", handler.handleCloseEpoch)
		protected.GET("/params", handler.handleGetParams)
		protected.PUT("/params", handler.handleSetParams)
	}

	return r
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	status := gin.H{
		"status":   "ok",
		"database": h.dbStore != nil,
		"progress": h.engine.Progress(),
	}
	if h.watcher != nil {
		status["closable_works"] = h.watcher.ClosableCount()
	}
	c.JSON(http.StatusOK, status)
}
