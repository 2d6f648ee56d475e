// Package api exposes the HTTP surface of the pipeline: the signal
// webhook, read endpoints for signals, regime, positions and settlements,
// the operator control surface, and the websocket event stream.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"signal-pipeline/config"
	"signal-pipeline/internal/auth"
	"signal-pipeline/internal/database"
	"signal-pipeline/internal/events"
	"signal-pipeline/internal/orchestrator"
	"signal-pipeline/internal/risk"
	"signal-pipeline/internal/settings"
	"signal-pipeline/internal/signal"
	"signal-pipeline/internal/vault"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	httpServer   *http.Server
	cfg          config.ServerConfig
	repo         *database.Repository
	eventBus     *events.EventBus
	intake       *signal.Intake
	regimeGate   signal.RegimeGate
	riskService  *risk.Service
	orchestrator *orchestrator.Orchestrator
	settings     *settings.Service
	vaultClient  *vault.Client
	authService  *auth.Service
	authEnabled  bool
	rateLimiter  *RateLimiter
	hub          *WSHub
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	repo *database.Repository,
	eventBus *events.EventBus,
	intake *signal.Intake,
	regimeGate signal.RegimeGate,
	riskService *risk.Service,
	orch *orchestrator.Orchestrator,
	settingsService *settings.Service,
	vaultClient *vault.Client,
	authService *auth.Service, // Can be nil if auth is disabled
	productionMode bool,
) *Server {
	if productionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:       router,
		cfg:          cfg,
		repo:         repo,
		eventBus:     eventBus,
		intake:       intake,
		regimeGate:   regimeGate,
		riskService:  riskService,
		orchestrator: orch,
		settings:     settingsService,
		vaultClient:  vaultClient,
		authService:  authService,
		authEnabled:  authService != nil,
		rateLimiter:  NewRateLimiter(120, time.Minute),
		hub:          NewWSHub(),
	}

	server.setupRoutes()
	server.hub.AttachBus(eventBus)
	go server.hub.Run()

	return server
}

// rateLimitMiddleware rate limits requests by endpoint path
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": "Too many requests to this endpoint",
				"path":    path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Signal webhook: authenticated by its own shared token, not by the
	// operator session, so signal sources never hold operator credentials
	s.router.POST("/api/signals/webhook", s.rateLimitMiddleware(), s.handleSignalWebhook)

	// Operator login
	s.router.POST("/api/auth/login", s.handleLogin)
	s.router.GET("/api/auth/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"auth_enabled": s.authEnabled})
	})

	// Websocket event stream
	s.router.GET("/ws/events", s.handleWebSocket)

	// Operator API (protected when auth is enabled)
	api := s.router.Group("/api")
	if s.authEnabled {
		api.Use(auth.Middleware(s.authService.JWTManager()))
	}
	{
		// Signal endpoints
		api.GET("/signals", s.handleGetSignals)

		// Regime endpoints
		api.GET("/regime", s.handleGetRegime)
		api.GET("/regime/history", s.handleGetRegimeHistory)

		// Position endpoints
		api.GET("/positions", s.handleGetPositions)
		api.GET("/positions/history", s.handleGetPositionHistory)
		api.POST("/positions/:id/close", s.handleRequestClose)
		api.GET("/positions/:id/settlement", s.handleGetSettlement)

		// User endpoints
		api.GET("/users/:id", s.handleGetUser)
		api.GET("/users/:id/risk-params", s.handleGetRiskParams)
		api.PUT("/users/:id/risk-params", s.handlePutRiskParams)
		api.GET("/users/:id/ledger", s.handleGetCommissionLedger)
		api.POST("/users/:id/unblock", s.handleUnblockUser)
		api.POST("/users/:id/credentials", s.handleStoreCredentials)
		api.DELETE("/users/:id/credentials", s.handleDeleteCredentials)

		// Settings endpoints
		api.GET("/settings", s.handleGetSettings)
		api.PUT("/settings/:key", s.handlePutSetting)

		// Orchestrator control surface
		api.POST("/orchestrator/start", s.handleOrchestratorStart)
		api.POST("/orchestrator/stop", s.handleOrchestratorStop)
		api.POST("/orchestrator/restart", s.handleOrchestratorRestart)
		api.GET("/orchestrator/status", s.handleOrchestratorStatus)
		api.POST("/orchestrator/flatten", s.handleFlatten)
		api.GET("/workers", s.handleGetWorkers)
	}
}

// Start runs the HTTP server until Shutdown is called
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	log.Printf("[API] Listening on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
