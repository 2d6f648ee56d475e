package main

import (
	"context"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"signal-pipeline/config"
	"signal-pipeline/internal/api"
	"signal-pipeline/internal/auth"
	"signal-pipeline/internal/database"
	"signal-pipeline/internal/events"
	"signal-pipeline/internal/exchange"
	"signal-pipeline/internal/execution"
	"signal-pipeline/internal/logging"
	"signal-pipeline/internal/monitor"
	"signal-pipeline/internal/orchestrator"
	"signal-pipeline/internal/regime"
	"signal-pipeline/internal/risk"
	"signal-pipeline/internal/settings"
	"signal-pipeline/internal/settlement"
	"signal-pipeline/internal/signal"
	"signal-pipeline/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize event bus
	eventBus := events.NewEventBus()
	logger.Info("Event bus initialized")

	// Initialize database
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	repo := database.NewRepository(db)
	settingsService := settings.NewService(repo)

	// Initialize Vault for per-user exchange credentials
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		log.Fatalf("Failed to initialize vault client: %v", err)
	}
	if cfg.VaultConfig.Enabled {
		logger.Info("Vault client initialized", "address", cfg.VaultConfig.Address)
	} else {
		logger.Warn("Vault disabled, credentials held in process cache only")
	}

	// Initialize position claims, Redis-backed when configured
	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
	}
	claims := database.NewPositionClaims(redisClient, uuid.New().String())

	// Exchange client factory
	factory := exchange.NewClientFactory(cfg.ExchangeConfig, vaultClient)
	if cfg.ExchangeConfig.MockMode {
		logger.Warn("Exchange mock mode enabled, no live orders will be placed")
	}

	// Pipeline workers
	gate := regime.NewGate(cfg.RegimeConfig, settingsService, repo, eventBus)
	riskService := risk.NewService(repo, cfg.ExecutionConfig)
	manager := execution.NewManager(cfg.ExecutionConfig, repo, riskService, factory, eventBus)
	drain := signal.NewDrainWorker(cfg.SignalConfig, repo, manager)
	positionMonitor := monitor.NewMonitor(cfg.MonitorConfig, repo, claims, factory, settingsService, eventBus, zlog)
	settlementEngine := settlement.NewEngine(cfg.SettlementConfig, repo, claims, settingsService, eventBus)

	orch := orchestrator.New(cfg.OrchestratorConfig, repo, eventBus, zlog,
		gate, drain, manager, positionMonitor, settlementEngine)

	// Signal intake feeding the pipeline
	intake := signal.NewIntake(repo, gate, eventBus)

	// Operator auth
	var authService *auth.Service
	if cfg.AuthConfig.Enabled {
		if cfg.AuthConfig.JWTSecret == "" {
			log.Fatalf("AUTH_JWT_SECRET is required when auth is enabled")
		}
		authService = auth.NewService(settingsService, cfg.AuthConfig.JWTSecret, cfg.AuthConfig.AccessTokenDuration)
		logger.Info("Operator auth enabled")
	} else {
		logger.Warn("Operator auth disabled, control surface is open")
	}

	// Web server
	server := api.NewServer(
		cfg.ServerConfig, repo, eventBus, intake, gate,
		riskService, orch, settingsService, vaultClient, authService,
		os.Getenv("GIN_MODE") == "release",
	)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start web server: %v", err)
		}
	}()

	// Bring the pipeline up unless the operator wants a cold start
	if os.Getenv("PIPELINE_AUTOSTART") != "false" {
		if err := orch.Start(ctx); err != nil {
			log.Fatalf("Failed to start pipeline: %v", err)
		}
	} else {
		logger.Info("Pipeline autostart disabled, waiting for operator start")
	}

	logger.Info("Signal pipeline ready",
		"host", cfg.ServerConfig.Host,
		"port", cfg.ServerConfig.Port,
		"orchestrator", orch.State())

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down web server: %v", err)
	}
	if orch.State() == orchestrator.StateRunning {
		if err := orch.Stop(shutdownCtx); err != nil {
			log.Printf("Error stopping pipeline: %v", err)
		}
	}
	if redisClient != nil {
		redisClient.Close()
	}

	log.Println("Shutdown complete")
}
