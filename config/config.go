package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerConfig       ServerConfig       `json:"server"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	VaultConfig        VaultConfig        `json:"vault"`
	AuthConfig         AuthConfig         `json:"auth"`
	ExchangeConfig     ExchangeConfig     `json:"exchange"`
	RegimeConfig       RegimeConfig       `json:"regime"`
	SignalConfig       SignalConfig       `json:"signal"`
	ExecutionConfig    ExecutionConfig    `json:"execution"`
	MonitorConfig      MonitorConfig      `json:"monitor"`
	SettlementConfig   SettlementConfig   `json:"settlement"`
	OrchestratorConfig OrchestratorConfig `json:"orchestrator"`
	LoggingConfig      LoggingConfig      `json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`  // CORS allowed origins
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for position claims
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path prefix for API keys
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// AuthConfig holds the operator control-surface authentication configuration
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
}

// ExchangeConfig holds exchange connectivity configuration
type ExchangeConfig struct {
	BaseURL        string `json:"base_url"`
	TestnetURL     string `json:"testnet_url"`
	RequestTimeout int    `json:"request_timeout"` // Seconds
	RecvWindowMs   int    `json:"recv_window_ms"`  // Signed-request replay window
	MockMode       bool   `json:"mock_mode"`       // Use simulated execution everywhere
}

// RegimeConfig holds Fear & Greed gate configuration
type RegimeConfig struct {
	SourceURL     string        `json:"source_url"`
	PollInterval  time.Duration `json:"poll_interval"`
	FallbackValue int           `json:"fallback_value"` // Neutral default when the source is stale
}

// SignalConfig holds signal intake configuration
type SignalConfig struct {
	DrainInterval time.Duration `json:"drain_interval"` // How often accepted signals are handed to execution
	DrainBatch    int           `json:"drain_batch"`
}

// ExecutionConfig holds order execution configuration
type ExecutionConfig struct {
	MaxRetries      int           `json:"max_retries"`
	BaseRetryDelay  time.Duration `json:"base_retry_delay"`
	MaxRetryDelay   time.Duration `json:"max_retry_delay"`
	DefaultLeverage int           `json:"default_leverage"`
}

// MonitorConfig holds position monitor configuration
type MonitorConfig struct {
	PollInterval     time.Duration `json:"poll_interval"`
	CooldownDuration time.Duration `json:"cooldown_duration"`
}

// SettlementConfig holds settlement engine configuration
type SettlementConfig struct {
	PollInterval time.Duration `json:"poll_interval"`
	Currency     string        `json:"currency"`
}

// OrchestratorConfig holds worker lifecycle configuration
type OrchestratorConfig struct {
	StartDelay         time.Duration `json:"start_delay"`          // Delay between worker starts
	HealthInterval     time.Duration `json:"health_interval"`      // Liveness probe period
	MaxHealthFailures  int           `json:"max_health_failures"`  // Probe failures before restart
	RestartBackoffBase time.Duration `json:"restart_backoff_base"` // Base delay for FAILED worker restarts
	RestartBackoffMax  time.Duration `json:"restart_backoff_max"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Note: exchange API keys are NOT read from the environment. All keys are
// per-user and stored in Vault.
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", 30)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", 30)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", 5432)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", "postgres")
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", "signal_pipeline")
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", "disable")

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "signal-pipeline/api-keys")
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"

	// Auth config - ALWAYS apply from environment
	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", "true") == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", 1*time.Hour)

	// Exchange config
	cfg.ExchangeConfig.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", "https://fapi.binance.com")
	cfg.ExchangeConfig.TestnetURL = getEnvOrDefault("EXCHANGE_TESTNET_URL", "https://testnet.binancefuture.com")
	cfg.ExchangeConfig.RequestTimeout = getEnvIntOrDefault("EXCHANGE_REQUEST_TIMEOUT", 15)
	cfg.ExchangeConfig.RecvWindowMs = getEnvIntOrDefault("EXCHANGE_RECV_WINDOW_MS", 10000)
	cfg.ExchangeConfig.MockMode = getEnvOrDefault("EXCHANGE_MOCK_MODE", "false") == "true"

	// Regime gate config
	cfg.RegimeConfig.SourceURL = getEnvOrDefault("REGIME_SOURCE_URL", "https://api.alternative.me/fng/")
	cfg.RegimeConfig.PollInterval = getEnvDurationOrDefault("REGIME_POLL_INTERVAL", 10*time.Minute)
	cfg.RegimeConfig.FallbackValue = getEnvIntOrDefault("REGIME_FALLBACK_VALUE", 50)

	// Signal intake config
	cfg.SignalConfig.DrainInterval = getEnvDurationOrDefault("SIGNAL_DRAIN_INTERVAL", 2*time.Second)
	cfg.SignalConfig.DrainBatch = getEnvIntOrDefault("SIGNAL_DRAIN_BATCH", 20)

	// Execution config
	cfg.ExecutionConfig.MaxRetries = getEnvIntOrDefault("EXECUTION_MAX_RETRIES", 3)
	cfg.ExecutionConfig.BaseRetryDelay = getEnvDurationOrDefault("EXECUTION_BASE_RETRY_DELAY", 500*time.Millisecond)
	cfg.ExecutionConfig.MaxRetryDelay = getEnvDurationOrDefault("EXECUTION_MAX_RETRY_DELAY", 5*time.Second)
	cfg.ExecutionConfig.DefaultLeverage = getEnvIntOrDefault("EXECUTION_DEFAULT_LEVERAGE", 5)

	// Monitor config
	cfg.MonitorConfig.PollInterval = getEnvDurationOrDefault("MONITOR_POLL_INTERVAL", 5*time.Second)
	cfg.MonitorConfig.CooldownDuration = getEnvDurationOrDefault("MONITOR_COOLDOWN_DURATION", 2*time.Hour)

	// Settlement config
	cfg.SettlementConfig.PollInterval = getEnvDurationOrDefault("SETTLEMENT_POLL_INTERVAL", 10*time.Second)
	cfg.SettlementConfig.Currency = getEnvOrDefault("SETTLEMENT_CURRENCY", "USDT")

	// Orchestrator config
	cfg.OrchestratorConfig.StartDelay = getEnvDurationOrDefault("ORCHESTRATOR_START_DELAY", 2*time.Second)
	cfg.OrchestratorConfig.HealthInterval = getEnvDurationOrDefault("ORCHESTRATOR_HEALTH_INTERVAL", 15*time.Second)
	cfg.OrchestratorConfig.MaxHealthFailures = getEnvIntOrDefault("ORCHESTRATOR_MAX_HEALTH_FAILURES", 3)
	cfg.OrchestratorConfig.RestartBackoffBase = getEnvDurationOrDefault("ORCHESTRATOR_RESTART_BACKOFF_BASE", 5*time.Second)
	cfg.OrchestratorConfig.RestartBackoffMax = getEnvDurationOrDefault("ORCHESTRATOR_RESTART_BACKOFF_MAX", 2*time.Minute)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
