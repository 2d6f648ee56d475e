package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		// Users are owned by external account tooling; the pipeline reads
		// plan/affiliate data and updates balances during settlement.
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			plan VARCHAR(20) NOT NULL DEFAULT 'free',
			balance DECIMAL(20, 8) NOT NULL DEFAULT 0,
			referred_by BIGINT REFERENCES users(id),
			affiliate_tier VARCHAR(20),
			execution_blocked BOOLEAN NOT NULL DEFAULT FALSE,
			execution_blocked_reason TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS risk_parameters (
			user_id BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			leverage INT NOT NULL DEFAULT 5,
			balance_percent DECIMAL(5, 2) NOT NULL DEFAULT 5.0,
			take_profit_multiplier DECIMAL(10, 4) NOT NULL DEFAULT 2.0,
			stop_loss_multiplier DECIMAL(10, 4) NOT NULL DEFAULT 3.0,
			max_positions INT NOT NULL DEFAULT 3,
			exchange VARCHAR(20) NOT NULL DEFAULT 'binance',
			environment VARCHAR(10) NOT NULL DEFAULT 'MAINNET',
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Idempotent acceptance: one row per (symbol, source timestamp).
		`CREATE TABLE IF NOT EXISTS signals (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			source VARCHAR(100),
			source_timestamp TIMESTAMP NOT NULL,
			status VARCHAR(10) NOT NULL DEFAULT 'PENDING',
			rejection_reason VARCHAR(30),
			dispatched BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_signals_symbol_source_ts ON signals(symbol, source_timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_status_dispatched ON signals(status, dispatched)`,

		`CREATE TABLE IF NOT EXISTS regime_snapshots (
			id BIGSERIAL PRIMARY KEY,
			value INT NOT NULL,
			classification VARCHAR(30) NOT NULL,
			source VARCHAR(10) NOT NULL,
			captured_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_regime_snapshots_captured_at ON regime_snapshots(captured_at DESC)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			signal_id BIGINT REFERENCES signals(id),
			exchange VARCHAR(20) NOT NULL,
			environment VARCHAR(10) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			leverage INT NOT NULL,
			take_profit_price DECIMAL(20, 8) NOT NULL,
			stop_loss_price DECIMAL(20, 8) NOT NULL,
			status VARCHAR(10) NOT NULL DEFAULT 'OPEN',
			close_reason VARCHAR(15),
			close_price DECIMAL(20, 8),
			realized_pnl DECIMAL(20, 8),
			entry_order_id BIGINT NOT NULL,
			close_order_id BIGINT,
			close_requested BOOLEAN NOT NULL DEFAULT FALSE,
			close_request_reason VARCHAR(15),
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_user_status ON positions(user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol)`,

		`CREATE TABLE IF NOT EXISTS cooldowns (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			user_id BIGINT REFERENCES users(id),
			blocked_until TIMESTAMP NOT NULL,
			reason VARCHAR(100),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cooldowns_symbol_blocked_until ON cooldowns(symbol, blocked_until)`,

		// At-most-once settlement: one row per position.
		`CREATE TABLE IF NOT EXISTS settlements (
			id BIGSERIAL PRIMARY KEY,
			position_id BIGINT NOT NULL UNIQUE REFERENCES positions(id),
			user_id BIGINT NOT NULL REFERENCES users(id),
			gross_pnl DECIMAL(20, 8) NOT NULL,
			platform_commission DECIMAL(20, 8) NOT NULL,
			affiliate_commission DECIMAL(20, 8) NOT NULL,
			currency VARCHAR(10) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS commission_ledger (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			position_id BIGINT NOT NULL REFERENCES positions(id),
			kind VARCHAR(10) NOT NULL,
			amount DECIMAL(20, 8) NOT NULL,
			currency VARCHAR(10) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commission_ledger_user ON commission_ledger(user_id)`,

		`CREATE TABLE IF NOT EXISTS worker_status (
			name VARCHAR(50) PRIMARY KEY,
			state VARCHAR(10) NOT NULL,
			run_id VARCHAR(36),
			reason VARCHAR(50),
			started_at TIMESTAMP,
			restart_count INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS system_settings (
			key VARCHAR(100) PRIMARY KEY,
			value TEXT NOT NULL,
			value_type VARCHAR(10) NOT NULL DEFAULT 'string',
			description TEXT,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_by VARCHAR(100)
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
