package database

import (
	"context"
	"fmt"
	"time"

	"market-signal-engine/config"
	"market-signal-engine/internal/logging"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewDB creates a new database connection
func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	// Build connection string
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
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
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger := logging.WithComponent("database")
	logger.Info("Connected to PostgreSQL", "database", cfg.Database, "host", cfg.Host)

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("Database connection closed")
	}
}

// RunMigrations creates the tables the engine needs
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("Running database migrations")

	migrations := []string{
		// Provider rate-limit and health state
		`CREATE TABLE IF NOT EXISTS ai_providers (
			name VARCHAR(50) PRIMARY KEY,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			priority INTEGER NOT NULL DEFAULT 0,
			rpm_limit INTEGER NOT NULL DEFAULT 0,
			rpm_used INTEGER NOT NULL DEFAULT 0,
			rpm_window_start TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			rpd_limit INTEGER NOT NULL DEFAULT 0,
			rpd_used INTEGER NOT NULL DEFAULT 0,
			rpd_reset_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			cooldown_until TIMESTAMPTZ,
			success_count BIGINT NOT NULL DEFAULT 0,
			error_count BIGINT NOT NULL DEFAULT 0,
			consecutive_errors INTEGER NOT NULL DEFAULT 0,
			total_latency_ms BIGINT NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			last_used_at TIMESTAMPTZ
		)`,

		// Latest signal per (symbol, exchange)
		`CREATE TABLE IF NOT EXISTS market_signals (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(30) NOT NULL,
			exchange VARCHAR(30) NOT NULL,
			sentiment VARCHAR(10) NOT NULL,
			confidence INTEGER NOT NULL,
			insight TEXT NOT NULL DEFAULT '',
			price DOUBLE PRECISION NOT NULL,
			change_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
			support_level DOUBLE PRECISION NOT NULL DEFAULT 0,
			resistance_level DOUBLE PRECISION NOT NULL DEFAULT 0,
			profit_timeframe_minutes INTEGER NOT NULL DEFAULT 5,
			recommended_side VARCHAR(5) NOT NULL,
			expected_move_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			provider_used VARCHAR(50) NOT NULL DEFAULT '',
			parse_tier VARCHAR(10) NOT NULL DEFAULT 'strict',
			defaulted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (symbol, exchange)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_market_signals_created_at ON market_signals(created_at)`,

		// Audit trail of every persisted decision
		`CREATE TABLE IF NOT EXISTS ai_decisions (
			id UUID PRIMARY KEY,
			scan_id VARCHAR(36) NOT NULL DEFAULT '',
			symbol VARCHAR(30) NOT NULL,
			exchange VARCHAR(30) NOT NULL,
			sentiment VARCHAR(10) NOT NULL,
			confidence INTEGER NOT NULL,
			recommended_side VARCHAR(5) NOT NULL,
			provider VARCHAR(50) NOT NULL,
			parse_tier VARCHAR(10) NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_decisions_symbol ON ai_decisions(symbol, exchange)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_decisions_created_at ON ai_decisions(created_at)`,

		// Single-row settings
		`CREATE TABLE IF NOT EXISTS ai_settings (
			id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			active_provider VARCHAR(50) NOT NULL DEFAULT 'auto',
			scan_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Exchanges the operator has connected
		`CREATE TABLE IF NOT EXISTS exchange_connections (
			exchange VARCHAR(30) PRIMARY KEY,
			connected BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info("Database migrations completed", "count", len(migrations))
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
