package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
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
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
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

	log := logger.With().Str("component", "database").Logger()
	log.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("running database migrations")

	migrations := []string{
		// Synced per-asset withdrawal fee dataset, one row per exchange+asset.
		// chains is the full chain list with fees; default_fee mirrors the
		// default chain's fee for cheap lookup.
		`CREATE TABLE IF NOT EXISTS exchange_asset_fees (
			id SERIAL PRIMARY KEY,
			exchange VARCHAR(30) NOT NULL,
			asset VARCHAR(30) NOT NULL,
			default_fee DECIMAL(30, 12) NOT NULL DEFAULT 0,
			chains JSONB NOT NULL DEFAULT '[]',
			synced_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (exchange, asset)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_asset_fees_exchange ON exchange_asset_fees(exchange)`,

		// Standing per-user withdrawal policies.
		`CREATE TABLE IF NOT EXISTS withdrawal_rules (
			id UUID PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			exchange VARCHAR(30) NOT NULL,
			asset VARCHAR(30) NOT NULL,
			address VARCHAR(256) NOT NULL,
			network VARCHAR(64),
			address_tag VARCHAR(128),
			threshold_type VARCHAR(20) NOT NULL,
			max_fee_percentage DECIMAL(10, 4),
			min_amount DECIMAL(30, 12),
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawal_rules_user ON withdrawal_rules(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawal_rules_enabled ON withdrawal_rules(enabled)`,

		// Append-only canonical order snapshots. Each row is one normalized
		// read of the exchange's authoritative order state.
		`CREATE TABLE IF NOT EXISTS order_snapshots (
			id SERIAL PRIMARY KEY,
			exchange VARCHAR(30) NOT NULL,
			order_id VARCHAR(128) NOT NULL,
			symbol VARCHAR(30) NOT NULL,
			side VARCHAR(4) NOT NULL,
			order_type VARCHAR(10) NOT NULL,
			price DECIMAL(30, 12),
			amount DECIMAL(30, 12),
			quote_amount DECIMAL(30, 12),
			amount_executed DECIMAL(30, 12) NOT NULL DEFAULT 0,
			quote_amount_executed DECIMAL(30, 12),
			status VARCHAR(10) NOT NULL,
			error_messages JSONB NOT NULL DEFAULT '[]',
			exchange_response JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_snapshots_order ON order_snapshots(exchange, order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_snapshots_created_at ON order_snapshots(created_at)`,

		// Submitted withdrawals, for audit and dedup.
		`CREATE TABLE IF NOT EXISTS withdrawals (
			id SERIAL PRIMARY KEY,
			rule_id UUID,
			exchange VARCHAR(30) NOT NULL,
			asset VARCHAR(30) NOT NULL,
			amount DECIMAL(30, 12) NOT NULL,
			address VARCHAR(256) NOT NULL,
			network VARCHAR(64),
			withdrawal_id VARCHAR(128) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawals_exchange ON withdrawals(exchange, asset)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Int("count", len(migrations)).Msg("migrations completed")
	return nil
}
