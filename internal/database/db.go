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
		// Create setups table. The version column backs the optimistic
		// concurrency check; every conditional update increments it.
		`CREATE TABLE IF NOT EXISTS setups (
			id UUID PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL DEFAULT '',
			symbol VARCHAR(20) NOT NULL,
			strategy VARCHAR(100) NOT NULL,
			side VARCHAR(5) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			stop_loss DECIMAL(20, 8) NOT NULL,
			take_profit DECIMAL(20, 8) NOT NULL,
			confidence DECIMAL(5, 4) NOT NULL DEFAULT 0,
			position_size DECIMAL(20, 8),
			risk_reward DECIMAL(10, 4),
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			entry_hit BOOLEAN NOT NULL DEFAULT FALSE,
			entry_hit_at TIMESTAMPTZ,
			sl_hit_at TIMESTAMPTZ,
			tp_hit_at TIMESTAMPTZ,
			closed_at TIMESTAMPTZ,
			outcome VARCHAR(20),
			pnl_percent DECIMAL(10, 2),
			last_price DECIMAL(20, 8),
			last_checked_at TIMESTAMPTZ,
			archived BOOLEAN NOT NULL DEFAULT FALSE,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_setups_symbol ON setups(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_setups_status ON setups(status)`,
		`CREATE INDEX IF NOT EXISTS idx_setups_symbol_status ON setups(symbol, status) WHERE NOT archived`,
		`CREATE INDEX IF NOT EXISTS idx_setups_created_at ON setups(created_at)`,

		// Create alerts table (insert-only)
		`CREATE TABLE IF NOT EXISTS alerts (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			level_type VARCHAR(30) NOT NULL,
			target_price DECIMAL(20, 8) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			direction VARCHAR(10) NOT NULL,
			triggered_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_symbol ON alerts(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_triggered_at ON alerts(triggered_at)`,

		// Create signals table
		`CREATE TABLE IF NOT EXISTS signals (
			id UUID PRIMARY KEY,
			setup_id UUID NOT NULL REFERENCES setups(id) ON DELETE CASCADE,
			symbol VARCHAR(20) NOT NULL,
			signal_type VARCHAR(20) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			confidence DECIMAL(5, 4) NOT NULL DEFAULT 0,
			executed BOOLEAN NOT NULL DEFAULT FALSE,
			executed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_setup_id ON signals(setup_id)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_executed ON signals(executed)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at)`,

		// Create updated_at trigger function
		`CREATE OR REPLACE FUNCTION update_updated_at_column()
		RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = CURRENT_TIMESTAMP;
			RETURN NEW;
		END;
		$$ language 'plpgsql'`,

		`DROP TRIGGER IF EXISTS update_setups_updated_at ON setups`,
		`CREATE TRIGGER update_setups_updated_at BEFORE UPDATE ON setups
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,
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
