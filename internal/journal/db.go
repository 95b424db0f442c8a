// Package journal persists every observable action the trading system
// takes: predictions, decisions, outcomes, position lifecycles, watchlists,
// agent logs, health reports, learning cycles and weight snapshots.
//
// PostgreSQL is the source of truth. Redis (internal/cache) only mirrors a
// subset of this data for fast restart; anything mirrored can be rebuilt
// from the tables owned by this package.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds database connection settings.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// ConnectionString builds the PostgreSQL connection string.
func (c Config) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// DB wraps the pgx connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a database connection pool and verifies connectivity.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close releases the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// HealthCheck verifies the database connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.Pool.Ping(checkCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// RunMigrations creates the journal tables if they do not exist.
// Migrations are idempotent and run in order on every startup.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		// Decisions: one row per recommender evaluation that produced a
		// proposal, a refusal or a skip. The payload column carries the
		// full reasoning chain; features carries the raw per-category
		// scores so learning can re-score without recomputing indicators.
		`CREATE TABLE IF NOT EXISTS decisions (
			id UUID PRIMARY KEY,
			schema_version INT NOT NULL DEFAULT 1,
			symbol VARCHAR(12) NOT NULL,
			action VARCHAR(16) NOT NULL,
			status VARCHAR(24) NOT NULL,
			confidence DECIMAL(6,3) NOT NULL DEFAULT 0,
			refusal_reason VARCHAR(64) NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			weights_version INT NOT NULL DEFAULT 0,
			features JSONB,
			payload JSONB NOT NULL,
			outcome_id BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_decisions_symbol ON decisions(symbol, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_status ON decisions(status)`,

		// Predictions: expected move, direction and horizon attached to a
		// decision at proposal time, scored after the horizon elapses.
		`CREATE TABLE IF NOT EXISTS predictions (
			id UUID PRIMARY KEY,
			schema_version INT NOT NULL DEFAULT 1,
			decision_id UUID NOT NULL,
			symbol VARCHAR(12) NOT NULL,
			setup VARCHAR(32) NOT NULL,
			direction VARCHAR(8) NOT NULL,
			expected_move_percent DECIMAL(8,4) NOT NULL,
			expected_hours DECIMAL(8,3) NOT NULL,
			reference_price DECIMAL(12,4) NOT NULL,
			horizon_at TIMESTAMPTZ NOT NULL,
			evaluated_at TIMESTAMPTZ,
			actual_move_percent DECIMAL(8,4),
			actual_hours DECIMAL(8,3),
			accuracy_score DECIMAL(6,4),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_predictions_decision ON predictions(decision_id)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_pending ON predictions(horizon_at) WHERE evaluated_at IS NULL`,

		// Outcomes: realized result of an executed decision. Never pruned;
		// this is the learning corpus.
		`CREATE TABLE IF NOT EXISTS outcomes (
			id BIGSERIAL PRIMARY KEY,
			schema_version INT NOT NULL DEFAULT 1,
			decision_id UUID NOT NULL,
			prediction_id UUID,
			symbol VARCHAR(12) NOT NULL,
			entry_price DECIMAL(12,4) NOT NULL,
			exit_price DECIMAL(12,4) NOT NULL,
			shares DECIMAL(16,4) NOT NULL,
			entered_at TIMESTAMPTZ NOT NULL,
			exited_at TIMESTAMPTZ NOT NULL,
			holding_minutes DECIMAL(10,2) NOT NULL,
			realized_pnl DECIMAL(14,4) NOT NULL,
			realized_percent DECIMAL(8,4) NOT NULL,
			exit_reason VARCHAR(32) NOT NULL,
			max_favorable_percent DECIMAL(8,4) NOT NULL DEFAULT 0,
			max_adverse_percent DECIMAL(8,4) NOT NULL DEFAULT 0,
			accuracy_score DECIMAL(6,4) NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_outcomes_symbol ON outcomes(symbol, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_created ON outcomes(created_at DESC)`,

		// Positions: live state, updated in place as the monitor ratchets
		// the highest price and trailing stop. Closed rows stay for audit.
		`CREATE TABLE IF NOT EXISTS positions (
			id BIGSERIAL PRIMARY KEY,
			schema_version INT NOT NULL DEFAULT 1,
			symbol VARCHAR(12) NOT NULL,
			decision_id UUID NOT NULL,
			status VARCHAR(12) NOT NULL DEFAULT 'open',
			shares DECIMAL(16,4) NOT NULL,
			entry_price DECIMAL(12,4) NOT NULL,
			stop_price DECIMAL(12,4) NOT NULL,
			target_price DECIMAL(12,4) NOT NULL,
			trailing_stop DECIMAL(12,4),
			highest_price DECIMAL(12,4) NOT NULL,
			entry_order_id VARCHAR(64) NOT NULL DEFAULT '',
			exit_order_id VARCHAR(64) NOT NULL DEFAULT '',
			exit_reason VARCHAR(32) NOT NULL DEFAULT '',
			exit_price DECIMAL(12,4),
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_positions_open ON positions(symbol) WHERE status = 'open'`,
		`CREATE INDEX IF NOT EXISTS idx_positions_created ON positions(created_at DESC)`,

		// Watchlists: one row per screener pass, entries as a JSONB array
		// together with the criteria that produced them.
		`CREATE TABLE IF NOT EXISTS watchlists (
			id BIGSERIAL PRIMARY KEY,
			schema_version INT NOT NULL DEFAULT 1,
			session_date VARCHAR(10) NOT NULL,
			degraded BOOLEAN NOT NULL DEFAULT FALSE,
			symbol_count INT NOT NULL,
			criteria JSONB NOT NULL,
			entries JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_watchlists_created ON watchlists(created_at DESC)`,

		// Agent logs: structured component activity for the status API and
		// offline analysis.
		`CREATE TABLE IF NOT EXISTS agent_logs (
			id BIGSERIAL PRIMARY KEY,
			schema_version INT NOT NULL DEFAULT 1,
			component VARCHAR(32) NOT NULL,
			level VARCHAR(10) NOT NULL,
			message TEXT NOT NULL,
			data JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_agent_logs_component ON agent_logs(component, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_logs_created ON agent_logs(created_at DESC)`,

		// System health: periodic and event-driven component status reports.
		`CREATE TABLE IF NOT EXISTS system_health (
			id BIGSERIAL PRIMARY KEY,
			schema_version INT NOT NULL DEFAULT 1,
			component VARCHAR(32) NOT NULL,
			status VARCHAR(16) NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			data JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_system_health_created ON system_health(created_at DESC)`,

		// Learning cycles: audit trail of every weight adjustment attempt,
		// committed or not.
		`CREATE TABLE IF NOT EXISTS learning_cycles (
			id BIGSERIAL PRIMARY KEY,
			schema_version INT NOT NULL DEFAULT 1,
			trigger_kind VARCHAR(16) NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			outcomes_used INT NOT NULL,
			committed BOOLEAN NOT NULL,
			skip_reason VARCHAR(64) NOT NULL DEFAULT '',
			score_before DECIMAL(8,4) NOT NULL DEFAULT 0,
			score_after DECIMAL(8,4) NOT NULL DEFAULT 0,
			weights_version_before INT NOT NULL DEFAULT 0,
			weights_version_after INT NOT NULL DEFAULT 0,
			report JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_learning_cycles_created ON learning_cycles(created_at DESC)`,

		// Weight snapshots: full weight set per version. Versions are
		// assigned inside the insert so they stay monotonic without a
		// separate sequence. Never pruned.
		`CREATE TABLE IF NOT EXISTS weight_snapshots (
			version INT PRIMARY KEY,
			schema_version INT NOT NULL DEFAULT 1,
			payload JSONB NOT NULL,
			validation_score DECIMAL(8,4) NOT NULL DEFAULT 0,
			note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}
