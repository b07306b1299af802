package client

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"grant-gateway/internal/config"
	"grant-gateway/internal/util"
)

// PostgresClient wraps the connection pool for the relational store that owns
// feedback rows.
type PostgresClient struct {
	Pool *pgxpool.Pool
}

func NewPostgresClient(cfg *config.Config) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Postgres URL: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	util.Info("Postgres client initialized",
		zap.Int("max_conns", int(poolConfig.MaxConns)))

	return &PostgresClient{Pool: pool}, nil
}

// InitSchema creates the feedback table if it does not exist. The unique
// constraint on (grant_id, session_hash) is what makes submissions idempotent
// per client per grant.
func (p *PostgresClient) InitSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS feedback (
	id           UUID PRIMARY KEY,
	grant_id     TEXT NOT NULL,
	score        DOUBLE PRECISION,
	bucket       TEXT,
	signal       TEXT NOT NULL CHECK (signal IN ('up', 'down')),
	session_hash CHAR(16) NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT feedback_grant_session_key UNIQUE (grant_id, session_hash)
);
CREATE INDEX IF NOT EXISTS feedback_grant_id_idx ON feedback (grant_id);
CREATE INDEX IF NOT EXISTS feedback_created_at_idx ON feedback (created_at);
`
	if _, err := p.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize feedback schema: %w", err)
	}
	return nil
}

// HealthCheck verifies Postgres connectivity
func (p *PostgresClient) HealthCheck(ctx context.Context) error {
	if err := p.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (p *PostgresClient) Close() error {
	if p.Pool != nil {
		p.Pool.Close()
		util.Info("Postgres pool closed")
	}
	return nil
}
