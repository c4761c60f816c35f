package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the tables if needed. Keeping the migration in code
// lets docker-compose bootstrap a working stack with no extra tooling.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id TEXT PRIMARY KEY,
	inbox_address TEXT NOT NULL UNIQUE,
	tier TEXT NOT NULL DEFAULT 'free',
	subscription_status TEXT NOT NULL DEFAULT 'active',
	usage_count INTEGER NOT NULL DEFAULT 0,
	max_usage INTEGER NOT NULL DEFAULT 10,
	period_start TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS senders (
	user_id TEXT NOT NULL,
	email TEXT NOT NULL,
	trust TEXT NOT NULL DEFAULT 'unverified',
	PRIMARY KEY (user_id, email)
);
CREATE TABLE IF NOT EXISTS submissions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	sender_email TEXT NOT NULL,
	destination TEXT NOT NULL,
	file_name TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	object_key TEXT NOT NULL,
	declared_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	rejection_reason TEXT,
	confidence DOUBLE PRECISION,
	models_used TEXT,
	transcript TEXT,
	fingerprint TEXT,
	tier TEXT NOT NULL DEFAULT 'free',
	used_advanced_ai BOOLEAN NOT NULL DEFAULT false,
	processing_cost NUMERIC(10,4) NOT NULL DEFAULT 0,
	attempts INTEGER NOT NULL DEFAULT 0,
	notified BOOLEAN NOT NULL DEFAULT false,
	notified_at TIMESTAMPTZ,
	notify_method TEXT,
	notify_details TEXT,
	received_at TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ,
	transcribed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);
CREATE INDEX IF NOT EXISTS idx_submissions_user ON submissions(user_id);
CREATE INDEX IF NOT EXISTS idx_submissions_fingerprint ON submissions(sender_email, fingerprint);
CREATE TABLE IF NOT EXISTS audit_entries (
	id BIGSERIAL PRIMARY KEY,
	submission_id TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	prev_status TEXT NOT NULL,
	new_status TEXT NOT NULL,
	reason TEXT,
	confidence DOUBLE PRECISION,
	models_used TEXT,
	cost NUMERIC(10,4) NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_submission ON audit_entries(submission_id);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
