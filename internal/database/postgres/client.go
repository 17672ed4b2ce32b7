// Package postgres provides the PostgreSQL client and repositories for
// verification history and raised alerts.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"
)

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	// URL is a lib/pq connection string or postgres:// URL
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// DefaultConfig returns pool settings sized for a single watcher
func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		MaxLifetime:  30 * time.Minute,
	}
}

// NewClient creates a new PostgreSQL client
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// EnsureSchema creates the tables when they do not exist yet
func (c *Client) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// DB returns the underlying sql.DB for advanced operations
func (c *Client) DB() *sql.DB {
	return c.db
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS verification_results (
		id                BIGSERIAL PRIMARY KEY,
		miner             TEXT NOT NULL,
		slot              INTEGER NOT NULL,
		endpoint          TEXT NOT NULL,
		resolved_ip       TEXT NOT NULL DEFAULT '',
		connected         BOOLEAN NOT NULL,
		auth_ok           BOOLEAN NOT NULL,
		notify_received   BOOLEAN NOT NULL,
		coinbase_parsed   BOOLEAN NOT NULL,
		coinbase_txid     TEXT NOT NULL DEFAULT '',
		recipient_address TEXT NOT NULL DEFAULT '',
		your_share_pct    DOUBLE PRECISION NOT NULL,
		largest_pays_you  BOOLEAN NOT NULL,
		score             INTEGER NOT NULL,
		label             TEXT NOT NULL,
		summary           TEXT NOT NULL,
		payload           JSONB NOT NULL,
		checked_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS verification_results_slot_idx
		ON verification_results (miner, slot, checked_at DESC)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id         BIGSERIAL PRIMARY KEY,
		miner      TEXT NOT NULL,
		slot       INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		label      TEXT NOT NULL,
		score      INTEGER NOT NULL,
		message    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}
