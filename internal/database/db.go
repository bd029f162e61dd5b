package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type DB struct {
	conn *sql.DB
}

// NewDB opens a Postgres pool and verifies it with a ping.
func NewDB(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn}, nil
}

// New wraps an existing pool.
func New(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

func (db *DB) GetConnection() *sql.DB {
	return db.conn
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.conn.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT,
		timezone TEXT,
		call_window_start TEXT,
		push_token TEXT,
		push_platform TEXT,
		push_is_voip BOOLEAN,
		subscription_active BOOLEAN NOT NULL DEFAULT false,
		onboarding_complete BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE TABLE IF NOT EXISTS call_outcomes (
		call_uuid TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		call_type TEXT NOT NULL,
		outcome TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		urgency TEXT NOT NULL,
		retry_reason TEXT,
		first_sent_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS voip_delivery_receipts (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		call_uuid TEXT NOT NULL,
		status TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		device_info JSONB,
		acknowledged BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE INDEX IF NOT EXISTS voip_delivery_receipts_call_uuid_idx ON voip_delivery_receipts (call_uuid)`,
}

// Migrate creates the tables the pipeline reads and writes.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
