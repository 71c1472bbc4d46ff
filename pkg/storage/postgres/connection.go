// Package postgres implements the request repository on PostgreSQL using
// lib/pq, with a version column for optimistic concurrency control.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ConnectionConfig holds connection pool settings.
type ConnectionConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnTimeout  time.Duration
}

// DefaultConnectionConfig returns sensible pool defaults.
func DefaultConnectionConfig(url string) ConnectionConfig {
	return ConnectionConfig{
		URL:          url,
		MaxOpenConns: 20,
		MaxIdleConns: 2,
		ConnTimeout:  10 * time.Second,
	}
}

// Connect opens a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres not reachable: %w", err)
	}

	return db, nil
}
