// Package store is the PostgreSQL persistence layer: signals, patterns,
// issues, audit entries, config changes, and approvals. Pattern similarity
// search runs on pg_trgm, so the same database doubles as the search index.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql
	"github.com/jmoiron/sqlx"

	"github.com/commerceops/driftwatch/pkg/config"
)

//go:embed migrations
var migrationsFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrVersionConflict is returned when an optimistic update lost the race.
var ErrVersionConflict = errors.New("store: version conflict")

// Client wraps the database connection and exposes the per-entity stores.
type Client struct {
	db *sqlx.DB

	Signals       *SignalStore
	Patterns      *PatternStore
	Issues        *IssueStore
	Audit         *AuditStore
	ConfigChanges *ConfigChangeStore
	Approvals     *ApprovalStore
}

// NewClient opens the connection pool, verifies it, and applies pending
// migrations.
func NewClient(ctx context.Context, cfg config.DatabaseConfig) (*Client, error) {
	db, err := sqlx.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return NewClientFromDB(db), nil
}

// NewClientFromDB wraps an existing connection without migrating. Used by
// tests with sqlmock.
func NewClientFromDB(db *sqlx.DB) *Client {
	return &Client{
		db:            db,
		Signals:       &SignalStore{db: db},
		Patterns:      &PatternStore{db: db},
		Issues:        &IssueStore{db: db},
		Audit:         &AuditStore{db: db},
		ConfigChanges: &ConfigChangeStore{db: db},
		Approvals:     &ApprovalStore{db: db},
	}
}

// DB exposes the underlying pool for health checks.
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

func runMigrations(db *sqlx.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
