// Package postgres provides a PostgreSQL implementation of store.Store.
//
// Five tables are used, all sharing a configurable prefix:
//
//	routes      relay key -> mailbox id
//	mailboxes   mailbox records with partition config and key
//	partitions  credential hash and sequence counter per partition
//	items       queued payloads, UNIQUE (partition_id, sequence)
//	devices     PRIMARY KEY (mailbox_id, device_id)
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/mediator/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// uniqueViolation is the SQLSTATE of a unique constraint violation.
const uniqueViolation = "23505"

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger

	routes     string
	mailboxes  string
	partitions string
	items      string
	devices    string
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:         db,
		opts:       o,
		logger:     o.logger,
		routes:     o.prefix + "routes",
		mailboxes:  o.prefix + "mailboxes",
		partitions: o.prefix + "partitions",
		items:      o.prefix + "items",
		devices:    o.prefix + "devices",
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection,
// opened with either the "postgres" (lib/pq) or "pgx" driver.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect initializes the schema.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "prefix", s.opts.prefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// schema returns the DDL statements run by Connect, in order.
func (s *Store) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			relay_key TEXT PRIMARY KEY,
			mailbox_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.routes),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			partition_id TEXT NOT NULL,
			storage_type TEXT NOT NULL DEFAULT '',
			inbox_key TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.mailboxes),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			storage_type TEXT NOT NULL DEFAULT '',
			key_hash BYTEA NOT NULL,
			next_sequence BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.partitions),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			partition_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			sequence BIGINT NOT NULL,
			payload BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (partition_id, sequence)
		)`, s.items, s.partitions),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			mailbox_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			vendor TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}',
			registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (mailbox_id, device_id)
		)`, s.devices),
	}
}

// ensureSchema creates the required tables.
func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// isUniqueViolation reports a unique constraint violation from either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
