// Package store is the SQLite persistence store for recordings.
//
// A recording is kept under two keys of the blobs table: "video" holds the
// encoded container and "metadata" holds the pointer samples with their
// geometry context. Both are replaced atomically by SaveArtifact. A
// session_events table journals every state transition of capture sessions.
//
// Pragmas applied on open:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// In tests:
//
//	s := store.OpenMemory(t)
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/malu/retry"
)

// Store wraps the database handle.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	busy   retry.Policy
}

type config struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
	busyRetry   retry.Policy
	logger      *slog.Logger
}

// Option customises Open.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithBusyRetry bounds the transaction retries on SQLITE_BUSY.
// Default: 3 attempts, 100ms apart.
func WithBusyRetry(attempts int, interval time.Duration) Option {
	return func(c *config) { c.busyRetry = retry.Policy{Attempts: attempts, Interval: interval} }
}

// WithMkdirAll creates parent directories of the database path.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// Open opens (and initializes) the store at path.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := config{
		busyTimeout: 10_000,
		synchronous: "NORMAL",
		busyRetry:   retry.Policy{Attempts: 3, Interval: 100 * time.Millisecond},
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.synchronous),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: exec schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	busy := cfg.busyRetry
	busy.Name = "store tx"
	busy.Logger = cfg.logger
	return &Store{db: db, logger: cfg.logger, busy: busy}, nil
}

// OpenMemory opens an in-memory store for testing. MaxOpenConns is 1 so
// every query hits the same database. The store is closed on cleanup.
func OpenMemory(t testing.TB, opts ...Option) *Store {
	t.Helper()
	s, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	s.db.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}

// DB exposes the handle for watchers.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
