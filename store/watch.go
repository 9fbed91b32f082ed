package store

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"
)

// ChangeDetector reads a version token. Two different values mean the
// recording changed.
type ChangeDetector func(ctx context.Context, db *sql.DB) (int64, error)

// WatchOptions tunes a Watcher.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 500ms.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action fires.
	// 0 fires immediately.
	Debounce time.Duration
	// Detector defaults to LastWrite.
	Detector ChangeDetector
	Logger   *slog.Logger
}

// Watcher polls the store and runs an action when the recording changes.
type Watcher struct {
	db   *sql.DB
	opts WatchOptions

	version atomic.Int64
	reloads atomic.Int64
}

// Watch creates a Watcher over s.
func (s *Store) Watch(opts WatchOptions) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.Detector == nil {
		opts.Detector = LastWrite
	}
	if opts.Logger == nil {
		opts.Logger = s.logger
	}
	return &Watcher{db: s.db, opts: opts}
}

// Reloads returns how many times the action succeeded.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// OnChange blocks until ctx ends. A failing action does not advance the
// version, so it runs again on the next poll.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger

	if v, err := w.opts.Detector(ctx, w.db); err != nil {
		log.Warn("store: watch: initial version check failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	pending := int64(-1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-ticker.C:
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				log.Warn("store: watch: version check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || cur == pending {
				continue
			}
			pending = cur
			if w.opts.Debounce <= 0 {
				w.fire(log, action, pending)
				pending = -1
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			debounceCh = debounce.C

		case <-debounceCh:
			debounceCh = nil
			if pending >= 0 {
				w.fire(log, action, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) fire(log *slog.Logger, action func() error, ver int64) {
	if err := action(); err != nil {
		log.Error("store: watch: reload failed", "error", err, "version", ver)
		return
	}
	w.reloads.Add(1)
	w.version.Store(ver)
	log.Info("store: watch: reloaded", "version", ver)
}

// PragmaDataVersion changes whenever another connection writes to the
// database file, including other processes.
func PragmaDataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// LastWrite is the latest blobs.updated_at. Unlike PragmaDataVersion it also
// sees writes made through the watcher's own connection.
func LastWrite(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(updated_at), 0) FROM blobs").Scan(&v)
	return v, err
}
