package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hazyhaar/malu/retry"
)

// IsBusy reports whether err indicates an SQLite BUSY condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx executes fn in a transaction. A busy database is retried under the
// store's busy policy; any other error is returned after the first attempt.
// When every attempt was busy the error wraps retry.ErrExhausted.
func (s *Store) RunTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return retry.Do(ctx, s.busy, func(ctx context.Context) error {
		err := s.runOnce(ctx, fn)
		if err != nil && !IsBusy(err) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (s *Store) runOnce(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
