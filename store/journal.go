package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is one journaled session transition.
type Event struct {
	EventID      string
	SessionID    string
	Timestamp    time.Time
	Status       string
	Detail       string
	ErrorMessage string
}

// AppendEvent journals e. EventID and Timestamp are filled when empty.
func (s *Store) AppendEvent(ctx context.Context, e Event) error {
	if e.EventID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("store: event id: %w", err)
		}
		e.EventID = id.String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	var errMsg sql.NullString
	if e.ErrorMessage != "" {
		errMsg = sql.NullString{String: e.ErrorMessage, Valid: true}
	}
	return s.RunTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO session_events (event_id, session_id, timestamp, status, detail, error_message)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.EventID, e.SessionID, e.Timestamp.UnixMilli(), e.Status, e.Detail, errMsg)
		if err != nil {
			return fmt.Errorf("store: append event: %w", err)
		}
		return nil
	})
}

// Events returns the journal of one session, oldest first. An empty
// sessionID returns the latest events across sessions, newest last, capped
// at limit (default 100).
func (s *Store) Events(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if sessionID != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT event_id, session_id, timestamp, status, detail, COALESCE(error_message, '')
			 FROM session_events WHERE session_id = ? ORDER BY timestamp, rowid LIMIT ?`, sessionID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT * FROM (
			   SELECT event_id, session_id, timestamp, status, detail, COALESCE(error_message, ''), rowid AS rid
			   FROM session_events ORDER BY timestamp DESC, rowid DESC LIMIT ?
			 ) ORDER BY timestamp, rid`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var ts int64
		dest := []any{&e.EventID, &e.SessionID, &ts, &e.Status, &e.Detail, &e.ErrorMessage}
		if sessionID == "" {
			var rid int64
			dest = append(dest, &rid)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
