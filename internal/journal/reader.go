package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SessionRow is one recorded playback session.
type SessionRow struct {
	SessionID string
	MatchID   string
	Remote    string
	Started   time.Time
	Ended     time.Time // zero while the session is still open
	State     string
	Emitted   int
}

// DeliveryRow is one event handed to a subscriber.
type DeliveryRow struct {
	ID        int64
	SessionID string
	EventID   string
	Kind      string
	Cursor    int
	Headline  string
	Sent      time.Time
}

// Reader queries a journal database without writing to it.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(10000)&mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

// Sessions returns the most recent sessions first. An empty matchID
// matches every session.
func (r *Reader) Sessions(ctx context.Context, matchID string, limit int) ([]SessionRow, error) {
	q := `SELECT session_id, match_id, remote, started, COALESCE(ended, ''), state, emitted FROM sessions`
	var args []any
	if matchID != "" {
		q += ` WHERE match_id = ?`
		args = append(args, matchID)
	}
	q += ` ORDER BY started DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var row SessionRow
		var started, ended string
		if err := rows.Scan(&row.SessionID, &row.MatchID, &row.Remote, &started, &ended, &row.State, &row.Emitted); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		row.Started, _ = time.Parse(timestampLayout, started)
		if ended != "" {
			row.Ended, _ = time.Parse(timestampLayout, ended)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Deliveries returns a session's deliveries in send order.
func (r *Reader) Deliveries(ctx context.Context, sessionID string) ([]DeliveryRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, event_id, kind, cursor, headline, sent FROM deliveries WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []DeliveryRow
	for rows.Next() {
		var row DeliveryRow
		var sent string
		if err := rows.Scan(&row.ID, &row.SessionID, &row.EventID, &row.Kind, &row.Cursor, &row.Headline, &sent); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		row.Sent, _ = time.Parse(timestampLayout, sent)
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeliveryCount reports how many delivery rows are retained.
func (r *Reader) DeliveryCount(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return n, nil
}
