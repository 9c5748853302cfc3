package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charleschow/cricket-feed/internal/events"
	"github.com/charleschow/cricket-feed/internal/telemetry"

	_ "modernc.org/sqlite"
)

const (
	queueSize       = 1024
	evictBatchSize  = 100
	vacuumInterval  = 50
	defaultMaxRows  = 100_000
	timestampLayout = "2006-01-02T15:04:05.000000000Z07:00" // fixed width so TEXT columns sort by time
)

// ErrQueueFull is returned to the bus when a notice could not be queued.
var ErrQueueFull = errors.New("journal: write queue full")

type op struct {
	notice events.Notice
	ack    chan struct{}
}

// Store records session lifecycle notices in SQLite. A single writer
// goroutine applies notices in the order they were published; the
// deliveries table is capped at maxRows with the oldest rows evicted first.
//
// Publish order is not session order: a disconnect aborts the session on
// the connection's read goroutine, so session_aborted can arrive before a
// notice from a step that was running at the same moment. A session row
// that reached aborted or torn_down therefore keeps that state, the
// earliest start and the highest emitted count, and a delivery may be
// recorded after its session row already reads aborted.
type Store struct {
	db      *sql.DB
	maxRows int64
	metrics *telemetry.Registry

	queue chan op
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once

	// owned by the writer goroutine
	rows         int64
	evictCounter int
}

func OpenStore(path string, maxRows int, metrics *telemetry.Registry) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	var avMode int
	if err := db.QueryRow(`PRAGMA auto_vacuum`).Scan(&avMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("read auto_vacuum: %w", err)
	}
	if avMode != 2 { // 2 = INCREMENTAL
		if _, err := db.Exec(`PRAGMA auto_vacuum = INCREMENTAL`); err != nil {
			db.Close()
			return nil, fmt.Errorf("set auto_vacuum: %w", err)
		}
		if _, err := db.Exec(`VACUUM`); err != nil {
			telemetry.Warnf("journal: VACUUM to enable auto_vacuum failed: %v", err)
		}
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT    PRIMARY KEY,
			match_id   TEXT    NOT NULL,
			remote     TEXT    NOT NULL,
			started    TEXT    NOT NULL,
			ended      TEXT,
			state      TEXT    NOT NULL,
			emitted    INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT    NOT NULL,
			event_id   TEXT    NOT NULL,
			kind       TEXT    NOT NULL,
			cursor     INTEGER NOT NULL,
			headline   TEXT    NOT NULL,
			sent       TEXT    NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_session ON deliveries(session_id)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init journal schema (%s): %w", stmt, err)
		}
	}

	var rows int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM deliveries`).Scan(&rows); err != nil {
		db.Close()
		return nil, fmt.Errorf("count deliveries: %w", err)
	}

	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	if metrics == nil {
		metrics = telemetry.Metrics
	}

	telemetry.Plainf("journal: opened %s  deliveries=%d  cap=%d", path, rows, maxRows)

	s := &Store{
		db:      db,
		maxRows: int64(maxRows),
		metrics: metrics,
		queue:   make(chan op, queueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		rows:    rows,
	}
	go s.run()
	return s, nil
}

// Attach subscribes the store to every lifecycle topic on bus.
func (s *Store) Attach(bus *events.Bus) {
	if s == nil {
		return
	}
	bus.SubscribeAll(s.Record)
}

// Record queues n for writing without blocking. A full queue drops the
// notice and counts the overflow.
func (s *Store) Record(n events.Notice) error {
	if s == nil {
		return nil
	}
	select {
	case <-s.quit:
		return nil
	default:
	}
	select {
	case s.queue <- op{notice: n}:
		return nil
	default:
		s.metrics.JournalOverflows.Inc()
		return ErrQueueFull
	}
}

// Sync blocks until every notice queued before the call has been written.
func (s *Store) Sync() {
	if s == nil {
		return
	}
	ack := make(chan struct{})
	select {
	case s.queue <- op{ack: ack}:
	case <-s.done:
		return
	}
	select {
	case <-ack:
	case <-s.done:
	}
}

// Close drains the queue, stops the writer and closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.once.Do(func() { close(s.quit) })
	<-s.done
	return s.db.Close()
}

func (s *Store) run() {
	defer close(s.done)
	for {
		select {
		case o := <-s.queue:
			s.apply(o)
		case <-s.quit:
			for {
				select {
				case o := <-s.queue:
					s.apply(o)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) apply(o op) {
	if o.ack != nil {
		close(o.ack)
		return
	}
	n := o.notice
	var err error
	switch n.Topic {
	case events.TopicEventEmitted:
		err = s.insertDelivery(n)
	case events.TopicSessionStarted:
		err = s.upsertSession(n, "emitting", false)
	case events.TopicSessionCompleted:
		err = s.upsertSession(n, "completed", false)
	case events.TopicSessionAborted:
		err = s.upsertSession(n, "aborted", true)
	case events.TopicSessionClosed:
		err = s.upsertSession(n, "torn_down", true)
	}
	if err != nil {
		telemetry.Warnf("journal: %s for session %s failed: %v", n.Topic, n.SessionID, err)
	}
}

func (s *Store) upsertSession(n events.Notice, state string, ended bool) error {
	at := n.At.UTC().Format(timestampLayout)
	var endedAt any
	if ended {
		endedAt = at
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, match_id, remote, started, ended, state, emitted)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			started = MIN(sessions.started, excluded.started),
			ended   = CASE WHEN sessions.state IN ('aborted', 'torn_down') THEN sessions.ended ELSE excluded.ended END,
			state   = CASE WHEN sessions.state IN ('aborted', 'torn_down') THEN sessions.state ELSE excluded.state END,
			emitted = MAX(sessions.emitted, excluded.emitted)`,
		n.SessionID, n.MatchID, n.Remote, at, endedAt, state, n.Emitted,
	)
	return err
}

func (s *Store) insertDelivery(n events.Notice) error {
	if n.Event == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO deliveries (session_id, event_id, kind, cursor, headline, sent) VALUES (?, ?, ?, ?, ?, ?)`,
		n.SessionID,
		n.Event.ID,
		string(n.Event.Kind),
		n.Cursor,
		n.Event.Headline(),
		n.Event.Timestamp.UTC().Format(timestampLayout),
	)
	if err != nil {
		return err
	}
	s.rows++
	if s.rows > s.maxRows {
		s.evict()
	}
	return nil
}

func (s *Store) evict() {
	for s.rows > s.maxRows {
		batch := min(s.rows-s.maxRows, evictBatchSize)
		res, err := s.db.Exec(
			`DELETE FROM deliveries WHERE id IN (SELECT id FROM deliveries ORDER BY id ASC LIMIT ?)`,
			batch,
		)
		if err != nil {
			telemetry.Warnf("journal: eviction failed: %v", err)
			return
		}
		freed, _ := res.RowsAffected()
		if freed == 0 {
			telemetry.Warnf("journal: eviction freed 0 rows, rows=%d", s.rows)
			return
		}
		s.rows -= freed
		s.evictCounter++

		if s.evictCounter%vacuumInterval == 0 {
			if _, err := s.db.Exec(`PRAGMA incremental_vacuum`); err != nil {
				telemetry.Warnf("journal: incremental_vacuum failed: %v", err)
			}
		}
	}
}
