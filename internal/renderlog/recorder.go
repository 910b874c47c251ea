// Package renderlog persists render outcomes to SQLite asynchronously, for
// the read-only /internal/stats endpoint.
package renderlog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"renderx/internal/sqlmigrate"
)

// Event is a single recorded render outcome.
type Event struct {
	Timestamp time.Time
	Host      string
	Path      string
	Strategy  string
	Outcome   string // "cache-hit", "rendered", "failed"
	DurationMs int64
}

// Recorder buffers Events and flushes them to SQLite on a single writer
// goroutine, batching inserts into one transaction per flush.
type Recorder struct {
	db     *sql.DB
	ch     chan Event
	wg     sync.WaitGroup
	closed atomic.Bool
}

var migrations = []func(*sql.Tx) error{
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			CREATE TABLE renders (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				ts          TEXT NOT NULL,
				host        TEXT NOT NULL,
				path        TEXT NOT NULL,
				strategy    TEXT NOT NULL,
				outcome     TEXT NOT NULL,
				duration_ms INTEGER NOT NULL
			);
			CREATE INDEX idx_renders_host_ts ON renders(host, ts);
		`)
		return err
	},
}

// NewRecorder opens (creating if absent) a SQLite database at dbPath and
// starts the background writer.
func NewRecorder(dbPath string) (*Recorder, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if err := sqlmigrate.Apply(db, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("renderlog: migrate: %w", err)
	}
	r := &Recorder{db: db, ch: make(chan Event, 1024)}
	r.wg.Add(1)
	go r.writer()
	return r, nil
}

// Record enqueues e for persistence. Non-blocking: drops the event on a
// full buffer rather than stalling the request path. A no-op after Close.
func (r *Recorder) Record(e Event) {
	if r.closed.Load() {
		return
	}
	select {
	case r.ch <- e:
	default:
		slog.Warn("renderlog: event buffer full, dropping event", "host", e.Host)
	}
}

func (r *Recorder) writer() {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var batch []Event
	for {
		select {
		case e, ok := <-r.ch:
			if !ok {
				if len(batch) > 0 {
					r.flush(batch)
				}
				return
			}
			batch = append(batch, e)
			if len(batch) >= 100 {
				r.flush(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = nil
			}
		}
	}
}

func (r *Recorder) flush(events []Event) {
	tx, err := r.db.Begin()
	if err != nil {
		slog.Warn("renderlog: begin tx failed", "err", err)
		return
	}
	stmt, err := tx.Prepare(`INSERT INTO renders (ts, host, path, strategy, outcome, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		slog.Warn("renderlog: prepare failed", "err", err)
		tx.Rollback()
		return
	}
	defer stmt.Close()
	for _, e := range events {
		if _, err := stmt.Exec(e.Timestamp.UTC().Format(time.RFC3339), e.Host, e.Path, e.Strategy, e.Outcome, e.DurationMs); err != nil {
			slog.Warn("renderlog: insert failed", "err", err)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Warn("renderlog: commit failed", "err", err)
	}
}

// Close drains the event channel and shuts down the writer. Calls after the
// first are no-ops.
func (r *Recorder) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	close(r.ch)
	r.wg.Wait()
	return r.db.Close()
}

// HostCount is one row of a per-host render-outcome summary.
type HostCount struct {
	Host    string `json:"host"`
	Outcome string `json:"outcome"`
	Count   int64  `json:"count"`
}

// Summary returns render-outcome counts grouped by host and outcome since
// since.
func (r *Recorder) Summary(since time.Time) ([]HostCount, error) {
	rows, err := r.db.Query(
		`SELECT host, outcome, COUNT(*) AS c FROM renders WHERE ts >= ? GROUP BY host, outcome ORDER BY host, outcome`,
		since.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HostCount
	for rows.Next() {
		var h HostCount
		if err := rows.Scan(&h.Host, &h.Outcome, &h.Count); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Recent returns the most recent n events across all hosts.
func (r *Recorder) Recent(n int) ([]Event, error) {
	rows, err := r.db.Query(
		`SELECT ts, host, path, strategy, outcome, duration_ms FROM renders ORDER BY id DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var ts string
		if err := rows.Scan(&ts, &e.Host, &e.Path, &e.Strategy, &e.Outcome, &e.DurationMs); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
