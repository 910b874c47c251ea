package renderlog

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := NewRecorder(filepath.Join(t.TempDir(), "renderlog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecord_PersistsAfterClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "renderlog.db")
	r, err := NewRecorder(dbPath)
	if err != nil {
		t.Fatal(err)
	}

	r.Record(Event{Timestamp: time.Now(), Host: "app.example", Path: "/", Strategy: "ssr", Outcome: "rendered", DurationMs: 120})
	r.Record(Event{Timestamp: time.Now(), Host: "app.example", Path: "/about", Strategy: "ssr", Outcome: "cache-hit", DurationMs: 2})

	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r2, err := NewRecorder(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()

	events, err := r2.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}

func TestSummary_GroupsByHostAndOutcome(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "renderlog.db")
	r, err := NewRecorder(dbPath)
	if err != nil {
		t.Fatal(err)
	}

	r.Record(Event{Timestamp: time.Now(), Host: "a.example", Path: "/", Strategy: "ssr", Outcome: "rendered", DurationMs: 1})
	r.Record(Event{Timestamp: time.Now(), Host: "a.example", Path: "/x", Strategy: "ssr", Outcome: "rendered", DurationMs: 1})
	r.Record(Event{Timestamp: time.Now(), Host: "a.example", Path: "/y", Strategy: "ssr", Outcome: "cache-hit", DurationMs: 1})
	r.Record(Event{Timestamp: time.Now(), Host: "b.example", Path: "/", Strategy: "csr", Outcome: "rendered", DurationMs: 1})
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	r2, err := NewRecorder(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()

	rows, err := r2.Summary(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d grouped rows, want 3", len(rows))
	}
	var aRendered int64
	for _, row := range rows {
		if row.Host == "a.example" && row.Outcome == "rendered" {
			aRendered = row.Count
		}
	}
	if aRendered != 2 {
		t.Errorf("a.example/rendered count = %d, want 2", aRendered)
	}
}

func TestRecent_ReturnsNewestFirst(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "renderlog.db")
	r, err := NewRecorder(dbPath)
	if err != nil {
		t.Fatal(err)
	}

	r.Record(Event{Timestamp: time.Now(), Host: "app.example", Path: "/first", Strategy: "ssr", Outcome: "rendered", DurationMs: 1})
	time.Sleep(5 * time.Millisecond)
	r.Record(Event{Timestamp: time.Now(), Host: "app.example", Path: "/second", Strategy: "ssr", Outcome: "rendered", DurationMs: 1})

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	r2, err := NewRecorder(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()

	events, err := r2.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Path != "/second" || events[1].Path != "/first" {
		t.Errorf("Recent(2) = %+v, want /second then /first", events)
	}
}

func TestRecord_NonBlockingOnFullBuffer(t *testing.T) {
	r := newTestRecorder(t)
	for i := 0; i < 2000; i++ {
		r.Record(Event{Timestamp: time.Now(), Host: "app.example", Path: "/spam", Strategy: "ssr", Outcome: "rendered", DurationMs: 1})
	}
}

func TestRecord_NoopAfterClose(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	r.Record(Event{Timestamp: time.Now(), Host: "app.example", Path: "/", Strategy: "ssr", Outcome: "rendered", DurationMs: 1})
}
