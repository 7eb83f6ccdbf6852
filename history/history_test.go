package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Log {
	t.Helper()
	l, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestOpen_InMemory(t *testing.T) {
	l := openTest(t)

	var name string
	err := l.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='events'").Scan(&name)
	if err != nil {
		t.Fatalf("events table not found: %v", err)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "history.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%s) error: %v", path, err)
	}
	defer l.Close()

	if err := l.Record(context.Background(), KindImport, "id-1", "imported"); err != nil {
		t.Fatalf("Record: %v", err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	l := openTest(t)

	// Running migrate a second time must not error.
	if err := migrate(l.db); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestRecordAndRecent(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	step := 0
	l.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Minute)
	}

	if err := l.Record(ctx, KindImport, "a", "imported a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(ctx, KindConnect, "a", "connected"); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(ctx, KindDisconnect, "a", "disconnected"); err != nil {
		t.Fatal(err)
	}

	events, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Kind != KindDisconnect || events[1].Kind != KindConnect {
		t.Errorf("events not newest first: %+v", events)
	}
	if !events[0].At.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("At = %v", events[0].At)
	}
	if events[0].ConfigID != "a" || events[0].Message != "disconnected" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestPrune(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now.Add(-8 * 24 * time.Hour) }
	l.Record(ctx, KindConnect, "old", "")
	l.now = func() time.Time { return now.Add(-time.Hour) }
	l.Record(ctx, KindConnect, "new", "")

	removed, err := l.Prune(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune removed %d, want 1", removed)
	}

	events, _ := l.Recent(ctx, 10)
	if len(events) != 1 || events[0].ConfigID != "new" {
		t.Errorf("remaining events = %+v", events)
	}
}

func TestNilLogIsSafeToClose(t *testing.T) {
	var l *Log
	if err := l.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
	if err := l.Record(context.Background(), KindError, "", "x"); err == nil {
		t.Error("Record() on nil should fail")
	}
}
