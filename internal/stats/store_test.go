package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AddDailyAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	if err := s.AddDaily(ctx, day, Delta{FlightsCreated: 1}); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if err := s.AddDaily(ctx, day.Add(5*time.Hour), Delta{FlightsCreated: 2, FilesShared: 3, MBTransferred: 1.5, UsersConnected: 4}); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if err := s.AddDaily(ctx, day.Add(24*time.Hour), Delta{UsersConnected: 1}); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}

	got, err := s.Daily(ctx, day)
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	want := Totals{Day: "2026-03-14", FlightsCreated: 3, FilesShared: 3, MBTransferred: 1.5, UsersConnected: 4}
	if got != want {
		t.Fatalf("Daily=%+v, want %+v", got, want)
	}

	next, err := s.Daily(ctx, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if next.UsersConnected != 1 || next.FlightsCreated != 0 {
		t.Fatalf("next day=%+v", next)
	}

	empty, err := s.Daily(ctx, day.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if empty != (Totals{Day: "2026-03-13"}) {
		t.Fatalf("empty day=%+v", empty)
	}
}

func TestStore_InsertFeedback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertFeedback(ctx, Feedback{Message: "love it", ClientIP: "203.0.113.7"}); err != nil {
		t.Fatalf("InsertFeedback: %v", err)
	}
	var (
		n  int
		ip string
	)
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(client_ip) FROM feedback`).Scan(&n, &ip); err != nil {
		t.Fatalf("query: %v", err)
	}
	if n != 1 || ip != "203.0.113.7" {
		t.Fatalf("rows=%d ip=%q", n, ip)
	}
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	ctx := context.Background()
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s, err := Open(ctx, DriverSQLite, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.AddDaily(ctx, day, Delta{FlightsCreated: 1}); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	_ = s.Close()

	s, err = Open(ctx, DriverSQLite, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Daily(ctx, day)
	if err != nil || got.FlightsCreated != 1 {
		t.Fatalf("Daily=(%+v,%v)", got, err)
	}
}

func TestOpen_Validation(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "dsn"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if _, err := Open(context.Background(), DriverSQLite, ""); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	if got := pg.rebind("INSERT INTO t (a, b) VALUES (?, ?)"); got != "INSERT INTO t (a, b) VALUES ($1, $2)" {
		t.Fatalf("rebind=%q", got)
	}
	lite := &Store{driver: DriverSQLite}
	if got := lite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Fatalf("rebind=%q", got)
	}
}
