package main

import (
	"context"
	"path/filepath"
	"testing"
)

func newSQLiteStore(t *testing.T, dir string) *Store {
	t.Helper()
	t.Setenv("DB_DIALECT", "sqlite")
	t.Setenv("DB_SQLITE_PATH", filepath.Join(dir, "clicker.sqlite"))

	catalog := loadTestCatalog(t)
	s, err := newConfiguredStore(catalog)
	if err != nil {
		t.Fatalf("newConfiguredStore: %v", err)
	}
	t.Cleanup(func() {
		if s.repo != nil {
			_ = s.repo.db.Close()
		}
	})
	s.rng = &scriptedRand{}
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newSQLiteStore(t, dir)

	s.Game.Money = 777
	s.Game.Buildings[2] = 4
	s.Game.Workshop.Unlocked = true
	s.Game.TimeElapsed = 3.5
	s.PendingReport = &DayReport{Day: 9, TotalMoney: 50}
	addEventLocked(s, Event{Type: "Test", Text: "hello"})
	persistLocked(s)
	_ = s.repo.db.Close()

	s2 := newSQLiteStore(t, dir)
	if s2.Game.Money != 777 || s2.Game.Buildings[2] != 4 {
		t.Fatalf("game state lost: %+v", s2.Game)
	}
	if !s2.Game.Workshop.Unlocked {
		t.Fatal("workshop flag lost")
	}
	if s2.Game.TimeElapsed != 3.5 {
		t.Fatalf("runtime clock lost: %v", s2.Game.TimeElapsed)
	}
	if s2.PendingReport == nil || s2.PendingReport.Day != 9 {
		t.Fatalf("pending report lost: %+v", s2.PendingReport)
	}
	if len(s2.Events) != 1 || s2.Events[0].Text != "hello" {
		t.Fatalf("events lost: %+v", s2.Events)
	}
	if s2.NextEventID != s.NextEventID {
		t.Fatalf("event counter lost: %d vs %d", s2.NextEventID, s.NextEventID)
	}
}

func TestSQLiteSeedsFreshDatabase(t *testing.T) {
	s := newSQLiteStore(t, t.TempDir())
	if s.repo == nil {
		t.Fatal("no repository")
	}
	var rows int
	if err := s.repo.db.QueryRow("SELECT COUNT(1) FROM game_state").Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Fatalf("game_state rows = %d, want 1", rows)
	}
}

func TestReportHistoryOrderAndTrim(t *testing.T) {
	s := newSQLiteStore(t, t.TempDir())

	for day := 1; day <= 5; day++ {
		persistReportLocked(s, &DayReport{Day: day, TotalMoney: float64(day * 10)})
	}
	history, err := s.repo.ReportHistory(context.Background(), 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history = %d entries, want 3", len(history))
	}
	if history[0].Day != 5 || history[2].Day != 3 {
		t.Fatalf("history order: %+v", history)
	}

	// Re-saving the same day replaces the row instead of duplicating it.
	persistReportLocked(s, &DayReport{Day: 5, TotalMoney: 999})
	history, err = s.repo.ReportHistory(context.Background(), 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 5 || history[0].TotalMoney != 999 {
		t.Fatalf("day 5 not replaced: %+v", history[0])
	}

	// Old days fall off once the window moves far enough.
	persistReportLocked(s, &DayReport{Day: maxDayReports + 3, TotalMoney: 1})
	history, _ = s.repo.ReportHistory(context.Background(), 200)
	for _, rep := range history {
		if rep.Day <= 3 {
			t.Fatalf("day %d should have been trimmed", rep.Day)
		}
	}
}

func TestPostgresDialectNeedsDSN(t *testing.T) {
	t.Setenv("DB_DIALECT", "postgres")
	t.Setenv("DB_POSTGRES_DSN", "")
	t.Setenv("DATABASE_URL", "")
	if _, err := openRepositoryFromEnv(); err == nil {
		t.Fatal("expected missing DSN error")
	}
}

func TestUnknownDialectRejected(t *testing.T) {
	t.Setenv("DB_DIALECT", "oracle")
	if _, err := openRepositoryFromEnv(); err == nil {
		t.Fatal("expected unsupported dialect error")
	}
}

func TestBindPlaceholders(t *testing.T) {
	sqlite := &SQLRepository{dialect: dialectSQLite}
	if got := sqlite.bind(3); got != "?" {
		t.Fatalf("sqlite bind = %q", got)
	}
	pg := &SQLRepository{dialect: dialectPostgres}
	if got := pg.bind(3); got != "$3" {
		t.Fatalf("postgres bind = %q", got)
	}
	q := pg.insertQuery("t", []string{"a", "b"})
	if q != "INSERT INTO t (a, b) VALUES ($1, $2)" {
		t.Fatalf("insertQuery = %q", q)
	}
}
