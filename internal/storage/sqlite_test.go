package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "marketpipe/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "  NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) = %v, want nil store", driver, st)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestUpsertQuotesIdempotent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	rows := []Quote{
		{Ticker: "PETR4.SA", Day: "2025-08-21", Open: 30, High: 31, Low: 29.5, Close: 30.8, Volume: 1000},
		{Ticker: "PETR4.SA", Day: "2025-08-22", Open: 31, High: 32, Low: 30.5, Close: 31.2, Volume: 2000},
	}
	if n, err := st.UpsertQuotes(ctx, rows); err != nil || n != 2 {
		t.Fatalf("UpsertQuotes = %d, %v", n, err)
	}

	// Re-collecting the same day must overwrite, not duplicate.
	rows[1].Close = 99
	if n, err := st.UpsertQuotes(ctx, rows); err != nil || n != 2 {
		t.Fatalf("re-upsert = %d, %v", n, err)
	}

	day, ok, err := st.LatestDay(ctx, "PETR4.SA")
	if err != nil || !ok || day != "2025-08-22" {
		t.Fatalf("LatestDay = %q, %v, %v", day, ok, err)
	}
}

func TestLatestDayMissingTicker(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	day, ok, err := st.LatestDay(context.Background(), "NOPE.SA")
	if err != nil {
		t.Fatalf("LatestDay: %v", err)
	}
	if ok || day != "" {
		t.Fatalf("LatestDay = %q, %v, want empty", day, ok)
	}
}

func TestUpsertQuotesEmpty(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	if n, err := st.UpsertQuotes(context.Background(), nil); err != nil || n != 0 {
		t.Fatalf("UpsertQuotes(nil) = %d, %v", n, err)
	}
}

func TestAppendAndPruneRuns(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		rec := RunRecord{
			Name:      "pipeline",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Duration:  3 * time.Second,
			ExitCode:  0,
		}
		if i == 9 {
			rec.ExitCode = 1
			rec.Err = "boom"
		}
		if err := st.AppendRun(ctx, rec); err != nil {
			t.Fatalf("AppendRun #%d: %v", i, err)
		}
	}

	removed, err := st.PruneRuns(ctx, 3)
	if err != nil {
		t.Fatalf("PruneRuns: %v", err)
	}
	if removed != 7 {
		t.Fatalf("PruneRuns removed %d, want 7", removed)
	}

	// A second prune at the same retention is a no-op.
	removed, err = st.PruneRuns(ctx, 3)
	if err != nil || removed != 0 {
		t.Fatalf("second PruneRuns = %d, %v", removed, err)
	}
}

func TestFileDriverReplay(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "quotes")}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rows := []Quote{
		{Ticker: "VALE3.SA", Day: "2025-08-21", Close: 60.1},
		{Ticker: "VALE3.SA", Day: "2025-08-22", Close: 60.5},
	}
	if _, err := st.UpsertQuotes(ctx, rows); err != nil {
		t.Fatalf("UpsertQuotes: %v", err)
	}
	if err := st.AppendRun(ctx, RunRecord{Name: "pipeline", StartedAt: time.Now()}); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen and check the latest-day index was rebuilt from disk.
	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	day, ok, err := st.LatestDay(ctx, "VALE3.SA")
	if err != nil || !ok || day != "2025-08-22" {
		t.Fatalf("LatestDay after replay = %q, %v, %v", day, ok, err)
	}
}
