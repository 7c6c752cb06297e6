package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "marketpipe/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertQuotes(ctx context.Context, quotes []Quote) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if len(quotes) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO daily_quotes(ticker, day, open, high, low, close, volume, collected_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(ticker, day) DO UPDATE SET
		   open=excluded.open, high=excluded.high, low=excluded.low,
		   close=excluded.close, volume=excluded.volume,
		   collected_at=excluded.collected_at`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	n := 0
	for _, q := range quotes {
		at := q.CollectedAt
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			q.Ticker, q.Day, q.Open, q.High, q.Low, q.Close, q.Volume,
			at.Format(time.RFC3339Nano),
		); err != nil {
			return n, err
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *sqliteStore) LatestDay(ctx context.Context, ticker string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrDisabled
	}
	var day string
	err := s.db.QueryRowContext(ctx,
		`SELECT day FROM daily_quotes WHERE ticker = ? ORDER BY day DESC LIMIT 1`,
		ticker).Scan(&day)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return day, true, nil
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs(name, started_at, duration_ms, exit_code, err)
		 VALUES(?,?,?,?,?)`,
		r.Name, r.StartedAt.Format(time.RFC3339Nano), r.Duration.Milliseconds(),
		r.ExitCode, nullStr(r.Err),
	)
	return err
}

func (s *sqliteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if keep <= 0 {
		keep = 1000
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM job_runs WHERE id NOT IN
		   (SELECT id FROM job_runs ORDER BY id DESC LIMIT ?)`,
		keep)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
