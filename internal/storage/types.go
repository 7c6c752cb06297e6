package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default for real deployments)
//   - "file": dependency-free file backend (jsonl)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// RunRetention caps job_runs rows. 0 applies the default (1000).
	RunRetention int
}

// Quote is one cleaned daily OHLCV row.
// (ticker, day) is the natural key; re-collection overwrites in place.
type Quote struct {
	Ticker string  `json:"ticker"`
	Day    string  `json:"day"` // trading day, "2006-01-02"
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`

	CollectedAt time.Time `json:"collected_at"`
}

// RunRecord is one completed (or failed) job run.
type RunRecord struct {
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	ExitCode  int           `json:"exit_code"`
	Err       string        `json:"err,omitempty"`
}

// Store is the persistence API used by the pipeline and the run recorder.
type Store interface {
	UpsertQuotes(ctx context.Context, quotes []Quote) (int, error)
	LatestDay(ctx context.Context, ticker string) (day string, ok bool, err error)
	AppendRun(ctx context.Context, r RunRecord) error
	PruneRuns(ctx context.Context, keep int) (removed int64, err error)
	Close() error
}
