package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"marketpipe/internal/config"
	"marketpipe/internal/observability/pprof"
	"marketpipe/internal/pipeline"
	"marketpipe/internal/scheduler"
	"marketpipe/internal/storage"
	logx "marketpipe/pkg/logx"
)

// The map* helpers translate the file config (strings, optional sections)
// into each service's typed config, applying defaults.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	overlap, err := scheduler.ParseOverlap(cfg.Scheduler.Overlap)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("scheduler.overlap: %w", err)
	}
	timeout, err := config.ParseDurationField("scheduler.job_timeout", cfg.Scheduler.JobTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Timezone:    cfg.Scheduler.Timezone,
		Overlap:     overlap,
		JobTimeout:  timeout,
		HistorySize: cfg.Scheduler.HistorySize,
	}, nil
}

func mapStorage(cfg *config.Config, dataDir string) (storage.Config, error) {
	sc := storage.Config{
		Driver: "sqlite",
		Path:   filepath.Join(dataDir, "marketpipe.db"),
	}
	if cfg.Storage != nil {
		// An empty driver keeps the sqlite default; disabling storage
		// takes an explicit "none".
		if d := strings.TrimSpace(cfg.Storage.Driver); d != "" {
			sc.Driver = d
		}
		if strings.TrimSpace(cfg.Storage.Path) != "" {
			sc.Path = cfg.Storage.Path
		}
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		sc.BusyTimeout = busy
		sc.RunRetention = cfg.Storage.RunRetention
	}
	return sc, nil
}

func mapPipeline(cfg *config.Config) (pipeline.Config, error) {
	p := cfg.Pipeline
	if p == nil {
		return pipeline.Config{}, nil
	}
	if len(p.Tickers) == 0 {
		return pipeline.Config{}, fmt.Errorf("pipeline.tickers is required when the pipeline is enabled")
	}
	baseURL := strings.TrimSpace(p.BaseURL)
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com/v8/finance/chart"
	}
	timeout, err := config.ParseDurationOrDefault("pipeline.http_timeout", p.HTTPTimeout, 15*time.Second)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		Tickers:     p.Tickers,
		BaseURL:     baseURL,
		WindowDays:  p.WindowDays,
		HTTPTimeout: timeout,
		RatePerSec:  p.RatePerSec,
	}, nil
}

func mapPprof(cfg *config.Config) (pprof.Config, error) {
	if cfg.Pprof == nil {
		return pprof.Config{}, nil
	}
	p := cfg.Pprof
	rt, err := config.ParseDurationField("pprof.read_timeout", p.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	wt, err := config.ParseDurationField("pprof.write_timeout", p.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	it, err := config.ParseDurationField("pprof.idle_timeout", p.IdleTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:       p.Enabled,
		Addr:          p.Addr,
		Prefix:        p.Prefix,
		Token:         p.Token,
		AllowInsecure: p.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}

// validateConfig is the hot-reload gate: a config revision that fails any
// mapping is rejected before it is committed.
func validateConfig(ctx context.Context, cfg *config.Config) error {
	_ = ctx
	if _, err := mapScheduler(cfg); err != nil {
		return err
	}
	if cfg.Pipeline != nil && cfg.Pipeline.Enabled {
		if _, err := mapPipeline(cfg); err != nil {
			return err
		}
	}
	if _, err := mapPprof(cfg); err != nil {
		return err
	}
	return nil
}
