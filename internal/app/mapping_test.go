package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"marketpipe/internal/config"
	"marketpipe/internal/runner"
	"marketpipe/internal/scheduler"
)

func TestMapScheduler(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Scheduler: config.SchedulerConfig{
		Timezone:   "America/Sao_Paulo",
		Overlap:    "skip",
		JobTimeout: "10m",
	}}
	sc, err := mapScheduler(cfg)
	if err != nil {
		t.Fatalf("mapScheduler: %v", err)
	}
	if sc.Overlap != scheduler.OverlapSkip || sc.JobTimeout != 10*time.Minute {
		t.Fatalf("mapped = %+v", sc)
	}

	cfg.Scheduler.Overlap = "sometimes"
	if _, err := mapScheduler(cfg); err == nil {
		t.Fatal("invalid overlap must be rejected")
	}

	cfg.Scheduler.Overlap = ""
	cfg.Scheduler.JobTimeout = "soon"
	if _, err := mapScheduler(cfg); err == nil {
		t.Fatal("invalid job_timeout must be rejected")
	}
}

func TestMapStorageDefaults(t *testing.T) {
	t.Parallel()
	sc, err := mapStorage(&config.Config{}, "/data")
	if err != nil {
		t.Fatalf("mapStorage: %v", err)
	}
	if sc.Driver != "sqlite" || sc.Path != filepath.Join("/data", "marketpipe.db") {
		t.Fatalf("defaults = %+v", sc)
	}

	sc, err = mapStorage(&config.Config{Storage: &config.StorageConfig{
		Driver:      "file",
		Path:        "/tmp/q",
		BusyTimeout: "2s",
	}}, "/data")
	if err != nil {
		t.Fatalf("mapStorage: %v", err)
	}
	if sc.Driver != "file" || sc.Path != "/tmp/q" || sc.BusyTimeout != 2*time.Second {
		t.Fatalf("explicit = %+v", sc)
	}

	// A storage section without a driver keeps the sqlite default.
	sc, err = mapStorage(&config.Config{Storage: &config.StorageConfig{
		BusyTimeout: "1s",
	}}, "/data")
	if err != nil {
		t.Fatalf("mapStorage: %v", err)
	}
	if sc.Driver != "sqlite" || sc.Path != filepath.Join("/data", "marketpipe.db") {
		t.Fatalf("empty driver = %+v, want sqlite default kept", sc)
	}
}

func TestMapPipelineRequiresTickers(t *testing.T) {
	t.Parallel()
	_, err := mapPipeline(&config.Config{Pipeline: &config.PipelineConfig{Enabled: true}})
	if err == nil {
		t.Fatal("empty ticker list must be rejected")
	}

	pc, err := mapPipeline(&config.Config{Pipeline: &config.PipelineConfig{
		Enabled: true,
		Tickers: []string{"PETR4.SA"},
	}})
	if err != nil {
		t.Fatalf("mapPipeline: %v", err)
	}
	if pc.BaseURL == "" {
		t.Fatal("default base URL not applied")
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	good := &config.Config{Scheduler: config.SchedulerConfig{Overlap: "allow"}}
	if err := validateConfig(context.Background(), good); err != nil {
		t.Fatalf("validateConfig: %v", err)
	}

	bad := &config.Config{Scheduler: config.SchedulerConfig{JobTimeout: "forever"}}
	if err := validateConfig(context.Background(), bad); err == nil {
		t.Fatal("bad duration must fail validation")
	}
}

func TestEnsureDataDir(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested", "data")
	if err := ensureDataDir(dir); err != nil {
		t.Fatalf("ensureDataDir: %v", err)
	}
	// Idempotent on an existing directory.
	if err := ensureDataDir(dir); err != nil {
		t.Fatalf("ensureDataDir again: %v", err)
	}
}

func TestMatchEntry(t *testing.T) {
	t.Parallel()
	run := func(ctx context.Context) runner.Result { return runner.Result{} }
	defs := []scheduler.Definition{
		{Name: "@job pipeline", Spec: "@hourly", Run: run},
		{Name: "echo hi", Spec: "@daily", Run: run},
	}

	tests := []struct {
		query string
		want  string
		ok    bool
	}{
		{"pipeline", "@job pipeline", true},
		{"@job pipeline", "@job pipeline", true},
		{"echo hi", "echo hi", true},
		{"2", "echo hi", true},
		{"0", "", false},
		{"3", "", false},
		{"missing", "", false},
	}
	for _, tt := range tests {
		d, err := matchEntry(defs, tt.query)
		if tt.ok != (err == nil) {
			t.Errorf("matchEntry(%q) err = %v, ok = %v", tt.query, err, tt.ok)
			continue
		}
		if tt.ok && d.Name != tt.want {
			t.Errorf("matchEntry(%q) = %q, want %q", tt.query, d.Name, tt.want)
		}
	}
}
