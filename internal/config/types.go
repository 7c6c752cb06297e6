package config

type Config struct {
	// Crontab is the path of the schedule-definition file loaded at start
	// (and watched for changes when scheduler.watch_crontab is true).
	Crontab string `json:"crontab"`

	// Workdir is the working directory for job subprocesses.
	// Defaults to the daemon's own working directory.
	Workdir string `json:"workdir,omitempty"`

	// DataDir is the designated volume mount point. It is created (if
	// missing) and checked for writability at startup. Default: "/data".
	DataDir string `json:"data_dir,omitempty"`

	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Pipeline configures the built-in market-data collection job.
	Pipeline *PipelineConfig `json:"pipeline,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Pprof   *PprofConfig   `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// SchedulerConfig controls trigger behavior.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"` // IANA TZ, e.g. "America/Sao_Paulo"

	// Overlap controls what happens when an entry fires while its previous
	// run is still in flight: "allow" (classic cron, default) or "skip".
	Overlap string `json:"overlap,omitempty"`

	// JobTimeout bounds a single run. "0s" (default) disables the bound.
	JobTimeout string `json:"job_timeout,omitempty"`

	HistorySize int `json:"history_size,omitempty"` // default 200

	// WatchCrontab reloads the schedule file on change instead of requiring
	// a restart.
	WatchCrontab bool `json:"watch_crontab,omitempty"`
}

// PipelineConfig controls the built-in quote collection job.
//
// The job fires either via pipeline.schedule or via an "@job pipeline"
// crontab entry; setting both registers it twice, so pick one.
type PipelineConfig struct {
	Enabled  bool     `json:"enabled"`
	Schedule string   `json:"schedule,omitempty"` // cron spec or @descriptor
	Tickers  []string `json:"tickers"`

	// BaseURL of the chart endpoint. The ticker is appended as the final
	// path element.
	BaseURL string `json:"base_url,omitempty"`

	WindowDays  int    `json:"window_days,omitempty"`  // history window, default 5
	HTTPTimeout string `json:"http_timeout,omitempty"` // default "15s"
	RatePerSec  int    `json:"rate_per_sec,omitempty"` // outbound request budget, default 2
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "/data/marketpipe.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// RunRetention caps the number of job_runs rows kept. 0 = default (1000).
	RunRetention int `json:"run_retention,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
