// Package app wires the daemon together: config, logging, storage, the
// trigger service, the crontab file, the built-in pipeline job, and the
// process lifecycle. The daemon runs in the foreground; its lifetime is the
// container's lifetime.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	sd "github.com/coreos/go-systemd/v22/daemon"

	"marketpipe/internal/config"
	"marketpipe/internal/crontab"
	"marketpipe/internal/eventbus"
	"marketpipe/internal/observability/pprof"
	"marketpipe/internal/pipeline"
	"marketpipe/internal/runner"
	"marketpipe/internal/runtime/supervisor"
	"marketpipe/internal/scheduler"
	"marketpipe/internal/storage"
	logx "marketpipe/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store storage.Store
	run   *runner.Runner
	sched *scheduler.Service
	pipe  *pipeline.Service
	pprof *pprof.Service

	sup *supervisor.Supervisor

	schedCfg scheduler.Config

	crontabPath  string
	watchCrontab bool
	dataDir      string
	runRetention int
}

// New loads the config file and builds all services. Nothing runs until
// Start().
func New(cfgPath string, overrides Overrides) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if overrides.Crontab != "" {
		cfg.Crontab = overrides.Crontab
	}
	if strings.TrimSpace(cfg.Crontab) == "" {
		return nil, fmt.Errorf("config: crontab path is required")
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(validateConfig)

	bus := eventbus.New()

	dataDir := strings.TrimSpace(cfg.DataDir)
	if dataDir == "" {
		dataDir = "/data"
	}

	// Storage defaults to sqlite under the data mount so a bare config
	// still persists what the pipeline collects.
	storeCfg, err := mapStorage(cfg, dataDir)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", storeCfg.Driver), logx.String("path", storeCfg.Path))
	}

	run := runner.New(cfg.Workdir, log.With(logx.String("comp", "runner")), bus)

	schedCfg, err := mapScheduler(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), bus)

	var pipe *pipeline.Service
	if cfg.Pipeline != nil && cfg.Pipeline.Enabled {
		pcfg, err := mapPipeline(cfg)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		pipe = pipeline.New(pcfg, store, log.With(logx.String("comp", "pipeline")))
	}

	pprofCfg, err := mapPprof(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	pprofSvc := pprof.New(pprofCfg, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgm:         cfgm,
		log:          log,
		logs:         logSvc,
		bus:          bus,
		store:        store,
		run:          run,
		sched:        sched,
		pipe:         pipe,
		pprof:        pprofSvc,
		schedCfg:     schedCfg,
		crontabPath:  cfg.Crontab,
		watchCrontab: cfg.Scheduler.WatchCrontab,
		dataDir:      dataDir,
		runRetention: storeCfg.RunRetention,
	}, nil
}

// Overrides carries command-line overrides applied on top of the config file.
type Overrides struct {
	Crontab string
}

// Start registers the schedule and begins triggering. It returns once the
// daemon is running; cancellation of ctx (or a fatal error) closes Done().
func (a *App) Start(ctx context.Context) error {
	if err := ensureDataDir(a.dataDir); err != nil {
		return err
	}

	f, err := crontab.Load(a.crontabPath)
	if err != nil {
		return fmt.Errorf("load crontab: %w", err)
	}
	defs, err := a.buildDefinitions(f)
	if err != nil {
		return err
	}
	if err := a.sched.SetEntries(defs); err != nil {
		return err
	}

	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(false),
	)
	supCtx := a.sup.Context()

	a.sched.Start(supCtx)
	a.startRecorder()

	if a.watchCrontab {
		a.sup.Go("crontab.watch", func(ctx context.Context) error {
			return crontab.Watch(ctx, a.crontabPath, a.log.With(logx.String("comp", "crontab")), a.onCrontabReload)
		})
	}

	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.apply", a.applyConfigLoop)

	a.pprof.Start()

	a.log.Info("daemon started",
		logx.String("crontab", a.crontabPath),
		logx.Int("entries", len(defs)),
		logx.String("data_dir", a.dataDir))

	// Under systemd Type=notify this flips the unit to active; elsewhere
	// it is a cheap no-op.
	_, _ = sd.SdNotify(false, sd.SdNotifyReady)
	return nil
}

// Done is closed when the supervisor context ends (Stop() or fatal error).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Stop shuts everything down, bounded by ctx. In-flight runs get until the
// deadline to finish; the store is closed last so the recorder can drain.
func (a *App) Stop(ctx context.Context) error {
	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)

	a.sched.Stop(ctx)
	a.pprof.Stop(ctx)
	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("daemon stopped")
	_ = a.logs.Close()
	return nil
}

func (a *App) onCrontabReload(f *crontab.File) {
	defs, err := a.buildDefinitions(f)
	if err != nil {
		a.log.Warn("crontab reload rejected", logx.Err(err))
		return
	}
	if err := a.sched.SetEntries(defs); err != nil {
		a.log.Warn("crontab reload rejected", logx.Err(err))
	}
}

// applyConfigLoop applies hot-reloadable sections (logging, pprof) when the
// config file changes. Scheduler/storage/pipeline changes need a restart;
// the loop says so instead of half-applying them.
func (a *App) applyConfigLoop(ctx context.Context) {
	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(mapLogging(cfg))
			if pc, err := mapPprof(cfg); err == nil {
				a.pprof.Reconfigure(ctx, pc)
			}
			a.log.Info("config applied (logging, pprof); other sections need a restart")
		}
	}
}

// ensureDataDir creates the volume mount point if missing and proves it is
// writable before the first job needs it.
func ensureDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("data dir %s: %w", dir, err)
	}
	probe, err := os.CreateTemp(dir, ".marketpipe-probe-*")
	if err != nil {
		return fmt.Errorf("data dir %s is not writable: %w", dir, err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}
