package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"marketpipe/internal/eventbus"
	logx "marketpipe/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []*entry

	// baseCtx is the context runs inherit; set in Start().
	baseCtx context.Context

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs,
		// so config-provided schedules can be finer-grained than the crontab.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// SetEntries replaces the active schedule atomically. It validates every
// spec first; a single bad definition leaves the previous schedule running.
// Safe to call before Start() and on hot reload.
func (s *Service) SetEntries(defs []Definition) error {
	for _, d := range defs {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("schedule entry with empty name")
		}
		if d.Run == nil {
			return fmt.Errorf("schedule %q has no run function", d.Name)
		}
		if _, err := s.parser.Parse(d.Spec); err != nil {
			return fmt.Errorf("schedule %q: invalid spec %q: %w", d.Name, d.Spec, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Deregister the old generation if cron is live.
	if s.c != nil {
		for _, e := range s.defs {
			s.c.Remove(e.entryID)
		}
	}

	entries := make([]*entry, 0, len(defs))
	for _, d := range defs {
		entries = append(entries, &entry{name: d.Name, spec: d.Spec, run: d.Run})
	}
	s.defs = entries

	if s.c != nil {
		for _, e := range s.defs {
			if err := s.addCronLocked(e); err != nil {
				return err
			}
		}
	}
	s.log.Info("schedule registered", logx.Int("entries", len(s.defs)))
	return nil
}

// Start begins triggering. Runs inherit ctx, so canceling it aborts
// in-flight work.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.baseCtx = ctx

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	for _, e := range s.defs {
		_ = s.addCronLocked(e)
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering and waits for in-flight runs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}

	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) addCronLocked(e *entry) error {
	id, err := s.c.AddFunc(e.spec, func() { s.fire(e) })
	if err != nil {
		s.log.Error("schedule registration failed",
			logx.String("name", e.name), logx.String("spec", e.spec), logx.Err(err))
		return err
	}
	e.entryID = id
	s.log.Debug("schedule added", logx.String("name", e.name), logx.String("spec", e.spec))
	return nil
}

func (s *Service) fire(e *entry) {
	s.mu.Lock()
	cfg := s.cfg
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Overlap == OverlapSkip {
		if !e.state.tryAcquire() {
			s.log.Warn("run skipped; previous still in flight", logx.String("job", e.name))
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobSkipped, Data: e.name})
			}
			s.appendHistory(HistoryItem{Name: e.name, Started: time.Now(), Skipped: true})
			return
		}
		defer e.state.release()
	}

	res := e.run(ctx)

	item := HistoryItem{
		Name:     res.Name,
		Started:  res.StartedAt,
		Duration: res.Duration,
		ExitCode: res.ExitCode,
	}
	if res.Err != nil {
		item.Error = res.Err.Error()
	}
	s.appendHistory(item)
}

func (s *Service) appendHistory(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()
	if size <= 0 {
		size = 200
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to local",
			logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
