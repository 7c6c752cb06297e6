package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"marketpipe/internal/crontab"
	"marketpipe/internal/pipeline"
	"marketpipe/internal/runner"
	"marketpipe/internal/scheduler"
)

// buildDefinitions turns a parsed crontab (plus the config-scheduled
// pipeline, if any) into scheduler entries. Unknown built-in job references
// fail the whole build so a typo never silently drops an entry.
func (a *App) buildDefinitions(f *crontab.File) ([]scheduler.Definition, error) {
	timeout := a.schedCfg.JobTimeout

	defs := make([]scheduler.Definition, 0, len(f.Entries)+1)
	for _, e := range f.Entries {
		e := e
		name := e.Name()

		var run scheduler.RunFunc
		if e.Job != "" {
			fn, err := a.builtinJob(e.Job)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", f.Path, e.Line, err)
			}
			run = func(ctx context.Context) runner.Result {
				return a.run.RunFunc(ctx, name, fn, timeout)
			}
		} else {
			run = func(ctx context.Context) runner.Result {
				return a.run.RunCommand(ctx, name, e.Command, e.Env, timeout)
			}
		}
		defs = append(defs, scheduler.Definition{Name: name, Spec: e.Spec, Run: run})
	}

	// The pipeline can also be scheduled straight from the config, without
	// a crontab line. A hot reload may have dropped the pipeline section
	// even though the service was built at startup, so check the section,
	// not just the service.
	if a.pipe != nil {
		if cfg := a.cfgm.Get(); cfg != nil && cfg.Pipeline != nil {
			if spec := strings.TrimSpace(cfg.Pipeline.Schedule); spec != "" {
				fn, _ := a.builtinJob(pipeline.JobName)
				defs = append(defs, scheduler.Definition{
					Name: pipeline.JobName,
					Spec: spec,
					Run: func(ctx context.Context) runner.Result {
						return a.run.RunFunc(ctx, pipeline.JobName, fn, timeout)
					},
				})
			}
		}
	}
	return defs, nil
}

func (a *App) builtinJob(name string) (func(ctx context.Context) error, error) {
	switch name {
	case pipeline.JobName:
		if a.pipe == nil {
			return nil, fmt.Errorf("built-in job %q referenced but pipeline is disabled", name)
		}
		return a.pipe.Collect, nil
	default:
		return nil, fmt.Errorf("unknown built-in job %q", name)
	}
}

// EntryListing is one row of ListEntries output.
type EntryListing struct {
	Name string
	Spec string
	Next time.Time
}

// ListEntries loads the crontab and reports every entry with its next fire
// time, without starting the daemon. Backs the -list flag.
func (a *App) ListEntries() ([]EntryListing, error) {
	f, err := crontab.Load(a.crontabPath)
	if err != nil {
		return nil, fmt.Errorf("load crontab: %w", err)
	}
	defs, err := a.buildDefinitions(f)
	if err != nil {
		return nil, err
	}

	loc := time.Local
	if tz := strings.TrimSpace(a.schedCfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	now := time.Now().In(loc)
	out := make([]EntryListing, 0, len(defs))
	for _, d := range defs {
		l := EntryListing{Name: d.Name, Spec: d.Spec}
		if sched, err := parser.Parse(d.Spec); err == nil {
			l.Next = sched.Next(now)
		}
		out = append(out, l)
	}
	return out, nil
}

// RunOnce executes a single entry immediately, bypassing the schedule, and
// returns its exit code. name is a built-in job name ("pipeline"), an exact
// crontab command, or a 1-based entry index.
func (a *App) RunOnce(ctx context.Context, name string) (int, error) {
	f, err := crontab.Load(a.crontabPath)
	if err != nil {
		return -1, fmt.Errorf("load crontab: %w", err)
	}
	defs, err := a.buildDefinitions(f)
	if err != nil {
		return -1, err
	}

	def, err := matchEntry(defs, name)
	if err != nil {
		return -1, err
	}

	res := def.Run(ctx)
	return res.ExitCode, res.Err
}

func matchEntry(defs []scheduler.Definition, name string) (scheduler.Definition, error) {
	name = strings.TrimSpace(name)
	for _, d := range defs {
		if d.Name == name || d.Name == "@job "+name {
			return d, nil
		}
	}
	if idx, err := strconv.Atoi(name); err == nil {
		if idx >= 1 && idx <= len(defs) {
			return defs[idx-1], nil
		}
		return scheduler.Definition{}, fmt.Errorf("entry index %d out of range (1..%d)", idx, len(defs))
	}
	return scheduler.Definition{}, fmt.Errorf("no schedule entry named %q", name)
}
