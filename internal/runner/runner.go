// Package runner executes scheduled work: crontab commands as subprocesses
// and built-in jobs as plain functions. Every run is timed, logged, and
// published on the event bus so the recorder can persist it.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime/debug"
	"sync"
	"time"

	"marketpipe/internal/eventbus"
	logx "marketpipe/pkg/logx"
)

// Result describes one completed run.
type Result struct {
	Name      string
	StartedAt time.Time
	Duration  time.Duration
	ExitCode  int
	Err       error
}

// RunEvent is the bus payload for job.* events.
type RunEvent struct {
	Name      string
	StartedAt time.Time
	Duration  time.Duration
	ExitCode  int
	Err       string
}

type Runner struct {
	log logx.Logger
	bus eventbus.Bus

	dir   string // working directory for subprocesses
	shell string
}

func New(dir string, log logx.Logger, bus eventbus.Bus) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{log: log, bus: bus, dir: dir, shell: "/bin/sh"}
}

// RunCommand executes command via `sh -c` with env appended to the daemon's
// environment. Child stdout/stderr are streamed line-by-line into the log.
// A timeout of 0 leaves the run bounded only by ctx.
func (r *Runner) RunCommand(ctx context.Context, name, command string, env []string, timeout time.Duration) Result {
	start := time.Now()
	r.publishStarted(name, start)

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.shell, "-c", command)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.finish(name, start, -1, fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.finish(name, start, -1, fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return r.finish(name, start, -1, fmt.Errorf("start: %w", err))
	}

	log := r.log.With(logx.String("job", name))
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			log.Info(sc.Text(), logx.String("stream", "stdout"))
		}
	}()
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			log.Warn(sc.Text(), logx.String("stream", "stderr"))
		}
	}()

	// Drain pipes before Wait() closes them.
	wg.Wait()
	werr := cmd.Wait()

	code := 0
	var rerr error
	switch {
	case werr == nil:
	case runCtx.Err() != nil:
		code = -1
		rerr = fmt.Errorf("killed: %w", runCtx.Err())
	default:
		var ee *exec.ExitError
		if errors.As(werr, &ee) {
			code = ee.ExitCode()
			rerr = werr
		} else {
			code = -1
			rerr = werr
		}
	}
	return r.finish(name, start, code, rerr)
}

// RunFunc executes a built-in job. A panic is recovered and reported as a
// failed run; the scheduler must keep firing.
func (r *Runner) RunFunc(ctx context.Context, name string, fn func(ctx context.Context) error, timeout time.Duration) (res Result) {
	start := time.Now()
	r.publishStarted(name, start)

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("job panicked",
				logx.String("job", name), logx.Any("panic", p),
				logx.String("stack", string(debug.Stack())))
			res = r.finish(name, start, -1, fmt.Errorf("panic: %v", p))
		}
	}()

	err := fn(runCtx)
	code := 0
	if err != nil {
		code = 1
	}
	return r.finish(name, start, code, err)
}

func (r *Runner) publishStarted(name string, start time.Time) {
	r.log.Debug("job started", logx.String("job", name))
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TypeJobStarted,
			Time: start,
			Data: RunEvent{Name: name, StartedAt: start},
		})
	}
}

func (r *Runner) finish(name string, start time.Time, code int, err error) Result {
	res := Result{
		Name:      name,
		StartedAt: start,
		Duration:  time.Since(start),
		ExitCode:  code,
		Err:       err,
	}

	if err != nil {
		r.log.Error("job failed",
			logx.String("job", name), logx.Int("exit_code", code),
			logx.Duration("took", res.Duration), logx.Err(err))
	} else {
		r.log.Info("job finished",
			logx.String("job", name), logx.Duration("took", res.Duration))
	}

	if r.bus != nil {
		ev := RunEvent{
			Name:      name,
			StartedAt: start,
			Duration:  res.Duration,
			ExitCode:  code,
		}
		if err != nil {
			ev.Err = err.Error()
		}
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeJobFinished, Time: time.Now(), Data: ev})
	}
	return res
}
