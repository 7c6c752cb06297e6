package app

import (
	"context"
	"time"

	"marketpipe/internal/eventbus"
	"marketpipe/internal/runner"
	"marketpipe/internal/storage"
	logx "marketpipe/pkg/logx"
)

// startRecorder subscribes to job.finished events and persists them as run
// history. It lives on the bus rather than inside the runner so a storage
// hiccup can never fail a job run.
func (a *App) startRecorder() {
	if a.store == nil {
		return
	}
	ch, unsub := a.bus.Subscribe(64)
	log := a.log.With(logx.String("comp", "recorder"))

	a.sup.Go0("run.recorder", func(ctx context.Context) {
		defer unsub()
		appends := 0
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Type != eventbus.TypeJobFinished {
					continue
				}
				re, ok := ev.Data.(runner.RunEvent)
				if !ok {
					continue
				}

				rec := storage.RunRecord{
					Name:      re.Name,
					StartedAt: re.StartedAt,
					Duration:  re.Duration,
					ExitCode:  re.ExitCode,
					Err:       re.Err,
				}
				wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := a.store.AppendRun(wctx, rec); err != nil {
					log.Warn("run record not persisted", logx.String("job", re.Name), logx.Err(err))
				}
				cancel()

				appends++
				if appends%50 == 0 {
					pctx, pcancel := context.WithTimeout(context.Background(), 2*time.Second)
					if n, err := a.store.PruneRuns(pctx, a.runRetention); err == nil && n > 0 {
						log.Debug("run history pruned", logx.Int64("removed", n))
					}
					pcancel()
				}
			}
		}
	})
}
