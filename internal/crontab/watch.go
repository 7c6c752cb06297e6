package crontab

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "marketpipe/pkg/logx"
)

// Watch reloads the schedule file on change and hands the parsed result to
// onReload. A file that no longer parses is logged and ignored, keeping the
// previous schedule active.
//
// Events are debounced: editors and atomic-rename writers emit several
// events per save.
func Watch(ctx context.Context, path string, log logx.Logger, onReload func(*File)) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	const backoffMax = 5 * time.Second
	backoff := 250 * time.Millisecond

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			f, err := Load(path)
			if err != nil {
				log.Warn("crontab reload rejected; keeping previous schedule",
					logx.String("path", path), logx.Err(err))
				return
			}
			log.Info("crontab reloaded",
				logx.String("path", path), logx.Int("entries", len(f.Entries)))
			onReload(f)
		})
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			log.Warn("crontab watch init failed", logx.Err(err), logx.String("dir", dir))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < backoffMax {
				backoff *= 2
			}
			continue
		}
		backoff = 250 * time.Millisecond

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), base) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
						debounce()
					}
				}
			case werr, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if werr != nil {
					log.Warn("crontab watch error", logx.Err(werr), logx.String("dir", dir))
					if strings.Contains(strings.ToLower(werr.Error()), "closed") {
						broken = true
					}
				}
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < backoffMax {
			backoff *= 2
		}
	}
}
