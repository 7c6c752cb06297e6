// Package pipeline implements the built-in market-data collection job:
// fetch daily OHLCV rows for a configured ticker list, normalize them, and
// upsert them into storage keyed on (ticker, day).
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"marketpipe/internal/storage"
	logx "marketpipe/pkg/logx"
)

// JobName is how crontab entries reference this job ("@job pipeline").
const JobName = "pipeline"

type Config struct {
	Tickers []string

	// BaseURL of the chart endpoint; the ticker is appended as the final
	// path element.
	BaseURL string

	WindowDays  int           // history window; default 5
	HTTPTimeout time.Duration // default 15s
	RatePerSec  int           // outbound request budget; default 2
}

func (c Config) withDefaults() Config {
	if c.WindowDays <= 0 {
		c.WindowDays = 5
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 2
	}
	return c
}

type Service struct {
	cfg   Config
	log   logx.Logger
	store storage.Store

	client  *http.Client
	limiter *rate.Limiter

	now func() time.Time // test seam
}

func New(cfg Config, store storage.Store, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		store:   store,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		now:     time.Now,
	}
}

// Collect runs one full collection pass. A per-ticker failure is logged and
// skipped; the pass fails only when every ticker fails, so one delisted
// symbol never starves the rest of the list.
func (s *Service) Collect(ctx context.Context) error {
	if len(s.cfg.Tickers) == 0 {
		s.log.Warn("no tickers configured; nothing to collect")
		return nil
	}
	if s.store == nil {
		return fmt.Errorf("pipeline requires storage (set storage.driver)")
	}

	start := s.now()
	okCount := 0
	rows := 0
	for _, ticker := range s.cfg.Tickers {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		n, err := s.collectOne(ctx, ticker)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("ticker collection failed", logx.String("ticker", ticker), logx.Err(err))
			continue
		}
		okCount++
		rows += n
	}

	s.log.Info("collection finished",
		logx.Int("tickers_ok", okCount),
		logx.Int("tickers_failed", len(s.cfg.Tickers)-okCount),
		logx.Int("rows", rows),
		logx.Duration("took", s.now().Sub(start)))

	if okCount == 0 {
		return fmt.Errorf("all %d tickers failed", len(s.cfg.Tickers))
	}
	return nil
}

func (s *Service) collectOne(ctx context.Context, ticker string) (int, error) {
	s.log.Debug("extracting ticker", logx.String("ticker", ticker))

	res, err := s.fetchChart(ctx, ticker)
	if err != nil {
		return 0, err
	}
	if res == nil || len(res.Timestamp) == 0 {
		s.log.Warn("no data for ticker", logx.String("ticker", ticker))
		return 0, nil
	}

	quotes := normalize(ticker, res, s.now())
	if len(quotes) == 0 {
		s.log.Warn("ticker returned no valid rows", logx.String("ticker", ticker))
		return 0, nil
	}

	n, err := s.store.UpsertQuotes(ctx, quotes)
	if err != nil {
		return 0, fmt.Errorf("store %s: %w", ticker, err)
	}
	s.log.Debug("ticker stored", logx.String("ticker", ticker), logx.Int("rows", n))
	return n, nil
}

// normalize flattens a chart result into cleaned quote rows. Rows without a
// close price (suspended sessions, padding nulls) are dropped; volume nulls
// become zero, which is how the feed reports untraded days.
func normalize(ticker string, r *chartResult, collectedAt time.Time) []storage.Quote {
	if r == nil || len(r.Indicators.Quote) == 0 {
		return nil
	}
	q := r.Indicators.Quote[0]
	loc := resultLocation(r)

	out := make([]storage.Quote, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		c := at(q.Close, i)
		if c == nil || *c == 0 {
			continue
		}
		row := storage.Quote{
			Ticker:      ticker,
			Day:         time.Unix(ts, 0).In(loc).Format("2006-01-02"),
			Close:       *c,
			CollectedAt: collectedAt,
		}
		if v := at(q.Open, i); v != nil {
			row.Open = *v
		}
		if v := at(q.High, i); v != nil {
			row.High = *v
		}
		if v := at(q.Low, i); v != nil {
			row.Low = *v
		}
		if v := atInt(q.Volume, i); v != nil {
			row.Volume = *v
		}
		out = append(out, row)
	}
	return out
}

func at(xs []*float64, i int) *float64 {
	if i < 0 || i >= len(xs) {
		return nil
	}
	return xs[i]
}

func atInt(xs []*int64, i int) *int64 {
	if i < 0 || i >= len(xs) {
		return nil
	}
	return xs[i]
}
