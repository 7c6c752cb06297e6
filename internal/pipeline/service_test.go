package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"marketpipe/internal/storage"
	logx "marketpipe/pkg/logx"
)

// memStore collects upserts for assertions.
type memStore struct {
	mu     sync.Mutex
	quotes map[string]storage.Quote // keyed ticker|day
	runs   []storage.RunRecord
}

func newMemStore() *memStore {
	return &memStore{quotes: map[string]storage.Quote{}}
}

func (m *memStore) UpsertQuotes(ctx context.Context, quotes []storage.Quote) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range quotes {
		m.quotes[q.Ticker+"|"+q.Day] = q
	}
	return len(quotes), nil
}

func (m *memStore) LatestDay(ctx context.Context, ticker string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	best := ""
	for _, q := range m.quotes {
		if q.Ticker == ticker && q.Day > best {
			best = q.Day
		}
	}
	return best, best != "", nil
}

func (m *memStore) AppendRun(ctx context.Context, r storage.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *memStore) PruneRuns(ctx context.Context, keep int) (int64, error) { return 0, nil }
func (m *memStore) Close() error                                           { return nil }

const chartBody = `{
  "chart": {
    "result": [{
      "meta": {"symbol": "%s", "exchangeTimezoneName": "UTC"},
      "timestamp": [1755820800, 1755907200, 1755993600],
      "indicators": {"quote": [{
        "open":   [10.0, 10.5, null],
        "high":   [11.0, 11.5, null],
        "low":    [9.5, 10.1, null],
        "close":  [10.8, 11.2, 0],
        "volume": [1000, null, 0]
      }]}
    }],
    "error": null
  }
}`

func chartServer(t *testing.T, fail map[string]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		ticker := parts[len(parts)-1]
		if code, ok := fail[ticker]; ok {
			http.Error(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"no data"}}}`, code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, chartBody, ticker)
	}))
}

func newTestService(t *testing.T, srvURL string, store storage.Store, tickers ...string) *Service {
	t.Helper()
	s := New(Config{
		Tickers:    tickers,
		BaseURL:    srvURL,
		RatePerSec: 1000, // don't throttle tests
	}, store, logx.Nop())
	s.now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestCollectStoresCleanedRows(t *testing.T) {
	t.Parallel()
	srv := chartServer(t, nil)
	defer srv.Close()

	store := newMemStore()
	s := newTestService(t, srv.URL, store, "PETR4.SA")

	if err := s.Collect(context.Background()); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	// Third row has close=0 and must be dropped.
	if got := len(store.quotes); got != 2 {
		t.Fatalf("stored rows = %d, want 2", got)
	}

	q, ok := store.quotes["PETR4.SA|2025-08-22"]
	if !ok {
		t.Fatalf("missing first day; have %v", store.quotes)
	}
	if q.Open != 10.0 || q.High != 11.0 || q.Low != 9.5 || q.Close != 10.8 || q.Volume != 1000 {
		t.Fatalf("row = %+v", q)
	}
	if q.CollectedAt.IsZero() {
		t.Fatal("CollectedAt not set")
	}

	// Second day: null volume becomes zero, row still kept.
	q2, ok := store.quotes["PETR4.SA|2025-08-23"]
	if !ok || q2.Volume != 0 || q2.Close != 11.2 {
		t.Fatalf("second row = %+v ok=%v", q2, ok)
	}
}

func TestCollectIdempotent(t *testing.T) {
	t.Parallel()
	srv := chartServer(t, nil)
	defer srv.Close()

	store := newMemStore()
	s := newTestService(t, srv.URL, store, "VALE3.SA")

	for i := 0; i < 3; i++ {
		if err := s.Collect(context.Background()); err != nil {
			t.Fatalf("Collect #%d: %v", i, err)
		}
	}
	if got := len(store.quotes); got != 2 {
		t.Fatalf("stored rows = %d after re-collection, want 2", got)
	}
}

func TestCollectContinuesPastFailingTicker(t *testing.T) {
	t.Parallel()
	srv := chartServer(t, map[string]int{"DEAD.SA": http.StatusNotFound})
	defer srv.Close()

	store := newMemStore()
	s := newTestService(t, srv.URL, store, "DEAD.SA", "ITUB4.SA")

	if err := s.Collect(context.Background()); err != nil {
		t.Fatalf("Collect: %v (one healthy ticker should be enough)", err)
	}
	if _, ok := store.quotes["ITUB4.SA|2025-08-22"]; !ok {
		t.Fatal("healthy ticker not collected")
	}
}

func TestCollectAllFailed(t *testing.T) {
	t.Parallel()
	srv := chartServer(t, map[string]int{"A.SA": 500, "B.SA": 500})
	defer srv.Close()

	s := newTestService(t, srv.URL, newMemStore(), "A.SA", "B.SA")
	err := s.Collect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "all 2 tickers failed") {
		t.Fatalf("err = %v, want all-failed error", err)
	}
}

func TestCollectNoTickers(t *testing.T) {
	t.Parallel()
	s := New(Config{BaseURL: "http://unused.invalid"}, newMemStore(), logx.Nop())
	if err := s.Collect(context.Background()); err != nil {
		t.Fatalf("Collect with no tickers should be a no-op, got %v", err)
	}
}

func TestNormalizeEmptyResult(t *testing.T) {
	t.Parallel()
	if got := normalize("X", nil, time.Now()); got != nil {
		t.Fatalf("normalize(nil) = %v", got)
	}
	if got := normalize("X", &chartResult{}, time.Now()); got != nil {
		t.Fatalf("normalize(empty) = %v", got)
	}
}
