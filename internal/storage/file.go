package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "marketpipe/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.quotes.jsonl (append-only JSON Lines; latest line per
//     (ticker, day) wins on replay)
//   - <prefix>.runs.jsonl   (append-only JSON Lines)
//
// It is meant for environments where the sqlite file is unwanted (tests,
// scratch containers); the sqlite driver is the real deployment target.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	quotesFile *os.File
	runsFile   *os.File

	// latestDay indexes the newest day seen per ticker, rebuilt on open.
	latestDay map[string]string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	quotesPath := prefix + ".quotes.jsonl"
	runsPath := prefix + ".runs.jsonl"

	latest := map[string]string{}
	if err := replayQuotes(quotesPath, latest); err != nil {
		return nil, err
	}

	qf, err := os.OpenFile(quotesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = qf.Close()
		return nil, err
	}

	return &fileStore{
		log:        log,
		quotesFile: qf,
		runsFile:   rf,
		latestDay:  latest,
	}, nil
}

func replayQuotes(path string, latest map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var q Quote
		if err := json.Unmarshal(sc.Bytes(), &q); err != nil {
			// Tolerate a torn trailing line from a crashed writer.
			continue
		}
		if q.Ticker == "" || q.Day == "" {
			continue
		}
		if q.Day > latest[q.Ticker] {
			latest[q.Ticker] = q.Day
		}
	}
	return sc.Err()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.quotesFile != nil {
		err1 = s.quotesFile.Close()
		s.quotesFile = nil
	}
	if s.runsFile != nil {
		err2 = s.runsFile.Close()
		s.runsFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) UpsertQuotes(ctx context.Context, quotes []Quote) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quotesFile == nil {
		return 0, errors.New("quotes file closed")
	}
	enc := json.NewEncoder(s.quotesFile)
	n := 0
	for _, q := range quotes {
		if err := enc.Encode(q); err != nil {
			return n, err
		}
		if q.Day > s.latestDay[q.Ticker] {
			s.latestDay[q.Ticker] = q.Day
		}
		n++
	}
	return n, nil
}

func (s *fileStore) LatestDay(ctx context.Context, ticker string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	day, ok := s.latestDay[ticker]
	return day, ok, nil
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return errors.New("runs file closed")
	}
	return json.NewEncoder(s.runsFile).Encode(r)
}

// PruneRuns is a no-op for the file driver; the runs file is append-only and
// rotation belongs to whoever owns the directory.
func (s *fileStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	_ = ctx
	_ = keep
	return 0, nil
}
