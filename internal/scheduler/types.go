package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"marketpipe/internal/runner"
)

// Config controls the trigger service.
type Config struct {
	Timezone string // IANA TZ, e.g. "America/Sao_Paulo"; empty = local

	// Overlap decides what happens when an entry fires while its previous
	// run is still in flight. Classic cron allows overlap, so that is the
	// default.
	Overlap OverlapPolicy

	// JobTimeout bounds a single run; 0 disables the bound.
	JobTimeout time.Duration

	HistorySize int // bounded run history; default 200
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	OverlapSkip
)

func ParseOverlap(s string) (OverlapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "allow":
		return OverlapAllow, nil
	case "skip", "skip_if_running":
		return OverlapSkip, nil
	default:
		return OverlapAllow, fmt.Errorf("invalid overlap policy %q (use \"allow\" or \"skip\")", s)
	}
}

// RunFunc performs one run of an entry (subprocess or built-in job).
type RunFunc func(ctx context.Context) runner.Result

// Definition is one schedule entry to register: a validated spec plus the
// closure that performs the run.
type Definition struct {
	Name string
	Spec string
	Run  RunFunc
}

// runState tracks whether an entry is already in flight, for OverlapSkip.
type runState struct {
	mu       sync.Mutex
	inflight int
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// HistoryItem is one completed run kept in the bounded in-memory ring.
type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	ExitCode int
	Error    string
	Skipped  bool
}

// EntryInfo describes one registered entry in a snapshot.
type EntryInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

// Snapshot is a point-in-time view of the active schedule.
type Snapshot struct {
	Timezone string
	Entries  []EntryInfo
	History  []HistoryItem
}

type entry struct {
	name    string
	spec    string
	run     RunFunc
	entryID cron.EntryID
	state   runState
}
