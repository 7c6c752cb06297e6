// Package eventbus decouples components with an in-memory fanout:
// the runner publishes job.* events, the run recorder subscribes.
package eventbus

import (
	"sync"
	"time"
)

// Event is a lightweight in-memory signal. Data should stay small; the bus
// copies nothing.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Event types published by the runner and the scheduler.
const (
	TypeJobStarted  = "job.started"
	TypeJobFinished = "job.finished"
	TypeJobSkipped  = "job.skipped"
)

// Bus fans events out to subscribers. Publish never blocks; a subscriber
// whose buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no background goroutines.
func New() Bus { return &bus{} }

type subscriber struct {
	ch     chan Event
	closed bool
}

type bus struct {
	mu   sync.Mutex
	subs []*subscriber
}

// Publish delivers e to every subscriber that has buffer space. The mutex is
// held across the sends; they cannot block, and holding it rules out a send
// on a channel that Unsubscribe is closing.
func (b *bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.closed {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			s.closed = true
			for i, cur := range b.subs {
				if cur == s {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}
