// Package eventbus fans run lifecycle events out to in-process observers.
//
// Publish never blocks: a subscriber whose buffer is full misses the event.
package eventbus

import (
	"sync"
	"time"
)

// Event types.
const (
	RunStarted     = "run.started"
	RunFinished    = "run.finished"
	ConfigReloaded = "config.reloaded"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

type memBus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch     chan Event
	closed bool
}

func New() Bus {
	return &memBus{subs: map[*subscriber]struct{}{}}
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// read lock excludes unsubscribe, so no send can hit a closed channel
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s.closed {
			return
		}
		s.closed = true
		delete(b.subs, s)
		close(s.ch)
	}
}

// Nop discards everything. Its subscriptions never receive.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int) (<-chan Event, func()) { return make(chan Event), func() {} }
