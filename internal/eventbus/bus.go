// Package eventbus fans engine and logging signals out to in-process
// observers: cycle lifecycle events, the one-shot schedule disablement
// notice, and warn+ log records.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is one signal on the bus.
//
// Delivery contract: Publish never blocks, so a subscriber that cannot
// keep up loses events rather than stalling a cycle. Data should be one
// of the engine's payload structs or a small map.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// Dropped reports how many deliveries were discarded because a
	// subscriber's buffer was full or closing.
	Dropped() uint64
}

// New returns the in-memory bus. It owns no goroutines; Publish runs on
// the caller.
func New() Bus {
	return &fanout{subs: map[uint64]chan Event{}}
}

type fanout struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]chan Event
	dropped atomic.Uint64
}

func (f *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot first; offer() may panic-recover and must not run under
	// the lock.
	f.mu.RLock()
	targets := make([]chan Event, 0, len(f.subs))
	for _, ch := range f.subs {
		targets = append(targets, ch)
	}
	f.mu.RUnlock()

	for _, ch := range targets {
		f.offer(ch, e)
	}
}

// offer makes one non-blocking delivery attempt. The channel may be
// closed by a concurrent unsubscribe; that send panic is absorbed and
// counted as a drop like a full buffer.
func (f *fanout) offer(ch chan Event, e Event) {
	defer func() {
		if recover() != nil {
			f.dropped.Add(1)
		}
	}()
	select {
	case ch <- e:
	default:
		f.dropped.Add(1)
	}
}

func (f *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			// Safe to close: offer() absorbs a racing send.
			close(ch)
		})
	}
	return ch, unsub
}

func (f *fanout) Dropped() uint64 { return f.dropped.Load() }
