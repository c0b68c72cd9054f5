package app

import (
	"sync"
	"time"

	"github.com/dkeye/Scribe/internal/core"
)

type subscriber struct {
	ch   chan core.Event
	done chan struct{}
}

// Bus fans out core events to subscribers. It is a notification mechanism,
// not a queue: each occurrence is delivered at least once to every live
// subscriber, with no ordering guarantee across sessions.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a listener. The returned cancel func detaches it;
// after cancel the channel is no longer written and may be drained freely.
func (b *Bus) Subscribe(buffer int) (<-chan core.Event, func()) {
	s := &subscriber{
		ch:   make(chan core.Event, buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = s
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.done)
		}
		b.mu.Unlock()
	}
	return s.ch, cancel
}

// Publish delivers ev to every subscriber. A subscriber that stops draining
// its channel eventually blocks publishers; cancel detaches it.
func (b *Bus) Publish(ev core.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.ch <- ev:
		case <-s.done:
		}
	}
}
