// Package stream fans published reports out to live subscribers.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/mr1hm/go-tsunami-alerts/internal/report"
)

const subscriberBuffer = 100

type Broadcaster struct {
	subscribers map[uint64]chan *report.Report
	nextID      atomic.Uint64
	dropped     atomic.Uint64
	mu          sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]chan *report.Report),
	}
}

func (b *Broadcaster) Subscribe() (uint64, <-chan *report.Report) {
	id := b.nextID.Add(1)
	ch := make(chan *report.Report, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Broadcast never blocks; a subscriber with a full buffer misses r.
func (b *Broadcaster) Broadcast(r *report.Report) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- r:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped is the number of deliveries skipped because of slow subscribers.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels, causing streams to exit gracefully
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
