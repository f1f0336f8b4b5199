package cache

import "sync"

// InvalidationEvent is broadcast whenever the cache invalidates entries,
// so co-located broker instances can evict the same keys locally (spec
// §4.12 "remote handling"). Grounded directly on the teacher's
// pkg/events.Broker: a map-of-subscriber-channels pub/sub, kept
// deliberately simpler than the teacher's (no background run loop, no
// bounded event queue) because invalidation fan-out is local and
// best-effort, not a durable cluster event log.
type InvalidationEvent struct {
	Tags []string
	Keys []string
}

// Subscriber receives invalidation events.
type Subscriber chan InvalidationEvent

// Broadcaster distributes invalidation events to local subscribers
// (other cache facades sharing this process, e.g. per-request handler
// goroutines holding a reference to the same Cache).
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
}

// NewBroadcaster creates an empty invalidation broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[Subscriber]bool)}
}

// Subscribe registers a new subscriber channel.
func (b *Broadcaster) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 32)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broadcaster) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish fans event out to every current subscriber, dropping it for
// any subscriber whose buffer is full rather than blocking.
func (b *Broadcaster) Publish(event InvalidationEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}
