package sheetsync

import "sync"

const defaultSubscriberBuffer = 16

// Broadcaster fans detected mutations out to live subscribers. Delivery
// is best-effort: a subscriber whose buffer is full misses the event
// rather than stalling the sync path.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[chan Mutation]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Mutation]struct{})}
}

// Subscribe registers a listener. The returned cancel func must be
// called exactly once; after it returns the channel is closed.
func (b *Broadcaster) Subscribe() (<-chan Mutation, func()) {
	ch := make(chan Mutation, defaultSubscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers a mutation to every subscriber that has room.
func (b *Broadcaster) Publish(m Mutation) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- m:
		default:
		}
	}
}

// SubscriberCount reports the current number of listeners.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
