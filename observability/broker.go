// Package observability is the optional, always-off-by-default exporter
// that streams DispatchEvent values to an operator over HTTP/SSE or gRPC.
// It never sits on the hot path: Publish is a best-effort, non-blocking
// fan-out, and nothing in the Dispatcher (C7) blocks on a subscriber.
package observability

import (
	"sync"
	"time"

	"github.com/oceanbase/obkv-table-client-go/wire"
)

// DispatchEvent records one completed or retried table operation, for the
// optional exporter only — never consumed by the hot path itself.
type DispatchEvent struct {
	ID         string
	Table      string
	Channel    wire.ChannelID
	StartTime  time.Time
	Duration   time.Duration
	Attempt    int
	Retried    bool
	ServerCode int32
	Error      string
}

// Broker fans DispatchEvents out to any number of subscribers. Reconstructed
// from the teacher's call-site contract (server.go/web.go: New(capacity),
// Subscribe() (<-chan, func()), Publish(event)) since the teacher's own
// broker package source was not present in the retrieved pack.
type Broker struct {
	mu          sync.Mutex
	capacity    int
	subscribers map[int]chan DispatchEvent
	nextID      int
}

// New creates a Broker whose subscriber channels are buffered to capacity.
func New(capacity int) *Broker {
	if capacity <= 0 {
		capacity = 64
	}
	return &Broker{capacity: capacity, subscribers: make(map[int]chan DispatchEvent)}
}

// Subscribe registers a new subscriber and returns its event channel plus
// an unsubscribe func. The channel is closed when unsubscribe is called.
func (b *Broker) Subscribe() (<-chan DispatchEvent, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan DispatchEvent, b.capacity)
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		if ch, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsub
}

// Publish fans ev out to every current subscriber. A subscriber whose
// buffer is full drops the event rather than blocking the publisher —
// the exporter is diagnostic, never allowed to slow down dispatch.
func (b *Broker) Publish(ev DispatchEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscribers, for tests.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
