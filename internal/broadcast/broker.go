// Package broadcast fans decision and lifecycle events out to connected
// observers. Delivery is best-effort: publishing never blocks the decision
// path, and a slow subscriber loses events rather than stalling anyone else.
package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tiergate/tiergate/internal/domain/event"
	"github.com/tiergate/tiergate/internal/metrics"
)

const defaultSubscriberBuffer = 256

// Broker distributes event envelopes to all current subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      atomic.Int64
	buffer      int
	logger      *slog.Logger
}

type subscriber struct {
	ch chan event.Envelope
	// clientID, when non-empty, restricts delivery to events for that client.
	clientID string
}

// New creates a broker whose subscriber channels buffer up to buffer events.
func New(buffer int, logger *slog.Logger) *Broker {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broker{
		subscribers: make(map[int64]*subscriber),
		buffer:      buffer,
		logger:      logger.With("component", "broadcast"),
	}
}

// Subscribe registers an observer of all events. The returned channel is
// closed by Unsubscribe.
func (b *Broker) Subscribe() (int64, <-chan event.Envelope) {
	return b.subscribe("")
}

// SubscribeClient registers an observer that only receives lifecycle events
// and decisions for the given client id. Used for the per-client websocket
// channel, which must not see the rest of the fleet.
func (b *Broker) SubscribeClient(clientID string) (int64, <-chan event.Envelope) {
	return b.subscribe(clientID)
}

func (b *Broker) subscribe(clientID string) (int64, <-chan event.Envelope) {
	id := b.nextID.Add(1)
	sub := &subscriber{ch: make(chan event.Envelope, b.buffer), clientID: clientID}

	b.mu.Lock()
	b.subscribers[id] = sub
	n := len(b.subscribers)
	b.mu.Unlock()

	metrics.BroadcastSubscribers.Set(float64(n))
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	n := len(b.subscribers)
	b.mu.Unlock()

	if ok {
		close(sub.ch)
		metrics.BroadcastSubscribers.Set(float64(n))
	}
}

// Publish sends the envelope to every matching subscriber without blocking.
// Full subscriber buffers drop the event; drops are counted and logged at
// debug so a wedged console cannot flood the log.
func (b *Broker) Publish(env event.Envelope) {
	metrics.BroadcastPublishedTotal.WithLabelValues(string(env.Type)).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subscribers {
		if sub.clientID != "" && env.ClientID != sub.clientID {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			metrics.BroadcastDroppedTotal.Inc()
			b.logger.Debug("event dropped for slow subscriber",
				"subscriber_id", id,
				"event_type", env.Type,
				"client_id", env.ClientID,
			)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
