package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fiskasyela/braintheria-backend/internal/domain"
	"github.com/fiskasyela/braintheria-backend/internal/telemetry"
)

// DefaultQueueSize is the per-subscriber buffer used when none is configured.
const DefaultQueueSize = 64

// Bus fans lifecycle events out to in-process subscribers. Delivery is
// at-most-once: there is no replay and a subscriber whose queue is full
// misses the event.
type Bus struct {
	mu          sync.Mutex
	subscribers []*Subscription
	queueSize   int
	metrics     *telemetry.Metrics
	now         func() time.Time
}

// Subscription is one registered consumer.
type Subscription struct {
	bus     *Bus
	channel chan domain.LifecycleEvent
	done    chan struct{}
	once    sync.Once
}

func NewBus(queueSize int, m *telemetry.Metrics) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{queueSize: queueSize, metrics: telemetry.OrNew(m), now: time.Now}
}

// Publish delivers evt to every live subscriber without blocking. ID and At
// are filled when empty.
func (b *Bus) Publish(evt domain.LifecycleEvent) domain.LifecycleEvent {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At == "" {
		evt.At = b.now().UTC().Format(time.RFC3339Nano)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.EventsPublished.Inc()
	for i := len(b.subscribers) - 1; i >= 0; i-- {
		sub := b.subscribers[i]
		select {
		case <-sub.done:
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			continue
		default:
		}
		select {
		case sub.channel <- evt:
		default:
			b.metrics.EventsDropped.Inc()
		}
	}
	return evt
}

// Subscribe registers a consumer that receives events published from now
// on. The subscription ends when ctx is done or Close is called.
func (b *Bus) Subscribe(ctx context.Context) *Subscription {
	sub := &Subscription{
		bus:     b,
		channel: make(chan domain.LifecycleEvent, b.queueSize),
		done:    make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub
}

// Len reports the number of live subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Events is the delivery channel. It is never closed; select on Done too.
func (s *Subscription) Events() <-chan domain.LifecycleEvent { return s.channel }

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		for i, existing := range s.bus.subscribers {
			if existing == s {
				s.bus.subscribers = append(s.bus.subscribers[:i], s.bus.subscribers[i+1:]...)
				break
			}
		}
	})
}
