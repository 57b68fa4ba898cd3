package stream

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"taskpilot-api/domain"
)

// Subscriber is a single realtime client registration. Its channel is
// closed when the subscriber is removed from the broker.
type Subscriber struct {
	ch chan domain.Event
}

// Events returns the subscriber's ordered event feed.
func (s *Subscriber) Events() <-chan domain.Event {
	return s.ch
}

// Broker fans mutation events out to every currently-connected
// subscriber. There is a single logical publisher (the mutation
// pipeline), so publish call order is the global event order.
type Broker struct {
	logger *log.Logger
	buffer int

	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

// NewBroker creates a Broker whose subscribers buffer up to buffer
// undelivered events each.
func NewBroker(logger *log.Logger, buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{logger: logger, buffer: buffer, subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber. It receives only events published
// while registered; there is no replay.
func (b *Broker) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan domain.Event, b.buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its feed. Safe to call more
// than once, including after the broker itself dropped the subscriber.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// Publish delivers ev to every subscriber registered at the moment of the
// call. Per-subscriber delivery is FIFO; a subscriber whose buffer is full
// is disconnected rather than reordered or waited on.
func (b *Broker) Publish(ev domain.Event) {
	b.mu.Lock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			delete(b.subs, sub)
			close(sub.ch)
			if b.logger != nil {
				b.logger.Warnf("dropping slow subscriber, event: %s", ev.Name)
			}
		}
	}
	b.mu.Unlock()
}

// Len reports the number of registered subscribers.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
