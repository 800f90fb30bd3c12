// Package monitor runs periodic health probes against tool servers, drives
// the service state machine on consecutive-failure counts, and publishes
// catalog deltas to in-process and websocket subscribers. Grounded on the
// teacher's gateway broadcast/control-plane pair, generalized from
// chat-message fan-out to health-event fan-out.
package monitor

import (
	"sync"
	"time"

	"github.com/haasonsaas/toolmesh/internal/wire"
)

// Transition is the richer in-process event describing a service state
// change, carrying fields the wire schema omits (the prior status, and
// the probe latency) for subscribers that need more than the normative
// wire projection.
type Transition struct {
	Kind       wire.EventKind
	ServiceID  string
	Service    wire.ServiceSnapshot
	FromStatus string
	ProbeTook  time.Duration
	At         time.Time
}

// Project losslessly maps Transition onto the normative wire.Event schema
// (spec.md §9: "the wire schema here is normative"). FromStatus and
// ProbeTook are in-process-only detail that the wire event doesn't carry.
func (t Transition) Project() wire.Event {
	service := t.Service
	return wire.Event{
		Type:      t.Kind,
		ToolID:    t.ServiceID,
		Service:   &service,
		Timestamp: t.At.Unix(),
	}
}

// Subscriber receives Transitions published to the Bus.
type Subscriber chan Transition

// Bus is an in-process pub/sub broadcaster of catalog deltas, grounded on
// the teacher's gateway.BroadcastManager fan-out-to-many-goroutines shape,
// adapted from "broadcast a chat message to configured agents" to
// "broadcast a health transition to every subscriber channel".
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}
}

// NewBus builds an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[Subscriber]struct{})}
}

// Subscribe registers a new subscriber and returns it along with an
// unsubscribe function.
func (b *Bus) Subscribe(buffer int) (Subscriber, func()) {
	sub := make(Subscriber, buffer)
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(sub)
		}
		b.mu.Unlock()
	}
	return sub, unsubscribe
}

// Publish delivers t to every subscriber without blocking: each
// subscriber gets the event at most once, and a subscriber whose buffer is
// full misses it rather than stalling the publisher.
func (b *Bus) Publish(t Transition) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- t:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers are currently registered.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
