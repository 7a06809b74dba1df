// Package pubsub wraps an in-process event bus behind explicit subscription
// handles. A Subscription must be cancelled exactly once by the component
// that created it; holders of a single handle slot replace-then-cancel so
// that at most one live handle exists per slot.
package pubsub

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"
)

// Subscription is a live registration on some event source. Cancel is
// idempotent and releases the registration.
type Subscription interface {
	Cancel()
}

// Hub is an instance-scoped synchronous event bus. Handlers run on the
// publishing goroutine in subscription order.
type Hub struct {
	bus evbus.Bus
}

func NewHub() *Hub {
	return &Hub{bus: evbus.New()}
}

// Subscribe registers fn for topic and returns its cancel handle. fn must be
// a func whose signature matches the Publish arguments for the topic.
func (h *Hub) Subscribe(topic string, fn interface{}) (Subscription, error) {
	if err := h.bus.Subscribe(topic, fn); err != nil {
		return nil, err
	}
	return &handle{hub: h, topic: topic, fn: fn}, nil
}

// Publish delivers args to every handler subscribed to topic.
func (h *Hub) Publish(topic string, args ...interface{}) {
	h.bus.Publish(topic, args...)
}

type handle struct {
	hub   *Hub
	topic string
	fn    interface{}
	once  sync.Once
}

func (s *handle) Cancel() {
	s.once.Do(func() {
		_ = s.hub.bus.Unsubscribe(s.topic, s.fn)
	})
}
