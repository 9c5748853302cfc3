package events

import (
	"sync"
)

// Handler processes a notice. Returning an error does not stop dispatch.
type Handler func(Notice) error

// Bus is a synchronous in-process notice bus.
// Subscribers are invoked in registration order on the publisher's goroutine.
// For async processing, handlers should send to their own channel/goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
	onError  func(Topic, error)
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Topic][]Handler),
	}
}

// OnError installs a callback for handler errors. Without one they are dropped.
func (b *Bus) OnError(fn func(Topic, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for a given topic.
func (b *Bus) Subscribe(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// SubscribeAll registers h for every lifecycle topic.
func (b *Bus) SubscribeAll(h Handler) {
	for _, t := range []Topic{
		TopicSessionStarted,
		TopicEventEmitted,
		TopicSessionCompleted,
		TopicSessionAborted,
		TopicSessionClosed,
	} {
		b.Subscribe(t, h)
	}
}

// Publish dispatches a notice to all registered handlers for its topic.
func (b *Bus) Publish(n Notice) {
	b.mu.RLock()
	handlers := b.handlers[n.Topic]
	onError := b.onError
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(n); err != nil && onError != nil {
			// one bad handler shouldn't block others
			onError(n.Topic, err)
		}
	}
}
