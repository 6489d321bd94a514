package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sapphire/support-core/internal/domain"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, domain.Event) error

// Dispatcher fans committed log events out to in-process listeners. Publishing happens after
// the write that appended the event has committed; listeners cannot veto it.
type Dispatcher interface {
	Publish(ctx context.Context, events ...domain.Event) error
	Subscribe(eventType domain.EventType, handler EventHandler)
	SubscribeAll(handler EventHandler)
}

// inMemoryDispatcher is a simple synchronous dispatcher.
type inMemoryDispatcher struct {
	mu        sync.RWMutex
	listeners map[domain.EventType][]EventHandler
	wildcard  []EventHandler
	logger    *zap.Logger
}

// NewInMemoryDispatcher creates a dispatcher instance.
func NewInMemoryDispatcher(logger *zap.Logger) Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &inMemoryDispatcher{
		listeners: make(map[domain.EventType][]EventHandler),
		logger:    logger.With(zap.String("component", "dispatcher")),
	}
}

// Publish synchronously invokes handlers for each event. A failing handler is logged and
// does not stop the others.
func (d *inMemoryDispatcher) Publish(ctx context.Context, events ...domain.Event) error {
	for _, event := range events {
		d.mu.RLock()
		handlers := append([]EventHandler{}, d.listeners[event.Type]...)
		handlers = append(handlers, d.wildcard...)
		d.mu.RUnlock()

		for _, handler := range handlers {
			if err := handler(ctx, event); err != nil {
				d.logger.Warn("event handler failed",
					zap.String("event_type", string(event.Type)),
					zap.String("entity_id", event.EntityID),
					zap.Error(err))
			}
		}
	}
	return nil
}

// Subscribe registers a handler for the given event type.
func (d *inMemoryDispatcher) Subscribe(eventType domain.EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[eventType] = append(d.listeners[eventType], handler)
}

// SubscribeAll registers a handler for every event type.
func (d *inMemoryDispatcher) SubscribeAll(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wildcard = append(d.wildcard, handler)
}
