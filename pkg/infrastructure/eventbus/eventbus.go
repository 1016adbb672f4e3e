// Package eventbus is the in-process implementation of domain.EventBus.
package eventbus

import (
	"fmt"
	"sync"

	"github.com/sipeed/wabridge/pkg/domain"
	"github.com/sipeed/wabridge/pkg/logger"
)

// InProcessEventBus dispatches events synchronously on Publish. A panicking
// handler is logged and does not affect the others.
type InProcessEventBus struct {
	handlers    map[domain.EventType][]domain.EventHandler
	allHandlers []domain.EventHandler
	mu          sync.RWMutex
	closed      bool
}

func New() *InProcessEventBus {
	return &InProcessEventBus{
		handlers: make(map[domain.EventType][]domain.EventHandler),
	}
}

// Publish calls typed handlers first, then global handlers.
func (b *InProcessEventBus) Publish(event domain.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	typed := b.handlers[event.EventType()]
	targets := make([]domain.EventHandler, 0, len(typed)+len(b.allHandlers))
	targets = append(targets, typed...)
	targets = append(targets, b.allHandlers...)
	b.mu.RUnlock()

	for _, handler := range targets {
		b.dispatch(handler, event)
	}
}

func (b *InProcessEventBus) dispatch(handler domain.EventHandler, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("eventbus", "Event handler panicked", map[string]interface{}{
				"event": string(event.EventType()),
				"panic": fmt.Sprint(r),
			})
		}
	}()
	handler(event)
}

func (b *InProcessEventBus) Subscribe(eventType domain.EventType, handler domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

func (b *InProcessEventBus) SubscribeAll(handler domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allHandlers = append(b.allHandlers, handler)
}

// Close stops dispatching. Later Publish calls are ignored.
func (b *InProcessEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// HandlerCount returns the number of registered handlers.
func (b *InProcessEventBus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.allHandlers)
	for _, handlers := range b.handlers {
		count += len(handlers)
	}
	return count
}

var _ domain.EventBus = (*InProcessEventBus)(nil)
