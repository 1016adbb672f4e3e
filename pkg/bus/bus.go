// Package bus hands inbound batches from the WhatsApp event goroutine to the
// dispatcher in arrival order.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/sipeed/wabridge/pkg/message"
)

var ErrClosed = errors.New("message bus closed")

type MessageBus struct {
	inbound   chan message.Batch
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewMessageBus(size int) *MessageBus {
	if size < 0 {
		size = 0
	}
	return &MessageBus{
		inbound: make(chan message.Batch, size),
		done:    make(chan struct{}),
	}
}

// PublishInbound blocks until the batch is queued, ctx ends or the bus
// closes. Batches are never dropped once accepted.
func (mb *MessageBus) PublishInbound(ctx context.Context, batch message.Batch) error {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return ErrClosed
	}

	select {
	case mb.inbound <- batch:
		return nil
	case <-mb.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound returns the next batch. After Close it drains what is
// already queued and then reports false.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (message.Batch, bool) {
	select {
	case batch, ok := <-mb.inbound:
		return batch, ok
	case <-ctx.Done():
		return message.Batch{}, false
	}
}

// Len reports how many batches are waiting.
func (mb *MessageBus) Len() int {
	return len(mb.inbound)
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		// Release blocked publishers before taking the write lock.
		close(mb.done)
		mb.mu.Lock()
		mb.closed = true
		close(mb.inbound)
		mb.mu.Unlock()
	})
}
