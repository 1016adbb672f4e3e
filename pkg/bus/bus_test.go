package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sipeed/wabridge/pkg/message"
)

func batch(id string) message.Batch {
	return message.Batch{
		Type:     message.BatchNotify,
		Messages: []message.Envelope{{MessageID: id}},
	}
}

func TestPublishConsumeOrder(t *testing.T) {
	mb := NewMessageBus(4)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := mb.PublishInbound(ctx, batch(id)); err != nil {
			t.Fatalf("PublishInbound(%s) error = %v", id, err)
		}
	}
	if mb.Len() != 3 {
		t.Errorf("Len() = %d, want 3", mb.Len())
	}
	for _, want := range []string{"a", "b", "c"} {
		got, ok := mb.ConsumeInbound(ctx)
		if !ok {
			t.Fatal("ConsumeInbound() returned false")
		}
		if got.Messages[0].MessageID != want {
			t.Errorf("got %s, want %s", got.Messages[0].MessageID, want)
		}
	}
}

func TestPublishBlocksWhenFull(t *testing.T) {
	mb := NewMessageBus(1)
	if err := mb.PublishInbound(context.Background(), batch("a")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := mb.PublishInbound(ctx, batch("b")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("PublishInbound() error = %v, want deadline exceeded", err)
	}

	got, _ := mb.ConsumeInbound(context.Background())
	if got.Messages[0].MessageID != "a" {
		t.Errorf("first batch was replaced: %s", got.Messages[0].MessageID)
	}
}

func TestCloseReleasesBlockedPublisher(t *testing.T) {
	mb := NewMessageBus(0)
	errc := make(chan error, 1)
	go func() {
		errc <- mb.PublishInbound(context.Background(), batch("a"))
	}()

	time.Sleep(10 * time.Millisecond)
	mb.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("PublishInbound() error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after Close")
	}
}

func TestCloseDrainsQueued(t *testing.T) {
	mb := NewMessageBus(2)
	ctx := context.Background()
	mb.PublishInbound(ctx, batch("a"))
	mb.Close()
	mb.Close()

	if _, ok := mb.ConsumeInbound(ctx); !ok {
		t.Error("queued batch should still be delivered after Close")
	}
	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Error("ConsumeInbound() should report false once drained")
	}
	if err := mb.PublishInbound(ctx, batch("b")); !errors.Is(err, ErrClosed) {
		t.Errorf("PublishInbound() after Close = %v, want ErrClosed", err)
	}
}
