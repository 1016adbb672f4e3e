package eventbus

import (
	"testing"

	"github.com/sipeed/wabridge/pkg/domain"
)

func TestPublishOrderAndFiltering(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe(domain.EventReplySent, func(e domain.Event) { got = append(got, "typed") })
	b.Subscribe(domain.EventForwardFailed, func(e domain.Event) { got = append(got, "other") })
	b.SubscribeAll(func(e domain.Event) { got = append(got, "all") })

	b.Publish(domain.NewEvent(domain.EventReplySent, "m1", nil))

	if len(got) != 2 || got[0] != "typed" || got[1] != "all" {
		t.Errorf("handlers called = %v, want [typed all]", got)
	}
	if b.HandlerCount() != 3 {
		t.Errorf("HandlerCount() = %d, want 3", b.HandlerCount())
	}
}

func TestPanickingHandlerIsolated(t *testing.T) {
	b := New()
	called := false
	b.SubscribeAll(func(domain.Event) { panic("boom") })
	b.SubscribeAll(func(domain.Event) { called = true })

	b.Publish(domain.NewEvent(domain.EventMessageFailed, "m1", nil))

	if !called {
		t.Error("second handler should still run after a panic")
	}
}

func TestHandlerMaySubscribe(t *testing.T) {
	b := New()
	b.SubscribeAll(func(domain.Event) {
		b.Subscribe(domain.EventReplySent, func(domain.Event) {})
	})
	b.Publish(domain.NewEvent(domain.EventReplySent, "m1", nil))
	if b.HandlerCount() != 2 {
		t.Errorf("HandlerCount() = %d, want 2", b.HandlerCount())
	}
}

func TestClose(t *testing.T) {
	b := New()
	n := 0
	b.SubscribeAll(func(domain.Event) { n++ })
	b.Close()
	b.Publish(domain.NewEvent(domain.EventReplySent, "m1", nil))
	if n != 0 {
		t.Errorf("handler called %d times after Close", n)
	}
}
