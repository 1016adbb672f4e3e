// Event bridge: relays domain events to WebSocket clients and keeps the
// counters reported by /api/status.
package api

import (
	"sync"
	"time"

	"github.com/sipeed/wabridge/pkg/domain"
)

type EventBridge struct {
	hub   *WSHub
	stats *RelayStats
}

// NewEventBridge subscribes to every event on bus.
func NewEventBridge(bus domain.EventBus, hub *WSHub, stats *RelayStats) *EventBridge {
	eb := &EventBridge{hub: hub, stats: stats}
	bus.SubscribeAll(eb.handle)
	return eb
}

func (eb *EventBridge) handle(e domain.Event) {
	eb.stats.Record(e)
	eb.hub.Broadcast(string(e.EventType()), map[string]interface{}{
		"id":           e.EventID(),
		"aggregate_id": e.AggregateID(),
		"occurred_at":  e.OccurredAt().Format(time.RFC3339),
		"payload":      e.Payload(),
	})
}

// RelayStats counts events by type.
type RelayStats struct {
	mu     sync.Mutex
	counts map[domain.EventType]int64
	last   time.Time
}

func NewRelayStats() *RelayStats {
	return &RelayStats{counts: make(map[domain.EventType]int64)}
}

func (rs *RelayStats) Record(e domain.Event) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.counts[e.EventType()]++
	rs.last = e.OccurredAt()
}

func (rs *RelayStats) Count(t domain.EventType) int64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.counts[t]
}

func (rs *RelayStats) Snapshot() map[string]interface{} {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	return map[string]interface{}{
		"received":       rs.counts[domain.EventMessageReceived],
		"media_stored":   rs.counts[domain.EventMediaStored],
		"forwarded":      rs.counts[domain.EventMessageForwarded],
		"forward_failed": rs.counts[domain.EventForwardFailed],
		"replies_sent":   rs.counts[domain.EventReplySent],
		"failed":         rs.counts[domain.EventMessageFailed],
		"outbound_sent":  rs.counts[domain.EventOutboundSent],
		"last_event_at":  formatTime(rs.last),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
