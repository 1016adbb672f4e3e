package domain

import "time"

// ---------------------------------------------------------------------------
// Relay events
// ---------------------------------------------------------------------------

type EventType string

const (
	EventMessageReceived  EventType = "relay.message.received"
	EventMediaStored      EventType = "relay.media.stored"
	EventMessageForwarded EventType = "relay.message.forwarded"
	EventForwardFailed    EventType = "relay.forward.failed"
	EventReplySent        EventType = "relay.reply.sent"
	EventMessageFailed    EventType = "relay.message.failed"

	EventOutboundSent EventType = "api.outbound.sent"

	EventSessionConnected    EventType = "session.connected"
	EventSessionDisconnected EventType = "session.disconnected"
)

type Event interface {
	EventID() EntityID
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID is the WhatsApp message or chat the event concerns.
	AggregateID() EntityID
	Payload() interface{}
}

type BaseEvent struct {
	ID        EntityID    `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	AggID     EntityID    `json:"aggregate_id,omitempty"`
	EventData interface{} `json:"data,omitempty"`
}

func (e BaseEvent) EventID() EntityID     { return e.ID }
func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() EntityID { return e.AggID }
func (e BaseEvent) Payload() interface{}  { return e.EventData }

func NewEvent(eventType EventType, aggregateID EntityID, data interface{}) BaseEvent {
	return BaseEvent{
		ID:        NewID(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		AggID:     aggregateID,
		EventData: data,
	}
}

// MessageEvent is the payload of the relay.* events.
type MessageEvent struct {
	From      string `json:"from"`
	MessageID string `json:"message_id"`
	Kind      string `json:"kind,omitempty"`
	Path      string `json:"path,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SessionEvent is the payload of the session.* events.
type SessionEvent struct {
	JID    string           `json:"jid,omitempty"`
	Status ConnectionStatus `json:"status"`
	Reason string           `json:"reason,omitempty"`
}

// ---------------------------------------------------------------------------
// Event bus
// ---------------------------------------------------------------------------

// EventHandler must not block; the bus calls handlers synchronously.
type EventHandler func(Event)

type EventBus interface {
	Publish(event Event)
	Subscribe(eventType EventType, handler EventHandler)
	SubscribeAll(handler EventHandler)
	Close()
}

// Publisher is the publish-only side of EventBus.
type Publisher interface {
	Publish(event Event)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
