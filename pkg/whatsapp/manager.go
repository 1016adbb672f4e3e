// Package whatsapp owns the whatsmeow client: device store, pairing,
// connection state, throttled sends and decoding of inbound events.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"github.com/sipeed/wabridge/pkg/domain"
	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/message"
)

type Options struct {
	// SessionDB is the sqlite DSN of the device store.
	SessionDB string
	// SendRate is outbound messages per second; SendBurst the bucket size.
	SendRate  float64
	SendBurst int
	// QRWriter receives the pairing QR code. Defaults to stdout.
	QRWriter io.Writer
}

// Publisher accepts decoded batches; bus.MessageBus implements it.
type Publisher interface {
	PublishInbound(ctx context.Context, batch message.Batch) error
}

// Status is a snapshot of the session for the status route.
type Status struct {
	State  domain.ConnectionStatus `json:"state"`
	JID    string                  `json:"jid,omitempty"`
	Since  time.Time               `json:"since"`
	Paired bool                    `json:"paired"`
}

type Manager struct {
	container *sqlstore.Container
	client    *whatsmeow.Client
	limiter   *rate.Limiter
	queue     Publisher
	events    domain.Publisher
	qrOut     io.Writer

	mu     sync.RWMutex
	runCtx context.Context
	state  domain.ConnectionStatus
	since  time.Time
	// jid mirrors client.Store.ID, which whatsmeow writes on its own goroutine.
	jid string
}

func NewManager(ctx context.Context, opts Options, queue Publisher, events domain.Publisher) (*Manager, error) {
	container, err := sqlstore.New(ctx, "sqlite3", opts.SessionDB, newWALogger("Database"))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	m := newManager(opts, queue, events)
	m.container = container
	if device.ID != nil {
		m.jid = device.ID.String()
	}
	m.client = whatsmeow.NewClient(device, newWALogger("Client"))
	m.client.AddEventHandler(m.handleEvent)
	return m, nil
}

func newManager(opts Options, queue Publisher, events domain.Publisher) *Manager {
	if events == nil {
		events = domain.NopPublisher{}
	}
	if opts.QRWriter == nil {
		opts.QRWriter = os.Stdout
	}
	burst := opts.SendBurst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if opts.SendRate > 0 {
		limit = rate.Limit(opts.SendRate)
	}
	return &Manager{
		limiter: rate.NewLimiter(limit, burst),
		queue:   queue,
		events:  events,
		qrOut:   opts.QRWriter,
		runCtx:  context.Background(),
		state:   domain.StatusDisconnected,
		since:   time.Now(),
	}
}

// Start connects, pairing through a terminal QR code when the device has
// never been linked. ctx bounds the session and the inbound hand-off.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	if m.currentJID() == "" {
		qrChan, err := m.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}
		m.setState(domain.StatusPairing, "")
		go m.renderQR(qrChan)
	} else {
		m.setState(domain.StatusConnecting, "")
	}

	if err := m.client.Connect(); err != nil {
		m.setState(domain.StatusDisconnected, err.Error())
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (m *Manager) renderQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			logger.InfoC("whatsapp", "Scan the QR code below with WhatsApp > Linked devices")
			qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, m.qrOut)
		case "success":
			logger.InfoC("whatsapp", "Device paired")
		case "timeout":
			logger.WarnC("whatsapp", "QR pairing timed out; restart to try again")
		default:
			logger.WarnCF("whatsapp", "Pairing event", map[string]interface{}{
				"event": item.Event,
				"error": item.Error,
			})
		}
	}
}

// Close disconnects and releases the device store.
func (m *Manager) Close() error {
	if m.client != nil {
		m.client.Disconnect()
	}
	m.setState(domain.StatusDisconnected, "shutdown")
	if m.container != nil {
		return m.container.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// ActiveSession reports the manager itself once connected and logged in.
func (m *Manager) ActiveSession() (message.Session, bool) {
	if m.client == nil || !m.client.IsConnected() || !m.client.IsLoggedIn() {
		return nil, false
	}
	return m, true
}

// SendText sends a plain conversation message, waiting for the send limiter.
func (m *Manager) SendText(ctx context.Context, jid, text string) error {
	if m.client == nil || !m.client.IsConnected() {
		return message.ErrSessionUnavailable
	}
	to, err := types.ParseJID(jid)
	if err != nil {
		return fmt.Errorf("invalid jid %q: %w", jid, err)
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send throttled: %w", err)
	}

	resp, err := m.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	logger.DebugCF("whatsapp", "Message sent", map[string]interface{}{
		"to":         to.String(),
		"message_id": resp.ID,
	})
	return nil
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{State: m.state, Since: m.since, JID: m.jid, Paired: m.jid != ""}
}

func (m *Manager) currentJID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jid
}

func (m *Manager) setJID(jid string) {
	m.mu.Lock()
	m.jid = jid
	m.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

func (m *Manager) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		m.enqueue(message.Batch{
			Type:     message.BatchNotify,
			Messages: []message.Envelope{decodeLive(v, m.attach)},
		})
	case *events.HistorySync:
		envs := decodeHistory(v, m.attach)
		if len(envs) == 0 {
			return
		}
		m.enqueue(message.Batch{Type: message.BatchAppend, Messages: envs})
	case *events.PairSuccess:
		m.setJID(v.ID.String())
	case *events.Connected:
		// Store.ID is settled once the connection is up.
		if m.client != nil && m.client.Store.ID != nil {
			m.setJID(m.client.Store.ID.String())
		}
		m.setState(domain.StatusConnected, "")
	case *events.Disconnected:
		m.setState(domain.StatusDisconnected, "")
	case *events.LoggedOut:
		m.setState(domain.StatusLoggedOut, fmt.Sprint(v.Reason))
		m.setJID("")
	}
}

func (m *Manager) enqueue(batch message.Batch) {
	m.mu.RLock()
	ctx := m.runCtx
	m.mu.RUnlock()

	if err := m.queue.PublishInbound(ctx, batch); err != nil {
		logger.WarnCF("whatsapp", "Inbound batch not queued", map[string]interface{}{
			"type":  string(batch.Type),
			"count": len(batch.Messages),
			"error": err,
		})
	}
}

func (m *Manager) attach(d whatsmeow.DownloadableMessage) message.Attachment {
	return &attachment{client: m.client, media: d}
}

func (m *Manager) setState(state domain.ConnectionStatus, reason string) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.since = time.Now()
	jid := m.jid
	m.mu.Unlock()

	fields := map[string]interface{}{"state": string(state)}
	if reason != "" {
		fields["reason"] = reason
	}
	logger.InfoCF("whatsapp", "Session state changed", fields)

	payload := domain.SessionEvent{JID: jid, Status: state, Reason: reason}
	switch state {
	case domain.StatusConnected:
		m.events.Publish(domain.NewEvent(domain.EventSessionConnected, domain.EntityID(jid), payload))
	case domain.StatusDisconnected, domain.StatusLoggedOut:
		m.events.Publish(domain.NewEvent(domain.EventSessionDisconnected, domain.EntityID(jid), payload))
	}
}

var _ message.SessionProvider = (*Manager)(nil)
var _ message.Session = (*Manager)(nil)
