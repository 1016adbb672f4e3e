// Package dispatcher routes inbound WhatsApp batches through media storage,
// backend forwarding and the bot reply.
package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sipeed/wabridge/pkg/domain"
	"github.com/sipeed/wabridge/pkg/forwarder"
	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/message"
	"github.com/sipeed/wabridge/pkg/responder"
)

type MediaStore interface {
	Save(ctx context.Context, messageID string, kind message.Kind, att message.Attachment) (string, error)
}

type Forwarder interface {
	Forward(ctx context.Context, p forwarder.Payload) error
}

type Responder interface {
	Respond(ctx context.Context, jid, text string) (responder.Reply, error)
}

// Source yields inbound batches until it is closed.
type Source interface {
	ConsumeInbound(ctx context.Context) (message.Batch, bool)
}

type Config struct {
	// AllowFrom restricts processing to these chat JIDs. Empty allows all.
	AllowFrom []string
	// MessageTimeout bounds the work done for one message. Zero disables it.
	MessageTimeout time.Duration
}

type Dispatcher struct {
	media     MediaStore
	forwarder Forwarder
	responder Responder
	events    domain.Publisher
	acl       domain.AccessControlList
	timeout   time.Duration
}

func New(media MediaStore, fwd Forwarder, resp Responder, events domain.Publisher, cfg Config) *Dispatcher {
	if events == nil {
		events = domain.NopPublisher{}
	}
	return &Dispatcher{
		media:     media,
		forwarder: fwd,
		responder: resp,
		events:    events,
		acl:       domain.NewAccessControlList(cfg.AllowFrom),
		timeout:   cfg.MessageTimeout,
	}
}

// Run consumes batches from src until it is closed or ctx ends.
func (d *Dispatcher) Run(ctx context.Context, src Source) {
	logger.InfoC("dispatcher", "Dispatcher started")
	for {
		batch, ok := src.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("dispatcher", "Dispatcher stopped")
			return
		}
		d.HandleBatch(ctx, batch)
	}
}

// HandleBatch processes every eligible message of a live batch in order.
// History and backfill batches are ignored.
func (d *Dispatcher) HandleBatch(ctx context.Context, batch message.Batch) {
	if batch.Type != message.BatchNotify {
		logger.DebugCF("dispatcher", "Ignoring non-live batch", map[string]interface{}{
			"type":  string(batch.Type),
			"count": len(batch.Messages),
		})
		return
	}

	for _, env := range batch.Messages {
		if env.Content == nil {
			continue
		}
		// Never react to our own messages, including our replies.
		if env.FromMe {
			continue
		}
		if !d.acl.IsAllowed(env.RemoteJID) {
			logger.DebugCF("dispatcher", "Sender not in allow list", map[string]interface{}{
				"from":       env.RemoteJID,
				"message_id": env.MessageID,
			})
			continue
		}
		d.handleIsolated(ctx, env)
	}
}

func (d *Dispatcher) handleIsolated(ctx context.Context, env message.Envelope) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.fail(env, fmt.Errorf("panic: %v", r))
			logger.DebugCF("dispatcher", "Panic stack", map[string]interface{}{
				"stack": string(debug.Stack()),
			})
		}
	}()

	if err := d.handle(ctx, env); err != nil {
		d.fail(env, err)
	}
}

func (d *Dispatcher) fail(env message.Envelope, err error) {
	logger.ErrorCF("dispatcher", "Error handling message", map[string]interface{}{
		"message_id": env.MessageID,
		"from":       env.RemoteJID,
		"error":      err,
	})
	d.publish(domain.EventMessageFailed, env, domain.MessageEvent{Error: err.Error()})
}

func (d *Dispatcher) handle(ctx context.Context, env message.Envelope) error {
	if env.RemoteJID == "" {
		return nil
	}

	switch c := env.Content.(type) {
	case message.Image:
		return d.handleMedia(ctx, env, message.KindImage, c.Attachment)
	case message.Document:
		return d.handleMedia(ctx, env, message.KindPDF, c.Attachment)
	case message.Text:
		return d.handleText(ctx, env, c.Body)
	default:
		logger.DebugCF("dispatcher", "Ignoring unsupported message", map[string]interface{}{
			"message_id": env.MessageID,
			"kind":       string(env.Content.Kind()),
		})
		return nil
	}
}

func (d *Dispatcher) handleMedia(ctx context.Context, env message.Envelope, kind message.Kind, att message.Attachment) error {
	if att == nil {
		return fmt.Errorf("%s message has no attachment", kind)
	}
	d.publish(domain.EventMessageReceived, env, domain.MessageEvent{Kind: string(kind)})

	path, err := d.media.Save(ctx, env.MessageID, kind, att)
	if err != nil {
		return fmt.Errorf("store %s: %w", kind, err)
	}
	d.publish(domain.EventMediaStored, env, domain.MessageEvent{Kind: string(kind), Path: path})

	payload := forwarder.NewImagePayload(env, path)
	logMsg := "Image message received and saved"
	if kind == message.KindPDF {
		payload = forwarder.NewPDFPayload(env, path)
		logMsg = "PDF receipt received and saved"
	}
	d.forward(ctx, env, payload, kind)

	logger.InfoCF("dispatcher", logMsg, map[string]interface{}{
		"from":       env.RemoteJID,
		"message_id": env.MessageID,
		"file_path":  path,
	})
	return nil
}

func (d *Dispatcher) handleText(ctx context.Context, env message.Envelope, text string) error {
	if text == "" {
		return nil
	}
	d.publish(domain.EventMessageReceived, env, domain.MessageEvent{Kind: string(message.KindText)})

	d.forward(ctx, env, forwarder.NewTextPayload(env, text), message.KindText)

	logger.InfoCF("dispatcher", "Message received", map[string]interface{}{
		"from":       env.RemoteJID,
		"text":       text,
		"message_id": env.MessageID,
	})

	reply, err := d.responder.Respond(ctx, env.RemoteJID, text)
	if err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	d.publish(domain.EventReplySent, env, domain.MessageEvent{Mode: string(reply.Mode)})
	return nil
}

// forward logs backend failures and carries on.
func (d *Dispatcher) forward(ctx context.Context, env message.Envelope, p forwarder.Payload, kind message.Kind) {
	if err := d.forwarder.Forward(ctx, p); err != nil {
		logger.ErrorCF("dispatcher", "Failed to forward message to backend", map[string]interface{}{
			"message_id": env.MessageID,
			"kind":       string(kind),
			"error":      err,
		})
		d.publish(domain.EventForwardFailed, env, domain.MessageEvent{Kind: string(kind), Error: err.Error()})
		return
	}
	d.publish(domain.EventMessageForwarded, env, domain.MessageEvent{Kind: string(kind)})
}

func (d *Dispatcher) publish(t domain.EventType, env message.Envelope, data domain.MessageEvent) {
	data.From = env.RemoteJID
	data.MessageID = env.MessageID
	d.events.Publish(domain.NewEvent(t, domain.EntityID(env.MessageID), data))
}
