// Package responder sends the bot's reply to an inbound text message.
package responder

import (
	"context"
	"fmt"

	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/message"
	"github.com/sipeed/wabridge/pkg/providers"
)

const (
	DefaultEchoPrefix   = "Echo: "
	DefaultFallbackText = "Sorry, AI is currently unavailable. Please try again later."
)

type Mode string

const (
	ModeAI       Mode = "ai"
	ModeFallback Mode = "fallback"
	ModeEcho     Mode = "echo"
)

// Reply is what was actually sent.
type Reply struct {
	Text string
	Mode Mode
}

type Config struct {
	AIEnabled    bool
	EchoPrefix   string
	FallbackText string
}

type Responder struct {
	sessions message.SessionProvider
	llm      providers.LLM
	cfg      Config
}

// New returns a responder. llm may be nil; with AI enabled every reply is
// then the fallback text.
func New(sessions message.SessionProvider, llm providers.LLM, cfg Config) *Responder {
	if cfg.EchoPrefix == "" {
		cfg.EchoPrefix = DefaultEchoPrefix
	}
	if cfg.FallbackText == "" {
		cfg.FallbackText = DefaultFallbackText
	}
	return &Responder{sessions: sessions, llm: llm, cfg: cfg}
}

// Respond replies to text from jid. Generation failures are absorbed into
// the fallback text; only send failures are returned.
func (r *Responder) Respond(ctx context.Context, jid, text string) (Reply, error) {
	session, ok := r.sessions.ActiveSession()
	if !ok {
		return Reply{}, message.ErrSessionUnavailable
	}

	if !r.cfg.AIEnabled {
		reply := Reply{Text: r.cfg.EchoPrefix + text, Mode: ModeEcho}
		if err := session.SendText(ctx, jid, reply.Text); err != nil {
			return Reply{}, fmt.Errorf("send echo: %w", err)
		}
		logger.InfoCF("responder", "Echo response sent", map[string]interface{}{
			"to":            jid,
			"original_text": text,
		})
		return reply, nil
	}

	logger.InfoCF("responder", "Processing AI request", map[string]interface{}{
		"from":   jid,
		"prompt": text,
	})

	reply, err := r.generate(ctx, text)
	if err != nil {
		logger.ErrorCF("responder", "AI request failed", map[string]interface{}{
			"from":  jid,
			"error": err,
		})
		return r.sendFallback(ctx, session, jid)
	}

	if err := session.SendText(ctx, jid, reply); err != nil {
		logger.ErrorCF("responder", "Failed to send AI response", map[string]interface{}{
			"to":    jid,
			"error": err,
		})
		return r.sendFallback(ctx, session, jid)
	}
	logger.InfoCF("responder", "AI response sent", map[string]interface{}{
		"to":              jid,
		"response_length": len(reply),
	})
	return Reply{Text: reply, Mode: ModeAI}, nil
}

func (r *Responder) generate(ctx context.Context, text string) (string, error) {
	if r.llm == nil {
		return "", fmt.Errorf("no AI provider configured")
	}
	return r.llm.Generate(ctx, text)
}

func (r *Responder) sendFallback(ctx context.Context, session message.Session, jid string) (Reply, error) {
	if err := session.SendText(ctx, jid, r.cfg.FallbackText); err != nil {
		return Reply{}, fmt.Errorf("send fallback: %w", err)
	}
	return Reply{Text: r.cfg.FallbackText, Mode: ModeFallback}, nil
}
