// Package forwarder posts normalized inbound messages to the backend.
package forwarder

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/message"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderSignature = "X-Wabridge-Signature"
	HeaderTimestamp = "X-Wabridge-Timestamp"
)

// Payload is the JSON body sent to the backend. Exactly one of Text,
// ImagePath and PDFPath is set; use the constructors.
type Payload struct {
	RemoteJID   string          `json:"remoteJid"`
	Text        string          `json:"text,omitempty"`
	MessageID   string          `json:"messageId"`
	ImagePath   string          `json:"imagePath,omitempty"`
	PDFPath     string          `json:"pdfPath,omitempty"`
	FullMessage json.RawMessage `json:"fullMessage"`
}

func NewTextPayload(env message.Envelope, text string) Payload {
	p := base(env)
	p.Text = text
	return p
}

func NewImagePayload(env message.Envelope, path string) Payload {
	p := base(env)
	p.ImagePath = path
	return p
}

func NewPDFPayload(env message.Envelope, path string) Payload {
	p := base(env)
	p.PDFPath = path
	return p
}

func base(env message.Envelope) Payload {
	raw := env.Raw
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	return Payload{
		RemoteJID:   env.RemoteJID,
		MessageID:   env.MessageID,
		FullMessage: raw,
	}
}

// StatusError reports a non-2xx backend response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Body)
}

type Forwarder struct {
	url    string
	secret string
	client *http.Client
	now    func() time.Time
}

func New(url, secret string, timeout time.Duration) *Forwarder {
	return &Forwarder{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// Forward makes a single POST attempt. The response body is discarded except
// for error reporting.
func (f *Forwarder) Forward(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestID, reqID)
	req.Header.Set(HeaderTimestamp, f.now().UTC().Format(time.RFC3339))
	if f.secret != "" {
		req.Header.Set(HeaderSignature, Sign(f.secret, body))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	logger.DebugCF("forwarder", "Message forwarded", map[string]interface{}{
		"message_id": p.MessageID,
		"request_id": reqID,
		"status":     resp.StatusCode,
	})
	return nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
