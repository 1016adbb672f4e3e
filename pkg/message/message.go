// Package message holds the transport-neutral types passed between the
// WhatsApp session, the dispatcher and the HTTP routes.
package message

import (
	"context"
	"encoding/json"
	"os"
	"time"
)

type MessageError string

func (e MessageError) Error() string { return string(e) }

const (
	ErrSessionUnavailable MessageError = "whatsapp session not connected"
)

// Kind classifies decoded content.
type Kind string

const (
	KindText        Kind = "text"
	KindImage       Kind = "image"
	KindPDF         Kind = "pdf"
	KindUnsupported Kind = "unsupported"
)

// Content is implemented by Text, Image, Document and Unsupported only.
type Content interface {
	Kind() Kind
	content()
}

type Text struct {
	Body string
}

type Image struct {
	Attachment Attachment
	MimeType   string
	Caption    string
}

// Document is always a PDF; other documents decode to Unsupported.
type Document struct {
	Attachment Attachment
	MimeType   string
	FileName   string
}

type Unsupported struct {
	// Type names the unhandled payload, e.g. "audioMessage".
	Type string
}

func (Text) Kind() Kind        { return KindText }
func (Image) Kind() Kind       { return KindImage }
func (Document) Kind() Kind    { return KindPDF }
func (Unsupported) Kind() Kind { return KindUnsupported }

func (Text) content()        {}
func (Image) content()       {}
func (Document) content()    {}
func (Unsupported) content() {}

// Attachment streams remote media bytes into f.
type Attachment interface {
	DownloadTo(ctx context.Context, f *os.File) error
}

// Envelope is one decoded inbound message. Content is nil when the message
// carried no payload at all.
type Envelope struct {
	RemoteJID string
	MessageID string
	FromMe    bool
	PushName  string
	Timestamp time.Time
	Content   Content
	// Raw is the full message as JSON, forwarded verbatim to the backend.
	Raw json.RawMessage
}

type BatchType string

const (
	BatchNotify BatchType = "notify"
	BatchAppend BatchType = "append"
)

type Batch struct {
	Type     BatchType
	Messages []Envelope
}

// Session sends text through an established WhatsApp connection.
type Session interface {
	SendText(ctx context.Context, jid, text string) error
}

// SessionProvider returns the current session, or false when none is
// connected.
type SessionProvider interface {
	ActiveSession() (Session, bool)
}
