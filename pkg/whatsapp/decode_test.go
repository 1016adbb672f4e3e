package whatsapp

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/sipeed/wabridge/pkg/message"
)

type stubAttachment struct {
	media whatsmeow.DownloadableMessage
}

func (stubAttachment) DownloadTo(context.Context, *os.File) error { return nil }

func stubAttach(d whatsmeow.DownloadableMessage) message.Attachment {
	return stubAttachment{media: d}
}

func TestDecodeContent(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want message.Kind
		body string
	}{
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, message.KindText, "hello"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("linked")}}, message.KindText, "linked"},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Mimetype: proto.String("image/jpeg")}}, message.KindImage, ""},
		{"pdf", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Mimetype: proto.String("application/pdf"), FileName: proto.String("r.pdf")}}, message.KindPDF, ""},
		{"docx", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Mimetype: proto.String("application/msword")}}, message.KindUnsupported, ""},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, message.KindUnsupported, ""},
		{"location", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{}}, message.KindUnsupported, ""},
		{"empty", &waE2E.Message{}, message.KindUnsupported, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := decodeContent(tt.msg, stubAttach)
			if c == nil {
				t.Fatal("decodeContent() = nil")
			}
			if c.Kind() != tt.want {
				t.Errorf("Kind() = %s, want %s", c.Kind(), tt.want)
			}
			if txt, ok := c.(message.Text); ok && txt.Body != tt.body {
				t.Errorf("Body = %q, want %q", txt.Body, tt.body)
			}
		})
	}

	if decodeContent(nil, stubAttach) != nil {
		t.Error("nil message should decode to nil content")
	}
}

func TestDecodeContentAttachesMedia(t *testing.T) {
	img := &waE2E.ImageMessage{Mimetype: proto.String("image/jpeg"), Caption: proto.String("receipt")}
	c := decodeContent(&waE2E.Message{ImageMessage: img}, stubAttach).(message.Image)
	if c.Caption != "receipt" || c.MimeType != "image/jpeg" {
		t.Errorf("image = %+v", c)
	}
	if got := c.Attachment.(stubAttachment).media; got != whatsmeow.DownloadableMessage(img) {
		t.Error("attachment should wrap the image message")
	}
}

func TestDecodeLive(t *testing.T) {
	chat := types.NewJID("111", types.DefaultUserServer)
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: chat, IsFromMe: false},
			ID:            "ABC123",
			PushName:      "Ana",
			Timestamp:     time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: proto.String("hello")},
	}

	env := decodeLive(evt, stubAttach)
	if env.RemoteJID != "111@s.whatsapp.net" || env.MessageID != "ABC123" || env.PushName != "Ana" {
		t.Errorf("envelope = %+v", env)
	}
	if txt, ok := env.Content.(message.Text); !ok || txt.Body != "hello" {
		t.Errorf("content = %#v", env.Content)
	}

	var raw struct {
		Key struct {
			RemoteJID   string `json:"remoteJid"`
			FromMe      bool   `json:"fromMe"`
			ID          string `json:"id"`
			Participant string `json:"participant"`
		} `json:"key"`
		Message          map[string]interface{} `json:"message"`
		MessageTimestamp int64                  `json:"messageTimestamp"`
		PushName         string                 `json:"pushName"`
	}
	if err := json.Unmarshal(env.Raw, &raw); err != nil {
		t.Fatalf("raw is not JSON: %v", err)
	}
	if raw.Key.RemoteJID != "111@s.whatsapp.net" || raw.Key.ID != "ABC123" || raw.Key.Participant != "" {
		t.Errorf("raw key = %+v", raw.Key)
	}
	if raw.Message["conversation"] != "hello" {
		t.Errorf("raw message = %v", raw.Message)
	}
	if raw.MessageTimestamp != 1700000000 || raw.PushName != "Ana" {
		t.Errorf("raw = %+v", raw)
	}
}

func TestDecodeLiveGroupParticipant(t *testing.T) {
	group := types.NewJID("120363", types.GroupServer)
	sender := types.NewJID("222", types.DefaultUserServer)
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: group, Sender: sender, IsGroup: true},
			ID:            "G1",
		},
		Message: &waE2E.Message{Conversation: proto.String("hi all")},
	}

	env := decodeLive(evt, stubAttach)
	if env.RemoteJID != group.String() {
		t.Errorf("RemoteJID = %q, want group jid", env.RemoteJID)
	}
	var raw struct {
		Key rawKey `json:"key"`
	}
	json.Unmarshal(env.Raw, &raw)
	if raw.Key.Participant != sender.String() {
		t.Errorf("participant = %q, want %q", raw.Key.Participant, sender.String())
	}
}

func TestDecodeHistory(t *testing.T) {
	evt := &events.HistorySync{
		Data: &waHistorySync.HistorySync{
			Conversations: []*waHistorySync.Conversation{{
				ID: proto.String("111@s.whatsapp.net"),
				Messages: []*waHistorySync.HistorySyncMsg{
					{Message: &waWeb.WebMessageInfo{
						Key: &waCommon.MessageKey{
							ID:     proto.String("H1"),
							FromMe: proto.Bool(true),
						},
						Message: &waE2E.Message{
							EphemeralMessage: &waE2E.FutureProofMessage{
								Message: &waE2E.Message{Conversation: proto.String("old")},
							},
						},
						MessageTimestamp: proto.Uint64(1600000000),
					}},
					{Message: nil},
				},
			}},
		},
	}

	envs := decodeHistory(evt, stubAttach)
	if len(envs) != 1 {
		t.Fatalf("len = %d, want 1", len(envs))
	}
	env := envs[0]
	if env.RemoteJID != "111@s.whatsapp.net" || env.MessageID != "H1" || !env.FromMe {
		t.Errorf("envelope = %+v", env)
	}
	if txt, ok := env.Content.(message.Text); !ok || txt.Body != "old" {
		t.Errorf("content = %#v, want unwrapped text", env.Content)
	}
	if env.Timestamp.Unix() != 1600000000 {
		t.Errorf("timestamp = %v", env.Timestamp)
	}
}

func TestUnwrapViewOnceImage(t *testing.T) {
	msg := &waE2E.Message{
		ViewOnceMessageV2: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}},
		},
	}
	if got := decodeContent(unwrap(msg), stubAttach); got.Kind() != message.KindImage {
		t.Errorf("Kind() = %s, want image", got.Kind())
	}
}
