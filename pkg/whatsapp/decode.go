package whatsapp

import (
	"encoding/json"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/message"
)

const mimePDF = "application/pdf"

type attachFunc func(whatsmeow.DownloadableMessage) message.Attachment

// ---------------------------------------------------------------------------
// Event → envelope
// ---------------------------------------------------------------------------

func decodeLive(evt *events.Message, attach attachFunc) message.Envelope {
	info := evt.Info
	key := rawKey{
		RemoteJID: info.Chat.String(),
		FromMe:    info.IsFromMe,
		ID:        info.ID,
	}
	if info.IsGroup {
		key.Participant = info.Sender.String()
	}

	return message.Envelope{
		RemoteJID: key.RemoteJID,
		MessageID: info.ID,
		FromMe:    info.IsFromMe,
		PushName:  info.PushName,
		Timestamp: info.Timestamp,
		Content:   decodeContent(evt.Message, attach),
		Raw:       rawMessage(key, evt.Message, info.Timestamp.Unix(), info.PushName),
	}
}

// decodeHistory flattens every conversation of a history sync, oldest
// conversation order preserved.
func decodeHistory(evt *events.HistorySync, attach attachFunc) []message.Envelope {
	if evt.Data == nil {
		return nil
	}
	var out []message.Envelope
	for _, conv := range evt.Data.GetConversations() {
		chat := conv.GetID()
		for _, hm := range conv.GetMessages() {
			wmi := hm.GetMessage()
			if wmi == nil {
				continue
			}
			k := wmi.GetKey()
			key := rawKey{
				RemoteJID:   k.GetRemoteJID(),
				FromMe:      k.GetFromMe(),
				ID:          k.GetID(),
				Participant: k.GetParticipant(),
			}
			if key.RemoteJID == "" {
				key.RemoteJID = chat
			}
			ts := int64(wmi.GetMessageTimestamp())
			msg := unwrap(wmi.GetMessage())

			out = append(out, message.Envelope{
				RemoteJID: key.RemoteJID,
				MessageID: key.ID,
				FromMe:    key.FromMe,
				PushName:  wmi.GetPushName(),
				Timestamp: time.Unix(ts, 0).UTC(),
				Content:   decodeContent(msg, attach),
				Raw:       rawMessage(key, msg, ts, wmi.GetPushName()),
			})
		}
	}
	return out
}

// unwrap strips container messages. Live events arrive already unwrapped by
// whatsmeow; history entries do not.
func unwrap(msg *waE2E.Message) *waE2E.Message {
	for i := 0; msg != nil && i < 4; i++ {
		switch {
		case msg.GetEphemeralMessage().GetMessage() != nil:
			msg = msg.GetEphemeralMessage().GetMessage()
		case msg.GetViewOnceMessage().GetMessage() != nil:
			msg = msg.GetViewOnceMessage().GetMessage()
		case msg.GetViewOnceMessageV2().GetMessage() != nil:
			msg = msg.GetViewOnceMessageV2().GetMessage()
		case msg.GetDocumentWithCaptionMessage().GetMessage() != nil:
			msg = msg.GetDocumentWithCaptionMessage().GetMessage()
		default:
			return msg
		}
	}
	return msg
}

// ---------------------------------------------------------------------------
// Content classification
// ---------------------------------------------------------------------------

// decodeContent returns nil only when there is no message at all.
func decodeContent(msg *waE2E.Message, attach attachFunc) message.Content {
	if msg == nil {
		return nil
	}

	if img := msg.GetImageMessage(); img != nil {
		return message.Image{
			Attachment: attach(img),
			MimeType:   img.GetMimetype(),
			Caption:    img.GetCaption(),
		}
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		if doc.GetMimetype() != mimePDF {
			return message.Unsupported{Type: "documentMessage"}
		}
		return message.Document{
			Attachment: attach(doc),
			MimeType:   doc.GetMimetype(),
			FileName:   doc.GetFileName(),
		}
	}
	if text := msg.GetConversation(); text != "" {
		return message.Text{Body: text}
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return message.Text{Body: ext.GetText()}
	}
	return message.Unsupported{Type: unsupportedType(msg)}
}

func unsupportedType(msg *waE2E.Message) string {
	switch {
	case msg.GetAudioMessage() != nil:
		return "audioMessage"
	case msg.GetVideoMessage() != nil:
		return "videoMessage"
	case msg.GetStickerMessage() != nil:
		return "stickerMessage"
	case msg.GetContactMessage() != nil, msg.GetContactsArrayMessage() != nil:
		return "contactMessage"
	case msg.GetLocationMessage() != nil, msg.GetLiveLocationMessage() != nil:
		return "locationMessage"
	case msg.GetReactionMessage() != nil:
		return "reactionMessage"
	case msg.GetProtocolMessage() != nil:
		return "protocolMessage"
	default:
		return "unknown"
	}
}

// ---------------------------------------------------------------------------
// fullMessage JSON
// ---------------------------------------------------------------------------

type rawKey struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

type rawEnvelope struct {
	Key              rawKey          `json:"key"`
	Message          json.RawMessage `json:"message"`
	MessageTimestamp int64           `json:"messageTimestamp"`
	PushName         string          `json:"pushName,omitempty"`
}

func rawMessage(key rawKey, msg *waE2E.Message, ts int64, pushName string) json.RawMessage {
	body := json.RawMessage("null")
	if msg != nil {
		b, err := protojson.Marshal(msg)
		if err != nil {
			logger.WarnCF("whatsapp", "Failed to render message JSON", map[string]interface{}{
				"message_id": key.ID,
				"error":      err,
			})
		} else {
			body = b
		}
	}

	out, err := json.Marshal(rawEnvelope{
		Key:              key,
		Message:          body,
		MessageTimestamp: ts,
		PushName:         pushName,
	})
	if err != nil {
		return json.RawMessage("null")
	}
	return out
}
