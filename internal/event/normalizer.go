package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedPayload marks payloads that cannot be mapped to a canonical
// event. These are dropped, never retried.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// ErrIgnored marks payloads that parse fine but carry nothing for the
// pipeline: our own outbound echoes, group chatter, unhandled event kinds.
var ErrIgnored = errors.New("event ignored")

type rawPayload struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

type rawMessageData struct {
	Key struct {
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	Message *struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage *struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
		ImageMessage *struct {
			Caption string `json:"caption"`
			URL     string `json:"url"`
		} `json:"imageMessage"`
		VideoMessage *struct {
			Caption string `json:"caption"`
			URL     string `json:"url"`
		} `json:"videoMessage"`
		AudioMessage *struct {
			URL string `json:"url"`
		} `json:"audioMessage"`
		DocumentMessage *struct {
			Caption  string `json:"caption"`
			FileName string `json:"fileName"`
			URL      string `json:"url"`
		} `json:"documentMessage"`
	} `json:"message"`
	Update *struct {
		Status string `json:"status"`
	} `json:"update"`
	MessageTimestamp int64  `json:"messageTimestamp"`
	PushName         string `json:"pushName"`
}

type rawContactData struct {
	ID       string `json:"id"`
	PushName string `json:"pushName"`
}

// Normalize maps a signature-verified gateway payload onto the canonical
// Event variants. It is the single untyped-to-typed boundary of the pipeline.
func Normalize(body []byte) (Event, error) {
	var raw rawPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if raw.Event == "" || len(raw.Data) == 0 {
		return Event{}, fmt.Errorf("%w: missing event or data", ErrMalformedPayload)
	}

	switch raw.Event {
	case "messages.upsert":
		return normalizeUpsert(raw.Data)
	case "messages.update":
		return normalizeStatus(raw.Data)
	case "contacts.update", "contacts.upsert":
		return normalizeContact(raw.Data)
	default:
		return Event{}, fmt.Errorf("%w: event type %q", ErrIgnored, raw.Event)
	}
}

func normalizeUpsert(data json.RawMessage) (Event, error) {
	var msg rawMessageData
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if msg.Key.ID == "" || msg.Key.RemoteJid == "" {
		return Event{}, fmt.Errorf("%w: message key incomplete", ErrMalformedPayload)
	}
	if msg.Key.FromMe {
		return Event{}, fmt.Errorf("%w: own outbound echo", ErrIgnored)
	}
	if isGroupJid(msg.Key.RemoteJid) {
		return Event{}, fmt.Errorf("%w: group message", ErrIgnored)
	}
	if msg.Message == nil {
		return Event{}, fmt.Errorf("%w: upsert without message body", ErrMalformedPayload)
	}

	inbound := InboundMessage{ContactName: msg.PushName}
	m := msg.Message
	switch {
	case m.Conversation != "":
		inbound.Kind = KindText
		inbound.Text = m.Conversation
	case m.ExtendedTextMessage != nil && m.ExtendedTextMessage.Text != "":
		inbound.Kind = KindText
		inbound.Text = m.ExtendedTextMessage.Text
	case m.ImageMessage != nil:
		inbound.Kind = KindImage
		inbound.MediaURL = m.ImageMessage.URL
		inbound.Caption = m.ImageMessage.Caption
	case m.VideoMessage != nil:
		inbound.Kind = KindVideo
		inbound.MediaURL = m.VideoMessage.URL
		inbound.Caption = m.VideoMessage.Caption
	case m.AudioMessage != nil:
		inbound.Kind = KindAudio
		inbound.MediaURL = m.AudioMessage.URL
	case m.DocumentMessage != nil:
		inbound.Kind = KindDocument
		inbound.MediaURL = m.DocumentMessage.URL
		inbound.Caption = m.DocumentMessage.Caption
	default:
		return Event{}, fmt.Errorf("%w: unsupported message content", ErrMalformedPayload)
	}

	ts := time.Now().UTC()
	if msg.MessageTimestamp > 0 {
		ts = time.Unix(msg.MessageTimestamp, 0).UTC()
	}

	return Event{
		ID:        msg.Key.ID,
		ContactID: PhoneFromJid(msg.Key.RemoteJid),
		Timestamp: ts,
		Type:      TypeMessageReceived,
		Message:   &inbound,
	}, nil
}

func normalizeStatus(data json.RawMessage) (Event, error) {
	var msg rawMessageData
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if msg.Key.ID == "" || msg.Update == nil || msg.Update.Status == "" {
		return Event{}, fmt.Errorf("%w: status update incomplete", ErrMalformedPayload)
	}
	return Event{
		ID:        msg.Key.ID + ":" + msg.Update.Status,
		ContactID: PhoneFromJid(msg.Key.RemoteJid),
		Timestamp: time.Now().UTC(),
		Type:      TypeStatusUpdate,
		Status: &StatusUpdate{
			MessageID: msg.Key.ID,
			Status:    msg.Update.Status,
		},
	}, nil
}

func normalizeContact(data json.RawMessage) (Event, error) {
	var c rawContactData
	if err := json.Unmarshal(data, &c); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if c.ID == "" {
		return Event{}, fmt.Errorf("%w: contact id missing", ErrMalformedPayload)
	}
	phone := PhoneFromJid(c.ID)
	return Event{
		ID:        "contact:" + phone + ":" + c.PushName,
		ContactID: phone,
		Timestamp: time.Now().UTC(),
		Type:      TypeContactUpdate,
		Contact:   &ContactUpdate{Name: c.PushName},
	}, nil
}

// PhoneFromJid strips the gateway jid suffix: 34600111222@s.whatsapp.net
// becomes 34600111222.
func PhoneFromJid(jid string) string {
	jid = strings.TrimSuffix(jid, "@s.whatsapp.net")
	jid = strings.TrimSuffix(jid, "@g.us")
	var b strings.Builder
	b.Grow(len(jid))
	for _, r := range jid {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isGroupJid(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}
