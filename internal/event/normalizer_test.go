package event

import (
	"errors"
	"testing"
)

func TestNormalizeTextMessage(t *testing.T) {
	body := []byte(`{
		"event": "messages.upsert",
		"instance": "anclora-main",
		"data": {
			"key": {"remoteJid": "34600111222@s.whatsapp.net", "fromMe": false, "id": "MSG-1"},
			"message": {"conversation": "Hola"},
			"messageTimestamp": 1736000000,
			"pushName": "Carlos"
		}
	}`)

	ev, err := Normalize(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != TypeMessageReceived {
		t.Fatalf("expected message.received, got %s", ev.Type)
	}
	if ev.ID != "MSG-1" {
		t.Fatalf("expected id MSG-1, got %s", ev.ID)
	}
	if ev.ContactID != "34600111222" {
		t.Fatalf("expected contact 34600111222, got %s", ev.ContactID)
	}
	if ev.Message == nil || ev.Message.Kind != KindText || ev.Message.Text != "Hola" {
		t.Fatalf("unexpected message payload: %+v", ev.Message)
	}
	if ev.Message.ContactName != "Carlos" {
		t.Fatalf("expected contact name Carlos, got %s", ev.Message.ContactName)
	}
}

func TestNormalizeMediaKinds(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantKind Kind
	}{
		{
			name:     "image with caption",
			message:  `{"imageMessage": {"caption": "la villa", "url": "https://cdn/x.jpg"}}`,
			wantKind: KindImage,
		},
		{
			name:     "video",
			message:  `{"videoMessage": {"url": "https://cdn/x.mp4"}}`,
			wantKind: KindVideo,
		},
		{
			name:     "audio",
			message:  `{"audioMessage": {"url": "https://cdn/x.ogg"}}`,
			wantKind: KindAudio,
		},
		{
			name:     "document",
			message:  `{"documentMessage": {"fileName": "dossier.pdf", "url": "https://cdn/x.pdf"}}`,
			wantKind: KindDocument,
		},
		{
			name:     "extended text",
			message:  `{"extendedTextMessage": {"text": "me interesa"}}`,
			wantKind: KindText,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body := []byte(`{
				"event": "messages.upsert",
				"instance": "anclora-main",
				"data": {
					"key": {"remoteJid": "34600111222@s.whatsapp.net", "fromMe": false, "id": "MSG-2"},
					"message": ` + tc.message + `
				}
			}`)
			ev, err := Normalize(body)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.Message.Kind != tc.wantKind {
				t.Fatalf("expected kind %s, got %s", tc.wantKind, ev.Message.Kind)
			}
		})
	}
}

func TestNormalizeStatusUpdate(t *testing.T) {
	body := []byte(`{
		"event": "messages.update",
		"instance": "anclora-main",
		"data": {
			"key": {"remoteJid": "34600111222@s.whatsapp.net", "id": "MSG-3"},
			"update": {"status": "delivered"}
		}
	}`)

	ev, err := Normalize(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != TypeStatusUpdate {
		t.Fatalf("expected message.status, got %s", ev.Type)
	}
	if ev.Status.MessageID != "MSG-3" || ev.Status.Status != "delivered" {
		t.Fatalf("unexpected status payload: %+v", ev.Status)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing event", `{"data": {"key": {"id": "x"}}}`},
		{"missing data", `{"event": "messages.upsert"}`},
		{"missing key id", `{"event": "messages.upsert", "data": {"key": {"remoteJid": "1@s.whatsapp.net"}, "message": {"conversation": "x"}}}`},
		{"no message body", `{"event": "messages.upsert", "data": {"key": {"remoteJid": "1@s.whatsapp.net", "id": "x"}}}`},
		{"empty message", `{"event": "messages.upsert", "data": {"key": {"remoteJid": "1@s.whatsapp.net", "id": "x"}, "message": {}}}`},
		{"status without update", `{"event": "messages.update", "data": {"key": {"remoteJid": "1@s.whatsapp.net", "id": "x"}}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize([]byte(tc.body))
			if !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("expected ErrMalformedPayload, got %v", err)
			}
		})
	}
}

func TestNormalizeIgnored(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"from me", `{"event": "messages.upsert", "data": {"key": {"remoteJid": "1@s.whatsapp.net", "fromMe": true, "id": "x"}, "message": {"conversation": "x"}}}`},
		{"group chat", `{"event": "messages.upsert", "data": {"key": {"remoteJid": "123-456@g.us", "id": "x"}, "message": {"conversation": "x"}}}`},
		{"unhandled event", `{"event": "presence.update", "data": {"id": "1@s.whatsapp.net"}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize([]byte(tc.body))
			if !errors.Is(err, ErrIgnored) {
				t.Fatalf("expected ErrIgnored, got %v", err)
			}
		})
	}
}

func TestPhoneFromJid(t *testing.T) {
	cases := map[string]string{
		"34600111222@s.whatsapp.net": "34600111222",
		"349001@s.whatsapp.net":      "349001",
		"34600111222":                "34600111222",
	}
	for input, expected := range cases {
		if got := PhoneFromJid(input); got != expected {
			t.Fatalf("PhoneFromJid(%s)=%s, expected %s", input, got, expected)
		}
	}
}
