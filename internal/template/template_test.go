package template

import (
	"errors"
	"strings"
	"testing"

	"github.com/anclora/whatsapp-pipeline/internal/event"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(DefaultCatalog(), KeyFallback)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.pick = func(int) int { return 0 }
	return m
}

func TestRenderSubstitutesVariables(t *testing.T) {
	m := newTestManager(t)

	msg, err := m.Render(KeyAppointment, map[string]string{
		"fecha":  "12/05",
		"hora":   "11:00",
		"asesor": "María García",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != event.KindText {
		t.Fatalf("expected text kind, got %s", msg.Kind)
	}
	for _, want := range []string{"12/05", "11:00", "María García"} {
		if !strings.Contains(msg.Text, want) {
			t.Fatalf("rendered text missing %q: %s", want, msg.Text)
		}
	}
	if strings.Contains(msg.Text, "{") {
		t.Fatalf("rendered text contains unresolved placeholder: %s", msg.Text)
	}
}

func TestRenderUnknownKey(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Render("no-such-template", nil)
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestRenderMissingVariable(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name string
		vars map[string]string
	}{
		{"nil vars", nil},
		{"empty value", map[string]string{"nombre": ""}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Render(KeyGreeting, tc.vars)
			if !errors.Is(err, ErrMissingVariable) {
				t.Fatalf("expected ErrMissingVariable, got %v", err)
			}
		})
	}
}

func TestRenderOrFallbackNeverDropsReply(t *testing.T) {
	m := newTestManager(t)

	msg, err := m.RenderOrFallback(KeyGreeting, nil)
	if err == nil {
		t.Fatal("expected the original template error to surface")
	}
	if msg.TemplateKey != KeyFallback {
		t.Fatalf("expected fallback template, got %s", msg.TemplateKey)
	}
	if msg.Text == "" {
		t.Fatal("fallback text must not be empty")
	}

	msg, err = m.RenderOrFallback("missing-key", nil)
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	if msg.TemplateKey != KeyFallback {
		t.Fatalf("expected fallback template, got %s", msg.TemplateKey)
	}
}

func TestNewManagerRejectsBadCatalog(t *testing.T) {
	if _, err := NewManager([]Template{{Key: "x"}}, "x"); err == nil {
		t.Fatal("expected error for template without bodies")
	}
	ok := Template{Key: "x", Kind: event.KindText, Bodies: []string{"hola"}}
	if _, err := NewManager([]Template{ok, ok}, "x"); err == nil {
		t.Fatal("expected error for duplicate key")
	}
	if _, err := NewManager([]Template{ok}, "other"); err == nil {
		t.Fatal("expected error for unregistered fallback key")
	}
	needy := Template{Key: "x", Kind: event.KindText, Bodies: []string{"hola {nombre}"}, RequiredVars: []string{"nombre"}}
	if _, err := NewManager([]Template{needy}, "x"); err == nil {
		t.Fatal("expected error for fallback that requires variables")
	}
}

func TestRenderMediaTemplateUsesCaption(t *testing.T) {
	tpl := Template{
		Key:      "brochure",
		Kind:     event.KindDocument,
		Bodies:   []string{"Dossier de {nombrePropiedad}"},
		MediaURL: "https://cdn.anclora.example/dossier.pdf",
		RequiredVars: []string{
			"nombrePropiedad",
		},
	}
	fallback := Template{Key: KeyFallback, Kind: event.KindText, Bodies: []string{"ok"}}
	m, err := NewManager([]Template{tpl, fallback}, KeyFallback)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.pick = func(int) int { return 0 }

	msg, err := m.Render("brochure", map[string]string{"nombrePropiedad": "Villa Serena"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Caption != "Dossier de Villa Serena" {
		t.Fatalf("unexpected caption: %s", msg.Caption)
	}
	if msg.Text != "" {
		t.Fatalf("media template should not set text, got %q", msg.Text)
	}
	if msg.MediaURL == "" {
		t.Fatal("media template should carry media url")
	}
}
