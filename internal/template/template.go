package template

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"github.com/anclora/whatsapp-pipeline/internal/event"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrMissingVariable  = errors.New("missing required variable")
)

// Template is a registered outbound message pattern. Immutable after
// registration; Bodies holds interchangeable phrasings, one is picked per
// render so repeated automated replies don't read identically.
type Template struct {
	Key          string
	Kind         event.Kind
	Bodies       []string
	RequiredVars []string
	MediaURL     string
}

// RenderedMessage is a template resolved against concrete variables, ready
// to be queued for delivery.
type RenderedMessage struct {
	TemplateKey string
	Kind        event.Kind
	Text        string
	MediaURL    string
	Caption     string
}

// Manager resolves template keys. The template map is populated once at
// construction and never mutated, so lookups need no locking.
type Manager struct {
	templates   map[string]Template
	fallbackKey string
	pick        func(n int) int
}

func NewManager(templates []Template, fallbackKey string) (*Manager, error) {
	m := &Manager{
		templates:   make(map[string]Template, len(templates)),
		fallbackKey: fallbackKey,
		pick:        rand.Intn,
	}
	for _, t := range templates {
		if t.Key == "" || len(t.Bodies) == 0 {
			return nil, fmt.Errorf("template %q requires a key and at least one body", t.Key)
		}
		if _, dup := m.templates[t.Key]; dup {
			return nil, fmt.Errorf("duplicate template key %q", t.Key)
		}
		m.templates[t.Key] = t
	}
	fb, ok := m.templates[fallbackKey]
	if !ok {
		return nil, fmt.Errorf("fallback template %q not registered", fallbackKey)
	}
	// The fallback renders with no variables, so it must not require any.
	if len(fb.RequiredVars) > 0 {
		return nil, fmt.Errorf("fallback template %q must not require variables, has %v", fallbackKey, fb.RequiredVars)
	}
	return m, nil
}

var placeholderPattern = regexp.MustCompile(`\{[a-zA-Z0-9_]+\}`)

// Render resolves key against vars. All required variables must be present
// and non-empty; optional placeholders left unset are stripped from the body.
func (m *Manager) Render(key string, vars map[string]string) (RenderedMessage, error) {
	t, ok := m.templates[key]
	if !ok {
		return RenderedMessage{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, key)
	}
	for _, name := range t.RequiredVars {
		if vars[name] == "" {
			return RenderedMessage{}, fmt.Errorf("%w: %q in template %q", ErrMissingVariable, name, key)
		}
	}

	body := t.Bodies[m.pick(len(t.Bodies))]
	for name, value := range vars {
		body = strings.ReplaceAll(body, "{"+name+"}", value)
	}
	body = strings.TrimSpace(placeholderPattern.ReplaceAllString(body, ""))

	msg := RenderedMessage{
		TemplateKey: key,
		Kind:        t.Kind,
		MediaURL:    t.MediaURL,
	}
	if t.Kind == event.KindText {
		msg.Text = body
	} else {
		msg.Caption = body
	}
	return msg, nil
}

// RenderOrFallback renders key, substituting the configured fallback template
// on any template error. A customer-facing reply is never suppressed because
// a template was missing or misconfigured; the error is returned alongside
// the fallback so the caller can log it.
func (m *Manager) RenderOrFallback(key string, vars map[string]string) (RenderedMessage, error) {
	msg, err := m.Render(key, vars)
	if err == nil {
		return msg, nil
	}
	fallback, ferr := m.Render(m.fallbackKey, nil)
	if ferr != nil {
		// The fallback is validated at construction to need no variables.
		return RenderedMessage{}, ferr
	}
	return fallback, err
}

// Keys lists the registered template keys.
func (m *Manager) Keys() []string {
	keys := make([]string, 0, len(m.templates))
	for k := range m.templates {
		keys = append(keys, k)
	}
	return keys
}
