package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anclora/whatsapp-pipeline/internal/event"
	"github.com/anclora/whatsapp-pipeline/internal/queue"
	"github.com/anclora/whatsapp-pipeline/internal/template"
)

// ConversionSink receives conversion events and handoff flags produced by
// transitions. Implementations must be idempotent: the engine may re-deliver
// an event after a crash between state commit and effect execution.
type ConversionSink interface {
	Record(ctx context.Context, ev ConversionEvent)
	FlagHandoff(ctx context.Context, contactID string)
}

// Transition describes one applied state change, published to observers.
type Transition struct {
	ContactID string
	From      State
	To        State
	Intent    Intent
	At        time.Time
}

type Config struct {
	// RepromptLimit is the number of unresolved clarification turns before
	// a conversation escalates to a human.
	RepromptLimit int
	AdvisorName   string

	// OpeningHours reports whether automated greetings apply at t. Nil
	// means the built-in Monday-Saturday schedule.
	OpeningHours func(t time.Time) bool

	Now func() time.Time
}

func (c Config) withinBusinessHours(t time.Time) bool {
	if c.OpeningHours != nil {
		return c.OpeningHours(t)
	}
	switch t.Weekday() {
	case time.Sunday:
		return false
	case time.Saturday:
		return t.Hour() >= 10 && t.Hour() < 14
	default:
		return t.Hour() >= 9 && t.Hour() < 19
	}
}

func (c Config) advisor() string {
	if c.AdvisorName != "" {
		return c.AdvisorName
	}
	return "María Sánchez"
}

// Engine applies webhook events to per-contact conversation state. All
// mutation for one contact happens under that contact's lock; different
// contacts proceed in parallel.
type Engine struct {
	cfg       Config
	templates *template.Manager
	queue     *queue.Queue
	sink      ConversionSink
	logger    zerolog.Logger

	// OnTransition, when set, observes every applied state change. Called
	// after effects are executed, outside the contact lock.
	OnTransition func(Transition)

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	conv Conversation
}

func NewEngine(cfg Config, templates *template.Manager, q *queue.Queue, sink ConversionSink, logger zerolog.Logger) *Engine {
	if cfg.RepromptLimit <= 0 {
		cfg.RepromptLimit = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		cfg:       cfg,
		templates: templates,
		queue:     q,
		sink:      sink,
		logger:    logger.With().Str("component", "conversation").Logger(),
		entries:   make(map[string]*entry),
	}
}

// HandleEvent routes a normalized webhook event into the state machine.
// Status updates and contact updates never produce transitions.
func (e *Engine) HandleEvent(ctx context.Context, ev event.Event) {
	switch ev.Type {
	case event.TypeMessageReceived:
		e.handleMessage(ctx, ev)
	case event.TypeContactUpdate:
		e.updateContact(ev)
	}
}

func (e *Engine) handleMessage(ctx context.Context, ev event.Event) {
	if ev.Message == nil {
		return
	}
	ent := e.entryFor(ev.ContactID)
	ent.mu.Lock()

	conv := ent.conv
	if conv.State == StateClosed {
		// Terminal state: a fresh inbound starts a brand new conversation
		// rather than resuming the old one.
		conv = Conversation{ContactID: ev.ContactID, Name: conv.Name}
		e.queue.ActivateContact(ev.ContactID)
	}
	conv.ContactID = ev.ContactID

	intent := DetectIntent(ev.Message.Text)
	now := e.cfg.Now()
	next, fx := transition(conv, ev, intent, e.cfg, now)

	// Commit before executing effects.
	ent.conv = next
	ent.mu.Unlock()

	e.logger.Info().
		Str("contact_id", ev.ContactID).
		Str("intent", intent.String()).
		Str("from", conv.State.String()).
		Str("to", next.State.String()).
		Msg("conversation transition")

	e.execute(ctx, ev, next, fx)

	if e.OnTransition != nil && conv.State != next.State {
		e.OnTransition(Transition{
			ContactID: ev.ContactID,
			From:      conv.State,
			To:        next.State,
			Intent:    intent,
			At:        now,
		})
	}
}

func (e *Engine) execute(ctx context.Context, ev event.Event, conv Conversation, fx effects) {
	for _, r := range fx.replies {
		msg, err := e.templates.RenderOrFallback(r.templateKey, r.vars)
		if err != nil {
			e.logger.Warn().Err(err).Str("template", r.templateKey).Msg("template render fell back")
		}
		job := &queue.Job{
			ContactID:   conv.ContactID,
			Message:     msg,
			Priority:    r.priority,
			ScheduledAt: r.scheduledAt,
			EventAt:     ev.Timestamp,
			Final:       r.final,
		}
		if err := e.queue.Enqueue(job); err != nil {
			e.logger.Error().Err(err).Str("contact_id", conv.ContactID).Str("template", r.templateKey).Msg("enqueue rejected")
		}
	}

	if fx.cancelContact {
		e.queue.CancelContact(conv.ContactID)
	}

	if e.sink != nil {
		for _, c := range fx.conversions {
			e.sink.Record(ctx, c)
		}
		if fx.handoff {
			e.sink.FlagHandoff(ctx, conv.ContactID)
		}
	}
}

func (e *Engine) updateContact(ev event.Event) {
	if ev.Contact == nil || ev.Contact.Name == "" {
		return
	}
	ent := e.entryFor(ev.ContactID)
	ent.mu.Lock()
	ent.conv.Name = ev.Contact.Name
	ent.mu.Unlock()
}

// Snapshot returns a copy of a contact's conversation, for operator
// inspection.
func (e *Engine) Snapshot(contactID string) (Conversation, bool) {
	e.mu.Lock()
	ent, ok := e.entries[contactID]
	e.mu.Unlock()
	if !ok {
		return Conversation{}, false
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.conv, true
}

type multiSink []ConversionSink

func (m multiSink) Record(ctx context.Context, ev ConversionEvent) {
	for _, s := range m {
		s.Record(ctx, ev)
	}
}

func (m multiSink) FlagHandoff(ctx context.Context, contactID string) {
	for _, s := range m {
		s.FlagHandoff(ctx, contactID)
	}
}

// CombineSinks fans conversion events out to several sinks.
func CombineSinks(sinks ...ConversionSink) ConversionSink {
	return multiSink(sinks)
}

func (e *Engine) entryFor(contactID string) *entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[contactID]
	if !ok {
		ent = &entry{conv: Conversation{ContactID: contactID}}
		e.entries[contactID] = ent
	}
	return ent
}
