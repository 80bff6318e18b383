package conversation

import (
	"time"

	"github.com/anclora/whatsapp-pipeline/internal/event"
	"github.com/anclora/whatsapp-pipeline/internal/queue"
	"github.com/anclora/whatsapp-pipeline/internal/template"
)

// State is the position of a contact in the conversation flow.
type State int

const (
	StateNew State = iota
	StateAwaitingResponse
	StateQualified
	StateEscalated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateQualified:
		return "qualified"
	case StateEscalated:
		return "escalated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConversionType classifies a business outcome attributable to a
// conversation.
type ConversionType string

const (
	ConversionLead          ConversionType = "lead"
	ConversionQualifiedLead ConversionType = "qualified_lead"
	ConversionAppointment   ConversionType = "appointment"
	ConversionSale          ConversionType = "sale"
)

// ConversionEvent records one business outcome. Value is non-zero only for
// sales.
type ConversionEvent struct {
	ContactID string
	Type      ConversionType
	Value     float64
	State     State
	At        time.Time
}

// Conversation is the per-contact state owned by the engine.
type Conversation struct {
	ContactID string
	Name      string
	State     State
	Reprompts int
	// AfterHoursNotified keeps the out-of-office notice to one per
	// conversation.
	AfterHoursNotified bool
	LastEventAt        time.Time
}

// reply is a pending outbound message produced by a transition, resolved to
// a rendered job only at effect execution time.
type reply struct {
	templateKey string
	vars        map[string]string
	priority    queue.Priority
	scheduledAt time.Time
	final       bool
}

// effects is the side-effect set returned by a transition, executed only
// after the state mutation commits.
type effects struct {
	replies       []reply
	conversions   []ConversionEvent
	cancelContact bool
	handoff       bool
}

// transition computes the next conversation state and its side effects as a
// pure function of the current conversation, the inbound event and the
// detected intent. It never mutates its inputs.
func transition(conv Conversation, ev event.Event, intent Intent, cfg Config, now time.Time) (Conversation, effects) {
	next := conv
	next.LastEventAt = ev.Timestamp
	var fx effects

	name := conv.Name
	if ev.Message != nil && ev.Message.ContactName != "" {
		name = ev.Message.ContactName
		next.Name = name
	}
	if name == "" {
		name = "cliente"
	}
	vars := map[string]string{"nombre": name}

	// Opt-out wins from every state: confirm once, then no more automated
	// messages for this contact.
	if intent == IntentOptOut {
		next.State = StateClosed
		fx.replies = append(fx.replies, reply{templateKey: template.KeyOptOut, priority: queue.PriorityCritical, final: true})
		fx.cancelContact = true
		return next, fx
	}

	// An explicit request for a human escalates from any state. A first
	// contact that asks for an agent is still a lead, but gets the
	// escalation notice instead of the greeting.
	if intent == IntentHandoff && conv.State != StateEscalated {
		next.State = StateEscalated
		fx.handoff = true
		if conv.State == StateNew {
			fx.conversions = append(fx.conversions, conversion(conv.ContactID, ConversionLead, 0, next.State, now))
		}
		fx.replies = append(fx.replies, reply{templateKey: template.KeyEscalation, priority: queue.PriorityCritical})
		return next, fx
	}

	switch conv.State {
	case StateNew:
		next.State = StateAwaitingResponse
		fx.conversions = append(fx.conversions, conversion(conv.ContactID, ConversionLead, 0, next.State, now))
		if cfg.withinBusinessHours(now) {
			fx.replies = append(fx.replies, reply{templateKey: template.KeyGreeting, vars: vars, priority: queue.PriorityNormal})
		} else {
			next.AfterHoursNotified = true
			fx.replies = append(fx.replies, reply{templateKey: template.KeyOutOfOffice, vars: vars, priority: queue.PriorityNormal})
		}

	case StateAwaitingResponse:
		switch intent {
		case IntentQualifying, IntentAppointment, IntentSale:
			next.State = StateQualified
			next.Reprompts = 0
			fx.conversions = append(fx.conversions, conversion(conv.ContactID, ConversionQualifiedLead, 0, next.State, now))
			fx.replies = append(fx.replies, reply{templateKey: template.KeyQualifiedFlow, vars: vars, priority: queue.PriorityHigh})
		default:
			next.Reprompts = conv.Reprompts + 1
			if next.Reprompts >= cfg.RepromptLimit {
				next.State = StateEscalated
				fx.handoff = true
				fx.replies = append(fx.replies, reply{templateKey: template.KeyEscalation, priority: queue.PriorityCritical})
			} else {
				fx.replies = append(fx.replies, reply{templateKey: template.KeyClarify, vars: vars, priority: queue.PriorityNormal})
			}
		}

	case StateQualified:
		switch intent {
		case IntentAppointment:
			slot := nextVisitSlot(now)
			fx.conversions = append(fx.conversions, conversion(conv.ContactID, ConversionAppointment, 0, next.State, now))
			apptVars := map[string]string{
				"nombre": name,
				"fecha":  slot.Format("02/01/2006"),
				"hora":   slot.Format("15:04"),
				"asesor": cfg.advisor(),
			}
			fx.replies = append(fx.replies, reply{templateKey: template.KeyAppointment, vars: apptVars, priority: queue.PriorityHigh})
			if remindAt := slot.Add(-24 * time.Hour); remindAt.After(now) {
				fx.replies = append(fx.replies, reply{templateKey: template.KeyReminder, vars: apptVars, priority: queue.PriorityLow, scheduledAt: remindAt})
			}
		case IntentSale:
			value := 0.0
			if ev.Message != nil {
				value = ExtractAmount(ev.Message.Text)
			}
			next.State = StateClosed
			fx.conversions = append(fx.conversions, conversion(conv.ContactID, ConversionSale, value, next.State, now))
		}
		// Anything else stays qualified with no automated reply; the
		// assigned advisor owns the thread from here.

	case StateEscalated:
		// A human agent owns the conversation. Conversions are still
		// recorded, replies are not.
		switch intent {
		case IntentAppointment:
			fx.conversions = append(fx.conversions, conversion(conv.ContactID, ConversionAppointment, 0, next.State, now))
		case IntentSale:
			value := 0.0
			if ev.Message != nil {
				value = ExtractAmount(ev.Message.Text)
			}
			next.State = StateClosed
			fx.conversions = append(fx.conversions, conversion(conv.ContactID, ConversionSale, value, next.State, now))
		}
	}

	return next, fx
}

func conversion(contactID string, typ ConversionType, value float64, state State, at time.Time) ConversionEvent {
	return ConversionEvent{ContactID: contactID, Type: typ, Value: value, State: state, At: at}
}

// nextVisitSlot proposes the next weekday at 10:00 local time, at least one
// full day out so the 24h reminder can fire.
func nextVisitSlot(now time.Time) time.Time {
	day := now.AddDate(0, 0, 2)
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, 1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 10, 0, 0, 0, now.Location())
}
