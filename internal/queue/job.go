package queue

import (
	"time"

	"github.com/anclora/whatsapp-pipeline/internal/template"
)

// Priority orders the four dispatch bands, highest first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow

	numPriorities = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Job is an outbound message owned by the queue from enqueue until it
// terminates in exactly one receipt.
type Job struct {
	ID        string
	ContactID string
	Message   template.RenderedMessage
	Priority  Priority

	// ScheduledAt delays dispatch until the given time; zero means as soon
	// as possible.
	ScheduledAt time.Time

	Attempt     int
	MaxAttempts int

	// Final marks a job that must be delivered even after its contact is
	// deactivated, such as an opt-out confirmation.
	Final bool

	// EventAt is the receipt time of the webhook event that produced this
	// job, used for end-to-end latency measurement.
	EventAt   time.Time
	CreatedAt time.Time

	// notBefore gates retries after a backoff delay.
	notBefore time.Time
	seq       uint64
}

// Outcome classifies how a job terminated.
type Outcome string

const (
	OutcomeSent         Outcome = "sent"
	OutcomeFailed       Outcome = "failed"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// Receipt is the single terminal record of a job.
type Receipt struct {
	JobID            string
	ContactID        string
	TemplateKey      string
	Outcome          Outcome
	Reason           string
	GatewayMessageID string
	Attempts         int
	At               time.Time
}

// DeadLetter is a job that exhausted delivery, kept for operator inspection.
type DeadLetter struct {
	Job    *Job
	Reason string
	At     time.Time
}
