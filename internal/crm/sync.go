// Package crm pushes conversion events and handoff flags to the agency CRM,
// independently of message delivery so a CRM outage never stalls a
// conversation.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/anclora/whatsapp-pipeline/internal/conversation"
	"github.com/anclora/whatsapp-pipeline/internal/metrics"
)

// Upserter is the CRM surface the sync loop needs. Satisfied by *Client.
type Upserter interface {
	UpsertConversion(ctx context.Context, rec ConversionRecord) error
	FlagHandoff(ctx context.Context, contactID string) error
}

type task struct {
	conversion *ConversionRecord
	handoff    string
}

// Sync buffers conversion events and delivers them to the CRM with retries,
// on its own goroutine. The buffer is bounded; when the CRM is down long
// enough to fill it, new events are dropped with a log line rather than
// blocking the conversation engine.
type Sync struct {
	client   Upserter
	producer *kafka.Writer
	logger   zerolog.Logger

	// window is the occurrence bucket for idempotency keys. Two identical
	// conversions inside one window collapse into one CRM record.
	window time.Duration

	maxElapsed time.Duration
	tasks      chan task
}

func NewSync(client Upserter, producer *kafka.Writer, logger zerolog.Logger) *Sync {
	return &Sync{
		client:     client,
		producer:   producer,
		logger:     logger.With().Str("component", "crm").Logger(),
		window:     time.Hour,
		maxElapsed: 2 * time.Minute,
		tasks:      make(chan task, 256),
	}
}

// Record queues a conversion for CRM delivery. Never blocks.
func (s *Sync) Record(ctx context.Context, ev conversation.ConversionEvent) {
	metrics.IncConversion(string(ev.Type), int64(ev.Value))

	rec := ConversionRecord{
		ContactID:      ev.ContactID,
		EventType:      string(ev.Type),
		Value:          ev.Value,
		State:          ev.State.String(),
		OccurredAt:     ev.At.UTC(),
		IdempotencyKey: idempotencyKey(ev.ContactID, string(ev.Type), ev.At, s.window),
	}
	s.submit(task{conversion: &rec})
}

// FlagHandoff queues a human-handoff flag for the contact. Never blocks.
func (s *Sync) FlagHandoff(ctx context.Context, contactID string) {
	s.submit(task{handoff: contactID})
}

func (s *Sync) submit(t task) {
	select {
	case s.tasks <- t:
	default:
		s.logger.Error().Msg("crm sync buffer full, event dropped")
	}
}

// Run delivers queued tasks until ctx is cancelled.
func (s *Sync) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-s.tasks:
			s.deliver(ctx, t)
		}
	}
}

func (s *Sync) deliver(ctx context.Context, t task) {
	if s.client == nil {
		// No CRM configured; conversions still reach the event bus.
		if t.conversion != nil {
			s.publish(ctx, *t.conversion)
		}
		return
	}
	op := backoff.NewExponentialBackOff()
	op.MaxElapsedTime = s.maxElapsed

	err := backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if t.conversion != nil {
			return s.client.UpsertConversion(attemptCtx, *t.conversion)
		}
		return s.client.FlagHandoff(attemptCtx, t.handoff)
	}, backoff.WithContext(op, ctx))
	if err != nil {
		s.logger.Error().Err(err).Msg("crm delivery exhausted retries")
		return
	}

	if t.conversion != nil {
		s.publish(ctx, *t.conversion)
	}
}

// publish mirrors delivered conversions onto the event bus for downstream
// consumers (reporting, data warehouse). Best effort.
func (s *Sync) publish(ctx context.Context, rec ConversionRecord) {
	if s.producer == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.IdempotencyKey),
		Value: payload,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("conversion event publish failed")
	}
}

func idempotencyKey(contactID, eventType string, at time.Time, window time.Duration) string {
	return fmt.Sprintf("%s:%s:%d", contactID, eventType, at.UTC().Truncate(window).Unix())
}
