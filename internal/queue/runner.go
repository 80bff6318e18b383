package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Sender performs one delivery attempt for a job. Implemented by the gateway
// delivery client.
type Sender interface {
	Send(ctx context.Context, job *Job) (gatewayMessageID string, err error)
}

// permanentError is implemented by classified gateway errors that must not
// be retried.
type permanentError interface {
	Permanent() bool
}

// Runner drives N workers against the queue. Readiness of scheduled and
// backed-off jobs is re-evaluated on the tick interval rather than precise
// timers, trading a little delivery jitter for simplicity.
type Runner struct {
	Queue          *Queue
	Sender         Sender
	Workers        int
	TickInterval   time.Duration
	AttemptTimeout time.Duration
	Logger         zerolog.Logger
}

func (r *Runner) Run(ctx context.Context) error {
	if r.Queue == nil || r.Sender == nil {
		return errors.New("runner requires a queue and a sender")
	}
	workers := r.Workers
	if workers <= 0 {
		workers = 1
	}
	tick := r.TickInterval
	if tick <= 0 {
		tick = time.Second
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.workerLoop(ctx, id, tick)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (r *Runner) workerLoop(ctx context.Context, id int, tick time.Duration) {
	logger := r.Logger.With().Int("worker", id).Logger()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		job := r.Queue.Next(time.Now())
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}
		r.deliver(ctx, logger, job)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (r *Runner) deliver(ctx context.Context, logger zerolog.Logger, job *Job) {
	tracer := otel.Tracer("outbound-queue")
	spanCtx, span := tracer.Start(ctx, "deliver_message")
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.priority", job.Priority.String()),
		attribute.Int("job.attempt", job.Attempt+1),
	)
	defer span.End()

	job.Attempt++

	timeout := r.AttemptTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attemptCtx, cancel := context.WithTimeout(spanCtx, timeout)
	defer cancel()

	gatewayID, err := r.Sender.Send(attemptCtx, job)
	if err != nil {
		span.RecordError(err)
		permanent := isPermanent(err)
		logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("contact_id", job.ContactID).
			Int("attempt", job.Attempt).
			Bool("permanent", permanent).
			Msg("delivery attempt failed")
		r.Queue.MarkFailed(job, err.Error(), permanent)
		return
	}

	logger.Info().
		Str("job_id", job.ID).
		Str("contact_id", job.ContactID).
		Str("gateway_message_id", gatewayID).
		Int("attempt", job.Attempt).
		Msg("message delivered")
	r.Queue.MarkSent(job, gatewayID)
}

func isPermanent(err error) bool {
	var p permanentError
	if errors.As(err, &p) {
		return p.Permanent()
	}
	return false
}
