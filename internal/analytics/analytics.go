// Package analytics keeps running conversion and traffic counters in Redis
// for the agency dashboard. Everything here is fire-and-forget; a Redis
// outage costs counters, not conversations.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/anclora/whatsapp-pipeline/internal/conversation"
)

const (
	keyPrefix     = "wa"
	writeBuffer   = 256
	writeDeadline = 5 * time.Second
)

// Recorder writes pipeline counters to Redis. A Recorder with a nil client
// is a no-op, for deployments without Redis configured.
//
// Counter writes are buffered and flushed by Run on its own goroutine, so
// a slow or unreachable Redis never stalls webhook handling. When the
// buffer is full, writes are dropped.
type Recorder struct {
	rdb    *redis.Client
	logger zerolog.Logger
	now    func() time.Time
	writes chan func(context.Context)
}

func NewRecorder(rdb *redis.Client, logger zerolog.Logger) *Recorder {
	return &Recorder{
		rdb:    rdb,
		logger: logger.With().Str("component", "analytics").Logger(),
		now:    time.Now,
		writes: make(chan func(context.Context), writeBuffer),
	}
}

// Run drains buffered counter writes until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	if r == nil || r.rdb == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case write := <-r.writes:
			opCtx, cancel := context.WithTimeout(context.Background(), writeDeadline)
			write(opCtx)
			cancel()
		}
	}
}

func (r *Recorder) submit(write func(context.Context)) {
	if r == nil || r.rdb == nil {
		return
	}
	select {
	case r.writes <- write:
	default:
		r.logger.Warn().Msg("counter buffer full, dropping write")
	}
}

// Record counts one conversion, total and per day, and accumulates sale
// revenue.
func (r *Recorder) Record(_ context.Context, ev conversation.ConversionEvent) {
	r.submit(func(ctx context.Context) {
		day := ev.At.UTC().Format("2006-01-02")
		pipe := r.rdb.Pipeline()
		pipe.Incr(ctx, fmt.Sprintf("%s:conversions:%s:total", keyPrefix, ev.Type))
		pipe.Incr(ctx, fmt.Sprintf("%s:conversions:%s:%s", keyPrefix, ev.Type, day))
		if ev.Value > 0 {
			pipe.IncrByFloat(ctx, keyPrefix+":revenue:total", ev.Value)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			r.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("conversion counter write failed")
		}
	})
}

// FlagHandoff counts one escalation to a human agent.
func (r *Recorder) FlagHandoff(_ context.Context, contactID string) {
	r.submit(func(ctx context.Context) {
		if err := r.rdb.Incr(ctx, keyPrefix+":handoffs:total").Err(); err != nil {
			r.logger.Warn().Err(err).Msg("handoff counter write failed")
		}
	})
}

// CountMessage counts one message by direction ("inbound" or "outbound").
func (r *Recorder) CountMessage(_ context.Context, direction string) {
	day := r.nowDay()
	r.submit(func(ctx context.Context) {
		pipe := r.rdb.Pipeline()
		pipe.Incr(ctx, fmt.Sprintf("%s:messages:%s:total", keyPrefix, direction))
		pipe.Incr(ctx, fmt.Sprintf("%s:messages:%s:%s", keyPrefix, direction, day))
		if _, err := pipe.Exec(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("message counter write failed")
		}
	})
}

func (r *Recorder) nowDay() string {
	if r == nil || r.now == nil {
		return time.Now().UTC().Format("2006-01-02")
	}
	return r.now().UTC().Format("2006-01-02")
}

// Stats is the dashboard read-back of accumulated counters.
type Stats struct {
	Conversions map[string]int64 `json:"conversions"`
	Revenue     float64          `json:"revenue"`
	Handoffs    int64            `json:"handoffs"`
	Inbound     int64            `json:"inbound_messages"`
	Outbound    int64            `json:"outbound_messages"`
}

func (r *Recorder) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Conversions: make(map[string]int64)}
	if r == nil || r.rdb == nil {
		return stats, nil
	}
	types := []conversation.ConversionType{
		conversation.ConversionLead,
		conversation.ConversionQualifiedLead,
		conversation.ConversionAppointment,
		conversation.ConversionSale,
	}
	for _, typ := range types {
		n, err := r.rdb.Get(ctx, fmt.Sprintf("%s:conversions:%s:total", keyPrefix, typ)).Int64()
		if err != nil && err != redis.Nil {
			return Stats{}, fmt.Errorf("read %s counter: %w", typ, err)
		}
		stats.Conversions[string(typ)] = n
	}

	var err error
	if stats.Revenue, err = r.getFloat(ctx, keyPrefix+":revenue:total"); err != nil {
		return Stats{}, err
	}
	if stats.Handoffs, err = r.getInt(ctx, keyPrefix+":handoffs:total"); err != nil {
		return Stats{}, err
	}
	if stats.Inbound, err = r.getInt(ctx, keyPrefix+":messages:inbound:total"); err != nil {
		return Stats{}, err
	}
	if stats.Outbound, err = r.getInt(ctx, keyPrefix+":messages:outbound:total"); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (r *Recorder) getInt(ctx context.Context, key string) (int64, error) {
	n, err := r.rdb.Get(ctx, key).Int64()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	return n, nil
}

func (r *Recorder) getFloat(ctx context.Context, key string) (float64, error) {
	v, err := r.rdb.Get(ctx, key).Float64()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}
