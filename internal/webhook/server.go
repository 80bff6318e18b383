package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/anclora/whatsapp-pipeline/internal/analytics"
	"github.com/anclora/whatsapp-pipeline/internal/common"
	"github.com/anclora/whatsapp-pipeline/internal/conversation"
	"github.com/anclora/whatsapp-pipeline/internal/event"
	"github.com/anclora/whatsapp-pipeline/internal/logstore"
	"github.com/anclora/whatsapp-pipeline/internal/metrics"
	"github.com/anclora/whatsapp-pipeline/internal/queue"
	"github.com/anclora/whatsapp-pipeline/internal/ws"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	maxBodyBytes    = 1 << 20
)

// EventHandler consumes normalized events. Implemented by the conversation
// engine.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev event.Event)
}

// EventRecorder persists inbound events for audit. Optional.
type EventRecorder interface {
	LogEvent(ctx context.Context, ev event.Event) error
}

// Historian reads a contact's message log. Optional.
type Historian interface {
	History(ctx context.Context, contactID string, limit int) ([]logstore.Entry, error)
}

// ConversationReader exposes conversation state for operator inspection.
type ConversationReader interface {
	Snapshot(contactID string) (conversation.Conversation, bool)
}

type Server struct {
	Secret      string
	VerifyToken string
	Engine      EventHandler
	Deduper     *event.Deduper
	Queue       *queue.Queue
	Hub         *ws.Hub
	Recorder    EventRecorder
	History     Historian
	Convos      ConversationReader
	Analytics   *analytics.Recorder
	Logger      zerolog.Logger
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/v1/gateway/events", s.handleVerify)
	r.Post("/v1/gateway/events", s.handleEvent)
	r.Get("/v1/ops/queue", s.handleQueueDepths)
	r.Get("/v1/ops/dead-letters", s.handleDeadLetters)
	r.Post("/v1/ops/dead-letters/{id}/retry", s.handleRetryDeadLetter)
	r.Get("/v1/ops/analytics", s.handleAnalytics)
	r.Get("/v1/ops/contacts/{id}", s.handleContact)
	r.Get("/v1/ops/contacts/{id}/history", s.handleContactHistory)
	r.Get("/v1/ops/stream", s.Hub.ServeWS)
	return r
}

// handleVerify answers the gateway's subscription handshake by echoing the
// challenge when the verify token matches.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == s.VerifyToken {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	http.Error(w, "verification failed", http.StatusForbidden)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("webhook").Start(r.Context(), "ingest-event")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		metrics.IncEvent(metrics.EventMalformed)
		s.respondErr(ctx, w, http.StatusBadRequest, err)
		return
	}

	// Signature runs on the raw bytes, before any parsing.
	if err := VerifySignature(body, r.Header.Get(signatureHeader), s.Secret); err != nil {
		metrics.IncEvent(metrics.EventRejected)
		s.respondErr(ctx, w, http.StatusUnauthorized, err)
		return
	}

	ev, err := event.Normalize(body)
	switch {
	case errors.Is(err, event.ErrIgnored):
		// Not an event we act on (own messages, group chats). Acknowledge
		// so the gateway stops re-delivering.
		metrics.IncEvent(metrics.EventIgnored)
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case err != nil:
		metrics.IncEvent(metrics.EventMalformed)
		s.respondErr(ctx, w, http.StatusBadRequest, err)
		return
	}
	span.SetAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", string(ev.Type)),
	)

	if s.Deduper.Seen(ev.ID) {
		metrics.IncEvent(metrics.EventDeduped)
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	if s.Recorder != nil {
		if err := s.Recorder.LogEvent(ctx, ev); err != nil {
			s.Logger.Warn().Err(err).Str("event_id", ev.ID).Msg("event log write failed")
		}
	}

	s.Engine.HandleEvent(ctx, ev)
	s.Hub.Publish("event", ev)

	metrics.IncEvent(metrics.EventAccepted)
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleQueueDepths(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.Queue.Depths())
}

type deadLetterView struct {
	JobID       string    `json:"job_id"`
	ContactID   string    `json:"contact_id"`
	TemplateKey string    `json:"template_key"`
	Priority    string    `json:"priority"`
	Attempts    int       `json:"attempts"`
	Reason      string    `json:"reason"`
	At          time.Time `json:"at"`
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, _ *http.Request) {
	dls := s.Queue.DeadLetters()
	out := make([]deadLetterView, 0, len(dls))
	for _, dl := range dls {
		out = append(out, deadLetterView{
			JobID:       dl.Job.ID,
			ContactID:   dl.Job.ContactID,
			TemplateKey: dl.Job.Message.TemplateKey,
			Priority:    dl.Job.Priority.String(),
			Attempts:    dl.Job.Attempt,
			Reason:      dl.Reason,
			At:          dl.At,
		})
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Queue.RetryDeadLetter(id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrUnknownJob) {
			status = http.StatusNotFound
		}
		s.respondErr(r.Context(), w, status, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "requeued", "job_id": id})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Analytics.Stats(r.Context())
	if err != nil {
		s.respondErr(r.Context(), w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	if s.Convos == nil {
		http.Error(w, "not available", http.StatusNotFound)
		return
	}
	conv, ok := s.Convos.Snapshot(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "unknown contact", http.StatusNotFound)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"contact_id":    conv.ContactID,
		"name":          conv.Name,
		"state":         conv.State.String(),
		"reprompts":     conv.Reprompts,
		"last_event_at": conv.LastEventAt,
	})
}

func (s *Server) handleContactHistory(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		http.Error(w, "message log not configured", http.StatusNotFound)
		return
	}
	entries, err := s.History.History(r.Context(), chi.URLParam(r, "id"), 50)
	if err != nil {
		s.respondErr(r.Context(), w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, entries)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) respondErr(ctx context.Context, w http.ResponseWriter, status int, err error) {
	logger := common.WithContext(ctx, s.Logger)
	if status >= 500 {
		logger.Error().Err(err).Int("status", status).Msg("webhook request failed")
	} else {
		logger.Warn().Err(err).Int("status", status).Msg("webhook request rejected")
	}
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}
