package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/anclora/whatsapp-pipeline/internal/analytics"
	"github.com/anclora/whatsapp-pipeline/internal/common"
	"github.com/anclora/whatsapp-pipeline/internal/conversation"
	"github.com/anclora/whatsapp-pipeline/internal/crm"
	"github.com/anclora/whatsapp-pipeline/internal/event"
	"github.com/anclora/whatsapp-pipeline/internal/gateway"
	"github.com/anclora/whatsapp-pipeline/internal/logstore"
	"github.com/anclora/whatsapp-pipeline/internal/queue"
	"github.com/anclora/whatsapp-pipeline/internal/template"
	"github.com/anclora/whatsapp-pipeline/internal/webhook"
	"github.com/anclora/whatsapp-pipeline/internal/ws"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("whatsapp-pipeline")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := common.NewLogger(cfg.ServiceName)
	shutdown, err := common.SetupOTel(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry")
	}
	defer common.ShutdownTelemetry(context.Background(), shutdown)

	metricsSrv := common.StartMetricsServer(cfg.MetricsPort)
	defer metricsSrv.Shutdown(context.Background())

	templates, err := template.NewManager(template.DefaultCatalog(), template.KeyFallback)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid template catalog")
	}

	var store *logstore.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect postgres")
		}
		defer pool.Close()
		store = logstore.New(pool)
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate message log")
		}
	}

	var recorder *analytics.Recorder
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		recorder = analytics.NewRecorder(rdb, logger)
		go func() { _ = recorder.Run(ctx) }()
	}

	var producer *kafka.Writer
	if len(cfg.KafkaBrokers) > 0 {
		producer = &kafka.Writer{
			Addr:     kafka.TCP(cfg.KafkaBrokers...),
			Topic:    cfg.ConversionTopic,
			Balancer: &kafka.Hash{},
		}
		defer producer.Close()
	}

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	q := queue.New(queue.Config{
		Capacity:    cfg.QueueCapacity,
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
		OnReceipt: func(r queue.Receipt) {
			hub.Publish("receipt", r)
			if store != nil {
				logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := store.LogReceipt(logCtx, r); err != nil {
					logger.Warn().Err(err).Str("job_id", r.JobID).Msg("receipt log write failed")
				}
			}
			if r.Outcome == queue.OutcomeSent {
				recorder.CountMessage(context.Background(), "outbound")
			}
		},
	})

	var upserter crm.Upserter
	if cfg.CRMURL != "" {
		upserter = crm.NewClient(cfg.CRMURL, cfg.CRMAPIKey)
	}
	crmSync := crm.NewSync(upserter, producer, logger)
	go func() { _ = crmSync.Run(ctx) }()

	sink := conversation.CombineSinks(crmSync, recorder)
	engine := conversation.NewEngine(conversation.Config{
		RepromptLimit: cfg.RepromptLimit,
	}, templates, q, sink, logger)
	engine.OnTransition = func(tr conversation.Transition) {
		hub.Publish("transition", tr)
	}

	runner := &queue.Runner{
		Queue:        q,
		Sender:       gateway.NewClient(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayInstance, logger),
		Workers:      cfg.WorkerCount,
		TickInterval: cfg.TickInterval,
		Logger:       logger,
	}
	go func() { _ = runner.Run(ctx) }()

	server := &webhook.Server{
		Secret:      cfg.WebhookSecret,
		VerifyToken: cfg.VerifyToken,
		Engine:      &countingHandler{engine: engine, analytics: recorder},
		Deduper:     event.NewDeduper(cfg.DedupCacheSize),
		Queue:       q,
		Hub:         hub,
		Convos:      engine,
		Analytics:   recorder,
		Logger:      logger,
	}
	if store != nil {
		server.Recorder = store
		server.History = store
	}

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.HTTPPort),
		Handler: server.Router(),
	}

	go func() {
		logger.Info().Int("port", cfg.HTTPPort).Msg("webhook server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("webhook server failed")
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// countingHandler feeds events to the conversation engine and keeps the
// inbound traffic counters current.
type countingHandler struct {
	engine    *conversation.Engine
	analytics *analytics.Recorder
}

func (h *countingHandler) HandleEvent(ctx context.Context, ev event.Event) {
	if ev.Type == event.TypeMessageReceived {
		h.analytics.CountMessage(ctx, "inbound")
	}
	h.engine.HandleEvent(ctx, ev)
}
