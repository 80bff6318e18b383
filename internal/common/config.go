package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort    int
	MetricsPort int
	ServiceName string

	// Inbound webhook authentication.
	WebhookSecret string
	VerifyToken   string

	// Outbound WhatsApp gateway.
	GatewayURL      string
	GatewayAPIKey   string
	GatewayInstance string

	// Twenty CRM.
	CRMURL    string
	CRMAPIKey string

	// Optional collaborators; each subsystem is skipped when unset.
	DatabaseURL     string
	RedisAddr       string
	KafkaBrokers    []string
	ConversionTopic string
	OTLPEndpoint    string

	// Outbound queue tuning.
	QueueCapacity int
	WorkerCount   int
	TickInterval  time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffCap    time.Duration

	// Conversation engine tuning.
	RepromptLimit  int
	DedupCacheSize int
}

func LoadConfig(service string) (*Config, error) {
	// Local development convenience; no-op when no .env file exists.
	_ = godotenv.Load()

	cfg := &Config{ServiceName: service}

	httpPort, err := getEnvInt("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	cfg.HTTPPort = httpPort

	metricsPort, err := getEnvInt("METRICS_PORT", httpPort+1000)
	if err != nil {
		return nil, err
	}
	cfg.MetricsPort = metricsPort

	cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	cfg.VerifyToken = os.Getenv("WEBHOOK_VERIFY_TOKEN")

	cfg.GatewayURL = getEnv("GATEWAY_URL", "http://localhost:8090")
	cfg.GatewayAPIKey = os.Getenv("GATEWAY_API_KEY")
	cfg.GatewayInstance = getEnv("GATEWAY_INSTANCE", "anclora-main")

	cfg.CRMURL = os.Getenv("CRM_URL")
	cfg.CRMAPIKey = os.Getenv("CRM_API_KEY")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	cfg.ConversionTopic = getEnv("CONVERSION_TOPIC", "conversion.events")

	cfg.QueueCapacity, err = getEnvInt("QUEUE_CAPACITY", 1000)
	if err != nil {
		return nil, err
	}
	cfg.WorkerCount, err = getEnvInt("WORKER_COUNT", 4)
	if err != nil {
		return nil, err
	}
	cfg.TickInterval, err = getEnvDuration("TICK_INTERVAL", time.Second)
	if err != nil {
		return nil, err
	}
	cfg.MaxAttempts, err = getEnvInt("MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}
	cfg.BackoffBase, err = getEnvDuration("BACKOFF_BASE", 2*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.BackoffCap, err = getEnvDuration("BACKOFF_CAP", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg.RepromptLimit, err = getEnvInt("REPROMPT_LIMIT", 3)
	if err != nil {
		return nil, err
	}
	cfg.DedupCacheSize, err = getEnvInt("DEDUP_CACHE_SIZE", 10000)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return parsed, nil
	}
	return fallback, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return parsed, nil
	}
	return fallback, nil
}
