package config

import (
	"fmt"
	"time"

	"github.com/sukirti1329/s3-system/internal/shared/env"
)

type Config struct {
	AppEnv      string
	ServiceName string
	HTTPAddr    string
	MetricsAddr string

	DatabaseURL string

	KafkaBrokers  []string
	ConsumerGroup string
	Topics        Topics

	// LedgerBackend is one of postgres, bolt, memory.
	LedgerBackend string
	BoltPath      string
	// StoreBackend is one of postgres, memory.
	StoreBackend string

	Dispatch Dispatch
	Relay    Relay
}

type Dispatch struct {
	Lanes        int
	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
	CommitEvery  time.Duration
}

type Relay struct {
	BatchSize         int
	PollInterval      time.Duration
	ProcessingTimeout time.Duration
}

func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	var e env.Reader
	cfg := Config{
		AppEnv:      e.String("APP_ENV", "dev"),
		ServiceName: e.String("SERVICE_NAME", "metadata-service"),
		HTTPAddr:    e.String("HTTP_ADDR", ":8080"),
		MetricsAddr: e.String("METRICS_ADDR", ":9090"),

		DatabaseURL: e.String("DATABASE_URL", ""),

		KafkaBrokers:  e.StringsCSV("KAFKA_BROKERS", []string{"localhost:9092"}),
		ConsumerGroup: e.String("KAFKA_GROUP_ID", "metadata-service"),

		LedgerBackend: e.OneOf("LEDGER_BACKEND", "postgres", "postgres", "bolt", "memory"),
		BoltPath:      e.String("LEDGER_BOLT_PATH", "ledger.db"),
		StoreBackend:  e.OneOf("STORE_BACKEND", "postgres", "postgres", "memory"),

		Dispatch: Dispatch{
			Lanes:        e.Int("DISPATCH_LANES", 8),
			MaxAttempts:  e.Int("DISPATCH_MAX_ATTEMPTS", 5),
			RetryInitial: e.Duration("DISPATCH_RETRY_INITIAL", 200*time.Millisecond),
			RetryMax:     e.Duration("DISPATCH_RETRY_MAX", 10*time.Second),
			CommitEvery:  e.Duration("DISPATCH_COMMIT_EVERY", time.Second),
		},
		Relay: Relay{
			BatchSize:         e.Int("RELAY_BATCH_SIZE", 10),
			PollInterval:      e.Duration("RELAY_POLL_INTERVAL", time.Second),
			ProcessingTimeout: e.Duration("RELAY_PROCESSING_TIMEOUT", 30*time.Second),
		},
	}

	if err := e.Err(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	topics, err := LoadTopics(e.String("EVENTS_CONFIG", ""))
	if err != nil {
		return Config{}, err
	}
	cfg.Topics = topics

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LedgerBackend {
	case "postgres", "bolt", "memory":
	default:
		return fmt.Errorf("config: unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}
	switch c.StoreBackend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if (c.LedgerBackend == "postgres" || c.StoreBackend == "postgres") && c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required for the postgres backend")
	}
	if c.Dispatch.Lanes < 1 {
		return fmt.Errorf("config: DISPATCH_LANES must be >= 1")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("config: DISPATCH_MAX_ATTEMPTS must be >= 1")
	}
	return nil
}
