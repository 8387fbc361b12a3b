package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type (
	Config struct {
		Log     Log
		PG      PG
		Outbox  Outbox
		Gateway Gateway
		Sweeper Sweeper
		Kafka   Kafka
		Cache   Cache
	}

	Log struct {
		Level string `env:"LOG_LEVEL" envDefault:"info"`
	}

	PG struct {
		ConnString string `env:"PG_CONN_STR" envDefault:"host=localhost port=5432 user=postgres password=postgres dbname=fundlane sslmode=disable"`
	}

	Outbox struct {
		PollInterval    time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"5s"`
		BackoffBase     time.Duration `env:"OUTBOX_BACKOFF_BASE" envDefault:"30s"`
		MaxRetries      int           `env:"OUTBOX_MAX_RETRIES" envDefault:"3"`
		Workers         int           `env:"OUTBOX_WORKERS" envDefault:"4"`
		BatchSize       int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
		HandlerTimeout  time.Duration `env:"OUTBOX_HANDLER_TIMEOUT" envDefault:"10s"`
		StaleClaimAfter time.Duration `env:"OUTBOX_STALE_CLAIM_AFTER" envDefault:"5m"`
		ShutdownTimeout time.Duration `env:"OUTBOX_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	}

	Gateway struct {
		CallTimeout time.Duration `env:"GATEWAY_CALL_TIMEOUT" envDefault:"10s"`
	}

	Sweeper struct {
		Interval  time.Duration `env:"SWEEPER_INTERVAL" envDefault:"1m"`
		BatchSize int           `env:"SWEEPER_BATCH_SIZE" envDefault:"100"`
	}

	Kafka struct {
		Enabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
		Brokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
		Topic   string   `env:"KAFKA_TOPIC" envDefault:"fundlane.events"`
	}

	Cache struct {
		ProjectTTL time.Duration `env:"CACHE_PROJECT_TTL" envDefault:"30s"`
	}
)

func New() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	return cfg, nil
}
