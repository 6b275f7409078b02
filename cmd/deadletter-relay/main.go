package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sukirti1329/s3-system/internal/deadletter"
	"github.com/sukirti1329/s3-system/internal/shared/config"
	"github.com/sukirti1329/s3-system/internal/shared/db"
	"github.com/sukirti1329/s3-system/internal/shared/httpx"
	"github.com/sukirti1329/s3-system/internal/shared/kafkax"
	"github.com/sukirti1329/s3-system/internal/shared/logger"
)

const appName = "deadletter-relay"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log := logger.New(appName, cfg.AppEnv)

	if cfg.DatabaseURL == "" {
		log.Error("DATABASE_URL is empty")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := db.OpenPostgres(ctx, db.PostgresConfig{DatabaseURL: cfg.DatabaseURL, ApplicationName: appName})
	if err != nil {
		log.Error("db_open_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if err := pg.Close(); err != nil {
			log.Error("db_close_failed", slog.String("err", err.Error()))
		}
	}()

	producer, err := kafkax.NewProducer(kafkax.ProducerConfig{Brokers: cfg.KafkaBrokers, ClientID: appName})
	if err != nil {
		log.Error("producer_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = producer.Close() }()

	reg := prometheus.NewRegistry()
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpx.Serve(ctx, log, metricsSrv, 5*time.Second); err != nil {
			log.Error("metrics_server_error", slog.String("err", err.Error()))
		}
	}()

	relay := &deadletter.Relay{
		Store:             deadletter.NewPostgresStore(pg),
		Sink:              producer,
		Log:               log,
		Metrics:           deadletter.NewMetrics(reg),
		BatchSize:         cfg.Relay.BatchSize,
		PollInterval:      cfg.Relay.PollInterval,
		ProcessingTimeout: cfg.Relay.ProcessingTimeout,
	}
	_ = relay.Run(ctx)
}
