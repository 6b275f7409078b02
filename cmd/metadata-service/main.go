package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/sukirti1329/s3-system/internal/deadletter"
	"github.com/sukirti1329/s3-system/internal/dispatch"
	"github.com/sukirti1329/s3-system/internal/ledger"
	"github.com/sukirti1329/s3-system/internal/metadata"
	"github.com/sukirti1329/s3-system/internal/publish"
	"github.com/sukirti1329/s3-system/internal/shared/config"
	"github.com/sukirti1329/s3-system/internal/shared/db"
	"github.com/sukirti1329/s3-system/internal/shared/httpx"
	"github.com/sukirti1329/s3-system/internal/shared/kafkax"
	"github.com/sukirti1329/s3-system/internal/shared/logger"
)

const appName = "metadata-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log := logger.New(appName, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("service_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.Error("close_failed", slog.String("err", err.Error()))
			}
		}
	}()

	var pg *sql.DB
	if cfg.LedgerBackend == "postgres" || cfg.StoreBackend == "postgres" {
		var err error
		pg, err = db.OpenPostgres(ctx, db.PostgresConfig{DatabaseURL: cfg.DatabaseURL, ApplicationName: cfg.ServiceName})
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		closers = append(closers, pg)
	}

	store, deadLetters, err := openStores(pg, cfg.StoreBackend)
	if err != nil {
		return err
	}

	var led ledger.Ledger
	switch cfg.LedgerBackend {
	case "postgres":
		led = ledger.NewPostgres(pg)
	case "bolt":
		b, err := ledger.OpenBolt(cfg.BoltPath)
		if err != nil {
			return err
		}
		closers = append(closers, b)
		led = b
	default:
		led = ledger.NewMemory()
	}

	producer, err := kafkax.NewProducer(kafkax.ProducerConfig{Brokers: cfg.KafkaBrokers, ClientID: cfg.ServiceName})
	if err != nil {
		return err
	}
	closers = append(closers, producer)

	topics := cfg.Topics.Names(config.TopicBucket, config.TopicObject)
	consumer, err := kafkax.NewConsumer(kafkax.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		Topics:  topics,
		GroupID: cfg.ConsumerGroup,
	})
	if err != nil {
		return err
	}
	closers = append(closers, consumer)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	dm := dispatch.NewMetrics(reg)

	svc := metadata.NewService(store, publish.New(producer, cfg.Topics, log), log)
	d, err := dispatch.New(dispatch.Config{
		Service:      cfg.ServiceName,
		MaxAttempts:  cfg.Dispatch.MaxAttempts,
		RetryInitial: cfg.Dispatch.RetryInitial,
		RetryMax:     cfg.Dispatch.RetryMax,
	}, svc.Routes(), led, deadLetters, dm, log)
	if err != nil {
		return err
	}
	runner := &dispatch.Runner{
		Source:      consumer,
		Dispatcher:  d,
		Lanes:       cfg.Dispatch.Lanes,
		CommitEvery: cfg.Dispatch.CommitEvery,
		Metrics:     dm,
		Log:         log.With(slog.Any("topics", topics), slog.String("group", cfg.ConsumerGroup)),
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpx.NewRouter(log, httpx.NewMetrics(reg, "s3_metadata"), reg,
			&metadata.Handler{Log: log, Service: svc}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("service_start",
		slog.String("ledger", cfg.LedgerBackend),
		slog.String("store", cfg.StoreBackend),
		slog.Int("lanes", cfg.Dispatch.Lanes),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return httpx.Serve(gctx, log, srv, 10*time.Second) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStores picks the metadata store by backend. Dead letters go to Postgres
// whenever a pool is open, so deadletter-relay and s3ctl can see them.
func openStores(pg *sql.DB, storeBackend string) (metadata.Store, deadletter.Store, error) {
	var deadLetters deadletter.Store = deadletter.NewMemoryStore()
	if pg != nil {
		deadLetters = deadletter.NewPostgresStore(pg)
	}
	if storeBackend != "postgres" {
		return metadata.NewInMemoryStore(), deadLetters, nil
	}
	g, err := db.OpenGorm(pg)
	if err != nil {
		return nil, nil, err
	}
	return metadata.NewGormStore(g), deadLetters, nil
}
