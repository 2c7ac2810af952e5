package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/api"
	"github.com/etiennerc-wobz/payement-item-association/internal/application/factories/infrastructure"
	"github.com/etiennerc-wobz/payement-item-association/internal/config"
	"github.com/etiennerc-wobz/payement-item-association/internal/correlation"
	"github.com/etiennerc-wobz/payement-item-association/internal/domain/deadletter"
	"github.com/etiennerc-wobz/payement-item-association/internal/domain/journal"
	"github.com/etiennerc-wobz/payement-item-association/internal/infrastructure/httpsink"
	"github.com/etiennerc-wobz/payement-item-association/internal/infrastructure/postgres"
	redisInfra "github.com/etiennerc-wobz/payement-item-association/internal/infrastructure/redis"
	"github.com/etiennerc-wobz/payement-item-association/internal/ingress"
	"github.com/etiennerc-wobz/payement-item-association/internal/usecase"
	"github.com/etiennerc-wobz/payement-item-association/internal/worker"

	go_redis "github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the yaml config file")
	flag.Parse()

	cfg, err := config.New(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting associator",
		"app", cfg.App.Name,
		"version", cfg.App.Version,
		"transport", cfg.Transport.Kind,
		"payment_topic", cfg.Channels.DevicePaymentTopic(),
		"item_topic", cfg.Channels.ItemTopic,
	)

	infraFactory := infrastructure.NewFactory(cfg, logger)
	defer infraFactory.Close()

	// Optional stores
	var journalRepo journal.Repository
	if cfg.Postgres.Enabled {
		pgPool, err := infraFactory.Postgres(ctx)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		if err := postgres.EnsureSchema(ctx, pgPool); err != nil {
			logger.Error("failed to prepare schema", "error", err)
			os.Exit(1)
		}
		journalRepo = postgres.NewJournalRepository(pgPool, postgres.NewTxManager(pgPool))
	}

	var redisClient *go_redis.Client
	var deadLetters deadletter.Store
	if cfg.Redis.Enabled {
		redisClient, err = infraFactory.Redis(ctx)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		deadLetters = redisInfra.NewDeadLetterStore(redisClient, cfg.Redis.DeadLetterKey)
	}

	// Correlation
	state := correlation.NewState()

	sink := httpsink.NewClient(httpsink.Config{
		BaseURL: cfg.Downstream.BaseURL,
		Route:   cfg.Downstream.AssociationRoute,
		Timeout: cfg.Downstream.Timeout,
		Breaker: httpsink.BreakerConfig{
			Enabled:             cfg.Downstream.Breaker.Enabled,
			ConsecutiveFailures: cfg.Downstream.Breaker.ConsecutiveFailures,
			OpenTimeout:         cfg.Downstream.Breaker.OpenTimeout,
		},
	}, logger)

	forwarder := worker.NewForwarder(state, sink, journalRepo, cfg.Downstream.Timeout, logger)
	poller := worker.NewCorrelationPoller(state, forwarder, deadLetters, worker.PollerConfig{
		Interval:      cfg.Correlation.PollInterval,
		MaxPendingAge: cfg.Correlation.MaxPendingAge,
	}, logger)

	in := ingress.New(state, ingress.Config{
		ItemTopic:          cfg.Channels.ItemTopic,
		PaymentTopic:       cfg.Channels.DevicePaymentTopic(),
		PaymentClockOffset: cfg.Correlation.PaymentClockOffset,
	}, logger)

	// The poller outlives the signal context so pairs linked during the
	// settle period still get a chance to be forwarded.
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		if err := poller.Run(context.Background()); err != nil {
			logger.Error("correlation poller stopped with error", "error", err)
		}
	}()

	subscriber, err := infraFactory.Subscriber(ctx)
	if err != nil {
		logger.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	if err := subscriber.Subscribe(ctx, in.Topics(), in.Handle); err != nil {
		logger.Error("failed to subscribe", "topics", in.Topics(), "error", err)
		os.Exit(1)
	}

	// Admin API
	handlers := api.NewHandlers(
		usecase.NewIngestEvent(in),
		usecase.NewGetState(state),
		usecase.NewListAssociations(redisClient, journalRepo),
		usecase.NewListDeadLetters(deadLetters),
		logger,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           api.NewRouter(handlers, redisClient, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("admin server starting", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", "settle", cfg.Correlation.ShutdownSettle.String())

	time.Sleep(cfg.Correlation.ShutdownSettle)
	poller.Stop()
	<-pollerDone

	if err := subscriber.Close(); err != nil {
		logger.Error("failed to close subscriber", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server forced to shutdown", "error", err)
	}

	txs, batches, linked := state.Counts()
	logger.Info("associator exited",
		"pending_transactions", txs,
		"pending_batches", batches,
		"linked_pairs", linked,
	)
}
