package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/application/factories/infrastructure"
	"github.com/etiennerc-wobz/payement-item-association/internal/config"
	"github.com/etiennerc-wobz/payement-item-association/internal/publisher"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the yaml config file")
	spacing := flag.Duration("spacing", time.Second, "delay between two published messages")
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

	infraFactory := infrastructure.NewFactory(cfg, logger)
	defer infraFactory.Close()

	pub, err := infraFactory.Publisher(ctx)
	if err != nil {
		logger.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}

	scenario, err := publisher.BuildScenario(publisher.ScenarioConfig{
		ItemTopic:          cfg.Channels.ItemTopic,
		PaymentTopic:       cfg.Channels.DevicePaymentTopic(),
		PaymentClockOffset: cfg.Correlation.PaymentClockOffset,
	})
	if err != nil {
		logger.Error("failed to build scenario", "error", err)
		os.Exit(1)
	}

	if err := publisher.Run(ctx, pub, scenario.Steps, *spacing, logger); err != nil {
		logger.Error("scenario interrupted", "error", err)
		os.Exit(1)
	}

	for _, a := range scenario.Expected {
		logger.Info("expected association", "transaction_id", a.ID.String(), "items", len(a.Items))
	}
	logger.Info("scenario published", "messages", len(scenario.Steps))
}
