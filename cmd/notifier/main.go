package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/smukkama/aqi-monitor/internal/logger"
	"github.com/smukkama/aqi-monitor/internal/notification"
	"github.com/smukkama/aqi-monitor/internal/queue"
	"github.com/smukkama/aqi-monitor/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger.Init(cfg.Log.Level, cfg.Log.Env)
	log := logger.WithComponent("notifier")
	log.Info().Msg("starting notification relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink := notification.DirectSink(cfg, cfg.Monitor.DeliveryTimeout, logger.WithComponent("notification"))
	if cfg.Telegram.Enabled() {
		tg := notification.NewTelegramSink(cfg.Telegram, cfg.Monitor.DeliveryTimeout, log)
		if name, err := tg.TestConnection(ctx); err != nil {
			log.Warn().Err(err).Msg("telegram bot unreachable")
		} else {
			log.Info().Str("bot", name).Msg("telegram bot connected")
		}
	}

	// Create consumer for notifications
	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.NotifierGroupID)
	defer consumer.Close()
	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.TopicNotifications).
		Str("group", cfg.Kafka.NotifierGroupID).
		Msg("kafka consumer initialized")

	relay := queue.NewRelay(consumer, sink, cfg.Monitor.DeliveryTimeout, clockwork.NewRealClock(), log)
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("relay stopped")
	}

	stats := consumer.Stats()
	log.Info().Int64("messages", stats.Messages).Int64("errors", stats.Errors).Msg("shutting down gracefully")
}
