package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/smukkama/aqi-monitor/internal/alarming"
	"github.com/smukkama/aqi-monitor/internal/api"
	"github.com/smukkama/aqi-monitor/internal/database"
	"github.com/smukkama/aqi-monitor/internal/logger"
	"github.com/smukkama/aqi-monitor/internal/metrics"
	"github.com/smukkama/aqi-monitor/internal/monitor"
	"github.com/smukkama/aqi-monitor/internal/notification"
	"github.com/smukkama/aqi-monitor/internal/queue"
	"github.com/smukkama/aqi-monitor/internal/registry"
	"github.com/smukkama/aqi-monitor/internal/source"
	"github.com/smukkama/aqi-monitor/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger.Init(cfg.Log.Level, cfg.Log.Env)
	log := logger.WithComponent("monitor")
	log.Info().Msg("starting AQI monitor")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	clock := clockwork.NewRealClock()

	var (
		registryStore registry.Store
		recorders     []monitor.Recorder
		history       api.History
	)

	// Connect to database
	if cfg.Database.Enabled {
		db, err := database.Connect(ctx, cfg.Database.ConnectionString(), logger.WithComponent("database"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("connected to database")

		registryStore = db
		recorders = append(recorders, db)
		history = db
	}

	// Cooldown state
	var alertStore alarming.Store = alarming.NewMemoryStore()
	if cfg.Redis.CooldownStore == "redis" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
		alertStore = alarming.NewRedisStore(redisClient, 0)
	}

	// Metric source
	var src source.MetricSource
	switch cfg.Source.Provider {
	case "waqi":
		src = source.NewWAQIClient(cfg.Source.APIKey, cfg.Source.BaseURL, cfg.Monitor.FetchTimeout)
	default:
		src = source.NewSimulated(clock, source.DefaultSeed())
		log.Warn().Msg("using simulated readings")
	}

	// Notification sink
	var sink notification.Sink
	if cfg.Kafka.Enabled {
		for _, topic := range []string{cfg.Kafka.TopicReadings, cfg.Kafka.TopicNotifications} {
			if err := queue.CreateTopic(cfg.Kafka.Brokers, topic, 3, 1); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to create topic")
			}
		}

		notifications := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Monitor.DeliveryTimeout)
		defer notifications.Close()
		readings := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, cfg.Monitor.DeliveryTimeout)
		defer readings.Close()

		sink = notification.NewKafkaSink(notifications)
		recorders = append(recorders, queue.NewReadingPublisher(readings))
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("kafka producers initialized")
	} else {
		sink = notification.DirectSink(cfg, cfg.Monitor.DeliveryTimeout, logger.WithComponent("notification"))
		checkTransports(ctx, cfg)
	}

	formatter, err := notification.NewFormatter(cfg.Telegram.AppURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse message templates")
	}

	reg := registry.New(registryStore)
	if err := reg.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load locations")
	}

	engine, err := monitor.NewEngine(monitor.Config{
		Registry:        reg,
		Gate:            alarming.NewGate(alertStore),
		Source:          src,
		Sink:            sink,
		Formatter:       formatter,
		Recorders:       recorders,
		Clock:           clock,
		Logger:          logger.WithComponent("engine"),
		Metrics:         m,
		Cooldown:        cfg.Monitor.AlertCooldown,
		FetchTimeout:    cfg.Monitor.FetchTimeout,
		DeliveryTimeout: cfg.Monitor.DeliveryTimeout,
		Workers:         cfg.Monitor.PassWorkers,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create engine")
	}

	for _, seed := range cfg.Monitor.Locations {
		if _, err := engine.RegisterLocation(ctx, seed.Name, seed.Lat, seed.Lon, seed.Threshold); err != nil {
			log.Fatal().Err(err).Str("location", seed.Name).Msg("failed to register location")
		}
	}
	log.Info().Int("locations", engine.LocationCount()).Msg("registry loaded")

	scheduler, err := monitor.NewScheduler(engine, monitor.SchedulerConfig{
		Interval:    cfg.Monitor.CheckInterval,
		ReportTimes: cfg.Monitor.ReportTimes,
		Clock:       clock,
		Logger:      logger.WithComponent("scheduler"),
		Metrics:     m,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}

	if cfg.Monitor.AutoStart {
		if _, err := scheduler.Start(ctx); err != nil {
			log.Error().Err(err).Msg("failed to start monitoring")
		}
	}

	server := api.NewServer(api.Options{
		Addr:      cfg.HTTP.Addr,
		Engine:    engine,
		Scheduler: scheduler,
		History:   history,
		Gatherer:  prometheus.DefaultGatherer,
		Logger:    logger.WithComponent("api"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down gracefully")

		if err := scheduler.Stop(); err != nil && !errors.Is(err, monitor.ErrNotRunning) {
			log.Warn().Err(err).Msg("failed to stop scheduler")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		scheduler.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("monitor exited with error")
		os.Exit(1)
	}
	log.Info().Msg("monitor stopped")
}

// checkTransports logs whether the configured transports are reachable
func checkTransports(ctx context.Context, cfg *config.Config) {
	log := logger.WithComponent("notification")

	if cfg.Telegram.Enabled() {
		tg := notification.NewTelegramSink(cfg.Telegram, cfg.Monitor.DeliveryTimeout, log)
		if name, err := tg.TestConnection(ctx); err != nil {
			log.Warn().Err(err).Msg("telegram bot unreachable")
		} else {
			log.Info().Str("bot", name).Msg("telegram bot connected")
		}
	}

	email := notification.NewEmailSink(&cfg.SMTP)
	if email.Enabled() {
		if err := email.TestConnection(); err != nil {
			log.Warn().Err(err).Msg("smtp server unreachable")
		}
	}

	if !cfg.Telegram.Enabled() && !email.Enabled() {
		log.Warn().Msg("no notification transport configured, messages will be logged only")
	}
}
