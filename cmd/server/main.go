package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/bandobast/deployment-tracker/internal/alert"
	"github.com/bandobast/deployment-tracker/internal/broadcast"
	"github.com/bandobast/deployment-tracker/internal/config"
	"github.com/bandobast/deployment-tracker/internal/conflict"
	"github.com/bandobast/deployment-tracker/internal/database"
	"github.com/bandobast/deployment-tracker/internal/geofence"
	"github.com/bandobast/deployment-tracker/internal/handlers"
	"github.com/bandobast/deployment-tracker/internal/ingest"
	"github.com/bandobast/deployment-tracker/internal/kafka"
	"github.com/bandobast/deployment-tracker/internal/metrics"
	"github.com/bandobast/deployment-tracker/internal/notification"
	"github.com/bandobast/deployment-tracker/internal/reporting"
	"github.com/bandobast/deployment-tracker/internal/scheduler"
	"github.com/bandobast/deployment-tracker/internal/workload"
)

const (
	serviceName = "deployment-tracker"
	version     = "1.0.0"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logging
	logger := setupLogging(cfg)
	logger.Info("Starting Deployment Tracker Service",
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment)

	// Setup database connection
	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", "error", err)
		}
	}()

	// Run database migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// Setup repositories
	deploymentRepo := database.NewDeploymentRepository(db, logger)
	officerRepo := database.NewOfficerRepository(db, logger)
	reportRepo := database.NewStatusReportRepository(db, logger)
	holidayRepo := database.NewHolidayRepository(db, logger)
	perfRepo := database.NewPerformanceReportRepository(db, logger)

	// Setup report broadcaster, with cross-instance relay when Redis is on
	broadcastOpts := []broadcast.Option{
		broadcast.WithBuffer(cfg.Duty.BroadcastBuffer),
	}
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		broadcastOpts = append(broadcastOpts, broadcast.WithRedis(redisClient))
	}

	// Setup metrics collector
	collector := metrics.NewCollector()
	broadcastOpts = append(broadcastOpts, broadcast.WithDropHandler(func(deploymentID string) {
		collector.BroadcastDropped.Inc()
	}))
	broadcaster := broadcast.New(logger, broadcastOpts...)

	// Setup notification channels and alert dispatcher
	var sinks []alert.Sink
	if cfg.Notifications.SMS.Enabled {
		sinks = append(sinks, notification.NewSMSClient(logger, cfg.Notifications.SMS))
	}
	if cfg.Notifications.Voice.Enabled {
		sinks = append(sinks, notification.NewVoiceClient(logger, cfg.Notifications.Voice))
	}
	if cfg.Notifications.Push.Enabled {
		sinks = append(sinks, notification.NewPushClient(logger, cfg.Notifications.Push))
	}
	dispatcher := alert.NewDispatcher(logger, sinks, cfg.Alerting.ChannelTimeout)
	dispatcher.SetObserver(collector)
	dispatcher.SetRateLimit(alert.ChannelMessage, cfg.Notifications.SMS.RateLimitPerMin, 10)
	dispatcher.SetRateLimit(alert.ChannelVoice, cfg.Notifications.Voice.RateLimitPerMin, 5)
	dispatcher.SetRateLimit(alert.ChannelPush, cfg.Notifications.Push.RateLimitPerMin, 20)

	var mailer reporting.Mailer
	if cfg.Notifications.Email.Enabled {
		mailer = notification.NewEmailClient(logger, cfg.Notifications.Email)
	}

	// Setup core services
	evaluator := geofence.NewEvaluator(cfg.Duty.IdleThreshold, cfg.Duty.MovementEpsilon)
	ingestSvc := ingest.NewService(logger, evaluator, deploymentRepo, officerRepo,
		reportRepo, broadcaster, dispatcher, cfg.Duty.SubmitTimeout, cfg.Alerting.DispatchTimeout)
	detector := conflict.NewDetector(logger, deploymentRepo)
	committer := conflict.NewCommitter(logger, detector, deploymentRepo)
	scorer := workload.NewScorer(logger, deploymentRepo, reportRepo,
		cfg.Workload.TrailingWindowDays, cfg.Workload.MaxWeeklyEvents,
		cfg.Workload.OverloadThreshold, cfg.Workload.CacheTTL)
	reporter := reporting.NewEngine(logger, deploymentRepo, reportRepo, perfRepo, officerRepo, mailer)

	// Setup Kafka intake and outlet
	var consumer *kafka.Consumer
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg, logger)
		dispatcher.SetEmitter(producer)
		consumer = kafka.NewConsumer(cfg, logger, ingestSvc)
	}

	// Setup lifecycle scheduler
	var lifecycle *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		lifecycle = scheduler.New(logger, deploymentRepo, officerRepo, dispatcher,
			reporter, cfg.Scheduler.LifecycleSchedule)
	}

	// Setup HTTP handlers
	httpHandlers := handlers.NewHTTPHandler(
		cfg,
		logger,
		collector,
		ingestSvc,
		broadcaster,
		detector,
		committer,
		scorer,
		reporter,
		dispatcher,
		deploymentRepo,
		officerRepo,
		reportRepo,
		holidayRepo,
	)

	httpRouter := mux.NewRouter()
	httpHandlers.RegisterRoutes(httpRouter)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	if redisClient != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			broadcaster.RelayFromRedis(ctx)
		}()
	}

	if consumer != nil {
		if err := consumer.Start(ctx); err != nil {
			logger.Error("Failed to start Kafka consumer", "error", err)
			os.Exit(1)
		}
	}

	if lifecycle != nil {
		if err := lifecycle.Start(); err != nil {
			logger.Error("Failed to start lifecycle scheduler", "error", err)
			os.Exit(1)
		}
	}

	// Start HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting HTTP server", "port", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Shutting down services...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server gracefully", "error", err)
	}

	// In-flight escalations finish before their delivery channels go away.
	httpHandlers.Drain()
	ingestSvc.Drain()

	if lifecycle != nil {
		lifecycle.Stop()
	}
	if consumer != nil {
		consumer.Stop()
	}
	broadcaster.Close()
	if producer != nil {
		producer.Stop()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	wg.Wait()
	logger.Info("Service shutdown complete")
}

// setupLogging configures structured logging
func setupLogging(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: cfg.Logging.IncludeSource,
	}

	var handler slog.Handler
	if cfg.Environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, handlerOptions)
	} else {
		handler = slog.NewTextHandler(os.Stdout, handlerOptions)
	}

	logger := slog.New(handler)
	logger = logger.With(
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment,
	)

	slog.SetDefault(logger)
	return logger
}
