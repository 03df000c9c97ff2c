package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"story-engine/internal/config"
	"story-engine/internal/handler"
	"story-engine/internal/jobstore"
	"story-engine/internal/messaging"
	"story-engine/internal/notifier"
	"story-engine/internal/scheduler"
	"story-engine/internal/sender"
	"story-engine/migrations"
	"story-engine/pkg/migration"
	"story-engine/shared/database"
	appLogger "story-engine/shared/logger"
	sharedMiddleware "story-engine/shared/middleware"
	"story-engine/shared/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

// directNotifierAdapter зовет рассылку синхронно, когда шина событий
// не сконфигурирована (dev-режим без RabbitMQ).
type directNotifierAdapter struct {
	notifier notifier.EpisodeNotifier
}

func (a *directNotifierAdapter) PublishEpisodePublished(ctx context.Context, payload models.EpisodePublishedPayload) error {
	_, err := a.notifier.NotifyEpisodePublished(ctx, payload)
	return err
}

// consumerNotifierAdapter сводит интерфейс консьюмера к сервису рассылки.
type consumerNotifierAdapter struct {
	notifier notifier.EpisodeNotifier
}

func (a *consumerNotifierAdapter) NotifyPublished(ctx context.Context, payload models.EpisodePublishedPayload) error {
	_, err := a.notifier.NotifyEpisodePublished(ctx, payload)
	return err
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := appLogger.New(appLogger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding})
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		logger.Fatal("Failed to create Postgres pool", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("Failed to ping Postgres", zap.Error(err))
	}
	logger.Info("Postgres connection established")

	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: ".",
		MigrationsFS:   migrations.FS,
	}, pool)
	if err := migrator.Up(); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}

	// --- Репозитории ---
	txRunner := database.NewPgxTxRunner(pool)
	storyRepo := database.NewPgStoryRepository(logger)
	episodeRepo := database.NewPgEpisodeRepository(logger)
	prefsRepo := database.NewPgNotificationPreferencesRepository(logger)
	subsRepo := database.NewPgPushSubscriptionRepository(logger)
	tokensRepo := database.NewPgDeviceTokenRepository(logger)
	logsRepo := database.NewPgNotificationLogRepository(logger)

	// --- Хранилище задач: Redis когда сконфигурирован, иначе in-memory ---
	var jobStore jobstore.Store
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to ping Redis", zap.Error(err))
		}
		defer redisClient.Close()
		jobStore = jobstore.NewRedisStore(redisClient, jobstore.RedisStoreConfig{
			PollInterval: cfg.Scheduler.PollInterval,
			GraceWindow:  cfg.Scheduler.MisfireGrace,
		}, logger)
		logger.Info("Using Redis job store", zap.String("addr", cfg.Redis.Addr))
	} else {
		jobStore = jobstore.NewMemoryStore(jobstore.MemoryStoreConfig{
			PollInterval: cfg.Scheduler.PollInterval,
			GraceWindow:  cfg.Scheduler.MisfireGrace,
		}, logger)
		logger.Warn("REDIS_ADDR not set, using in-memory job store (jobs will not survive restarts)")
	}

	// --- Отправители уведомлений (stub, если канал не сконфигурирован) ---
	emailSender, err := sender.NewSMTPEmailSender(cfg.SMTP, logger)
	if err != nil {
		logger.Fatal("Failed to init email sender", zap.Error(err))
	}
	if emailSender == nil {
		emailSender = sender.NewStubEmailSender(logger)
	}

	webpushSender, err := sender.NewWebpushSender(cfg.VAPID, logger)
	if err != nil {
		logger.Fatal("Failed to init webpush sender", zap.Error(err))
	}
	if webpushSender == nil {
		webpushSender = sender.NewStubWebpushSender(logger)
	}

	apnsSender, err := sender.NewAPNSSender(cfg.APNS, logger)
	if err != nil {
		logger.Fatal("Failed to init APNS sender", zap.Error(err))
	}
	if apnsSender == nil {
		apnsSender = sender.NewStubDevicePushSender("ios", logger)
	}
	fcmSender, err := sender.NewFCMSender(ctx, cfg.FCM, logger)
	if err != nil {
		logger.Fatal("Failed to init FCM sender", zap.Error(err))
	}
	if fcmSender == nil {
		fcmSender = sender.NewStubDevicePushSender("android", logger)
	}

	// --- Сервис рассылки ---
	retrier := notifier.NewRetrier(pool, logsRepo, notifier.RetrierConfig{
		MaxRetries: cfg.Notifier.MaxRetries,
		BaseDelay:  cfg.Notifier.BaseDelay,
	}, logger)
	episodeNotifier := notifier.NewEpisodeNotifier(
		pool, prefsRepo, subsRepo, tokensRepo, logsRepo,
		emailSender, webpushSender,
		[]sender.DevicePushSender{apnsSender, fcmSender},
		retrier, logger,
	)

	// --- Шина событий (опциональна) ---
	var eventPublisher scheduler.EpisodeEventPublisher
	var consumer *messaging.Consumer
	var mqConn *amqp.Connection
	if cfg.RabbitMQ.URI != "" {
		mqConn, err = amqp.Dial(cfg.RabbitMQ.URI)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer mqConn.Close()

		eventPublisher, err = messaging.NewRabbitEpisodePublisher(mqConn, logger)
		if err != nil {
			logger.Fatal("Failed to create episode publisher", zap.Error(err))
		}
		consumer = messaging.NewConsumer(mqConn, logger, cfg.RabbitMQ.WorkerConcurrency,
			&consumerNotifierAdapter{notifier: episodeNotifier})
	} else {
		logger.Warn("RABBITMQ_URI not set, episode events are dispatched in-process")
		eventPublisher = &directNotifierAdapter{notifier: episodeNotifier}
	}

	// --- Планировщик релизов ---
	episodeScheduler := scheduler.NewEpisodeScheduler(
		pool, txRunner, storyRepo, episodeRepo, jobStore, eventPublisher,
		scheduler.Config{
			PublishRetryDelay: cfg.Scheduler.PublishRetryDelay,
			MaxPublishRetries: cfg.Scheduler.MaxPublishRetries,
		}, logger,
	)

	go func() {
		if err := jobStore.Start(ctx, episodeScheduler.HandleJob); err != nil && err != context.Canceled {
			logger.Error("Job store stopped with error", zap.Error(err))
		}
	}()

	if consumer != nil {
		go func() {
			if err := consumer.Start(); err != nil {
				logger.Error("Episode events consumer stopped with error", zap.Error(err))
			}
		}()
	}

	// Восстановление триггеров после рестарта
	if recovered, err := episodeScheduler.ReconcileOnStartup(ctx); err != nil {
		logger.Error("Startup reconciliation failed", zap.Error(err))
	} else if recovered > 0 {
		logger.Info("Schedules rebuilt on startup", zap.Int("stories", recovered))
	}

	// --- HTTP Server (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(sharedMiddleware.GinZapLogger(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	schedulerHandler := handler.NewSchedulerHandler(episodeScheduler, episodeNotifier, logger)
	schedulerHandler.RegisterRoutes(router)

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.HTTP.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if consumer != nil {
		consumer.Stop()
	}
	jobStore.Stop()

	logger.Info("Service stopped")
}
