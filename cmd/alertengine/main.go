package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weqory/alertengine/internal/adapter"
	"github.com/weqory/alertengine/internal/engine"
	"github.com/weqory/alertengine/internal/messenger"
	"github.com/weqory/alertengine/internal/messenger/telegram"
	"github.com/weqory/alertengine/internal/realtime"
	"github.com/weqory/alertengine/internal/store"
	"github.com/weqory/alertengine/internal/trigger"
	"github.com/weqory/alertengine/pkg/config"
	"github.com/weqory/alertengine/pkg/database"
	"github.com/weqory/alertengine/pkg/logger"
	"github.com/weqory/alertengine/pkg/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Env)
	log.Info("starting alert-engine",
		slog.String("env", cfg.Server.Env),
		slog.String("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, database.PostgresConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		log.Error("failed to connect to postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	log.Info("connected to PostgreSQL")

	redisClient, err := redis.NewClient(ctx, redis.Config{
		URL:      cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Error("failed to connect to redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info("connected to Redis")

	alertStore := store.NewAlertStore(pool)
	leaseStore := store.NewLeaseStore(pool)
	userStore := store.NewUserStore(pool)

	if err := alertStore.EnsureSchema(ctx); err != nil {
		log.Error("failed to ensure alert schema", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := alertStore.EnsureHistorySchema(ctx); err != nil {
		log.Error("failed to ensure alert history schema", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := leaseStore.EnsureTable(ctx); err != nil {
		log.Error("failed to ensure lease table", slog.String("error", err.Error()))
		os.Exit(1)
	}

	binanceClient := adapter.NewClient(log.Logger)
	registry := adapter.NewRegistry(binanceClient)
	go func() {
		if err := binanceClient.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("binance adapter error", slog.String("error", err.Error()))
		}
	}()

	hub := realtime.NewHub(log.Logger)
	go hub.Run(ctx)

	realtimePublisher := realtime.NewPublisher(redisClient)
	realtimeSubscriber := realtime.NewSubscriber(redisClient, hub, log.Logger)
	go func() {
		if err := realtimeSubscriber.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("realtime subscriber error", slog.String("error", err.Error()))
		}
	}()

	telegramClient := telegram.NewClient(cfg.Telegram.BotToken, log.Logger)
	dispatcher := messenger.NewDispatcher(telegramClient, userStore, redisClient, log.Logger)
	dispatcher.MiniAppURL = cfg.Telegram.MiniAppURL

	messengerPublisher := messenger.NewPublisher(redisClient, log.Logger)
	messengerSubscriber := messenger.NewSubscriber(redisClient, dispatcher, log.Logger)
	go func() {
		if err := messengerSubscriber.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("messenger subscriber error", slog.String("error", err.Error()))
		}
	}()
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := messengerPublisher.ProcessRetryQueue(ctx); err != nil {
					log.Warn("messenger retry queue drain failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	sink := trigger.New(alertStore, realtimePublisher, messengerPublisher, log.Logger)

	eng := engine.New(cfg.Engine, engine.Dependencies{
		Registry:   registry,
		Store:      alertStore,
		LeaseStore: leaseStore,
		Sink:       sink,
		Logger:     log.Logger,
	})

	go func() {
		if err := eng.Run(ctx); err != nil {
			if ctx.Err() == nil {
				log.Error("engine error", slog.String("error", err.Error()))
			}
		}
	}()

	realtimeHandler := realtime.NewHandler(hub, cfg.JWT.Secret, log.Logger)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": "alert-engine"})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		if !binanceClient.IsConnected() {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready", "reason": "binance not connected"})
		}
		return c.JSON(fiber.Map{"status": "ready"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Use("/ws", realtimeHandler.Authenticate)
	app.Get("/ws", realtimeHandler.Upgrade())

	go func() {
		log.Info("http server starting", slog.String("port", cfg.Server.Port))
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	log.Info("alert engine started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down alert-engine...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("server shutdown error", slog.String("error", err.Error()))
	}

	cancel()
	binanceClient.Close()

	log.Info("alert-engine stopped gracefully")
}
