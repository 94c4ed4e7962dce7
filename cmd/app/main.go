package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bot-kursus/internal/cache"
	"bot-kursus/internal/config"
	"bot-kursus/internal/convo"
	"bot-kursus/internal/handlers"
	"bot-kursus/internal/httpserver"
	"bot-kursus/internal/logging"
	"bot-kursus/internal/metrics"
	"bot-kursus/internal/pay"
	"bot-kursus/internal/repo"
	"bot-kursus/internal/session"
	"bot-kursus/internal/wa"
	"bot-kursus/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting bot-kursus", "env", cfg.AppEnv)

	if cfg.PublicBaseURL != "" {
		webhookURL := strings.TrimRight(cfg.PublicBaseURL, "/") + "/webhook/payment"
		logger.Info("public base url configured", "base_url", cfg.PublicBaseURL, "webhook_url", webhookURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	if cfg.AdminExternalID != "" {
		if _, err := repository.EnsureUser(ctx, cfg.AdminExternalID, true); err != nil {
			return fmt.Errorf("ensure admin user: %w", err)
		}
		logger.Info("admin user ensured", "external_id", cfg.AdminExternalID)
	}

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	payClient := pay.New(pay.Config{
		BaseURL:  cfg.PaymentBaseURL,
		APIToken: cfg.PaymentAPIToken,
		Timeout:  cfg.PaymentTimeout,
	}, logger, metricRegistry)

	waClient, err := wa.New(ctx, wa.Config{
		StorePath: cfg.WhatsAppStorePath,
		LogLevel:  cfg.WhatsAppLogLevel,
		Metrics:   metricRegistry,
	}, logger)
	if err != nil {
		return fmt.Errorf("init whatsapp client: %w", err)
	}
	defer waClient.Close()

	sessions := session.NewStore()
	convoEngine := convo.New(repository, sessions, redisClient, payClient, waClient, metricRegistry, logger, convo.EngineConfig{
		DefaultCurrency: cfg.DefaultCurrency,
	})
	waClient.SetProcessor(convoEngine)

	paymentProcessor := handlers.NewPaymentProcessor(repository, payClient, waClient, metricRegistry, logger)
	webhookHandler := pay.NewWebhookHandler(logger, metricRegistry, cfg.PaymentWebhookSecretUser, cfg.PaymentWebhookSecretPass, paymentProcessor)

	waCtx, waCancel := context.WithCancel(ctx)
	defer waCancel()
	go func() {
		if err := waClient.Start(waCtx); err != nil {
			logger.Error("whatsapp client stopped", "error", err)
			stop()
		}
	}()

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Handlers{
		PaymentWebhook: webhookHandler,
	}, cfg.PublicBasePath)
	httpSrv.SetDependencies(httpserver.Dependencies{
		Repository: repository,
		Redis:      redisClient,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
