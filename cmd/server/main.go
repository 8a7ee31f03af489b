package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/videoflow/notification/internal/application"
	"github.com/videoflow/notification/internal/config"
	"github.com/videoflow/notification/internal/domain"
	"github.com/videoflow/notification/internal/infrastructure/gateway"
	"github.com/videoflow/notification/internal/infrastructure/keycloak"
	"github.com/videoflow/notification/internal/infrastructure/memory"
	"github.com/videoflow/notification/internal/infrastructure/postgres"
	"github.com/videoflow/notification/internal/infrastructure/resilient"
	kafkaconsumer "github.com/videoflow/notification/internal/kafka"
	"github.com/videoflow/notification/internal/metrics"
	"github.com/videoflow/notification/internal/retry"
	transporthttp "github.com/videoflow/notification/internal/transport/http"
)

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// ── Config ───────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Server.Env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("env", cfg.Server.Env).Str("port", cfg.Server.Port).Msg("starting notification service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Metrics ──────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ── Repository ───────────────────────────────────────────────────────────
	var store domain.Repository
	switch cfg.Storage.Driver {
	case "memory":
		store = memory.New()
		log.Warn().Msg("using in-memory storage, notifications are lost on restart")
	default:
		if err := postgres.Migrate(cfg.Database.URL()); err != nil {
			log.Fatal().Err(err).Msg("database migration failed")
		}
		pool, err := postgres.Connect(ctx, postgres.PoolConfig{
			DSN:            cfg.Database.URL(),
			MaxConns:       cfg.Database.MaxConns,
			MinConns:       cfg.Database.MinConns,
			ConnectTimeout: cfg.Database.Timeout,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()
		log.Info().Str("host", cfg.Database.Host).Msg("postgres connected")
		store = postgres.New(pool, cfg.Database.Timeout)
	}

	storeRetry := retry.New(cfg.Storage.Retry.Policy(), postgres.IsTransient, resilient.LogObserver(m.ObserveStore))
	repo := resilient.New(store, storeRetry)

	// ── Gateway, resolver & SSE hub ──────────────────────────────────────────
	onSent, onFailed := m.DeliveryHooks()
	mailer := gateway.New(cfg.Gateway.URL, cfg.Gateway.Timeout,
		gateway.WithRateLimit(cfg.Gateway.RatePerSec, cfg.Gateway.Burst),
		gateway.WithHooks(onSent, onFailed),
	)

	var resolver application.UserResolver
	if cfg.Keycloak.BaseURL != "" {
		resolver = keycloak.New(keycloak.Config{
			AdminURL:     cfg.Keycloak.BaseURL,
			Realm:        cfg.Keycloak.Realm,
			AdminRealm:   cfg.Keycloak.AdminRealm,
			ClientID:     cfg.Keycloak.AdminClientID,
			ClientSecret: cfg.Keycloak.AdminClientSecret,
			CacheTTL:     cfg.Keycloak.CacheTTL,
		})
	}

	hub := transporthttp.NewHub(m.StreamClients)

	// ── Application Service ──────────────────────────────────────────────────
	svc := application.NewService(repo, mailer, hub, resolver)

	// ── Kafka Consumer ───────────────────────────────────────────────────────
	deliveryRetry := retry.New(cfg.Delivery.Policy(), kafkaconsumer.IsDeliveryFailure, nil)
	handler := kafkaconsumer.NewVideoEventHandler(svc, deliveryRetry, cfg.Kafka.HandleTimeout)

	consumer, err := kafkaconsumer.New(kafkaconsumer.Config{
		Brokers:           cfg.Kafka.Brokers,
		Topic:             cfg.Kafka.Topic,
		GroupID:           cfg.Kafka.ConsumerGroupID,
		DeadLetterTopic:   cfg.Kafka.DeadLetterTopic,
		Partitions:        cfg.Kafka.Partitions,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
		Concurrency:       cfg.Kafka.Concurrency,
		RedeliveryDelay:   cfg.Kafka.RedeliveryDelay,
	}, handler, m)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer")
	}
	defer consumer.Close()

	if err := consumer.EnsureSubscription(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure kafka subscription")
	}

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Start(ctx)
	}()

	// ── Retention Purge Job (every 24h) ──────────────────────────────────────
	if cfg.Retention.Days > 0 {
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					_, _ = svc.PurgeRetention(ctx, cfg.Retention.Days)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// ── HTTP Server ──────────────────────────────────────────────────────────
	router := transporthttp.NewRouter(transporthttp.NewHandler(svc, hub), reg, cfg.Auth.JWTSecret)
	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("auth.jwt_secret is empty, HTTP API is unauthenticated")
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := router.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped")
			stop()
		}
	}()

	// ── Graceful Shutdown ────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	consumer.Close()
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("kafka consumer did not stop in time")
	}

	log.Info().Msg("notification service stopped")
}
