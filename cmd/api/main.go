package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"identitysync/internal/auth"
	"identitysync/internal/config"
	"identitysync/internal/events"
	"identitysync/internal/gate"
	transporthttp "identitysync/internal/http"
	"identitysync/internal/identity"
	"identitysync/internal/metrics"
	"identitysync/internal/platform/database"
	"identitysync/internal/platform/logging"
	"identitysync/internal/platform/migrate"
	"identitysync/internal/users"
	"identitysync/internal/webhook"
)

const deliveryCacheSize = 10000

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	repo, cleanup, err := buildRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		cleanups = append(cleanups, cleanup)
	}

	deliveries, cleanup, err := buildDeliveryLog(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize delivery log", "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		cleanups = append(cleanups, cleanup)
	}

	reconcilerOpts := []identity.Option{
		identity.WithLogger(logger),
		identity.WithCreateOnUpdate(cfg.CreateOnUpdate),
	}
	if cfg.NATSURL != "" {
		publisher, err := events.Connect(ctx, cfg.NATSURL, "identitysync", logger)
		if err != nil {
			logger.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		cleanups = append(cleanups, func() { _ = publisher.Close() })
		reconcilerOpts = append(reconcilerOpts, identity.WithPublisher(publisher))
		logger.Info("publishing user changes", "stream", events.StreamName)
	}
	reconciler := identity.NewReconciler(repo, reconcilerOpts...)

	verifier, err := webhook.NewVerifier(cfg.WebhookSecret, webhook.WithTolerance(cfg.WebhookTolerance))
	if err != nil {
		logger.Error("failed to initialize webhook verifier", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	limiter := rate.NewLimiter(rate.Limit(cfg.WebhookRateLimit), cfg.WebhookRateBurst)
	webhookHandler := transporthttp.NewWebhookHandler(verifier, reconciler, deliveries, limiter, collector, logger)

	routeGate, err := buildGate(ctx, cfg, collector, logger)
	if err != nil {
		logger.Error("failed to initialize route gate", "error", err)
		os.Exit(1)
	}

	var authService *auth.Service
	if cfg.APIAuthEnabled() {
		tokenVerifier, err := auth.NewTokenVerifier(ctx, cfg.TokenIssuer, cfg.TokenAudience)
		if err != nil {
			logger.Error("failed to initialize token verifier", "issuer", cfg.TokenIssuer, "error", err)
			os.Exit(1)
		}
		authService = auth.NewService(tokenVerifier, repo)
	}

	router := transporthttp.NewRouter(cfg, transporthttp.Dependencies{
		Webhook: webhookHandler,
		Gate:    routeGate,
		Auth:    authService,
		Metrics: metrics.Handler(registry),
	}, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	go func() {
		logger.Info("identitysync listening", "addr", srv.Addr, "store", cfg.DataStore, "dedup", cfg.DedupStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (users.Repository, func(), error) {
	if cfg.UseInMemoryStore() {
		logger.Info("using in-memory repository")
		return users.NewInMemoryRepository(nil), nil, nil
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		_ = db.Close()
	}

	if err := migrate.Apply(ctx, db, logger); err != nil {
		cleanup()
		return nil, nil, err
	}

	logger.Info("connected to postgres")
	return users.NewPostgresRepository(db), cleanup, nil
}

func buildDeliveryLog(ctx context.Context, cfg config.Config, logger *slog.Logger) (webhook.DeliveryLog, func(), error) {
	if cfg.DedupStore != "redis" {
		return webhook.NewMemoryDeliveryLog(deliveryCacheSize, cfg.DedupTTL), nil, nil
	}

	client, err := database.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to redis")
	return webhook.NewRedisDeliveryLog(client, cfg.DedupTTL), func() { _ = client.Close() }, nil
}

func buildGate(ctx context.Context, cfg config.Config, recorder metrics.Recorder, logger *slog.Logger) (*gate.Gate, error) {
	patterns := gate.DefaultPublicRoutes
	if len(cfg.PublicRoutes) > 0 {
		patterns = cfg.PublicRoutes
	}
	if cfg.PublicRoutesFile != "" {
		loaded, err := gate.LoadRulesFile(cfg.PublicRoutesFile)
		if err != nil {
			return nil, err
		}
		patterns = loaded
	}

	g, err := gate.New(patterns, cfg.SessionCookieName, cfg.SignInPath, gate.WithLogger(logger), gate.WithRecorder(recorder))
	if err != nil {
		return nil, err
	}

	if cfg.PublicRoutesFile != "" {
		go func() {
			if err := g.Watch(ctx, cfg.PublicRoutesFile); err != nil {
				logger.Error("public routes watcher stopped", "path", cfg.PublicRoutesFile, "error", err)
			}
		}()
	}
	return g, nil
}
