package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/wolfman30/care-analytics-service/internal/analytics"
	"github.com/wolfman30/care-analytics-service/internal/api/router"
	"github.com/wolfman30/care-analytics-service/internal/app/bootstrap"
	appconfig "github.com/wolfman30/care-analytics-service/internal/config"
	"github.com/wolfman30/care-analytics-service/internal/http/handlers"
	"github.com/wolfman30/care-analytics-service/internal/observability/metrics"
	"github.com/wolfman30/care-analytics-service/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting analytics service",
		"env", cfg.Env,
		"port", cfg.Port,
		"timezone", cfg.Location().String(),
	)

	ctx := context.Background()
	metricsHandler, analyticsMetrics := setupMetrics()

	// Relational store is required
	pool, err := bootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to configure relational store", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := analytics.NewPatientVisitRepository(pool).
		WithLocation(cfg.Location()).
		WithMetrics(analyticsMetrics)

	// Document store is optional; the driver reconnects after an outage
	mongoClient := bootstrap.BuildMongoClient(ctx, cfg, logger, true)
	documents, documentPinger := documentStore(mongoClient, cfg, analyticsMetrics)
	if mongoClient != nil {
		defer func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoClient.Disconnect(disconnectCtx); err != nil {
				logger.Warn("failed to disconnect document store", "error", err)
			}
		}()
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	limiter := bootstrap.BuildLimiter(cfg, redisClient)
	if closer, ok := limiter.(interface{ Close() }); ok {
		defer closer.Close()
	}

	// Setup router
	r := router.New(&router.Config{
		Logger:             logger,
		Analytics:          analytics.NewHandler(repo, documents, logger).WithQueryTimeout(cfg.QueryTimeout),
		Health:             handlers.NewHealthHandler(repo, documentPinger, logger),
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
	})

	srv := newServer(cfg, r)

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func newServer(cfg *appconfig.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.QueryTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// setupMetrics uses a private registry so tests can build it repeatedly.
func setupMetrics() (http.Handler, *metrics.AnalyticsMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewAnalyticsMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

// documentStore returns untyped nils when client is nil so the handler and
// readiness probe see a missing store rather than a typed nil pointer.
func documentStore(client *mongo.Client, cfg *appconfig.Config, m *metrics.AnalyticsMetrics) (analytics.DocumentAggregator, handlers.Pinger) {
	if client == nil {
		return nil, nil
	}
	store := analytics.NewVisitDocumentStore(client, cfg.MongoDatabase, cfg.MongoVisitsCollection).
		WithLocation(cfg.Location()).
		WithMetrics(m)
	return store, store
}
