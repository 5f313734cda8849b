// Package main is the entry point for the journal API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/openeld/journal/internal/api"
	"github.com/openeld/journal/internal/auth"
	"github.com/openeld/journal/internal/config"
	"github.com/openeld/journal/internal/export"
	"github.com/openeld/journal/internal/hashchain"
	"github.com/openeld/journal/internal/health"
	"github.com/openeld/journal/internal/middleware"
	"github.com/openeld/journal/internal/record"
	"github.com/openeld/journal/internal/sequence"
	"github.com/openeld/journal/internal/store"
	"github.com/openeld/journal/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("ELD Journal API Server")
		fmt.Println()
		fmt.Println("Usage: journald [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	// Tracing is enabled only when an OTLP endpoint is configured.
	traceProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "journald",
		Enabled:      cfg.OTLPEndpoint != "",
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: 1.0,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	// Redis backs rate limiting when configured; the limiter fails open
	// without it.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register HTTP metrics", "error", err)
		os.Exit(1)
	}
	seqMetrics := sequence.NewMetrics()
	if err := seqMetrics.Register(registry); err != nil {
		logger.Error("failed to register sequence metrics", "error", err)
		os.Exit(1)
	}

	allocator := sequence.NewAllocator(store.NewPostgresStore(db, logger), logger, seqMetrics)
	repo := record.NewPostgresRepository(db, logger)
	factory := hashchain.NewFactory(nil, nil)
	verifier := hashchain.NewVerifier(nil)

	var jwtService *auth.JWTService
	if cfg.JWTSecretPrevious != "" {
		jwtService = auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTSecretPrevious)
	} else {
		jwtService = auth.NewJWTService(cfg.JWTSecret)
	}

	handlers := api.NewRecordHandlers(repo, allocator, factory, verifier, nil, logger)

	if cfg.ExportConfigured() {
		exportMetrics := export.NewMetrics()
		if err := exportMetrics.Register(registry); err != nil {
			logger.Error("failed to register export metrics", "error", err)
			os.Exit(1)
		}
		archiver, err := export.NewArchiver(export.ArchiverConfig{
			BucketName:      cfg.ExportBucketName,
			AccessKeyID:     cfg.ExportAccessKeyID,
			SecretAccessKey: cfg.ExportSecretAccessKey,
			Endpoint:        cfg.ExportEndpoint,
			Region:          cfg.ExportRegion,
		}, exportMetrics)
		if err != nil {
			logger.Error("failed to configure export archiver", "error", err)
			os.Exit(1)
		}
		handlers.EnableExport(export.NewExporter(repo, verifier, exportMetrics, logger), archiver)
		logger.Info("export archive enabled", "bucket", cfg.ExportBucketName)
	} else {
		logger.Info("export archive not configured, export endpoint disabled")
	}

	// Authenticated journal API behind the rate limiter.
	apiMux := http.NewServeMux()
	handlers.Register(apiMux)
	var protected http.Handler = auth.Middleware(jwtService)(apiMux)

	var limitStore middleware.RateLimitStore = middleware.NewInMemoryRateLimitStore()
	if redisClient != nil {
		limitStore = middleware.NewRedisRateLimitStore(redisClient)
	}
	protected = middleware.RateLimiter(limitStore, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc())(protected)

	mux := http.NewServeMux()
	mux.Handle("/v1/", protected)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	healthConfig := api.HealthHandlersConfig{
		DBChecker:      health.NewDBChecker(db),
		MetricsEnabled: true,
	}
	if redisClient != nil {
		healthConfig.RedisChecker = health.NewRedisChecker(redisClient)
	}
	healthHandlers := api.NewHealthHandlers(healthConfig)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)

	// Apply middleware: RequestID -> Tracing -> Logging -> HTTPMetrics -> CORS -> Profiling
	var handler http.Handler = mux
	handler = middleware.Profiling(middleware.ProfilingConfig{
		Enabled:     cfg.Env == "development",
		Environment: cfg.Env,
	})(handler)
	if origins := cfg.CORSOrigins(); len(origins) > 0 {
		handler = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins:   origins,
			AllowCredentials: true,
			MaxAge:           300,
		})(handler)
	}
	handler = middleware.RequestID(
		middleware.Tracing("journald")(
			middleware.Logging(logger)(
				middleware.HTTPMetrics(httpMetrics)(handler))))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
