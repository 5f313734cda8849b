// Package main is the entry point for the device gateway ingest worker.
package main

import (
	"context"
	"database/sql"
	"errors"
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

	"github.com/openeld/journal/internal/config"
	"github.com/openeld/journal/internal/hashchain"
	"github.com/openeld/journal/internal/ingest"
	"github.com/openeld/journal/internal/middleware"
	"github.com/openeld/journal/internal/record"
	"github.com/openeld/journal/internal/sequence"
	"github.com/openeld/journal/internal/store"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("ELD Journal Gateway Ingest Worker")
		fmt.Println()
		fmt.Println("Usage: ingestd [options]")
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
	if cfg.GatewayURL == "" {
		fmt.Fprintln(os.Stderr, "config: GATEWAY_URL is required")
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

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

	registry := prometheus.NewRegistry()
	ingestMetrics := ingest.NewMetrics()
	if err := ingestMetrics.Register(registry); err != nil {
		logger.Error("failed to register ingest metrics", "error", err)
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

	pipeline := ingest.NewPipeline(repo, allocator, factory, nil, ingestMetrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := ingest.NewClient(ingest.DefaultConfig(cfg.GatewayURL), pipeline.Handler(ctx), logger)
	if err != nil {
		logger.Error("failed to create gateway client", "error", err)
		os.Exit(1)
	}

	// Metrics and liveness endpoint.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})
	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:      metricsMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		logger.Info("starting metrics server", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("starting gateway ingest", "gateway_url", cfg.GatewayURL)
	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("gateway client error", "error", err)
	}

	logger.Info("shutting down ingest worker...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server forced to shutdown", "error", err)
	}

	logger.Info("ingest worker stopped")
}
