// Package main is the entry point for the conversation workers.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger-pipeline/internal/app"
	"github.com/capitalize-ai/messenger-pipeline/internal/config"
	"github.com/capitalize-ai/messenger-pipeline/pkg/logger"
	"github.com/capitalize-ai/messenger-pipeline/pkg/tracing"
)

const observeInterval = 15 * time.Second

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messenger-pipeline-worker", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(context.Background(), tp) }()
		}
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", zap.Error(err))
		os.Exit(1)
	}
	defer a.Close()

	pool, err := a.NewWorkerPool()
	if err != nil {
		log.Error("failed to create worker pool", zap.Error(err))
		os.Exit(1)
	}

	// Metrics endpoint
	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	if a.JobStream != nil {
		go func() {
			ticker := time.NewTicker(observeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := a.JobStream.Observe(ctx); err != nil {
						log.Debug("failed to observe job stream", zap.Error(err))
					}
				}
			}
		}()
	}

	log.Info("worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.String("queue", cfg.QueueBackend),
	)
	pool.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	log.Info("worker stopped")
}
