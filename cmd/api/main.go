// Package main is the entry point for the webhook gateway and admin API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger-pipeline/internal/app"
	"github.com/capitalize-ai/messenger-pipeline/internal/config"
	"github.com/capitalize-ai/messenger-pipeline/internal/handler"
	"github.com/capitalize-ai/messenger-pipeline/internal/middleware"
	"github.com/capitalize-ai/messenger-pipeline/pkg/logger"
	"github.com/capitalize-ai/messenger-pipeline/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	log.Info("starting API server", zap.String("env", cfg.Env))

	if err := cfg.ValidateAPI(); err != nil {
		log.Error("invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messenger-pipeline-api", cfg.TracingEndpoint)
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

	// Optional in-process workers for single-binary deployments
	var workers sync.WaitGroup
	if cfg.WorkerEnabled {
		pool, err := a.NewWorkerPool()
		if err != nil {
			log.Error("failed to start workers", zap.Error(err))
			os.Exit(1)
		}
		workers.Add(1)
		go func() {
			defer workers.Done()
			pool.Run(ctx)
		}()
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(readinessChecks(a))
	webhookHandler := handler.NewWebhookHandler(a.Ingest, cfg.WebhookVerifyToken, cfg.AppSecret, log)

	var jobs handler.JobRecords
	if a.Queue != nil {
		jobs = a.Queue
	}
	adminHandler := handler.NewAdminHandler(a.Tenants, a.Conversation, jobs, a.LeadReader, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Messenger webhook, authenticated by signature
	r.Group(func(r chi.Router) {
		r.Use(middleware.WebhookRateLimit(cfg.RateLimitRequests*10, cfg.RateLimitWindow))
		r.Get("/webhook", webhookHandler.Verify)
		r.Post("/webhook", webhookHandler.Receive)
		r.Post("/webhook/{botID}", webhookHandler.Receive)
	})

	// Admin API with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS())
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/pages/{pageID}", func(r chi.Router) {
			r.Get("/", adminHandler.GetPage)
			r.Put("/", adminHandler.PutPage)
		})

		r.Route("/sessions/{tenantID}/{senderID}", func(r chi.Router) {
			r.Get("/", adminHandler.GetSession)
			r.Delete("/", adminHandler.DeleteSession)
		})

		r.Get("/leads/{tenantID}", adminHandler.ListLeads)

		r.Route("/jobs", func(r chi.Router) {
			r.Use(middleware.RequireScope(middleware.ScopeAdmin))
			r.Get("/failed", adminHandler.FailedJobs)
			r.Get("/completed", adminHandler.CompletedJobs)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			stop()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	workers.Wait()

	log.Info("server stopped")
}

func readinessChecks(a *app.App) map[string]handler.Check {
	checks := map[string]handler.Check{
		"store": a.KV.Ping,
	}
	if a.NATS != nil {
		checks["nats"] = a.NATS.Ping
	}
	return checks
}
