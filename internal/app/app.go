// Package app wires configuration into the stores, queue and services shared
// by the API and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger-pipeline/internal/catalog"
	"github.com/capitalize-ai/messenger-pipeline/internal/config"
	"github.com/capitalize-ai/messenger-pipeline/internal/leads"
	"github.com/capitalize-ai/messenger-pipeline/internal/llm"
	"github.com/capitalize-ai/messenger-pipeline/internal/messenger"
	natsclient "github.com/capitalize-ai/messenger-pipeline/internal/nats"
	"github.com/capitalize-ai/messenger-pipeline/internal/queue"
	"github.com/capitalize-ai/messenger-pipeline/internal/service"
	"github.com/capitalize-ai/messenger-pipeline/internal/store"
	"github.com/capitalize-ai/messenger-pipeline/internal/worker"
	"github.com/capitalize-ai/messenger-pipeline/pkg/logger"
)

// App holds the wired components. Queue, NATS, JobStream and LeadReader may
// be nil depending on configuration.
type App struct {
	Config *config.Config

	KV         store.KV
	Tenants    *store.TenantStore
	Sessions   *store.SessionStore
	Queue      queue.Queue
	NATS       *natsclient.Client
	JobStream  *natsclient.JobStream
	LeadReader leads.Reader

	Ingest       *service.IngestService
	Conversation *service.ConversationService

	logger  *logger.Logger
	closers []func()
}

// New builds every component described by cfg.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	a := &App{Config: cfg, logger: log}

	if err := a.initStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initQueue(ctx); err != nil {
		a.Close()
		return nil, err
	}

	cat, err := a.loadCatalog()
	if err != nil {
		a.Close()
		return nil, err
	}

	sink, err := a.initLeads(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	resolver := service.NewTenantResolver(a.Tenants, cfg.DefaultTenantID, cfg.PageAccessToken, log)

	a.Ingest = service.NewIngestService(
		resolver,
		store.NewDedupStore(a.KV, cfg.StoreTimeout),
		a.Queue,
		service.IngestConfig{
			DedupTTL:    cfg.DedupTTL,
			MaxAttempts: cfg.JobMaxAttempts,
		},
		log,
	)

	a.Conversation = service.NewConversationService(service.ConversationDeps{
		Sessions: a.Sessions,
		Locker:   store.NewLocker(a.KV, cfg.LockTTL, cfg.LockWait, cfg.StoreTimeout),
		Resolver: resolver,
		Catalog:  cat,
		AI:       a.initAssistant(),
		Outbound: messenger.NewClient(cfg.GraphBaseURL, cfg.GraphAPIVersion, cfg.SendTimeout),
		Leads:    sink,
	}, service.ConversationConfig{
		SessionTTL:  cfg.SessionTTL,
		SendTimeout: cfg.SendTimeout,
		LeadTimeout: cfg.LeadTimeout,
	}, log)

	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	cfg := a.Config
	if cfg.RedisURL == "" {
		if !cfg.IsDevelopment() {
			a.logger.Warn("REDIS_URL not set, using in-memory store; sessions will not survive a restart")
		}
		a.KV = store.NewMemoryKV()
	} else {
		kv, err := store.NewRedisKV(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.KV = kv
	}
	a.closers = append(a.closers, func() { _ = a.KV.Close() })

	a.Tenants = store.NewTenantStore(a.KV, cfg.StoreTimeout)
	a.Sessions = store.NewSessionStore(a.KV, cfg.SessionTTL, cfg.StoreTimeout, a.logger)
	return nil
}

func (a *App) initQueue(ctx context.Context) error {
	cfg := a.Config
	if !cfg.QueueConfigured() {
		a.logger.Warn("job queue not configured", zap.String("backend", cfg.QueueBackend))
		return nil
	}

	if cfg.QueueBackend == config.QueueMemory {
		q := queue.NewMemoryQueue(cfg.QueueCapacity, cfg.JobRetention)
		a.Queue = q
		a.closers = append(a.closers, func() { _ = q.Close() })
		return nil
	}

	client, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
		Name:     "messenger-pipeline",
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.NATS = client
	a.closers = append(a.closers, client.Close)

	js := natsclient.NewJobStream(client, natsclient.JobStreamConfig{
		Retention: cfg.JobRetention,
		AckWait:   cfg.JobTimeout + cfg.JobTimeout/2,
	})
	if err := js.EnsureStreams(ctx); err != nil {
		return fmt.Errorf("failed to ensure job streams: %w", err)
	}
	a.JobStream = js
	a.Queue = js
	a.closers = append(a.closers, func() { _ = js.Close() })
	return nil
}

func (a *App) loadCatalog() (*catalog.Catalog, error) {
	cfg := a.Config
	if cfg.CatalogFile == "" {
		return catalog.Empty(cfg.Currency), nil
	}
	cat, err := catalog.Load(cfg.CatalogFile, cfg.Currency)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	a.logger.Info("catalog loaded",
		zap.String("path", cfg.CatalogFile),
		zap.Int("tenants", len(cat.Tenants)),
	)
	return cat, nil
}

func (a *App) initLeads(ctx context.Context) (leads.Sink, error) {
	cfg := a.Config
	sinks := leads.MultiSink{leads.NewLogSink(a.logger)}

	if cfg.LeadsDatabaseURL != "" {
		pg, err := leads.NewPostgresSink(ctx, cfg.LeadsDatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open leads database: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		a.LeadReader = pg
		sinks = append(sinks, pg)
	}
	if cfg.LeadsWebhookURL != "" {
		sinks = append(sinks, leads.NewWebhookSink(cfg.LeadsWebhookURL, cfg.LeadTimeout))
	}
	return sinks, nil
}

// initAssistant returns nil when no provider key is configured; the
// conversation engine then answers off-funnel messages with the apology.
func (a *App) initAssistant() service.AIAssistant {
	cfg := a.Config

	client, err := llm.SelectClient(cfg.DefaultLLM, llm.Keys{OpenAI: cfg.OpenAIAPIKey, Anthropic: cfg.AnthropicAPIKey})
	if errors.Is(err, llm.ErrNoAPIKey) {
		a.logger.Warn("no LLM API key configured, AI fallback disabled")
		return nil
	}
	if err != nil {
		a.logger.Warn("failed to create LLM client, AI fallback disabled", zap.Error(err))
		return nil
	}
	a.logger.Info("AI fallback enabled", zap.String("provider", client.Name()))
	return llm.NewAssistant(client, cfg.LLMModel, cfg.AITimeout, a.logger)
}

// NewWorkerPool builds a pool that runs conversation turns off the queue.
func (a *App) NewWorkerPool() (*worker.Pool, error) {
	if a.Queue == nil {
		return nil, errors.New("app: worker requires a job queue")
	}
	cfg := a.Config
	return worker.NewPool(a.Queue, a.Conversation, worker.Options{
		Concurrency: cfg.WorkerConcurrency,
		Policy: queue.RetryPolicy{
			MaxAttempts: cfg.JobMaxAttempts,
			BaseDelay:   cfg.JobBackoffBase,
			MaxDelay:    cfg.JobBackoffMax,
		},
		JobTimeout: cfg.JobTimeout,
	}, a.logger), nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
