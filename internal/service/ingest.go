package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger-pipeline/internal/model"
	"github.com/capitalize-ai/messenger-pipeline/internal/queue"
	"github.com/capitalize-ai/messenger-pipeline/pkg/logger"
	"github.com/capitalize-ai/messenger-pipeline/pkg/metrics"
)

// ErrQueueDisabled is reported when no queue backend is configured.
var ErrQueueDisabled = errors.New("service: job queue not configured")

// Deduper records first sightings of platform events.
type Deduper interface {
	Accept(ctx context.Context, tenantID, senderID, eventID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, tenantID, senderID, eventID string) error
}

// IngestConfig tunes the gateway.
type IngestConfig struct {
	DedupTTL       time.Duration
	MaxAttempts    int
	EnqueueTimeout time.Duration
}

// IngestService validates inbound events and turns them into queued jobs.
// It never runs conversation logic.
type IngestService struct {
	resolver *TenantResolver
	dedup    Deduper
	queue    queue.Queue
	cfg      IngestConfig
	logger   *logger.Logger
	now      func() time.Time
}

// NewIngestService creates the gateway. A nil queue puts it in degraded mode:
// every attributable event is dropped with a warning.
func NewIngestService(resolver *TenantResolver, dedup Deduper, q queue.Queue, cfg IngestConfig, log *logger.Logger) *IngestService {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 5 * time.Second
	}
	s := &IngestService{
		resolver: resolver,
		dedup:    dedup,
		queue:    q,
		cfg:      cfg,
		logger:   log.Named("ingest"),
		now:      time.Now,
	}
	if q == nil {
		s.logger.Warn("job queue not configured, inbound events will be dropped")
	}
	return s
}

// Enabled reports whether a queue is configured.
func (s *IngestService) Enabled() bool {
	return s.queue != nil
}

// Ingest accepts ev for processing and reports whether a job was enqueued.
func (s *IngestService) Ingest(ctx context.Context, ev model.InboundEvent) bool {
	queued, _ := s.IngestForBot(ctx, ev, "")
	return queued
}

// IngestForBot is Ingest with an explicit tenant that overrides the page
// mapping. A non-nil error means the event was accepted but could not be
// queued; its dedup marker is released so a redelivery is processed.
func (s *IngestService) IngestForBot(ctx context.Context, ev model.InboundEvent, botID string) (bool, error) {
	if ev.IsEcho {
		metrics.IngestTotal.WithLabelValues("echo").Inc()
		return false, nil
	}
	if !ev.Attributable() {
		metrics.IngestTotal.WithLabelValues("invalid").Inc()
		return false, nil
	}

	tenantID := s.resolver.Resolve(ctx, ev.ChannelID, botID)
	log := s.logger.WithContext(ev.EventID, tenantID, ev.SenderID)

	if s.dedup != nil {
		fresh, err := s.dedup.Accept(ctx, tenantID, ev.SenderID, ev.EventID, s.cfg.DedupTTL)
		switch {
		case err != nil:
			// an unavailable dedup store must not drop customer messages
			metrics.IngestTotal.WithLabelValues("dedup_error").Inc()
			log.Warn("dedup check failed, accepting event", zap.Error(err))
		case !fresh:
			metrics.IngestTotal.WithLabelValues("duplicate").Inc()
			log.Debug("duplicate event dropped")
			return false, nil
		}
	}

	if s.queue == nil {
		metrics.IngestTotal.WithLabelValues("queue_disabled").Inc()
		log.Warn("dropping event", zap.Error(ErrQueueDisabled))
		return false, nil
	}

	job := model.NewJob(ulid.Make().String(), tenantID, ev, s.cfg.MaxAttempts, s.now())

	enqueueCtx, cancel := context.WithTimeout(ctx, s.cfg.EnqueueTimeout)
	defer cancel()
	if err := s.queue.Enqueue(enqueueCtx, job); err != nil {
		metrics.IngestTotal.WithLabelValues("queue_error").Inc()
		log.Error("failed to enqueue job", zap.String("job_id", job.ID), zap.Error(err))
		if s.dedup != nil {
			if relErr := s.dedup.Release(ctx, tenantID, ev.SenderID, ev.EventID); relErr != nil {
				log.Error("failed to release dedup marker", zap.Error(relErr))
			}
		}
		return false, fmt.Errorf("failed to enqueue event %s: %w", ev.EventID, err)
	}

	metrics.IngestTotal.WithLabelValues("queued").Inc()
	log.Debug("job enqueued", zap.String("job_id", job.ID))
	return true, nil
}
