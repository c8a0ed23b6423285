// Package leads provides sinks that receive completed funnel leads.
package leads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger-pipeline/internal/model"
	"github.com/capitalize-ai/messenger-pipeline/pkg/logger"
)

// Sink persists a lead. Implementations must tolerate the same lead being
// saved more than once.
type Sink interface {
	SaveLead(ctx context.Context, lead model.Lead) error
}

// Reader lists stored leads, newest first.
type Reader interface {
	Recent(ctx context.Context, tenantID string, limit int) ([]model.Lead, error)
}

// LogSink writes leads to the log. Used when no other sink is configured.
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a log-only sink.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{logger: log.Named("leads")}
}

func (s *LogSink) SaveLead(ctx context.Context, lead model.Lead) error {
	s.logger.Info("lead captured",
		zap.String("tenant_id", lead.TenantID),
		zap.String("sender_id", lead.SenderID),
		zap.String("service", lead.Service),
		zap.String("trace_id", lead.TraceID),
	)
	return nil
}

// WebhookSink posts leads as JSON to an HTTP endpoint.
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

// NewWebhookSink creates a sink posting to url.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{url: url, httpClient: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) SaveLead(ctx context.Context, lead model.Lead) error {
	b, err := json.Marshal(lead)
	if err != nil {
		return fmt.Errorf("failed to marshal lead: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if lead.TraceID != "" {
		req.Header.Set("Idempotency-Key", lead.TenantID+":"+lead.SenderID+":"+lead.TraceID)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("lead webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("lead webhook error: status=%d body=%s", resp.StatusCode, string(body))
	}
	return nil
}

// MultiSink saves to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) SaveLead(ctx context.Context, lead model.Lead) error {
	var errs []error
	for _, s := range m {
		if err := s.SaveLead(ctx, lead); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps leads in memory, deduplicated by tenant, sender and trace.
type MemorySink struct {
	mu    sync.Mutex
	leads []model.Lead
	seen  map[string]struct{}
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{seen: map[string]struct{}{}}
}

func (s *MemorySink) SaveLead(ctx context.Context, lead model.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := lead.TenantID + "\x00" + lead.SenderID + "\x00" + lead.TraceID
	if _, ok := s.seen[key]; ok {
		return nil
	}
	s.seen[key] = struct{}{}
	s.leads = append(s.leads, lead)
	return nil
}

// Recent returns stored leads for tenantID, newest first.
func (s *MemorySink) Recent(ctx context.Context, tenantID string, limit int) ([]model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Lead
	for i := len(s.leads) - 1; i >= 0; i-- {
		if s.leads[i].TenantID != tenantID {
			continue
		}
		out = append(out, s.leads[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// All returns every stored lead in insertion order.
func (s *MemorySink) All() []model.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Lead(nil), s.leads...)
}
