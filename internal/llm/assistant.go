package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger-pipeline/pkg/logger"
	"github.com/capitalize-ai/messenger-pipeline/pkg/metrics"
)

const assistantSystemPrompt = "أنت مساعد مبيعات لمتجر على ماسنجر. رد باختصار وبالعامية المصرية. " +
	"استخدم سياق العميل المرفق ولا تخترع أسعاراً أو عروضاً غير موجودة فيه."

// Assistant answers customer questions that the funnel cannot handle.
type Assistant struct {
	client  Client
	model   string
	timeout time.Duration
	logger  *logger.Logger
}

// NewAssistant wraps client. A zero timeout means no extra deadline.
func NewAssistant(client Client, model string, timeout time.Duration, log *logger.Logger) *Assistant {
	return &Assistant{
		client:  client,
		model:   model,
		timeout: timeout,
		logger:  log.Named("assistant"),
	}
}

// AskAI answers question using summary as conversation context. ok is false
// when the provider failed or returned nothing.
func (a *Assistant) AskAI(ctx context.Context, question, summary string) (string, bool) {
	if a == nil || a.client == nil {
		return "", false
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := a.client.Complete(ctx, &CompletionRequest{
		Model:  a.model,
		System: assistantSystemPrompt,
		Messages: []ChatMessage{{
			Role:    RoleUser,
			Content: fmt.Sprintf("سياق العميل: %s\n\nرسالة العميل: %s", summary, question),
		}},
		Temperature: 0.3,
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.AIFallbackTotal.WithLabelValues(a.client.Name(), "error").Inc()
		metrics.RecordLLM(a.model, "error", elapsed, 0, 0)
		a.logger.Warn("AI fallback failed", zap.String("provider", a.client.Name()), zap.Error(err))
		return "", false
	}

	metrics.RecordLLM(resp.Model, "success", elapsed, resp.TokensIn, resp.TokensOut)

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		metrics.AIFallbackTotal.WithLabelValues(a.client.Name(), "empty").Inc()
		return "", false
	}
	metrics.AIFallbackTotal.WithLabelValues(a.client.Name(), "ok").Inc()
	return answer, true
}
