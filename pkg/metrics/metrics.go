// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// IngestTotal counts inbound events by outcome.
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Inbound events by ingestion outcome",
		},
		[]string{"outcome"},
	)

	// JobsTotal counts settled jobs by outcome (completed, retried, failed).
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_total",
			Help: "Settled jobs by outcome",
		},
		[]string{"outcome"},
	)

	// JobDuration tracks handler time per job attempt.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Job handler duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 45},
		},
		[]string{"outcome"},
	)

	// JobRetryDelay tracks the backoff applied before redelivery.
	JobRetryDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "job_retry_delay_seconds",
			Help:    "Backoff applied to retried jobs",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 60},
		},
	)

	// FunnelTransitions counts conversation step changes.
	FunnelTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_transitions_total",
			Help: "Conversation funnel transitions",
		},
		[]string{"tenant_id", "from", "to"},
	)

	// LeadsTotal counts completed funnels handed to the lead sink.
	LeadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leads_total",
			Help: "Leads handed to the lead sink",
		},
		[]string{"tenant_id", "status"},
	)

	// AIFallbackTotal counts AI fallback answers by outcome.
	AIFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_fallback_total",
			Help: "AI fallback answers by outcome",
		},
		[]string{"provider", "status"},
	)

	// LLMDuration tracks LLM completion latency.
	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// OutboundTotal counts calls to the messaging platform send API.
	OutboundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_messages_total",
			Help: "Outbound send API calls by kind and status",
		},
		[]string{"kind", "status"},
	)

	// LockContention counts session lock acquisitions that timed out.
	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_lock_contention_total",
			Help: "Session lock acquisitions that exceeded the wait window",
		},
	)

	// NATSStreamMessages tracks messages in NATS stream.
	NATSStreamMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_messages",
			Help: "Number of messages in NATS stream",
		},
		[]string{"stream"},
	)

	// NATSConsumerPending tracks pending messages for consumers.
	NATSConsumerPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_consumer_pending",
			Help: "Pending messages for NATS consumer",
		},
		[]string{"stream", "consumer"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLM records metrics for one LLM completion.
func RecordLLM(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordJob records the outcome and duration of one job attempt.
func RecordJob(outcome string, duration float64) {
	JobsTotal.WithLabelValues(outcome).Inc()
	JobDuration.WithLabelValues(outcome).Observe(duration)
}
