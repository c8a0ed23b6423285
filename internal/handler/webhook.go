package handler

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger-pipeline/internal/messenger"
	"github.com/capitalize-ai/messenger-pipeline/internal/middleware"
	"github.com/capitalize-ai/messenger-pipeline/internal/service"
	"github.com/capitalize-ai/messenger-pipeline/pkg/logger"
)

// WebhookHandler receives Messenger page notifications.
type WebhookHandler struct {
	ingest      *service.IngestService
	verifyToken string
	appSecret   string
	logger      *logger.Logger
}

// NewWebhookHandler creates a webhook handler. An empty appSecret disables
// signature verification.
func NewWebhookHandler(ingest *service.IngestService, verifyToken, appSecret string, log *logger.Logger) *WebhookHandler {
	if appSecret == "" {
		log.Warn("webhook signature verification disabled: no app secret configured")
	}
	return &WebhookHandler{
		ingest:      ingest,
		verifyToken: verifyToken,
		appSecret:   appSecret,
		logger:      log.Named("webhook"),
	}
}

// Verify handles GET /webhook, the subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || h.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// Receive handles POST /webhook and POST /webhook/{botID}.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if h.appSecret != "" {
		if err := messenger.VerifySignature(h.appSecret, body, r.Header.Get(messenger.SignatureHeader)); err != nil {
			h.logger.Warn("rejected webhook", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	events, err := messenger.ParseWebhook(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	botID := chi.URLParam(r, "botID")
	if botID != "" {
		if err := middleware.ValidateTenantID(botID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	queued, failed := 0, 0
	for _, ev := range events {
		ok, err := h.ingest.IngestForBot(r.Context(), ev, botID)
		if err != nil {
			failed++
			continue
		}
		if ok {
			queued++
		}
	}

	h.logger.Debug("webhook processed",
		zap.Int("events", len(events)),
		zap.Int("queued", queued),
		zap.Int("failed", failed),
		zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
	)

	// non-2xx responses are redelivered by the platform; events already
	// queued from this batch are suppressed on redelivery by dedup
	if failed > 0 {
		writeError(w, http.StatusServiceUnavailable, "failed to queue events")
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("EVENT_RECEIVED"))
}
