package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger-pipeline/internal/leads"
	"github.com/capitalize-ai/messenger-pipeline/internal/middleware"
	"github.com/capitalize-ai/messenger-pipeline/internal/model"
	"github.com/capitalize-ai/messenger-pipeline/internal/store"
	"github.com/capitalize-ai/messenger-pipeline/pkg/logger"
)

// PageDirectory manages page→tenant mappings and page tokens.
type PageDirectory interface {
	Mapping(ctx context.Context, channelID string) (string, error)
	SetMapping(ctx context.Context, channelID, tenantID string) error
	PageToken(ctx context.Context, channelID string) (string, error)
	SetPageToken(ctx context.Context, channelID, token string) error
}

// SessionManager inspects and resets customer sessions.
type SessionManager interface {
	Session(ctx context.Context, tenantID, senderID string) (*model.Session, error)
	ResetSession(ctx context.Context, tenantID, senderID string) error
}

// JobRecords lists retained terminal jobs.
type JobRecords interface {
	Records(ctx context.Context, state model.JobState, limit int) ([]model.JobRecord, error)
}

// AdminHandler serves the operator API. Jobs and leads may be nil when the
// corresponding backend is not configured.
type AdminHandler struct {
	pages    PageDirectory
	sessions SessionManager
	jobs     JobRecords
	leads    leads.Reader
	logger   *logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(pages PageDirectory, sessions SessionManager, jobs JobRecords, leadReader leads.Reader, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		pages:    pages,
		sessions: sessions,
		jobs:     jobs,
		leads:    leadReader,
		logger:   log.Named("admin"),
	}
}

// PageRequest is the body of PUT /pages/{pageID}.
type PageRequest struct {
	TenantID        string `json:"tenantId"`
	PageAccessToken string `json:"pageAccessToken,omitempty"`
}

// PageResponse describes a page mapping. The token itself is never returned.
type PageResponse struct {
	PageID   string `json:"pageId"`
	TenantID string `json:"tenantId"`
	HasToken bool   `json:"hasToken"`
}

// PutPage handles PUT /api/v1/pages/{pageID}
func (h *AdminHandler) PutPage(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageID")
	if err := middleware.ValidateChannelID(pageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req PageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateTenantID(req.TenantID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidatePageToken(req.PageAccessToken); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !middleware.CanAccessTenant(r.Context(), req.TenantID) {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	// A page already owned by another tenant can only be moved by an admin.
	current, err := h.pages.Mapping(r.Context(), pageID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("failed to read page mapping", zap.String("page_id", pageID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read page mapping")
		return
	}
	if current != "" && current != req.TenantID && !middleware.HasScope(r.Context(), middleware.ScopeAdmin) {
		writeError(w, http.StatusForbidden, "page belongs to another tenant")
		return
	}

	if err := h.pages.SetMapping(r.Context(), pageID, req.TenantID); err != nil {
		h.logger.Error("failed to save page mapping", zap.String("page_id", pageID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save page mapping")
		return
	}
	if req.PageAccessToken != "" {
		if err := h.pages.SetPageToken(r.Context(), pageID, req.PageAccessToken); err != nil {
			h.logger.Error("failed to save page token", zap.String("page_id", pageID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to save page token")
			return
		}
	}

	h.logger.Info("page mapped",
		zap.String("page_id", pageID),
		zap.String("tenant_id", req.TenantID),
		zap.String("user_id", middleware.GetUserID(r.Context())),
	)

	writeJSON(w, http.StatusOK, h.describePage(r.Context(), pageID, req.TenantID))
}

// GetPage handles GET /api/v1/pages/{pageID}
func (h *AdminHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageID")
	if err := middleware.ValidateChannelID(pageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tenantID, err := h.pages.Mapping(r.Context(), pageID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "page not mapped")
		return
	}
	if err != nil {
		h.logger.Error("failed to read page mapping", zap.String("page_id", pageID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read page mapping")
		return
	}
	if !middleware.CanAccessTenant(r.Context(), tenantID) {
		writeError(w, http.StatusNotFound, "page not mapped")
		return
	}

	writeJSON(w, http.StatusOK, h.describePage(r.Context(), pageID, tenantID))
}

func (h *AdminHandler) describePage(ctx context.Context, pageID, tenantID string) PageResponse {
	token, err := h.pages.PageToken(ctx, pageID)
	return PageResponse{
		PageID:   pageID,
		TenantID: tenantID,
		HasToken: err == nil && token != "",
	}
}

// GetSession handles GET /api/v1/sessions/{tenantID}/{senderID}
func (h *AdminHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	tenantID, senderID, ok := h.sessionParams(w, r)
	if !ok {
		return
	}

	sess, err := h.sessions.Session(r.Context(), tenantID, senderID)
	if err != nil {
		h.logger.Error("failed to read session", zap.String("tenant_id", tenantID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// DeleteSession handles DELETE /api/v1/sessions/{tenantID}/{senderID}
func (h *AdminHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	tenantID, senderID, ok := h.sessionParams(w, r)
	if !ok {
		return
	}

	if err := h.sessions.ResetSession(r.Context(), tenantID, senderID); err != nil {
		if errors.Is(err, store.ErrLocked) {
			writeError(w, http.StatusConflict, "conversation is busy, try again")
			return
		}
		h.logger.Error("failed to reset session", zap.String("tenant_id", tenantID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) sessionParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	tenantID := chi.URLParam(r, "tenantID")
	senderID := chi.URLParam(r, "senderID")
	if err := middleware.ValidateTenantID(tenantID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	if err := middleware.ValidateSenderID(senderID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	if !middleware.CanAccessTenant(r.Context(), tenantID) {
		writeError(w, http.StatusForbidden, "access denied")
		return "", "", false
	}
	return tenantID, senderID, true
}

// FailedJobs handles GET /api/v1/jobs/failed
func (h *AdminHandler) FailedJobs(w http.ResponseWriter, r *http.Request) {
	h.listJobs(w, r, model.JobFailedExhausted)
}

// CompletedJobs handles GET /api/v1/jobs/completed
func (h *AdminHandler) CompletedJobs(w http.ResponseWriter, r *http.Request) {
	h.listJobs(w, r, model.JobCompleted)
}

func (h *AdminHandler) listJobs(w http.ResponseWriter, r *http.Request, state model.JobState) {
	if h.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job queue not configured")
		return
	}

	records, err := h.jobs.Records(r.Context(), state, queryLimit(r, 50, 1000))
	if err != nil {
		h.logger.Error("failed to list jobs", zap.String("state", string(state)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if records == nil {
		records = []model.JobRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state": state,
		"jobs":  records,
	})
}

// ListLeads handles GET /api/v1/leads/{tenantID}
func (h *AdminHandler) ListLeads(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if err := middleware.ValidateTenantID(tenantID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !middleware.CanAccessTenant(r.Context(), tenantID) {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}
	if h.leads == nil {
		writeError(w, http.StatusServiceUnavailable, "lead storage not configured")
		return
	}

	list, err := h.leads.Recent(r.Context(), tenantID, queryLimit(r, 50, 500))
	if err != nil {
		h.logger.Error("failed to list leads", zap.String("tenant_id", tenantID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list leads")
		return
	}
	if list == nil {
		list = []model.Lead{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"leads": list,
	})
}
