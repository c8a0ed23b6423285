// Package service holds the ingestion gateway and the conversation engine.
package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger-pipeline/internal/store"
	"github.com/capitalize-ai/messenger-pipeline/pkg/logger"
)

// TenantDirectory looks up page mappings and page access tokens.
type TenantDirectory interface {
	Mapping(ctx context.Context, channelID string) (string, error)
	PageToken(ctx context.Context, channelID string) (string, error)
}

// TenantResolver maps a channel to the tenant whose bot answers it.
type TenantResolver struct {
	directory     TenantDirectory
	defaultTenant string
	defaultToken  string
	logger        *logger.Logger
}

// NewTenantResolver creates a resolver. defaultToken is used for channels
// without a stored page token.
func NewTenantResolver(directory TenantDirectory, defaultTenant, defaultToken string, log *logger.Logger) *TenantResolver {
	return &TenantResolver{
		directory:     directory,
		defaultTenant: defaultTenant,
		defaultToken:  defaultToken,
		logger:        log.Named("tenants"),
	}
}

// DefaultTenant returns the fallback tenant id.
func (r *TenantResolver) DefaultTenant() string {
	return r.defaultTenant
}

// Resolve returns explicitBotID when set, then the stored mapping for
// channelID, then the default tenant. It never fails.
func (r *TenantResolver) Resolve(ctx context.Context, channelID, explicitBotID string) string {
	if id := strings.TrimSpace(explicitBotID); id != "" {
		return id
	}
	if channelID == "" || r.directory == nil {
		return r.defaultTenant
	}

	tenantID, err := r.directory.Mapping(ctx, channelID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("tenant lookup failed, using default",
				zap.String("channel_id", channelID),
				zap.Error(err),
			)
		}
		return r.defaultTenant
	}
	return tenantID
}

// PageToken returns the token used to reply on channelID.
func (r *TenantResolver) PageToken(ctx context.Context, channelID string) string {
	if channelID == "" || r.directory == nil {
		return r.defaultToken
	}
	token, err := r.directory.PageToken(ctx, channelID)
	if err != nil || strings.TrimSpace(token) == "" {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("page token lookup failed, using default",
				zap.String("channel_id", channelID),
				zap.Error(err),
			)
		}
		return r.defaultToken
	}
	return token
}
