package store

import (
	"context"
	"strings"
	"time"
)

// TenantStore holds page→tenant mappings and page access tokens.
type TenantStore struct {
	kv      KV
	timeout time.Duration
}

// NewTenantStore creates a tenant store over kv.
func NewTenantStore(kv KV, timeout time.Duration) *TenantStore {
	return &TenantStore{kv: kv, timeout: timeout}
}

// Mapping returns the tenant mapped to channelID or ErrNotFound.
func (t *TenantStore) Mapping(ctx context.Context, channelID string) (string, error) {
	ctx, cancel := withTimeout(ctx, t.timeout)
	defer cancel()

	tenantID, err := t.kv.Get(ctx, pageBotKey(channelID))
	if err != nil {
		return "", err
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", ErrNotFound
	}
	return tenantID, nil
}

// SetMapping maps channelID to tenantID without expiry.
func (t *TenantStore) SetMapping(ctx context.Context, channelID, tenantID string) error {
	ctx, cancel := withTimeout(ctx, t.timeout)
	defer cancel()

	return t.kv.Set(ctx, pageBotKey(channelID), tenantID, 0)
}

// PageToken returns the access token stored for channelID or ErrNotFound.
func (t *TenantStore) PageToken(ctx context.Context, channelID string) (string, error) {
	ctx, cancel := withTimeout(ctx, t.timeout)
	defer cancel()

	return t.kv.Get(ctx, pageTokenKey(channelID))
}

// SetPageToken stores the access token used to reply on channelID.
func (t *TenantStore) SetPageToken(ctx context.Context, channelID, token string) error {
	ctx, cancel := withTimeout(ctx, t.timeout)
	defer cancel()

	return t.kv.Set(ctx, pageTokenKey(channelID), token, 0)
}
