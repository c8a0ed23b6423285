package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger-pipeline/internal/model"
	"github.com/capitalize-ai/messenger-pipeline/pkg/logger"
)

// SessionStore persists conversation sessions as JSON under sess:{tenant}:{sender}.
type SessionStore struct {
	kv      KV
	ttl     time.Duration
	timeout time.Duration
	logger  *logger.Logger
	now     func() time.Time
}

// NewSessionStore creates a session store. ttl is used when a caller passes a non-positive ttl.
func NewSessionStore(kv KV, ttl, timeout time.Duration, log *logger.Logger) *SessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{
		kv:      kv,
		ttl:     ttl,
		timeout: timeout,
		logger:  log,
		now:     time.Now,
	}
}

func (s *SessionStore) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.ttl
	}
	return ttl
}

// Get loads a session. Missing and unparseable sessions both return (nil, nil).
func (s *SessionStore) Get(ctx context.Context, tenantID, senderID string) (*model.Session, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.kv.Get(ctx, sessionKey(tenantID, senderID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		s.logger.Warn("discarding unparseable session",
			zap.String("tenant_id", tenantID),
			zap.String("sender_id", senderID),
			zap.Error(err),
		)
		return nil, nil
	}
	if sess.Data == nil {
		sess.Data = map[string]string{}
	}
	sess.TenantID = tenantID
	sess.SenderID = senderID

	return &sess, nil
}

// GetOrCreate loads a session or persists a fresh one. created reports which
// happened. Creation uses SET NX so two first turns never both start a session.
func (s *SessionStore) GetOrCreate(ctx context.Context, tenantID, senderID, traceID string, ttl time.Duration) (*model.Session, bool, error) {
	sess, err := s.Get(ctx, tenantID, senderID)
	if err != nil {
		return nil, false, err
	}
	if sess != nil {
		return sess, false, nil
	}

	sess = model.NewSession(tenantID, senderID, traceID, s.now())
	data, err := s.encode(sess)
	if err != nil {
		return nil, false, err
	}

	opCtx, cancel := withTimeout(ctx, s.timeout)
	created, err := s.kv.SetNX(opCtx, sessionKey(tenantID, senderID), data, s.ttlOrDefault(ttl))
	cancel()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}
	if created {
		return sess, true, nil
	}

	existing, err := s.Get(ctx, tenantID, senderID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	// the key holds something unparseable: replace it
	if err := s.Set(ctx, sess, ttl); err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

func (s *SessionStore) encode(sess *model.Session) (string, error) {
	sess.UpdatedAt = s.now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}
	return string(data), nil
}

// Set stamps UpdatedAt and writes the session together with its ttl.
func (s *SessionStore) Set(ctx context.Context, sess *model.Session, ttl time.Duration) error {
	data, err := s.encode(sess)
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.kv.Set(ctx, sessionKey(sess.TenantID, sess.SenderID), data, s.ttlOrDefault(ttl)); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// SetFenced writes the session only while fence still names the current lock
// holder. It returns ErrLockLost otherwise and leaves the stored session as is.
func (s *SessionStore) SetFenced(ctx context.Context, sess *model.Session, ttl time.Duration, fence Fence) error {
	data, err := s.encode(sess)
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	ok, err := s.kv.SetIfEqual(ctx, fence.Key, fence.Token, sessionKey(sess.TenantID, sess.SenderID), data, s.ttlOrDefault(ttl))
	if err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockLost, fence.Key)
	}
	return nil
}

// Touch refreshes the ttl of an existing session without rewriting it.
func (s *SessionStore) Touch(ctx context.Context, tenantID, senderID string, ttl time.Duration) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	return s.kv.Expire(ctx, sessionKey(tenantID, senderID), s.ttlOrDefault(ttl))
}

// Delete clears a session.
func (s *SessionStore) Delete(ctx context.Context, tenantID, senderID string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	return s.kv.Delete(ctx, sessionKey(tenantID, senderID))
}
