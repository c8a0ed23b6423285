// Package store holds the key-value capability shared by dedup, sessions,
// tenant mappings and sender locks, plus the typed stores built on it.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("store: key not found")
	// ErrLocked is returned when a sender lock could not be acquired in time.
	ErrLocked = errors.New("store: sender locked")
	// ErrLockLost is returned by fenced writes once another holder owns the lock.
	ErrLockLost = errors.New("store: sender lock lost")
)

// KV is the storage capability. Every key is namespaced by the caller; all
// writes with a ttl set the value and its expiry in one operation.
type KV interface {
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	// Set overwrites key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Expire refreshes the ttl of an existing key and reports whether it existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// CompareAndDelete removes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	// CompareAndExpire refreshes the ttl of key only while it still holds value.
	CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// SetIfEqual writes key only while guardKey holds guardValue, atomically.
	SetIfEqual(ctx context.Context, guardKey, guardValue, key, value string, ttl time.Duration) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// dedupKey returns the key marking an accepted event.
func dedupKey(tenantID, senderID, eventID string) string {
	return fmt.Sprintf("dedup:%s:%s:%s", tenantID, senderID, eventID)
}

// sessionKey returns the key holding a serialized session.
func sessionKey(tenantID, senderID string) string {
	return fmt.Sprintf("sess:%s:%s", tenantID, senderID)
}

// pageBotKey returns the key mapping a page to its tenant.
func pageBotKey(channelID string) string {
	return fmt.Sprintf("pagebot:%s", channelID)
}

// pageTokenKey returns the key holding a page access token.
func pageTokenKey(channelID string) string {
	return fmt.Sprintf("pagetoken:%s", channelID)
}

// lockKey returns the key serializing one sender's turns.
func lockKey(tenantID, senderID string) string {
	return fmt.Sprintf("lock:%s:%s", tenantID, senderID)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
