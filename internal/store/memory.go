package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryKV is the process-local KV used when no Redis is configured.
// Its contents live as long as the process.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryKV creates an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for expiry.
func (s *MemoryKV) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryKV) lookupLocked(key string) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if entry.expired(s.now()) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (s *MemoryKV) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// SetNX stores value with ttl only when key is absent.
func (s *MemoryKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookupLocked(key); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{value: value, expiresAt: s.expiry(ttl)}
	return true, nil
}

// Get returns the value of key or ErrNotFound.
func (s *MemoryKV) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lookupLocked(key)
	if !ok {
		return "", ErrNotFound
	}
	return entry.value, nil
}

// Set overwrites key.
func (s *MemoryKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: value, expiresAt: s.expiry(ttl)}
	return nil
}

// Expire refreshes the ttl of key.
func (s *MemoryKV) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lookupLocked(key)
	if !ok {
		return false, nil
	}
	entry.expiresAt = s.expiry(ttl)
	s.entries[key] = entry
	return true, nil
}

// Delete removes key.
func (s *MemoryKV) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// CompareAndDelete removes key while it still holds value.
func (s *MemoryKV) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lookupLocked(key)
	if !ok || entry.value != value {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// CompareAndExpire refreshes the ttl of key while it still holds value.
func (s *MemoryKV) CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lookupLocked(key)
	if !ok || entry.value != value {
		return false, nil
	}
	entry.expiresAt = s.expiry(ttl)
	s.entries[key] = entry
	return true, nil
}

// SetIfEqual writes key while guardKey holds guardValue.
func (s *MemoryKV) SetIfEqual(ctx context.Context, guardKey, guardValue, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	guard, ok := s.lookupLocked(guardKey)
	if !ok || guard.value != guardValue {
		return false, nil
	}
	s.entries[key] = memoryEntry{value: value, expiresAt: s.expiry(ttl)}
	return true, nil
}

// Ping always succeeds.
func (s *MemoryKV) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *MemoryKV) Close() error {
	return nil
}
