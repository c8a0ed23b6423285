package store

import (
	"context"
	"strings"
	"time"
)

// DedupStore suppresses repeated deliveries of the same platform event.
type DedupStore struct {
	kv      KV
	timeout time.Duration
}

// NewDedupStore creates a dedup store over kv. Each call is bounded by timeout.
func NewDedupStore(kv KV, timeout time.Duration) *DedupStore {
	return &DedupStore{kv: kv, timeout: timeout}
}

// Accept reports true the first time (tenantID, senderID, eventID) is seen
// inside ttl and records it in the same atomic SET NX. Events without an id
// are always accepted.
func (d *DedupStore) Accept(ctx context.Context, tenantID, senderID, eventID string, ttl time.Duration) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return true, nil
	}

	ctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	return d.kv.SetNX(ctx, dedupKey(tenantID, senderID, eventID), "1", ttl)
}

// Release forgets eventID so a redelivery of the same event is accepted
// again. Used when an accepted event could not be handed to the queue.
func (d *DedupStore) Release(ctx context.Context, tenantID, senderID, eventID string) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil
	}

	ctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	return d.kv.Delete(ctx, dedupKey(tenantID, senderID, eventID))
}
