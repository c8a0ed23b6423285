package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Fence identifies one holding of a sender lock. Writes guarded by a fence
// only land while that holding is still current.
type Fence struct {
	Key   string
	Token string
}

// Locker serializes turns of one sender across worker processes with a
// token-guarded SET NX lock that expires on its own if the holder dies.
type Locker struct {
	kv      KV
	ttl     time.Duration
	wait    time.Duration
	timeout time.Duration
}

// NewLocker creates a locker. ttl bounds how long a crashed holder blocks the
// sender; wait bounds how long Acquire polls before returning ErrLocked. A
// live holder renews the lock every ttl/3 until it releases it.
func NewLocker(kv KV, ttl, wait, timeout time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Locker{kv: kv, ttl: ttl, wait: wait, timeout: timeout}
}

// Lock is a held sender lock.
type Lock struct {
	locker *Locker
	fence  Fence

	ctx    context.Context
	cancel context.CancelFunc

	stop chan struct{}
	done chan struct{}
	lost chan struct{}
	once sync.Once
}

// Acquire blocks until the sender lock is held, the wait window elapses
// (ErrLocked) or ctx ends.
func (l *Locker) Acquire(ctx context.Context, tenantID, senderID string) (*Lock, error) {
	key := lockKey(tenantID, senderID)
	token := uuid.NewString()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = l.wait
	if l.wait <= 0 {
		policy.MaxElapsedTime = time.Nanosecond
	}

	attempt := func() error {
		opCtx, cancel := withTimeout(ctx, l.timeout)
		defer cancel()
		ok, err := l.kv.SetNX(opCtx, key, token, l.ttl)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to acquire sender lock: %w", err))
		}
		if !ok {
			return ErrLocked
		}
		return nil
	}

	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, key)
		}
		return nil, err
	}

	lockCtx, cancel := context.WithCancel(ctx)
	lock := &Lock{
		locker: l,
		fence:  Fence{Key: key, Token: token},
		ctx:    lockCtx,
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		lost:   make(chan struct{}),
	}
	go lock.renew(l.ttl / 3)
	return lock, nil
}

// Context is cancelled when the lock is released or lost.
func (l *Lock) Context() context.Context { return l.ctx }

// Fence returns the guard for writes that must only land while the lock is held.
func (l *Lock) Fence() Fence { return l.fence }

// Lost is closed once renewal finds another holder on the key.
func (l *Lock) Lost() <-chan struct{} { return l.lost }

// Release stops renewal and deletes the key if this holding still owns it.
// It is safe to call more than once.
func (l *Lock) Release() error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		l.cancel()

		ctx, cancel := withTimeout(context.Background(), l.locker.timeout)
		defer cancel()
		_, err = l.locker.kv.CompareAndDelete(ctx, l.fence.Key, l.fence.Token)
	})
	return err
}

func (l *Lock) renew(interval time.Duration) {
	defer close(l.done)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := withTimeout(context.Background(), l.locker.timeout)
			held, err := l.locker.kv.CompareAndExpire(ctx, l.fence.Key, l.fence.Token, l.locker.ttl)
			cancel()
			if err != nil {
				// transient store error: try again on the next tick
				continue
			}
			if !held {
				close(l.lost)
				l.cancel()
				return
			}
		}
	}
}
