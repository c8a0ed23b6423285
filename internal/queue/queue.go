// Package queue defines the durable job queue used between ingestion and workers.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/capitalize-ai/messenger-pipeline/internal/model"
)

var (
	// ErrQueueFull is returned when the backend refuses a job for capacity reasons.
	ErrQueueFull = errors.New("queue: full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("queue: closed")
)

// Queue carries jobs with at-least-once delivery.
type Queue interface {
	// Enqueue returns once the backend has durably accepted the job.
	Enqueue(ctx context.Context, job *model.Job) error
	// Receive blocks until a job is available or ctx ends.
	Receive(ctx context.Context) (Delivery, error)
	// Records returns up to limit retained terminal jobs in the given state, newest first.
	Records(ctx context.Context, state model.JobState, limit int) ([]model.JobRecord, error)
	Close() error
}

// Delivery is one received job awaiting settlement. Exactly one of Ack,
// Retry or Fail must be called.
type Delivery interface {
	Job() *model.Job
	Ack(ctx context.Context) error
	// Retry schedules redelivery of the job as attempt+1 after delay.
	Retry(ctx context.Context, delay time.Duration) error
	// Fail parks the job as failed-exhausted.
	Fail(ctx context.Context, reason string) error
}

// RetryPolicy bounds attempts and computes exponential backoff between them.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is 3 attempts, 2s base, doubling, capped at one minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: time.Minute}
}

// Delay returns the wait before the attempt that follows a failed attempt.
// It doubles from BaseDelay and never decreases.
func (p RetryPolicy) Delay(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < failedAttempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
