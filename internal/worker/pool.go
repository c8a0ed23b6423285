// Package worker runs the concurrent consumers that drain the job queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger-pipeline/internal/model"
	"github.com/capitalize-ai/messenger-pipeline/internal/queue"
	"github.com/capitalize-ai/messenger-pipeline/pkg/logger"
	"github.com/capitalize-ai/messenger-pipeline/pkg/metrics"
)

// Handler processes one job. A returned error is treated as transient.
type Handler interface {
	HandleJob(ctx context.Context, job *model.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *model.Job) error

func (f HandlerFunc) HandleJob(ctx context.Context, job *model.Job) error {
	return f(ctx, job)
}

// Options configures a Pool.
type Options struct {
	Concurrency int
	Policy      queue.RetryPolicy
	JobTimeout  time.Duration
	// SettleTimeout bounds Ack/Retry/Fail calls, which run even during shutdown.
	SettleTimeout time.Duration
	// ReceiveBackoff is the pause after a failed Receive.
	ReceiveBackoff time.Duration
}

// Pool is a fixed set of goroutines each processing one job at a time.
type Pool struct {
	queue   queue.Queue
	handler Handler
	opts    Options
	logger  *logger.Logger
}

// NewPool creates a worker pool.
func NewPool(q queue.Queue, h Handler, opts Options, log *logger.Logger) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = queue.DefaultRetryPolicy()
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 45 * time.Second
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 10 * time.Second
	}
	if opts.ReceiveBackoff <= 0 {
		opts.ReceiveBackoff = time.Second
	}
	return &Pool{
		queue:   q,
		handler: h,
		opts:    opts,
		logger:  log.Named("worker"),
	}
}

// Run blocks until ctx is cancelled and every in-flight job has settled.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("worker pool started", zap.Int("concurrency", p.opts.Concurrency))

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()

	p.logger.Info("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, id int) {
	log := p.logger.With(zap.Int("worker", id))
	for {
		d, err := p.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			log.Warn("receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.opts.ReceiveBackoff):
			}
			continue
		}
		p.process(ctx, d, log)
	}
}

func (p *Pool) process(ctx context.Context, d queue.Delivery, log *logger.Logger) {
	job := d.Job()

	log = log.With(
		zap.String("job_id", job.ID),
		zap.String("tenant_id", job.Payload.TenantID),
		zap.Int("attempt", job.Attempt),
	)

	start := time.Now()
	err := p.run(ctx, job)
	elapsed := time.Since(start).Seconds()

	settleCtx, cancel := context.WithTimeout(context.Background(), p.opts.SettleTimeout)
	defer cancel()

	switch {
	case err == nil:
		metrics.RecordJob("completed", elapsed)
		if ackErr := d.Ack(settleCtx); ackErr != nil {
			log.Error("failed to ack job", zap.Error(ackErr))
		}
	case job.Exhausted(p.opts.Policy.MaxAttempts):
		metrics.RecordJob("failed", elapsed)
		log.Error("job failed, attempts exhausted", zap.Error(err))
		if failErr := d.Fail(settleCtx, err.Error()); failErr != nil {
			log.Error("failed to park job", zap.Error(failErr))
		}
	default:
		delay := p.opts.Policy.Delay(job.Attempt)
		metrics.RecordJob("retried", elapsed)
		metrics.JobRetryDelay.Observe(delay.Seconds())
		log.Warn("job failed, retrying", zap.Duration("delay", delay), zap.Error(err))
		if retryErr := d.Retry(settleCtx, delay); retryErr != nil {
			log.Error("failed to schedule retry", zap.Error(retryErr))
		}
	}
}

func (p *Pool) run(ctx context.Context, job *model.Job) (err error) {
	jobCtx, cancel := context.WithTimeout(ctx, p.opts.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()

	return p.handler.HandleJob(jobCtx, job)
}
