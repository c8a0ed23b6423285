package queue

import (
	"context"
	"sync"
	"time"

	"github.com/capitalize-ai/messenger-pipeline/internal/model"
)

// MemoryQueue is a process-local queue. Jobs do not survive a restart; it
// exists for single-process development and tests.
type MemoryQueue struct {
	ready     chan *model.Job
	retention int

	mu        sync.Mutex
	closed    bool
	timers    map[*time.Timer]struct{}
	completed []model.JobRecord
	failed    []model.JobRecord
	now       func() time.Time
}

// NewMemoryQueue creates a queue holding at most capacity ready jobs and
// retaining the last retention records per terminal state.
func NewMemoryQueue(capacity, retention int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	if retention <= 0 {
		retention = 1000
	}
	return &MemoryQueue{
		ready:     make(chan *model.Job, capacity),
		retention: retention,
		timers:    make(map[*time.Timer]struct{}),
		now:       time.Now,
	}
}

// Enqueue adds a job without blocking.
func (q *MemoryQueue) Enqueue(ctx context.Context, job *model.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	return q.pushLocked(job)
}

func (q *MemoryQueue) pushLocked(job *model.Job) error {
	select {
	case q.ready <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Receive blocks until a job is ready.
func (q *MemoryQueue) Receive(ctx context.Context) (Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job, ok := <-q.ready:
		if !ok {
			return nil, ErrClosed
		}
		return &memoryDelivery{queue: q, job: job}, nil
	}
}

// Records returns retained terminal jobs, newest first.
func (q *MemoryQueue) Records(ctx context.Context, state model.JobState, limit int) ([]model.JobRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var src []model.JobRecord
	switch state {
	case model.JobCompleted:
		src = q.completed
	case model.JobFailedExhausted:
		src = q.failed
	default:
		return nil, nil
	}
	if limit <= 0 || limit > len(src) {
		limit = len(src)
	}
	out := make([]model.JobRecord, 0, limit)
	for i := len(src) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, src[i])
	}
	return out, nil
}

// Depth returns the number of ready jobs.
func (q *MemoryQueue) Depth() int {
	return len(q.ready)
}

// Close stops pending retries and rejects further enqueues.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = nil
	return nil
}

func (q *MemoryQueue) record(job *model.Job, state model.JobState, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec := model.JobRecord{Job: *job, State: state, Error: reason, FinishedAt: q.now()}
	switch state {
	case model.JobCompleted:
		q.completed = appendBounded(q.completed, rec, q.retention)
	case model.JobFailedExhausted:
		q.failed = appendBounded(q.failed, rec, q.retention)
	}
}

func (q *MemoryQueue) scheduleRetry(job *model.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	next := *job
	next.Attempt++

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			return
		}
		delete(q.timers, timer)
		if err := q.pushLocked(&next); err != nil {
			q.failed = appendBounded(q.failed, model.JobRecord{
				Job:        next,
				State:      model.JobFailedExhausted,
				Error:      "requeue refused: " + err.Error(),
				FinishedAt: q.now(),
			}, q.retention)
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

func appendBounded(records []model.JobRecord, rec model.JobRecord, limit int) []model.JobRecord {
	records = append(records, rec)
	if len(records) > limit {
		records = append([]model.JobRecord(nil), records[len(records)-limit:]...)
	}
	return records
}

type memoryDelivery struct {
	queue *MemoryQueue
	job   *model.Job
}

func (d *memoryDelivery) Job() *model.Job {
	return d.job
}

func (d *memoryDelivery) Ack(ctx context.Context) error {
	d.queue.record(d.job, model.JobCompleted, "")
	return nil
}

func (d *memoryDelivery) Retry(ctx context.Context, delay time.Duration) error {
	return d.queue.scheduleRetry(d.job, delay)
}

func (d *memoryDelivery) Fail(ctx context.Context, reason string) error {
	d.queue.record(d.job, model.JobFailedExhausted, reason)
	return nil
}
