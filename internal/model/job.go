package model

import (
	"time"
)

// JobState is the lifecycle state of a queued job.
type JobState string

const (
	JobCompleted       JobState = "completed"
	JobFailedExhausted JobState = "failed-exhausted"
)

// JobPayload is the serialized body carried by the queue.
type JobPayload struct {
	Event      InboundEvent `json:"event"`
	TenantID   string       `json:"tenantId"`
	EnqueuedAt int64        `json:"enqueuedAt"`
}

// Job is a durable unit of work for one inbound event.
type Job struct {
	ID          string     `json:"id"`
	Payload     JobPayload `json:"payload"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"maxAttempts"`
	EnqueuedAt  time.Time  `json:"enqueuedAt"`
}

// NewJob builds a job for an accepted event.
func NewJob(id, tenantID string, event InboundEvent, maxAttempts int, now time.Time) *Job {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Job{
		ID: id,
		Payload: JobPayload{
			Event:      event,
			TenantID:   tenantID,
			EnqueuedAt: now.UnixMilli(),
		},
		Attempt:     1,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  now,
	}
}

// Exhausted reports whether the current attempt is the last one allowed.
// maxAttempts applies when the job carries no limit of its own.
func (j *Job) Exhausted(maxAttempts int) bool {
	if j.MaxAttempts > 0 {
		maxAttempts = j.MaxAttempts
	}
	return j.Attempt >= maxAttempts
}

// JobRecord is a retained terminal outcome kept for inspection.
type JobRecord struct {
	Job        Job       `json:"job"`
	State      JobState  `json:"state"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finishedAt"`
}
