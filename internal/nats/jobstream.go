package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger-pipeline/internal/model"
	"github.com/capitalize-ai/messenger-pipeline/internal/queue"
	"github.com/capitalize-ai/messenger-pipeline/pkg/metrics"
)

const (
	// JobsStreamName is the work-queue stream holding pending inbound jobs.
	JobsStreamName = "INBOUND_JOBS"

	// ResultsStreamName retains terminal job outcomes for inspection.
	ResultsStreamName = "JOB_RESULTS"

	// JobsSubjectPrefix is the prefix for job subjects, one token per tenant.
	JobsSubjectPrefix = "jobs.inbound"

	// ResultsSubjectPrefix is the prefix for job outcome subjects.
	ResultsSubjectPrefix = "jobs.result"

	// ConsumerName is the durable consumer shared by all workers.
	ConsumerName = "conversation-workers"
)

// JobStreamConfig tunes the job stream.
type JobStreamConfig struct {
	// Retention bounds how many completed and failed records are kept, per state.
	Retention int
	// AckWait is how long a delivery may stay unsettled before redelivery.
	AckWait time.Duration
	// FetchWait bounds a single pull request.
	FetchWait time.Duration
	// MaxAge drops pending jobs that were never processed.
	MaxAge time.Duration
	Replicas int
}

func (c JobStreamConfig) withDefaults() JobStreamConfig {
	if c.Retention <= 0 {
		c.Retention = 1000
	}
	if c.AckWait <= 0 {
		c.AckWait = time.Minute
	}
	if c.FetchWait <= 0 {
		c.FetchWait = 5 * time.Second
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 7 * 24 * time.Hour
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// JobStream is the JetStream implementation of queue.Queue.
type JobStream struct {
	client *Client
	cfg    JobStreamConfig

	mu       sync.Mutex
	consumer jetstream.Consumer
}

var _ queue.Queue = (*JobStream)(nil)

// NewJobStream creates a job stream over client. Call EnsureStreams before use.
func NewJobStream(client *Client, cfg JobStreamConfig) *JobStream {
	return &JobStream{client: client, cfg: cfg.withDefaults()}
}

// EnsureStreams creates the job and result streams and the worker consumer if missing.
func (s *JobStream) EnsureStreams(ctx context.Context) error {
	js := s.client.JetStream()

	if _, err := js.Stream(ctx, JobsStreamName); err != nil {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        JobsStreamName,
			Subjects:    []string{JobsSubjectPrefix + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      s.cfg.MaxAge,
			Storage:     jetstream.FileStorage,
			Replicas:    s.cfg.Replicas,
			Duplicates:  2 * time.Minute,
			Description: "Inbound messaging events awaiting conversation processing",
		})
		if err != nil {
			return fmt.Errorf("failed to create jobs stream: %w", err)
		}
	}

	if _, err := js.Stream(ctx, ResultsStreamName); err != nil {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:              ResultsStreamName,
			Subjects:          []string{ResultsSubjectPrefix + ".>"},
			Retention:         jetstream.LimitsPolicy,
			MaxMsgsPerSubject: int64(s.cfg.Retention),
			Storage:           jetstream.FileStorage,
			Replicas:          s.cfg.Replicas,
			Description:       "Completed and failed-exhausted job records",
		})
		if err != nil {
			return fmt.Errorf("failed to create results stream: %w", err)
		}
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, JobsStreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: JobsSubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       s.cfg.AckWait,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxAckPending: 1000,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker consumer: %w", err)
	}

	s.mu.Lock()
	s.consumer = consumer
	s.mu.Unlock()

	return nil
}

// JobSubject returns the subject for a tenant's jobs.
func JobSubject(tenantID string) string {
	return fmt.Sprintf("%s.%s", JobsSubjectPrefix, subjectToken(tenantID))
}

// ResultSubject returns the subject for records in state.
func ResultSubject(state model.JobState) string {
	return fmt.Sprintf("%s.%s", ResultsSubjectPrefix, state)
}

func subjectToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, v)
}

// Enqueue publishes job and waits for the stream ack. The job id doubles as
// the JetStream message id so publisher retries inside the duplicate window are dropped.
func (s *JobStream) Enqueue(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if _, err := s.client.JetStream().Publish(ctx, JobSubject(job.Payload.TenantID), data, jetstream.WithMsgID(job.ID)); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

// Receive pulls the next job. The delivery count becomes the job attempt.
func (s *JobStream) Receive(ctx context.Context) (queue.Delivery, error) {
	s.mu.Lock()
	consumer := s.consumer
	s.mu.Unlock()
	if consumer == nil {
		return nil, errors.New("job stream not initialized")
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := consumer.Next(jetstream.FetchMaxWait(s.cfg.FetchWait))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			return nil, fmt.Errorf("failed to fetch job: %w", err)
		}

		var job model.Job
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			s.parkUndecodable(ctx, msg, err)
			continue
		}

		if meta, err := msg.Metadata(); err == nil {
			job.Attempt = int(meta.NumDelivered)
		}
		if job.Attempt <= 0 {
			job.Attempt = 1
		}

		return &jsDelivery{stream: s, msg: msg, job: &job}, nil
	}
}

// Records reads retained outcomes in state, newest first.
func (s *JobStream) Records(ctx context.Context, state model.JobState, limit int) ([]model.JobRecord, error) {
	if limit <= 0 || limit > s.cfg.Retention {
		limit = s.cfg.Retention
	}

	consumer, err := s.client.JetStream().CreateConsumer(ctx, ResultsStreamName, jetstream.ConsumerConfig{
		FilterSubject:     ResultSubject(state),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create records consumer: %w", err)
	}

	batch, err := consumer.Fetch(s.cfg.Retention, jetstream.FetchMaxWait(time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}

	var records []model.JobRecord
	for msg := range batch.Messages() {
		var rec model.JobRecord
		if err := json.Unmarshal(msg.Data(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("batch error: %w", err)
	}

	out := make([]model.JobRecord, 0, limit)
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

// Observe samples stream and consumer depth into the NATS gauges.
func (s *JobStream) Observe(ctx context.Context) error {
	stream, err := s.client.JetStream().Stream(ctx, JobsStreamName)
	if err != nil {
		return fmt.Errorf("failed to get jobs stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	metrics.NATSStreamMessages.WithLabelValues(JobsStreamName).Set(float64(info.State.Msgs))

	s.mu.Lock()
	consumer := s.consumer
	s.mu.Unlock()
	if consumer == nil {
		return nil
	}
	cinfo, err := consumer.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	metrics.NATSConsumerPending.WithLabelValues(JobsStreamName, ConsumerName).Set(float64(cinfo.NumPending))
	return nil
}

// Close is a no-op; the connection is owned by Client.
func (s *JobStream) Close() error {
	return nil
}

// undecodableSample bounds how much of a bad payload is kept in its record.
const undecodableSample = 256

// parkUndecodable writes a failed record for a message that can never be
// processed, then terminates it. If the record cannot be written the message
// stays on the stream for a later attempt.
func (s *JobStream) parkUndecodable(ctx context.Context, msg jetstream.Msg, decodeErr error) {
	job := model.Job{ID: msg.Headers().Get(nats.MsgIdHdr)}
	if meta, err := msg.Metadata(); err == nil {
		job.Attempt = int(meta.NumDelivered)
		if job.ID == "" {
			job.ID = fmt.Sprintf("stream-seq-%d", meta.Sequence.Stream)
		}
	}
	if tenant, ok := strings.CutPrefix(msg.Subject(), JobsSubjectPrefix+"."); ok {
		job.Payload.TenantID = tenant
	}

	data := msg.Data()
	sample := data
	if len(sample) > undecodableSample {
		sample = sample[:undecodableSample]
	}
	reason := fmt.Sprintf("undecodable job on %s: %v (%d bytes: %q)", msg.Subject(), decodeErr, len(data), sample)

	log := s.client.logger.With(
		zap.String("job_id", job.ID),
		zap.String("subject", msg.Subject()),
		zap.Error(decodeErr),
	)
	if err := s.publishRecord(ctx, &job, model.JobFailedExhausted, reason); err != nil {
		log.Error("failed to record undecodable job, leaving it for redelivery", zap.NamedError("record_error", err))
		_ = msg.NakWithDelay(s.cfg.AckWait)
		return
	}
	metrics.JobsTotal.WithLabelValues("failed").Inc()
	log.Error("undecodable job parked as failed")
	if err := msg.Term(); err != nil {
		log.Warn("failed to terminate undecodable job", zap.NamedError("term_error", err))
	}
}

func (s *JobStream) publishRecord(ctx context.Context, job *model.Job, state model.JobState, reason string) error {
	data, err := json.Marshal(model.JobRecord{
		Job:        *job,
		State:      state,
		Error:      reason,
		FinishedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}
	if _, err := s.client.JetStream().Publish(ctx, ResultSubject(state), data); err != nil {
		return fmt.Errorf("failed to publish job record: %w", err)
	}
	return nil
}

type jsDelivery struct {
	stream *JobStream
	msg    jetstream.Msg
	job    *model.Job
}

func (d *jsDelivery) Job() *model.Job {
	return d.job
}

func (d *jsDelivery) Ack(ctx context.Context) error {
	if err := d.msg.DoubleAck(ctx); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	if err := d.stream.publishRecord(ctx, d.job, model.JobCompleted, ""); err != nil {
		d.stream.client.logger.Warn("failed to record completed job", zap.String("job_id", d.job.ID), zap.Error(err))
	}
	return nil
}

func (d *jsDelivery) Retry(ctx context.Context, delay time.Duration) error {
	if err := d.msg.NakWithDelay(delay); err != nil {
		return fmt.Errorf("failed to nak job: %w", err)
	}
	return nil
}

// Fail records the job before terminating it so a failed record is never lost:
// if the record cannot be written the message is left to redeliver.
func (d *jsDelivery) Fail(ctx context.Context, reason string) error {
	if err := d.stream.publishRecord(ctx, d.job, model.JobFailedExhausted, reason); err != nil {
		return err
	}
	if err := d.msg.Term(); err != nil {
		return fmt.Errorf("failed to terminate job: %w", err)
	}
	return nil
}
