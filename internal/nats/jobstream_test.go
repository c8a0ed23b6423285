package nats

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go/jetstream"
	natstest "github.com/nats-io/nats-server/v2/test"

	"github.com/capitalize-ai/messenger-pipeline/internal/model"
	"github.com/capitalize-ai/messenger-pipeline/pkg/logger"
)

func runJetStream(t *testing.T) *server.Server {
	t.Helper()
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := natstest.RunServer(&opts)
	t.Cleanup(srv.Shutdown)
	return srv
}

func newTestJobStream(t *testing.T, retention int) *JobStream {
	t.Helper()
	srv := runJetStream(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Connect(ctx, Config{URL: srv.ClientURL(), Name: "jobstream-test"}, logger.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	stream := NewJobStream(client, JobStreamConfig{
		Retention: retention,
		AckWait:   5 * time.Second,
		FetchWait: 200 * time.Millisecond,
	})
	if err := stream.EnsureStreams(ctx); err != nil {
		t.Fatalf("ensure streams: %v", err)
	}
	return stream
}

func testJob(id, tenant string) *model.Job {
	ev := model.NewInboundEvent("page-1", "psid-1", "mid."+id, "hello", false, time.Now())
	return model.NewJob(id, tenant, ev, 3, time.Now())
}

func TestJobStream_EnqueueReceiveAck(t *testing.T) {
	stream := newTestJobStream(t, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := stream.Enqueue(ctx, testJob("job-1", "acme")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	d, err := stream.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if d.Job().ID != "job-1" || d.Job().Attempt != 1 {
		t.Fatalf("unexpected job %+v", d.Job())
	}
	if d.Job().Payload.TenantID != "acme" || d.Job().Payload.Event.Text != "hello" {
		t.Fatalf("payload not preserved: %+v", d.Job().Payload)
	}
	if err := d.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}

	records, err := stream.Records(ctx, model.JobCompleted, 10)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 1 || records[0].Job.ID != "job-1" {
		t.Fatalf("expected completed record for job-1, got %+v", records)
	}
}

func TestJobStream_DuplicatePublishIsDropped(t *testing.T) {
	stream := newTestJobStream(t, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		if err := stream.Enqueue(ctx, testJob("job-dup", "acme")); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	info, err := stream.client.JetStream().Stream(ctx, JobsStreamName)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got := info.CachedInfo().State.Msgs; got != 1 {
		t.Fatalf("expected 1 stored job, got %d", got)
	}
}

func TestJobStream_RetryRedeliversWithNextAttempt(t *testing.T) {
	stream := newTestJobStream(t, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := stream.Enqueue(ctx, testJob("job-retry", "acme")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := stream.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := first.Retry(ctx, 50*time.Millisecond); err != nil {
		t.Fatalf("retry: %v", err)
	}

	second, err := stream.Receive(ctx)
	if err != nil {
		t.Fatalf("receive after retry: %v", err)
	}
	if second.Job().ID != "job-retry" || second.Job().Attempt != 2 {
		t.Fatalf("expected attempt 2 of job-retry, got %+v", second.Job())
	}
	if err := second.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestJobStream_FailParksRecordNewestFirst(t *testing.T) {
	stream := newTestJobStream(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		if err := stream.Enqueue(ctx, testJob(id, "acme")); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
		d, err := stream.Receive(ctx)
		if err != nil {
			t.Fatalf("receive %s: %v", id, err)
		}
		if err := d.Fail(ctx, "boom"); err != nil {
			t.Fatalf("fail %s: %v", id, err)
		}
	}

	records, err := stream.Records(ctx, model.JobFailedExhausted, 10)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected retention of 2 records, got %d", len(records))
	}
	if records[0].Job.ID != "c" || records[1].Job.ID != "b" {
		t.Fatalf("expected [c b], got [%s %s]", records[0].Job.ID, records[1].Job.ID)
	}
	if records[0].Error != "boom" || records[0].State != model.JobFailedExhausted {
		t.Fatalf("unexpected record %+v", records[0])
	}
}

func TestJobStream_UndecodableJobIsParked(t *testing.T) {
	stream := newTestJobStream(t, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := stream.client.JetStream().Publish(ctx, JobSubject("acme"), []byte(`{"id":`), jetstream.WithMsgID("raw-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := stream.Enqueue(ctx, testJob("job-2", "acme")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	d, err := stream.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if d.Job().ID != "job-2" {
		t.Fatalf("expected the decodable job to be delivered, got %q", d.Job().ID)
	}
	if err := d.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}

	records, err := stream.Records(ctx, model.JobFailedExhausted, 10)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected the undecodable job to be recorded, got %d records", len(records))
	}
	rec := records[0]
	if rec.Job.ID != "raw-1" || rec.Job.Payload.TenantID != "acme" {
		t.Fatalf("unexpected record job %+v", rec.Job)
	}
	if !strings.Contains(rec.Error, "undecodable") || !strings.Contains(rec.Error, `{\"id\":`) {
		t.Fatalf("expected the decode error and payload sample, got %q", rec.Error)
	}
}

func TestJobStream_ReceiveHonoursContext(t *testing.T) {
	stream := newTestJobStream(t, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if _, err := stream.Receive(ctx); err == nil {
		t.Fatal("expected error from empty stream after context deadline")
	}
}

func TestJobSubject_SanitisesTenant(t *testing.T) {
	cases := map[string]string{
		"acme":     "jobs.inbound.acme",
		"a.b":      "jobs.inbound.a_b",
		"x*y>z":    "jobs.inbound.x_y_z",
		"":         "jobs.inbound._",
		" shop 1 ": "jobs.inbound.shop_1",
	}
	for in, want := range cases {
		if got := JobSubject(in); got != want {
			t.Fatalf("JobSubject(%q) = %q, want %q", in, got, want)
		}
	}
}
