package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/capitalize-ai/messenger-pipeline/internal/config"
	"github.com/capitalize-ai/messenger-pipeline/internal/model"
	"github.com/capitalize-ai/messenger-pipeline/pkg/logger"
)

type graphRecorder struct {
	mu    sync.Mutex
	texts []string
	got   chan struct{}
}

func newGraphServer(t *testing.T) (*httptest.Server, *graphRecorder) {
	t.Helper()
	rec := &graphRecorder{got: make(chan struct{}, 16)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Recipient struct {
				ID string `json:"id"`
			} `json:"recipient"`
			Message *struct {
				Text string `json:"text"`
			} `json:"message"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Message != nil && body.Recipient.ID == "u1" {
			rec.mu.Lock()
			rec.texts = append(rec.texts, body.Message.Text)
			rec.mu.Unlock()
			rec.got <- struct{}{}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message_id":"m"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func testConfig(graphURL string) *config.Config {
	return &config.Config{
		Env:               "development",
		StoreTimeout:      time.Second,
		QueueBackend:      config.QueueMemory,
		QueueCapacity:     16,
		JobRetention:      16,
		WorkerConcurrency: 2,
		JobMaxAttempts:    3,
		JobBackoffBase:    10 * time.Millisecond,
		JobBackoffMax:     50 * time.Millisecond,
		JobTimeout:        5 * time.Second,
		DefaultTenantID:   "default",
		SessionTTL:        time.Hour,
		DedupTTL:          time.Minute,
		LockTTL:           10 * time.Second,
		LockWait:          time.Second,
		Currency:          "جنيه",
		PageAccessToken:   "page-token",
		GraphBaseURL:      graphURL,
		GraphAPIVersion:   "v20.0",
		SendTimeout:       time.Second,
		LeadTimeout:       time.Second,
	}
}

func TestAppProcessesInboundMessage(t *testing.T) {
	srv, graph := newGraphServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, testConfig(srv.URL), logger.NewNop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	pool, err := a.NewWorkerPool()
	if err != nil {
		t.Fatalf("worker pool: %v", err)
	}
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	ev := model.NewInboundEvent("111", "u1", "m.1", "السلام عليكم", false, time.Now())
	if !a.Ingest.Ingest(ctx, ev) {
		t.Fatalf("expected event to be queued")
	}

	select {
	case <-graph.got:
	case <-time.After(3 * time.Second):
		t.Fatalf("no reply delivered")
	}

	sess, err := a.Sessions.Get(ctx, "default", "u1")
	if err != nil || sess == nil {
		t.Fatalf("expected stored session, got %v %v", sess, err)
	}
	if sess.CurrentStep() != model.StepService {
		t.Fatalf("expected SERVICE step, got %s", sess.CurrentStep())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("worker pool did not stop")
	}
}

func TestAppWithoutQueue(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")
	cfg.QueueBackend = config.QueueNATS
	cfg.NATSURL = ""

	a, err := New(context.Background(), cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	if a.Queue != nil || a.Ingest.Enabled() {
		t.Fatalf("expected degraded mode without a queue")
	}
	if _, err := a.NewWorkerPool(); err == nil {
		t.Fatalf("expected worker pool to require a queue")
	}
	ev := model.NewInboundEvent("111", "u1", "m.1", "hello", false, time.Now())
	if a.Ingest.Ingest(context.Background(), ev) {
		t.Fatalf("expected event to be dropped")
	}
}

func TestAppRejectsMissingCatalog(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")
	cfg.CatalogFile = "/nonexistent/catalog.yaml"

	if _, err := New(context.Background(), cfg, logger.NewNop()); err == nil {
		t.Fatalf("expected missing catalog to fail startup")
	}
}

func TestAppRejectsLockShorterThanJob(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")
	cfg.LockTTL = cfg.JobTimeout / 2

	if _, err := New(context.Background(), cfg, logger.NewNop()); err == nil || !strings.Contains(err.Error(), "LOCK_TTL") {
		t.Fatalf("expected startup to refuse a lock ttl shorter than the job timeout, got %v", err)
	}
}
