package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/capitalize-ai/messenger-pipeline/internal/model"
	"github.com/capitalize-ai/messenger-pipeline/pkg/logger"
)

func TestSessionGetOrCreatePersistsFreshSession(t *testing.T) {
	ctx := context.Background()
	sessions := NewSessionStore(NewMemoryKV(), time.Hour, time.Second, logger.NewNop())

	sess, created, err := sessions.GetOrCreate(ctx, "tenant-a", "user-1", "trace-1", 0)
	if err != nil {
		t.Fatalf("get or create failed: %v", err)
	}
	if !created {
		t.Fatalf("expected a new session")
	}
	if sess.CurrentStep() != model.StepStart {
		t.Fatalf("expected START, got %s", sess.CurrentStep())
	}

	again, created, err := sessions.GetOrCreate(ctx, "tenant-a", "user-1", "trace-2", 0)
	if err != nil {
		t.Fatalf("second get or create failed: %v", err)
	}
	if created {
		t.Fatalf("expected the stored session to be reused")
	}
	if again.TraceID != "trace-1" {
		t.Fatalf("expected original trace id, got %q", again.TraceID)
	}
}

func TestSessionSetRoundTripsStepAndData(t *testing.T) {
	ctx := context.Background()
	sessions := NewSessionStore(NewMemoryKV(), time.Hour, time.Second, logger.NewNop())

	sess := model.NewSession("tenant-a", "user-1", "trace-1", time.Now().Add(-time.Minute))
	sess.SetStep(model.StepName)
	sess.Capture(model.FieldService, "تيشيرت")
	before := sess.UpdatedAt

	if err := sessions.Set(ctx, sess, 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if !sess.UpdatedAt.After(before) {
		t.Fatalf("expected set to refresh updatedAt")
	}

	loaded, err := sessions.Get(ctx, "tenant-a", "user-1")
	if err != nil || loaded == nil {
		t.Fatalf("expected stored session, got %v err=%v", loaded, err)
	}
	if loaded.CurrentStep() != model.StepName {
		t.Fatalf("expected NAME, got %s", loaded.CurrentStep())
	}
	if loaded.Field(model.FieldService) != "تيشيرت" {
		t.Fatalf("expected service to round trip, got %q", loaded.Field(model.FieldService))
	}
}

func TestSessionCorruptDataDegradesToNoSession(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	sessions := NewSessionStore(kv, time.Hour, time.Second, logger.NewNop())

	_ = kv.Set(ctx, sessionKey("tenant-a", "user-1"), "{not json", time.Hour)

	sess, err := sessions.Get(ctx, "tenant-a", "user-1")
	if err != nil {
		t.Fatalf("expected corrupt data to be swallowed, got %v", err)
	}
	if sess != nil {
		t.Fatalf("expected no session for corrupt data")
	}

	fresh, created, err := sessions.GetOrCreate(ctx, "tenant-a", "user-1", "trace", 0)
	if err != nil || !created || fresh.CurrentStep() != model.StepStart {
		t.Fatalf("expected a fresh START session, got %+v created=%v err=%v", fresh, created, err)
	}
}

func TestSessionTouchAndDelete(t *testing.T) {
	ctx := context.Background()
	kv, clock := newMemoryKVWithClock()
	sessions := NewSessionStore(kv, 30*time.Minute, time.Second, logger.NewNop())
	sessions.now = clock.Now

	if _, _, err := sessions.GetOrCreate(ctx, "tenant-a", "user-1", "trace", 0); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	clock.Advance(25 * time.Minute)
	if ok, err := sessions.Touch(ctx, "tenant-a", "user-1", 0); err != nil || !ok {
		t.Fatalf("expected touch to refresh, got ok=%v err=%v", ok, err)
	}
	clock.Advance(25 * time.Minute)
	if sess, _ := sessions.Get(ctx, "tenant-a", "user-1"); sess == nil {
		t.Fatalf("expected touched session to survive")
	}

	if err := sessions.Delete(ctx, "tenant-a", "user-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if sess, _ := sessions.Get(ctx, "tenant-a", "user-1"); sess != nil {
		t.Fatalf("expected session to be cleared")
	}
}

func TestSessionExpiresAfterInactivity(t *testing.T) {
	ctx := context.Background()
	kv, clock := newMemoryKVWithClock()
	sessions := NewSessionStore(kv, 30*time.Minute, time.Second, logger.NewNop())

	if _, _, err := sessions.GetOrCreate(ctx, "tenant-a", "user-1", "trace", 0); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	clock.Advance(31 * time.Minute)
	if sess, _ := sessions.Get(ctx, "tenant-a", "user-1"); sess != nil {
		t.Fatalf("expected session to expire")
	}
}

func TestSessionSetFencedRejectsStaleHolder(t *testing.T) {
	ctx := context.Background()
	kv, clock := newMemoryKVWithClock()
	sessions := NewSessionStore(kv, time.Hour, time.Second, logger.NewNop())
	locker := NewLocker(kv, time.Second, 0, time.Second)

	stale, err := locker.Acquire(ctx, "tenant-a", "user-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer stale.Release()
	slow, _, err := sessions.GetOrCreate(ctx, "tenant-a", "user-1", "trace-1", 0)
	if err != nil {
		t.Fatalf("get or create failed: %v", err)
	}

	clock.Advance(2 * time.Second)
	fresh, err := locker.Acquire(ctx, "tenant-a", "user-1")
	if err != nil {
		t.Fatalf("expected expired lock to be re-acquirable, got %v", err)
	}
	defer fresh.Release()
	current, _, err := sessions.GetOrCreate(ctx, "tenant-a", "user-1", "trace-2", 0)
	if err != nil {
		t.Fatalf("get or create failed: %v", err)
	}
	current.SetStep(model.StepName)
	current.Capture(model.FieldService, "تيشيرت")
	if err := sessions.SetFenced(ctx, current, 0, fresh.Fence()); err != nil {
		t.Fatalf("fenced set by the holder failed: %v", err)
	}

	slow.SetStep(model.StepService)
	if err := sessions.SetFenced(ctx, slow, 0, stale.Fence()); !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected ErrLockLost for the stale holder, got %v", err)
	}

	stored, err := sessions.Get(ctx, "tenant-a", "user-1")
	if err != nil || stored == nil {
		t.Fatalf("expected stored session, got %v err=%v", stored, err)
	}
	if stored.CurrentStep() != model.StepName || stored.Field(model.FieldService) != "تيشيرت" {
		t.Fatalf("expected the holder's write to survive, got %s %q", stored.CurrentStep(), stored.Field(model.FieldService))
	}
}

func TestSessionGetOrCreateKeepsConcurrentCreation(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	sessions := NewSessionStore(kv, time.Hour, time.Second, logger.NewNop())

	winner := model.NewSession("tenant-a", "user-1", "trace-winner", time.Now())
	winner.SetStep(model.StepService)
	if err := sessions.Set(ctx, winner, 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	sess, created, err := sessions.GetOrCreate(ctx, "tenant-a", "user-1", "trace-loser", 0)
	if err != nil {
		t.Fatalf("get or create failed: %v", err)
	}
	if created || sess.TraceID != "trace-winner" || sess.CurrentStep() != model.StepService {
		t.Fatalf("expected the existing session, got created=%v trace=%q step=%s", created, sess.TraceID, sess.CurrentStep())
	}
}
