package fieldsync_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"fieldsync/internal/fieldsync"
	"fieldsync/internal/testutil"
)

var errDiskFull = errors.New("disk full")

// flakyStore fails the next failUpserts calls to Upsert.
type flakyStore struct {
	fieldsync.LocalStore

	mu          sync.Mutex
	failUpserts int
}

func (s *flakyStore) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpserts = n
}

func (s *flakyStore) Upsert(ctx context.Context, rec *fieldsync.EntityRecord) (*fieldsync.EntityRecord, error) {
	s.mu.Lock()
	fail := s.failUpserts > 0
	if fail {
		s.failUpserts--
	}
	s.mu.Unlock()
	if fail {
		return nil, errDiskFull
	}
	return s.LocalStore.Upsert(ctx, rec)
}

func newFlakyHarness(t *testing.T) (*testutil.Harness, *flakyStore) {
	t.Helper()
	h := testutil.NewTestEngine(t, nil)
	store := &flakyStore{LocalStore: h.DB}
	h.Engine = fieldsync.NewEngine(store, h.Queue, h.Gateway, fieldsync.DefaultEngineConfig(),
		fieldsync.NewNopLogger(), h.Clock, h.IDs)
	return h, store
}

func TestEngine_FailedLocalWriteIsNotQueued(t *testing.T) {
	ctx := context.Background()
	h, store := newFlakyHarness(t)
	write(t, h, fieldsync.OpCreate, fieldsync.EntityOrder, "o-1", `{"n":1}`)

	h.Backend.SetOffline(true)
	store.failNext(1)
	_, err := h.Engine.Write(ctx, fieldsync.WriteRequest{
		Type:      fieldsync.EntityOrder,
		ID:        "o-1",
		Operation: fieldsync.OpUpdate,
		Payload:   json.RawMessage(`{"n":2}`),
	})
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("Write() error = %v, want %v", err, errDiskFull)
	}

	rec, err := h.Engine.Get(ctx, fieldsync.EntityOrder, "o-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.State != fieldsync.StateSynced || field(t, rec.Payload, "n") != "1" {
		t.Errorf("record = %s %s, want the untouched synced copy", rec.State, rec.Payload)
	}
	if n := queueLen(t, h); n != 0 {
		t.Errorf("queue length = %d, want 0 after a failed write", n)
	}

	h.Backend.SetOffline(false)
	if _, err := h.Engine.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if n := countRequests(h.Backend, http.MethodPut); n != 0 {
		t.Errorf("PUT requests = %d, want 0", n)
	}
	payload, _, ok := h.Backend.Resource("/orders", "o-1")
	if !ok || field(t, payload, "n") != "1" {
		t.Errorf("server payload = %s, want n=1", payload)
	}
}

func TestEngine_FailedConfirmKeepsItemQueued(t *testing.T) {
	ctx := context.Background()
	h, store := newFlakyHarness(t)
	h.Backend.SetOffline(true)
	write(t, h, fieldsync.OpCreate, fieldsync.EntityOrder, "o-1", `{"n":1}`)
	h.Backend.SetOffline(false)

	store.failNext(1)
	report, err := h.Engine.Drain(ctx)
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("Drain() error = %v, want %v", err, errDiskFull)
	}
	if report.Reason != fieldsync.StopError {
		t.Errorf("Reason = %s, want error", report.Reason)
	}

	rec, err := h.Engine.Get(ctx, fieldsync.EntityOrder, "o-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.State != fieldsync.StatePending {
		t.Errorf("State = %s, want pending", rec.State)
	}
	if n := queueLen(t, h); n != 1 {
		t.Fatalf("queue length = %d, want the item kept", n)
	}

	report, err = h.Engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if report.Confirmed != 1 {
		t.Errorf("Confirmed = %d, want 1", report.Confirmed)
	}
	if state, _ := h.Engine.Status(ctx, fieldsync.EntityOrder, "o-1"); state != fieldsync.StateSynced {
		t.Errorf("Status() = %s, want synced", state)
	}
	if _, version, ok := h.Backend.Resource("/orders", "o-1"); !ok || version != `"1"` {
		t.Errorf("server version = %s, want a single create replayed by key", version)
	}
}

func TestEngine_DrainRestoresMissingRecord(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, nil)

	_, err := h.Queue.Enqueue(ctx, &fieldsync.QueueItem{
		QueueID:        "q-1",
		EntityType:     fieldsync.EntityOrder,
		EntityID:       "o-9",
		Operation:      fieldsync.OpCreate,
		Payload:        json.RawMessage(`{"n":9}`),
		IdempotencyKey: "o-9",
		CreatedAt:      h.Clock.Now(),
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	report, err := h.Engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if report.Confirmed != 1 {
		t.Errorf("Confirmed = %d, want 1", report.Confirmed)
	}

	rec, err := h.Engine.Get(ctx, fieldsync.EntityOrder, "o-9")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.State != fieldsync.StateSynced || field(t, rec.Payload, "n") != "9" {
		t.Errorf("record = %s %s, want synced n=9", rec.State, rec.Payload)
	}
}
