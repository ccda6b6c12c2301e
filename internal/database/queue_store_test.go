package database

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"fieldsync/internal/encryption"
	"fieldsync/internal/fieldsync"
	"fieldsync/internal/queue"
)

func queueItem(queueID, entityID string, op fieldsync.Operation, payload string) *fieldsync.QueueItem {
	return &fieldsync.QueueItem{
		QueueID:        queueID,
		EntityType:     fieldsync.EntityInvoice,
		EntityID:       entityID,
		Operation:      op,
		Payload:        json.RawMessage(payload),
		ActorToken:     "token-" + queueID,
		IdempotencyKey: queueID,
		CreatedAt:      newTestClock().Now(),
	}
}

func TestQueueStore_ApplyAndRead(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, nil)
	store := NewQueueStore(db)

	first := queueItem("q-1", "inv-1", fieldsync.OpCreate, `{"amount":1}`)
	second := queueItem("q-2", "inv-2", fieldsync.OpUpdate, `{"amount":2}`)
	third := queueItem("q-3", "inv-1", fieldsync.OpUpdate, `{"amount":3}`)
	if err := store.Apply(ctx, &queue.Change{Append: []*fieldsync.QueueItem{first, second, third}}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !(first.Seq < second.Seq && second.Seq < third.Seq) {
		t.Errorf("Seq not increasing: %d, %d, %d", first.Seq, second.Seq, third.Seq)
	}

	t.Run("all in seq order", func(t *testing.T) {
		all, err := store.All(ctx)
		if err != nil {
			t.Fatalf("All() error = %v", err)
		}
		want := []string{"q-1", "q-2", "q-3"}
		if len(all) != len(want) {
			t.Fatalf("All() returned %d items, want %d", len(all), len(want))
		}
		for i, item := range all {
			if item.QueueID != want[i] {
				t.Errorf("All()[%d] = %s, want %s", i, item.QueueID, want[i])
			}
		}
		if all[0].ActorToken != "token-q-1" {
			t.Errorf("ActorToken = %q, want %q", all[0].ActorToken, "token-q-1")
		}
	})

	t.Run("heads are the oldest per entity", func(t *testing.T) {
		heads, err := store.Heads(ctx)
		if err != nil {
			t.Fatalf("Heads() error = %v", err)
		}
		if len(heads) != 2 || heads[0].QueueID != "q-1" || heads[1].QueueID != "q-2" {
			t.Errorf("Heads() = %v, want [q-1 q-2]", queueIDs(heads))
		}
	})

	t.Run("for entity", func(t *testing.T) {
		chain, err := store.ForEntity(ctx, fieldsync.EntityInvoice, "inv-1")
		if err != nil {
			t.Fatalf("ForEntity() error = %v", err)
		}
		if got := queueIDs(chain); len(got) != 2 || got[0] != "q-1" || got[1] != "q-3" {
			t.Errorf("ForEntity() = %v, want [q-1 q-3]", got)
		}
	})

	t.Run("find missing returns nil", func(t *testing.T) {
		item, err := store.Find(ctx, "nope")
		if err != nil {
			t.Fatalf("Find() error = %v", err)
		}
		if item != nil {
			t.Errorf("Find() = %+v, want nil", item)
		}
	})

	t.Run("update and remove", func(t *testing.T) {
		updated := first.Clone()
		updated.AttemptCount = 2
		updated.Uncertain = true
		updated.NotBefore = newTestClock().Now().Add(time.Minute)
		updated.LastError = &fieldsync.Failure{Kind: fieldsync.KindRetryable, Message: "status 503"}

		change := &queue.Change{Remove: []string{"q-2"}, Update: []*fieldsync.QueueItem{updated}}
		if err := store.Apply(ctx, change); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}

		got, err := store.Find(ctx, "q-1")
		if err != nil {
			t.Fatalf("Find() error = %v", err)
		}
		if got.AttemptCount != 2 || !got.Uncertain {
			t.Errorf("Find() = (attempts %d, uncertain %v), want (2, true)", got.AttemptCount, got.Uncertain)
		}
		if !got.NotBefore.Equal(updated.NotBefore) {
			t.Errorf("NotBefore = %v, want %v", got.NotBefore, updated.NotBefore)
		}
		if got.LastError == nil || got.LastError.Kind != fieldsync.KindRetryable {
			t.Errorf("LastError = %+v, want retryable", got.LastError)
		}

		n, err := store.Len(ctx)
		if err != nil {
			t.Fatalf("Len() error = %v", err)
		}
		if n != 2 {
			t.Errorf("Len() = %d, want 2", n)
		}
	})

	t.Run("rekey", func(t *testing.T) {
		if err := store.Rekey(ctx, fieldsync.EntityInvoice, "inv-1", "srv-1"); err != nil {
			t.Fatalf("Rekey() error = %v", err)
		}
		chain, err := store.ForEntity(ctx, fieldsync.EntityInvoice, "srv-1")
		if err != nil {
			t.Fatalf("ForEntity() error = %v", err)
		}
		if len(chain) != 2 {
			t.Errorf("ForEntity(srv-1) returned %d items, want 2", len(chain))
		}
	})
}

func TestQueueStore_DuplicateQueueIDRollsBack(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, nil)
	store := NewQueueStore(db)

	if err := store.Apply(ctx, &queue.Change{Append: []*fieldsync.QueueItem{queueItem("q-1", "inv-1", fieldsync.OpCreate, `{}`)}}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	change := &queue.Change{
		Remove: []string{"q-1"},
		Append: []*fieldsync.QueueItem{
			queueItem("q-2", "inv-2", fieldsync.OpCreate, `{}`),
			queueItem("q-2", "inv-3", fieldsync.OpCreate, `{}`),
		},
	}
	if err := store.Apply(ctx, change); err == nil {
		t.Fatal("Apply() expected error for duplicate queue id, got nil")
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if got := queueIDs(all); len(got) != 1 || got[0] != "q-1" {
		t.Errorf("All() after failed Apply() = %v, want [q-1]", got)
	}
}

func TestQueueStore_SealsPayloadAndToken(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, encryption.NewTestCipher())
	store := NewQueueStore(db)

	if err := store.Apply(ctx, &queue.Change{Append: []*fieldsync.QueueItem{queueItem("q-1", "inv-1", fieldsync.OpCreate, `{"amount":9}`)}}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	var payload, token []byte
	if err := db.db.QueryRow("SELECT payload, actor_token FROM sync_queue WHERE queue_id = 'q-1'").Scan(&payload, &token); err != nil {
		t.Fatalf("reading raw row: %v", err)
	}
	if !bytes.HasPrefix(payload, []byte("FSENC")) || !bytes.HasPrefix(token, []byte("FSENC")) {
		t.Errorf("stored row is not sealed: payload %q token %q", payload, token)
	}

	item, err := store.Find(ctx, "q-1")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if string(item.Payload) != `{"amount":9}` || item.ActorToken != "token-q-1" {
		t.Errorf("Find() = (%s, %q), want decrypted values", item.Payload, item.ActorToken)
	}
}

func TestQueueStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/cache.db"

	db, err := NewSQLiteDatabase(path, nil, nil)
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	q := queue.New(NewQueueStore(db), 0)
	for i, op := range []fieldsync.Operation{fieldsync.OpCreate, fieldsync.OpUpdate} {
		item := queueItem([]string{"q-1", "q-2"}[i], "inv-1", op, `{"amount":1}`)
		if _, err := q.Enqueue(ctx, item); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	db.Close()

	reopened, err := NewSQLiteDatabase(path, nil, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	q = queue.New(NewQueueStore(reopened), 0)
	items, err := q.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	// The update folded into the create before the restart.
	if len(items) != 1 || items[0].QueueID != "q-1" {
		t.Fatalf("List() after reopen = %v, want [q-1]", queueIDs(items))
	}
	if items[0].Operation != fieldsync.OpCreate {
		t.Errorf("Operation = %s, want %s", items[0].Operation, fieldsync.OpCreate)
	}
}

func queueIDs(items []*fieldsync.QueueItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.QueueID
	}
	return ids
}
