package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fieldsync/internal/fieldsync"
)

// Queue implements fieldsync.SyncQueue on top of a pluggable Store.
// All folding and fairness logic lives here. Store access goes through
// Store.Atomic; mu only guards the fairness bookkeeping and is never held
// across store calls, so a caller may invoke the queue inside the local
// cache's transaction.
type Queue struct {
	store   Store
	ceiling int

	mu sync.Mutex
	// served records the turn at which each entity was last handed out.
	served map[fieldsync.EntityKey]uint64
	turn   uint64
}

var _ fieldsync.SyncQueue = (*Queue)(nil)

// New creates a Queue. retryCeiling is the attempt count at which Fail
// reports exhaustion; zero or less means retry forever.
func New(store Store, retryCeiling int) *Queue {
	return &Queue{
		store:   store,
		ceiling: retryCeiling,
		served:  make(map[fieldsync.EntityKey]uint64),
	}
}

// Enqueue folds item into the entity's pending chain.
//
// An update replaces the payload of the trailing create or update unless that
// item is uncertain, since its replay may be answered from the server's
// idempotency record and drop the newer payload. A delete removes pending
// creates and updates; when the chain starts with a create the server never
// saw, the whole chain is dropped and the outcome is Discarded.
func (q *Queue) Enqueue(ctx context.Context, item *fieldsync.QueueItem) (fieldsync.EnqueueOutcome, error) {
	if item.QueueID == "" || item.EntityID == "" {
		return "", fmt.Errorf("queue item needs queue and entity ids: %w", fieldsync.ErrInvalid)
	}

	var outcome fieldsync.EnqueueOutcome
	err := q.store.Atomic(ctx, func(ctx context.Context) error {
		chain, err := q.store.ForEntity(ctx, item.EntityType, item.EntityID)
		if err != nil {
			return fmt.Errorf("reading entity chain: %w", err)
		}

		var change *Change
		change, outcome, err = fold(chain, item.Clone())
		if err != nil {
			return err
		}
		if change.empty() {
			return nil
		}
		if err := q.store.Apply(ctx, change); err != nil {
			return fmt.Errorf("applying queue change: %w", err)
		}
		for _, appended := range change.Append {
			if appended.QueueID == item.QueueID {
				item.Seq = appended.Seq
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func fold(chain []*fieldsync.QueueItem, item *fieldsync.QueueItem) (*Change, fieldsync.EnqueueOutcome, error) {
	switch item.Operation {
	case fieldsync.OpCreate:
		return &Change{Append: []*fieldsync.QueueItem{item}}, fieldsync.Appended, nil

	case fieldsync.OpUpdate:
		if len(chain) == 0 {
			return &Change{Append: []*fieldsync.QueueItem{item}}, fieldsync.Appended, nil
		}
		last := chain[len(chain)-1]
		if last.Operation == fieldsync.OpDelete {
			return nil, "", fmt.Errorf("update after pending delete of %s: %w", item.Key(), fieldsync.ErrInvalid)
		}
		if last.Uncertain {
			return &Change{Append: []*fieldsync.QueueItem{item}}, fieldsync.Appended, nil
		}
		merged := last.Clone()
		merged.Payload = item.Payload
		merged.ActorToken = item.ActorToken
		return &Change{Update: []*fieldsync.QueueItem{merged}}, fieldsync.Coalesced, nil

	case fieldsync.OpDelete:
		lastCreate := -1
		for i, c := range chain {
			if c.Operation == fieldsync.OpCreate {
				lastCreate = i
			}
		}

		change := &Change{}
		switch {
		case lastCreate >= 0 && !chain[lastCreate].Uncertain:
			// The create and everything after it never reached the server.
			for _, c := range chain[lastCreate:] {
				change.Remove = append(change.Remove, c.QueueID)
			}
			if lastCreate == 0 {
				return change, fieldsync.Discarded, nil
			}
			// A pending delete precedes the create and already covers this one.
			return change, fieldsync.Collapsed, nil

		case lastCreate >= 0:
			// The create may exist server-side and must still replay before the delete.
			for _, c := range chain[lastCreate+1:] {
				change.Remove = append(change.Remove, c.QueueID)
			}

		default:
			for _, c := range chain {
				if c.Operation == fieldsync.OpDelete {
					continue
				}
				change.Remove = append(change.Remove, c.QueueID)
			}
			if len(chain) > 0 && chain[0].Operation == fieldsync.OpDelete {
				return change, fieldsync.Collapsed, nil
			}
		}

		change.Append = append(change.Append, item)
		if len(chain) == 0 {
			return change, fieldsync.Appended, nil
		}
		return change, fieldsync.Collapsed, nil
	}
	return nil, "", fmt.Errorf("unknown operation %q: %w", item.Operation, fieldsync.ErrInvalid)
}

// NextBatch returns up to max entity heads that are not in backoff,
// least recently served first.
func (q *Queue) NextBatch(ctx context.Context, max int, now time.Time) ([]*fieldsync.QueueItem, error) {
	var heads []*fieldsync.QueueItem
	err := q.store.Atomic(ctx, func(ctx context.Context) error {
		var err error
		heads, err = q.store.Heads(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading queue heads: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	live := make(map[fieldsync.EntityKey]bool, len(heads))
	eligible := heads[:0]
	for _, h := range heads {
		live[h.Key()] = true
		if h.NotBefore.After(now) {
			continue
		}
		eligible = append(eligible, h)
	}
	for key := range q.served {
		if !live[key] {
			delete(q.served, key)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		si, sj := q.served[eligible[i].Key()], q.served[eligible[j].Key()]
		if si != sj {
			return si < sj
		}
		return eligible[i].Seq < eligible[j].Seq
	})

	if max > 0 && len(eligible) > max {
		eligible = eligible[:max]
	}
	for _, item := range eligible {
		q.turn++
		q.served[item.Key()] = q.turn
	}
	return eligible, nil
}

func (q *Queue) chain(ctx context.Context, entityType fieldsync.EntityType, id string) ([]*fieldsync.QueueItem, error) {
	var chain []*fieldsync.QueueItem
	err := q.store.Atomic(ctx, func(ctx context.Context) error {
		var err error
		chain, err = q.store.ForEntity(ctx, entityType, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading entity chain: %w", err)
	}
	return chain, nil
}

func (q *Queue) Head(ctx context.Context, entityType fieldsync.EntityType, id string) (*fieldsync.QueueItem, error) {
	chain, err := q.chain(ctx, entityType, id)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[0], nil
}

func (q *Queue) Pending(ctx context.Context, entityType fieldsync.EntityType, id string) ([]*fieldsync.QueueItem, error) {
	return q.chain(ctx, entityType, id)
}

func (q *Queue) Ack(ctx context.Context, queueID string) error {
	return q.store.Atomic(ctx, func(ctx context.Context) error {
		item, err := q.store.Find(ctx, queueID)
		if err != nil {
			return fmt.Errorf("finding queue item: %w", err)
		}
		if item == nil {
			return fmt.Errorf("queue item %s: %w", queueID, fieldsync.ErrNotFound)
		}
		if err := q.store.Apply(ctx, &Change{Remove: []string{queueID}}); err != nil {
			return fmt.Errorf("removing queue item: %w", err)
		}
		return nil
	})
}

func (q *Queue) Fail(ctx context.Context, queueID string, failure fieldsync.Failure, notBefore time.Time) (int, bool, error) {
	var attempts int
	err := q.store.Atomic(ctx, func(ctx context.Context) error {
		item, err := q.store.Find(ctx, queueID)
		if err != nil {
			return fmt.Errorf("finding queue item: %w", err)
		}
		if item == nil {
			return fmt.Errorf("queue item %s: %w", queueID, fieldsync.ErrNotFound)
		}

		item.AttemptCount++
		item.LastError = &failure
		item.NotBefore = notBefore
		if failure.Ambiguous {
			item.Uncertain = true
		}
		if err := q.store.Apply(ctx, &Change{Update: []*fieldsync.QueueItem{item}}); err != nil {
			return fmt.Errorf("recording failure: %w", err)
		}
		attempts = item.AttemptCount
		return nil
	})
	if err != nil {
		return 0, false, err
	}

	exhausted := q.ceiling > 0 && attempts >= q.ceiling
	return attempts, exhausted, nil
}

func (q *Queue) RemoveEntity(ctx context.Context, entityType fieldsync.EntityType, id string) (int, error) {
	var removed int
	err := q.store.Atomic(ctx, func(ctx context.Context) error {
		chain, err := q.store.ForEntity(ctx, entityType, id)
		if err != nil {
			return fmt.Errorf("reading entity chain: %w", err)
		}
		if len(chain) == 0 {
			return nil
		}
		change := &Change{}
		for _, item := range chain {
			change.Remove = append(change.Remove, item.QueueID)
		}
		if err := q.store.Apply(ctx, change); err != nil {
			return fmt.Errorf("removing entity chain: %w", err)
		}
		removed = len(chain)
		return nil
	})
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	delete(q.served, fieldsync.EntityKey{Type: entityType, ID: id})
	q.mu.Unlock()
	return removed, nil
}

func (q *Queue) Rekey(ctx context.Context, entityType fieldsync.EntityType, oldID, newID string) error {
	err := q.store.Atomic(ctx, func(ctx context.Context) error {
		return q.store.Rekey(ctx, entityType, oldID, newID)
	})
	if err != nil {
		return fmt.Errorf("rekeying queue items: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	oldKey := fieldsync.EntityKey{Type: entityType, ID: oldID}
	if turn, ok := q.served[oldKey]; ok {
		delete(q.served, oldKey)
		q.served[fieldsync.EntityKey{Type: entityType, ID: newID}] = turn
	}
	return nil
}

func (q *Queue) List(ctx context.Context) ([]*fieldsync.QueueItem, error) {
	var items []*fieldsync.QueueItem
	err := q.store.Atomic(ctx, func(ctx context.Context) error {
		var err error
		items, err = q.store.All(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}
	return items, nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.store.Atomic(ctx, func(ctx context.Context) error {
		var err error
		n, err = q.store.Len(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("counting queue: %w", err)
	}
	return n, nil
}
