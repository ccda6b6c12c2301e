package queue

import (
	"context"
	"sort"
	"sync"

	"fieldsync/internal/fieldsync"
)

// memoryStore keeps queue items in a slice ordered by Seq.
// Its contents do not survive a restart, and it does not take part in the
// local cache's transactions.
type memoryStore struct {
	mu      sync.Mutex
	items   []*fieldsync.QueueItem
	nextSeq int64
}

var _ Store = (*memoryStore)(nil)

// NewMemoryStore returns a Store that keeps items in memory.
func NewMemoryStore() Store {
	return &memoryStore{}
}

// NewMemoryQueue returns a Queue backed by an in-memory store.
func NewMemoryQueue(retryCeiling int) *Queue {
	return New(NewMemoryStore(), retryCeiling)
}

func (m *memoryStore) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Items are never mutated in place, so a shallow copy restores them.
	saved := append([]*fieldsync.QueueItem(nil), m.items...)
	savedSeq := m.nextSeq
	if err := fn(ctx); err != nil {
		m.items = saved
		m.nextSeq = savedSeq
		return err
	}
	return nil
}

func (m *memoryStore) All(_ context.Context) ([]*fieldsync.QueueItem, error) {
	out := make([]*fieldsync.QueueItem, len(m.items))
	for i, item := range m.items {
		out[i] = item.Clone()
	}
	return out, nil
}

func (m *memoryStore) Heads(_ context.Context) ([]*fieldsync.QueueItem, error) {
	seen := make(map[fieldsync.EntityKey]bool)
	var out []*fieldsync.QueueItem
	for _, item := range m.items {
		if seen[item.Key()] {
			continue
		}
		seen[item.Key()] = true
		out = append(out, item.Clone())
	}
	return out, nil
}

func (m *memoryStore) ForEntity(_ context.Context, entityType fieldsync.EntityType, id string) ([]*fieldsync.QueueItem, error) {
	var out []*fieldsync.QueueItem
	for _, item := range m.items {
		if item.EntityType == entityType && item.EntityID == id {
			out = append(out, item.Clone())
		}
	}
	return out, nil
}

func (m *memoryStore) Find(_ context.Context, queueID string) (*fieldsync.QueueItem, error) {
	for _, item := range m.items {
		if item.QueueID == queueID {
			return item.Clone(), nil
		}
	}
	return nil, nil
}

func (m *memoryStore) Apply(_ context.Context, change *Change) error {
	if len(change.Remove) > 0 {
		remove := make(map[string]bool, len(change.Remove))
		for _, id := range change.Remove {
			remove[id] = true
		}
		kept := m.items[:0]
		for _, item := range m.items {
			if !remove[item.QueueID] {
				kept = append(kept, item)
			}
		}
		m.items = kept
	}

	for _, upd := range change.Update {
		for i, item := range m.items {
			if item.QueueID == upd.QueueID {
				next := upd.Clone()
				next.Seq = item.Seq
				m.items[i] = next
				break
			}
		}
	}

	for _, item := range change.Append {
		m.nextSeq++
		item.Seq = m.nextSeq
		m.items = append(m.items, item.Clone())
	}

	sort.SliceStable(m.items, func(i, j int) bool { return m.items[i].Seq < m.items[j].Seq })
	return nil
}

func (m *memoryStore) Rekey(_ context.Context, entityType fieldsync.EntityType, oldID, newID string) error {
	for i, item := range m.items {
		if item.EntityType == entityType && item.EntityID == oldID {
			moved := item.Clone()
			moved.EntityID = newID
			m.items[i] = moved
		}
	}
	return nil
}

func (m *memoryStore) Len(_ context.Context) (int, error) {
	return len(m.items), nil
}
