package fieldsync

import (
	"context"
	"fmt"
)

// Get returns the cached record. Tombstones are reported as ErrNotFound.
func (e *Engine) Get(ctx context.Context, entityType EntityType, id string) (*EntityRecord, error) {
	rec, err := e.store.Get(ctx, entityType, id)
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return nil, fmt.Errorf("%s: %w", rec.Key(), ErrNotFound)
	}
	return rec, nil
}

// List returns cached records of one type matching filter.
func (e *Engine) List(ctx context.Context, entityType EntityType, filter Filter) ([]*EntityRecord, error) {
	return e.store.List(ctx, entityType, filter)
}

// Status returns the sync state of one entity, including tombstones.
func (e *Engine) Status(ctx context.Context, entityType EntityType, id string) (SyncState, error) {
	rec, err := e.store.Get(ctx, entityType, id)
	if err != nil {
		return "", err
	}
	return rec.State, nil
}

// Summary counts records per sync state alongside the queue depth.
type Summary struct {
	Synced     int
	Pending    int
	Conflicted int
	Queued     int
}

// Summary reports the overall sync state of the device.
func (e *Engine) Summary(ctx context.Context) (*Summary, error) {
	counts, err := e.store.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}
	queued, err := e.queue.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting queue: %w", err)
	}
	return &Summary{
		Synced:     counts[StateSynced],
		Pending:    counts[StatePending],
		Conflicted: counts[StateConflicted],
		Queued:     queued,
	}, nil
}

// Conflicts returns every conflicted record across all entity types.
func (e *Engine) Conflicts(ctx context.Context) ([]*EntityRecord, error) {
	var out []*EntityRecord
	filter := Filter{States: []SyncState{StateConflicted}, IncludeDeleted: true}
	for _, t := range EntityTypes {
		recs, err := e.store.List(ctx, t, filter)
		if err != nil {
			return nil, fmt.Errorf("listing %s conflicts: %w", t, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

// Queue returns the pending mutations in replay order.
func (e *Engine) Queue(ctx context.Context) ([]*QueueItem, error) {
	return e.queue.List(ctx)
}

// Subscribe streams status events from the local store.
func (e *Engine) Subscribe(buffer int) (<-chan StatusEvent, func()) {
	return e.store.Subscribe(buffer)
}

// History returns the most recent drain passes, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]*DrainRun, error) {
	if e.history == nil {
		return nil, nil
	}
	return e.history.ListDrainRuns(ctx, limit)
}
