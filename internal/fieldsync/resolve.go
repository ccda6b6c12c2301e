package fieldsync

import (
	"context"
	"errors"
	"fmt"
)

// AcceptRemote resolves a conflict in favor of the server. The server copy
// retained with the conflict is used when present, otherwise it is fetched.
// If the server has no such entity the local record is purged and nil is returned.
func (e *Engine) AcceptRemote(ctx context.Context, entityType EntityType, id string, actorToken string) (*EntityRecord, error) {
	key := EntityKey{Type: entityType, ID: id}
	unlock := e.locks.lock(key)
	defer unlock()

	rec, err := e.conflictedRecord(ctx, key)
	if err != nil {
		return nil, err
	}

	payload := rec.Conflict.ServerPayload
	version := rec.Conflict.ServerVersion
	if len(payload) == 0 {
		res := e.gateway.Fetch(ctx, entityType, id, actorToken)
		switch {
		case res.Kind == ResultConfirmed:
			payload, version = res.Payload, res.ServerVersion
		case res.NotFound:
			err := e.store.InTx(ctx, func(ctx context.Context) error {
				if _, err := e.queue.RemoveEntity(ctx, entityType, id); err != nil {
					return fmt.Errorf("clearing queue: %w", err)
				}
				if err := e.store.Purge(ctx, entityType, id); err != nil {
					return fmt.Errorf("purging local record: %w", err)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			e.logger.Info("conflict resolved: server has no copy", "entity", key.String())
			return nil, nil
		default:
			return nil, fmt.Errorf("fetching server copy of %s: %w", key, remoteErrorFrom(res))
		}
	}

	var stored *EntityRecord
	err = e.store.InTx(ctx, func(ctx context.Context) error {
		if _, err := e.queue.RemoveEntity(ctx, entityType, id); err != nil {
			return fmt.Errorf("clearing queue: %w", err)
		}
		var err error
		stored, err = e.store.Upsert(ctx, &EntityRecord{
			Type:          entityType,
			ID:            id,
			Payload:       payload,
			State:         StateSynced,
			RemoteVersion: version,
		})
		if err != nil {
			return fmt.Errorf("storing server copy: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("conflict resolved: accepted remote", "entity", key.String())
	return stored, nil
}

// RetryLocal resolves a conflict in favor of the local copy: the local state
// is queued again against the server's conflicting version and a drain is
// requested. A create the server already has is replayed as an update.
func (e *Engine) RetryLocal(ctx context.Context, entityType EntityType, id string, actorToken string) (*EntityRecord, error) {
	key := EntityKey{Type: entityType, ID: id}
	unlock := e.locks.lock(key)
	defer unlock()

	rec, err := e.conflictedRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	conflict := rec.Conflict

	if conflict.ServerVersion != "" {
		rec.RemoteVersion = conflict.ServerVersion
	}
	op := OpUpdate
	switch {
	case rec.Deleted:
		op = OpDelete
	case rec.RemoteVersion == "" && conflict.Operation == OpCreate:
		op = OpCreate
	}

	queueID := e.idgen.New()
	item := &QueueItem{
		QueueID:        queueID,
		EntityType:     entityType,
		EntityID:       id,
		Operation:      op,
		Payload:        rec.Payload,
		ActorToken:     actorToken,
		IdempotencyKey: queueID,
		CreatedAt:      e.clock.Now(),
	}
	if op == OpCreate {
		item.IdempotencyKey = id
	}

	rec.State = StatePending
	rec.Conflict = nil
	var stored *EntityRecord
	err = e.store.InTx(ctx, func(ctx context.Context) error {
		if _, err := e.queue.RemoveEntity(ctx, entityType, id); err != nil {
			return fmt.Errorf("clearing queue: %w", err)
		}
		if _, err := e.queue.Enqueue(ctx, item); err != nil {
			return fmt.Errorf("enqueueing retry: %w", err)
		}
		var err error
		if stored, err = e.store.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("storing pending record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("conflict resolved: retrying local", "entity", key.String(), "operation", op)
	e.Trigger()
	return stored, nil
}

func (e *Engine) conflictedRecord(ctx context.Context, key EntityKey) (*EntityRecord, error) {
	rec, err := e.store.Get(ctx, key.Type, key.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("reading local record: %w", err)
	}
	if rec.State != StateConflicted || rec.Conflict == nil {
		return nil, fmt.Errorf("%s: %w", key, ErrNotConflicted)
	}
	return rec, nil
}
