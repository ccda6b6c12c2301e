package queue

import (
	"context"

	"fieldsync/internal/fieldsync"
)

// Store abstracts the persistence of queue items.
// Queue calls the other methods only from inside Atomic, with the ctx it
// was handed. Returned items are owned by the caller.
type Store interface {
	// Atomic runs fn with exclusive access to the store. Changes made
	// inside fn are kept only when it returns nil.
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error

	// All returns every item ordered by Seq.
	All(ctx context.Context) ([]*fieldsync.QueueItem, error)

	// Heads returns the oldest item of every entity, ordered by Seq.
	Heads(ctx context.Context) ([]*fieldsync.QueueItem, error)

	// ForEntity returns the entity's items ordered by Seq.
	ForEntity(ctx context.Context, entityType fieldsync.EntityType, id string) ([]*fieldsync.QueueItem, error)

	// Find returns the item with the given queue id, or nil.
	Find(ctx context.Context, queueID string) (*fieldsync.QueueItem, error)

	// Apply performs the change atomically. Appended items get their Seq assigned.
	Apply(ctx context.Context, change *Change) error

	// Rekey moves the entity's items to a new id.
	Rekey(ctx context.Context, entityType fieldsync.EntityType, oldID, newID string) error

	Len(ctx context.Context) (int, error)
}

// Change is a set of queue edits applied in one step: removals first,
// then in-place updates, then appends.
type Change struct {
	Remove []string
	Update []*fieldsync.QueueItem
	Append []*fieldsync.QueueItem
}

func (c *Change) empty() bool {
	return len(c.Remove) == 0 && len(c.Update) == 0 && len(c.Append) == 0
}
