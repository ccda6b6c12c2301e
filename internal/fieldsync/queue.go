package fieldsync

import (
	"context"
	"encoding/json"
	"time"
)

// QueueItem is one pending mutation awaiting server confirmation.
type QueueItem struct {
	QueueID string
	// Seq is assigned by the queue store on append and totally orders items.
	Seq        int64
	EntityType EntityType
	EntityID   string
	Operation  Operation
	// Payload is the snapshot taken at enqueue time (refreshed when coalesced).
	Payload        json.RawMessage
	ActorToken     string
	IdempotencyKey string
	AttemptCount   int
	LastError      *Failure
	// NotBefore holds back the item until the entity's backoff expires.
	NotBefore time.Time
	// Uncertain is set once a send may have reached the server without a
	// confirmed answer.
	Uncertain bool
	CreatedAt time.Time
}

// Key returns the identity of the entity the item belongs to.
func (q *QueueItem) Key() EntityKey {
	return EntityKey{Type: q.EntityType, ID: q.EntityID}
}

// Clone returns a deep copy of q.
func (q *QueueItem) Clone() *QueueItem {
	if q == nil {
		return nil
	}
	c := *q
	c.Payload = cloneRaw(q.Payload)
	if q.LastError != nil {
		f := *q.LastError
		c.LastError = &f
	}
	return &c
}

// Failure describes the last failed attempt of a queue item.
type Failure struct {
	Kind    ErrorKind
	Message string
	// Ambiguous marks the item Uncertain.
	Ambiguous bool
}

// EnqueueOutcome reports how Enqueue folded an item into the entity's chain.
type EnqueueOutcome string

const (
	// Appended: the item was added to the end of the chain.
	Appended EnqueueOutcome = "appended"
	// Coalesced: the item replaced the payload of the trailing item.
	Coalesced EnqueueOutcome = "coalesced"
	// Collapsed: a delete replaced the pending creates and updates.
	Collapsed EnqueueOutcome = "collapsed"
	// Discarded: a delete cancelled a chain the server never saw.
	Discarded EnqueueOutcome = "discarded"
)

// SyncQueue is the ordered, per-entity log of unconfirmed mutations.
type SyncQueue interface {
	// Enqueue folds item into the entity's chain.
	Enqueue(ctx context.Context, item *QueueItem) (EnqueueOutcome, error)

	// NextBatch returns up to max items, at most one per entity (its oldest),
	// skipping entities in backoff. Entities served least recently come first.
	NextBatch(ctx context.Context, max int, now time.Time) ([]*QueueItem, error)

	// Head returns the oldest item for the entity, or nil.
	Head(ctx context.Context, entityType EntityType, id string) (*QueueItem, error)

	// Pending returns the entity's items in replay order.
	Pending(ctx context.Context, entityType EntityType, id string) ([]*QueueItem, error)

	// Ack removes a confirmed item.
	Ack(ctx context.Context, queueID string) error

	// Fail records a failed attempt and the backoff deadline. exhausted is
	// true once the attempt count reaches the retry ceiling.
	Fail(ctx context.Context, queueID string, failure Failure, notBefore time.Time) (attempts int, exhausted bool, err error)

	// RemoveEntity drops every item for the entity and returns how many were removed.
	RemoveEntity(ctx context.Context, entityType EntityType, id string) (int, error)

	// Rekey moves the entity's items to a server-assigned id.
	Rekey(ctx context.Context, entityType EntityType, oldID, newID string) error

	// List returns every item in replay order.
	List(ctx context.Context) ([]*QueueItem, error)

	Len(ctx context.Context) (int, error)
}
