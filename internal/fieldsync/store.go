package fieldsync

import "context"

// LocalStore is durable per-device storage for entity records.
// Every call is atomic and every successful mutation publishes a StatusEvent.
type LocalStore interface {
	// Get returns the record, including tombstones. Returns ErrNotFound when absent.
	Get(ctx context.Context, entityType EntityType, id string) (*EntityRecord, error)

	// List returns records of one type matching the filter, ordered by id.
	List(ctx context.Context, entityType EntityType, filter Filter) ([]*EntityRecord, error)

	// Upsert stores rec by (Type, ID), advancing Version and UpdatedAt.
	// Returns the stored record.
	Upsert(ctx context.Context, rec *EntityRecord) (*EntityRecord, error)

	// Delete turns the record into a tombstone with the given state.
	Delete(ctx context.Context, entityType EntityType, id string, state SyncState) (*EntityRecord, error)

	// Purge physically removes the record. Purging a missing record is a no-op.
	Purge(ctx context.Context, entityType EntityType, id string) error

	// Rekey moves a record to a server-assigned id.
	Rekey(ctx context.Context, entityType EntityType, oldID, newID string) (*EntityRecord, error)

	// InTx runs fn as one atomic unit. Store calls made with the ctx passed
	// to fn join it, as do queue calls when the queue shares the store's
	// database. Status events are published only once it commits.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// CountByState returns the number of records per sync state.
	CountByState(ctx context.Context) (map[SyncState]int, error)

	// Subscribe registers for status events. cancel releases the subscription.
	Subscribe(buffer int) (events <-chan StatusEvent, cancel func())

	Close() error
}
