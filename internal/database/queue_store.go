package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fieldsync/internal/fieldsync"
	"fieldsync/internal/queue"
)

// QueueStore persists sync queue items in the sync_queue table of the local cache.
// Calls made under SQLiteDatabase.InTx join the cache's transaction.
type QueueStore struct {
	db     *sql.DB
	cipher fieldsync.Cipher
}

var _ queue.Store = (*QueueStore)(nil)

// NewQueueStore returns a queue store sharing the cache's connection and cipher.
func NewQueueStore(s *SQLiteDatabase) *QueueStore {
	return &QueueStore{db: s.db, cipher: s.cipher}
}

const queueColumns = "seq, queue_id, entity_type, entity_id, operation, payload, actor_token, idempotency_key, attempt_count, last_error_kind, last_error, not_before, uncertain, created_at"

func (q *QueueStore) scanItem(row rowScanner) (*fieldsync.QueueItem, error) {
	var (
		item                       fieldsync.QueueItem
		entityType, op             string
		payload, token             []byte
		lastErrorKind, lastErrText string
		notBefore                  sql.NullTime
	)
	err := row.Scan(&item.Seq, &item.QueueID, &entityType, &item.EntityID, &op, &payload, &token,
		&item.IdempotencyKey, &item.AttemptCount, &lastErrorKind, &lastErrText, &notBefore, &item.Uncertain, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	item.EntityType = fieldsync.EntityType(entityType)
	item.Operation = fieldsync.Operation(op)
	if notBefore.Valid {
		item.NotBefore = notBefore.Time
	}
	if lastErrorKind != "" {
		item.LastError = &fieldsync.Failure{Kind: fieldsync.ErrorKind(lastErrorKind), Message: lastErrText}
	}

	if item.Payload, err = q.open(payload); err != nil {
		return nil, fmt.Errorf("opening payload of %s: %w", item.QueueID, err)
	}
	plainToken, err := q.open(token)
	if err != nil {
		return nil, fmt.Errorf("opening actor token of %s: %w", item.QueueID, err)
	}
	item.ActorToken = string(plainToken)
	return &item, nil
}

func (q *QueueStore) query(ctx context.Context, query string, args ...any) ([]*fieldsync.QueueItem, error) {
	rows, err := conn(ctx, q.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying queue: %w", err)
	}
	defer rows.Close()

	var out []*fieldsync.QueueItem
	for rows.Next() {
		item, err := q.scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning queue item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying queue: %w", err)
	}
	return out, nil
}

func (q *QueueStore) All(ctx context.Context) ([]*fieldsync.QueueItem, error) {
	return q.query(ctx, "SELECT "+queueColumns+" FROM sync_queue ORDER BY seq")
}

func (q *QueueStore) Heads(ctx context.Context) ([]*fieldsync.QueueItem, error) {
	return q.query(ctx, `
		SELECT `+queueColumns+` FROM sync_queue q
		WHERE q.seq = (
			SELECT MIN(seq) FROM sync_queue
			WHERE entity_type = q.entity_type AND entity_id = q.entity_id
		)
		ORDER BY q.seq`)
}

func (q *QueueStore) ForEntity(ctx context.Context, entityType fieldsync.EntityType, id string) ([]*fieldsync.QueueItem, error) {
	return q.query(ctx, "SELECT "+queueColumns+" FROM sync_queue WHERE entity_type = ? AND entity_id = ? ORDER BY seq", string(entityType), id)
}

func (q *QueueStore) Find(ctx context.Context, queueID string) (*fieldsync.QueueItem, error) {
	row := conn(ctx, q.db).QueryRowContext(ctx, "SELECT "+queueColumns+" FROM sync_queue WHERE queue_id = ?", queueID)
	item, err := q.scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding queue item: %w", err)
	}
	return item, nil
}

// Atomic runs fn in a transaction, joining the cache's when one is open.
func (q *QueueStore) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	return runTx(ctx, q.db, func(ctx context.Context, _ *sql.Tx) error {
		return fn(ctx)
	})
}

func (q *QueueStore) Apply(ctx context.Context, change *queue.Change) error {
	return runTx(ctx, q.db, func(ctx context.Context, tx *sql.Tx) error {
		return q.apply(ctx, tx, change)
	})
}

func (q *QueueStore) apply(ctx context.Context, tx *sql.Tx, change *queue.Change) error {
	for _, id := range change.Remove {
		if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE queue_id = ?", id); err != nil {
			return fmt.Errorf("removing queue item %s: %w", id, err)
		}
	}

	for _, item := range change.Update {
		payload, token, err := q.sealItem(item)
		if err != nil {
			return err
		}
		kind, msg := failureColumns(item.LastError)
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_queue SET
				operation = ?, payload = ?, actor_token = ?, idempotency_key = ?, attempt_count = ?,
				last_error_kind = ?, last_error = ?, not_before = ?, uncertain = ?
			WHERE queue_id = ?`,
			string(item.Operation), payload, token, item.IdempotencyKey, item.AttemptCount,
			kind, msg, nullTime(item), item.Uncertain, item.QueueID,
		)
		if err != nil {
			return fmt.Errorf("updating queue item %s: %w", item.QueueID, err)
		}
	}

	for _, item := range change.Append {
		payload, token, err := q.sealItem(item)
		if err != nil {
			return err
		}
		kind, msg := failureColumns(item.LastError)
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sync_queue (
				queue_id, entity_type, entity_id, operation, payload, actor_token, idempotency_key,
				attempt_count, last_error_kind, last_error, not_before, uncertain, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.QueueID, string(item.EntityType), item.EntityID, string(item.Operation), payload, token, item.IdempotencyKey,
			item.AttemptCount, kind, msg, nullTime(item), item.Uncertain, item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("appending queue item %s: %w", item.QueueID, err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading queue sequence: %w", err)
		}
		item.Seq = seq
	}
	return nil
}

func (q *QueueStore) Rekey(ctx context.Context, entityType fieldsync.EntityType, oldID, newID string) error {
	_, err := conn(ctx, q.db).ExecContext(ctx, "UPDATE sync_queue SET entity_id = ? WHERE entity_type = ? AND entity_id = ?", newID, string(entityType), oldID)
	if err != nil {
		return fmt.Errorf("rekeying queue items: %w", err)
	}
	return nil
}

func (q *QueueStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := conn(ctx, q.db).QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting queue: %w", err)
	}
	return n, nil
}

func (q *QueueStore) sealItem(item *fieldsync.QueueItem) (payload, token []byte, err error) {
	if payload, err = q.seal(item.Payload); err != nil {
		return nil, nil, fmt.Errorf("sealing payload: %w", err)
	}
	if token, err = q.seal([]byte(item.ActorToken)); err != nil {
		return nil, nil, fmt.Errorf("sealing actor token: %w", err)
	}
	return payload, token, nil
}

func (q *QueueStore) seal(b []byte) ([]byte, error) {
	if q.cipher == nil || b == nil {
		return b, nil
	}
	return q.cipher.Seal(b)
}

func (q *QueueStore) open(b []byte) ([]byte, error) {
	if q.cipher == nil || b == nil {
		return b, nil
	}
	return q.cipher.Open(b)
}

func failureColumns(f *fieldsync.Failure) (kind, msg string) {
	if f == nil {
		return "", ""
	}
	return string(f.Kind), f.Message
}

func nullTime(item *fieldsync.QueueItem) sql.NullTime {
	if item.NotBefore.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: item.NotBefore, Valid: true}
}
