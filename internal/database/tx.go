package database

import (
	"context"
	"database/sql"
	"fmt"
)

type txKey struct{}

// txState is the transaction shared by every call made under InTx.
type txState struct {
	tx       *sql.Tx
	onCommit []func()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func txFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

// conn returns the transaction carried by ctx, or db when there is none.
// The pool holds a single connection, so a call inside InTx must never
// go to db directly.
func conn(ctx context.Context, db *sql.DB) querier {
	if st := txFrom(ctx); st != nil {
		return st.tx
	}
	return db
}

// runTx runs fn inside the transaction carried by ctx, or inside a new one
// that is committed when fn succeeds and rolled back otherwise.
func runTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if st := txFrom(ctx); st != nil {
		return fn(ctx, st.tx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	st := &txState{tx: tx}
	if err := fn(context.WithValue(ctx, txKey{}, st), tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	for _, f := range st.onCommit {
		f()
	}
	return nil
}

// afterCommit defers f until the transaction carried by ctx commits.
// Outside a transaction f runs immediately.
func afterCommit(ctx context.Context, f func()) {
	if st := txFrom(ctx); st != nil {
		st.onCommit = append(st.onCommit, f)
		return
	}
	f()
}

// InTx runs fn as one unit of work. Cache and queue store calls made with
// the ctx passed to fn share its transaction, and their status events are
// published only once it commits. Nested calls join the outer transaction.
func (s *SQLiteDatabase) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return runTx(ctx, s.db, func(ctx context.Context, _ *sql.Tx) error {
		return fn(ctx)
	})
}
