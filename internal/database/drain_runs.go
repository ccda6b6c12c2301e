package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fieldsync/internal/fieldsync"
)

func (s *SQLiteDatabase) StartDrainRun(ctx context.Context, trigger string, startedAt time.Time) (int64, error) {
	res, err := conn(ctx, s.db).ExecContext(ctx, "INSERT INTO drain_runs (trigger_source, started_at) VALUES (?, ?)", trigger, startedAt)
	if err != nil {
		return 0, fmt.Errorf("inserting drain run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading drain run id: %w", err)
	}
	return id, nil
}

func (s *SQLiteDatabase) FinishDrainRun(ctx context.Context, report *fieldsync.DrainReport) error {
	_, err := conn(ctx, s.db).ExecContext(ctx, `
		UPDATE drain_runs SET
			finished_at = ?, attempted = ?, confirmed = ?, retried = ?, conflicted = ?, remaining = ?, stop_reason = ?
		WHERE id = ?`,
		report.FinishedAt, report.Attempted, report.Confirmed, report.Retried, report.Conflicted, report.Remaining, string(report.Reason), report.RunID,
	)
	if err != nil {
		return fmt.Errorf("finishing drain run: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListDrainRuns(ctx context.Context, limit int) ([]*fieldsync.DrainRun, error) {
	rows, err := conn(ctx, s.db).QueryContext(ctx, `
		SELECT id, trigger_source, started_at, finished_at, attempted, confirmed, retried, conflicted, remaining, stop_reason
		FROM drain_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing drain runs: %w", err)
	}
	defer rows.Close()

	var out []*fieldsync.DrainRun
	for rows.Next() {
		var (
			run      fieldsync.DrainRun
			finished sql.NullTime
			reason   string
		)
		if err := rows.Scan(&run.ID, &run.Trigger, &run.StartedAt, &finished, &run.Attempted, &run.Confirmed, &run.Retried, &run.Conflicted, &run.Remaining, &reason); err != nil {
			return nil, fmt.Errorf("scanning drain run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		run.Reason = fieldsync.StopReason(reason)
		out = append(out, &run)
	}
	return out, rows.Err()
}
