package database

import (
	"context"
	"testing"
	"time"

	"fieldsync/internal/fieldsync"
)

func TestSQLiteDatabase_DrainRuns(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, nil)
	start := newTestClock().Now()

	first, err := db.StartDrainRun(ctx, "timer", start)
	if err != nil {
		t.Fatalf("StartDrainRun() error = %v", err)
	}
	finished := start.Add(3 * time.Second)
	report := &fieldsync.DrainReport{
		RunID:      first,
		Trigger:    "timer",
		StartedAt:  start,
		FinishedAt: finished,
		Attempted:  4,
		Confirmed:  2,
		Retried:    1,
		Conflicted: 1,
		Remaining:  1,
		Reason:     fieldsync.StopEmpty,
	}
	if err := db.FinishDrainRun(ctx, report); err != nil {
		t.Fatalf("FinishDrainRun() error = %v", err)
	}

	second, err := db.StartDrainRun(ctx, "online", start.Add(time.Minute))
	if err != nil {
		t.Fatalf("StartDrainRun() error = %v", err)
	}

	runs, err := db.ListDrainRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListDrainRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListDrainRuns() returned %d runs, want 2", len(runs))
	}

	t.Run("newest first and unfinished", func(t *testing.T) {
		got := runs[0]
		if got.ID != second || got.Trigger != "online" {
			t.Errorf("runs[0] = (%d, %s), want (%d, online)", got.ID, got.Trigger, second)
		}
		if got.FinishedAt != nil {
			t.Errorf("FinishedAt = %v, want nil", got.FinishedAt)
		}
	})

	t.Run("finished run keeps counters", func(t *testing.T) {
		got := runs[1]
		if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
			t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
		}
		if got.Attempted != 4 || got.Confirmed != 2 || got.Retried != 1 || got.Conflicted != 1 || got.Remaining != 1 {
			t.Errorf("counters = %+v, want 4/2/1/1/1", got)
		}
		if got.Reason != fieldsync.StopEmpty {
			t.Errorf("Reason = %s, want %s", got.Reason, fieldsync.StopEmpty)
		}
	})

	t.Run("limit", func(t *testing.T) {
		runs, err := db.ListDrainRuns(ctx, 1)
		if err != nil {
			t.Fatalf("ListDrainRuns() error = %v", err)
		}
		if len(runs) != 1 {
			t.Errorf("ListDrainRuns(1) returned %d runs", len(runs))
		}
	})
}
