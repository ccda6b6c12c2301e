package fieldsync

import (
	"context"
	"time"
)

// DrainRun is a persisted drain pass.
type DrainRun struct {
	ID         int64
	Trigger    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Attempted  int
	Confirmed  int
	Retried    int
	Conflicted int
	Remaining  int
	Reason     StopReason
}

// DrainLog persists drain passes for later inspection.
type DrainLog interface {
	// StartDrainRun records the start of a pass and returns its id.
	StartDrainRun(ctx context.Context, trigger string, startedAt time.Time) (int64, error)

	// FinishDrainRun stores the final counts of a pass.
	FinishDrainRun(ctx context.Context, report *DrainReport) error

	// ListDrainRuns returns the most recent passes, newest first.
	ListDrainRuns(ctx context.Context, limit int) ([]*DrainRun, error)
}
