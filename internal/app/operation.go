package app

import "time"

// Operation identifies one CLI invocation. Its ID tags every log line the
// invocation writes, so interleaved runs can be told apart in the log file.
type Operation struct {
	ID        string
	Command   string
	StartedAt time.Time
}

// NewOperation creates an operation for command started at now.
func NewOperation(command string, now time.Time) *Operation {
	return &Operation{
		ID:        now.UTC().Format("20060102T150405Z"),
		Command:   command,
		StartedAt: now,
	}
}

// Elapsed returns the time since the operation started.
func (op *Operation) Elapsed(now time.Time) time.Duration {
	return now.Sub(op.StartedAt)
}
