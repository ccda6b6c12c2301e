package fieldsync

import "time"

// Metrics receives sync engine measurements.
type Metrics interface {
	// WriteCompleted counts a foreground write by operation and outcome.
	WriteCompleted(op Operation, outcome string)
	// ItemDrained counts one drained queue item by entity type and outcome.
	ItemDrained(entityType EntityType, outcome string)
	// DrainFinished observes a completed drain pass.
	DrainFinished(elapsed time.Duration, reason StopReason)
	// QueueDepth reports the number of pending queue items.
	QueueDepth(n int)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) WriteCompleted(Operation, string)        {}
func (NopMetrics) ItemDrained(EntityType, string)          {}
func (NopMetrics) DrainFinished(time.Duration, StopReason) {}
func (NopMetrics) QueueDepth(int)                          {}
