package queue

import (
	"fmt"

	"fieldsync/internal/config"
)

// NewSyncQueueFromConfig creates a Queue based on the queue config type.
// durable backs the "sqlite" type and is usually the local cache's queue store.
func NewSyncQueueFromConfig(cfg config.QueueConfig, retryCeiling int, durable Store) (*Queue, error) {
	switch cfg.Type {
	case "sqlite", "":
		if durable == nil {
			return nil, fmt.Errorf("sqlite queue requires a durable store")
		}
		return New(durable, retryCeiling), nil
	case "memory":
		return NewMemoryQueue(retryCeiling), nil
	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
}
