// Package connectivity provides fieldsync.ConnectivityMonitor implementations.
package connectivity

import (
	"sync"

	"fieldsync/internal/fieldsync"
)

// Manual is a monitor whose state is set by the embedding application,
// for example from the platform's network callbacks.
type Manual struct {
	mu      sync.Mutex
	online  bool
	changes chan bool
}

var _ fieldsync.ConnectivityMonitor = (*Manual)(nil)

func NewManual(online bool) *Manual {
	return &Manual{online: online, changes: make(chan bool, 1)}
}

// Set records the state. Only transitions are delivered on Changes; a slow
// reader sees the latest state rather than every flip.
func (m *Manual) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online

	select {
	case m.changes <- online:
	default:
		select {
		case <-m.changes:
		default:
		}
		select {
		case m.changes <- online:
		default:
		}
	}
}

func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Manual) Changes() <-chan bool {
	return m.changes
}
