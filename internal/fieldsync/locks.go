package fieldsync

import "sync"

// entityLocks hands out one mutex per entity, created on demand and dropped
// once no goroutine holds or waits for it.
type entityLocks struct {
	mu    sync.Mutex
	locks map[EntityKey]*entityLock
}

type entityLock struct {
	sync.Mutex
	refs int
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[EntityKey]*entityLock)}
}

// lock blocks until the entity is free and returns the unlock function.
func (l *entityLocks) lock(key EntityKey) func() {
	l.mu.Lock()
	el, ok := l.locks[key]
	if !ok {
		el = &entityLock{}
		l.locks[key] = el
	}
	el.refs++
	l.mu.Unlock()

	el.Lock()
	return func() {
		el.Unlock()
		l.mu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
