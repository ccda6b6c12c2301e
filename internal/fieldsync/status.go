package fieldsync

import "sync"

// StatusEvent announces a change to a record's sync state.
type StatusEvent struct {
	Type    EntityType
	ID      string
	State   SyncState
	Version int64
	Deleted bool
	// Purged is set when the record was physically removed.
	Purged bool
	// PreviousID is set when the record moved to a server-assigned id.
	PreviousID string
}

// StatusHub fans status events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event and must re-query.
type StatusHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan StatusEvent
}

func NewStatusHub() *StatusHub {
	return &StatusHub{subs: make(map[int]chan StatusEvent)}
}

// Subscribe returns a channel of events and a cancel function that closes it.
func (h *StatusHub) Subscribe(buffer int) (<-chan StatusEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan StatusEvent, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
		})
	}
}

// Publish delivers ev to every subscriber with room in its buffer.
func (h *StatusHub) Publish(ev StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close cancels every subscription.
func (h *StatusHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
