package fieldsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// EntityType names a business entity kind handled by the sync engine.
type EntityType string

const (
	EntityOrder    EntityType = "order"
	EntityCustomer EntityType = "customer"
	EntityMaterial EntityType = "material"
	EntityTask     EntityType = "task"
	EntityInvoice  EntityType = "invoice"
	EntityPayment  EntityType = "payment"
)

// EntityTypes lists every supported entity type in display order.
var EntityTypes = []EntityType{
	EntityOrder,
	EntityCustomer,
	EntityMaterial,
	EntityTask,
	EntityInvoice,
	EntityPayment,
}

// ParseEntityType validates s against the supported entity types.
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range EntityTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown entity type %q: %w", s, ErrInvalid)
}

// Operation is the kind of mutation applied to an entity.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ParseOperation validates s against the supported operations.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpCreate, OpUpdate, OpDelete:
		return Operation(s), nil
	}
	return "", fmt.Errorf("unknown operation %q: %w", s, ErrInvalid)
}

// SyncState is the synchronization state of a local record.
type SyncState string

const (
	StateSynced     SyncState = "synced"
	StatePending    SyncState = "pending"
	StateConflicted SyncState = "conflicted"
)

// ParseSyncState validates s against the known sync states.
func ParseSyncState(s string) (SyncState, error) {
	switch SyncState(s) {
	case StateSynced, StatePending, StateConflicted:
		return SyncState(s), nil
	}
	return "", fmt.Errorf("unknown sync state %q: %w", s, ErrInvalid)
}

// EntityRecord is the locally cached copy of one entity.
type EntityRecord struct {
	Type    EntityType
	ID      string
	Payload json.RawMessage
	// Version is advanced by the LocalStore on every upsert or delete.
	Version int64
	State   SyncState
	// RemoteVersion is the server's version token for the last confirmed state.
	RemoteVersion string
	// Deleted marks a tombstone awaiting a confirmed remote delete.
	Deleted   bool
	UpdatedAt time.Time
	Conflict  *Conflict
}

// Key returns the identity of the record.
func (r *EntityRecord) Key() EntityKey {
	return EntityKey{Type: r.Type, ID: r.ID}
}

// Clone returns a deep copy of r.
func (r *EntityRecord) Clone() *EntityRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Payload = cloneRaw(r.Payload)
	if r.Conflict != nil {
		conflict := *r.Conflict
		conflict.LocalPayload = cloneRaw(r.Conflict.LocalPayload)
		conflict.ServerPayload = cloneRaw(r.Conflict.ServerPayload)
		c.Conflict = &conflict
	}
	return &c
}

// Conflict records why an entity stopped syncing and what each side holds.
type Conflict struct {
	Kind          ErrorKind       `json:"kind"`
	Message       string          `json:"message"`
	StatusCode    int             `json:"status_code,omitempty"`
	Operation     Operation       `json:"operation"`
	LocalPayload  json.RawMessage `json:"local_payload,omitempty"`
	ServerPayload json.RawMessage `json:"server_payload,omitempty"`
	ServerVersion string          `json:"server_version,omitempty"`
	DetectedAt    time.Time       `json:"detected_at"`
}

// EntityKey identifies a record by type and id.
type EntityKey struct {
	Type EntityType
	ID   string
}

func (k EntityKey) String() string {
	return string(k.Type) + "/" + k.ID
}

// Filter narrows List results. Zero value matches every live record.
type Filter struct {
	States []SyncState
	// Fields matches top-level payload keys. String values compare directly,
	// other JSON values compare by their encoded form.
	Fields         map[string]string
	IncludeDeleted bool
}

// Match reports whether rec satisfies the filter.
func (f Filter) Match(rec *EntityRecord) bool {
	if rec.Deleted && !f.IncludeDeleted {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if rec.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Fields) == 0 {
		return true
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rec.Payload, &fields); err != nil {
		return false
	}
	for key, want := range f.Fields {
		raw, ok := fields[key]
		if !ok {
			return false
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != want {
				return false
			}
			continue
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, raw); err != nil || compact.String() != want {
			return false
		}
	}
	return true
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
