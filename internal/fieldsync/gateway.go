package fieldsync

import (
	"context"
	"encoding/json"
)

// RemoteGateway sends mutations to the server and classifies the outcome.
// Implementations apply a fixed per-call timeout and never retry on their own.
type RemoteGateway interface {
	// Send issues one mutation. Transport failures are reported through the
	// Result, never as a Go error.
	Send(ctx context.Context, m *Mutation) Result

	// Fetch reads the server's current representation of an entity.
	// A missing entity yields a Permanent result with NotFound set.
	Fetch(ctx context.Context, entityType EntityType, id string, actorToken string) Result

	// Ping reports whether the server is reachable.
	Ping(ctx context.Context) error
}

// Mutation is a single write sent to the server.
type Mutation struct {
	Operation  Operation
	EntityType EntityType
	EntityID   string
	Payload    json.RawMessage
	// BaseVersion is the server version the change was made against.
	BaseVersion    string
	IdempotencyKey string
	ActorToken     string
}

// ResultKind is the classification of a remote call.
type ResultKind int

const (
	ResultConfirmed ResultKind = iota
	ResultRetryable
	ResultPermanent
	ResultConflict
)

func (k ResultKind) String() string {
	switch k {
	case ResultConfirmed:
		return "confirmed"
	case ResultRetryable:
		return "retryable"
	case ResultPermanent:
		return "permanent"
	case ResultConflict:
		return "conflict"
	}
	return "unknown"
}

// ErrorKind maps a failed result to the error taxonomy.
func (k ResultKind) ErrorKind() ErrorKind {
	switch k {
	case ResultPermanent:
		return KindPermanent
	case ResultConflict:
		return KindConflict
	default:
		return KindRetryable
	}
}

// Result is the classified outcome of a remote call.
type Result struct {
	Kind ResultKind
	// Payload is the server representation: the stored entity on success,
	// the current server entity on conflict.
	Payload       json.RawMessage
	ServerID      string
	ServerVersion string
	StatusCode    int
	Reason        string
	// Ambiguous marks a retryable failure where the request may have been applied.
	Ambiguous bool
	// NotFound marks a permanent failure caused by a missing entity.
	NotFound bool
}

// Confirmed builds a successful result.
func Confirmed(payload json.RawMessage, serverID, serverVersion string) Result {
	return Result{Kind: ResultConfirmed, Payload: payload, ServerID: serverID, ServerVersion: serverVersion}
}

// Retryable builds a transient failure result.
func Retryable(reason string, ambiguous bool) Result {
	return Result{Kind: ResultRetryable, Reason: reason, Ambiguous: ambiguous}
}

// Permanent builds a non-retryable failure result.
func Permanent(reason string) Result {
	return Result{Kind: ResultPermanent, Reason: reason}
}

// ConflictResult builds a conflict result carrying the server's copy.
func ConflictResult(payload json.RawMessage, serverVersion, reason string) Result {
	return Result{Kind: ResultConflict, Payload: payload, ServerVersion: serverVersion, Reason: reason}
}
