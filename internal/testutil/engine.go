package testutil

import (
	"testing"

	"fieldsync/internal/database"
	"fieldsync/internal/fieldsync"
	"fieldsync/internal/gateway"
	"fieldsync/internal/mockserver"
	"fieldsync/internal/queue"
)

// DefaultRetryCeiling is the queue retry ceiling used by test engines.
const DefaultRetryCeiling = 5

// Harness bundles an Engine with the collaborators a test inspects.
type Harness struct {
	Engine  *fieldsync.Engine
	DB      *database.SQLiteDatabase
	Queue   *queue.Queue
	Gateway *gateway.MemoryGateway
	Backend *mockserver.Backend
	Clock   *StubClock
	IDs     *StubIDGenerator
}

// NewTestGateway returns an in-process gateway backed by backend.
func NewTestGateway(backend *mockserver.Backend) *gateway.MemoryGateway {
	return gateway.NewMemoryGateway(backend, nil)
}

// NewTestEngine wires an Engine over an in-memory database, a durable queue
// and an in-process mock server.
func NewTestEngine(t *testing.T, backend *mockserver.Backend, opts ...fieldsync.EngineOption) *Harness {
	t.Helper()

	if backend == nil {
		backend = mockserver.NewBackend()
	}
	clock := FixedClock()
	db := NewTestDatabase(t, clock)
	q := queue.New(database.NewQueueStore(db), DefaultRetryCeiling)
	gw := NewTestGateway(backend)
	ids := NewStubIDGenerator()

	cfg := fieldsync.DefaultEngineConfig()
	opts = append([]fieldsync.EngineOption{fieldsync.WithDrainLog(db)}, opts...)
	engine := fieldsync.NewEngine(db, q, gw, cfg, fieldsync.NewNopLogger(), clock, ids, opts...)

	return &Harness{
		Engine:  engine,
		DB:      db,
		Queue:   q,
		Gateway: gw,
		Backend: backend,
		Clock:   clock,
		IDs:     ids,
	}
}
