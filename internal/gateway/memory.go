package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"fieldsync/internal/fieldsync"
	"fieldsync/internal/mockserver"
)

// MemoryGateway serves requests from an in-process mock backend, without HTTP.
type MemoryGateway struct {
	backend *mockserver.Backend
	routes  map[fieldsync.EntityType]string
}

var _ fieldsync.RemoteGateway = (*MemoryGateway)(nil)

// NewMemoryGateway wraps backend. A nil backend creates an empty one.
func NewMemoryGateway(backend *mockserver.Backend, routes map[fieldsync.EntityType]string) *MemoryGateway {
	if backend == nil {
		backend = mockserver.NewBackend()
	}
	if routes == nil {
		routes = DefaultRoutes
	}
	return &MemoryGateway{backend: backend, routes: routes}
}

// Backend exposes the mock server state for fault injection.
func (g *MemoryGateway) Backend() *mockserver.Backend {
	return g.backend
}

func (g *MemoryGateway) Send(ctx context.Context, m *fieldsync.Mutation) fieldsync.Result {
	route, ok := g.routes[m.EntityType]
	if !ok {
		return fieldsync.Permanent(fmt.Sprintf("no route for entity type %q", m.EntityType))
	}

	req := mockserver.Request{
		Route:          route,
		ID:             m.EntityID,
		IdempotencyKey: m.IdempotencyKey,
		Token:          m.ActorToken,
	}
	switch m.Operation {
	case fieldsync.OpCreate:
		req.Method = http.MethodPost
		req.Body = m.Payload
	case fieldsync.OpUpdate:
		req.Method = http.MethodPut
		req.Body = m.Payload
		req.IfMatch = m.BaseVersion
	case fieldsync.OpDelete:
		req.Method = http.MethodDelete
		req.IfMatch = m.BaseVersion
	default:
		return fieldsync.Permanent(fmt.Sprintf("unknown operation %q", m.Operation))
	}

	res := g.handle(ctx, req, m.Operation)
	if res.Kind == fieldsync.ResultConfirmed && res.ServerID == "" {
		res.ServerID = m.EntityID
	}
	return res
}

func (g *MemoryGateway) Fetch(ctx context.Context, entityType fieldsync.EntityType, id string, actorToken string) fieldsync.Result {
	route, ok := g.routes[entityType]
	if !ok {
		return fieldsync.Permanent(fmt.Sprintf("no route for entity type %q", entityType))
	}
	return g.handle(ctx, mockserver.Request{Method: http.MethodGet, Route: route, ID: id, Token: actorToken}, "")
}

func (g *MemoryGateway) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.backend.Offline() {
		return mockserver.ErrOffline
	}
	return nil
}

func (g *MemoryGateway) handle(ctx context.Context, req mockserver.Request, op fieldsync.Operation) fieldsync.Result {
	if err := ctx.Err(); err != nil {
		return fieldsync.Retryable(err.Error(), false)
	}
	resp, err := g.backend.Handle(req)
	if errors.Is(err, mockserver.ErrOffline) {
		return fieldsync.Retryable("unreachable: server offline", false)
	}
	if err != nil {
		return fieldsync.Retryable(err.Error(), true)
	}

	res := classifyStatus(op, resp.Status, fmt.Sprintf("%s %s: %s", req.Method, req.Route, statusReason(resp.Status, resp.Body)))
	res.ServerID = resp.ID
	res.ServerVersion = resp.ETag
	if resp.Status < 300 || res.Kind == fieldsync.ResultConflict {
		res.Payload = resp.Body
	}
	return res
}
