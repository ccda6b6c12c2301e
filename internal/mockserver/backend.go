// Package mockserver is a reference implementation of the remote REST API.
// It keeps resources in memory, honours idempotency keys and If-Match
// versions, and can inject the failures a field device meets in practice.
package mockserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
)

// ErrOffline is returned by Handle while the backend simulates an outage.
var ErrOffline = errors.New("server offline")

// Request is a transport-neutral API call.
type Request struct {
	Method string
	// Route is the resource collection path, e.g. "/orders".
	Route string
	// ID is the path id, or the client entity id for a POST.
	ID             string
	IdempotencyKey string
	IfMatch        string
	Token          string
	Body           json.RawMessage
}

// Response is the backend's answer to a Request.
type Response struct {
	Status int
	Body   json.RawMessage
	ID     string
	ETag   string
	// Replayed is set when the response came from the idempotency cache.
	Replayed bool
}

type cachedResponse struct {
	resp   Response
	method string
	route  string
	id     string
}

type resource struct {
	payload json.RawMessage
	version int
}

// Backend holds server state. Safe for concurrent use.
type Backend struct {
	mu        sync.Mutex
	resources map[string]map[string]*resource
	responses map[string]cachedResponse
	requests  []Request

	assignIDs bool
	nextID    int

	offline  bool
	failNext []int
	drop     int
	rejects  map[string]int
}

// Option configures a Backend.
type Option func(*Backend)

// WithAssignedIDs makes the backend replace client ids with its own ("srv-1", ...).
func WithAssignedIDs() Option {
	return func(b *Backend) { b.assignIDs = true }
}

func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		resources: make(map[string]map[string]*resource),
		responses: make(map[string]cachedResponse),
		rejects:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetOffline makes every call fail with ErrOffline until cleared.
func (b *Backend) SetOffline(offline bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offline = offline
}

// Offline reports whether an outage is being simulated.
func (b *Backend) Offline() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offline
}

// FailNext answers the next n calls with status without applying them.
func (b *Backend) FailNext(n, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < n; i++ {
		b.failNext = append(b.failNext, status)
	}
}

// DropResponses applies the next n writes but answers them with 504,
// as if the response was lost on the way back.
func (b *Backend) DropResponses(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drop += n
}

// Reject answers every write to route/id with status. A zero status clears it.
func (b *Backend) Reject(route, id string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.rejects, route+"/"+id)
		return
	}
	b.rejects[route+"/"+id] = status
}

// Put stores payload as a server-side edit and returns the new ETag.
func (b *Backend) Put(route, id string, payload json.RawMessage) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := b.collection(route)[id]
	if res == nil {
		res = &resource{}
		b.collection(route)[id] = res
	}
	res.version++
	res.payload = decorate(payload, id, res.version)
	return etag(res.version)
}

// Resource returns the stored payload and ETag of route/id.
func (b *Backend) Resource(route, id string) (json.RawMessage, string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	res, ok := b.resources[route][id]
	if !ok {
		return nil, "", false
	}
	return append(json.RawMessage(nil), res.payload...), etag(res.version), true
}

// Requests returns every call received, in arrival order.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

// Handle executes req against the in-memory state.
func (b *Backend) Handle(req Request) (Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.offline {
		return Response{}, ErrOffline
	}
	b.requests = append(b.requests, req)

	if len(b.failNext) > 0 {
		status := b.failNext[0]
		b.failNext = b.failNext[1:]
		return errorResponse(status, "injected failure"), nil
	}

	if req.Method == http.MethodGet {
		return b.get(req), nil
	}

	if req.IdempotencyKey != "" {
		if cached, ok := b.responses[req.IdempotencyKey]; ok {
			resp := cached.resp
			resp.Replayed = true
			return resp, nil
		}
	}

	if status, ok := b.rejects[req.Route+"/"+req.ID]; ok {
		return errorResponse(status, "rejected"), nil
	}

	var resp Response
	switch req.Method {
	case http.MethodPost:
		resp = b.create(req)
	case http.MethodPut:
		resp = b.update(req)
	case http.MethodDelete:
		resp = b.delete(req)
	default:
		resp = errorResponse(http.StatusMethodNotAllowed, "method not allowed")
	}

	// Only applied writes are remembered; a rejected key may be retried.
	if req.IdempotencyKey != "" && resp.Status < 300 {
		b.responses[req.IdempotencyKey] = cachedResponse{resp: resp, method: req.Method, route: req.Route, id: resp.ID}
	}

	if b.drop > 0 && resp.Status < 300 {
		b.drop--
		return errorResponse(http.StatusGatewayTimeout, "response lost"), nil
	}
	return resp, nil
}

func (b *Backend) collection(route string) map[string]*resource {
	c, ok := b.resources[route]
	if !ok {
		c = make(map[string]*resource)
		b.resources[route] = c
	}
	return c
}

func (b *Backend) get(req Request) Response {
	res, ok := b.resources[req.Route][req.ID]
	if !ok {
		return errorResponse(http.StatusNotFound, "not found")
	}
	return Response{Status: http.StatusOK, Body: res.payload, ID: req.ID, ETag: etag(res.version)}
}

func (b *Backend) create(req Request) Response {
	if !json.Valid(req.Body) {
		return errorResponse(http.StatusBadRequest, "body is not valid JSON")
	}
	id := req.ID
	if b.assignIDs || id == "" {
		b.nextID++
		id = "srv-" + strconv.Itoa(b.nextID)
	}
	c := b.collection(req.Route)
	if existing, ok := c[id]; ok {
		return Response{Status: http.StatusConflict, Body: existing.payload, ID: id, ETag: etag(existing.version)}
	}
	res := &resource{version: 1, payload: decorate(req.Body, id, 1)}
	c[id] = res
	return Response{Status: http.StatusCreated, Body: res.payload, ID: id, ETag: etag(res.version)}
}

func (b *Backend) update(req Request) Response {
	if !json.Valid(req.Body) {
		return errorResponse(http.StatusBadRequest, "body is not valid JSON")
	}
	res, ok := b.resources[req.Route][req.ID]
	if !ok {
		return errorResponse(http.StatusNotFound, "not found")
	}
	if req.IfMatch != "" && req.IfMatch != etag(res.version) {
		return Response{Status: http.StatusConflict, Body: res.payload, ID: req.ID, ETag: etag(res.version)}
	}
	res.version++
	res.payload = decorate(req.Body, req.ID, res.version)
	return Response{Status: http.StatusOK, Body: res.payload, ID: req.ID, ETag: etag(res.version)}
}

func (b *Backend) delete(req Request) Response {
	res, ok := b.resources[req.Route][req.ID]
	if !ok {
		return errorResponse(http.StatusNotFound, "not found")
	}
	if req.IfMatch != "" && req.IfMatch != etag(res.version) {
		return Response{Status: http.StatusPreconditionFailed, Body: res.payload, ID: req.ID, ETag: etag(res.version)}
	}
	delete(b.resources[req.Route], req.ID)
	// The id may be created again, so its earlier creates stop replaying.
	for key, cached := range b.responses {
		if cached.method == http.MethodPost && cached.route == req.Route && cached.id == req.ID {
			delete(b.responses, key)
		}
	}
	return Response{Status: http.StatusNoContent, ID: req.ID}
}

// decorate adds the server-owned "id" and "revision" fields to an object payload.
func decorate(payload json.RawMessage, id string, version int) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return append(json.RawMessage(nil), payload...)
	}
	fields["id"], _ = json.Marshal(id)
	fields["revision"], _ = json.Marshal(version)
	out, err := json.Marshal(fields)
	if err != nil {
		return append(json.RawMessage(nil), payload...)
	}
	return out
}

func etag(version int) string {
	return fmt.Sprintf("%q", strconv.Itoa(version))
}

func errorResponse(status int, message string) Response {
	body, _ := json.Marshal(map[string]string{"error": message})
	return Response{Status: status, Body: body}
}
