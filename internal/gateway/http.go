package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fieldsync/internal/fieldsync"
)

// maxResponseBody bounds how much of a response is read into memory.
const maxResponseBody = 4 << 20

// HTTPGateway talks to the REST API described by the route table.
type HTTPGateway struct {
	client   *http.Client
	baseURL  string
	pingPath string
	timeout  time.Duration
	routes   map[fieldsync.EntityType]string
}

var _ fieldsync.RemoteGateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates a gateway for baseURL. A nil client uses a default
// client without its own timeout; the per-call timeout is applied through
// the request context.
func NewHTTPGateway(client *http.Client, baseURL, pingPath string, timeout time.Duration, routes map[fieldsync.EntityType]string) (*HTTPGateway, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if client == nil {
		client = &http.Client{}
	}
	if pingPath == "" {
		pingPath = "/health"
	}
	return &HTTPGateway{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		pingPath: pingPath,
		timeout:  timeout,
		routes:   routes,
	}, nil
}

func (g *HTTPGateway) Send(ctx context.Context, m *fieldsync.Mutation) fieldsync.Result {
	route, ok := g.routes[m.EntityType]
	if !ok {
		return fieldsync.Permanent(fmt.Sprintf("no route for entity type %q", m.EntityType))
	}

	var method, target string
	switch m.Operation {
	case fieldsync.OpCreate:
		method, target = http.MethodPost, g.baseURL+route
	case fieldsync.OpUpdate:
		method, target = http.MethodPut, g.baseURL+route+"/"+url.PathEscape(m.EntityID)
	case fieldsync.OpDelete:
		method, target = http.MethodDelete, g.baseURL+route+"/"+url.PathEscape(m.EntityID)
	default:
		return fieldsync.Permanent(fmt.Sprintf("unknown operation %q", m.Operation))
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	var body io.Reader
	if m.Operation != fieldsync.OpDelete {
		body = bytes.NewReader(m.Payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fieldsync.Permanent(fmt.Sprintf("building request: %v", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if m.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", m.IdempotencyKey)
	}
	if m.Operation == fieldsync.OpCreate {
		req.Header.Set("X-Client-Entity-ID", m.EntityID)
	} else if m.BaseVersion != "" {
		req.Header.Set("If-Match", m.BaseVersion)
	}
	setAuthorization(req, m.ActorToken)

	res := g.do(req, m.Operation)
	if res.Kind == fieldsync.ResultConfirmed && res.ServerID == "" {
		res.ServerID = m.EntityID
	}
	return res
}

func (g *HTTPGateway) Fetch(ctx context.Context, entityType fieldsync.EntityType, id string, actorToken string) fieldsync.Result {
	route, ok := g.routes[entityType]
	if !ok {
		return fieldsync.Permanent(fmt.Sprintf("no route for entity type %q", entityType))
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+route+"/"+url.PathEscape(id), nil)
	if err != nil {
		return fieldsync.Permanent(fmt.Sprintf("building request: %v", err))
	}
	req.Header.Set("Accept", "application/json")
	setAuthorization(req, actorToken)

	res := g.do(req, "")
	if res.Kind == fieldsync.ResultConfirmed && res.ServerID == "" {
		res.ServerID = id
	}
	return res
}

func (g *HTTPGateway) Ping(ctx context.Context) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+g.pingPath, nil)
	if err != nil {
		return fmt.Errorf("building ping request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("pinging %s: %w", g.baseURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("pinging %s: status %d", g.baseURL, resp.StatusCode)
	}
	return nil
}

func (g *HTTPGateway) do(req *http.Request, op fieldsync.Operation) fieldsync.Result {
	resp, err := g.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		// Headers arrived, so the server received the request.
		return fieldsync.Retryable(fmt.Sprintf("reading response: %v", err), true)
	}

	res := classifyStatus(op, resp.StatusCode, fmt.Sprintf("%s %s: %s", req.Method, req.URL.Path, statusReason(resp.StatusCode, body)))
	res.ServerVersion = resp.Header.Get("ETag")
	res.ServerID = resp.Header.Get("X-Entity-ID")
	okStatus := resp.StatusCode < 300 || res.Kind == fieldsync.ResultConflict
	if okStatus && json.Valid(body) {
		res.Payload = body
	}
	return res
}

func (g *HTTPGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func setAuthorization(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func statusReason(status int, body []byte) string {
	reason := http.StatusText(status)
	var msg struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &msg) == nil && msg.Error != "" {
		reason += ": " + msg.Error
	}
	return reason
}
