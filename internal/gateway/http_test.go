package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fieldsync/internal/fieldsync"
	"fieldsync/internal/mockserver"
)

func newTestHTTPGateway(t *testing.T, opts ...mockserver.Option) (*HTTPGateway, *mockserver.Backend) {
	t.Helper()
	backend := mockserver.NewBackend(opts...)
	srv := httptest.NewServer(mockserver.NewServer(backend, RoutePaths(DefaultRoutes)).Handler())
	t.Cleanup(srv.Close)

	g, err := NewHTTPGateway(srv.Client(), srv.URL, "/health", 2*time.Second, DefaultRoutes)
	if err != nil {
		t.Fatalf("NewHTTPGateway() error = %v", err)
	}
	return g, backend
}

func createInvoice(id, payload string) *fieldsync.Mutation {
	return &fieldsync.Mutation{
		Operation:      fieldsync.OpCreate,
		EntityType:     fieldsync.EntityInvoice,
		EntityID:       id,
		Payload:        json.RawMessage(payload),
		IdempotencyKey: id,
		ActorToken:     "actor-1",
	}
}

func TestHTTPGateway_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("create adopts server id and version", func(t *testing.T) {
		g, backend := newTestHTTPGateway(t, mockserver.WithAssignedIDs())

		res := g.Send(ctx, createInvoice("local-1", `{"amount":100}`))
		if res.Kind != fieldsync.ResultConfirmed {
			t.Fatalf("Send() = %s (%s), want confirmed", res.Kind, res.Reason)
		}
		if res.ServerID != "srv-1" || res.ServerVersion != `"1"` {
			t.Errorf("(ServerID, ServerVersion) = (%s, %s), want (srv-1, \"1\")", res.ServerID, res.ServerVersion)
		}
		if !strings.Contains(string(res.Payload), `"revision":1`) {
			t.Errorf("Payload = %s, want server fields", res.Payload)
		}

		reqs := backend.Requests()
		if len(reqs) != 1 {
			t.Fatalf("backend saw %d requests, want 1", len(reqs))
		}
		if reqs[0].Route != "/financial/invoices" || reqs[0].IdempotencyKey != "local-1" || reqs[0].ID != "local-1" || reqs[0].Token != "actor-1" {
			t.Errorf("request = %+v, want create headers", reqs[0])
		}
	})

	t.Run("lost response replays under the same key", func(t *testing.T) {
		g, backend := newTestHTTPGateway(t)
		backend.DropResponses(1)

		first := g.Send(ctx, createInvoice("inv-1", `{"amount":1}`))
		if first.Kind != fieldsync.ResultRetryable || !first.Ambiguous {
			t.Fatalf("first Send() = (%s, ambiguous %v), want ambiguous retryable", first.Kind, first.Ambiguous)
		}

		second := g.Send(ctx, createInvoice("inv-1", `{"amount":1}`))
		if second.Kind != fieldsync.ResultConfirmed {
			t.Fatalf("replay Send() = %s (%s), want confirmed", second.Kind, second.Reason)
		}
		if second.ServerVersion != `"1"` {
			t.Errorf("ServerVersion = %s, want the original version", second.ServerVersion)
		}
	})

	t.Run("stale base version conflicts", func(t *testing.T) {
		g, backend := newTestHTTPGateway(t)
		backend.Put("/financial/invoices", "inv-1", json.RawMessage(`{"amount":1}`))
		backend.Put("/financial/invoices", "inv-1", json.RawMessage(`{"amount":2}`))

		res := g.Send(ctx, &fieldsync.Mutation{
			Operation:      fieldsync.OpUpdate,
			EntityType:     fieldsync.EntityInvoice,
			EntityID:       "inv-1",
			Payload:        json.RawMessage(`{"amount":3}`),
			BaseVersion:    `"1"`,
			IdempotencyKey: "q-1",
		})
		if res.Kind != fieldsync.ResultConflict {
			t.Fatalf("Send() = %s, want conflict", res.Kind)
		}
		if !strings.Contains(string(res.Payload), `"amount":2`) || res.ServerVersion != `"2"` {
			t.Errorf("conflict = (%s, %s), want server copy at version 2", res.Payload, res.ServerVersion)
		}
	})

	t.Run("delete of missing entity is confirmed", func(t *testing.T) {
		g, _ := newTestHTTPGateway(t)
		res := g.Send(ctx, &fieldsync.Mutation{Operation: fieldsync.OpDelete, EntityType: fieldsync.EntityOrder, EntityID: "gone", IdempotencyKey: "q-1"})
		if res.Kind != fieldsync.ResultConfirmed {
			t.Errorf("Send() = %s, want confirmed", res.Kind)
		}
	})

	t.Run("rejection is permanent", func(t *testing.T) {
		g, backend := newTestHTTPGateway(t)
		backend.Reject("/orders", "o-1", http.StatusUnprocessableEntity)

		res := g.Send(ctx, &fieldsync.Mutation{Operation: fieldsync.OpCreate, EntityType: fieldsync.EntityOrder, EntityID: "o-1", Payload: json.RawMessage(`{}`), IdempotencyKey: "o-1"})
		if res.Kind != fieldsync.ResultPermanent || res.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("Send() = (%s, %d), want (permanent, 422)", res.Kind, res.StatusCode)
		}
		if !strings.Contains(res.Reason, "rejected") {
			t.Errorf("Reason = %q, want server message", res.Reason)
		}
	})

	t.Run("unrouted entity type", func(t *testing.T) {
		g, _ := newTestHTTPGateway(t)
		res := g.Send(ctx, &fieldsync.Mutation{Operation: fieldsync.OpCreate, EntityType: "vehicle", EntityID: "v-1"})
		if res.Kind != fieldsync.ResultPermanent {
			t.Errorf("Send() = %s, want permanent", res.Kind)
		}
	})
}

func TestHTTPGateway_TransportFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("connection refused is not ambiguous", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		g, err := NewHTTPGateway(nil, url, "", time.Second, DefaultRoutes)
		if err != nil {
			t.Fatalf("NewHTTPGateway() error = %v", err)
		}
		res := g.Send(ctx, createInvoice("inv-1", `{}`))
		if res.Kind != fieldsync.ResultRetryable || res.Ambiguous {
			t.Errorf("Send() = (%s, ambiguous %v), want unambiguous retryable", res.Kind, res.Ambiguous)
		}
		if err := g.Ping(ctx); err == nil {
			t.Error("Ping() expected error, got nil")
		}
	})

	t.Run("timeout is ambiguous", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}))
		defer srv.Close()

		g, err := NewHTTPGateway(srv.Client(), srv.URL, "", 50*time.Millisecond, DefaultRoutes)
		if err != nil {
			t.Fatalf("NewHTTPGateway() error = %v", err)
		}
		res := g.Send(ctx, createInvoice("inv-1", `{}`))
		if res.Kind != fieldsync.ResultRetryable || !res.Ambiguous {
			t.Errorf("Send() = (%s, ambiguous %v), want ambiguous retryable", res.Kind, res.Ambiguous)
		}
	})
}

func TestHTTPGateway_FetchAndPing(t *testing.T) {
	ctx := context.Background()
	g, backend := newTestHTTPGateway(t)
	backend.Put("/customers", "c-1", json.RawMessage(`{"name":"Ada"}`))

	res := g.Fetch(ctx, fieldsync.EntityCustomer, "c-1", "actor-1")
	if res.Kind != fieldsync.ResultConfirmed || !strings.Contains(string(res.Payload), `"name":"Ada"`) {
		t.Errorf("Fetch() = (%s, %s), want stored customer", res.Kind, res.Payload)
	}

	missing := g.Fetch(ctx, fieldsync.EntityCustomer, "c-9", "")
	if missing.Kind != fieldsync.ResultPermanent || !missing.NotFound {
		t.Errorf("Fetch(missing) = (%s, notFound %v), want permanent not found", missing.Kind, missing.NotFound)
	}

	if err := g.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	backend.SetOffline(true)
	if err := g.Ping(ctx); err == nil {
		t.Error("Ping() expected error while offline, got nil")
	}
}

func TestNewHTTPGateway_InvalidURL(t *testing.T) {
	if _, err := NewHTTPGateway(nil, "not a url", "", time.Second, DefaultRoutes); err == nil {
		t.Error("NewHTTPGateway() expected error, got nil")
	}
}
