package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"fieldsync/internal/fieldsync"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name          string
		op            fieldsync.Operation
		status        int
		wantKind      fieldsync.ResultKind
		wantAmbiguous bool
		wantNotFound  bool
	}{
		{name: "created", op: fieldsync.OpCreate, status: http.StatusCreated, wantKind: fieldsync.ResultConfirmed},
		{name: "no content", op: fieldsync.OpDelete, status: http.StatusNoContent, wantKind: fieldsync.ResultConfirmed},
		{name: "delete of missing entity", op: fieldsync.OpDelete, status: http.StatusNotFound, wantKind: fieldsync.ResultConfirmed},
		{name: "update of missing entity", op: fieldsync.OpUpdate, status: http.StatusNotFound, wantKind: fieldsync.ResultPermanent, wantNotFound: true},
		{name: "fetch of missing entity", status: http.StatusNotFound, wantKind: fieldsync.ResultPermanent, wantNotFound: true},
		{name: "conflict", op: fieldsync.OpUpdate, status: http.StatusConflict, wantKind: fieldsync.ResultConflict},
		{name: "precondition failed", op: fieldsync.OpDelete, status: http.StatusPreconditionFailed, wantKind: fieldsync.ResultConflict},
		{name: "bad request", op: fieldsync.OpCreate, status: http.StatusBadRequest, wantKind: fieldsync.ResultPermanent},
		{name: "unauthorized", op: fieldsync.OpCreate, status: http.StatusUnauthorized, wantKind: fieldsync.ResultPermanent},
		{name: "forbidden", op: fieldsync.OpUpdate, status: http.StatusForbidden, wantKind: fieldsync.ResultPermanent},
		{name: "unprocessable", op: fieldsync.OpUpdate, status: http.StatusUnprocessableEntity, wantKind: fieldsync.ResultPermanent},
		{name: "request timeout", op: fieldsync.OpUpdate, status: http.StatusRequestTimeout, wantKind: fieldsync.ResultRetryable},
		{name: "too many requests", op: fieldsync.OpUpdate, status: http.StatusTooManyRequests, wantKind: fieldsync.ResultRetryable},
		{name: "service unavailable", op: fieldsync.OpUpdate, status: http.StatusServiceUnavailable, wantKind: fieldsync.ResultRetryable},
		{name: "internal error", op: fieldsync.OpUpdate, status: http.StatusInternalServerError, wantKind: fieldsync.ResultRetryable, wantAmbiguous: true},
		{name: "bad gateway", op: fieldsync.OpCreate, status: http.StatusBadGateway, wantKind: fieldsync.ResultRetryable, wantAmbiguous: true},
		{name: "gateway timeout", op: fieldsync.OpCreate, status: http.StatusGatewayTimeout, wantKind: fieldsync.ResultRetryable, wantAmbiguous: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyStatus(tt.op, tt.status, "reason")
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", got.Kind, tt.wantKind)
			}
			if got.Ambiguous != tt.wantAmbiguous {
				t.Errorf("Ambiguous = %v, want %v", got.Ambiguous, tt.wantAmbiguous)
			}
			if got.NotFound != tt.wantNotFound {
				t.Errorf("NotFound = %v, want %v", got.NotFound, tt.wantNotFound)
			}
			if got.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", got.StatusCode, tt.status)
			}
		})
	}
}

func TestClassifyTransportError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantAmbiguous bool
	}{
		{name: "dial", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, wantAmbiguous: false},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "api.example"}, wantAmbiguous: false},
		{name: "deadline", err: fmt.Errorf("sending: %w", context.DeadlineExceeded), wantAmbiguous: true},
		{name: "reset after write", err: &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}, wantAmbiguous: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyTransportError(tt.err)
			if got.Kind != fieldsync.ResultRetryable {
				t.Errorf("Kind = %s, want retryable", got.Kind)
			}
			if got.Ambiguous != tt.wantAmbiguous {
				t.Errorf("Ambiguous = %v, want %v", got.Ambiguous, tt.wantAmbiguous)
			}
		})
	}
}

func TestResolveRoutes(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		routes, err := ResolveRoutes(nil)
		if err != nil {
			t.Fatalf("ResolveRoutes() error = %v", err)
		}
		if routes[fieldsync.EntityMaterial] != "/inventory/materials" {
			t.Errorf("material route = %s, want /inventory/materials", routes[fieldsync.EntityMaterial])
		}
		if len(routes) != len(fieldsync.EntityTypes) {
			t.Errorf("len(routes) = %d, want %d", len(routes), len(fieldsync.EntityTypes))
		}
	})

	t.Run("override", func(t *testing.T) {
		routes, err := ResolveRoutes(map[string]string{"material": "/stock/items"})
		if err != nil {
			t.Fatalf("ResolveRoutes() error = %v", err)
		}
		if routes[fieldsync.EntityMaterial] != "/stock/items" {
			t.Errorf("material route = %s, want /stock/items", routes[fieldsync.EntityMaterial])
		}
		if DefaultRoutes[fieldsync.EntityMaterial] != "/inventory/materials" {
			t.Error("override modified DefaultRoutes")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := ResolveRoutes(map[string]string{"vehicle": "/vehicles"}); err == nil {
			t.Error("ResolveRoutes() expected error for unknown type, got nil")
		}
	})

	t.Run("malformed path", func(t *testing.T) {
		if _, err := ResolveRoutes(map[string]string{"order": "orders/"}); err == nil {
			t.Error("ResolveRoutes() expected error for malformed path, got nil")
		}
	})
}
