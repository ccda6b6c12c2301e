package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"fieldsync/internal/config"
	"fieldsync/internal/fieldsync"
	"fieldsync/internal/mockserver"
)

func TestMemoryGateway(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway(mockserver.NewBackend(mockserver.WithAssignedIDs()), nil)

	t.Run("offline is unambiguous", func(t *testing.T) {
		g.Backend().SetOffline(true)
		defer g.Backend().SetOffline(false)

		res := g.Send(ctx, createInvoice("local-1", `{}`))
		if res.Kind != fieldsync.ResultRetryable || res.Ambiguous {
			t.Errorf("Send() = (%s, ambiguous %v), want unambiguous retryable", res.Kind, res.Ambiguous)
		}
		if err := g.Ping(ctx); err == nil {
			t.Error("Ping() expected error while offline, got nil")
		}
	})

	t.Run("create and fetch", func(t *testing.T) {
		res := g.Send(ctx, createInvoice("local-1", `{"amount":5}`))
		if res.Kind != fieldsync.ResultConfirmed || res.ServerID != "srv-1" {
			t.Fatalf("Send() = (%s, %s), want confirmed srv-1", res.Kind, res.ServerID)
		}
		fetched := g.Fetch(ctx, fieldsync.EntityInvoice, "srv-1", "")
		if fetched.Kind != fieldsync.ResultConfirmed || fetched.ServerVersion != res.ServerVersion {
			t.Errorf("Fetch() = (%s, %s), want confirmed at %s", fetched.Kind, fetched.ServerVersion, res.ServerVersion)
		}
	})

	t.Run("permanent failures carry no payload", func(t *testing.T) {
		g.Backend().FailNext(1, http.StatusForbidden)
		res := g.Send(ctx, &fieldsync.Mutation{Operation: fieldsync.OpUpdate, EntityType: fieldsync.EntityInvoice, EntityID: "srv-1", Payload: json.RawMessage(`{}`)})
		if res.Kind != fieldsync.ResultPermanent || res.Payload != nil {
			t.Errorf("Send() = (%s, %s), want permanent without payload", res.Kind, res.Payload)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		if res := g.Send(canceled, createInvoice("x", `{}`)); res.Kind != fieldsync.ResultRetryable {
			t.Errorf("Send() = %s, want retryable", res.Kind)
		}
	})
}

func TestNewGatewayFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.GatewayConfig
		wantErr bool
	}{
		{name: "http", cfg: config.GatewayConfig{Type: "http", BaseURL: "http://localhost:8080"}},
		{name: "http without base url", cfg: config.GatewayConfig{Type: "http"}, wantErr: true},
		{name: "memory", cfg: config.GatewayConfig{Type: "memory"}},
		{name: "s3 without bucket", cfg: config.GatewayConfig{Type: "s3"}, wantErr: true},
		{name: "s3", cfg: config.GatewayConfig{Type: "s3", S3Bucket: "b", S3Region: "us-east-1", S3AccessKeyID: "k", S3SecretAccessKey: "s"}},
		{name: "bad route", cfg: config.GatewayConfig{Type: "memory", Routes: map[string]string{"boat": "/boats"}}, wantErr: true},
		{name: "unknown", cfg: config.GatewayConfig{Type: "grpc"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGatewayFromConfig(context.Background(), tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("NewGatewayFromConfig() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewGatewayFromConfig() error = %v", err)
			}
			if g == nil {
				t.Fatal("NewGatewayFromConfig() = nil")
			}
		})
	}
}
