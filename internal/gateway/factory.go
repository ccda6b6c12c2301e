package gateway

import (
	"context"
	"fmt"
	"net/http"

	"fieldsync/internal/config"
	"fieldsync/internal/fieldsync"
)

// NewGatewayFromConfig creates a RemoteGateway based on the gateway config type.
func NewGatewayFromConfig(ctx context.Context, cfg config.GatewayConfig) (fieldsync.RemoteGateway, error) {
	routes, err := ResolveRoutes(cfg.Routes)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "http", "":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("http gateway requires base_url to be set")
		}
		return NewHTTPGateway(&http.Client{}, cfg.BaseURL, cfg.PingPath, cfg.Timeout.Duration, routes)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 gateway requires s3_bucket to be set")
		}
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewS3Gateway(client, cfg.S3Bucket, cfg.S3Prefix, cfg.Timeout.Duration, routes), nil
	case "memory":
		return NewMemoryGateway(nil, routes), nil
	default:
		return nil, fmt.Errorf("unknown gateway type: %s", cfg.Type)
	}
}
