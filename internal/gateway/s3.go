package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"fieldsync/internal/config"
	"fieldsync/internal/fieldsync"
)

const idempotencyMetadataKey = "idempotency-key"

// S3API is the subset of the S3 client used by S3Gateway.
type S3API interface {
	manager.DownloadAPIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Gateway stores each entity as a JSON object:
//
//	<prefix>/<route>/<id>.json
//
// Object ETags act as server versions. Creates use If-None-Match and
// updates and deletes use If-Match, so concurrent edits surface as conflicts.
// The idempotency key travels as object metadata.
type S3Gateway struct {
	client     S3API
	downloader *manager.Downloader
	bucket     string
	prefix     string
	timeout    time.Duration
	routes     map[fieldsync.EntityType]string
}

var _ fieldsync.RemoteGateway = (*S3Gateway)(nil)

func NewS3Gateway(client S3API, bucket, prefix string, timeout time.Duration, routes map[fieldsync.EntityType]string) *S3Gateway {
	return &S3Gateway{
		client:     client,
		downloader: manager.NewDownloader(client),
		bucket:     bucket,
		prefix:     strings.Trim(prefix, "/"),
		timeout:    timeout,
		routes:     routes,
	}
}

// NewS3Client builds an S3 client from gateway configuration. Static
// credentials are used when both keys are set; otherwise the default AWS
// credential chain applies.
func NewS3Client(ctx context.Context, cfg config.GatewayConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	}), nil
}

func (g *S3Gateway) objectKey(entityType fieldsync.EntityType, id string) (string, bool) {
	route, ok := g.routes[entityType]
	if !ok {
		return "", false
	}
	return path.Join(g.prefix, strings.TrimPrefix(route, "/"), id+".json"), true
}

func (g *S3Gateway) Send(ctx context.Context, m *fieldsync.Mutation) fieldsync.Result {
	key, ok := g.objectKey(m.EntityType, m.EntityID)
	if !ok {
		return fieldsync.Permanent(fmt.Sprintf("no route for entity type %q", m.EntityType))
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	switch m.Operation {
	case fieldsync.OpCreate, fieldsync.OpUpdate:
		return g.put(ctx, key, m)
	case fieldsync.OpDelete:
		input := &s3.DeleteObjectInput{Bucket: aws.String(g.bucket), Key: aws.String(key)}
		if m.BaseVersion != "" {
			input.IfMatch = aws.String(m.BaseVersion)
		}
		if _, err := g.client.DeleteObject(ctx, input); err != nil {
			return g.conflictDetail(ctx, m, classifyS3Error(m.Operation, err))
		}
		return fieldsync.Confirmed(nil, m.EntityID, "")
	default:
		return fieldsync.Permanent(fmt.Sprintf("unknown operation %q", m.Operation))
	}
}

func (g *S3Gateway) put(ctx context.Context, key string, m *fieldsync.Mutation) fieldsync.Result {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(m.Payload),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{idempotencyMetadataKey: m.IdempotencyKey},
	}
	if m.Operation == fieldsync.OpCreate {
		input.IfNoneMatch = aws.String("*")
	} else if m.BaseVersion != "" {
		input.IfMatch = aws.String(m.BaseVersion)
	}

	out, err := g.client.PutObject(ctx, input)
	if err != nil {
		res := classifyS3Error(m.Operation, err)
		if res.Kind != fieldsync.ResultConflict {
			return res
		}
		// A precondition failure may be our own earlier attempt that lost its response.
		head, herr := g.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(g.bucket), Key: aws.String(key)})
		if herr == nil && m.IdempotencyKey != "" && head.Metadata[idempotencyMetadataKey] == m.IdempotencyKey {
			return fieldsync.Confirmed(m.Payload, m.EntityID, aws.ToString(head.ETag))
		}
		return g.conflictDetail(ctx, m, res)
	}
	return fieldsync.Confirmed(m.Payload, m.EntityID, aws.ToString(out.ETag))
}

// conflictDetail attaches the current server object to a conflict result.
func (g *S3Gateway) conflictDetail(ctx context.Context, m *fieldsync.Mutation, res fieldsync.Result) fieldsync.Result {
	if res.Kind != fieldsync.ResultConflict {
		return res
	}
	current := g.fetch(ctx, m.EntityType, m.EntityID)
	if current.Kind == fieldsync.ResultConfirmed {
		res.Payload = current.Payload
		res.ServerVersion = current.ServerVersion
	}
	return res
}

func (g *S3Gateway) Fetch(ctx context.Context, entityType fieldsync.EntityType, id string, actorToken string) fieldsync.Result {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	return g.fetch(ctx, entityType, id)
}

func (g *S3Gateway) fetch(ctx context.Context, entityType fieldsync.EntityType, id string) fieldsync.Result {
	key, ok := g.objectKey(entityType, id)
	if !ok {
		return fieldsync.Permanent(fmt.Sprintf("no route for entity type %q", entityType))
	}

	head, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(g.bucket), Key: aws.String(key)})
	if err != nil {
		return classifyS3Error("", err)
	}

	buf := manager.NewWriteAtBuffer(nil)
	_, err = g.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket:  aws.String(g.bucket),
		Key:     aws.String(key),
		IfMatch: head.ETag,
	})
	if err != nil {
		return classifyS3Error("", err)
	}
	return fieldsync.Confirmed(buf.Bytes(), id, aws.ToString(head.ETag))
}

func (g *S3Gateway) Ping(ctx context.Context) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	if _, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(g.bucket)}); err != nil {
		return fmt.Errorf("checking bucket %s: %w", g.bucket, err)
	}
	return nil
}

func (g *S3Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func classifyS3Error(op fieldsync.Operation, err error) fieldsync.Result {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() != 0 {
		return classifyStatus(op, respErr.HTTPStatusCode(), err.Error())
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return classifyStatus(op, http.StatusNotFound, apiErr.ErrorMessage())
		case "PreconditionFailed":
			return classifyStatus(op, http.StatusPreconditionFailed, apiErr.ErrorMessage())
		case "ConditionalRequestConflict":
			return classifyStatus(op, http.StatusConflict, apiErr.ErrorMessage())
		}
	}
	return classifyTransportError(err)
}
