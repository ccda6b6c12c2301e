package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"fieldsync/internal/config"
	"fieldsync/internal/database"
	"fieldsync/internal/encryption"
	"fieldsync/internal/fieldsync"
	"fieldsync/internal/gateway"
	"fieldsync/internal/metrics"
	"fieldsync/internal/queue"
)

// Options customizes how a FieldsyncApp is built.
type Options struct {
	// Passphrase unlocks an age-encrypted cache. Only called when needed.
	Passphrase func() (string, error)
	// Stderr receives log lines alongside the log file. Nil keeps logs in the file only.
	Stderr io.Writer
	// Verbose enables debug logging.
	Verbose bool
}

// FieldsyncApp is the application layer between the CLI and the sync engine.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw strings, and manages the DB lifecycle on Close.
type FieldsyncApp struct {
	cfg     *config.Config
	db      *database.SQLiteDatabase
	queue   *queue.Queue
	gateway fieldsync.RemoteGateway
	metrics *metrics.Prometheus
	engine  *fieldsync.Engine
	logger  *slog.Logger
	op      *Operation
	logFile io.Closer
}

// NewFieldsyncApp creates a fully wired FieldsyncApp from the given config.
// command identifies the CLI command being run (e.g. "put", "drain").
// The caller must call Close when done.
func NewFieldsyncApp(ctx context.Context, cfg *config.Config, command string, opts Options) (*FieldsyncApp, error) {
	clock := fieldsync.RealClock{}
	op := NewOperation(command, clock.Now())

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger, logFile, err := newLogger(cfg.LogDir, op.ID, level, opts.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	cipher, err := encryption.NewCipherFromConfig(cfg.Encryption, opts.Passphrase)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("unlocking local cache: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.DeviceID, cipher, clock)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening local cache: %w", err)
	}

	q, err := queue.NewSyncQueueFromConfig(cfg.Queue, cfg.Sync.RetryCeiling, database.NewQueueStore(db))
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating sync queue: %w", err)
	}

	gw, err := gateway.NewGatewayFromConfig(ctx, cfg.Gateway)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating gateway: %w", err)
	}

	m := metrics.NewPrometheus()
	engine := fieldsync.NewEngine(db, q, gw, engineConfig(cfg.Sync), &slogAdapter{l: logger}, clock, fieldsync.UUIDGenerator{},
		fieldsync.WithMetrics(m),
		fieldsync.WithDrainLog(db),
	)

	logger.Debug("app started", "command", command, "device", cfg.DeviceID, "gateway", cfg.Gateway.Type)

	return &FieldsyncApp{
		cfg:     cfg,
		db:      db,
		queue:   q,
		gateway: gw,
		metrics: m,
		engine:  engine,
		logger:  logger,
		op:      op,
		logFile: logFile,
	}, nil
}

func engineConfig(s config.SyncConfig) fieldsync.EngineConfig {
	return fieldsync.EngineConfig{
		BatchSize:     s.BatchSize,
		BaseBackoff:   s.BaseBackoff.Duration,
		MaxBackoff:    s.MaxBackoff.Duration,
		DrainInterval: s.DrainInterval.Duration,
		DrainBudget:   s.DrainBudget.Duration,
	}
}

// Engine exposes the underlying sync engine.
func (a *FieldsyncApp) Engine() *fieldsync.Engine {
	return a.engine
}

// Put writes one entity. An empty payload is allowed only for deletes.
func (a *FieldsyncApp) Put(ctx context.Context, entityType, id string, op fieldsync.Operation, payload, token string) (*fieldsync.EntityRecord, error) {
	t, err := fieldsync.ParseEntityType(entityType)
	if err != nil {
		return nil, err
	}
	req := fieldsync.WriteRequest{Type: t, ID: id, Operation: op, ActorToken: token}
	if payload != "" {
		req.Payload = json.RawMessage(payload)
	}
	return a.engine.Write(ctx, req)
}

// Get returns a cached entity.
func (a *FieldsyncApp) Get(ctx context.Context, entityType, id string) (*fieldsync.EntityRecord, error) {
	t, err := fieldsync.ParseEntityType(entityType)
	if err != nil {
		return nil, err
	}
	return a.engine.Get(ctx, t, id)
}

// List returns cached entities of one type. states is a comma separated list
// of sync states; fields are key=value payload predicates.
func (a *FieldsyncApp) List(ctx context.Context, entityType, states string, fields []string, includeDeleted bool) ([]*fieldsync.EntityRecord, error) {
	t, err := fieldsync.ParseEntityType(entityType)
	if err != nil {
		return nil, err
	}
	filter := fieldsync.Filter{IncludeDeleted: includeDeleted}
	if states != "" {
		for _, s := range strings.Split(states, ",") {
			state, err := fieldsync.ParseSyncState(strings.TrimSpace(s))
			if err != nil {
				return nil, err
			}
			filter.States = append(filter.States, state)
		}
	}
	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("field filter %q must be key=value: %w", f, fieldsync.ErrInvalid)
		}
		if filter.Fields == nil {
			filter.Fields = make(map[string]string)
		}
		filter.Fields[key] = value
	}
	return a.engine.List(ctx, t, filter)
}

// Status returns the sync state of one entity.
func (a *FieldsyncApp) Status(ctx context.Context, entityType, id string) (fieldsync.SyncState, error) {
	t, err := fieldsync.ParseEntityType(entityType)
	if err != nil {
		return "", err
	}
	return a.engine.Status(ctx, t, id)
}

// Summary reports record counts per state and the queue depth.
func (a *FieldsyncApp) Summary(ctx context.Context) (*fieldsync.Summary, error) {
	return a.engine.Summary(ctx)
}

// Queue lists pending mutations in replay order.
func (a *FieldsyncApp) Queue(ctx context.Context) ([]*fieldsync.QueueItem, error) {
	return a.engine.Queue(ctx)
}

// Conflicts lists every conflicted entity.
func (a *FieldsyncApp) Conflicts(ctx context.Context) ([]*fieldsync.EntityRecord, error) {
	return a.engine.Conflicts(ctx)
}

// Resolve settles a conflict: acceptRemote adopts the server copy, otherwise
// the local copy is queued again.
func (a *FieldsyncApp) Resolve(ctx context.Context, entityType, id string, acceptRemote bool, token string) (*fieldsync.EntityRecord, error) {
	t, err := fieldsync.ParseEntityType(entityType)
	if err != nil {
		return nil, err
	}
	if acceptRemote {
		return a.engine.AcceptRemote(ctx, t, id, token)
	}
	return a.engine.RetryLocal(ctx, t, id, token)
}

// Drain replays one batch of the queue.
func (a *FieldsyncApp) Drain(ctx context.Context) (*fieldsync.DrainReport, error) {
	return a.engine.Drain(ctx)
}

// History returns the most recent drain passes.
func (a *FieldsyncApp) History(ctx context.Context, limit int) ([]*fieldsync.DrainRun, error) {
	return a.engine.History(ctx, limit)
}

// Snapshot writes a consistent copy of the local cache to path.
// Sealed columns stay sealed in the copy.
func (a *FieldsyncApp) Snapshot(path string) error {
	if err := a.db.BackupTo(path); err != nil {
		return err
	}
	a.logger.Info("snapshot written", "path", path)
	return nil
}

// Close closes the database and the log file.
func (a *FieldsyncApp) Close() error {
	var firstErr error

	a.logger.Debug("app finished", "command", a.op.Command, "elapsed", a.op.Elapsed(fieldsync.RealClock{}.Now()).String())

	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}
