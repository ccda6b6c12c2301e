package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// EngineConfig tunes the reconciliation engine.
type EngineConfig struct {
	// BatchSize caps the items attempted by one drain pass.
	BatchSize   int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// DrainInterval is the period of timer-driven drains in Run.
	DrainInterval time.Duration
	// DrainBudget bounds the wall-clock time of one drain pass. Zero disables it.
	DrainBudget time.Duration
}

// DefaultEngineConfig returns the settings used when none are configured.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BatchSize:     50,
		BaseBackoff:   2 * time.Second,
		MaxBackoff:    5 * time.Minute,
		DrainInterval: 30 * time.Second,
		DrainBudget:   2 * time.Minute,
	}
}

// Engine coordinates the local store, the sync queue and the remote gateway.
// Writes go to the server first and fall back to the local cache plus queue;
// a single background drain replays the queue.
type Engine struct {
	store   LocalStore
	queue   SyncQueue
	gateway RemoteGateway
	logger  Logger
	clock   Clock
	idgen   IDGenerator
	metrics Metrics
	history DrainLog

	cfg     EngineConfig
	backoff Backoff
	locks   *entityLocks

	drainMu sync.Mutex
	trigger chan struct{}
}

// EngineOption configures optional Engine collaborators.
type EngineOption func(*Engine)

// WithMetrics reports engine measurements to m.
func WithMetrics(m Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithDrainLog records every drain pass in h.
func WithDrainLog(h DrainLog) EngineOption {
	return func(e *Engine) { e.history = h }
}

// NewEngine creates an Engine with the provided dependencies.
func NewEngine(store LocalStore, queue SyncQueue, gateway RemoteGateway, cfg EngineConfig, logger Logger, clock Clock, idgen IDGenerator, opts ...EngineOption) *Engine {
	defaults := DefaultEngineConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaults.BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = defaults.DrainInterval
	}

	e := &Engine{
		store:   store,
		queue:   queue,
		gateway: gateway,
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
		metrics: NopMetrics{},
		cfg:     cfg,
		backoff: Backoff{Base: cfg.BaseBackoff, Max: cfg.MaxBackoff},
		locks:   newEntityLocks(),
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WriteRequest is a caller mutation of one entity.
type WriteRequest struct {
	Type       EntityType
	ID         string
	Operation  Operation
	Payload    json.RawMessage
	ActorToken string
}

func (r WriteRequest) validate() error {
	if _, err := ParseEntityType(string(r.Type)); err != nil {
		return err
	}
	if r.ID == "" {
		return fmt.Errorf("entity id is required: %w", ErrInvalid)
	}
	if _, err := ParseOperation(string(r.Operation)); err != nil {
		return err
	}
	if r.Operation != OpDelete && !json.Valid(r.Payload) {
		return fmt.Errorf("payload is not valid JSON: %w", ErrInvalid)
	}
	return nil
}

// Write applies a mutation. The server is tried first; when it cannot be
// reached the change is stored locally as pending and queued for replay.
// Permanent rejections return a *RemoteError and leave the cache untouched.
// Conflicts return the conflicted record together with an error wrapping
// ErrConflict.
func (e *Engine) Write(ctx context.Context, req WriteRequest) (*EntityRecord, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	key := EntityKey{Type: req.Type, ID: req.ID}

	unlock := e.locks.lock(key)
	defer unlock()

	rec, err := e.store.Get(ctx, req.Type, req.ID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("reading local record: %w", err)
		}
		rec = nil
	}
	if err := checkWritable(req, rec); err != nil {
		return nil, err
	}

	head, err := e.queue.Head(ctx, req.Type, req.ID)
	if err != nil {
		return nil, fmt.Errorf("checking queue: %w", err)
	}

	queueID := e.idgen.New()
	idempotencyKey := queueID
	if req.Operation == OpCreate {
		idempotencyKey = req.ID
	}

	// Earlier changes are still queued: the new one must replay after them.
	if head != nil {
		stored, err := e.writeLocal(ctx, req, rec, queueID, idempotencyKey, false)
		if err != nil {
			return nil, err
		}
		e.metrics.WriteCompleted(req.Operation, "queued")
		e.logger.Debug("write queued behind pending changes", "entity", key.String(), "operation", req.Operation)
		e.Trigger()
		return stored, nil
	}

	m := &Mutation{
		Operation:      req.Operation,
		EntityType:     req.Type,
		EntityID:       req.ID,
		Payload:        req.Payload,
		IdempotencyKey: idempotencyKey,
		ActorToken:     req.ActorToken,
	}
	if rec != nil {
		m.BaseVersion = rec.RemoteVersion
	}

	res := e.gateway.Send(ctx, m)
	if ctx.Err() != nil {
		// The request may have been sent; keep the change so it replays with its key.
		ctx = context.WithoutCancel(ctx)
		res = Retryable("write canceled", true)
	}

	switch res.Kind {
	case ResultConfirmed:
		stored, err := e.applyConfirmedWrite(ctx, req, rec, res)
		if err != nil {
			return nil, err
		}
		e.metrics.WriteCompleted(req.Operation, "confirmed")
		e.logger.Info("write confirmed", "entity", key.String(), "operation", req.Operation)
		return stored, nil

	case ResultRetryable:
		stored, err := e.writeLocal(ctx, req, rec, queueID, idempotencyKey, res.Ambiguous)
		if err != nil {
			return nil, err
		}
		e.metrics.WriteCompleted(req.Operation, "queued")
		e.logger.Info("write queued", "entity", key.String(), "operation", req.Operation, "reason", res.Reason, "ambiguous", res.Ambiguous)
		return stored, nil

	case ResultConflict:
		stored, err := e.recordWriteConflict(ctx, req, rec, res)
		if err != nil {
			return nil, err
		}
		e.metrics.WriteCompleted(req.Operation, "conflict")
		e.logger.Warn("write conflicted", "entity", key.String(), "operation", req.Operation, "reason", res.Reason)
		return stored, fmt.Errorf("writing %s: %w", key, remoteErrorFrom(res))

	default:
		e.metrics.WriteCompleted(req.Operation, "rejected")
		e.logger.Warn("write rejected", "entity", key.String(), "operation", req.Operation, "status", res.StatusCode, "reason", res.Reason)
		return nil, fmt.Errorf("writing %s: %w", key, remoteErrorFrom(res))
	}
}

func checkWritable(req WriteRequest, rec *EntityRecord) error {
	key := EntityKey{Type: req.Type, ID: req.ID}
	if rec != nil && rec.State == StateConflicted {
		return fmt.Errorf("%s: %w", key, ErrConflicted)
	}
	live := rec != nil && !rec.Deleted
	switch req.Operation {
	case OpCreate:
		if live {
			return fmt.Errorf("%s: %w", key, ErrAlreadyExists)
		}
	case OpUpdate, OpDelete:
		if !live {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
	}
	return nil
}

// writeLocal queues the change and mirrors it in the local cache as pending,
// in one transaction: either both are stored or neither is.
func (e *Engine) writeLocal(ctx context.Context, req WriteRequest, rec *EntityRecord, queueID, idempotencyKey string, uncertain bool) (*EntityRecord, error) {
	item := &QueueItem{
		QueueID:        queueID,
		EntityType:     req.Type,
		EntityID:       req.ID,
		Operation:      req.Operation,
		Payload:        req.Payload,
		ActorToken:     req.ActorToken,
		IdempotencyKey: idempotencyKey,
		Uncertain:      uncertain,
		CreatedAt:      e.clock.Now(),
	}
	if req.Operation == OpDelete && rec != nil {
		item.Payload = rec.Payload
	}

	var stored *EntityRecord
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		outcome, err := e.queue.Enqueue(ctx, item)
		if err != nil {
			return fmt.Errorf("enqueueing %s: %w", req.Operation, err)
		}

		if req.Operation == OpDelete {
			if outcome == Discarded {
				// The server never saw the entity.
				if err := e.store.Purge(ctx, req.Type, req.ID); err != nil {
					return fmt.Errorf("purging local record: %w", err)
				}
				stored = rec.Clone()
				stored.Deleted = true
				stored.State = StateSynced
				return nil
			}
			if stored, err = e.store.Delete(ctx, req.Type, req.ID, StatePending); err != nil {
				return fmt.Errorf("deleting local record: %w", err)
			}
			return nil
		}

		next := &EntityRecord{Type: req.Type, ID: req.ID, State: StatePending, Payload: req.Payload}
		if rec != nil {
			next.RemoteVersion = rec.RemoteVersion
		}
		if stored, err = e.store.Upsert(ctx, next); err != nil {
			return fmt.Errorf("storing local record: %w", err)
		}
		e.logger.Debug("change enqueued", "entity", item.Key().String(), "outcome", outcome)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (e *Engine) applyConfirmedWrite(ctx context.Context, req WriteRequest, rec *EntityRecord, res Result) (*EntityRecord, error) {
	if req.Operation == OpDelete {
		if err := e.store.Purge(ctx, req.Type, req.ID); err != nil {
			return nil, fmt.Errorf("purging local record: %w", err)
		}
		gone := rec.Clone()
		gone.Deleted = true
		gone.State = StateSynced
		gone.RemoteVersion = res.ServerVersion
		return gone, nil
	}

	id := req.ID
	if req.Operation == OpCreate && res.ServerID != "" {
		id = res.ServerID
	}
	payload := res.Payload
	if len(payload) == 0 {
		payload = req.Payload
	}
	var stored *EntityRecord
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		if id != req.ID && rec != nil {
			if err := e.store.Purge(ctx, req.Type, req.ID); err != nil {
				return fmt.Errorf("purging local id: %w", err)
			}
		}
		var err error
		stored, err = e.store.Upsert(ctx, &EntityRecord{
			Type:          req.Type,
			ID:            id,
			Payload:       payload,
			State:         StateSynced,
			RemoteVersion: res.ServerVersion,
		})
		if err != nil {
			return fmt.Errorf("storing confirmed record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (e *Engine) recordWriteConflict(ctx context.Context, req WriteRequest, rec *EntityRecord, res Result) (*EntityRecord, error) {
	next := &EntityRecord{Type: req.Type, ID: req.ID, Payload: req.Payload}
	if rec != nil {
		next.RemoteVersion = rec.RemoteVersion
		if req.Operation == OpDelete {
			next.Payload = rec.Payload
		}
	}
	next.Deleted = req.Operation == OpDelete
	next.State = StateConflicted
	next.Conflict = &Conflict{
		Kind:          KindConflict,
		Message:       res.Reason,
		StatusCode:    res.StatusCode,
		Operation:     req.Operation,
		LocalPayload:  next.Payload,
		ServerPayload: res.Payload,
		ServerVersion: res.ServerVersion,
		DetectedAt:    e.clock.Now(),
	}
	stored, err := e.store.Upsert(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("storing conflicted record: %w", err)
	}
	return stored, nil
}
