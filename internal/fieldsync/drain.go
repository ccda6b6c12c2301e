package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StopReason explains why a drain pass ended.
type StopReason string

const (
	StopEmpty     StopReason = "empty"
	StopBatchDone StopReason = "batch_done"
	StopBudget    StopReason = "budget"
	StopCanceled  StopReason = "canceled"
	StopError     StopReason = "error"
)

// DrainReport summarizes one drain pass.
type DrainReport struct {
	RunID      int64
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	Attempted  int
	Confirmed  int
	Retried    int
	Conflicted int
	Skipped    int
	// Remaining is the queue length when the pass ended.
	Remaining int
	Reason    StopReason
}

type itemOutcome string

const (
	itemConfirmed  itemOutcome = "confirmed"
	itemRetried    itemOutcome = "retried"
	itemConflicted itemOutcome = "conflicted"
	itemSkipped    itemOutcome = "skipped"
)

// Drain replays one batch of queued mutations. Only one drain runs at a time.
// Canceling ctx stops the pass without acking or failing the in-flight item.
func (e *Engine) Drain(ctx context.Context) (*DrainReport, error) {
	return e.drain(ctx, "manual")
}

// Trigger requests a drain from Run. Requests made while a drain is running
// collapse into a single follow-up pass.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run drives background drains until ctx is canceled: on every interval tick
// while online, whenever monitor reports the device came online, and on Trigger.
// A nil monitor means always online.
func (e *Engine) Run(ctx context.Context, monitor ConnectivityMonitor) error {
	ticker := time.NewTicker(e.cfg.DrainInterval)
	defer ticker.Stop()

	var changes <-chan bool
	if monitor != nil {
		changes = monitor.Changes()
	}
	online := func() bool { return monitor == nil || monitor.Online() }

	e.logger.Info("sync loop started", "interval", e.cfg.DrainInterval.String())
	if online() {
		e.runDrain(ctx, "startup")
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync loop stopped")
			return nil
		case <-ticker.C:
			if online() {
				e.runDrain(ctx, "timer")
			}
		case up, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if up {
				e.logger.Info("connectivity restored")
				e.runDrain(ctx, "online")
			} else {
				e.logger.Info("connectivity lost")
			}
		case <-e.trigger:
			if online() {
				e.runDrain(ctx, "trigger")
			}
		}
	}
}

func (e *Engine) runDrain(ctx context.Context, trigger string) {
	report, err := e.drain(ctx, trigger)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			e.logger.Error("drain failed", "trigger", trigger, "error", err)
		}
		return
	}
	// A full batch likely left eligible work behind.
	if report.Reason == StopBatchDone && report.Attempted >= e.cfg.BatchSize {
		e.Trigger()
	}
}

func (e *Engine) drain(ctx context.Context, trigger string) (*DrainReport, error) {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	report := &DrainReport{Trigger: trigger, StartedAt: e.clock.Now()}
	if e.history != nil {
		id, err := e.history.StartDrainRun(ctx, trigger, report.StartedAt)
		if err != nil {
			e.logger.Warn("recording drain start", "error", err)
		} else {
			report.RunID = id
		}
	}

	err := e.drainBatch(ctx, report)

	// Bookkeeping must survive a canceled drain.
	bg := context.WithoutCancel(ctx)
	report.FinishedAt = e.clock.Now()
	if n, lerr := e.queue.Len(bg); lerr == nil {
		report.Remaining = n
		e.metrics.QueueDepth(n)
	}
	if e.history != nil && report.RunID != 0 {
		if herr := e.history.FinishDrainRun(bg, report); herr != nil {
			e.logger.Warn("recording drain finish", "error", herr)
		}
	}
	e.metrics.DrainFinished(report.FinishedAt.Sub(report.StartedAt), report.Reason)

	if report.Attempted > 0 || err != nil {
		e.logger.Info("drain finished",
			"trigger", trigger,
			"attempted", report.Attempted,
			"confirmed", report.Confirmed,
			"retried", report.Retried,
			"conflicted", report.Conflicted,
			"remaining", report.Remaining,
			"reason", report.Reason,
		)
	}
	return report, err
}

func (e *Engine) drainBatch(ctx context.Context, report *DrainReport) error {
	items, err := e.queue.NextBatch(ctx, e.cfg.BatchSize, report.StartedAt)
	if err != nil {
		if ctx.Err() != nil {
			report.Reason = StopCanceled
			return ctx.Err()
		}
		report.Reason = StopError
		return fmt.Errorf("selecting batch: %w", err)
	}
	if len(items) == 0 {
		report.Reason = StopEmpty
		return nil
	}

	deadline := report.StartedAt.Add(e.cfg.DrainBudget)
	for _, item := range items {
		if ctx.Err() != nil {
			report.Reason = StopCanceled
			return ctx.Err()
		}
		if e.cfg.DrainBudget > 0 && !e.clock.Now().Before(deadline) {
			report.Reason = StopBudget
			return nil
		}

		outcome, err := e.drainItem(ctx, item.Key())
		if err != nil {
			if ctx.Err() != nil {
				report.Reason = StopCanceled
				return ctx.Err()
			}
			report.Reason = StopError
			return fmt.Errorf("draining %s: %w", item.Key(), err)
		}

		e.metrics.ItemDrained(item.EntityType, string(outcome))
		switch outcome {
		case itemConfirmed:
			report.Attempted++
			report.Confirmed++
		case itemRetried:
			report.Attempted++
			report.Retried++
		case itemConflicted:
			report.Attempted++
			report.Conflicted++
		case itemSkipped:
			report.Skipped++
		}
	}

	report.Reason = StopBatchDone
	return nil
}

// drainItem sends the entity's current head item under the entity lock.
// The head is re-read because a write may have coalesced or collapsed it
// since the batch was selected.
func (e *Engine) drainItem(ctx context.Context, key EntityKey) (itemOutcome, error) {
	unlock := e.locks.lock(key)
	defer unlock()

	item, err := e.queue.Head(ctx, key.Type, key.ID)
	if err != nil {
		return "", fmt.Errorf("reading queue head: %w", err)
	}
	if item == nil || item.NotBefore.After(e.clock.Now()) {
		return itemSkipped, nil
	}

	rec, err := e.store.Get(ctx, key.Type, key.ID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("reading local record: %w", err)
		}
		// The queued change is the only copy left; rebuild the record from it.
		e.logger.Warn("restoring local record from queue", "entity", key.String(), "queue_id", item.QueueID, "operation", item.Operation)
		rec, err = e.store.Upsert(ctx, &EntityRecord{
			Type:    key.Type,
			ID:      key.ID,
			Payload: item.Payload,
			State:   StatePending,
			Deleted: item.Operation == OpDelete,
		})
		if err != nil {
			return "", fmt.Errorf("restoring local record: %w", err)
		}
	}

	res := e.gateway.Send(ctx, &Mutation{
		Operation:      item.Operation,
		EntityType:     item.EntityType,
		EntityID:       item.EntityID,
		Payload:        item.Payload,
		BaseVersion:    rec.RemoteVersion,
		IdempotencyKey: item.IdempotencyKey,
		ActorToken:     item.ActorToken,
	})
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	// Queue and cache changes commit together.
	var outcome itemOutcome
	err = e.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		switch res.Kind {
		case ResultConfirmed:
			outcome, err = e.confirmItem(ctx, item, rec, res)
		case ResultRetryable:
			outcome, err = e.retryItem(ctx, item, rec, res)
		default:
			outcome, err = e.conflictItem(ctx, item, rec, res.Kind.ErrorKind(), res)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (e *Engine) confirmItem(ctx context.Context, item *QueueItem, rec *EntityRecord, res Result) (itemOutcome, error) {
	if err := e.queue.Ack(ctx, item.QueueID); err != nil {
		return "", fmt.Errorf("acking item: %w", err)
	}
	remaining, err := e.queue.Pending(ctx, item.EntityType, item.EntityID)
	if err != nil {
		return "", fmt.Errorf("reading remaining items: %w", err)
	}
	e.logger.Debug("item confirmed", "entity", item.Key().String(), "operation", item.Operation, "remaining", len(remaining))

	if item.Operation == OpDelete {
		if len(remaining) == 0 {
			if err := e.store.Purge(ctx, rec.Type, rec.ID); err != nil {
				return "", fmt.Errorf("purging deleted record: %w", err)
			}
			return itemConfirmed, nil
		}
		// Re-created after the delete: the server copy is gone.
		rec.RemoteVersion = ""
		if _, err := e.store.Upsert(ctx, rec); err != nil {
			return "", fmt.Errorf("storing record: %w", err)
		}
		return itemConfirmed, nil
	}

	if res.ServerID != "" && res.ServerID != rec.ID {
		rekeyed, err := e.store.Rekey(ctx, rec.Type, rec.ID, res.ServerID)
		if err != nil {
			return "", fmt.Errorf("adopting server id: %w", err)
		}
		if err := e.queue.Rekey(ctx, rec.Type, rec.ID, res.ServerID); err != nil {
			return "", fmt.Errorf("rekeying queue: %w", err)
		}
		e.logger.Info("adopted server id", "entity", item.Key().String(), "server_id", res.ServerID)
		rec = rekeyed
	}

	rec.RemoteVersion = res.ServerVersion
	rec.Conflict = nil
	if len(remaining) == 0 {
		if len(res.Payload) > 0 {
			rec.Payload = res.Payload
		}
		rec.State = StateSynced
	} else {
		// Newer local changes are still queued; keep them.
		rec.State = StatePending
	}
	if _, err := e.store.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("storing confirmed record: %w", err)
	}
	return itemConfirmed, nil
}

func (e *Engine) retryItem(ctx context.Context, item *QueueItem, rec *EntityRecord, res Result) (itemOutcome, error) {
	now := e.clock.Now()
	notBefore := now.Add(e.backoff.Delay(item.AttemptCount + 1))
	attempts, exhausted, err := e.queue.Fail(ctx, item.QueueID, Failure{
		Kind:      KindRetryable,
		Message:   res.Reason,
		Ambiguous: res.Ambiguous,
	}, notBefore)
	if err != nil {
		return "", fmt.Errorf("recording failure: %w", err)
	}
	if exhausted {
		e.logger.Warn("retry ceiling reached", "entity", item.Key().String(), "attempts", attempts)
		return e.conflictItem(ctx, item, rec, KindExhausted, res)
	}
	e.logger.Debug("item will retry", "entity", item.Key().String(), "attempts", attempts, "not_before", notBefore, "reason", res.Reason)
	return itemRetried, nil
}

// conflictItem freezes the entity: it is marked conflicted with both sides
// retained and its queue chain is removed until the caller resolves it.
func (e *Engine) conflictItem(ctx context.Context, item *QueueItem, rec *EntityRecord, kind ErrorKind, res Result) (itemOutcome, error) {
	rec.State = StateConflicted
	rec.Conflict = &Conflict{
		Kind:          kind,
		Message:       res.Reason,
		StatusCode:    res.StatusCode,
		Operation:     item.Operation,
		LocalPayload:  rec.Payload,
		ServerPayload: res.Payload,
		ServerVersion: res.ServerVersion,
		DetectedAt:    e.clock.Now(),
	}
	if _, err := e.store.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("storing conflicted record: %w", err)
	}
	removed, err := e.queue.RemoveEntity(ctx, item.EntityType, item.EntityID)
	if err != nil {
		return "", fmt.Errorf("removing queue chain: %w", err)
	}
	e.logger.Warn("entity conflicted",
		"entity", item.Key().String(),
		"operation", item.Operation,
		"kind", kind,
		"status", res.StatusCode,
		"reason", res.Reason,
		"dropped_items", removed,
	)
	return itemConflicted, nil
}
