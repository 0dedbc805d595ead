package syncq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ticketnest/core/internal/cache"
	"github.com/ticketnest/core/internal/errors"
	"github.com/ticketnest/core/internal/logging"
	"github.com/ticketnest/core/internal/models"
	"github.com/ticketnest/core/internal/store"
	"github.com/ticketnest/core/internal/uuid"
)

// Outcome is a terminal resolution of a queued operation.
type Outcome string

const (
	OutcomeSynced Outcome = "synced"
	OutcomeFailed Outcome = "failed"
)

// Resolution is emitted for every terminal resolution (confirmed success or
// exhausted retries). It is the only inter-component signal the UI layer
// needs.
type Resolution struct {
	Operation *models.SyncOperation
	Outcome   Outcome
	Status    int
	URL       string
	Error     string
}

// Config holds sync queue manager configuration.
type Config struct {
	MaxQueueSize      int
	DrainInterval     time.Duration // fixed interval between drains while online
	OpTimeout         time.Duration // per-operation network timeout
	DefaultMaxRetries int
}

// DefaultConfig returns default manager configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxQueueSize:      1000,
		DrainInterval:     time.Minute,
		OpTimeout:         30 * time.Second,
		DefaultMaxRetries: 5,
	}
}

// Manager owns the durable mutation queue: it enqueues failed/offline
// mutations, drains them in priority+FIFO order with retry and backoff, and
// reconciles results back into the durable store.
type Manager struct {
	store   *store.Store
	queue   *Queue
	fetcher cache.Fetcher
	apply   map[models.OperationType]applyFunc
	cfg     *Config

	mu       sync.RWMutex
	draining bool
	online   bool

	resolutions chan Resolution
}

// NewManager creates a sync queue manager. It fails if the result-apply
// table does not cover every operation type: an unrecognized type is a
// defect, not a silently ignored case.
func NewManager(st *store.Store, fetcher cache.Fetcher, cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	m := &Manager{
		store:       st,
		queue:       NewQueue(cfg.MaxQueueSize),
		fetcher:     fetcher,
		cfg:         cfg,
		online:      true,
		resolutions: make(chan Resolution, 64),
	}
	m.apply = buildApplyTable(st)

	for _, t := range models.AllOperationTypes() {
		if _, ok := m.apply[t]; !ok {
			return nil, errors.New(errors.ErrUnknownOpType,
				fmt.Sprintf("no result handler for operation type %q", t))
		}
	}

	return m, nil
}

// Start reconciles the queue mirror from the store and runs the periodic
// drain loop until the context is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	pending, err := m.store.ListOperationsByStatus(ctx, models.OpStatusPending)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to load sync queue", err)
	}
	m.queue.Load(pending)

	go m.drainLoop(ctx)
	return nil
}

// Resolutions returns the terminal-resolution event stream.
func (m *Manager) Resolutions() <-chan Resolution {
	return m.resolutions
}

// SetOnline changes connectivity state. A transition to online triggers a
// drain (the reconnect trigger).
func (m *Manager) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	m.mu.Unlock()

	if online && !wasOnline {
		logging.Info("Connectivity resumed, draining sync queue", nil)
		m.TriggerDrain(ctx)
	}
}

// IsOnline returns the current connectivity state.
func (m *Manager) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// NotifyForeground triggers a drain on app foreground.
func (m *Manager) NotifyForeground(ctx context.Context) {
	m.TriggerDrain(ctx)
}

// drainLoop drains the queue on a fixed interval while online.
func (m *Manager) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.IsOnline() {
				m.TriggerDrain(ctx)
			}
		}
	}
}

// TriggerDrain starts an asynchronous drain pass. A trigger while a drain is
// already running is a no-op, not a queued re-entry.
func (m *Manager) TriggerDrain(ctx context.Context) {
	go m.DrainOnce(ctx)
}

// DrainOnce runs one drain pass synchronously. Only one pass runs at a time;
// returns false if another pass was already active.
func (m *Manager) DrainOnce(ctx context.Context) bool {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return false
	}
	m.draining = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.draining = false
		m.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return true
		default:
		}

		batch := m.queue.Ready(time.Now())
		if len(batch) == 0 {
			return true
		}

		for _, op := range batch {
			select {
			case <-ctx.Done():
				return true
			default:
			}
			m.attempt(ctx, op)
		}
	}
}

// Enqueue persists a mutation with its explicit type tag and returns an
// optimistic response carrying the operation id. The id is client-generated
// and stable across retries.
func (m *Manager) Enqueue(ctx context.Context, op *models.SyncOperation) (*cache.Response, error) {
	if _, ok := m.apply[op.Type]; !ok {
		return nil, errors.New(errors.ErrUnknownOpType,
			fmt.Sprintf("unknown operation type %q", op.Type))
	}

	if op.ID == "" {
		op.ID = models.UUID(uuid.New())
	}
	if op.MaxRetries == 0 {
		op.MaxRetries = m.cfg.DefaultMaxRetries
	}
	if op.EnqueuedAt == 0 {
		op.EnqueuedAt = time.Now().Unix()
	}
	op.Status = models.OpStatusPending

	// Durable first, mirror second: the store owns all persisted state.
	if err := m.store.CreateOperation(ctx, op); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to persist operation", err)
	}
	if err := m.queue.Add(op); err != nil {
		// A rejected enqueue must leave no durable trace: the caller is told
		// the mutation was not queued and may re-submit under a new id, so a
		// surviving row would be delivered twice after restart.
		if derr := m.store.DeleteOperation(ctx, op.ID.String()); derr != nil {
			logging.Error("Failed to roll back rejected operation", derr,
				map[string]interface{}{"operation_id": op.ID.String()})
		}
		return nil, errors.Wrap(errors.ErrQueueFull, "failed to mirror operation", err)
	}

	logging.Info("Mutation queued",
		map[string]interface{}{
			"operation_id": op.ID.String(),
			"type":         string(op.Type),
			"priority":     int(op.Priority),
		})

	return optimisticResponse(op), nil
}

// HandleMutation implements the cache engine's mutation path: forward the
// request while online, queue it on transport failure and answer with an
// optimistic response. Operation type and priority come from the legacy URL
// inference shim because the intercepted request carries no explicit tag;
// callers that can tag should use Enqueue directly.
func (m *Manager) HandleMutation(ctx context.Context, req *cache.Request) *cache.Response {
	opCtx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	defer cancel()

	resp, err := m.fetcher.Do(opCtx, req)
	if err == nil {
		return resp
	}

	opType := InferType(req.URL)
	action := inferAction(req.Method)
	op := &models.SyncOperation{
		Type:     opType,
		Action:   action,
		Endpoint: req.URL,
		Method:   req.Method,
		Payload:  json.RawMessage(req.Body),
		Priority: InferPriority(opType, action),
	}

	optimistic, qerr := m.Enqueue(ctx, op)
	if qerr != nil {
		logging.Error("Failed to queue offline mutation", qerr,
			map[string]interface{}{"url": req.URL})
		return offlineMutationResponse(req.URL)
	}
	return optimistic
}

// attempt delivers a single operation and resolves the outcome.
func (m *Manager) attempt(ctx context.Context, op *models.SyncOperation) {
	id := op.ID.String()
	if !m.queue.MarkInFlight(id) {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	defer cancel()

	// The operation id doubles as the idempotency key: the remote API is
	// assumed to deduplicate on it, which is what makes at-least-once
	// delivery safe. Integrators must confirm this with the real backend.
	req := &cache.Request{
		Method: op.Method,
		URL:    op.Endpoint,
		Header: map[string]string{
			"Content-Type":    "application/json",
			"Idempotency-Key": id,
		},
		Body: op.Payload,
	}

	resp, err := m.fetcher.Do(opCtx, req)

	switch {
	case err == nil && resp.OK():
		m.resolveSuccess(ctx, op, resp)
	case err == nil && !retryableStatus(resp.Status):
		// Client error other than 408/429: retrying a rejected request
		// cannot succeed. Terminal, retry count untouched.
		m.resolveTerminal(ctx, op, resp.Status,
			fmt.Sprintf("rejected with HTTP %d", resp.Status))
	default:
		m.scheduleRetry(ctx, op, resp, err)
	}
}

// resolveSuccess applies the result to the store and removes the operation.
func (m *Manager) resolveSuccess(ctx context.Context, op *models.SyncOperation, resp *cache.Response) {
	id := op.ID.String()

	if err := m.apply[op.Type](ctx, op, resp.Body); err != nil {
		// The mutation is confirmed server-side; a local apply failure only
		// degrades the cache, so log it and continue.
		logging.ErrorWithCode("Failed to apply sync result", string(errors.ErrStorage), err,
			map[string]interface{}{"operation_id": id, "type": string(op.Type)})
	}

	if err := m.store.DeleteOperation(ctx, id); err != nil {
		logging.Error("Failed to remove synced operation", err,
			map[string]interface{}{"operation_id": id})
	}
	m.queue.Remove(id)

	logging.Info("Operation synced",
		map[string]interface{}{"operation_id": id, "retry_count": op.RetryCount})

	m.emit(Resolution{Operation: op, Outcome: OutcomeSynced, Status: resp.Status, URL: op.Endpoint})
}

// resolveTerminal marks an operation permanently failed.
func (m *Manager) resolveTerminal(ctx context.Context, op *models.SyncOperation, status int, reason string) {
	id := op.ID.String()

	if err := m.store.MarkOperationFailed(ctx, id, reason); err != nil {
		logging.Error("Failed to persist terminal failure", err,
			map[string]interface{}{"operation_id": id})
	}
	m.queue.Remove(id)

	logging.ErrorWithCode("Operation failed permanently", string(errors.ErrSyncRejected), nil,
		map[string]interface{}{"operation_id": id, "status": status, "reason": reason})

	m.emit(Resolution{Operation: op, Outcome: OutcomeFailed, Status: status, URL: op.Endpoint, Error: reason})
}

// scheduleRetry increments the retry count and reschedules with backoff, or
// resolves a terminal failure once retries are exhausted.
func (m *Manager) scheduleRetry(ctx context.Context, op *models.SyncOperation, resp *cache.Response, err error) {
	id := op.ID.String()

	reason := "network error"
	status := 0
	if err != nil {
		reason = err.Error()
	} else {
		status = resp.Status
		reason = fmt.Sprintf("HTTP %d", resp.Status)
	}

	newCount := op.RetryCount + 1
	if newCount >= op.MaxRetries {
		if uerr := m.store.UpdateOperationRetry(ctx, id, newCount, reason); uerr != nil {
			logging.Error("Failed to persist retry count", uerr,
				map[string]interface{}{"operation_id": id})
		}
		op.RetryCount = newCount
		m.resolveTerminal(ctx, op, status,
			fmt.Sprintf("max retries (%d) reached: %s", op.MaxRetries, reason))
		return
	}

	if uerr := m.store.UpdateOperationRetry(ctx, id, newCount, reason); uerr != nil {
		logging.Error("Failed to persist retry count", uerr,
			map[string]interface{}{"operation_id": id})
	}

	delay := backoffDelay(newCount)
	m.queue.Reschedule(id, time.Now().Add(delay))

	logging.Warn("Operation rescheduled",
		map[string]interface{}{
			"operation_id": id,
			"retry":        newCount,
			"max_retries":  op.MaxRetries,
			"delay_sec":    delay.Seconds(),
			"reason":       reason,
		})
}

// Clear removes every queued operation. Used only for full data reset;
// there is no per-operation cancel.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.store.ClearQueue(ctx); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to clear queue", err)
	}
	m.queue.Clear()
	return nil
}

// Stats returns mirror statistics for status reporting.
func (m *Manager) Stats() map[string]int {
	return m.queue.Stats()
}

// emit delivers a resolution without blocking the drain; a full consumer
// buffer drops the event with a diagnostic.
func (m *Manager) emit(r Resolution) {
	select {
	case m.resolutions <- r:
	default:
		logging.Warn("Resolution event dropped, consumer too slow",
			map[string]interface{}{"operation_id": r.Operation.ID.String()})
	}
}

// retryableStatus reports whether an HTTP status warrants a retry: server
// errors, request timeout, and rate limiting.
func retryableStatus(status int) bool {
	return status >= 500 || status == 408 || status == 429
}

// optimisticResponse synthesizes the locally generated success result
// returned while the real mutation waits in the queue.
func optimisticResponse(op *models.SyncOperation) *cache.Response {
	body, _ := json.Marshal(map[string]interface{}{
		"queued":       true,
		"offline":      true,
		"operation_id": op.ID.String(),
		"type":         string(op.Type),
	})
	return &cache.Response{
		Status:      202,
		ContentType: "application/json",
		Body:        body,
		Offline:     true,
	}
}

// offlineMutationResponse is the last resort when a mutation can be neither
// delivered nor queued.
func offlineMutationResponse(url string) *cache.Response {
	body, _ := json.Marshal(map[string]interface{}{
		"offline": true,
		"error":   string(errors.ErrQueueFull),
		"url":     url,
	})
	return &cache.Response{
		Status:      503,
		ContentType: "application/json",
		Body:        body,
		Offline:     true,
	}
}
