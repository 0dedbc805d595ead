package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ticketnest/core/internal/cache"
	"github.com/ticketnest/core/internal/models"
	"github.com/ticketnest/core/internal/store"
)

// attemptResult scripts one network attempt: a transport error or a status.
type attemptResult struct {
	status int
	body   []byte
	err    error
}

// scriptedFetcher replays a fixed sequence of attempt results and records
// every request it sees. Past the end of the script the last result repeats.
type scriptedFetcher struct {
	mu       sync.Mutex
	script   []attemptResult
	requests []*cache.Request
}

func (f *scriptedFetcher) Do(ctx context.Context, req *cache.Request) (*cache.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	idx := len(f.requests) - 1
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	r := f.script[idx]
	if r.err != nil {
		return nil, r.err
	}
	body := r.body
	if body == nil {
		body = []byte(`{}`)
	}
	return &cache.Response{Status: r.status, ContentType: "application/json", Body: body}, nil
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestManager(t *testing.T, fetcher cache.Fetcher) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	m, err := NewManager(st, fetcher, nil)
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	return m, st
}

// clearBackoff makes every mirrored operation immediately eligible again.
func clearBackoff(m *Manager) {
	m.queue.mu.Lock()
	defer m.queue.mu.Unlock()
	for id := range m.queue.nextAttempt {
		m.queue.nextAttempt[id] = time.Now().Add(-time.Second)
	}
}

func drainResolutions(m *Manager) []Resolution {
	var out []Resolution
	for {
		select {
		case r := <-m.Resolutions():
			out = append(out, r)
		default:
			return out
		}
	}
}

func testOperation(id string) *models.SyncOperation {
	return &models.SyncOperation{
		ID:       models.UUID(id),
		Type:     models.OpTypeOrder,
		Action:   models.ActionCreate,
		Endpoint: "/api/orders",
		Method:   "POST",
		Payload:  json.RawMessage(`{"event_id":"evt-1"}`),
		Priority: models.PriorityHigh,
	}
}

func TestEnqueueReturnsOptimisticResponse(t *testing.T) {
	fetcher := &scriptedFetcher{script: []attemptResult{{status: 200}}}
	m, st := newTestManager(t, fetcher)
	ctx := context.Background()

	resp, err := m.Enqueue(ctx, testOperation("op-1"))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if resp.Status != 202 || !resp.Offline {
		t.Errorf("optimistic response = %+v, want 202 offline", resp)
	}

	var body struct {
		Queued      bool   `json:"queued"`
		OperationID string `json:"operation_id"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("optimistic body is not JSON: %v", err)
	}
	if !body.Queued || body.OperationID != "op-1" {
		t.Errorf("optimistic body = %+v, want queued with operation id", body)
	}

	// Durable before any delivery attempt
	op, err := st.GetOperation(ctx, "op-1")
	if err != nil {
		t.Fatalf("operation not persisted: %v", err)
	}
	if op.Status != models.OpStatusPending {
		t.Errorf("persisted status = %q, want pending", op.Status)
	}
	if fetcher.callCount() != 0 {
		t.Errorf("fetcher called %d times before drain, want 0", fetcher.callCount())
	}
}

func TestRejectedEnqueueLeavesNoDurableRow(t *testing.T) {
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fetcher := &scriptedFetcher{script: []attemptResult{{status: 200}}}
	cfg := DefaultConfig()
	cfg.MaxQueueSize = 1
	m, err := NewManager(st, fetcher, cfg)
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	ctx := context.Background()

	if _, err := m.Enqueue(ctx, testOperation("op-1")); err != nil {
		t.Fatalf("Enqueue(op-1) failed: %v", err)
	}
	if _, err := m.Enqueue(ctx, testOperation("op-2")); err == nil {
		t.Fatal("Enqueue(op-2) over capacity should fail")
	}

	// The rejected operation must not survive in the store
	if _, err := st.GetOperation(ctx, "op-2"); err == nil {
		t.Error("rejected operation left a persisted row")
	}

	// A restarted manager must not deliver it either
	m2, err := NewManager(st, fetcher, nil)
	if err != nil {
		t.Fatalf("NewManager() after restart failed: %v", err)
	}
	pending, err := st.ListOperationsByStatus(ctx, models.OpStatusPending)
	if err != nil {
		t.Fatalf("ListOperationsByStatus() failed: %v", err)
	}
	m2.queue.Load(pending)
	m2.DrainOnce(ctx)

	for _, req := range fetcher.requests {
		if req.Header["Idempotency-Key"] == "op-2" {
			t.Error("rejected operation was delivered after restart")
		}
	}
}

func TestEnqueueRejectsUnknownType(t *testing.T) {
	m, _ := newTestManager(t, &scriptedFetcher{script: []attemptResult{{status: 200}}})

	op := testOperation("op-1")
	op.Type = "bogus"
	if _, err := m.Enqueue(context.Background(), op); err == nil {
		t.Error("Enqueue() with unknown type should fail")
	}
}

func TestDrainDeliversExactlyOnce(t *testing.T) {
	orderBody, _ := json.Marshal(map[string]interface{}{
		"id": "ord-1", "user_id": "user-a", "event_id": "evt-1",
		"status": "confirmed", "total_cents": 4500,
		"tickets": []map[string]interface{}{
			{"id": "tkt-1", "order_id": "ord-1", "event_id": "evt-1", "seat": "A1"},
		},
	})
	fetcher := &scriptedFetcher{script: []attemptResult{{status: 201, body: orderBody}}}
	m, st := newTestManager(t, fetcher)
	ctx := context.Background()

	if _, err := m.Enqueue(ctx, testOperation("op-1")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if !m.DrainOnce(ctx) {
		t.Fatal("DrainOnce() reported another pass active")
	}

	if fetcher.callCount() != 1 {
		t.Fatalf("fetcher called %d times, want exactly 1", fetcher.callCount())
	}
	req := fetcher.requests[0]
	if req.Header["Idempotency-Key"] != "op-1" {
		t.Errorf("Idempotency-Key = %q, want the operation id", req.Header["Idempotency-Key"])
	}

	// Confirmed success removes the queue entry
	if _, err := st.GetOperation(ctx, "op-1"); err == nil {
		t.Error("operation still persisted after confirmed success")
	}
	if m.queue.Size() != 0 {
		t.Errorf("mirror size = %d after success, want 0", m.queue.Size())
	}

	// Server result applied to the durable store
	order, err := st.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("order not applied: %v", err)
	}
	if order.Status != "confirmed" || order.SyncStatus != models.SyncStateSynced {
		t.Errorf("applied order = %+v, want confirmed and synced", order)
	}
	tickets, err := st.ListTicketsByOrder(ctx, "ord-1")
	if err != nil || len(tickets) != 1 {
		t.Errorf("nested tickets not applied: %v (%d)", err, len(tickets))
	}

	res := drainResolutions(m)
	if len(res) != 1 || res[0].Outcome != OutcomeSynced {
		t.Fatalf("resolutions = %+v, want one synced", res)
	}
}

func TestClientErrorIsTerminal(t *testing.T) {
	fetcher := &scriptedFetcher{script: []attemptResult{{status: 404}}}
	m, st := newTestManager(t, fetcher)
	ctx := context.Background()

	if _, err := m.Enqueue(ctx, testOperation("op-1")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	m.DrainOnce(ctx)

	if fetcher.callCount() != 1 {
		t.Errorf("fetcher called %d times for a rejected request, want 1", fetcher.callCount())
	}

	op, err := st.GetOperation(ctx, "op-1")
	if err != nil {
		t.Fatalf("failed operation should stay persisted: %v", err)
	}
	if op.Status != models.OpStatusFailed {
		t.Errorf("status = %q, want failed", op.Status)
	}
	if op.RetryCount != 0 {
		t.Errorf("RetryCount = %d for a terminal rejection, want 0", op.RetryCount)
	}

	res := drainResolutions(m)
	if len(res) != 1 || res[0].Outcome != OutcomeFailed || res[0].Status != 404 {
		t.Fatalf("resolutions = %+v, want one failed with status 404", res)
	}
}

func TestServerErrorRetriesThenSucceeds(t *testing.T) {
	fetcher := &scriptedFetcher{script: []attemptResult{
		{status: 503}, {status: 503}, {status: 503}, {status: 200},
	}}
	m, st := newTestManager(t, fetcher)
	ctx := context.Background()

	if _, err := m.Enqueue(ctx, testOperation("op-1")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		m.DrainOnce(ctx)
		clearBackoff(m)
	}

	if fetcher.callCount() != 4 {
		t.Fatalf("fetcher called %d times, want 4", fetcher.callCount())
	}
	if _, err := st.GetOperation(ctx, "op-1"); err == nil {
		t.Error("operation still persisted after eventual success")
	}

	res := drainResolutions(m)
	if len(res) != 1 || res[0].Outcome != OutcomeSynced {
		t.Fatalf("resolutions = %+v, want one synced", res)
	}
	if res[0].Operation.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3 recorded retries", res[0].Operation.RetryCount)
	}
}

func TestRetriesExhausted(t *testing.T) {
	fetcher := &scriptedFetcher{script: []attemptResult{{err: errors.New("network unreachable")}}}
	m, st := newTestManager(t, fetcher)
	ctx := context.Background()

	op := testOperation("op-1")
	op.MaxRetries = 2
	if _, err := m.Enqueue(ctx, op); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		m.DrainOnce(ctx)
		clearBackoff(m)
	}

	if fetcher.callCount() != 2 {
		t.Errorf("fetcher called %d times with MaxRetries=2, want 2", fetcher.callCount())
	}

	got, err := st.GetOperation(ctx, "op-1")
	if err != nil {
		t.Fatalf("exhausted operation should stay persisted: %v", err)
	}
	if got.Status != models.OpStatusFailed || got.RetryCount != 2 {
		t.Errorf("persisted state = (%q, %d), want (failed, 2)", got.Status, got.RetryCount)
	}
	if m.queue.Size() != 0 {
		t.Errorf("mirror size = %d after terminal failure, want 0", m.queue.Size())
	}

	res := drainResolutions(m)
	if len(res) != 1 || res[0].Outcome != OutcomeFailed {
		t.Fatalf("resolutions = %+v, want one failed", res)
	}
}

func TestHandleMutationQueuesOnTransportFailure(t *testing.T) {
	fetcher := &scriptedFetcher{script: []attemptResult{{err: errors.New("network unreachable")}}}
	m, st := newTestManager(t, fetcher)
	ctx := context.Background()

	req := &cache.Request{
		Method: "POST",
		URL:    "/api/payments",
		Body:   []byte(`{"order_id":"ord-1"}`),
	}
	resp := m.HandleMutation(ctx, req)
	if resp.Status != 202 || !resp.Offline {
		t.Fatalf("offline mutation response = %+v, want optimistic 202", resp)
	}

	ops, err := st.ListOperationsByStatus(ctx, models.OpStatusPending)
	if err != nil {
		t.Fatalf("ListOperationsByStatus() failed: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("got %d queued operations, want 1", len(ops))
	}
	if ops[0].Type != models.OpTypePayment {
		t.Errorf("inferred type = %q, want payment", ops[0].Type)
	}
	if ops[0].Priority != models.PriorityHigh {
		t.Errorf("inferred priority = %d, want high", ops[0].Priority)
	}
}

func TestHandleMutationForwardsWhileOnline(t *testing.T) {
	fetcher := &scriptedFetcher{script: []attemptResult{{status: 201}}}
	m, st := newTestManager(t, fetcher)
	ctx := context.Background()

	resp := m.HandleMutation(ctx, &cache.Request{Method: "POST", URL: "/api/orders"})
	if resp.Status != 201 || resp.Offline {
		t.Fatalf("online mutation response = %+v, want forwarded 201", resp)
	}

	ops, _ := st.ListOperationsByStatus(ctx, models.OpStatusPending)
	if len(ops) != 0 {
		t.Errorf("online mutation was queued: %d operations", len(ops))
	}
}

// blockingFetcher parks the first request until released, exposing the
// drain mutual-exclusion window.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *blockingFetcher) Do(ctx context.Context, req *cache.Request) (*cache.Response, error) {
	f.once.Do(func() { close(f.started) })
	<-f.release
	return &cache.Response{Status: 200, ContentType: "application/json", Body: []byte(`{}`)}, nil
}

func TestDrainMutualExclusion(t *testing.T) {
	fetcher := &blockingFetcher{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	m, _ := newTestManager(t, fetcher)
	ctx := context.Background()

	if _, err := m.Enqueue(ctx, testOperation("op-1")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	done := make(chan bool)
	go func() { done <- m.DrainOnce(ctx) }()

	<-fetcher.started
	if m.DrainOnce(ctx) {
		t.Error("second concurrent drain should be rejected")
	}

	close(fetcher.release)
	if !<-done {
		t.Error("first drain should complete normally")
	}
}

func TestRestartRevertsInFlightToPending(t *testing.T) {
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	fetcher := &scriptedFetcher{script: []attemptResult{{status: 200}}}
	m1, err := NewManager(st, fetcher, nil)
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	if _, err := m1.Enqueue(ctx, testOperation("op-1")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	// Crash mid-delivery: in-flight state is memory-only
	if !m1.queue.MarkInFlight("op-1") {
		t.Fatal("MarkInFlight() failed")
	}

	m2, err := NewManager(st, fetcher, nil)
	if err != nil {
		t.Fatalf("NewManager() after restart failed: %v", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := m2.Start(runCtx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	ready := m2.queue.Ready(time.Now())
	if len(ready) != 1 || ready[0].ID.String() != "op-1" {
		t.Fatalf("Ready() after restart = %v, want the reverted operation", ready)
	}
}

func TestSetOnlineTriggersDrain(t *testing.T) {
	fetcher := &scriptedFetcher{script: []attemptResult{{status: 200}}}
	m, st := newTestManager(t, fetcher)
	ctx := context.Background()

	if _, err := m.Enqueue(ctx, testOperation("op-1")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	m.SetOnline(ctx, false)
	m.SetOnline(ctx, true)

	// The reconnect drain is asynchronous
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := st.GetOperation(ctx, "op-1"); err != nil {
			return // drained
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("reconnect did not drain the queue")
}

func TestClearEmptiesQueueAndStore(t *testing.T) {
	fetcher := &scriptedFetcher{script: []attemptResult{{status: 200}}}
	m, st := newTestManager(t, fetcher)
	ctx := context.Background()

	for _, id := range []string{"op-1", "op-2"} {
		if _, err := m.Enqueue(ctx, testOperation(id)); err != nil {
			t.Fatalf("Enqueue(%s) failed: %v", id, err)
		}
	}

	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if m.queue.Size() != 0 {
		t.Errorf("mirror size = %d after clear, want 0", m.queue.Size())
	}
	ops, _ := st.ListOperationsByStatus(ctx, models.OpStatusPending)
	if len(ops) != 0 {
		t.Errorf("store still holds %d operations after clear", len(ops))
	}
}
