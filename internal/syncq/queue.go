// Package syncq provides the durable sync queue manager: ordered, retrying
// delivery of queued mutations to the remote API, with idempotent
// application of results to the durable store.
package syncq

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ticketnest/core/internal/logging"
	"github.com/ticketnest/core/internal/models"
)

// Queue is the in-memory mirror of the durable mutation queue. It exists
// only for ordering and in-flight tracking; the store remains the source of
// truth and the mirror is reconciled from it on startup. In-flight state
// lives here exclusively, so a crash reverts mid-flight operations to
// pending on reload.
type Queue struct {
	mu          sync.RWMutex
	ops         map[string]*models.SyncOperation
	inFlight    map[string]bool
	nextAttempt map[string]time.Time
	maxSize     int
}

// NewQueue creates an empty queue mirror.
func NewQueue(maxSize int) *Queue {
	return &Queue{
		ops:         make(map[string]*models.SyncOperation),
		inFlight:    make(map[string]bool),
		nextAttempt: make(map[string]time.Time),
		maxSize:     maxSize,
	}
}

// Load reconciles the mirror from persisted operations. Only pending
// operations are mirrored; failed rows stay in the store for inspection and
// eviction.
func (q *Queue) Load(ops []*models.SyncOperation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ops = make(map[string]*models.SyncOperation, len(ops))
	q.inFlight = make(map[string]bool)
	q.nextAttempt = make(map[string]time.Time)

	for _, op := range ops {
		if op.Status == models.OpStatusPending {
			q.ops[op.ID.String()] = op
		}
	}

	logging.Info("Sync queue reconciled from store",
		map[string]interface{}{"pending": len(q.ops)})
}

// Add mirrors a newly persisted operation.
func (q *Queue) Add(op *models.SyncOperation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) >= q.maxSize {
		return fmt.Errorf("queue is full (max size: %d)", q.maxSize)
	}

	q.ops[op.ID.String()] = op
	return nil
}

// Ready returns operations eligible for a drain pass, sorted by priority
// descending then FIFO by enqueue time. In-flight operations and operations
// still inside their backoff window are excluded.
func (q *Queue) Ready(now time.Time) []*models.SyncOperation {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var ready []*models.SyncOperation
	for id, op := range q.ops {
		if q.inFlight[id] {
			continue
		}
		if at, ok := q.nextAttempt[id]; ok && now.Before(at) {
			continue
		}
		ready = append(ready, op)
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].EnqueuedAt < ready[j].EnqueuedAt
	})

	return ready
}

// MarkInFlight flags an operation as being delivered. Returns false if the
// operation is unknown or already in flight.
func (q *Queue) MarkInFlight(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.ops[id]; !ok || q.inFlight[id] {
		return false
	}
	q.inFlight[id] = true
	return true
}

// ClearInFlight removes the in-flight flag after an attempt completes.
func (q *Queue) ClearInFlight(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, id)
}

// Remove drops an operation from the mirror on terminal resolution.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.ops, id)
	delete(q.inFlight, id)
	delete(q.nextAttempt, id)
}

// Reschedule records a retry: increments the mirrored retry count and sets
// the next attempt time.
func (q *Queue) Reschedule(id string, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if op, ok := q.ops[id]; ok {
		op.RetryCount++
		q.nextAttempt[id] = at
	}
	delete(q.inFlight, id)
}

// Get returns a copy of a mirrored operation.
func (q *Queue) Get(id string) (*models.SyncOperation, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	op, ok := q.ops[id]
	if !ok {
		return nil, false
	}
	cp := *op
	return &cp, true
}

// Size returns the number of mirrored pending operations.
func (q *Queue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.ops)
}

// Clear empties the mirror. Full data reset only.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ops = make(map[string]*models.SyncOperation)
	q.inFlight = make(map[string]bool)
	q.nextAttempt = make(map[string]time.Time)

	logging.Info("Sync queue cleared", nil)
}

// Stats returns queue statistics by state.
func (q *Queue) Stats() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := map[string]int{
		"pending":   0,
		"in_flight": 0,
	}
	for id := range q.ops {
		if q.inFlight[id] {
			stats["in_flight"]++
		} else {
			stats["pending"]++
		}
	}
	return stats
}

// backoffSchedule is the fixed escalating delay ladder applied between
// retries. Further retries stay capped at the last value.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// backoffDelay returns the delay before attempt retryCount (1-based: the
// delay after the first failure is backoffSchedule[0]).
func backoffDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		return backoffSchedule[0]
	}
	if retryCount > len(backoffSchedule) {
		return backoffSchedule[len(backoffSchedule)-1]
	}
	return backoffSchedule[retryCount-1]
}
