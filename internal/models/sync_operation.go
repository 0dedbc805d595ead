package models

import "encoding/json"

// OperationType tags a queued mutation with the domain object it touches.
// The tag is supplied explicitly by the caller at enqueue time; it is never
// inferred from the endpoint.
type OperationType string

const (
	OpTypeOrder      OperationType = "order"
	OpTypePayment    OperationType = "payment"
	OpTypeTicket     OperationType = "ticket"
	OpTypeCart       OperationType = "cart"
	OpTypePreference OperationType = "user-preference"
)

// AllOperationTypes enumerates every operation type. The sync manager's
// apply table must cover each one.
func AllOperationTypes() []OperationType {
	return []OperationType{OpTypeOrder, OpTypePayment, OpTypeTicket, OpTypeCart, OpTypePreference}
}

// OperationAction is the CRUD verb of a queued mutation.
type OperationAction string

const (
	ActionCreate OperationAction = "create"
	ActionUpdate OperationAction = "update"
	ActionDelete OperationAction = "delete"
)

// Priority orders queued mutations at drain time.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityMedium Priority = 1
	PriorityHigh   Priority = 2
)

// OperationStatus is the persisted state of a queued mutation.
// In-flight is deliberately absent: it is tracked only in memory, so a crash
// mid-flight reverts the operation to pending on reload.
type OperationStatus string

const (
	OpStatusPending OperationStatus = "pending"
	OpStatusFailed  OperationStatus = "failed"
)

// SyncOperation is the unit of queued work in the durable mutation queue.
// The ID is client-generated and stable across retries; the remote API is
// assumed to deduplicate on it. Everything except RetryCount is immutable
// after enqueue.
type SyncOperation struct {
	ID         UUID            `db:"id" json:"id"`
	Type       OperationType   `db:"op_type" json:"type"`
	Action     OperationAction `db:"action" json:"action"`
	Endpoint   string          `db:"endpoint" json:"endpoint"`
	Method     string          `db:"method" json:"method"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	Priority   Priority        `db:"priority" json:"priority"`
	RetryCount int             `db:"retry_count" json:"retry_count"`
	MaxRetries int             `db:"max_retries" json:"max_retries"`
	EnqueuedAt int64           `db:"enqueued_at" json:"enqueued_at"`
	UserID     string          `db:"user_id" json:"user_id,omitempty"`
	Status     OperationStatus `db:"status" json:"status"`
	LastError  string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for SyncOperation.
func (SyncOperation) TableName() string {
	return "sync_queue"
}
