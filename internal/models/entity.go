package models

import "time"

// SyncState describes how a cached record relates to the server copy.
type SyncState string

const (
	SyncStateSynced  SyncState = "synced"
	SyncStatePending SyncState = "pending"
	SyncStateFailed  SyncState = "failed"
)

// Event represents a cached event listing.
type Event struct {
	ID         UUID      `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Venue      string    `db:"venue" json:"venue"`
	StartsAt   int64     `db:"starts_at" json:"starts_at"`
	PriceCents int64     `db:"price_cents" json:"price_cents"`
	CachedAt   int64     `db:"cached_at" json:"cached_at"`
	SyncStatus SyncState `db:"sync_status" json:"sync_status"`
}

// TableName returns the table name for Event.
func (Event) TableName() string {
	return "events"
}

// Order represents a cached ticket order.
type Order struct {
	ID         UUID      `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	EventID    UUID      `db:"event_id" json:"event_id"`
	Status     string    `db:"status" json:"status"` // pending_payment, confirmed, cancelled
	TotalCents int64     `db:"total_cents" json:"total_cents"`
	CachedAt   int64     `db:"cached_at" json:"cached_at"`
	SyncStatus SyncState `db:"sync_status" json:"sync_status"`
}

// TableName returns the table name for Order.
func (Order) TableName() string {
	return "orders"
}

// Ticket represents a cached issued ticket.
type Ticket struct {
	ID         UUID      `db:"id" json:"id"`
	OrderID    UUID      `db:"order_id" json:"order_id"`
	EventID    UUID      `db:"event_id" json:"event_id"`
	Seat       string    `db:"seat" json:"seat"`
	Barcode    string    `db:"barcode" json:"barcode"`
	CachedAt   int64     `db:"cached_at" json:"cached_at"`
	SyncStatus SyncState `db:"sync_status" json:"sync_status"`
}

// TableName returns the table name for Ticket.
func (Ticket) TableName() string {
	return "tickets"
}

// CachedResponse is a cached HTTP response keyed by normalized request URL.
type CachedResponse struct {
	URL         string `db:"url" json:"url"`
	Status      int    `db:"status" json:"status"`
	ContentType string `db:"content_type" json:"content_type"`
	Body        []byte `db:"body" json:"body"`
	CachedAt    int64  `db:"cached_at" json:"cached_at"`
}

// TableName returns the table name for CachedResponse.
func (CachedResponse) TableName() string {
	return "cached_responses"
}

// CartItem represents a locally held cart line.
type CartItem struct {
	ID        UUID   `db:"id" json:"id"`
	EventID   UUID   `db:"event_id" json:"event_id"`
	Quantity  int    `db:"quantity" json:"quantity"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for CartItem.
func (CartItem) TableName() string {
	return "cart_items"
}

// CachedAtTime returns the CachedAt as time.Time.
func (e *Event) CachedAtTime() time.Time {
	return time.Unix(e.CachedAt, 0)
}
