package models

import "encoding/json"

// ScheduledNotification is a future-dated reminder persisted until it fires.
type ScheduledNotification struct {
	ID     UUID   `db:"id" json:"id"`
	Title  string `db:"title" json:"title"`
	Body   string `db:"body" json:"body"`
	Target string `db:"target" json:"target"` // deep-link or entity reference
	Type   string `db:"notif_type" json:"type"`
	DueAt  int64  `db:"due_at" json:"due_at"`
}

// TableName returns the table name for ScheduledNotification.
func (ScheduledNotification) TableName() string {
	return "notifications"
}

// NotificationPayload is the platform delivery contract.
// Tag deduplicates concurrent notifications of the same logical event.
type NotificationPayload struct {
	Title              string          `json:"title"`
	Body               string          `json:"body"`
	Icon               string          `json:"icon,omitempty"`
	Badge              string          `json:"badge,omitempty"`
	Image              string          `json:"image,omitempty"`
	Tag                string          `json:"tag,omitempty"`
	Data               json.RawMessage `json:"data,omitempty"`
	Actions            []string        `json:"actions,omitempty"`
	RequireInteraction bool            `json:"requireInteraction,omitempty"`
	Silent             bool            `json:"silent,omitempty"`
}

// SubscriptionState tracks the push subscription lifecycle.
type SubscriptionState string

const (
	SubStateUnsubscribed SubscriptionState = "unsubscribed"
	SubStateSubscribed   SubscriptionState = "subscribed"
)

// PushSubscription holds the platform push handle and its server sync flag.
// Transmission to the server is best-effort; a failed transmit keeps the
// local subscription and is retried opportunistically.
type PushSubscription struct {
	ID               UUID              `db:"id" json:"id"`
	Endpoint         string            `db:"endpoint" json:"endpoint"`
	P256dhKey        string            `db:"p256dh_key" json:"p256dh_key"`
	AuthKey          string            `db:"auth_key" json:"auth_key"`
	State            SubscriptionState `db:"state" json:"state"`
	SyncedWithServer bool              `db:"synced_with_server" json:"synced_with_server"`
	CreatedAt        int64             `db:"created_at" json:"created_at"`
	UpdatedAt        int64             `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for PushSubscription.
func (PushSubscription) TableName() string {
	return "push_subscriptions"
}
