package store

import (
	"fmt"

	"github.com/ticketnest/core/internal/logging"
)

// SchemaVersion is bumped whenever the partition layout changes. A bump
// destructively recreates every partition. This is acceptable because all
// contents are either server-recoverable caches or queued mutations that the
// caller re-derives from its in-flight operation log at upgrade time; it is
// an explicit trade-off, not accidental data loss.
const SchemaVersion = 1

// partitionTables lists every partition, in creation order.
var partitionTables = []string{
	"events",
	"orders",
	"tickets",
	"cached_responses",
	"sync_queue",
	"preferences",
	"cart_items",
	"notifications",
	"push_subscriptions",
}

const createTables = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	venue TEXT NOT NULL DEFAULT '',
	starts_at INTEGER NOT NULL DEFAULT 0,
	price_cents INTEGER NOT NULL DEFAULT 0,
	cached_at INTEGER NOT NULL,
	sync_status TEXT NOT NULL DEFAULT 'synced'
);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	event_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending_payment',
	total_cents INTEGER NOT NULL DEFAULT 0,
	cached_at INTEGER NOT NULL,
	sync_status TEXT NOT NULL DEFAULT 'synced'
);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);

CREATE TABLE IF NOT EXISTS tickets (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	seat TEXT NOT NULL DEFAULT '',
	barcode TEXT NOT NULL DEFAULT '',
	cached_at INTEGER NOT NULL,
	sync_status TEXT NOT NULL DEFAULT 'synced'
);
CREATE INDEX IF NOT EXISTS idx_tickets_order ON tickets(order_id);

CREATE TABLE IF NOT EXISTS cached_responses (
	url TEXT PRIMARY KEY,
	status INTEGER NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	body BLOB,
	cached_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_queue (
	id TEXT PRIMARY KEY,
	op_type TEXT NOT NULL,
	action TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	method TEXT NOT NULL,
	payload BLOB,
	priority INTEGER NOT NULL DEFAULT 1,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 5,
	enqueued_at INTEGER NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	last_error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);

CREATE TABLE IF NOT EXISTS preferences (
	pref_key TEXT PRIMARY KEY,
	pref_value TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cart_items (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	quantity INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	target TEXT NOT NULL DEFAULT '',
	notif_type TEXT NOT NULL DEFAULT 'reminder',
	due_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_due ON notifications(due_at);

CREATE TABLE IF NOT EXISTS push_subscriptions (
	id TEXT PRIMARY KEY,
	endpoint TEXT NOT NULL,
	p256dh_key TEXT NOT NULL DEFAULT '',
	auth_key TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT 'unsubscribed',
	synced_with_server INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// initSchema provisions partitions and indices on first use. On a schema
// version bump all partitions are dropped and recreated.
func (s *Store) initSchema() error {
	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_meta (
		id INTEGER PRIMARY KEY CHECK(id = 1),
		version INTEGER NOT NULL
	);`); err != nil {
		return fmt.Errorf("failed to create schema_meta: %w", err)
	}

	var current int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_meta").Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if current != 0 && current != SchemaVersion {
		logging.Warn("Schema version changed, recreating partitions",
			map[string]interface{}{"from": current, "to": SchemaVersion})
		if err := s.dropPartitions(); err != nil {
			return err
		}
	}

	if _, err := s.db.Exec(createTables); err != nil {
		return fmt.Errorf("failed to create partitions: %w", err)
	}

	if _, err := s.db.Exec(`
	INSERT INTO schema_meta (id, version) VALUES (1, ?)
	ON CONFLICT(id) DO UPDATE SET version = excluded.version`, SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return nil
}

// dropPartitions drops every partition table. Destructive.
func (s *Store) dropPartitions() error {
	for _, table := range partitionTables {
		if _, err := s.db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return fmt.Errorf("failed to drop partition %s: %w", table, err)
		}
	}
	return nil
}
