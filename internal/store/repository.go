package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ticketnest/core/internal/models"
)

// =====================================================
// Event Operations
// =====================================================

// PutEvent upserts a cached event by its server-assigned id. Last write wins;
// a repeated put with identical contents is observably a no-op.
func (s *Store) PutEvent(ctx context.Context, e *models.Event) error {
	if e.CachedAt == 0 {
		e.CachedAt = time.Now().Unix()
	}
	if e.SyncStatus == "" {
		e.SyncStatus = models.SyncStateSynced
	}
	query := `
	INSERT INTO events (id, name, venue, starts_at, price_cents, cached_at, sync_status)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name, venue = excluded.venue, starts_at = excluded.starts_at,
		price_cents = excluded.price_cents, cached_at = excluded.cached_at,
		sync_status = excluded.sync_status
	`
	_, err := s.db.ExecContext(ctx, query, e.ID, e.Name, e.Venue, e.StartsAt,
		e.PriceCents, e.CachedAt, e.SyncStatus)
	return err
}

// GetEvent retrieves a cached event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	query := `SELECT id, name, venue, starts_at, price_cents, cached_at, sync_status FROM events WHERE id = ?`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}
	var e models.Event
	err = stmt.QueryRowContext(ctx, id).Scan(&e.ID, &e.Name, &e.Venue, &e.StartsAt,
		&e.PriceCents, &e.CachedAt, &e.SyncStatus)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEvents returns all cached events.
func (s *Store) ListEvents(ctx context.Context) ([]*models.Event, error) {
	query := `SELECT id, name, venue, starts_at, price_cents, cached_at, sync_status FROM events ORDER BY starts_at`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.Name, &e.Venue, &e.StartsAt,
			&e.PriceCents, &e.CachedAt, &e.SyncStatus); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// DeleteEvent removes a cached event.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	return err
}

// =====================================================
// Order Operations
// =====================================================

// PutOrder upserts a cached order by its id.
func (s *Store) PutOrder(ctx context.Context, o *models.Order) error {
	if o.CachedAt == 0 {
		o.CachedAt = time.Now().Unix()
	}
	if o.SyncStatus == "" {
		o.SyncStatus = models.SyncStateSynced
	}
	query := `
	INSERT INTO orders (id, user_id, event_id, status, total_cents, cached_at, sync_status)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id, event_id = excluded.event_id, status = excluded.status,
		total_cents = excluded.total_cents, cached_at = excluded.cached_at,
		sync_status = excluded.sync_status
	`
	_, err := s.db.ExecContext(ctx, query, o.ID, o.UserID, o.EventID, o.Status,
		o.TotalCents, o.CachedAt, o.SyncStatus)
	return err
}

// GetOrder retrieves a cached order by id.
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT id, user_id, event_id, status, total_cents, cached_at, sync_status FROM orders WHERE id = ?`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}
	var o models.Order
	err = stmt.QueryRowContext(ctx, id).Scan(&o.ID, &o.UserID, &o.EventID, &o.Status,
		&o.TotalCents, &o.CachedAt, &o.SyncStatus)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrdersByUser returns cached orders for a user via the user index.
func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	query := `SELECT id, user_id, event_id, status, total_cents, cached_at, sync_status
			  FROM orders WHERE user_id = ? ORDER BY cached_at DESC`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.EventID, &o.Status,
			&o.TotalCents, &o.CachedAt, &o.SyncStatus); err != nil {
			return nil, err
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

// =====================================================
// Ticket Operations
// =====================================================

// PutTicket upserts a cached ticket by its id.
func (s *Store) PutTicket(ctx context.Context, t *models.Ticket) error {
	if t.CachedAt == 0 {
		t.CachedAt = time.Now().Unix()
	}
	if t.SyncStatus == "" {
		t.SyncStatus = models.SyncStateSynced
	}
	query := `
	INSERT INTO tickets (id, order_id, event_id, seat, barcode, cached_at, sync_status)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		order_id = excluded.order_id, event_id = excluded.event_id, seat = excluded.seat,
		barcode = excluded.barcode, cached_at = excluded.cached_at,
		sync_status = excluded.sync_status
	`
	_, err := s.db.ExecContext(ctx, query, t.ID, t.OrderID, t.EventID, t.Seat,
		t.Barcode, t.CachedAt, t.SyncStatus)
	return err
}

// ListTicketsByOrder returns cached tickets for an order via the order index.
func (s *Store) ListTicketsByOrder(ctx context.Context, orderID string) ([]*models.Ticket, error) {
	query := `SELECT id, order_id, event_id, seat, barcode, cached_at, sync_status
			  FROM tickets WHERE order_id = ? ORDER BY seat`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []*models.Ticket
	for rows.Next() {
		var t models.Ticket
		if err := rows.Scan(&t.ID, &t.OrderID, &t.EventID, &t.Seat,
			&t.Barcode, &t.CachedAt, &t.SyncStatus); err != nil {
			return nil, err
		}
		tickets = append(tickets, &t)
	}
	return tickets, rows.Err()
}

// =====================================================
// Cached Response Operations
// =====================================================

// PutCachedResponse stores a response keyed by normalized request URL.
// TTL-free overwrite semantics: last write wins.
func (s *Store) PutCachedResponse(ctx context.Context, r *models.CachedResponse) error {
	if r.CachedAt == 0 {
		r.CachedAt = time.Now().Unix()
	}
	query := `
	INSERT INTO cached_responses (url, status, content_type, body, cached_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		status = excluded.status, content_type = excluded.content_type,
		body = excluded.body, cached_at = excluded.cached_at
	`
	_, err := s.db.ExecContext(ctx, query, r.URL, r.Status, r.ContentType, r.Body, r.CachedAt)
	return err
}

// GetCachedResponse retrieves the last cached response for an exact URL.
func (s *Store) GetCachedResponse(ctx context.Context, url string) (*models.CachedResponse, error) {
	query := `SELECT url, status, content_type, body, cached_at FROM cached_responses WHERE url = ?`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}
	var r models.CachedResponse
	err = stmt.QueryRowContext(ctx, url).Scan(&r.URL, &r.Status, &r.ContentType, &r.Body, &r.CachedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ClearCachedResponses empties the response cache partition.
func (s *Store) ClearCachedResponses(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cached_responses`)
	return err
}

// =====================================================
// Preference Operations
// =====================================================

// PutPreference upserts a preference key. Last write wins, no merge logic.
func (s *Store) PutPreference(ctx context.Context, p *models.UserPreference) error {
	if p.Timestamp == 0 {
		p.Timestamp = time.Now().Unix()
	}
	query := `
	INSERT INTO preferences (pref_key, pref_value, timestamp)
	VALUES (?, ?, ?)
	ON CONFLICT(pref_key) DO UPDATE SET
		pref_value = excluded.pref_value, timestamp = excluded.timestamp
	`
	_, err := s.db.ExecContext(ctx, query, p.Key, p.Value, p.Timestamp)
	return err
}

// GetPreference retrieves a preference by key.
func (s *Store) GetPreference(ctx context.Context, key string) (*models.UserPreference, error) {
	query := `SELECT pref_key, pref_value, timestamp FROM preferences WHERE pref_key = ?`
	var p models.UserPreference
	err := s.db.QueryRowContext(ctx, query, key).Scan(&p.Key, &p.Value, &p.Timestamp)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// =====================================================
// Cart Operations
// =====================================================

// PutCartItem upserts a cart line.
func (s *Store) PutCartItem(ctx context.Context, c *models.CartItem) error {
	now := time.Now().Unix()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	query := `
	INSERT INTO cart_items (id, event_id, quantity, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		event_id = excluded.event_id, quantity = excluded.quantity,
		updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, c.ID, c.EventID, c.Quantity, c.CreatedAt, c.UpdatedAt)
	return err
}

// ListCartItems returns all cart lines.
func (s *Store) ListCartItems(ctx context.Context) ([]*models.CartItem, error) {
	query := `SELECT id, event_id, quantity, created_at, updated_at FROM cart_items ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.CartItem
	for rows.Next() {
		var c models.CartItem
		if err := rows.Scan(&c.ID, &c.EventID, &c.Quantity, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &c)
	}
	return items, rows.Err()
}

// DeleteCartItem removes a cart line.
func (s *Store) DeleteCartItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE id = ?`, id)
	return err
}

// =====================================================
// Sync Queue Operations
// =====================================================

// CreateOperation persists a queued mutation. The caller supplies the
// client-generated id; it stays stable across retries.
func (s *Store) CreateOperation(ctx context.Context, op *models.SyncOperation) error {
	if op.EnqueuedAt == 0 {
		op.EnqueuedAt = time.Now().Unix()
	}
	if op.Status == "" {
		op.Status = models.OpStatusPending
	}
	query := `
	INSERT INTO sync_queue (id, op_type, action, endpoint, method, payload, priority,
		retry_count, max_retries, enqueued_at, user_id, status, last_error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, op.ID, op.Type, op.Action, op.Endpoint,
		op.Method, []byte(op.Payload), op.Priority, op.RetryCount, op.MaxRetries,
		op.EnqueuedAt, op.UserID, op.Status, op.LastError)
	return err
}

// GetOperation retrieves a queued mutation by id.
func (s *Store) GetOperation(ctx context.Context, id string) (*models.SyncOperation, error) {
	query := `SELECT id, op_type, action, endpoint, method, payload, priority,
			  retry_count, max_retries, enqueued_at, user_id, status, last_error
			  FROM sync_queue WHERE id = ?`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanOperation(stmt.QueryRowContext(ctx, id))
}

// ListOperationsByStatus returns queued mutations in a given persisted state
// via the status index, ordered for drain: priority descending, then FIFO.
func (s *Store) ListOperationsByStatus(ctx context.Context, status models.OperationStatus) ([]*models.SyncOperation, error) {
	query := `SELECT id, op_type, action, endpoint, method, payload, priority,
			  retry_count, max_retries, enqueued_at, user_id, status, last_error
			  FROM sync_queue WHERE status = ? ORDER BY priority DESC, enqueued_at ASC`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*models.SyncOperation
	for rows.Next() {
		op, err := scanOperationRows(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// UpdateOperationRetry records a retry attempt. RetryCount only increases.
func (s *Store) UpdateOperationRetry(ctx context.Context, id string, retryCount int, lastError string) error {
	query := `UPDATE sync_queue SET retry_count = ?, last_error = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, retryCount, lastError, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("operation not found: %s", id)
	}
	return nil
}

// MarkOperationFailed records a terminal failure. The row stays for the
// eviction sweep so the caller can inspect the outcome.
func (s *Store) MarkOperationFailed(ctx context.Context, id string, lastError string) error {
	query := `UPDATE sync_queue SET status = ?, last_error = ? WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query, models.OpStatusFailed, lastError, id)
	return err
}

// DeleteOperation removes a queued mutation, used on confirmed success.
func (s *Store) DeleteOperation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ClearQueue removes every queued mutation. Full data reset only.
func (s *Store) ClearQueue(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue`)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row rowScanner) (*models.SyncOperation, error) {
	var op models.SyncOperation
	var payload []byte
	err := row.Scan(&op.ID, &op.Type, &op.Action, &op.Endpoint, &op.Method, &payload,
		&op.Priority, &op.RetryCount, &op.MaxRetries, &op.EnqueuedAt, &op.UserID,
		&op.Status, &op.LastError)
	if err != nil {
		return nil, err
	}
	op.Payload = payload
	return &op, nil
}

func scanOperationRows(rows *sql.Rows) (*models.SyncOperation, error) {
	return scanOperation(rows)
}

// =====================================================
// Notification Operations
// =====================================================

// PutNotification persists a future-dated reminder.
func (s *Store) PutNotification(ctx context.Context, n *models.ScheduledNotification) error {
	query := `
	INSERT INTO notifications (id, title, body, target, notif_type, due_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title, body = excluded.body, target = excluded.target,
		notif_type = excluded.notif_type, due_at = excluded.due_at
	`
	_, err := s.db.ExecContext(ctx, query, n.ID, n.Title, n.Body, n.Target, n.Type, n.DueAt)
	return err
}

// ListDueNotifications returns reminders whose due time has passed, via the
// due-time index.
func (s *Store) ListDueNotifications(ctx context.Context, now int64) ([]*models.ScheduledNotification, error) {
	query := `SELECT id, title, body, target, notif_type, due_at
			  FROM notifications WHERE due_at <= ? ORDER BY due_at ASC`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []*models.ScheduledNotification
	for rows.Next() {
		var n models.ScheduledNotification
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &n.Target, &n.Type, &n.DueAt); err != nil {
			return nil, err
		}
		due = append(due, &n)
	}
	return due, rows.Err()
}

// DeleteNotification removes a reminder once fired.
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, id)
	return err
}

// =====================================================
// Push Subscription Operations
// =====================================================

// SavePushSubscription upserts the push subscription handle.
func (s *Store) SavePushSubscription(ctx context.Context, sub *models.PushSubscription) error {
	now := time.Now().Unix()
	if sub.CreatedAt == 0 {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	query := `
	INSERT INTO push_subscriptions (id, endpoint, p256dh_key, auth_key, state, synced_with_server, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		endpoint = excluded.endpoint, p256dh_key = excluded.p256dh_key,
		auth_key = excluded.auth_key, state = excluded.state,
		synced_with_server = excluded.synced_with_server, updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, sub.ID, sub.Endpoint, sub.P256dhKey,
		sub.AuthKey, sub.State, sub.SyncedWithServer, sub.CreatedAt, sub.UpdatedAt)
	return err
}

// GetPushSubscription returns the stored subscription, if any.
func (s *Store) GetPushSubscription(ctx context.Context) (*models.PushSubscription, error) {
	query := `SELECT id, endpoint, p256dh_key, auth_key, state, synced_with_server, created_at, updated_at
			  FROM push_subscriptions ORDER BY updated_at DESC LIMIT 1`
	var sub models.PushSubscription
	err := s.db.QueryRowContext(ctx, query).Scan(&sub.ID, &sub.Endpoint, &sub.P256dhKey,
		&sub.AuthKey, &sub.State, &sub.SyncedWithServer, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
