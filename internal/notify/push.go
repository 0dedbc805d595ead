package notify

import (
	"context"
	"encoding/json"

	"github.com/ticketnest/core/internal/cache"
	"github.com/ticketnest/core/internal/errors"
	"github.com/ticketnest/core/internal/logging"
	"github.com/ticketnest/core/internal/models"
	"github.com/ticketnest/core/internal/store"
	"github.com/ticketnest/core/internal/uuid"
)

// PushProvider is the platform hook for permission prompts and subscription
// handle creation.
type PushProvider interface {
	RequestPermission(ctx context.Context) (bool, error)
	CreateSubscription(ctx context.Context) (endpoint, p256dh, auth string, err error)
}

// SubscriptionManager owns the push-subscription lifecycle:
// unsubscribed -> subscribed. The subscription handle is transmitted to the
// remote API best-effort: a failed transmit keeps the local subscription and
// is retried opportunistically on later polls. Subscription payloads are
// deliberately not routed through the sync queue; they are not
// idempotent-safe mutations in the same sense.
type SubscriptionManager struct {
	store    *store.Store
	provider PushProvider
	fetcher  cache.Fetcher
	endpoint string // remote API path receiving subscription handles
}

// NewSubscriptionManager creates a push subscription manager.
func NewSubscriptionManager(st *store.Store, provider PushProvider, fetcher cache.Fetcher, endpoint string) *SubscriptionManager {
	if endpoint == "" {
		endpoint = "/api/push/subscriptions"
	}
	return &SubscriptionManager{
		store:    st,
		provider: provider,
		fetcher:  fetcher,
		endpoint: endpoint,
	}
}

// Subscribe requests platform permission, creates the subscription handle,
// persists it, and transmits it to the server best-effort.
func (m *SubscriptionManager) Subscribe(ctx context.Context) (*models.PushSubscription, error) {
	granted, err := m.provider.RequestPermission(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrSubscriptionFailed, "permission request failed", err)
	}
	if !granted {
		return nil, errors.New(errors.ErrPermissionDenied, "notification permission denied")
	}

	endpoint, p256dh, auth, err := m.provider.CreateSubscription(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrSubscriptionFailed, "failed to create subscription", err)
	}

	sub := &models.PushSubscription{
		ID:        models.UUID(uuid.New()),
		Endpoint:  endpoint,
		P256dhKey: p256dh,
		AuthKey:   auth,
		State:     models.SubStateSubscribed,
	}
	sub.SyncedWithServer = m.transmit(ctx, sub)

	if err := m.store.SavePushSubscription(ctx, sub); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to persist subscription", err)
	}

	logging.Info("Push subscription created",
		map[string]interface{}{
			"subscription_id": sub.ID.String(),
			"server_synced":   sub.SyncedWithServer,
		})
	return sub, nil
}

// Unsubscribe reverses the lifecycle and notifies the server best-effort.
func (m *SubscriptionManager) Unsubscribe(ctx context.Context) error {
	sub, err := m.store.GetPushSubscription(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrNotFound, "no push subscription", err)
	}

	sub.State = models.SubStateUnsubscribed
	sub.SyncedWithServer = false
	if err := m.store.SavePushSubscription(ctx, sub); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to persist unsubscribe", err)
	}

	req := &cache.Request{Method: "DELETE", URL: m.endpoint + "/" + sub.ID.String()}
	if resp, ferr := m.fetcher.Do(ctx, req); ferr != nil || !resp.OK() {
		logging.Warn("Failed to notify server of unsubscribe",
			map[string]interface{}{"subscription_id": sub.ID.String()})
	}

	return nil
}

// RetransmitIfNeeded retries the server transmit for a subscription that
// was created while offline.
func (m *SubscriptionManager) RetransmitIfNeeded(ctx context.Context) {
	sub, err := m.store.GetPushSubscription(ctx)
	if err != nil {
		return
	}
	if sub.State != models.SubStateSubscribed || sub.SyncedWithServer {
		return
	}

	if m.transmit(ctx, sub) {
		sub.SyncedWithServer = true
		if err := m.store.SavePushSubscription(ctx, sub); err != nil {
			logging.Error("Failed to persist subscription sync flag", err, nil)
		}
	}
}

// transmit sends the subscription handle to the remote API. Returns true on
// acknowledged delivery.
func (m *SubscriptionManager) transmit(ctx context.Context, sub *models.PushSubscription) bool {
	body, _ := json.Marshal(sub)
	req := &cache.Request{
		Method: "POST",
		URL:    m.endpoint,
		Header: map[string]string{"Content-Type": "application/json"},
		Body:   body,
	}

	resp, err := m.fetcher.Do(ctx, req)
	if err != nil || !resp.OK() {
		logging.Warn("Subscription transmit deferred",
			map[string]interface{}{"subscription_id": sub.ID.String()})
		return false
	}
	return true
}
