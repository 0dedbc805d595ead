// Package notify provides the deferred-notification scheduler: persisted
// future-dated reminders fired when due, and push-subscription lifecycle
// management.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/ticketnest/core/internal/errors"
	"github.com/ticketnest/core/internal/logging"
	"github.com/ticketnest/core/internal/models"
	"github.com/ticketnest/core/internal/store"
	"github.com/ticketnest/core/internal/uuid"
)

// Notifier is the platform delivery hook (local or push notification).
type Notifier interface {
	Notify(ctx context.Context, payload *models.NotificationPayload) error
}

// Config holds scheduler configuration.
type Config struct {
	PollInterval time.Duration // how often due reminders are checked while active (default: 1 minute)
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: time.Minute,
	}
}

// Scheduler persists reminders and delivers them at or after their due time.
// Delivery happens only while the runtime is active: a foreground trigger or
// the periodic poll. Each reminder fires exactly once; after long dormancy
// every missed reminder gets a single catch-up emission, never duplicates.
type Scheduler struct {
	store    *store.Store
	notifier Notifier
	push     *SubscriptionManager
	cfg      *Config

	mu             sync.Mutex
	pollInProgress bool
}

// NewScheduler creates a notification scheduler.
func NewScheduler(st *store.Store, notifier Notifier, push *SubscriptionManager, cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Scheduler{
		store:    st,
		notifier: notifier,
		push:     push,
		cfg:      cfg,
	}
}

// Schedule persists a reminder with an absolute due time.
func (s *Scheduler) Schedule(ctx context.Context, n *models.ScheduledNotification) error {
	if n.Title == "" {
		return errors.New(errors.ErrValidation, "notification title is required")
	}
	if n.DueAt == 0 {
		return errors.New(errors.ErrValidation, "notification due time is required")
	}
	if n.ID == "" {
		n.ID = models.UUID(uuid.New())
	}
	if n.Type == "" {
		n.Type = "reminder"
	}

	if err := s.store.PutNotification(ctx, n); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to persist reminder", err)
	}

	logging.Info("Reminder scheduled",
		map[string]interface{}{"notification_id": n.ID.String(), "due_at": n.DueAt})
	return nil
}

// Cancel removes a reminder before it fires.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	return s.store.DeleteNotification(ctx, id)
}

// Poll fires every due reminder exactly once and removes it. Reminders for
// the same target due in the same pass are deduplicated by tag. Returns the
// number of notifications fired. Only one poll runs at a time.
func (s *Scheduler) Poll(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.pollInProgress {
		s.mu.Unlock()
		return 0, nil
	}
	s.pollInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.pollInProgress = false
		s.mu.Unlock()
	}()

	due, err := s.store.ListDueNotifications(ctx, time.Now().Unix())
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "failed to list due reminders", err)
	}

	fired := 0
	seenTags := make(map[string]bool)

	for _, n := range due {
		tag := n.Target
		if tag == "" {
			tag = n.ID.String()
		}

		if !seenTags[tag] {
			seenTags[tag] = true
			payload := &models.NotificationPayload{
				Title: n.Title,
				Body:  n.Body,
				Tag:   tag,
			}
			if err := s.notifier.Notify(ctx, payload); err != nil {
				logging.ErrorWithCode("Reminder delivery failed", string(errors.ErrNotifyFailed), err,
					map[string]interface{}{"notification_id": n.ID.String()})
			} else {
				fired++
			}
		}

		// Removed whether delivery succeeded or not: a reminder never fires
		// twice.
		if err := s.store.DeleteNotification(ctx, n.ID.String()); err != nil {
			logging.Error("Failed to remove fired reminder", err,
				map[string]interface{}{"notification_id": n.ID.String()})
		}
	}

	if s.push != nil {
		s.push.RetransmitIfNeeded(ctx)
	}

	return fired, nil
}

// NotifyForeground checks due reminders when the app comes to the
// foreground.
func (s *Scheduler) NotifyForeground(ctx context.Context) {
	if _, err := s.Poll(ctx); err != nil {
		logging.Error("Foreground reminder poll failed", err, nil)
	}
}

// Run polls on a fixed interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Poll(ctx); err != nil {
				logging.Error("Reminder poll failed", err, nil)
			}
		}
	}
}
