package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ticketnest/core/internal/models"
	"github.com/ticketnest/core/internal/store"
)

type recordingNotifier struct {
	payloads []*models.NotificationPayload
	fail     bool
}

func (n *recordingNotifier) Notify(ctx context.Context, payload *models.NotificationPayload) error {
	if n.fail {
		return errors.New("delivery channel unavailable")
	}
	n.payloads = append(n.payloads, payload)
	return nil
}

func newTestScheduler(t *testing.T, notifier Notifier) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewScheduler(st, notifier, nil, nil), st
}

func TestScheduleValidation(t *testing.T) {
	s, _ := newTestScheduler(t, &recordingNotifier{})
	ctx := context.Background()
	due := time.Now().Add(time.Hour).Unix()

	if err := s.Schedule(ctx, &models.ScheduledNotification{DueAt: due}); err == nil {
		t.Error("Schedule() without title should fail")
	}
	if err := s.Schedule(ctx, &models.ScheduledNotification{Title: "Event soon"}); err == nil {
		t.Error("Schedule() without due time should fail")
	}

	n := &models.ScheduledNotification{Title: "Event soon", DueAt: due}
	if err := s.Schedule(ctx, n); err != nil {
		t.Fatalf("Schedule() failed: %v", err)
	}
	if n.ID == "" {
		t.Error("Schedule() did not assign an id")
	}
	if n.Type != "reminder" {
		t.Errorf("Type = %q, want default reminder", n.Type)
	}
}

func TestPollFiresDueExactlyOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	s, st := newTestScheduler(t, notifier)
	ctx := context.Background()
	now := time.Now().Unix()

	due := &models.ScheduledNotification{Title: "Doors open soon", Body: "Gates at 19:00", DueAt: now - 30}
	future := &models.ScheduledNotification{Title: "Next week", DueAt: now + 3600}
	for _, n := range []*models.ScheduledNotification{due, future} {
		if err := s.Schedule(ctx, n); err != nil {
			t.Fatalf("Schedule() failed: %v", err)
		}
	}

	fired, err := s.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}
	if fired != 1 {
		t.Fatalf("Poll() fired %d, want 1", fired)
	}
	if len(notifier.payloads) != 1 || notifier.payloads[0].Title != "Doors open soon" {
		t.Errorf("delivered payloads = %+v, want the due reminder", notifier.payloads)
	}

	// Fired reminder is gone; the future one survives
	remaining, err := st.ListDueNotifications(ctx, now+7200)
	if err != nil {
		t.Fatalf("ListDueNotifications() failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Title != "Next week" {
		t.Errorf("remaining reminders = %+v, want only the future one", remaining)
	}

	// A second poll fires nothing
	fired, err = s.Poll(ctx)
	if err != nil {
		t.Fatalf("second Poll() failed: %v", err)
	}
	if fired != 0 {
		t.Errorf("second Poll() fired %d, want 0", fired)
	}
}

func TestCatchUpAfterDormancy(t *testing.T) {
	notifier := &recordingNotifier{}
	s, _ := newTestScheduler(t, notifier)
	ctx := context.Background()
	now := time.Now().Unix()

	// Three reminders missed while the app was dormant
	for i, title := range []string{"First", "Second", "Third"} {
		n := &models.ScheduledNotification{
			Title:  title,
			Target: "evt-" + title,
			DueAt:  now - int64(3600*(i+1)),
		}
		if err := s.Schedule(ctx, n); err != nil {
			t.Fatalf("Schedule(%s) failed: %v", title, err)
		}
	}

	fired, err := s.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}
	if fired != 3 {
		t.Errorf("catch-up fired %d, want 3 single emissions", fired)
	}

	fired, _ = s.Poll(ctx)
	if fired != 0 {
		t.Errorf("repeat poll fired %d, want 0 duplicates", fired)
	}
}

func TestSameTargetDedupedByTag(t *testing.T) {
	notifier := &recordingNotifier{}
	s, st := newTestScheduler(t, notifier)
	ctx := context.Background()
	now := time.Now().Unix()

	for _, id := range []string{"n-1", "n-2"} {
		n := &models.ScheduledNotification{
			ID: models.UUID(id), Title: "Doors open soon", Target: "evt-1", DueAt: now - 60,
		}
		if err := s.Schedule(ctx, n); err != nil {
			t.Fatalf("Schedule(%s) failed: %v", id, err)
		}
	}

	fired, err := s.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}
	if fired != 1 {
		t.Errorf("Poll() fired %d for same-target reminders, want 1", fired)
	}

	// Both rows are consumed even though only one notification was shown
	remaining, _ := st.ListDueNotifications(ctx, now)
	if len(remaining) != 0 {
		t.Errorf("%d deduplicated reminders still pending", len(remaining))
	}
}

func TestCancelBeforeFiring(t *testing.T) {
	notifier := &recordingNotifier{}
	s, _ := newTestScheduler(t, notifier)
	ctx := context.Background()

	n := &models.ScheduledNotification{
		ID: "n-1", Title: "Doors open soon", DueAt: time.Now().Unix() - 60,
	}
	if err := s.Schedule(ctx, n); err != nil {
		t.Fatalf("Schedule() failed: %v", err)
	}
	if err := s.Cancel(ctx, "n-1"); err != nil {
		t.Fatalf("Cancel() failed: %v", err)
	}

	fired, err := s.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}
	if fired != 0 || len(notifier.payloads) != 0 {
		t.Error("cancelled reminder still fired")
	}
}

func TestDeliveryFailureConsumesReminder(t *testing.T) {
	notifier := &recordingNotifier{fail: true}
	s, st := newTestScheduler(t, notifier)
	ctx := context.Background()
	now := time.Now().Unix()

	n := &models.ScheduledNotification{ID: "n-1", Title: "Doors open soon", DueAt: now - 60}
	if err := s.Schedule(ctx, n); err != nil {
		t.Fatalf("Schedule() failed: %v", err)
	}

	fired, err := s.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}
	if fired != 0 {
		t.Errorf("Poll() reported %d fired on delivery failure, want 0", fired)
	}

	// Never retried: a reminder fires at most once
	remaining, _ := st.ListDueNotifications(ctx, now)
	if len(remaining) != 0 {
		t.Error("undeliverable reminder left pending for a retry")
	}
}
