package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/mekongeats/api/internal/domain"
	pfirestore "github.com/mekongeats/api/internal/platform/firestore"
	"github.com/mekongeats/api/internal/repositories"
)

type stubNotificationRepo struct {
	insertFn   func(context.Context, []domain.Notification) error
	listFn     func(context.Context, string, repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error)
	markReadFn func(context.Context, string, string, time.Time) error
}

func (s *stubNotificationRepo) Insert(ctx context.Context, entries []domain.Notification) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, entries)
	}
	return nil
}

func (s *stubNotificationRepo) ListByUser(ctx context.Context, userID string, filter repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error) {
	if s.listFn != nil {
		return s.listFn(ctx, userID, filter)
	}
	return domain.CursorPage[domain.Notification]{}, nil
}

func (s *stubNotificationRepo) MarkRead(ctx context.Context, userID, notificationID string, now time.Time) error {
	if s.markReadFn != nil {
		return s.markReadFn(ctx, userID, notificationID, now)
	}
	return nil
}

func newTestNotificationService(t *testing.T, repo *stubNotificationRepo) NotificationService {
	t.Helper()
	seq := 0
	service, err := NewNotificationService(NotificationServiceDeps{
		Notifications: repo,
		Clock:         func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string {
			seq++
			return []string{"notif-1", "notif-2", "notif-3"}[(seq-1)%3]
		},
	})
	if err != nil {
		t.Fatalf("NewNotificationService: %v", err)
	}
	return service
}

func TestNotifyManyWritesInboxEntries(t *testing.T) {
	var inserted []domain.Notification
	repo := &stubNotificationRepo{
		insertFn: func(_ context.Context, entries []domain.Notification) error {
			inserted = entries
			return nil
		},
	}
	service := newTestNotificationService(t, repo)

	service.NotifyMany(context.Background(), []string{"seller-1", " ", "seller-2"}, NotificationInput{
		SenderID: "buyer-1",
		Kind:     domain.NotificationKindOrder,
		Message:  "New order MK-000042 received",
		Metadata: map[string]any{"orderId": "order-1"},
	})

	if len(inserted) != 2 {
		t.Fatalf("expected 2 entries after dropping the blank recipient, got %d", len(inserted))
	}
	if inserted[0].UserID != "seller-1" || inserted[1].UserID != "seller-2" {
		t.Fatalf("unexpected recipients %+v", inserted)
	}
	if inserted[0].ID == inserted[1].ID {
		t.Fatalf("expected distinct ids, got %q twice", inserted[0].ID)
	}
	if inserted[0].Kind != domain.NotificationKindOrder || inserted[0].SenderID != "buyer-1" {
		t.Fatalf("unexpected entry %+v", inserted[0])
	}
	if inserted[0].CreatedAt.IsZero() {
		t.Fatalf("expected creation timestamp")
	}
}

func TestNotifyDefaultsKindAndSkipsBlanks(t *testing.T) {
	var inserted []domain.Notification
	insertions := 0
	repo := &stubNotificationRepo{
		insertFn: func(_ context.Context, entries []domain.Notification) error {
			insertions++
			inserted = entries
			return nil
		},
	}
	service := newTestNotificationService(t, repo)

	service.Notify(context.Background(), "buyer-1", NotificationInput{Message: "   "})
	service.NotifyMany(context.Background(), []string{"", "  "}, NotificationInput{Message: "hello"})
	if insertions != 0 {
		t.Fatalf("expected no inserts for blank input, got %d", insertions)
	}

	service.Notify(context.Background(), "buyer-1", NotificationInput{Message: "Welcome back"})
	if insertions != 1 || len(inserted) != 1 {
		t.Fatalf("expected a single entry, got %d inserts", insertions)
	}
	if inserted[0].Kind != domain.NotificationKindSystem {
		t.Fatalf("expected system kind default, got %s", inserted[0].Kind)
	}
}

func TestNotifySwallowsDispatchFailure(t *testing.T) {
	repo := &stubNotificationRepo{
		insertFn: func(context.Context, []domain.Notification) error {
			return errors.New("firestore unavailable")
		},
	}
	service := newTestNotificationService(t, repo)

	// Must not panic or propagate; dispatch is fire and forget.
	service.Notify(context.Background(), "buyer-1", NotificationInput{Message: "Order confirmed"})
}

func TestListForUser(t *testing.T) {
	var capturedFilter repositories.NotificationListFilter
	repo := &stubNotificationRepo{
		listFn: func(_ context.Context, userID string, filter repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error) {
			if userID != "buyer-1" {
				t.Fatalf("unexpected user %q", userID)
			}
			capturedFilter = filter
			return domain.CursorPage[domain.Notification]{
				Items:         []domain.Notification{{ID: "notif-1", UserID: "buyer-1", Message: "hi"}},
				NextPageToken: "token-2",
			}, nil
		},
	}
	service := newTestNotificationService(t, repo)

	page, err := service.ListForUser(context.Background(), "buyer-1", NotificationListQuery{
		UnreadOnly: true,
		PageSize:   10,
		PageToken:  "token-1",
	})
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(page.Items) != 1 || page.NextPageToken != "token-2" {
		t.Fatalf("unexpected page %+v", page)
	}
	if !capturedFilter.UnreadOnly || capturedFilter.PageSize != 10 || capturedFilter.PageToken != "token-1" {
		t.Fatalf("unexpected filter %+v", capturedFilter)
	}

	if _, err := service.ListForUser(context.Background(), "  ", NotificationListQuery{}); !errors.Is(err, ErrNotificationInvalidInput) {
		t.Fatalf("expected ErrNotificationInvalidInput, got %v", err)
	}
}

func TestMarkRead(t *testing.T) {
	marked := false
	repo := &stubNotificationRepo{
		markReadFn: func(_ context.Context, userID, notificationID string, now time.Time) error {
			if userID != "buyer-1" || notificationID != "notif-1" {
				t.Fatalf("unexpected mark read for %q/%q", userID, notificationID)
			}
			if now.IsZero() {
				t.Fatalf("expected read timestamp")
			}
			marked = true
			return nil
		},
	}
	service := newTestNotificationService(t, repo)

	if err := service.MarkRead(context.Background(), "buyer-1", "notif-1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !marked {
		t.Fatalf("expected repository mark read to run")
	}

	if err := service.MarkRead(context.Background(), "", "notif-1"); !errors.Is(err, ErrNotificationInvalidInput) {
		t.Fatalf("expected ErrNotificationInvalidInput, got %v", err)
	}
}

func TestMarkReadTranslatesNotFound(t *testing.T) {
	repo := &stubNotificationRepo{
		markReadFn: func(context.Context, string, string, time.Time) error {
			return pfirestore.NewNotFoundError("notification.markRead", errors.New("no such entry"))
		},
	}
	service := newTestNotificationService(t, repo)

	if err := service.MarkRead(context.Background(), "buyer-1", "ghost"); !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("expected ErrNotificationNotFound, got %v", err)
	}
}
