package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/mekongeats/api/internal/domain"
	"github.com/mekongeats/api/internal/repositories"
)

var (
	// ErrNotificationInvalidInput signals invalid inbox parameters.
	ErrNotificationInvalidInput = errors.New("notification: invalid input")
	// ErrNotificationNotFound indicates the inbox entry could not be located.
	ErrNotificationNotFound = errors.New("notification: not found")
	// ErrNotificationUnavailable indicates the notification backend could not be reached.
	ErrNotificationUnavailable = errors.New("notification: backend unavailable")
)

// NotificationServiceDeps bundles collaborators required to construct the notification service.
type NotificationServiceDeps struct {
	Notifications repositories.NotificationRepository
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	notifications repositories.NotificationRepository
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewNotificationService wires dependencies into a concrete NotificationService implementation.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Notifications == nil {
		return nil, errors.New("notification service: notification repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &notificationService{
		notifications: deps.Notifications,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *notificationService) Notify(ctx context.Context, recipientID string, input NotificationInput) {
	s.NotifyMany(ctx, []string{recipientID}, input)
}

func (s *notificationService) NotifyMany(ctx context.Context, recipientIDs []string, input NotificationInput) {
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return
	}
	kind := input.Kind
	if kind == "" {
		kind = domain.NotificationKindSystem
	}

	now := s.clock()
	entries := make([]Notification, 0, len(recipientIDs))
	for _, recipient := range recipientIDs {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		entries = append(entries, Notification{
			ID:        s.newID(),
			UserID:    recipient,
			SenderID:  input.SenderID,
			Message:   message,
			Kind:      kind,
			Metadata:  input.Metadata,
			CreatedAt: now,
		})
	}
	if len(entries) == 0 {
		return
	}

	// Dispatch failures are logged and swallowed so a notification outage
	// cannot fail the operation that triggered it.
	if err := s.notifications.Insert(ctx, entries); err != nil {
		s.logger(ctx, "notification.dispatch_failed", map[string]any{
			"recipients": len(entries),
			"kind":       string(kind),
			"error":      err.Error(),
		})
		return
	}
	s.logger(ctx, "notification.dispatched", map[string]any{
		"recipients": len(entries),
		"kind":       string(kind),
	})
}

func (s *notificationService) ListForUser(ctx context.Context, userID string, query NotificationListQuery) (domain.CursorPage[Notification], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Notification]{}, fmt.Errorf("%w: user id is required", ErrNotificationInvalidInput)
	}

	page, err := s.notifications.ListByUser(ctx, userID, repositories.NotificationListFilter{
		UnreadOnly: query.UnreadOnly,
		PageSize:   query.PageSize,
		PageToken:  query.PageToken,
	})
	if err != nil {
		return domain.CursorPage[Notification]{}, translateNotificationRepositoryError(err)
	}
	return page, nil
}

func (s *notificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	userID = strings.TrimSpace(userID)
	notificationID = strings.TrimSpace(notificationID)
	if userID == "" || notificationID == "" {
		return fmt.Errorf("%w: user id and notification id are required", ErrNotificationInvalidInput)
	}

	if err := s.notifications.MarkRead(ctx, userID, notificationID, s.clock()); err != nil {
		return translateNotificationRepositoryError(err)
	}
	return nil
}

func translateNotificationRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrNotificationNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrNotificationUnavailable, err)
}
