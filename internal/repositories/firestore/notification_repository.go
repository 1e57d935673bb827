package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/mekongeats/api/internal/domain"
	pfirestore "github.com/mekongeats/api/internal/platform/firestore"
	"github.com/mekongeats/api/internal/repositories"
)

// NotificationRepository persists per-user inbox entries.
type NotificationRepository struct {
	provider      *pfirestore.Provider
	notifications *pfirestore.BaseRepository[notificationDocument]
}

// NewNotificationRepository constructs a Firestore backed notification repository.
func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	return &NotificationRepository{
		provider:      provider,
		notifications: pfirestore.NewBaseRepository[notificationDocument](provider, notificationsCollection, nil, nil),
	}, nil
}

// Insert writes the batch through a bulk writer so a large fan-out does not
// issue one round trip per recipient.
func (r *NotificationRepository) Insert(ctx context.Context, notifications []domain.Notification) error {
	if r == nil || r.provider == nil {
		return errors.New("notification repository not initialised")
	}
	if len(notifications) == 0 {
		return nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(notifications))
	for _, n := range notifications {
		if strings.TrimSpace(n.ID) == "" {
			writer.End()
			return errors.New("notification insert: notification id is required")
		}
		ref := client.Collection(notificationsCollection).Doc(n.ID)
		job, err := writer.Create(ref, newNotificationDocument(n))
		if err != nil {
			writer.End()
			return pfirestore.WrapError("notifications.insert", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return pfirestore.WrapError("notifications.insert", err)
		}
	}
	return nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, filter repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error) {
	if r == nil || r.notifications == nil {
		return domain.CursorPage[domain.Notification]{}, errors.New("notification repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Notification]{}, errors.New("notification list: user id is required")
	}

	pageSize := normalisePageSize(filter.PageSize)

	var startAt []any
	if token := strings.TrimSpace(filter.PageToken); token != "" {
		createdAt, id, err := decodeCreatedAtCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Notification]{}, err
		}
		if id != "" {
			startAt = []any{createdAt, id}
		}
	}

	docs, err := r.notifications.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.Where("userId", "==", userID)
		if filter.UnreadOnly {
			query = query.Where("read", "==", false)
		}
		query = query.
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc).
			Limit(pageSize + 1)
		if startAt != nil {
			query = query.StartAfter(startAt...)
		}
		return query
	})
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, err
	}

	notifications := make([]domain.Notification, 0, len(docs))
	for _, doc := range docs {
		notifications = append(notifications, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(notifications) > pageSize
	if hasMore {
		notifications = notifications[:pageSize]
	}
	var nextToken string
	if hasMore && len(notifications) > 0 {
		last := notifications[len(notifications)-1]
		nextToken, err = encodeCreatedAtCursor(last.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Notification]{}, err
		}
	}

	return domain.CursorPage[domain.Notification]{Items: notifications, NextPageToken: nextToken}, nil
}

// MarkRead flips the read flag after verifying the entry belongs to the user.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, notificationID string, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("notification repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	notificationID = strings.TrimSpace(notificationID)
	if userID == "" || notificationID == "" {
		return errors.New("notification mark read: user id and notification id are required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.notifications.DocumentRef(ctx, notificationID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc notificationDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode notification %s: %w", notificationID, err)
		}
		if doc.UserID != userID {
			return pfirestore.NewNotFoundError("notifications.markread", fmt.Errorf("notification %s not found for user", notificationID))
		}
		if doc.Read {
			return nil
		}
		doc.Read = true
		readAt := now.UTC()
		doc.ReadAt = &readAt
		return tx.Set(ref, doc)
	})
	if err != nil {
		return pfirestore.WrapError("notifications.markread", err)
	}
	return nil
}
