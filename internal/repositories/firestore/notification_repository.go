package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/marketbay/api/internal/domain"
	pfirestore "github.com/marketbay/api/internal/platform/firestore"
	"github.com/marketbay/api/internal/repositories"
)

const (
	notificationCollection      = "notifications"
	defaultNotificationPageSize = 20
	maxNotificationPageSize     = 100
)

// NotificationRepository persists durable per-user notifications.
type NotificationRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[notificationDocument]
}

// NewNotificationRepository constructs a Firestore-backed notification repository.
func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[notificationDocument](provider, notificationCollection,
		pfirestore.IdentityEncoder[notificationDocument](), pfirestore.StructDecoder[notificationDocument]())
	return &NotificationRepository{provider: provider, base: base}, nil
}

// Insert writes a new notification keyed by its id.
func (r *NotificationRepository) Insert(ctx context.Context, notification domain.Notification) error {
	id := strings.TrimSpace(notification.ID)
	if id == "" {
		return errors.New("notification repository: notification id is required")
	}
	doc := notificationDocument{
		UserID:    notification.UserID,
		Message:   notification.Message,
		Link:      notification.Link,
		Type:      string(notification.Type),
		IsRead:    notification.IsRead,
		CreatedAt: notification.CreatedAt.UTC(),
	}
	if _, err := r.base.Set(ctx, id, doc); err != nil {
		return err
	}
	return nil
}

// ListByUser returns the user's notifications, newest first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, filter repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, err
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[domain.Notification]{}, errors.New("notification repository: user id is required")
	}

	query := coll.Where("userId", "==", uid)
	if filter.UnreadOnly {
		query = query.Where("isRead", "==", false)
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultNotificationPageSize
	}
	if pageSize > maxNotificationPageSize {
		pageSize = maxNotificationPageSize
	}

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Notification]{}, err
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Limit(pageSize + 1).Documents(ctx)
	defer iter.Stop()

	notifications := make([]domain.Notification, 0, pageSize)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Notification]{}, pfirestore.WrapError("notifications.list", err)
		}
		var doc notificationDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Notification]{}, fmt.Errorf("decode notification %s: %w", snap.Ref.ID, err)
		}
		notifications = append(notifications, doc.toDomain(snap.Ref.ID))
	}

	var nextToken string
	if len(notifications) > pageSize {
		notifications = notifications[:pageSize]
		last := notifications[len(notifications)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt.UTC()})
		if err != nil {
			return domain.CursorPage[domain.Notification]{}, err
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Notification]{Items: notifications, NextPageToken: nextToken}, nil
}

// MarkRead flips isRead on a notification owned by userID. Ownership is
// checked in the same transaction as the write.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID string, notificationID string, now time.Time) (domain.Notification, error) {
	uid := strings.TrimSpace(userID)
	id := strings.TrimSpace(notificationID)
	if uid == "" || id == "" {
		return domain.Notification{}, errors.New("notification repository: user id and notification id are required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return domain.Notification{}, err
	}

	var saved domain.Notification
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc notificationDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode notification %s: %w", snap.Ref.ID, err)
		}
		if doc.UserID != uid {
			return status.Errorf(codes.NotFound, "notification %s not found for user", id)
		}
		if !doc.IsRead {
			if err := tx.Update(ref, []firestore.Update{
				{Path: "isRead", Value: true},
				{Path: "readAt", Value: now.UTC()},
			}); err != nil {
				return err
			}
			doc.IsRead = true
		}
		saved = doc.toDomain(snap.Ref.ID)
		return nil
	})
	if err != nil {
		return domain.Notification{}, pfirestore.WrapError("notifications.markRead", err)
	}
	return saved, nil
}

func (r *NotificationRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("notification repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(notificationCollection), nil
}

type notificationDocument struct {
	UserID    string     `firestore:"userId"`
	Message   string     `firestore:"message"`
	Link      string     `firestore:"link,omitempty"`
	Type      string     `firestore:"type"`
	IsRead    bool       `firestore:"isRead"`
	ReadAt    *time.Time `firestore:"readAt,omitempty"`
	CreatedAt time.Time  `firestore:"createdAt"`
}

func (d notificationDocument) toDomain(id string) domain.Notification {
	return domain.Notification{
		ID:        id,
		UserID:    d.UserID,
		Message:   d.Message,
		Link:      d.Link,
		Type:      domain.NotificationType(d.Type),
		IsRead:    d.IsRead,
		CreatedAt: d.CreatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.NotificationRepository = (*NotificationRepository)(nil)
