package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/marketbay/api/internal/domain"
	"github.com/marketbay/api/internal/repositories"
)

var (
	// ErrNotificationInvalidInput indicates the command failed validation.
	ErrNotificationInvalidInput = errors.New("notification: invalid input")
	// ErrNotificationNotFound indicates the notification does not exist for the user.
	ErrNotificationNotFound = errors.New("notification: not found")
)

// NotificationServiceDeps wires the notification service dependencies.
type NotificationServiceDeps struct {
	Notifications repositories.NotificationRepository
	Publisher     NotificationEventPublisher

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	notifications repositories.NotificationRepository
	publisher     NotificationEventPublisher
	policy        *bluemonday.Policy

	clock  func() time.Time
	newID  func() string
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewNotificationService constructs the notification service with defaults applied.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Notifications == nil {
		return nil, errors.New("notification service requires notification repository")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string {
			return "ntf_" + ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &notificationService{
		notifications: deps.Notifications,
		publisher:     deps.Publisher,
		policy:        bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
	}, nil
}

// Dispatch stores the notification first and only then fans it out. Fan-out
// problems are logged and swallowed so the durable copy remains the truth.
func (s *notificationService) Dispatch(ctx context.Context, cmd DispatchNotificationCommand) (Notification, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Notification{}, fmt.Errorf("%w: user id is required", ErrNotificationInvalidInput)
	}
	message := strings.TrimSpace(s.policy.Sanitize(cmd.Message))
	if message == "" {
		return Notification{}, fmt.Errorf("%w: message is required", ErrNotificationInvalidInput)
	}

	now := s.clock()
	notification := Notification{
		ID:        s.newID(),
		UserID:    uid,
		Message:   message,
		Link:      strings.TrimSpace(cmd.Link),
		Type:      cmd.Type,
		CreatedAt: now,
	}
	if err := s.notifications.Insert(ctx, notification); err != nil {
		return Notification{}, err
	}

	if s.publisher != nil {
		if err := s.publisher.PublishNotification(ctx, NotificationEvent{
			Notification: notification,
			OccurredAt:   now,
		}); err != nil {
			s.logger(ctx, "notification.publish.failed", map[string]any{
				"notificationId": notification.ID,
				"recipient":      uid,
				"error":          err.Error(),
			})
		}
	}
	return notification, nil
}

// ListMine returns the user's notifications, newest first.
func (s *notificationService) ListMine(ctx context.Context, userID string, query NotificationListQuery) (domain.CursorPage[Notification], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[Notification]{}, fmt.Errorf("%w: user id is required", ErrNotificationInvalidInput)
	}
	page, err := s.notifications.ListByUser(ctx, uid, repositories.NotificationListFilter{
		UnreadOnly: query.UnreadOnly,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Notification]{}, err
	}
	return page, nil
}

// MarkRead flips the read flag on a notification the user owns. Marking an
// already-read notification is a no-op success.
func (s *notificationService) MarkRead(ctx context.Context, userID string, notificationID string) (Notification, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Notification{}, fmt.Errorf("%w: user id is required", ErrNotificationInvalidInput)
	}
	if strings.TrimSpace(notificationID) == "" {
		return Notification{}, fmt.Errorf("%w: notification id is required", ErrNotificationInvalidInput)
	}
	notification, err := s.notifications.MarkRead(ctx, uid, notificationID, s.clock())
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Notification{}, fmt.Errorf("%w: %s", ErrNotificationNotFound, notificationID)
		}
		return Notification{}, err
	}
	return notification, nil
}

// Ensure interface compliance.
var _ NotificationService = (*notificationService)(nil)
