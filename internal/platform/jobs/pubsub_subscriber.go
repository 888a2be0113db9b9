package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/marketbay/api/internal/domain"
	"github.com/marketbay/api/internal/realtime"
	"github.com/marketbay/api/internal/services"
)

// PubSubNotificationSubscriber receives notification events published by any
// instance and pushes them to the sessions connected to this one.
type PubSubNotificationSubscriber struct {
	subscription *pubsub.Subscription
	bus          *realtime.Bus
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// NewPubSubNotificationSubscriber constructs the subscriber over the bus.
func NewPubSubNotificationSubscriber(subscription *pubsub.Subscription, bus *realtime.Bus, logger func(ctx context.Context, event string, fields map[string]any)) (*PubSubNotificationSubscriber, error) {
	if subscription == nil {
		return nil, errors.New("pubsub notification subscriber: subscription is required")
	}
	if bus == nil {
		return nil, errors.New("pubsub notification subscriber: bus is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PubSubNotificationSubscriber{
		subscription: subscription,
		bus:          bus,
		logger:       logger,
	}, nil
}

// Run blocks receiving messages until the context is cancelled. Messages are
// always acked: the durable notification copy exists regardless, so redelivery
// would only duplicate a best-effort push.
func (s *PubSubNotificationSubscriber) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		defer msg.Ack()

		var payload notificationMessage
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			s.logger(ctx, "jobs.notification.decode.failed", map[string]any{
				"messageId": msg.ID,
				"error":     err.Error(),
			})
			return
		}

		event := services.NotificationEvent{
			Notification: domain.Notification{
				ID:        payload.NotificationID,
				UserID:    payload.UserID,
				Message:   payload.Message,
				Link:      payload.Link,
				Type:      domain.NotificationType(payload.Type),
				CreatedAt: payload.CreatedAt,
			},
			OccurredAt: payload.OccurredAt,
		}
		if event.OccurredAt.IsZero() {
			event.OccurredAt = time.Now().UTC()
		}
		if err := s.bus.PublishNotification(ctx, event); err != nil {
			s.logger(ctx, "jobs.notification.push.failed", map[string]any{
				"notificationId": payload.NotificationID,
				"error":          err.Error(),
			})
		}
	})
}
