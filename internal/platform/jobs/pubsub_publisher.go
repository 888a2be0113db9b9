// Package jobs bridges notification events across instances through Pub/Sub.
// One instance publishes after the durable insert; every instance subscribes
// and pushes to its locally connected websocket sessions.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/marketbay/api/internal/services"
)

// notificationMessage is the Pub/Sub payload for a stored notification.
type notificationMessage struct {
	NotificationID string    `json:"notificationId"`
	UserID         string    `json:"userId"`
	Message        string    `json:"message"`
	Link           string    `json:"link,omitempty"`
	Type           string    `json:"type"`
	CreatedAt      time.Time `json:"createdAt"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// PubSubNotificationPublisher publishes notification events to a Pub/Sub topic.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishNotification enqueues the event on the configured topic.
func (p *PubSubNotificationPublisher) PublishNotification(ctx context.Context, event services.NotificationEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notification publisher: not initialised")
	}

	n := event.Notification
	data, err := p.marshal(notificationMessage{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Message:        n.Message,
		Link:           n.Link,
		Type:           string(n.Type),
		CreatedAt:      n.CreatedAt,
		OccurredAt:     event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal notification event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "notificationId", n.ID)
	setAttr(attrs, "userId", n.UserID)
	setAttr(attrs, "type", string(n.Type))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

// Ensure interface compliance.
var _ services.NotificationEventPublisher = (*PubSubNotificationPublisher)(nil)
