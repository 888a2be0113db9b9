package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marketbay/api/internal/services"
)

// envelope is the wire format pushed to websocket clients.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// notificationPayload mirrors the JSON shape clients render.
type notificationPayload struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	Type      string    `json:"type"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// Bus delivers stored notifications straight to the local session registry.
// It satisfies the notification publisher contract for single-process
// deployments; multi-instance deployments layer the pub/sub bridge on top.
type Bus struct {
	registry *Registry
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewBus constructs a Bus over the registry.
func NewBus(registry *Registry, logger func(ctx context.Context, event string, fields map[string]any)) (*Bus, error) {
	if registry == nil {
		return nil, fmt.Errorf("realtime: bus requires registry")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Bus{registry: registry, logger: logger}, nil
}

// PublishNotification pushes the event to every live session of its recipient.
// A recipient without sessions is not an error; they will pull the durable
// copy later.
func (b *Bus) PublishNotification(ctx context.Context, event services.NotificationEvent) error {
	payload, err := EncodeNotification(event)
	if err != nil {
		return err
	}
	if err := b.registry.Push(ctx, event.Notification.UserID, payload); err != nil {
		b.logger(ctx, "realtime.push.failed", map[string]any{
			"recipient": event.Notification.UserID,
			"error":     err.Error(),
		})
		return err
	}
	return nil
}

// EncodeNotification renders the client-facing push envelope for the event.
func EncodeNotification(event services.NotificationEvent) ([]byte, error) {
	n := event.Notification
	payload, err := json.Marshal(envelope{
		Event: "newNotification",
		Data: notificationPayload{
			ID:        n.ID,
			Message:   n.Message,
			Link:      n.Link,
			Type:      string(n.Type),
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: encode notification: %w", err)
	}
	return payload, nil
}

// Ensure interface compliance.
var _ services.NotificationEventPublisher = (*Bus)(nil)
