package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	domain "github.com/marketbay/api/internal/domain"
	"github.com/marketbay/api/internal/services"
)

func TestBusPublishesEnvelopeToRecipientSessions(t *testing.T) {
	registry := NewRegistry()
	session := &fakeSession{}
	if _, err := registry.Register("buyer-1", session); err != nil {
		t.Fatalf("register: %v", err)
	}

	bus, err := NewBus(registry, nil)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}

	createdAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err = bus.PublishNotification(context.Background(), services.NotificationEvent{
		Notification: domain.Notification{
			ID:        "ntf-1",
			UserID:    "buyer-1",
			Message:   "Your order ord-1 has been placed.",
			Link:      "/orders/ord-1",
			Type:      domain.NotificationTypeOrderCreated,
			CreatedAt: createdAt,
		},
		OccurredAt: createdAt,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(session.payloads) != 1 {
		t.Fatalf("expected one payload, got %d", len(session.payloads))
	}
	var pushed struct {
		Event string `json:"event"`
		Data  struct {
			ID      string `json:"id"`
			Message string `json:"message"`
			Link    string `json:"link"`
			Type    string `json:"type"`
			IsRead  bool   `json:"isRead"`
		} `json:"data"`
	}
	if err := json.Unmarshal(session.payloads[0], &pushed); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if pushed.Event != "newNotification" {
		t.Errorf("unexpected event %s", pushed.Event)
	}
	if pushed.Data.ID != "ntf-1" || pushed.Data.Type != "order_created" || pushed.Data.Link != "/orders/ord-1" {
		t.Errorf("unexpected payload %+v", pushed.Data)
	}
}

func TestBusPublishWithoutSessionsIsNotAnError(t *testing.T) {
	registry := NewRegistry()
	bus, err := NewBus(registry, nil)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}

	err = bus.PublishNotification(context.Background(), services.NotificationEvent{
		Notification: domain.Notification{ID: "ntf-1", UserID: "offline-user", Message: "hello"},
	})
	if err != nil {
		t.Fatalf("publish to offline user must not fail: %v", err)
	}
}
