package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/marketbay/api/internal/domain"
	"github.com/marketbay/api/internal/repositories"
)

type stubNotificationRepo struct {
	insert     func(ctx context.Context, notification domain.Notification) error
	listByUser func(ctx context.Context, userID string, filter repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error)
	markRead   func(ctx context.Context, userID, notificationID string) (domain.Notification, error)

	inserted []domain.Notification
}

func (s *stubNotificationRepo) Insert(ctx context.Context, notification domain.Notification) error {
	s.inserted = append(s.inserted, notification)
	if s.insert == nil {
		return nil
	}
	return s.insert(ctx, notification)
}

func (s *stubNotificationRepo) ListByUser(ctx context.Context, userID string, filter repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error) {
	if s.listByUser == nil {
		return domain.CursorPage[domain.Notification]{}, errors.New("unexpected ListByUser call")
	}
	return s.listByUser(ctx, userID, filter)
}

func (s *stubNotificationRepo) MarkRead(ctx context.Context, userID, notificationID string, _ time.Time) (domain.Notification, error) {
	if s.markRead == nil {
		return domain.Notification{}, errors.New("unexpected MarkRead call")
	}
	return s.markRead(ctx, userID, notificationID)
}

type recordingPublisher struct {
	events []NotificationEvent
	err    error
}

func (p *recordingPublisher) PublishNotification(_ context.Context, event NotificationEvent) error {
	p.events = append(p.events, event)
	return p.err
}

type notificationFixture struct {
	repo      *stubNotificationRepo
	publisher *recordingPublisher
	events    []string
	service   NotificationService
}

func newNotificationFixture(t *testing.T) *notificationFixture {
	t.Helper()
	f := &notificationFixture{
		repo:      &stubNotificationRepo{},
		publisher: &recordingPublisher{},
	}
	svc, err := NewNotificationService(NotificationServiceDeps{
		Notifications: f.repo,
		Publisher:     f.publisher,
		Clock:         fixedClock,
		IDGenerator:   sequenceIDs("ntf_"),
		Logger: func(_ context.Context, event string, _ map[string]any) {
			f.events = append(f.events, event)
		},
	})
	if err != nil {
		t.Fatalf("NewNotificationService returned error: %v", err)
	}
	f.service = svc
	return f
}

func TestDispatchStoresBeforePublishing(t *testing.T) {
	f := newNotificationFixture(t)

	notification, err := f.service.Dispatch(context.Background(), DispatchNotificationCommand{
		UserID:  "buyer-1",
		Message: "Your order ord-1 has been placed.",
		Link:    "/orders/ord-1",
		Type:    domain.NotificationTypeOrderCreated,
	})
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if notification.CreatedAt != testNow || notification.IsRead {
		t.Errorf("unexpected notification %+v", notification)
	}

	if len(f.repo.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(f.repo.inserted))
	}
	if len(f.publisher.events) != 1 {
		t.Fatalf("expected one publish, got %d", len(f.publisher.events))
	}
	event := f.publisher.events[0]
	if event.Notification.ID != notification.ID || !event.OccurredAt.Equal(testNow) {
		t.Errorf("unexpected event %+v", event)
	}
}

func TestDispatchInsertFailureSkipsPublish(t *testing.T) {
	f := newNotificationFixture(t)
	f.repo.insert = func(context.Context, domain.Notification) error {
		return errors.New("datastore down")
	}

	_, err := f.service.Dispatch(context.Background(), DispatchNotificationCommand{
		UserID:  "buyer-1",
		Message: "hello",
	})
	if err == nil {
		t.Fatal("expected insert failure to surface")
	}
	if len(f.publisher.events) != 0 {
		t.Errorf("nothing may be published without a durable copy, got %+v", f.publisher.events)
	}
}

func TestDispatchSwallowsPublishFailure(t *testing.T) {
	f := newNotificationFixture(t)
	f.publisher.err = errors.New("broker unavailable")

	notification, err := f.service.Dispatch(context.Background(), DispatchNotificationCommand{
		UserID:  "buyer-1",
		Message: "hello",
	})
	if err != nil {
		t.Fatalf("publish failures must not fail the dispatch: %v", err)
	}
	if notification.ID == "" {
		t.Error("expected the stored notification back")
	}
	found := false
	for _, event := range f.events {
		if event == "notification.publish.failed" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the failure logged, got %v", f.events)
	}
}

func TestDispatchSanitisesMessage(t *testing.T) {
	f := newNotificationFixture(t)

	notification, err := f.service.Dispatch(context.Background(), DispatchNotificationCommand{
		UserID:  "buyer-1",
		Message: "<b>Order</b> shipped",
	})
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if notification.Message != "Order shipped" {
		t.Errorf("expected markup stripped, got %q", notification.Message)
	}

	_, err = f.service.Dispatch(context.Background(), DispatchNotificationCommand{
		UserID:  "buyer-1",
		Message: "<script>alert(1)</script>",
	})
	if !errors.Is(err, ErrNotificationInvalidInput) {
		t.Fatalf("expected ErrNotificationInvalidInput, got %v", err)
	}
}

func TestMarkReadMapsMissingNotification(t *testing.T) {
	f := newNotificationFixture(t)
	f.repo.markRead = func(context.Context, string, string) (domain.Notification, error) {
		return domain.Notification{}, &repoError{msg: "no such doc", notFound: true}
	}

	_, err := f.service.MarkRead(context.Background(), "buyer-1", "ntf-404")
	if !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("expected ErrNotificationNotFound, got %v", err)
	}
}

func TestMarkReadRequiresIdentifiers(t *testing.T) {
	f := newNotificationFixture(t)

	if _, err := f.service.MarkRead(context.Background(), "", "ntf-1"); !errors.Is(err, ErrNotificationInvalidInput) {
		t.Fatalf("expected ErrNotificationInvalidInput, got %v", err)
	}
	if _, err := f.service.MarkRead(context.Background(), "buyer-1", ""); !errors.Is(err, ErrNotificationInvalidInput) {
		t.Fatalf("expected ErrNotificationInvalidInput, got %v", err)
	}
}
