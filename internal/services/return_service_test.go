package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/marketbay/api/internal/domain"
	"github.com/marketbay/api/internal/payments"
	"github.com/marketbay/api/internal/repositories"
)

type stubReturnRepo struct {
	insert                func(ctx context.Context, request domain.ReturnRequest) error
	update                func(ctx context.Context, request domain.ReturnRequest) error
	findByID              func(ctx context.Context, returnID string) (domain.ReturnRequest, error)
	findByOrderAndProduct func(ctx context.Context, orderID string, productID *string) (domain.ReturnRequest, error)
	list                  func(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)
}

func (s *stubReturnRepo) Insert(ctx context.Context, request domain.ReturnRequest) error {
	if s.insert == nil {
		return errors.New("unexpected Insert call")
	}
	return s.insert(ctx, request)
}

func (s *stubReturnRepo) Update(ctx context.Context, request domain.ReturnRequest) error {
	if s.update == nil {
		return errors.New("unexpected Update call")
	}
	return s.update(ctx, request)
}

func (s *stubReturnRepo) FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	if s.findByID == nil {
		return domain.ReturnRequest{}, errors.New("unexpected FindByID call")
	}
	return s.findByID(ctx, returnID)
}

func (s *stubReturnRepo) FindByOrderAndProduct(ctx context.Context, orderID string, productID *string) (domain.ReturnRequest, error) {
	if s.findByOrderAndProduct == nil {
		return domain.ReturnRequest{}, &repoError{msg: "no open request", notFound: true}
	}
	return s.findByOrderAndProduct(ctx, orderID, productID)
}

func (s *stubReturnRepo) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	if s.list == nil {
		return domain.CursorPage[domain.ReturnRequest]{}, errors.New("unexpected List call")
	}
	return s.list(ctx, filter)
}

type stubRefunder struct {
	refund func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)

	requests []payments.RefundRequest
}

func (s *stubRefunder) Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
	s.requests = append(s.requests, req)
	if s.refund == nil {
		return payments.PaymentDetails{TransactionID: req.TransactionID}, nil
	}
	return s.refund(ctx, paymentCtx, req)
}

type returnFixture struct {
	returns  *stubReturnRepo
	orders   *stubOrderRepo
	refunder *stubRefunder
	notifier *recordingNotifier
	service  ReturnService
}

func newReturnFixture(t *testing.T) *returnFixture {
	t.Helper()
	f := &returnFixture{
		returns:  &stubReturnRepo{},
		orders:   &stubOrderRepo{},
		refunder: &stubRefunder{},
		notifier: &recordingNotifier{},
	}
	svc, err := NewReturnService(ReturnServiceDeps{
		Returns:     f.returns,
		Orders:      f.orders,
		Refunder:    f.refunder,
		Notifier:    f.notifier,
		Clock:       fixedClock,
		IDGenerator: sequenceIDs("ret_"),
	})
	if err != nil {
		t.Fatalf("NewReturnService returned error: %v", err)
	}
	f.service = svc
	return f
}

func deliveredOrder() domain.Order {
	paidAt := testNow.AddDate(0, 0, -3)
	return domain.Order{
		ID:            "ord-1",
		UserID:        "buyer-1",
		Status:        domain.OrderStatusDelivered,
		PaymentMethod: domain.PaymentMethodGateway,
		PaidAt:        &paidAt,
		PaymentResult: &domain.PaymentResult{TransactionID: "txn-55", Status: domain.PaymentResultPaid},
		Items: []domain.OrderItem{
			{ProductID: "prod-1", SellerID: "seller-1", Quantity: 1},
		},
	}
}

func TestCreateReturnFilesPendingRequest(t *testing.T) {
	f := newReturnFixture(t)
	f.orders.findByID = func(context.Context, string) (domain.Order, error) { return deliveredOrder(), nil }
	var inserted domain.ReturnRequest
	f.returns.insert = func(_ context.Context, request domain.ReturnRequest) error {
		inserted = request
		return nil
	}

	productID := "prod-1"
	request, err := f.service.Create(context.Background(), CreateReturnCommand{
		UserID:    "buyer-1",
		OrderID:   "ord-1",
		ProductID: &productID,
		Reason:    "Arrived with a cracked lens",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if request.Status != domain.ReturnStatusPending {
		t.Errorf("unexpected status %s", request.Status)
	}
	if request.CreatedAt != testNow || inserted.ID != request.ID {
		t.Errorf("unexpected persisted request %+v", inserted)
	}
}

func TestCreateReturnStripsMarkupFromReason(t *testing.T) {
	f := newReturnFixture(t)
	f.orders.findByID = func(context.Context, string) (domain.Order, error) { return deliveredOrder(), nil }
	f.returns.insert = func(context.Context, domain.ReturnRequest) error { return nil }

	request, err := f.service.Create(context.Background(), CreateReturnCommand{
		UserID:  "buyer-1",
		OrderID: "ord-1",
		Reason:  "<script>alert(1)</script>Wrong colour",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if request.Reason != "Wrong colour" {
		t.Errorf("expected sanitised reason, got %q", request.Reason)
	}

	_, err = f.service.Create(context.Background(), CreateReturnCommand{
		UserID:  "buyer-1",
		OrderID: "ord-1",
		Reason:  "<img src=x onerror=alert(1)>",
	})
	if !errors.Is(err, ErrReturnInvalidInput) {
		t.Fatalf("expected ErrReturnInvalidInput for markup-only reason, got %v", err)
	}
}

func TestCreateReturnRejectsForeignOrder(t *testing.T) {
	f := newReturnFixture(t)
	f.orders.findByID = func(context.Context, string) (domain.Order, error) { return deliveredOrder(), nil }

	_, err := f.service.Create(context.Background(), CreateReturnCommand{
		UserID:  "buyer-2",
		OrderID: "ord-1",
		Reason:  "not mine",
	})
	if !errors.Is(err, ErrReturnForbidden) {
		t.Fatalf("expected ErrReturnForbidden, got %v", err)
	}
}

func TestCreateReturnRequiresDeliveredOrder(t *testing.T) {
	f := newReturnFixture(t)
	f.orders.findByID = func(context.Context, string) (domain.Order, error) {
		order := deliveredOrder()
		order.Status = domain.OrderStatusShipped
		return order, nil
	}

	_, err := f.service.Create(context.Background(), CreateReturnCommand{
		UserID:  "buyer-1",
		OrderID: "ord-1",
		Reason:  "changed my mind",
	})
	if !errors.Is(err, ErrReturnInvalidState) {
		t.Fatalf("expected ErrReturnInvalidState, got %v", err)
	}
}

func TestCreateReturnRejectsProductOutsideOrder(t *testing.T) {
	f := newReturnFixture(t)
	f.orders.findByID = func(context.Context, string) (domain.Order, error) { return deliveredOrder(), nil }

	productID := "prod-9"
	_, err := f.service.Create(context.Background(), CreateReturnCommand{
		UserID:    "buyer-1",
		OrderID:   "ord-1",
		ProductID: &productID,
		Reason:    "wrong item",
	})
	if !errors.Is(err, ErrReturnInvalidInput) {
		t.Fatalf("expected ErrReturnInvalidInput, got %v", err)
	}
}

func TestCreateReturnRejectsDuplicate(t *testing.T) {
	f := newReturnFixture(t)
	f.orders.findByID = func(context.Context, string) (domain.Order, error) { return deliveredOrder(), nil }
	f.returns.findByOrderAndProduct = func(context.Context, string, *string) (domain.ReturnRequest, error) {
		return domain.ReturnRequest{ID: "ret-existing"}, nil
	}

	_, err := f.service.Create(context.Background(), CreateReturnCommand{
		UserID:  "buyer-1",
		OrderID: "ord-1",
		Reason:  "still broken",
	})
	if !errors.Is(err, ErrReturnDuplicate) {
		t.Fatalf("expected ErrReturnDuplicate, got %v", err)
	}
}

func pendingReturn(status domain.ReturnStatus) domain.ReturnRequest {
	return domain.ReturnRequest{
		ID:      "ret-1",
		OrderID: "ord-1",
		UserID:  "buyer-1",
		Reason:  "cracked lens",
		Status:  status,
	}
}

func TestUpdateStatusIsAdminOnly(t *testing.T) {
	f := newReturnFixture(t)

	_, err := f.service.UpdateStatus(context.Background(), ReturnStatusCommand{
		ReturnID:     "ret-1",
		TargetStatus: domain.ReturnStatusApproved,
		Actor:        Actor{UserID: "seller-1", Roles: []string{RoleSeller}},
	})
	if !errors.Is(err, ErrReturnForbidden) {
		t.Fatalf("expected ErrReturnForbidden, got %v", err)
	}
}

func TestUpdateStatusFollowsReviewLifecycle(t *testing.T) {
	f := newReturnFixture(t)
	f.returns.findByID = func(context.Context, string) (domain.ReturnRequest, error) {
		return pendingReturn(domain.ReturnStatusPending), nil
	}
	f.returns.update = func(context.Context, domain.ReturnRequest) error { return nil }
	admin := Actor{UserID: "admin-1", Roles: []string{RoleAdmin}}

	request, err := f.service.UpdateStatus(context.Background(), ReturnStatusCommand{
		ReturnID:        "ret-1",
		TargetStatus:    domain.ReturnStatusApproved,
		ResolutionNotes: "Photos confirm the damage",
		Actor:           admin,
	})
	if err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	if request.Status != domain.ReturnStatusApproved {
		t.Errorf("unexpected status %s", request.Status)
	}
	if request.ResolutionNotes == nil || *request.ResolutionNotes != "Photos confirm the damage" {
		t.Errorf("expected resolution notes kept, got %v", request.ResolutionNotes)
	}
	if len(f.notifier.dispatched) != 1 || f.notifier.dispatched[0].Type != domain.NotificationTypeReturnStatus {
		t.Errorf("expected requester notification, got %+v", f.notifier.dispatched)
	}

	// Skipping the approved stage is not allowed.
	_, err = f.service.UpdateStatus(context.Background(), ReturnStatusCommand{
		ReturnID:     "ret-1",
		TargetStatus: domain.ReturnStatusCompleted,
		Actor:        admin,
	})
	if !errors.Is(err, ErrReturnInvalidState) {
		t.Fatalf("expected ErrReturnInvalidState, got %v", err)
	}
}

func TestUpdateStatusCompletionRefundsOnlinePayment(t *testing.T) {
	f := newReturnFixture(t)
	f.returns.findByID = func(context.Context, string) (domain.ReturnRequest, error) {
		return pendingReturn(domain.ReturnStatusProcessing), nil
	}
	f.returns.update = func(context.Context, domain.ReturnRequest) error { return nil }
	f.orders.findByID = func(context.Context, string) (domain.Order, error) { return deliveredOrder(), nil }

	request, err := f.service.UpdateStatus(context.Background(), ReturnStatusCommand{
		ReturnID:     "ret-1",
		TargetStatus: domain.ReturnStatusCompleted,
		Actor:        Actor{UserID: "admin-1", Roles: []string{RoleAdmin}},
	})
	if err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	if request.Status != domain.ReturnStatusCompleted {
		t.Errorf("unexpected status %s", request.Status)
	}

	if len(f.refunder.requests) != 1 {
		t.Fatalf("expected one refund, got %d", len(f.refunder.requests))
	}
	refund := f.refunder.requests[0]
	if refund.TransactionID != "txn-55" || refund.IdempotencyKey != "ret-1" {
		t.Errorf("unexpected refund request %+v", refund)
	}
	if refund.Metadata["localOrderId"] != "ord-1" || refund.Metadata["returnId"] != "ret-1" {
		t.Errorf("unexpected refund metadata %v", refund.Metadata)
	}
}

func TestUpdateStatusCompletionSkipsRefundForCOD(t *testing.T) {
	f := newReturnFixture(t)
	f.returns.findByID = func(context.Context, string) (domain.ReturnRequest, error) {
		return pendingReturn(domain.ReturnStatusProcessing), nil
	}
	f.returns.update = func(context.Context, domain.ReturnRequest) error { return nil }
	f.orders.findByID = func(context.Context, string) (domain.Order, error) {
		order := deliveredOrder()
		order.PaymentMethod = domain.PaymentMethodCOD
		return order, nil
	}

	_, err := f.service.UpdateStatus(context.Background(), ReturnStatusCommand{
		ReturnID:     "ret-1",
		TargetStatus: domain.ReturnStatusCompleted,
		Actor:        Actor{UserID: "admin-1", Roles: []string{RoleAdmin}},
	})
	if err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	if len(f.refunder.requests) != 0 {
		t.Errorf("cash orders settle offline, no refund expected: %+v", f.refunder.requests)
	}
}

func TestUpdateStatusRefundFailureLeavesRequestUntouched(t *testing.T) {
	f := newReturnFixture(t)
	f.returns.findByID = func(context.Context, string) (domain.ReturnRequest, error) {
		return pendingReturn(domain.ReturnStatusProcessing), nil
	}
	f.orders.findByID = func(context.Context, string) (domain.Order, error) { return deliveredOrder(), nil }
	f.refunder.refund = func(context.Context, payments.PaymentContext, payments.RefundRequest) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{}, errors.New("provider declined")
	}
	f.returns.update = func(context.Context, domain.ReturnRequest) error {
		t.Fatal("request must not be persisted when the refund fails")
		return nil
	}

	_, err := f.service.UpdateStatus(context.Background(), ReturnStatusCommand{
		ReturnID:     "ret-1",
		TargetStatus: domain.ReturnStatusCompleted,
		Actor:        Actor{UserID: "admin-1", Roles: []string{RoleAdmin}},
	})
	if !errors.Is(err, ErrReturnRefundFailed) {
		t.Fatalf("expected ErrReturnRefundFailed, got %v", err)
	}
}
