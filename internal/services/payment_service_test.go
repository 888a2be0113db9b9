package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/marketbay/api/internal/domain"
	"github.com/marketbay/api/internal/payments"
	"github.com/marketbay/api/internal/repositories"
)

type stubAssembler struct {
	assemble func(ctx context.Context, cmd GatewayCheckoutCommand) (Order, error)

	aborted []Order
}

func (s *stubAssembler) AssembleGatewayOrder(ctx context.Context, cmd GatewayCheckoutCommand) (Order, error) {
	if s.assemble == nil {
		return Order{}, errors.New("unexpected AssembleGatewayOrder call")
	}
	return s.assemble(ctx, cmd)
}

func (s *stubAssembler) AbortGatewayOrder(_ context.Context, order Order) error {
	s.aborted = append(s.aborted, order)
	return nil
}

type stubRedirectGateway struct {
	createRedirect func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RedirectRequest) (payments.RedirectSession, error)
	verifyReturn   func(ctx context.Context, paymentCtx payments.PaymentContext, payload payments.ReturnPayload) (payments.ReturnResult, error)

	redirectRequests []payments.RedirectRequest
}

func (s *stubRedirectGateway) CreateRedirect(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RedirectRequest) (payments.RedirectSession, error) {
	s.redirectRequests = append(s.redirectRequests, req)
	if s.createRedirect == nil {
		return payments.RedirectSession{}, errors.New("unexpected CreateRedirect call")
	}
	return s.createRedirect(ctx, paymentCtx, req)
}

func (s *stubRedirectGateway) VerifyReturn(ctx context.Context, paymentCtx payments.PaymentContext, payload payments.ReturnPayload) (payments.ReturnResult, error) {
	if s.verifyReturn == nil {
		return payments.ReturnResult{}, errors.New("unexpected VerifyReturn call")
	}
	return s.verifyReturn(ctx, paymentCtx, payload)
}

type fixedConverter struct {
	rate     int64
	currency string
}

func (c fixedConverter) ConvertToSettlement(total float64) int64 {
	return int64(total) * c.rate
}

func (c fixedConverter) SettlementCurrency() string { return c.currency }

type paymentFixture struct {
	assembler *stubAssembler
	gateway   *stubRedirectGateway
	orders    *stubOrderRepo
	products  *stubProductRepo
	carts     *stubCartRepo
	notifier  *recordingNotifier
	service   PaymentService
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	f := &paymentFixture{
		assembler: &stubAssembler{},
		gateway:   &stubRedirectGateway{},
		orders:    &stubOrderRepo{},
		products:  &stubProductRepo{},
		carts:     &stubCartRepo{},
		notifier:  &recordingNotifier{},
	}
	svc, err := NewPaymentService(PaymentServiceDeps{
		Assembler: f.assembler,
		Gateway:   f.gateway,
		Converter: fixedConverter{rate: 25000, currency: "VND"},
		Orders:    f.orders,
		Products:  f.products,
		Carts:     f.carts,
		Notifier:  f.notifier,
		NotifyURL: "https://api.example.com/v1/payment/gateway_ipn",
		Clock:     fixedClock,
	})
	if err != nil {
		t.Fatalf("NewPaymentService returned error: %v", err)
	}
	f.service = svc
	return f
}

func pendingGatewayOrder() Order {
	return Order{
		ID:            "ord-7",
		UserID:        "buyer-1",
		Status:        domain.OrderStatusPendingPayment,
		PaymentMethod: domain.PaymentMethodGateway,
		TotalPrice:    120,
		Items: []domain.OrderItem{
			{ProductID: "prod-1", SellerID: "seller-1", Quantity: 1},
			{ProductID: "prod-2", SellerID: "seller-2", Quantity: 2},
		},
	}
}

func TestStartGatewayCheckoutCreatesRedirectSession(t *testing.T) {
	f := newPaymentFixture(t)
	f.assembler.assemble = func(_ context.Context, cmd GatewayCheckoutCommand) (Order, error) {
		return pendingGatewayOrder(), nil
	}
	var updated domain.Order
	f.orders.update = func(_ context.Context, order domain.Order) error {
		updated = order
		return nil
	}
	f.gateway.createRedirect = func(_ context.Context, _ payments.PaymentContext, req payments.RedirectRequest) (payments.RedirectSession, error) {
		return payments.RedirectSession{Provider: "gateway", PayURL: "https://pay.example.com/s/abc"}, nil
	}

	checkout, err := f.service.StartGatewayCheckout(context.Background(), GatewayCheckoutCommand{
		UserID:      "buyer-1",
		AddressID:   "addr-1",
		FromCart:    true,
		RedirectURL: "https://shop.example.com/orders/return",
	})
	if err != nil {
		t.Fatalf("StartGatewayCheckout returned error: %v", err)
	}
	if checkout.PayURL != "https://pay.example.com/s/abc" || checkout.LocalOrderID != "ord-7" {
		t.Errorf("unexpected checkout %+v", checkout)
	}

	if updated.SettlementAmount != 3000000 || updated.SettlementCurrency != "VND" {
		t.Errorf("settlement not stored on the order: %+v", updated)
	}

	if len(f.gateway.redirectRequests) != 1 {
		t.Fatalf("expected one redirect request, got %d", len(f.gateway.redirectRequests))
	}
	req := f.gateway.redirectRequests[0]
	if req.LocalOrderID != "ord-7" || req.Amount != 3000000 || req.Currency != "VND" {
		t.Errorf("unexpected redirect request %+v", req)
	}
	if req.ExtraData["localOrderId"] != "ord-7" || req.ExtraData["isFromCart"] != "true" {
		t.Errorf("unexpected extra data %v", req.ExtraData)
	}
	if req.NotifyURL != "https://api.example.com/v1/payment/gateway_ipn" {
		t.Errorf("unexpected notify url %s", req.NotifyURL)
	}
	if req.IdempotencyKey != "ord-7" {
		t.Errorf("unexpected idempotency key %s", req.IdempotencyKey)
	}
}

func TestStartGatewayCheckoutAbortsWhenGatewayRejects(t *testing.T) {
	f := newPaymentFixture(t)
	f.assembler.assemble = func(_ context.Context, cmd GatewayCheckoutCommand) (Order, error) {
		return pendingGatewayOrder(), nil
	}
	f.orders.update = func(context.Context, domain.Order) error { return nil }
	f.gateway.createRedirect = func(context.Context, payments.PaymentContext, payments.RedirectRequest) (payments.RedirectSession, error) {
		return payments.RedirectSession{}, errors.New("provider unreachable")
	}

	_, err := f.service.StartGatewayCheckout(context.Background(), GatewayCheckoutCommand{UserID: "buyer-1", AddressID: "addr-1"})
	if !errors.Is(err, ErrPaymentGatewayFailed) {
		t.Fatalf("expected ErrPaymentGatewayFailed, got %v", err)
	}
	if len(f.assembler.aborted) != 1 || f.assembler.aborted[0].ID != "ord-7" {
		t.Errorf("expected the pending order to be aborted, got %+v", f.assembler.aborted)
	}
}

func TestReconcileAppliesSuccessfulPayment(t *testing.T) {
	f := newPaymentFixture(t)
	paidAt := testNow.Add(-2 * time.Minute)
	f.gateway.verifyReturn = func(context.Context, payments.PaymentContext, payments.ReturnPayload) (payments.ReturnResult, error) {
		return payments.ReturnResult{
			Succeeded:     true,
			TransactionID: "txn-99",
			LocalOrderID:  "ord-7",
			ExtraData:     map[string]string{"isFromCart": "true"},
			PaidAt:        paidAt,
		}, nil
	}
	var gotFinalization repositories.PaymentFinalization
	f.orders.finalizePayment = func(_ context.Context, orderID string, expected domain.OrderStatus, update repositories.PaymentFinalization) (domain.Order, bool, error) {
		if orderID != "ord-7" {
			t.Errorf("unexpected order id %s", orderID)
		}
		if expected != domain.OrderStatusPendingPayment {
			t.Errorf("unexpected expected status %s", expected)
		}
		gotFinalization = update
		order := pendingGatewayOrder()
		order.Status = update.Status
		order.PaymentResult = &update.PaymentResult
		order.PaidAt = update.PaidAt
		return order, true, nil
	}

	result, err := f.service.Reconcile(context.Background(), ReconcileCommand{Params: map[string]string{"signature": "ok"}})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if result.AlreadyProcessed || !result.Succeeded || result.Status != domain.OrderStatusPendingConfirmation {
		t.Errorf("unexpected result %+v", result)
	}

	if gotFinalization.PaymentResult.TransactionID != "txn-99" || gotFinalization.PaymentResult.Status != domain.PaymentResultPaid {
		t.Errorf("unexpected payment result %+v", gotFinalization.PaymentResult)
	}
	if gotFinalization.PaidAt == nil || !gotFinalization.PaidAt.Equal(paidAt) {
		t.Errorf("expected gateway paid time kept, got %v", gotFinalization.PaidAt)
	}

	if len(f.products.decremented) != 1 || len(f.products.decremented[0]) != 2 {
		t.Fatalf("expected stock claimed for both lines, got %+v", f.products.decremented)
	}
	if len(f.carts.removed) != 1 || len(f.carts.removed[0]) != 2 {
		t.Errorf("expected cart pruned of the paid products, got %+v", f.carts.removed)
	}

	// Buyer confirmation plus one per distinct seller.
	if len(f.notifier.dispatched) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(f.notifier.dispatched))
	}
	if f.notifier.dispatched[0].UserID != "buyer-1" || f.notifier.dispatched[0].Type != domain.NotificationTypeOrderStatus {
		t.Errorf("unexpected buyer notification %+v", f.notifier.dispatched[0])
	}
}

func TestReconcileSurfacesStockClaimFailure(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.verifyReturn = func(context.Context, payments.PaymentContext, payments.ReturnPayload) (payments.ReturnResult, error) {
		return payments.ReturnResult{Succeeded: true, TransactionID: "txn-99", LocalOrderID: "ord-7"}, nil
	}
	f.orders.finalizePayment = func(_ context.Context, _ string, _ domain.OrderStatus, update repositories.PaymentFinalization) (domain.Order, bool, error) {
		order := pendingGatewayOrder()
		order.Status = update.Status
		order.PaymentResult = &update.PaymentResult
		order.PaidAt = update.PaidAt
		return order, true, nil
	}
	f.products.decrement = func(context.Context, []repositories.StockLine, time.Time) error {
		return &repoError{msg: "write contention", unavailable: true}
	}

	_, err := f.service.Reconcile(context.Background(), ReconcileCommand{Params: map[string]string{"signature": "ok"}})
	if err == nil {
		t.Fatal("expected an error when the stock claim fails")
	}
	if len(f.notifier.dispatched) != 0 {
		t.Errorf("no notifications until the stock is claimed, got %+v", f.notifier.dispatched)
	}
}

func TestReconcileFailureCancelsWithoutClaimingStock(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.verifyReturn = func(context.Context, payments.PaymentContext, payments.ReturnPayload) (payments.ReturnResult, error) {
		return payments.ReturnResult{Succeeded: false, TransactionID: "txn-99", LocalOrderID: "ord-7", ResultCode: "49"}, nil
	}
	f.orders.finalizePayment = func(_ context.Context, _ string, _ domain.OrderStatus, update repositories.PaymentFinalization) (domain.Order, bool, error) {
		if update.Status != domain.OrderStatusCancelled {
			t.Errorf("expected cancellation, got %s", update.Status)
		}
		if update.PaymentResult.Status != domain.PaymentResultFailed {
			t.Errorf("expected failed payment result, got %+v", update.PaymentResult)
		}
		order := pendingGatewayOrder()
		order.Status = update.Status
		order.PaymentResult = &update.PaymentResult
		return order, true, nil
	}

	result, err := f.service.Reconcile(context.Background(), ReconcileCommand{Params: map[string]string{"signature": "ok"}})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if result.Succeeded || result.Status != domain.OrderStatusCancelled {
		t.Errorf("unexpected result %+v", result)
	}
	if len(f.products.decremented) != 0 {
		t.Errorf("failed payments must not claim stock")
	}
	if len(f.notifier.dispatched) != 1 || f.notifier.dispatched[0].UserID != "buyer-1" {
		t.Errorf("expected only the buyer failure notification, got %+v", f.notifier.dispatched)
	}
}

func TestReconcileReplayChangesNothing(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.verifyReturn = func(context.Context, payments.PaymentContext, payments.ReturnPayload) (payments.ReturnResult, error) {
		return payments.ReturnResult{Succeeded: true, TransactionID: "txn-99", LocalOrderID: "ord-7"}, nil
	}
	f.orders.finalizePayment = func(context.Context, string, domain.OrderStatus, repositories.PaymentFinalization) (domain.Order, bool, error) {
		order := pendingGatewayOrder()
		order.Status = domain.OrderStatusPendingConfirmation
		order.PaymentResult = &domain.PaymentResult{TransactionID: "txn-99", Status: domain.PaymentResultPaid}
		return order, false, nil
	}

	result, err := f.service.Reconcile(context.Background(), ReconcileCommand{Params: map[string]string{"signature": "ok"}})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if !result.AlreadyProcessed || !result.Succeeded {
		t.Errorf("unexpected result %+v", result)
	}
	if len(f.products.decremented) != 0 {
		t.Errorf("replays must not claim stock again")
	}
	if len(f.notifier.dispatched) != 0 {
		t.Errorf("replays must not notify again, got %+v", f.notifier.dispatched)
	}
}

func TestReconcileRejectsBadSignature(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.verifyReturn = func(context.Context, payments.PaymentContext, payments.ReturnPayload) (payments.ReturnResult, error) {
		return payments.ReturnResult{}, payments.ErrSignatureMismatch
	}

	_, err := f.service.Reconcile(context.Background(), ReconcileCommand{Params: map[string]string{"signature": "tampered"}})
	if !errors.Is(err, ErrPaymentSignature) {
		t.Fatalf("expected ErrPaymentSignature, got %v", err)
	}
}

func TestReconcileRequiresAnOrderReference(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.verifyReturn = func(context.Context, payments.PaymentContext, payments.ReturnPayload) (payments.ReturnResult, error) {
		return payments.ReturnResult{Succeeded: true}, nil
	}

	_, err := f.service.Reconcile(context.Background(), ReconcileCommand{Params: map[string]string{"signature": "ok"}})
	if !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput, got %v", err)
	}
}

func TestReconcileFallsBackToCallerOrderID(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.verifyReturn = func(context.Context, payments.PaymentContext, payments.ReturnPayload) (payments.ReturnResult, error) {
		return payments.ReturnResult{Succeeded: true, TransactionID: "txn-12"}, nil
	}
	var gotOrderID string
	f.orders.finalizePayment = func(_ context.Context, orderID string, _ domain.OrderStatus, update repositories.PaymentFinalization) (domain.Order, bool, error) {
		gotOrderID = orderID
		order := pendingGatewayOrder()
		order.ID = orderID
		order.Status = update.Status
		order.PaymentResult = &update.PaymentResult
		return order, true, nil
	}

	_, err := f.service.Reconcile(context.Background(), ReconcileCommand{
		Params:       map[string]string{"signature": "ok"},
		LocalOrderID: "ord-42",
	})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if gotOrderID != "ord-42" {
		t.Errorf("expected the caller-supplied order id, got %s", gotOrderID)
	}
}
