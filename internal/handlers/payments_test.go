package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/marketbay/api/internal/domain"
	"github.com/marketbay/api/internal/platform/auth"
	"github.com/marketbay/api/internal/services"
)

type stubPaymentService struct {
	start     func(ctx context.Context, cmd services.GatewayCheckoutCommand) (services.GatewayCheckout, error)
	reconcile func(ctx context.Context, cmd services.ReconcileCommand) (services.ReconcileResult, error)
}

func (s *stubPaymentService) StartGatewayCheckout(ctx context.Context, cmd services.GatewayCheckoutCommand) (services.GatewayCheckout, error) {
	if s.start == nil {
		return services.GatewayCheckout{}, errors.New("unexpected StartGatewayCheckout call")
	}
	return s.start(ctx, cmd)
}

func (s *stubPaymentService) Reconcile(ctx context.Context, cmd services.ReconcileCommand) (services.ReconcileResult, error) {
	if s.reconcile == nil {
		return services.ReconcileResult{}, errors.New("unexpected Reconcile call")
	}
	return s.reconcile(ctx, cmd)
}

func newPaymentRouter(service services.PaymentService) chi.Router {
	handler := NewPaymentHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/payment", handler.Routes)
	router.Route("/payment-ipn", handler.IPNRoutes)
	return router
}

func TestStartCheckoutEndpoint(t *testing.T) {
	var captured services.GatewayCheckoutCommand
	service := &stubPaymentService{
		start: func(_ context.Context, cmd services.GatewayCheckoutCommand) (services.GatewayCheckout, error) {
			captured = cmd
			return services.GatewayCheckout{
				PayURL:       "https://gw.example.com/pay/1",
				LocalOrderID: "ord-7",
			}, nil
		},
	}
	router := newPaymentRouter(service)

	body := `{
		"address_id": "addr-1",
		"shipping_price": 5,
		"redirect_url": "https://shop.example.com/return",
		"items": [{"product_id": "prod-1", "quantity": 1}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/payment/gateway", strings.NewReader(body))
	req = asIdentity(req, &auth.Identity{UID: "buyer-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.UserID != "buyer-1" || captured.AddressID != "addr-1" {
		t.Errorf("unexpected command %+v", captured)
	}
	if captured.FromCart {
		t.Error("explicit items must not be flagged as a cart purchase")
	}
	if captured.RedirectURL != "https://shop.example.com/return" {
		t.Errorf("unexpected redirect url %q", captured.RedirectURL)
	}

	var resp struct {
		PayURL       string `json:"payUrl"`
		LocalOrderID string `json:"localOrderId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PayURL != "https://gw.example.com/pay/1" || resp.LocalOrderID != "ord-7" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestStartCheckoutWithoutItemsSourcesCart(t *testing.T) {
	var captured services.GatewayCheckoutCommand
	service := &stubPaymentService{
		start: func(_ context.Context, cmd services.GatewayCheckoutCommand) (services.GatewayCheckout, error) {
			captured = cmd
			return services.GatewayCheckout{PayURL: "https://gw.example.com/pay/1", LocalOrderID: "ord-7"}, nil
		},
	}
	router := newPaymentRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/payment/gateway", strings.NewReader(`{"address_id":"addr-1"}`))
	req = asIdentity(req, &auth.Identity{UID: "buyer-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !captured.FromCart {
		t.Error("an empty item list must source the persisted cart")
	}
}

func TestStartCheckoutRequiresAuthentication(t *testing.T) {
	router := newPaymentRouter(&stubPaymentService{})

	req := httptest.NewRequest(http.MethodPost, "/payment/gateway", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStartCheckoutMapsGatewayFailure(t *testing.T) {
	service := &stubPaymentService{
		start: func(context.Context, services.GatewayCheckoutCommand) (services.GatewayCheckout, error) {
			return services.GatewayCheckout{}, services.ErrPaymentGatewayFailed
		},
	}
	router := newPaymentRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/payment/gateway", strings.NewReader(`{"address_id":"addr-1"}`))
	req = asIdentity(req, &auth.Identity{UID: "buyer-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != "gateway_failed" {
		t.Errorf("unexpected error code %q", code)
	}
}

func TestStartCheckoutMapsOrderErrors(t *testing.T) {
	service := &stubPaymentService{
		start: func(context.Context, services.GatewayCheckoutCommand) (services.GatewayCheckout, error) {
			return services.GatewayCheckout{}, services.ErrOrderOutOfStock
		},
	}
	router := newPaymentRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/payment/gateway", strings.NewReader(`{"address_id":"addr-1"}`))
	req = asIdentity(req, &auth.Identity{UID: "buyer-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != "out_of_stock" {
		t.Errorf("unexpected error code %q", code)
	}
}

func TestGatewayReturnReadsQueryParams(t *testing.T) {
	var captured services.ReconcileCommand
	service := &stubPaymentService{
		reconcile: func(_ context.Context, cmd services.ReconcileCommand) (services.ReconcileResult, error) {
			captured = cmd
			return services.ReconcileResult{
				OrderID:   "ord-7",
				Status:    domain.OrderStatusPendingConfirmation,
				Succeeded: true,
			}, nil
		},
	}
	router := newPaymentRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/payment/gateway_return?orderId=ord-7&resultCode=0&signature=abc&isFromCart=true", nil)
	req = asIdentity(req, &auth.Identity{UID: "buyer-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.LocalOrderID != "ord-7" || !captured.IsFromCart {
		t.Errorf("unexpected command %+v", captured)
	}
	if captured.Params["resultCode"] != "0" || captured.Params["signature"] != "abc" {
		t.Errorf("unexpected params %v", captured.Params)
	}

	var resp struct {
		OrderID   string `json:"order_id"`
		Status    string `json:"status"`
		Succeeded bool   `json:"succeeded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OrderID != "ord-7" || resp.Status != "pending_confirmation" || !resp.Succeeded {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestGatewayIPNConvertsJSONTypes(t *testing.T) {
	var captured services.ReconcileCommand
	service := &stubPaymentService{
		reconcile: func(_ context.Context, cmd services.ReconcileCommand) (services.ReconcileResult, error) {
			captured = cmd
			return services.ReconcileResult{OrderID: "ord-7", Status: domain.OrderStatusCancelled}, nil
		},
	}
	router := newPaymentRouter(service)

	// The gateway posts numbers and booleans as native JSON types.
	body := `{"orderId":"ord-7","amount":262500,"resultCode":0,"isFromCart":true,"signature":"abc"}`
	req := httptest.NewRequest(http.MethodPost, "/payment-ipn/gateway_ipn", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.Params["amount"] != "262500" || captured.Params["resultCode"] != "0" {
		t.Errorf("unexpected params %v", captured.Params)
	}
	if captured.Params["isFromCart"] != "true" || !captured.IsFromCart {
		t.Errorf("boolean parameters must convert to strings, got %v", captured.Params)
	}
	if captured.LocalOrderID != "ord-7" {
		t.Errorf("unexpected order reference %q", captured.LocalOrderID)
	}
}

func TestGatewayIPNMapsSignatureMismatch(t *testing.T) {
	service := &stubPaymentService{
		reconcile: func(context.Context, services.ReconcileCommand) (services.ReconcileResult, error) {
			return services.ReconcileResult{}, services.ErrPaymentSignature
		},
	}
	router := newPaymentRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/payment-ipn/gateway_ipn", strings.NewReader(`{"orderId":"ord-7","signature":"tampered"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != "signature_mismatch" {
		t.Errorf("unexpected error code %q", code)
	}
}

func TestGatewayIPNMapsUnknownOrder(t *testing.T) {
	service := &stubPaymentService{
		reconcile: func(context.Context, services.ReconcileCommand) (services.ReconcileResult, error) {
			return services.ReconcileResult{}, services.ErrPaymentOrderNotFound
		},
	}
	router := newPaymentRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/payment-ipn/gateway_ipn", strings.NewReader(`{"orderId":"ord-404","signature":"abc"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != "order_not_found" {
		t.Errorf("unexpected error code %q", code)
	}
}

func TestGatewayIPNRejectsEmptyPayload(t *testing.T) {
	router := newPaymentRouter(&stubPaymentService{})

	req := httptest.NewRequest(http.MethodPost, "/payment-ipn/gateway_ipn", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGatewayReturnReportsReplay(t *testing.T) {
	service := &stubPaymentService{
		reconcile: func(context.Context, services.ReconcileCommand) (services.ReconcileResult, error) {
			return services.ReconcileResult{
				OrderID:          "ord-7",
				Status:           domain.OrderStatusPendingConfirmation,
				Succeeded:        true,
				AlreadyProcessed: true,
			}, nil
		},
	}
	router := newPaymentRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/payment/gateway_return?orderId=ord-7&resultCode=0&signature=abc", nil)
	req = asIdentity(req, &auth.Identity{UID: "buyer-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		AlreadyProcessed bool `json:"already_processed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.AlreadyProcessed {
		t.Error("expected the replay flagged in the response")
	}
}
