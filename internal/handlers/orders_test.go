package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/marketbay/api/internal/domain"
	"github.com/marketbay/api/internal/platform/auth"
	"github.com/marketbay/api/internal/services"
)

type stubOrderService struct {
	create       func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	get          func(ctx context.Context, orderID string, actor services.Actor) (services.Order, error)
	listMine     func(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.Order], error)
	listBySeller func(ctx context.Context, sellerID string, pager services.Pagination) (domain.CursorPage[services.Order], error)
	list         func(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error)
	transition   func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.create == nil {
		return services.Order{}, errors.New("unexpected Create call")
	}
	return s.create(ctx, cmd)
}

func (s *stubOrderService) Get(ctx context.Context, orderID string, actor services.Actor) (services.Order, error) {
	if s.get == nil {
		return services.Order{}, errors.New("unexpected Get call")
	}
	return s.get(ctx, orderID, actor)
}

func (s *stubOrderService) ListMine(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listMine == nil {
		return domain.CursorPage[services.Order]{}, errors.New("unexpected ListMine call")
	}
	return s.listMine(ctx, userID, pager)
}

func (s *stubOrderService) ListBySeller(ctx context.Context, sellerID string, pager services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listBySeller == nil {
		return domain.CursorPage[services.Order]{}, errors.New("unexpected ListBySeller call")
	}
	return s.listBySeller(ctx, sellerID, pager)
}

func (s *stubOrderService) List(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error) {
	if s.list == nil {
		return domain.CursorPage[services.Order]{}, errors.New("unexpected List call")
	}
	return s.list(ctx, query)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transition == nil {
		return services.Order{}, errors.New("unexpected TransitionStatus call")
	}
	return s.transition(ctx, cmd)
}

func newOrderRouter(service services.OrderService) chi.Router {
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func asIdentity(req *http.Request, identity *auth.Identity) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func decodeErrorCode(t *testing.T, body []byte) string {
	t.Helper()
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return payload.Error
}

func sampleOrder() services.Order {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return services.Order{
		ID:     "ord-1",
		UserID: "buyer-1",
		Status: domain.OrderStatusPendingConfirmation,
		Items: []domain.OrderItem{
			{ProductID: "prod-1", SellerID: "seller-1", Title: "Mechanical keyboard", UnitPrice: 120.50, Quantity: 2},
		},
		ShippingAddress: domain.AddressSnapshot{FullName: "Pat Doe", City: "Hanoi", Country: "VN"},
		PaymentMethod:   domain.PaymentMethodCOD,
		ItemsPrice:      241.00,
		ShippingPrice:   5,
		TotalPrice:      246.00,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func TestCreateOrderEndpoint(t *testing.T) {
	var captured services.CreateOrderCommand
	service := &stubOrderService{
		create: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(service)

	body := `{
		"address_id": "addr-1",
		"payment_method": "COD",
		"coupon_code": "SAVE10",
		"shipping_price": 5,
		"items": [{"product_id": " prod-1 ", "quantity": 2}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req = asIdentity(req, &auth.Identity{UID: "buyer-1", Roles: []string{"buyer"}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.UserID != "buyer-1" || captured.AddressID != "addr-1" {
		t.Errorf("unexpected command %+v", captured)
	}
	if captured.PaymentMethod != domain.PaymentMethodCOD {
		t.Errorf("payment method must be lowercased, got %q", captured.PaymentMethod)
	}
	if len(captured.Items) != 1 || captured.Items[0].ProductID != "prod-1" || captured.Items[0].Quantity != 2 {
		t.Errorf("unexpected items %+v", captured.Items)
	}

	var resp struct {
		Order struct {
			ID         string  `json:"id"`
			Status     string  `json:"status"`
			TotalPrice float64 `json:"total_price"`
			CreatedAt  string  `json:"created_at"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.ID != "ord-1" || resp.Order.Status != "pending_confirmation" || resp.Order.TotalPrice != 246.00 {
		t.Errorf("unexpected order payload %+v", resp.Order)
	}
	if resp.Order.CreatedAt == "" {
		t.Error("expected created_at in payload")
	}
}

func TestCreateOrderRequiresAuthentication(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != "unauthenticated" {
		t.Errorf("unexpected error code %q", code)
	}
}

func TestCreateOrderMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"out of stock", services.ErrOrderOutOfStock, http.StatusConflict, "out_of_stock"},
		{"invalid coupon", services.ErrOrderInvalidCoupon, http.StatusUnprocessableEntity, "invalid_coupon"},
		{"invalid address", services.ErrOrderInvalidAddress, http.StatusUnprocessableEntity, "invalid_address"},
		{"unavailable", services.ErrOrderUnavailable, http.StatusServiceUnavailable, "order_unavailable"},
		{"invalid input", services.ErrOrderInvalidInput, http.StatusBadRequest, "invalid_request"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubOrderService{
				create: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			router := newOrderRouter(service)

			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"address_id":"addr-1","payment_method":"cod"}`))
			req = asIdentity(req, &auth.Identity{UID: "buyer-1"})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			if code := decodeErrorCode(t, rec.Body.Bytes()); code != tc.wantCode {
				t.Errorf("expected code %q, got %q", tc.wantCode, code)
			}
		})
	}
}

func TestCreateOrderRejectsMalformedBody(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{not json`))
	req = asIdentity(req, &auth.Identity{UID: "buyer-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListMyOrdersPassesPagination(t *testing.T) {
	var gotUser string
	var gotPager services.Pagination
	service := &stubOrderService{
		listMine: func(_ context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.Order], error) {
			gotUser = userID
			gotPager = pager
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder()},
				NextPageToken: "cursor-2",
			}, nil
		},
	}
	router := newOrderRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders/myorders?page_size=5&page_token=cursor-1", nil)
	req = asIdentity(req, &auth.Identity{UID: "buyer-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotUser != "buyer-1" {
		t.Errorf("unexpected user %q", gotUser)
	}
	if gotPager.PageSize != 5 || gotPager.PageToken != "cursor-1" {
		t.Errorf("unexpected pagination %+v", gotPager)
	}

	var resp struct {
		Items         []json.RawMessage `json:"items"`
		NextPageToken string            `json:"next_page_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.NextPageToken != "cursor-2" {
		t.Errorf("unexpected list payload %+v", resp)
	}
}

func TestListSellerOrdersRequiresSellerRole(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/orders/seller", nil)
	req = asIdentity(req, &auth.Identity{UID: "buyer-1", Roles: []string{"buyer"}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != "forbidden" {
		t.Errorf("unexpected error code %q", code)
	}
}

func TestListSellerOrdersUsesCallerID(t *testing.T) {
	var gotSeller string
	service := &stubOrderService{
		listBySeller: func(_ context.Context, sellerID string, _ services.Pagination) (domain.CursorPage[services.Order], error) {
			gotSeller = sellerID
			return domain.CursorPage[services.Order]{}, nil
		},
	}
	router := newOrderRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders/seller", nil)
	req = asIdentity(req, &auth.Identity{UID: "seller-1", Roles: []string{auth.RoleSeller}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotSeller != "seller-1" {
		t.Errorf("unexpected seller %q", gotSeller)
	}
}

func TestListOrdersIsAdminOnly(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req = asIdentity(req, &auth.Identity{UID: "seller-1", Roles: []string{auth.RoleSeller}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestListOrdersParsesFilters(t *testing.T) {
	var captured services.OrderListQuery
	service := &stubOrderService{
		list: func(_ context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error) {
			captured = query
			return domain.CursorPage[services.Order]{}, nil
		},
	}
	router := newOrderRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders?user_id=buyer-1&status=Shipped,delivered&created_after=2024-05-01T00:00:00Z", nil)
	req = asIdentity(req, &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.UserID != "buyer-1" {
		t.Errorf("unexpected user filter %q", captured.UserID)
	}
	if len(captured.Status) != 2 || captured.Status[0] != "shipped" || captured.Status[1] != "delivered" {
		t.Errorf("unexpected status filter %v", captured.Status)
	}
	if captured.From == nil || !captured.From.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected created_after filter %v", captured.From)
	}
}

func TestListOrdersRejectsBadTimestamp(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/orders?created_after=yesterday", nil)
	req = asIdentity(req, &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetOrderMapsForbidden(t *testing.T) {
	service := &stubOrderService{
		get: func(_ context.Context, orderID string, actor services.Actor) (services.Order, error) {
			if orderID != "ord-1" || actor.UserID != "stranger-1" {
				t.Errorf("unexpected call %s %+v", orderID, actor)
			}
			return services.Order{}, services.ErrOrderForbidden
		},
	}
	router := newOrderRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil)
	req = asIdentity(req, &auth.Identity{UID: "stranger-1", Roles: []string{"buyer"}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != "forbidden" {
		t.Errorf("unexpected error code %q", code)
	}
}

func TestGetOrderMapsNotFound(t *testing.T) {
	service := &stubOrderService{
		get: func(context.Context, string, services.Actor) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}
	router := newOrderRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord-404", nil)
	req = asIdentity(req, &auth.Identity{UID: "buyer-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != "order_not_found" {
		t.Errorf("unexpected error code %q", code)
	}
}

func TestUpdateOrderStatusEndpoint(t *testing.T) {
	var captured services.OrderStatusTransitionCommand
	service := &stubOrderService{
		transition: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusShipped
			return order, nil
		},
	}
	router := newOrderRouter(service)

	req := httptest.NewRequest(http.MethodPut, "/orders/ord-1/status", strings.NewReader(`{"status":"Shipped"}`))
	req = asIdentity(req, &auth.Identity{UID: "seller-1", Roles: []string{"Seller"}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.OrderID != "ord-1" || captured.TargetStatus != domain.OrderStatusShipped {
		t.Errorf("unexpected command %+v", captured)
	}
	if captured.Actor.UserID != "seller-1" {
		t.Errorf("unexpected actor %+v", captured.Actor)
	}
	// Role names from token claims are normalised before reaching the service.
	if len(captured.Actor.Roles) != 1 || captured.Actor.Roles[0] != "seller" {
		t.Errorf("unexpected actor roles %v", captured.Actor.Roles)
	}

	var resp struct {
		Order struct {
			Status string `json:"status"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.Status != "shipped" {
		t.Errorf("unexpected status %q", resp.Order.Status)
	}
}

func TestUpdateOrderStatusRequiresStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodPut, "/orders/ord-1/status", strings.NewReader(`{"status":"  "}`))
	req = asIdentity(req, &auth.Identity{UID: "seller-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateOrderStatusMapsInvalidState(t *testing.T) {
	service := &stubOrderService{
		transition: func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidState
		},
	}
	router := newOrderRouter(service)

	req := httptest.NewRequest(http.MethodPut, "/orders/ord-1/status", strings.NewReader(`{"status":"processing"}`))
	req = asIdentity(req, &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != "order_invalid_state" {
		t.Errorf("unexpected error code %q", code)
	}
}
