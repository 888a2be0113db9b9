package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/marketbay/api/internal/domain"
	"github.com/marketbay/api/internal/platform/auth"
	"github.com/marketbay/api/internal/platform/httpx"
	"github.com/marketbay/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

type createOrderRequest struct {
	AddressID     string                  `json:"address_id"`
	PaymentMethod string                  `json:"payment_method"`
	CouponCode    string                  `json:"coupon_code"`
	ShippingPrice float64                 `json:"shipping_price"`
	Items         []orderSelectionPayload `json:"items"`
}

type orderSelectionPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/myorders", h.listMyOrders)
	r.Get("/seller", h.listSellerOrders)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Put("/{orderID}/status", h.updateOrderStatus)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	items := make([]services.OrderSelection, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderSelection{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	order, err := h.orders.Create(ctx, services.CreateOrderCommand{
		UserID:        strings.TrimSpace(identity.UID),
		AddressID:     strings.TrimSpace(req.AddressID),
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		CouponCode:    req.CouponCode,
		ShippingPrice: req.ShippingPrice,
		Items:         items,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	pager, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListMine(ctx, strings.TrimSpace(identity.UID), pager)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeOrderListResponse(w, page)
}

func (h *OrderHandlers) listSellerOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if !identity.HasAnyRole(auth.RoleSeller, auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "seller role required", http.StatusForbidden))
		return
	}

	pager, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListBySeller(ctx, strings.TrimSpace(identity.UID), pager)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeOrderListResponse(w, page)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if !identity.HasRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "admin role required", http.StatusForbidden))
		return
	}

	query := r.URL.Query()
	pager, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	listQuery := services.OrderListQuery{
		UserID:     strings.TrimSpace(query.Get("user_id")),
		Status:     parseFilterValues(query["status"]),
		Pagination: pager,
	}
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		listQuery.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		listQuery.To = &ts
	}

	page, err := h.orders.List(ctx, listQuery)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeOrderListResponse(w, page)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, orderID, actorFromIdentity(identity))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req updateOrderStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if status == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: domain.OrderStatus(status),
		Actor:        actorFromIdentity(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                 string                 `json:"id"`
	UserID             string                 `json:"user_id"`
	Status             string                 `json:"status"`
	PaymentMethod      string                 `json:"payment_method"`
	Items              []orderItemPayload     `json:"items"`
	ShippingAddress    addressSnapshotPayload `json:"shipping_address"`
	ItemsPrice         float64                `json:"items_price"`
	ShippingPrice      float64                `json:"shipping_price"`
	DiscountAmount     float64                `json:"discount_amount"`
	TotalPrice         float64                `json:"total_price"`
	SettlementAmount   int64                  `json:"settlement_amount,omitempty"`
	SettlementCurrency string                 `json:"settlement_currency,omitempty"`
	CouponApplied      *string                `json:"coupon_applied,omitempty"`
	PaymentResult      *paymentResultPayload  `json:"payment_result,omitempty"`
	PaidAt             string                 `json:"paid_at,omitempty"`
	DeliveredAt        string                 `json:"delivered_at,omitempty"`
	CancelledAt        string                 `json:"cancelled_at,omitempty"`
	CreatedAt          string                 `json:"created_at"`
	UpdatedAt          string                 `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ProductID string  `json:"product_id"`
	SellerID  string  `json:"seller_id"`
	Title     string  `json:"title"`
	Image     string  `json:"image,omitempty"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

type addressSnapshotPayload struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type paymentResultPayload struct {
	TransactionID string `json:"transaction_id,omitempty"`
	Status        string `json:"status"`
	UpdateTime    string `json:"update_time,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            strings.TrimSpace(order.ID),
		UserID:        strings.TrimSpace(order.UserID),
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		Items:         make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: addressSnapshotPayload{
			FullName:   order.ShippingAddress.FullName,
			Phone:      order.ShippingAddress.Phone,
			Line1:      order.ShippingAddress.Line1,
			City:       order.ShippingAddress.City,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		},
		ItemsPrice:         order.ItemsPrice,
		ShippingPrice:      order.ShippingPrice,
		DiscountAmount:     order.DiscountAmount,
		TotalPrice:         order.TotalPrice,
		SettlementAmount:   order.SettlementAmount,
		SettlementCurrency: order.SettlementCurrency,
		CouponApplied:      order.CouponApplied,
		PaidAt:             formatTime(pointerTime(order.PaidAt)),
		DeliveredAt:        formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:        formatTime(pointerTime(order.CancelledAt)),
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Title:     item.Title,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	if order.PaymentResult != nil {
		payload.PaymentResult = &paymentResultPayload{
			TransactionID: order.PaymentResult.TransactionID,
			Status:        string(order.PaymentResult.Status),
			UpdateTime:    formatTime(order.PaymentResult.UpdateTime),
		}
	}
	return payload
}

func writeOrderListResponse(w http.ResponseWriter, page domain.CursorPage[services.Order]) {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidAddress):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_address", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderInvalidCoupon):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_coupon", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order store temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
