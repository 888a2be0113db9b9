package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPendingPayment indicates the order awaits a gateway payment result.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusPendingConfirmation indicates payment (or COD selection) completed and the seller must confirm.
	OrderStatusPendingConfirmation OrderStatus = "pending_confirmation"
	// OrderStatusProcessing indicates the seller confirmed the order and is preparing it.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the buyer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order has been cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusWaitingCancelApproval indicates the buyer asked to cancel a confirmed order.
	OrderStatusWaitingCancelApproval OrderStatus = "waiting_for_cancelling_approval"
)

// PaymentMethod enumerates how an order is settled.
type PaymentMethod string

const (
	// PaymentMethodCOD settles offline on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodGateway settles through the signed-redirect gateway.
	PaymentMethodGateway PaymentMethod = "gateway"
	// PaymentMethodCard settles through the card PSP.
	PaymentMethodCard PaymentMethod = "card"
)

// PaymentResultStatus enumerates terminal gateway outcomes recorded on an order.
type PaymentResultStatus string

const (
	// PaymentResultPaid records a successful gateway settlement.
	PaymentResultPaid PaymentResultStatus = "paid"
	// PaymentResultFailed records a rejected or abandoned gateway attempt.
	PaymentResultFailed PaymentResultStatus = "failed"
	// PaymentResultPending is the placeholder written before the gateway answers.
	PaymentResultPending PaymentResultStatus = "pending"
)

// PaymentResult stores the gateway's transaction outcome on the order.
type PaymentResult struct {
	TransactionID string
	Status        PaymentResultStatus
	UpdateTime    time.Time
}

// OrderItem is a frozen snapshot of a purchased product line. It is captured
// at order creation and never re-read from the live catalog.
type OrderItem struct {
	ProductID string
	SellerID  string
	Title     string
	Image     string
	UnitPrice float64
	Quantity  int
}

// AddressSnapshot freezes the shipping destination at order creation.
type AddressSnapshot struct {
	FullName   string
	Phone      string
	Line1      string
	City       string
	PostalCode string
	Country    string
}

// Order captures the full order aggregate shared across layers.
type Order struct {
	ID              string
	UserID          string
	Items           []OrderItem
	ShippingAddress AddressSnapshot
	PaymentMethod   PaymentMethod
	ItemsPrice      float64
	ShippingPrice   float64
	DiscountAmount  float64
	TotalPrice      float64
	// SettlementAmount/SettlementCurrency hold the converted total for
	// gateways that settle in a different unit than the platform price.
	SettlementAmount   int64
	SettlementCurrency string
	Status             OrderStatus
	PaymentResult      *PaymentResult
	CouponApplied      *string
	PaidAt             *time.Time
	DeliveredAt        *time.Time
	CancelledAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SellerIDs returns the distinct seller identifiers represented among the line items.
func (o Order) SellerIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if item.SellerID == "" {
			continue
		}
		if _, ok := seen[item.SellerID]; ok {
			continue
		}
		seen[item.SellerID] = struct{}{}
		ids = append(ids, item.SellerID)
	}
	return ids
}

// Coupon is a percentage discount with a validity window and a usage cap.
// TimesUsed is monotonically non-decreasing and never exceeds MaxUsage.
type Coupon struct {
	ID              string
	Code            string
	DiscountPercent float64
	StartDate       time.Time
	EndDate         time.Time
	MaxUsage        int
	TimesUsed       int
	MinOrderAmount  float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ReturnStatus enumerates lifecycle states for return requests.
type ReturnStatus string

const (
	// ReturnStatusPending indicates the request awaits review.
	ReturnStatusPending ReturnStatus = "pending"
	// ReturnStatusApproved indicates staff accepted the request.
	ReturnStatusApproved ReturnStatus = "approved"
	// ReturnStatusRejected indicates staff declined the request.
	ReturnStatusRejected ReturnStatus = "rejected"
	// ReturnStatusProcessing indicates the return shipment/refund is underway.
	ReturnStatusProcessing ReturnStatus = "processing"
	// ReturnStatusCompleted indicates the return is fully settled.
	ReturnStatusCompleted ReturnStatus = "completed"
)

// ReturnRequest references an order and optionally a single product within it.
// A nil ProductID means the entire order is being returned.
type ReturnRequest struct {
	ID              string
	OrderID         string
	UserID          string
	ProductID       *string
	Reason          string
	Status          ReturnStatus
	ResolutionNotes *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NotificationType tags the event class a notification was created for.
type NotificationType string

const (
	// NotificationTypeOrderCreated is sent to the buyer when an order is placed.
	NotificationTypeOrderCreated NotificationType = "order_created"
	// NotificationTypeNewOrder is sent to each seller represented in a new order.
	NotificationTypeNewOrder NotificationType = "new_order"
	// NotificationTypeOrderStatus is sent to the buyer on order status changes.
	NotificationTypeOrderStatus NotificationType = "order_status"
	// NotificationTypeReturnStatus is sent to the requester on return-request changes.
	NotificationTypeReturnStatus NotificationType = "return_status"
)

// Notification is a durable per-user message. Only IsRead is ever mutated
// after creation.
type Notification struct {
	ID        string
	UserID    string
	Message   string
	Link      string
	Type      NotificationType
	IsRead    bool
	CreatedAt time.Time
}

// Product carries the catalog fields the order path reads. Catalog CRUD is
// owned elsewhere; this service only checks and decrements stock.
type Product struct {
	ID        string
	SellerID  string
	Title     string
	Image     string
	Price     float64
	Stock     int
	UpdatedAt time.Time
}

// Address is a stored address-book entry owned by a user.
type Address struct {
	ID         string
	UserID     string
	FullName   string
	Phone      string
	Line1      string
	City       string
	PostalCode string
	Country    string
	UpdatedAt  time.Time
}

// Snapshot freezes the address fields for embedding into an order.
func (a Address) Snapshot() AddressSnapshot {
	return AddressSnapshot{
		FullName:   a.FullName,
		Phone:      a.Phone,
		Line1:      a.Line1,
		City:       a.City,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

// CartItem stores a single product selection within a cart.
type CartItem struct {
	ProductID string
	Quantity  int
}

// Cart aggregates the mutable shopping selection for a user.
type Cart struct {
	ID        string
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
