package services

import (
	"context"
	"time"

	domain "github.com/marketbay/api/internal/domain"
)

// Type aliases keep service signatures terse while the canonical definitions
// live in the domain package.
type (
	Order           = domain.Order
	OrderItem       = domain.OrderItem
	OrderStatus     = domain.OrderStatus
	PaymentMethod   = domain.PaymentMethod
	PaymentResult   = domain.PaymentResult
	AddressSnapshot = domain.AddressSnapshot
	Coupon          = domain.Coupon
	ReturnRequest   = domain.ReturnRequest
	ReturnStatus    = domain.ReturnStatus
	Notification    = domain.Notification
	Cart            = domain.Cart
	CartItem        = domain.CartItem
	Product         = domain.Product
	Pagination      = domain.Pagination
)

// Actor identifies the authenticated principal invoking an operation.
type Actor struct {
	UserID string
	Roles  []string
}

// HasRole reports whether the actor carries the role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Role names used for authorisation decisions inside services.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// OrderService builds orders from carts or buy-now selections and owns the
// order status state machine.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	Get(ctx context.Context, orderID string, actor Actor) (Order, error)
	ListMine(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error)
	ListBySeller(ctx context.Context, sellerID string, pager Pagination) (domain.CursorPage[Order], error)
	List(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
}

// OrderSelection is a single buy-now line.
type OrderSelection struct {
	ProductID string
	Quantity  int
}

// CreateOrderCommand captures the inputs for the direct (cash on delivery) order path.
type CreateOrderCommand struct {
	UserID        string
	AddressID     string
	PaymentMethod PaymentMethod
	CouponCode    string
	ShippingPrice float64
	// Items overrides the persisted cart for buy-now purchases.
	Items []OrderSelection
}

// OrderListQuery filters the admin order listing.
type OrderListQuery struct {
	UserID     string
	Status     []string
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}

// OrderStatusTransitionCommand advances an order through the state machine.
type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	Actor        Actor
}

// PaymentService starts gateway-routed checkouts and reconciles their results.
type PaymentService interface {
	StartGatewayCheckout(ctx context.Context, cmd GatewayCheckoutCommand) (GatewayCheckout, error)
	Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error)
}

// GatewayCheckoutCommand captures the inputs for the gateway-routed order path.
type GatewayCheckoutCommand struct {
	UserID        string
	AddressID     string
	CouponCode    string
	ShippingPrice float64
	// Items overrides the persisted cart for buy-now purchases.
	Items []OrderSelection
	// FromCart records whether the purchase sources the persisted cart; it is
	// echoed through the gateway so reconciliation can prune the cart.
	FromCart bool
	// RedirectURL is where the gateway sends the buyer's browser afterwards.
	RedirectURL string
}

// GatewayCheckout is returned to the client to start the redirect.
type GatewayCheckout struct {
	PayURL       string
	LocalOrderID string
}

// ReconcileCommand wraps a gateway callback, browser return and server IPN alike.
type ReconcileCommand struct {
	// Params carries the raw gateway parameters, signature included.
	Params map[string]string
	// LocalOrderID is the caller-supplied fallback when the payload omits it.
	LocalOrderID string
	IsFromCart   bool
}

// ReconcileResult reports the idempotent outcome of processing a callback.
type ReconcileResult struct {
	OrderID string
	Status  OrderStatus
	// AlreadyProcessed is true when the callback was a replay and nothing changed.
	AlreadyProcessed bool
	Succeeded        bool
}

// ReturnService files and advances return requests.
type ReturnService interface {
	Create(ctx context.Context, cmd CreateReturnCommand) (ReturnRequest, error)
	UpdateStatus(ctx context.Context, cmd ReturnStatusCommand) (ReturnRequest, error)
	ListMine(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[ReturnRequest], error)
	List(ctx context.Context, query ReturnListQuery) (domain.CursorPage[ReturnRequest], error)
}

// CreateReturnCommand files a return for an order or a single product within it.
type CreateReturnCommand struct {
	UserID    string
	OrderID   string
	ProductID *string
	Reason    string
}

// ReturnStatusCommand advances a return request through its state machine.
type ReturnStatusCommand struct {
	ReturnID        string
	TargetStatus    ReturnStatus
	ResolutionNotes string
	Actor           Actor
}

// ReturnListQuery filters the staff return listing.
type ReturnListQuery struct {
	Status     []string
	OrderID    string
	Pagination Pagination
}

// NotificationService persists notifications and fans them out to connected clients.
type NotificationService interface {
	Dispatch(ctx context.Context, cmd DispatchNotificationCommand) (Notification, error)
	ListMine(ctx context.Context, userID string, query NotificationListQuery) (domain.CursorPage[Notification], error)
	MarkRead(ctx context.Context, userID string, notificationID string) (Notification, error)
}

// DispatchNotificationCommand describes one notification to deliver.
type DispatchNotificationCommand struct {
	UserID  string
	Message string
	Link    string
	Type    domain.NotificationType
}

// NotificationListQuery filters the pull listing.
type NotificationListQuery struct {
	UnreadOnly bool
	Pagination Pagination
}

// Notifier is the narrow dispatch surface order and return flows depend on.
type Notifier interface {
	Dispatch(ctx context.Context, cmd DispatchNotificationCommand) (Notification, error)
}

// NotificationEvent is published after a notification has been durably stored.
type NotificationEvent struct {
	Notification Notification
	OccurredAt   time.Time
}

// NotificationEventPublisher fans a stored notification out to realtime consumers.
type NotificationEventPublisher interface {
	PublishNotification(ctx context.Context, event NotificationEvent) error
}
