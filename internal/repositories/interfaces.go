package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/marketbay/api/internal/domain"
)

// Sentinel errors implementations surface for domain-meaningful failures.
var (
	// ErrInsufficientStock is returned when a stock decrement would push a product below zero.
	ErrInsufficientStock = errors.New("repositories: insufficient stock")
	// ErrCouponExhausted is returned when a usage increment would exceed the coupon's cap.
	ErrCouponExhausted = errors.New("repositories: coupon usage exhausted")
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Coupons() CouponRepository
	Returns() ReturnRepository
	Notifications() NotificationRepository
	Carts() CartRepository
	Addresses() AddressRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates and provides query helpers for buyers, sellers and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ExistsWithCoupon reports whether the user already has an order carrying the coupon code.
	ExistsWithCoupon(ctx context.Context, userID string, couponCode string) (bool, error)
	// FinalizePayment applies a payment outcome with a single conditional
	// update: the write succeeds only when the stored status still equals
	// expectedStatus, otherwise the unchanged order is returned with
	// applied=false. Replayed gateway callbacks rely on this guard.
	FinalizePayment(ctx context.Context, orderID string, expectedStatus domain.OrderStatus, update PaymentFinalization) (order domain.Order, applied bool, err error)
}

// PaymentFinalization carries the fields written when a gateway result is applied.
type PaymentFinalization struct {
	Status        domain.OrderStatus
	PaymentResult domain.PaymentResult
	PaidAt        *time.Time
	Now           time.Time
}

// ProductRepository covers the catalog reads and the stock mutations the order path needs.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// DecrementStock atomically subtracts quantity from the product's stock,
	// failing the whole operation when any line would drop below zero.
	DecrementStock(ctx context.Context, lines []StockLine, now time.Time) error
	// RestoreStock adds the quantities back, used when a paid-for order is rolled back.
	RestoreStock(ctx context.Context, lines []StockLine, now time.Time) error
}

// StockLine pairs a product with the quantity to add or subtract.
type StockLine struct {
	ProductID string
	Quantity  int
}

// CouponRepository stores discount codes and their transactional usage counters.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	// IncrementUsage bumps timesUsed by one inside a transaction, failing with
	// a conflict when the counter already reached maxUsage.
	IncrementUsage(ctx context.Context, code string, now time.Time) (domain.Coupon, error)
	// ReleaseUsage undoes a prior increment when the order it paid for is rolled back.
	ReleaseUsage(ctx context.Context, code string, now time.Time) (domain.Coupon, error)
}

// ReturnRepository persists return requests.
type ReturnRepository interface {
	Insert(ctx context.Context, request domain.ReturnRequest) error
	Update(ctx context.Context, request domain.ReturnRequest) error
	FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error)
	FindByOrderAndProduct(ctx context.Context, orderID string, productID *string) (domain.ReturnRequest, error)
	List(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)
}

// NotificationRepository stores durable per-user notifications.
type NotificationRepository interface {
	Insert(ctx context.Context, notification domain.Notification) error
	ListByUser(ctx context.Context, userID string, filter NotificationListFilter) (domain.CursorPage[domain.Notification], error)
	// MarkRead flips isRead on a notification owned by userID.
	MarkRead(ctx context.Context, userID string, notificationID string, now time.Time) (domain.Notification, error)
}

// CartRepository owns the persisted shopping selection per user.
type CartRepository interface {
	GetByUser(ctx context.Context, userID string) (domain.Cart, error)
	Clear(ctx context.Context, userID string, now time.Time) error
	// RemoveItems drops the named products from the user's cart, leaving other lines intact.
	RemoveItems(ctx context.Context, userID string, productIDs []string, now time.Time) error
}

// AddressRepository reads stored address-book entries; address CRUD is owned elsewhere.
type AddressRepository interface {
	Get(ctx context.Context, userID string, addressID string) (domain.Address, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (HealthReport, error)
}

// HealthReport summarises downstream dependency checks.
type HealthReport struct {
	Status string
	Checks []HealthCheck
}

// HealthCheck is a single dependency probe result.
type HealthCheck struct {
	Name    string
	Status  string
	Latency time.Duration
	Detail  string
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID     string
	SellerID   string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type ReturnListFilter struct {
	UserID     string
	OrderID    string
	Status     []string
	Pagination domain.Pagination
}

type NotificationListFilter struct {
	UnreadOnly bool
	Pagination domain.Pagination
}
