package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/marketbay/api/internal/domain"
	"github.com/marketbay/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the command failed validation.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor may not act on this order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderConflict indicates a concurrent modification was detected.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderInvalidState indicates the requested status transition is not allowed.
	ErrOrderInvalidState = errors.New("order: invalid state transition")
	// ErrOrderOutOfStock indicates a line item exceeds the available stock.
	ErrOrderOutOfStock = errors.New("order: insufficient stock")
	// ErrOrderInvalidCoupon indicates the coupon is unknown, expired, exhausted or not applicable.
	ErrOrderInvalidCoupon = errors.New("order: invalid coupon")
	// ErrOrderInvalidAddress indicates the shipping address is unknown or incomplete.
	ErrOrderInvalidAddress = errors.New("order: invalid address")
	// ErrOrderUnavailable indicates a temporary persistence failure.
	ErrOrderUnavailable = errors.New("order: temporarily unavailable")
)

// orderStateTransitions defines which target statuses are reachable from each
// current status. Same-status requests are treated as no-ops before this map
// is consulted.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPendingPayment: {
		domain.OrderStatusPendingConfirmation,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusPendingConfirmation: {
		domain.OrderStatusProcessing,
		domain.OrderStatusCancelled,
		domain.OrderStatusWaitingCancelApproval,
	},
	domain.OrderStatusProcessing: {
		domain.OrderStatusShipped,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusShipped: {
		domain.OrderStatusDelivered,
	},
	domain.OrderStatusWaitingCancelApproval: {
		domain.OrderStatusCancelled,
		domain.OrderStatusProcessing,
	},
	domain.OrderStatusDelivered: {},
	domain.OrderStatusCancelled: {},
}

// sellerTransitionTargets are the statuses a seller may move an order to.
var sellerTransitionTargets = map[domain.OrderStatus]struct{}{
	domain.OrderStatusProcessing: {},
	domain.OrderStatusShipped:    {},
	domain.OrderStatusCancelled:  {},
}

// buyerDirectCancelStatuses are the statuses from which the buyer may cancel
// outright. Later than these, the buyer can only request approval.
var buyerDirectCancelStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPendingPayment:      {},
	domain.OrderStatusPendingConfirmation: {},
}

// OrderServiceDeps wires repository dependencies into the order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Products  repositories.ProductRepository
	Coupons   repositories.CouponRepository
	Carts     repositories.CartRepository
	Addresses repositories.AddressRepository

	Notifier   Notifier
	UnitOfWork repositories.UnitOfWork

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	products  repositories.ProductRepository
	coupons   repositories.CouponRepository
	carts     repositories.CartRepository
	addresses repositories.AddressRepository

	notifier Notifier
	uow      repositories.UnitOfWork

	clock  func() time.Time
	newID  func() string
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs the order service with defaults applied.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service requires order repository")
	}
	if deps.Products == nil {
		return nil, errors.New("order service requires product repository")
	}
	if deps.Coupons == nil {
		return nil, errors.New("order service requires coupon repository")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service requires cart repository")
	}
	if deps.Addresses == nil {
		return nil, errors.New("order service requires address repository")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string {
			return "ord_" + ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}

	return &orderService{
		orders:    deps.Orders,
		products:  deps.Products,
		coupons:   deps.Coupons,
		carts:     deps.Carts,
		addresses: deps.Addresses,
		notifier:  deps.Notifier,
		uow:       uow,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
	}, nil
}

// Create builds and persists a cash-on-delivery order. Gateway and card
// orders are assembled through the payment service instead, because their
// stock decrement is deferred to reconciliation.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if cmd.PaymentMethod != domain.PaymentMethodCOD {
		return Order{}, fmt.Errorf("%w: payment method %q must go through the payment endpoint", ErrOrderInvalidInput, cmd.PaymentMethod)
	}

	draft, fromCart, err := s.assemble(ctx, assembleInput{
		userID:        cmd.UserID,
		addressID:     cmd.AddressID,
		couponCode:    cmd.CouponCode,
		shippingPrice: cmd.ShippingPrice,
		items:         cmd.Items,
		paymentMethod: domain.PaymentMethodCOD,
		status:        domain.OrderStatusPendingConfirmation,
	})
	if err != nil {
		return Order{}, err
	}

	// COD settles offline, so stock is claimed at creation.
	lines := stockLines(draft.Items)
	if err := s.products.DecrementStock(ctx, lines, draft.CreatedAt); err != nil {
		if errors.Is(err, repositories.ErrInsufficientStock) {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderOutOfStock, err)
		}
		return Order{}, s.mapRepositoryError(err)
	}

	if draft.CouponApplied != nil {
		if _, err := s.coupons.IncrementUsage(ctx, *draft.CouponApplied, draft.CreatedAt); err != nil {
			s.restoreStock(ctx, lines, draft.CreatedAt)
			return Order{}, s.mapCouponError(err)
		}
	}

	if err := s.orders.Insert(ctx, draft); err != nil {
		s.restoreStock(ctx, lines, draft.CreatedAt)
		if draft.CouponApplied != nil {
			s.releaseCoupon(ctx, *draft.CouponApplied, draft.CreatedAt)
		}
		return Order{}, s.mapRepositoryError(err)
	}

	if fromCart {
		if err := s.carts.Clear(ctx, draft.UserID, draft.CreatedAt); err != nil {
			s.logger(ctx, "order.cart.clear.failed", map[string]any{
				"orderId": draft.ID,
				"error":   err.Error(),
			})
		}
	}

	s.notifyOrderCreated(ctx, draft)
	return draft, nil
}

// AssembleGatewayOrder builds and persists a pending-payment order without
// touching stock. The payment service claims stock during reconciliation.
func (s *orderService) AssembleGatewayOrder(ctx context.Context, cmd GatewayCheckoutCommand) (Order, error) {
	draft, _, err := s.assemble(ctx, assembleInput{
		userID:        cmd.UserID,
		addressID:     cmd.AddressID,
		couponCode:    cmd.CouponCode,
		shippingPrice: cmd.ShippingPrice,
		items:         cmd.Items,
		paymentMethod: domain.PaymentMethodGateway,
		status:        domain.OrderStatusPendingPayment,
	})
	if err != nil {
		return Order{}, err
	}

	draft.PaymentResult = &domain.PaymentResult{
		Status:     domain.PaymentResultPending,
		UpdateTime: draft.CreatedAt,
	}

	if draft.CouponApplied != nil {
		if _, err := s.coupons.IncrementUsage(ctx, *draft.CouponApplied, draft.CreatedAt); err != nil {
			return Order{}, s.mapCouponError(err)
		}
	}

	if err := s.orders.Insert(ctx, draft); err != nil {
		if draft.CouponApplied != nil {
			s.releaseCoupon(ctx, *draft.CouponApplied, draft.CreatedAt)
		}
		return Order{}, s.mapRepositoryError(err)
	}
	return draft, nil
}

// AbortGatewayOrder rolls back an order whose gateway session could not be
// created. No stock was claimed for it yet.
func (s *orderService) AbortGatewayOrder(ctx context.Context, order Order) error {
	now := s.clock()
	if err := s.orders.Delete(ctx, order.ID); err != nil {
		return s.mapRepositoryError(err)
	}
	if order.CouponApplied != nil {
		s.releaseCoupon(ctx, *order.CouponApplied, now)
	}
	return nil
}

// Get returns an order visible to the actor: its buyer, a seller represented
// in it, or an admin.
func (s *orderService) Get(ctx context.Context, orderID string, actor Actor) (Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !canViewOrder(order, actor) {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, orderID)
	}
	return order, nil
}

// ListMine returns the buyer's own orders, newest first.
func (s *orderService) ListMine(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error) {
	if strings.TrimSpace(userID) == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     userID,
		Pagination: pager,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// ListBySeller returns orders containing at least one of the seller's products.
func (s *orderService) ListBySeller(ctx context.Context, sellerID string, pager Pagination) (domain.CursorPage[Order], error) {
	if strings.TrimSpace(sellerID) == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: seller id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		SellerID:   sellerID,
		Pagination: pager,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// List is the admin listing across all buyers.
func (s *orderService) List(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID: query.UserID,
		Status: query.Status,
		DateRange: domain.RangeQuery[time.Time]{
			From: query.From,
			To:   query.To,
		},
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// TransitionStatus advances the order state machine on behalf of the actor.
// Requesting the current status is a successful no-op and sends nothing.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := cmd.TargetStatus
	if _, known := orderStateTransitions[target]; !known {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, target)
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !canViewOrder(order, cmd.Actor) {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, order.ID)
	}

	if order.Status == target {
		return order, nil
	}
	if !canTransitionOrder(order.Status, target) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, target)
	}
	if err := authoriseTransition(order, cmd.Actor, target); err != nil {
		return Order{}, err
	}

	now := s.clock()
	previous := order.Status
	order.Status = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
		// COD settles on handover.
		if order.PaymentMethod == domain.PaymentMethodCOD && order.PaidAt == nil {
			order.PaidAt = &now
			order.PaymentResult = &domain.PaymentResult{
				Status:     domain.PaymentResultPaid,
				UpdateTime: now,
			}
		}
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if target == domain.OrderStatusCancelled && stockWasClaimed(order) {
		s.restoreStock(ctx, stockLines(order.Items), now)
		if order.CouponApplied != nil {
			s.releaseCoupon(ctx, *order.CouponApplied, now)
		}
	}

	s.notifyStatusChange(ctx, order, previous, cmd.Actor)
	return order, nil
}

// assembleInput carries the shared inputs of the COD and gateway order builders.
type assembleInput struct {
	userID        string
	addressID     string
	couponCode    string
	shippingPrice float64
	items         []OrderSelection
	paymentMethod domain.PaymentMethod
	status        domain.OrderStatus
}

// assemble resolves the address, the line items and the coupon, then returns
// an unpersisted order draft. It performs no mutations.
func (s *orderService) assemble(ctx context.Context, in assembleInput) (Order, bool, error) {
	uid := strings.TrimSpace(in.userID)
	if uid == "" {
		return Order{}, false, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(in.addressID) == "" {
		return Order{}, false, fmt.Errorf("%w: address id is required", ErrOrderInvalidInput)
	}
	if in.shippingPrice < 0 {
		return Order{}, false, fmt.Errorf("%w: shipping price must not be negative", ErrOrderInvalidInput)
	}

	address, err := s.addresses.Get(ctx, uid, in.addressID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Order{}, false, fmt.Errorf("%w: address %s", ErrOrderInvalidAddress, in.addressID)
		}
		return Order{}, false, s.mapRepositoryError(err)
	}
	if field := firstBlankAddressField(address); field != "" {
		return Order{}, false, fmt.Errorf("%w: address %s has no %s", ErrOrderInvalidAddress, in.addressID, field)
	}

	selections := in.items
	fromCart := false
	if len(selections) == 0 {
		cart, err := s.carts.GetByUser(ctx, uid)
		if err != nil {
			return Order{}, false, s.mapRepositoryError(err)
		}
		for _, item := range cart.Items {
			selections = append(selections, OrderSelection{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		fromCart = true
	}
	if len(selections) == 0 {
		return Order{}, false, fmt.Errorf("%w: no items to order", ErrOrderInvalidInput)
	}

	now := s.clock()
	items := make([]OrderItem, 0, len(selections))
	var itemsPrice float64
	for _, sel := range selections {
		if sel.Quantity <= 0 {
			return Order{}, false, fmt.Errorf("%w: quantity for product %s must be positive", ErrOrderInvalidInput, sel.ProductID)
		}
		product, err := s.products.FindByID(ctx, sel.ProductID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return Order{}, false, fmt.Errorf("%w: product %s not found", ErrOrderInvalidInput, sel.ProductID)
			}
			return Order{}, false, s.mapRepositoryError(err)
		}
		if product.Stock < sel.Quantity {
			return Order{}, false, fmt.Errorf("%w: product %s has %d left", ErrOrderOutOfStock, product.ID, product.Stock)
		}
		items = append(items, OrderItem{
			ProductID: product.ID,
			SellerID:  product.SellerID,
			Title:     product.Title,
			Image:     product.Image,
			UnitPrice: product.Price,
			Quantity:  sel.Quantity,
		})
		itemsPrice += product.Price * float64(sel.Quantity)
	}
	itemsPrice = roundMoney(itemsPrice)

	var couponApplied *string
	var discount float64
	if code := strings.TrimSpace(in.couponCode); code != "" {
		coupon, err := s.coupons.FindByCode(ctx, code)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return Order{}, false, fmt.Errorf("%w: code %s", ErrOrderInvalidCoupon, code)
			}
			return Order{}, false, s.mapRepositoryError(err)
		}
		if err := validateCoupon(coupon, itemsPrice, now); err != nil {
			return Order{}, false, err
		}
		used, err := s.orders.ExistsWithCoupon(ctx, uid, coupon.Code)
		if err != nil {
			return Order{}, false, s.mapRepositoryError(err)
		}
		if used {
			return Order{}, false, fmt.Errorf("%w: code %s already used", ErrOrderInvalidCoupon, coupon.Code)
		}
		discount = roundMoney(itemsPrice * coupon.DiscountPercent / 100)
		couponApplied = &coupon.Code
	}

	total := roundMoney(itemsPrice + in.shippingPrice - discount)
	if total < 0 {
		total = 0
	}

	return Order{
		ID:              s.newID(),
		UserID:          uid,
		Items:           items,
		ShippingAddress: address.Snapshot(),
		PaymentMethod:   in.paymentMethod,
		ItemsPrice:      itemsPrice,
		ShippingPrice:   roundMoney(in.shippingPrice),
		DiscountAmount:  discount,
		TotalPrice:      total,
		Status:          in.status,
		CouponApplied:   couponApplied,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, fromCart, nil
}

func validateCoupon(coupon domain.Coupon, itemsPrice float64, now time.Time) error {
	if now.Before(coupon.StartDate) || now.After(coupon.EndDate) {
		return fmt.Errorf("%w: code %s is not active", ErrOrderInvalidCoupon, coupon.Code)
	}
	if coupon.MaxUsage > 0 && coupon.TimesUsed >= coupon.MaxUsage {
		return fmt.Errorf("%w: code %s is exhausted", ErrOrderInvalidCoupon, coupon.Code)
	}
	if itemsPrice < coupon.MinOrderAmount {
		return fmt.Errorf("%w: order total below minimum for %s", ErrOrderInvalidCoupon, coupon.Code)
	}
	return nil
}

// firstBlankAddressField names the first required shipping field that is
// empty, or "" when the address is complete.
func firstBlankAddressField(address domain.Address) string {
	fields := []struct {
		name  string
		value string
	}{
		{"full name", address.FullName},
		{"phone", address.Phone},
		{"street", address.Line1},
		{"city", address.City},
		{"country", address.Country},
	}
	for _, field := range fields {
		if strings.TrimSpace(field.value) == "" {
			return field.name
		}
	}
	return ""
}

func canViewOrder(order Order, actor Actor) bool {
	if actor.HasRole(RoleAdmin) {
		return true
	}
	if order.UserID == actor.UserID {
		return true
	}
	if actor.HasRole(RoleSeller) {
		for _, sellerID := range order.SellerIDs() {
			if sellerID == actor.UserID {
				return true
			}
		}
	}
	return false
}

// authoriseTransition enforces who may request which target status.
func authoriseTransition(order Order, actor Actor, target domain.OrderStatus) error {
	if actor.HasRole(RoleAdmin) {
		return nil
	}

	isSeller := false
	if actor.HasRole(RoleSeller) {
		for _, sellerID := range order.SellerIDs() {
			if sellerID == actor.UserID {
				isSeller = true
				break
			}
		}
	}
	if isSeller {
		if _, ok := sellerTransitionTargets[target]; ok {
			return nil
		}
		return fmt.Errorf("%w: sellers may not set status %s", ErrOrderForbidden, target)
	}

	if order.UserID != actor.UserID {
		return fmt.Errorf("%w: order %s", ErrOrderForbidden, order.ID)
	}

	// Buyers cancel early orders outright and request approval afterwards.
	switch target {
	case domain.OrderStatusCancelled:
		if _, ok := buyerDirectCancelStatuses[order.Status]; ok || order.Status == target {
			return nil
		}
		return fmt.Errorf("%w: cancellation of a confirmed order needs seller approval", ErrOrderForbidden)
	case domain.OrderStatusWaitingCancelApproval:
		return nil
	default:
		return fmt.Errorf("%w: buyers may not set status %s", ErrOrderForbidden, target)
	}
}

func canTransitionOrder(from, to domain.OrderStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range orderStateTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// stockWasClaimed reports whether the order has already taken units out of
// stock: COD claims at creation, gateway and card claim once paid.
func stockWasClaimed(order Order) bool {
	if order.PaymentMethod == domain.PaymentMethodCOD {
		return true
	}
	return order.PaymentResult != nil && order.PaymentResult.Status == domain.PaymentResultPaid
}

func stockLines(items []OrderItem) []repositories.StockLine {
	lines := make([]repositories.StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, repositories.StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func (s *orderService) restoreStock(ctx context.Context, lines []repositories.StockLine, now time.Time) {
	if err := s.products.RestoreStock(ctx, lines, now); err != nil {
		s.logger(ctx, "order.stock.restore.failed", map[string]any{
			"error": err.Error(),
		})
	}
}

func (s *orderService) releaseCoupon(ctx context.Context, code string, now time.Time) {
	if _, err := s.coupons.ReleaseUsage(ctx, code, now); err != nil {
		s.logger(ctx, "order.coupon.release.failed", map[string]any{
			"coupon": code,
			"error":  err.Error(),
		})
	}
}

func (s *orderService) notifyOrderCreated(ctx context.Context, order Order) {
	s.dispatch(ctx, DispatchNotificationCommand{
		UserID:  order.UserID,
		Message: fmt.Sprintf("Your order %s has been placed.", order.ID),
		Link:    "/orders/" + order.ID,
		Type:    domain.NotificationTypeOrderCreated,
	})
	for _, sellerID := range order.SellerIDs() {
		s.dispatch(ctx, DispatchNotificationCommand{
			UserID:  sellerID,
			Message: fmt.Sprintf("You have a new order %s.", order.ID),
			Link:    "/dashboard/orders/" + order.ID,
			Type:    domain.NotificationTypeNewOrder,
		})
	}
}

// notifyStatusChange always tells the buyer about the stored change; when the
// buyer initiated it the sellers get a copy as well.
func (s *orderService) notifyStatusChange(ctx context.Context, order Order, previous domain.OrderStatus, actor Actor) {
	message := fmt.Sprintf("Order %s moved from %s to %s.", order.ID, previous, order.Status)
	s.dispatch(ctx, DispatchNotificationCommand{
		UserID:  order.UserID,
		Message: message,
		Link:    "/orders/" + order.ID,
		Type:    domain.NotificationTypeOrderStatus,
	})
	if actor.UserID != order.UserID {
		return
	}
	for _, sellerID := range order.SellerIDs() {
		s.dispatch(ctx, DispatchNotificationCommand{
			UserID:  sellerID,
			Message: message,
			Link:    "/dashboard/orders/" + order.ID,
			Type:    domain.NotificationTypeOrderStatus,
		})
	}
}

// dispatch delivers a notification without letting delivery problems fail the
// business operation that triggered it.
func (s *orderService) dispatch(ctx context.Context, cmd DispatchNotificationCommand) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Dispatch(ctx, cmd); err != nil {
		s.logger(ctx, "order.notification.dispatch.failed", map[string]any{
			"recipient": cmd.UserID,
			"type":      string(cmd.Type),
			"error":     err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

func (s *orderService) mapCouponError(err error) error {
	if errors.Is(err, repositories.ErrCouponExhausted) {
		return fmt.Errorf("%w: %v", ErrOrderInvalidCoupon, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrOrderInvalidCoupon, err)
	}
	return s.mapRepositoryError(err)
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Ensure interface compliance.
var _ OrderService = (*orderService)(nil)
