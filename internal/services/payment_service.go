package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/marketbay/api/internal/domain"
	"github.com/marketbay/api/internal/payments"
	"github.com/marketbay/api/internal/repositories"
)

var (
	// ErrPaymentInvalidInput indicates the command failed validation.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentGatewayFailed indicates the gateway rejected or could not create the session.
	ErrPaymentGatewayFailed = errors.New("payment: gateway request failed")
	// ErrPaymentSignature indicates the callback payload failed signature verification.
	ErrPaymentSignature = errors.New("payment: signature verification failed")
	// ErrPaymentOrderNotFound indicates the callback references an unknown order.
	ErrPaymentOrderNotFound = errors.New("payment: order not found")
)

// GatewayOrderAssembler is the slice of the order service the payment flow
// uses to build and roll back pending-payment orders.
type GatewayOrderAssembler interface {
	AssembleGatewayOrder(ctx context.Context, cmd GatewayCheckoutCommand) (Order, error)
	AbortGatewayOrder(ctx context.Context, order Order) error
}

// RedirectGateway is the slice of the payments manager the service depends on.
type RedirectGateway interface {
	CreateRedirect(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RedirectRequest) (payments.RedirectSession, error)
	VerifyReturn(ctx context.Context, paymentCtx payments.PaymentContext, payload payments.ReturnPayload) (payments.ReturnResult, error)
}

// SettlementConverter converts platform-unit totals into the gateway's
// settlement unit.
type SettlementConverter interface {
	ConvertToSettlement(total float64) int64
	SettlementCurrency() string
}

// PaymentServiceDeps wires the payment service dependencies.
type PaymentServiceDeps struct {
	Assembler GatewayOrderAssembler
	Gateway   RedirectGateway
	Converter SettlementConverter

	Orders   repositories.OrderRepository
	Products repositories.ProductRepository
	Carts    repositories.CartRepository

	Notifier Notifier

	// NotifyURL is the server-to-server callback the gateway posts results to.
	NotifyURL string

	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	assembler GatewayOrderAssembler
	gateway   RedirectGateway
	converter SettlementConverter

	orders   repositories.OrderRepository
	products repositories.ProductRepository
	carts    repositories.CartRepository

	notifier  Notifier
	notifyURL string

	clock  func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentService constructs the payment service with defaults applied.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Assembler == nil {
		return nil, errors.New("payment service requires order assembler")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service requires redirect gateway")
	}
	if deps.Converter == nil {
		return nil, errors.New("payment service requires settlement converter")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service requires order repository")
	}
	if deps.Products == nil {
		return nil, errors.New("payment service requires product repository")
	}
	if deps.Carts == nil {
		return nil, errors.New("payment service requires cart repository")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		assembler: deps.Assembler,
		gateway:   deps.Gateway,
		converter: deps.Converter,
		orders:    deps.Orders,
		products:  deps.Products,
		carts:     deps.Carts,
		notifier:  deps.Notifier,
		notifyURL: strings.TrimSpace(deps.NotifyURL),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// StartGatewayCheckout persists a pending-payment order and asks the gateway
// for a redirect session. When the gateway refuses, the order and its coupon
// usage are rolled back so nothing dangles.
func (s *paymentService) StartGatewayCheckout(ctx context.Context, cmd GatewayCheckoutCommand) (GatewayCheckout, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return GatewayCheckout{}, fmt.Errorf("%w: user id is required", ErrPaymentInvalidInput)
	}

	order, err := s.assembler.AssembleGatewayOrder(ctx, cmd)
	if err != nil {
		return GatewayCheckout{}, err
	}

	amount := s.converter.ConvertToSettlement(order.TotalPrice)
	order.SettlementAmount = amount
	order.SettlementCurrency = s.converter.SettlementCurrency()
	if err := s.orders.Update(ctx, order); err != nil {
		s.abort(ctx, order)
		return GatewayCheckout{}, fmt.Errorf("%w: %v", ErrPaymentGatewayFailed, err)
	}

	session, err := s.gateway.CreateRedirect(ctx, payments.PaymentContext{Method: string(domain.PaymentMethodGateway)}, payments.RedirectRequest{
		LocalOrderID: order.ID,
		Amount:       amount,
		Currency:     order.SettlementCurrency,
		OrderInfo:    fmt.Sprintf("Order %s", order.ID),
		ExtraData: map[string]string{
			"localOrderId": order.ID,
			"isFromCart":   strconv.FormatBool(cmd.FromCart),
		},
		RedirectURL:    cmd.RedirectURL,
		NotifyURL:      s.notifyURL,
		IdempotencyKey: order.ID,
	})
	if err != nil {
		s.abort(ctx, order)
		return GatewayCheckout{}, fmt.Errorf("%w: %v", ErrPaymentGatewayFailed, err)
	}

	s.logger(ctx, "payment.checkout.started", map[string]any{
		"orderId":  order.ID,
		"provider": session.Provider,
		"amount":   amount,
	})
	return GatewayCheckout{PayURL: session.PayURL, LocalOrderID: order.ID}, nil
}

// Reconcile applies a gateway result to its order. The conditional payment
// finalisation makes the whole operation idempotent: a replayed callback
// finds the order already finalised and changes nothing.
func (s *paymentService) Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error) {
	result, err := s.gateway.VerifyReturn(ctx, payments.PaymentContext{Method: string(domain.PaymentMethodGateway)}, payments.ReturnPayload{Params: cmd.Params})
	if err != nil {
		if errors.Is(err, payments.ErrSignatureMismatch) {
			return ReconcileResult{}, fmt.Errorf("%w: %v", ErrPaymentSignature, err)
		}
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrPaymentGatewayFailed, err)
	}

	orderID := strings.TrimSpace(result.LocalOrderID)
	if orderID == "" {
		orderID = strings.TrimSpace(cmd.LocalOrderID)
	}
	if orderID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: callback does not name an order", ErrPaymentInvalidInput)
	}

	fromCart := cmd.IsFromCart
	if v, ok := result.ExtraData["isFromCart"]; ok {
		fromCart = v == "true"
	}

	now := s.clock()
	finalization := repositories.PaymentFinalization{Now: now}
	if result.Succeeded {
		finalization.Status = domain.OrderStatusPendingConfirmation
		finalization.PaymentResult = domain.PaymentResult{
			TransactionID: result.TransactionID,
			Status:        domain.PaymentResultPaid,
			UpdateTime:    now,
		}
		paidAt := result.PaidAt
		if paidAt.IsZero() {
			paidAt = now
		}
		finalization.PaidAt = &paidAt
	} else {
		finalization.Status = domain.OrderStatusCancelled
		finalization.PaymentResult = domain.PaymentResult{
			TransactionID: result.TransactionID,
			Status:        domain.PaymentResultFailed,
			UpdateTime:    now,
		}
	}

	order, applied, err := s.orders.FinalizePayment(ctx, orderID, domain.OrderStatusPendingPayment, finalization)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return ReconcileResult{}, fmt.Errorf("%w: order %s", ErrPaymentOrderNotFound, orderID)
		}
		return ReconcileResult{}, err
	}
	if !applied {
		s.logger(ctx, "payment.reconcile.replayed", map[string]any{
			"orderId": orderID,
			"status":  string(order.Status),
		})
		return ReconcileResult{
			OrderID:          order.ID,
			Status:           order.Status,
			AlreadyProcessed: true,
			Succeeded:        order.PaymentResult != nil && order.PaymentResult.Status == domain.PaymentResultPaid,
		}, nil
	}

	if result.Succeeded {
		// Gateway orders claim stock only once the payment is confirmed. A
		// failed claim must not report success back to the gateway.
		if err := s.products.DecrementStock(ctx, stockLines(order.Items), now); err != nil {
			s.logger(ctx, "payment.stock.decrement.failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
			return ReconcileResult{}, fmt.Errorf("claim stock for order %s: %w", order.ID, err)
		}
		if fromCart {
			productIDs := make([]string, 0, len(order.Items))
			for _, item := range order.Items {
				productIDs = append(productIDs, item.ProductID)
			}
			if err := s.carts.RemoveItems(ctx, order.UserID, productIDs, now); err != nil {
				s.logger(ctx, "payment.cart.prune.failed", map[string]any{
					"orderId": order.ID,
					"error":   err.Error(),
				})
			}
		}
	}

	s.notify(ctx, order, result.Succeeded)
	s.logger(ctx, "payment.reconcile.applied", map[string]any{
		"orderId":   order.ID,
		"succeeded": result.Succeeded,
		"status":    string(order.Status),
	})
	return ReconcileResult{
		OrderID:   order.ID,
		Status:    order.Status,
		Succeeded: result.Succeeded,
	}, nil
}

func (s *paymentService) abort(ctx context.Context, order Order) {
	if err := s.assembler.AbortGatewayOrder(ctx, order); err != nil {
		s.logger(ctx, "payment.checkout.abort.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *paymentService) notify(ctx context.Context, order Order, succeeded bool) {
	if s.notifier == nil {
		return
	}
	message := fmt.Sprintf("Payment for order %s was received.", order.ID)
	if !succeeded {
		message = fmt.Sprintf("Payment for order %s failed and the order was cancelled.", order.ID)
	}
	if _, err := s.notifier.Dispatch(ctx, DispatchNotificationCommand{
		UserID:  order.UserID,
		Message: message,
		Link:    "/orders/" + order.ID,
		Type:    domain.NotificationTypeOrderStatus,
	}); err != nil {
		s.logger(ctx, "payment.notification.dispatch.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
	if succeeded {
		for _, sellerID := range order.SellerIDs() {
			if _, err := s.notifier.Dispatch(ctx, DispatchNotificationCommand{
				UserID:  sellerID,
				Message: fmt.Sprintf("You have a new paid order %s.", order.ID),
				Link:    "/dashboard/orders/" + order.ID,
				Type:    domain.NotificationTypeNewOrder,
			}); err != nil {
				s.logger(ctx, "payment.notification.dispatch.failed", map[string]any{
					"orderId": order.ID,
					"error":   err.Error(),
				})
			}
		}
	}
}

// Ensure interface compliance.
var _ PaymentService = (*paymentService)(nil)
