package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/marketbay/api/internal/domain"
	"github.com/marketbay/api/internal/payments"
	"github.com/marketbay/api/internal/repositories"
)

var (
	// ErrReturnInvalidInput indicates the command failed validation.
	ErrReturnInvalidInput = errors.New("return: invalid input")
	// ErrReturnNotFound indicates the return request does not exist.
	ErrReturnNotFound = errors.New("return: not found")
	// ErrReturnForbidden indicates the actor may not act on this return request.
	ErrReturnForbidden = errors.New("return: forbidden")
	// ErrReturnDuplicate indicates an open request already covers the order or product.
	ErrReturnDuplicate = errors.New("return: duplicate request")
	// ErrReturnInvalidState indicates the requested status transition is not allowed.
	ErrReturnInvalidState = errors.New("return: invalid state transition")
	// ErrReturnConflict indicates a concurrent modification was detected.
	ErrReturnConflict = errors.New("return: conflict")
	// ErrReturnRefundFailed indicates the provider refund blocking completion failed.
	ErrReturnRefundFailed = errors.New("return: refund failed")
)

// returnStateTransitions defines the review lifecycle of a return request.
var returnStateTransitions = map[domain.ReturnStatus][]domain.ReturnStatus{
	domain.ReturnStatusPending: {
		domain.ReturnStatusApproved,
		domain.ReturnStatusRejected,
	},
	domain.ReturnStatusApproved: {
		domain.ReturnStatusProcessing,
	},
	domain.ReturnStatusProcessing: {
		domain.ReturnStatusCompleted,
	},
	domain.ReturnStatusRejected:  {},
	domain.ReturnStatusCompleted: {},
}

// Refunder is the slice of the payments manager used to reverse settled payments.
type Refunder interface {
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// ReturnServiceDeps wires the return service dependencies.
type ReturnServiceDeps struct {
	Returns repositories.ReturnRepository
	Orders  repositories.OrderRepository

	Refunder Refunder
	Notifier Notifier

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type returnService struct {
	returns repositories.ReturnRepository
	orders  repositories.OrderRepository

	refunder Refunder
	notifier Notifier
	policy   *bluemonday.Policy

	clock  func() time.Time
	newID  func() string
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewReturnService constructs the return service with defaults applied.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.Returns == nil {
		return nil, errors.New("return service requires return repository")
	}
	if deps.Orders == nil {
		return nil, errors.New("return service requires order repository")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string {
			return "ret_" + ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &returnService{
		returns:  deps.Returns,
		orders:   deps.Orders,
		refunder: deps.Refunder,
		notifier: deps.Notifier,
		policy:   bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
	}, nil
}

// Create files a return request for a delivered order the user owns. A nil
// ProductID covers the whole order; a set one must name an item of the order.
func (s *returnService) Create(ctx context.Context, cmd CreateReturnCommand) (ReturnRequest, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return ReturnRequest{}, fmt.Errorf("%w: user id is required", ErrReturnInvalidInput)
	}
	if strings.TrimSpace(cmd.OrderID) == "" {
		return ReturnRequest{}, fmt.Errorf("%w: order id is required", ErrReturnInvalidInput)
	}
	reason := strings.TrimSpace(s.policy.Sanitize(cmd.Reason))
	if reason == "" {
		return ReturnRequest{}, fmt.Errorf("%w: reason is required", ErrReturnInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return ReturnRequest{}, fmt.Errorf("%w: order %s", ErrReturnNotFound, cmd.OrderID)
		}
		return ReturnRequest{}, err
	}
	if order.UserID != uid {
		return ReturnRequest{}, fmt.Errorf("%w: order %s", ErrReturnForbidden, order.ID)
	}
	if order.Status != domain.OrderStatusDelivered {
		return ReturnRequest{}, fmt.Errorf("%w: order %s is %s, returns need a delivered order", ErrReturnInvalidState, order.ID, order.Status)
	}

	if cmd.ProductID != nil {
		found := false
		for _, item := range order.Items {
			if item.ProductID == *cmd.ProductID {
				found = true
				break
			}
		}
		if !found {
			return ReturnRequest{}, fmt.Errorf("%w: product %s is not part of order %s", ErrReturnInvalidInput, *cmd.ProductID, order.ID)
		}
	}

	existing, err := s.returns.FindByOrderAndProduct(ctx, order.ID, cmd.ProductID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return ReturnRequest{}, err
		}
	} else {
		return ReturnRequest{}, fmt.Errorf("%w: request %s already filed", ErrReturnDuplicate, existing.ID)
	}

	now := s.clock()
	request := ReturnRequest{
		ID:        s.newID(),
		OrderID:   order.ID,
		UserID:    uid,
		ProductID: cmd.ProductID,
		Reason:    reason,
		Status:    domain.ReturnStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.returns.Insert(ctx, request); err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}
	return request, nil
}

// UpdateStatus advances a return request on behalf of staff. Completing a
// request for a gateway or card settled order triggers the provider refund
// first; a refund failure leaves the request untouched.
func (s *returnService) UpdateStatus(ctx context.Context, cmd ReturnStatusCommand) (ReturnRequest, error) {
	if !cmd.Actor.HasRole(RoleAdmin) {
		return ReturnRequest{}, fmt.Errorf("%w: only admins review returns", ErrReturnForbidden)
	}
	if strings.TrimSpace(cmd.ReturnID) == "" {
		return ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}
	target := cmd.TargetStatus
	if _, known := returnStateTransitions[target]; !known {
		return ReturnRequest{}, fmt.Errorf("%w: unknown status %q", ErrReturnInvalidInput, target)
	}

	request, err := s.returns.FindByID(ctx, cmd.ReturnID)
	if err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}
	if request.Status == target {
		return request, nil
	}
	if !canTransitionReturn(request.Status, target) {
		return ReturnRequest{}, fmt.Errorf("%w: %s -> %s", ErrReturnInvalidState, request.Status, target)
	}

	if target == domain.ReturnStatusCompleted {
		if err := s.refund(ctx, request); err != nil {
			return ReturnRequest{}, err
		}
	}

	now := s.clock()
	previous := request.Status
	request.Status = target
	request.UpdatedAt = now
	if notes := strings.TrimSpace(s.policy.Sanitize(cmd.ResolutionNotes)); notes != "" {
		request.ResolutionNotes = &notes
	}

	if err := s.returns.Update(ctx, request); err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}

	s.notifyStatusChange(ctx, request, previous)
	return request, nil
}

// ListMine returns the requester's own return requests, newest first.
func (s *returnService) ListMine(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[ReturnRequest], error) {
	if strings.TrimSpace(userID) == "" {
		return domain.CursorPage[ReturnRequest]{}, fmt.Errorf("%w: user id is required", ErrReturnInvalidInput)
	}
	page, err := s.returns.List(ctx, repositories.ReturnListFilter{
		UserID:     userID,
		Pagination: pager,
	})
	if err != nil {
		return domain.CursorPage[ReturnRequest]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// List is the staff listing across all requesters.
func (s *returnService) List(ctx context.Context, query ReturnListQuery) (domain.CursorPage[ReturnRequest], error) {
	page, err := s.returns.List(ctx, repositories.ReturnListFilter{
		OrderID:    query.OrderID,
		Status:     query.Status,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[ReturnRequest]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// refund reverses the original payment when one was captured online.
func (s *returnService) refund(ctx context.Context, request ReturnRequest) error {
	order, err := s.orders.FindByID(ctx, request.OrderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if order.PaymentMethod == domain.PaymentMethodCOD {
		return nil
	}
	if order.PaymentResult == nil || order.PaymentResult.Status != domain.PaymentResultPaid {
		return nil
	}
	if s.refunder == nil {
		return fmt.Errorf("%w: no refund provider configured", ErrReturnRefundFailed)
	}
	_, err = s.refunder.Refund(ctx, payments.PaymentContext{Method: string(order.PaymentMethod)}, payments.RefundRequest{
		TransactionID:  order.PaymentResult.TransactionID,
		Reason:         "requested_by_customer",
		IdempotencyKey: request.ID,
		Metadata: map[string]string{
			"localOrderId": order.ID,
			"returnId":     request.ID,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReturnRefundFailed, err)
	}
	s.logger(ctx, "return.refund.issued", map[string]any{
		"returnId": request.ID,
		"orderId":  order.ID,
	})
	return nil
}

func (s *returnService) notifyStatusChange(ctx context.Context, request ReturnRequest, previous domain.ReturnStatus) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Dispatch(ctx, DispatchNotificationCommand{
		UserID:  request.UserID,
		Message: fmt.Sprintf("Your return request for order %s moved from %s to %s.", request.OrderID, previous, request.Status),
		Link:    "/returns/" + request.ID,
		Type:    domain.NotificationTypeReturnStatus,
	}); err != nil {
		s.logger(ctx, "return.notification.dispatch.failed", map[string]any{
			"returnId": request.ID,
			"error":    err.Error(),
		})
	}
}

func canTransitionReturn(from, to domain.ReturnStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range returnStateTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s *returnService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrReturnNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrReturnConflict, err)
		}
	}
	return err
}

// Ensure interface compliance.
var _ ReturnService = (*returnService)(nil)
