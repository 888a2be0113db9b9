package firestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/marketbay/api/internal/domain"
	pfirestore "github.com/marketbay/api/internal/platform/firestore"
	"github.com/marketbay/api/internal/repositories"
)

const (
	orderCollection      = "orders"
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderRepository persists order aggregates in Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection,
		pfirestore.IdentityEncoder[orderDocument](), pfirestore.StructDecoder[orderDocument]())
	return &OrderRepository{provider: provider, base: base}, nil
}

// Insert writes a new order document keyed by its id.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	if _, err := r.base.Set(ctx, id, encodeOrderDocument(order)); err != nil {
		return err
	}
	return nil
}

// Update replaces the stored document for the order.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	if _, err := r.base.Set(ctx, id, encodeOrderDocument(order)); err != nil {
		return err
	}
	return nil
}

// Delete removes an order document. Used only to roll back a tentative
// gateway order that the gateway never accepted.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("orders.delete", err)
	}
	return nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	query := coll.Query
	if uid := strings.TrimSpace(filter.UserID); uid != "" {
		query = query.Where("userId", "==", uid)
	}
	if sid := strings.TrimSpace(filter.SellerID); sid != "" {
		query = query.Where("sellerIds", "array-contains", sid)
	}
	if statuses := trimStatuses(filter.Status); len(statuses) > 0 {
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}
	if pageSize > maxOrderPageSize {
		pageSize = maxOrderPageSize
	}

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Limit(pageSize + 1).Documents(ctx)
	defer iter.Stop()

	orders := make([]domain.Order, 0, pageSize)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	var nextToken string
	if len(orders) > pageSize {
		orders = orders[:pageSize]
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt.UTC()})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// ExistsWithCoupon reports whether the user already placed an order carrying the coupon code.
func (r *OrderRepository) ExistsWithCoupon(ctx context.Context, userID string, couponCode string) (bool, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return false, err
	}
	uid := strings.TrimSpace(userID)
	code := strings.TrimSpace(couponCode)
	if uid == "" || code == "" {
		return false, nil
	}
	iter := coll.Where("userId", "==", uid).Where("couponApplied", "==", code).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil {
		if errors.Is(err, iterator.Done) {
			return false, nil
		}
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, pfirestore.WrapError("orders.existsWithCoupon", err)
	}
	return true, nil
}

// FinalizePayment applies a gateway outcome with a conditional update. The
// status check and the write happen inside one transaction, so a replayed
// callback observes applied=false instead of double-processing the order.
func (r *OrderRepository) FinalizePayment(ctx context.Context, orderID string, expectedStatus domain.OrderStatus, update repositories.PaymentFinalization) (domain.Order, bool, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, false, errors.New("order repository: order id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return domain.Order{}, false, err
	}

	var (
		result  domain.Order
		applied bool
	)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}

		if domain.OrderStatus(doc.Status) != expectedStatus {
			result = doc.toDomain(snap.Ref.ID)
			applied = false
			return nil
		}

		now := update.Now.UTC()
		doc.Status = string(update.Status)
		doc.PaymentResult = &paymentResultDocument{
			TransactionID: update.PaymentResult.TransactionID,
			Status:        string(update.PaymentResult.Status),
			UpdateTime:    update.PaymentResult.UpdateTime.UTC(),
		}
		if update.PaidAt != nil {
			paidAt := update.PaidAt.UTC()
			doc.PaidAt = &paidAt
		}
		if update.Status == domain.OrderStatusCancelled {
			doc.CancelledAt = &now
		}
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		result = doc.toDomain(snap.Ref.ID)
		applied = true
		return nil
	})
	if err != nil {
		return domain.Order{}, false, pfirestore.WrapError("orders.finalizePayment", err)
	}
	return result, applied, nil
}

func (r *OrderRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(orderCollection), nil
}

func trimStatuses(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type orderDocument struct {
	UserID             string                 `firestore:"userId"`
	Items              []orderItemDocument    `firestore:"items"`
	SellerIDs          []string               `firestore:"sellerIds"`
	ShippingAddress    addressSnapshotDoc     `firestore:"shippingAddress"`
	PaymentMethod      string                 `firestore:"paymentMethod"`
	ItemsPrice         float64                `firestore:"itemsPrice"`
	ShippingPrice      float64                `firestore:"shippingPrice"`
	DiscountAmount     float64                `firestore:"discountAmount"`
	TotalPrice         float64                `firestore:"totalPrice"`
	SettlementAmount   int64                  `firestore:"settlementAmount,omitempty"`
	SettlementCurrency string                 `firestore:"settlementCurrency,omitempty"`
	Status             string                 `firestore:"status"`
	PaymentResult      *paymentResultDocument `firestore:"paymentResult,omitempty"`
	CouponApplied      *string                `firestore:"couponApplied,omitempty"`
	PaidAt             *time.Time             `firestore:"paidAt,omitempty"`
	DeliveredAt        *time.Time             `firestore:"deliveredAt,omitempty"`
	CancelledAt        *time.Time             `firestore:"cancelledAt,omitempty"`
	CreatedAt          time.Time              `firestore:"createdAt"`
	UpdatedAt          time.Time              `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string  `firestore:"productId"`
	SellerID  string  `firestore:"sellerId"`
	Title     string  `firestore:"title"`
	Image     string  `firestore:"image,omitempty"`
	UnitPrice float64 `firestore:"unitPrice"`
	Quantity  int     `firestore:"quantity"`
}

type addressSnapshotDoc struct {
	FullName   string `firestore:"fullName"`
	Phone      string `firestore:"phone"`
	Line1      string `firestore:"line1"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

type paymentResultDocument struct {
	TransactionID string    `firestore:"transactionId"`
	Status        string    `firestore:"status"`
	UpdateTime    time.Time `firestore:"updateTime"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Title:     item.Title,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	doc := orderDocument{
		UserID:    order.UserID,
		Items:     items,
		SellerIDs: order.SellerIDs(),
		ShippingAddress: addressSnapshotDoc{
			FullName:   order.ShippingAddress.FullName,
			Phone:      order.ShippingAddress.Phone,
			Line1:      order.ShippingAddress.Line1,
			City:       order.ShippingAddress.City,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		},
		PaymentMethod:      string(order.PaymentMethod),
		ItemsPrice:         order.ItemsPrice,
		ShippingPrice:      order.ShippingPrice,
		DiscountAmount:     order.DiscountAmount,
		TotalPrice:         order.TotalPrice,
		SettlementAmount:   order.SettlementAmount,
		SettlementCurrency: order.SettlementCurrency,
		Status:             string(order.Status),
		CouponApplied:      order.CouponApplied,
		PaidAt:             timePtrUTC(order.PaidAt),
		DeliveredAt:        timePtrUTC(order.DeliveredAt),
		CancelledAt:        timePtrUTC(order.CancelledAt),
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
	}
	if order.PaymentResult != nil {
		doc.PaymentResult = &paymentResultDocument{
			TransactionID: order.PaymentResult.TransactionID,
			Status:        string(order.PaymentResult.Status),
			UpdateTime:    order.PaymentResult.UpdateTime.UTC(),
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Title:     item.Title,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	order := domain.Order{
		ID:     id,
		UserID: d.UserID,
		Items:  items,
		ShippingAddress: domain.AddressSnapshot{
			FullName:   d.ShippingAddress.FullName,
			Phone:      d.ShippingAddress.Phone,
			Line1:      d.ShippingAddress.Line1,
			City:       d.ShippingAddress.City,
			PostalCode: d.ShippingAddress.PostalCode,
			Country:    d.ShippingAddress.Country,
		},
		PaymentMethod:      domain.PaymentMethod(d.PaymentMethod),
		ItemsPrice:         d.ItemsPrice,
		ShippingPrice:      d.ShippingPrice,
		DiscountAmount:     d.DiscountAmount,
		TotalPrice:         d.TotalPrice,
		SettlementAmount:   d.SettlementAmount,
		SettlementCurrency: d.SettlementCurrency,
		Status:             domain.OrderStatus(d.Status),
		CouponApplied:      d.CouponApplied,
		PaidAt:             d.PaidAt,
		DeliveredAt:        d.DeliveredAt,
		CancelledAt:        d.CancelledAt,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
	if d.PaymentResult != nil {
		order.PaymentResult = &domain.PaymentResult{
			TransactionID: d.PaymentResult.TransactionID,
			Status:        domain.PaymentResultStatus(d.PaymentResult.Status),
			UpdateTime:    d.PaymentResult.UpdateTime,
		}
	}
	return order
}

func timePtrUTC(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}

type orderPageToken struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	raw, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeOrderPageToken(encoded string) (orderPageToken, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return orderPageToken{}, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return orderPageToken{}, fmt.Errorf("decode order page token: %w", err)
	}
	return token, nil
}

// Ensure interface compliance.
var _ repositories.OrderRepository = (*OrderRepository)(nil)
