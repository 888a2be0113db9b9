package firestore

import (
	"context"
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
	returnCollection      = "returnRequests"
	defaultReturnPageSize = 20
	maxReturnPageSize     = 100
)

// ReturnRepository persists return requests in Firestore.
type ReturnRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[returnDocument]
}

// NewReturnRepository constructs a Firestore-backed return repository.
func NewReturnRepository(provider *pfirestore.Provider) (*ReturnRepository, error) {
	if provider == nil {
		return nil, errors.New("return repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[returnDocument](provider, returnCollection,
		pfirestore.IdentityEncoder[returnDocument](), pfirestore.StructDecoder[returnDocument]())
	return &ReturnRepository{provider: provider, base: base}, nil
}

// Insert writes a new return request keyed by its id.
func (r *ReturnRepository) Insert(ctx context.Context, request domain.ReturnRequest) error {
	id := strings.TrimSpace(request.ID)
	if id == "" {
		return errors.New("return repository: return id is required")
	}
	if _, err := r.base.Set(ctx, id, encodeReturnDocument(request)); err != nil {
		return err
	}
	return nil
}

// Update replaces the stored document for the request.
func (r *ReturnRepository) Update(ctx context.Context, request domain.ReturnRequest) error {
	id := strings.TrimSpace(request.ID)
	if id == "" {
		return errors.New("return repository: return id is required")
	}
	if _, err := r.base.Set(ctx, id, encodeReturnDocument(request)); err != nil {
		return err
	}
	return nil
}

// FindByID loads a single return request.
func (r *ReturnRepository) FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	id := strings.TrimSpace(returnID)
	if id == "" {
		return domain.ReturnRequest{}, errors.New("return repository: return id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByOrderAndProduct looks for an existing request covering the same order
// scope. A nil productID matches whole-order requests only.
func (r *ReturnRepository) FindByOrderAndProduct(ctx context.Context, orderID string, productID *string) (domain.ReturnRequest, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	oid := strings.TrimSpace(orderID)
	if oid == "" {
		return domain.ReturnRequest{}, errors.New("return repository: order id is required")
	}
	query := coll.Where("orderId", "==", oid)
	if productID != nil && strings.TrimSpace(*productID) != "" {
		query = query.Where("productId", "==", strings.TrimSpace(*productID))
	} else {
		query = query.Where("productId", "==", "")
	}
	iter := query.Limit(1).Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.ReturnRequest{}, pfirestore.WrapError("returns.findByOrder", status.Errorf(codes.NotFound, "return for order %s not found", oid))
	}
	if err != nil {
		return domain.ReturnRequest{}, pfirestore.WrapError("returns.findByOrder", err)
	}
	var doc returnDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.ReturnRequest{}, fmt.Errorf("decode return %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// List returns requests matching the filter, newest first.
func (r *ReturnRepository) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, err
	}

	query := coll.Query
	if uid := strings.TrimSpace(filter.UserID); uid != "" {
		query = query.Where("userId", "==", uid)
	}
	if oid := strings.TrimSpace(filter.OrderID); oid != "" {
		query = query.Where("orderId", "==", oid)
	}
	if statuses := trimStatuses(filter.Status); len(statuses) > 0 {
		query = query.Where("status", "in", statuses)
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultReturnPageSize
	}
	if pageSize > maxReturnPageSize {
		pageSize = maxReturnPageSize
	}

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, err
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Limit(pageSize + 1).Documents(ctx)
	defer iter.Stop()

	requests := make([]domain.ReturnRequest, 0, pageSize)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, pfirestore.WrapError("returns.list", err)
		}
		var doc returnDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, fmt.Errorf("decode return %s: %w", snap.Ref.ID, err)
		}
		requests = append(requests, doc.toDomain(snap.Ref.ID))
	}

	var nextToken string
	if len(requests) > pageSize {
		requests = requests[:pageSize]
		last := requests[len(requests)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt.UTC()})
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, err
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.ReturnRequest]{Items: requests, NextPageToken: nextToken}, nil
}

func (r *ReturnRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("return repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(returnCollection), nil
}

type returnDocument struct {
	OrderID         string     `firestore:"orderId"`
	UserID          string     `firestore:"userId"`
	ProductID       string     `firestore:"productId"`
	Reason          string     `firestore:"reason"`
	Status          string     `firestore:"status"`
	ResolutionNotes *string    `firestore:"resolutionNotes,omitempty"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	UpdatedAt       time.Time  `firestore:"updatedAt"`
}

func encodeReturnDocument(request domain.ReturnRequest) returnDocument {
	doc := returnDocument{
		OrderID:         request.OrderID,
		UserID:          request.UserID,
		Reason:          request.Reason,
		Status:          string(request.Status),
		ResolutionNotes: request.ResolutionNotes,
		CreatedAt:       request.CreatedAt.UTC(),
		UpdatedAt:       request.UpdatedAt.UTC(),
	}
	if request.ProductID != nil {
		doc.ProductID = strings.TrimSpace(*request.ProductID)
	}
	return doc
}

func (d returnDocument) toDomain(id string) domain.ReturnRequest {
	request := domain.ReturnRequest{
		ID:              id,
		OrderID:         d.OrderID,
		UserID:          d.UserID,
		Reason:          d.Reason,
		Status:          domain.ReturnStatus(d.Status),
		ResolutionNotes: d.ResolutionNotes,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if strings.TrimSpace(d.ProductID) != "" {
		productID := d.ProductID
		request.ProductID = &productID
	}
	return request
}

// Ensure interface compliance.
var _ repositories.ReturnRepository = (*ReturnRepository)(nil)
