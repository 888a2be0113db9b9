package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/marketbay/api/internal/domain"
	pfirestore "github.com/marketbay/api/internal/platform/firestore"
	"github.com/marketbay/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository reads catalog products and owns the stock mutations for
// the order path. Catalog CRUD lives in a separate service.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection,
		pfirestore.IdentityEncoder[productDocument](), pfirestore.StructDecoder[productDocument]())
	return &ProductRepository{provider: provider, base: base}, nil
}

// FindByID loads a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// DecrementStock subtracts the requested quantities inside one transaction.
// Every line is read and checked before any write, so either all products are
// decremented or none are, and no product ever drops below zero.
func (r *ProductRepository) DecrementStock(ctx context.Context, lines []repositories.StockLine, now time.Time) error {
	return r.adjustStock(ctx, lines, now, -1)
}

// RestoreStock adds the quantities back after a rolled-back order.
func (r *ProductRepository) RestoreStock(ctx context.Context, lines []repositories.StockLine, now time.Time) error {
	return r.adjustStock(ctx, lines, now, +1)
}

func (r *ProductRepository) adjustStock(ctx context.Context, lines []repositories.StockLine, now time.Time, sign int) error {
	merged, err := mergeStockLines(lines)
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		return nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	coll := client.Collection(productCollection)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pending struct {
			ref   *firestore.DocumentRef
			stock int
		}
		writes := make([]pending, 0, len(merged))
		for _, line := range merged {
			ref := coll.Doc(line.ProductID)
			snap, err := tx.Get(ref)
			if err != nil {
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
			}
			next := doc.Stock + sign*line.Quantity
			if next < 0 {
				return fmt.Errorf("%w: product %s has %d, requested %d", repositories.ErrInsufficientStock, line.ProductID, doc.Stock, line.Quantity)
			}
			writes = append(writes, pending{ref: ref, stock: next})
		}
		for _, w := range writes {
			if err := tx.Update(w.ref, []firestore.Update{
				{Path: "stock", Value: w.stock},
				{Path: "updatedAt", Value: now.UTC()},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrInsufficientStock) {
			return err
		}
		return pfirestore.WrapError("products.adjustStock", err)
	}
	return nil
}

func mergeStockLines(lines []repositories.StockLine) ([]repositories.StockLine, error) {
	byProduct := make(map[string]int, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, errors.New("product repository: stock line requires product id")
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("product repository: stock line for %s requires positive quantity", id)
		}
		byProduct[id] += line.Quantity
	}
	merged := make([]repositories.StockLine, 0, len(byProduct))
	for id, qty := range byProduct {
		merged = append(merged, repositories.StockLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged, nil
}

type productDocument struct {
	SellerID  string    `firestore:"sellerId"`
	Title     string    `firestore:"title"`
	Image     string    `firestore:"image,omitempty"`
	Price     float64   `firestore:"price"`
	Stock     int       `firestore:"stock"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:        id,
		SellerID:  d.SellerID,
		Title:     d.Title,
		Image:     d.Image,
		Price:     d.Price,
		Stock:     d.Stock,
		UpdatedAt: d.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.ProductRepository = (*ProductRepository)(nil)
