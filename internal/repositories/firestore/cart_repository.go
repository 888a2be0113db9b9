package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/marketbay/api/internal/domain"
	pfirestore "github.com/marketbay/api/internal/platform/firestore"
	"github.com/marketbay/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository stores one cart document per user, keyed by the user id.
type CartRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection,
		pfirestore.IdentityEncoder[cartDocument](), pfirestore.StructDecoder[cartDocument]())
	return &CartRepository{provider: provider, base: base}, nil
}

// GetByUser loads the user's cart. A user without a cart document gets an empty cart.
func (r *CartRepository) GetByUser(ctx context.Context, userID string) (domain.Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Cart{ID: uid, UserID: uid}, nil
		}
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Clear drops every line from the user's cart.
func (r *CartRepository) Clear(ctx context.Context, userID string, now time.Time) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}
	if _, err := r.base.Set(ctx, uid, cartDocument{
		UserID:    uid,
		Items:     []cartItemDocument{},
		UpdatedAt: now.UTC(),
	}); err != nil {
		return err
	}
	return nil
}

// RemoveItems drops the named products from the user's cart, leaving other
// lines intact. A missing cart is treated as already-empty.
func (r *CartRepository) RemoveItems(ctx context.Context, userID string, productIDs []string, now time.Time) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}
	if len(productIDs) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			drop[trimmed] = struct{}{}
		}
	}

	ref, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return err
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var doc cartDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode cart %s: %w", snap.Ref.ID, err)
		}
		kept := make([]cartItemDocument, 0, len(doc.Items))
		for _, item := range doc.Items {
			if _, ok := drop[item.ProductID]; ok {
				continue
			}
			kept = append(kept, item)
		}
		if len(kept) == len(doc.Items) {
			return nil
		}
		doc.Items = kept
		doc.UpdatedAt = now.UTC()
		return tx.Set(ref, doc)
	})
	if err != nil {
		return pfirestore.WrapError("carts.removeItems", err)
	}
	return nil
}

type cartDocument struct {
	UserID    string             `firestore:"userId"`
	Items     []cartItemDocument `firestore:"items"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"quantity"`
}

func (d cartDocument) toDomain(id string) domain.Cart {
	items := make([]domain.CartItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.CartItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return domain.Cart{ID: id, UserID: d.UserID, Items: items, UpdatedAt: d.UpdatedAt}
}

// Ensure interface compliance.
var _ repositories.CartRepository = (*CartRepository)(nil)
