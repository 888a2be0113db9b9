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

const couponCollection = "coupons"

// CouponRepository stores discount codes keyed by their unique code.
type CouponRepository struct {
	provider *pfirestore.Provider
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{provider: provider}, nil
}

// FindByCode loads the coupon carrying the code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Coupon{}, err
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}
	iter := coll.Where("code", "==", trimmed).Limit(1).Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Coupon{}, pfirestore.WrapError("coupons.findByCode", status.Errorf(codes.NotFound, "coupon %s not found", trimmed))
	}
	if err != nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.findByCode", err)
	}
	return decodeCouponSnapshot(snap)
}

// IncrementUsage bumps timesUsed by one inside a transaction. The read and
// the write share the transaction, so timesUsed can never pass maxUsage even
// under concurrent checkouts.
func (r *CouponRepository) IncrementUsage(ctx context.Context, code string, now time.Time) (domain.Coupon, error) {
	return r.adjustUsage(ctx, code, now, +1)
}

// ReleaseUsage undoes a prior increment when the order is rolled back. The
// counter never drops below zero.
func (r *CouponRepository) ReleaseUsage(ctx context.Context, code string, now time.Time) (domain.Coupon, error) {
	return r.adjustUsage(ctx, code, now, -1)
}

func (r *CouponRepository) adjustUsage(ctx context.Context, code string, now time.Time, delta int) (domain.Coupon, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Coupon{}, err
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}

	var saved domain.Coupon
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		query := coll.Where("code", "==", trimmed).Limit(1)
		snaps, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			return status.Errorf(codes.NotFound, "coupon %s not found", trimmed)
		}
		snap := snaps[0]
		var doc couponDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode coupon %s: %w", snap.Ref.ID, err)
		}

		// A zero maxUsage means the coupon has no usage ceiling.
		next := doc.TimesUsed + delta
		if delta > 0 && doc.MaxUsage > 0 && next > doc.MaxUsage {
			return fmt.Errorf("%w: coupon %s used %d of %d", repositories.ErrCouponExhausted, trimmed, doc.TimesUsed, doc.MaxUsage)
		}
		if next < 0 {
			next = 0
		}

		if err := tx.Update(snap.Ref, []firestore.Update{
			{Path: "timesUsed", Value: next},
			{Path: "updatedAt", Value: now.UTC()},
		}); err != nil {
			return err
		}
		doc.TimesUsed = next
		doc.UpdatedAt = now.UTC()
		saved = doc.toDomain(snap.Ref.ID)
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrCouponExhausted) {
			return domain.Coupon{}, err
		}
		return domain.Coupon{}, pfirestore.WrapError("coupons.adjustUsage", err)
	}
	return saved, nil
}

func (r *CouponRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("coupon repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(couponCollection), nil
}

func decodeCouponSnapshot(snap *firestore.DocumentSnapshot) (domain.Coupon, error) {
	var doc couponDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Coupon{}, fmt.Errorf("decode coupon %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

type couponDocument struct {
	Code            string    `firestore:"code"`
	DiscountPercent float64   `firestore:"discountPercent"`
	StartDate       time.Time `firestore:"startDate"`
	EndDate         time.Time `firestore:"endDate"`
	MaxUsage        int       `firestore:"maxUsage"`
	TimesUsed       int       `firestore:"timesUsed"`
	MinOrderAmount  float64   `firestore:"minOrderAmount"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	return domain.Coupon{
		ID:              id,
		Code:            d.Code,
		DiscountPercent: d.DiscountPercent,
		StartDate:       d.StartDate,
		EndDate:         d.EndDate,
		MaxUsage:        d.MaxUsage,
		TimesUsed:       d.TimesUsed,
		MinOrderAmount:  d.MinOrderAmount,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.CouponRepository = (*CouponRepository)(nil)
