package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/marketbay/api/internal/platform/firestore"
	"github.com/marketbay/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry accessors.
type Registry struct {
	provider *pfirestore.Provider

	orders        *OrderRepository
	products      *ProductRepository
	coupons       *CouponRepository
	returns       *ReturnRepository
	notifications *NotificationRepository
	carts         *CartRepository
	addresses     *AddressRepository
	health        repositories.HealthRepository
}

// RegistryOption customises the registry construction.
type RegistryOption func(*Registry)

// WithHealthRepository attaches the dependency-probe repository exposed via Health().
func WithHealthRepository(repo repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = repo
	}
}

// NewRegistry constructs every Firestore repository over the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	returns, err := NewReturnRepository(provider)
	if err != nil {
		return nil, err
	}
	notifications, err := NewNotificationRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	addresses, err := NewAddressRepository(provider)
	if err != nil {
		return nil, err
	}

	registry := &Registry{
		provider:      provider,
		orders:        orders,
		products:      products,
		coupons:       coupons,
		returns:       returns,
		notifications: notifications,
		carts:         carts,
		addresses:     addresses,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// RunInTx executes fn as a single unit. The individual repositories already
// guard their multi-document writes with Firestore transactions, so the
// registry only provides sequencing here.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) Products() repositories.ProductRepository           { return r.products }
func (r *Registry) Coupons() repositories.CouponRepository             { return r.coupons }
func (r *Registry) Returns() repositories.ReturnRepository             { return r.returns }
func (r *Registry) Notifications() repositories.NotificationRepository { return r.notifications }
func (r *Registry) Carts() repositories.CartRepository                 { return r.carts }
func (r *Registry) Addresses() repositories.AddressRepository          { return r.addresses }
func (r *Registry) Health() repositories.HealthRepository              { return r.health }

// Ensure interface compliance.
var _ repositories.Registry = (*Registry)(nil)
