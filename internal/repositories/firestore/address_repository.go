package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/marketbay/api/internal/domain"
	pfirestore "github.com/marketbay/api/internal/platform/firestore"
	"github.com/marketbay/api/internal/repositories"
)

const addressCollectionPattern = "users/%s/addresses"

// AddressRepository reads stored address-book entries. Address CRUD is owned
// by the profile service; the order path only resolves a destination.
type AddressRepository struct {
	provider *pfirestore.Provider
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

// Get loads a single address owned by the user. Scoping the lookup to the
// user's subcollection makes ownership part of the key.
func (r *AddressRepository) Get(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}
	snap, err := coll.Doc(id).Get(ctx)
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.get", err)
	}
	var doc addressDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Address{}, fmt.Errorf("decode address %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(strings.TrimSpace(userID), snap.Ref.ID), nil
}

func (r *AddressRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("address repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("address repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(addressCollectionPattern, uid)), nil
}

type addressDocument struct {
	FullName   string    `firestore:"fullName"`
	Phone      string    `firestore:"phone"`
	Line1      string    `firestore:"line1"`
	City       string    `firestore:"city"`
	PostalCode string    `firestore:"postalCode"`
	Country    string    `firestore:"country"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func (d addressDocument) toDomain(userID, id string) domain.Address {
	return domain.Address{
		ID:         id,
		UserID:     userID,
		FullName:   d.FullName,
		Phone:      d.Phone,
		Line1:      d.Line1,
		City:       d.City,
		PostalCode: d.PostalCode,
		Country:    d.Country,
		UpdatedAt:  d.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.AddressRepository = (*AddressRepository)(nil)
