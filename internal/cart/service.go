package cart

import (
	"context"
	"time"
)

// Store persists carts keyed by user id. Adding an item that is already in
// the cart merges the quantity into the existing line and refreshes AddedAt.
type Store interface {
	AddItem(ctx context.Context, userID string, item Item) error
	Items(ctx context.Context, userID string) ([]Item, error)
	Empty(ctx context.Context, userID string) error
}

// Service validates cart requests and forwards them to the configured store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService constructs a Service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// AddItem adds the product to the user's cart, merging with an existing line.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int64) error {
	if userID == "" {
		return ErrInvalidUserID
	}

	item, err := NewItem(productID, quantity, s.now().UTC())
	if err != nil {
		return err
	}

	return s.store.AddItem(ctx, userID, item)
}

// GetItems returns the cart's lines in insertion order.
func (s *Service) GetItems(ctx context.Context, userID string) ([]Item, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	return s.store.Items(ctx, userID)
}

// EmptyCart removes every line from the user's cart.
func (s *Service) EmptyCart(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	return s.store.Empty(ctx, userID)
}
