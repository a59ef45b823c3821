// Package cart holds per-user shopping carts. Each user's cart is an
// independently locked aggregate; carts are created on first write and
// emptied, never deleted, after checkout.
package cart

import (
	"errors"
	"time"
)

// Item is one cart line.
type Item struct {
	ProductID string    `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

// NewItem constructs an Item with validation on input fields.
func NewItem(productID string, quantity int64, addedAt time.Time) (Item, error) {
	if productID == "" {
		return Item{}, ErrInvalidProductID
	}

	if quantity < 1 {
		return Item{}, ErrInvalidQuantity
	}

	return Item{
		ProductID: productID,
		Quantity:  quantity,
		AddedAt:   addedAt,
	}, nil
}

var (
	ErrInvalidProductID = errors.New("product id is required")
	ErrInvalidQuantity  = errors.New("quantity must be at least 1")
	ErrInvalidUserID    = errors.New("user id is required")
)
