// Package catalog serves the static product list the shop sells. The list
// ships embedded in the binary; lookups are read-only.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"boutique/internal/money"
)

//go:embed products.json
var productsJSON []byte

// ErrProductNotFound is returned for unknown product ids.
var ErrProductNotFound = errors.New("product not found")

// Product describes one sellable item.
type Product struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Picture     string      `json:"picture"`
	Price       money.Money `json:"price"`
}

// Catalog is an in-memory product lookup.
type Catalog struct {
	products []Product
	byID     map[string]Product
}

// Load parses the embedded product list.
func Load() (*Catalog, error) {
	var doc struct {
		Products []Product `json:"products"`
	}
	if err := json.Unmarshal(productsJSON, &doc); err != nil {
		return nil, fmt.Errorf("parse products: %w", err)
	}

	byID := make(map[string]Product, len(doc.Products))
	for _, p := range doc.Products {
		if p.ID == "" {
			return nil, errors.New("product with empty id")
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate product id %q", p.ID)
		}
		byID[p.ID] = p
	}

	return &Catalog{products: doc.Products, byID: byID}, nil
}

// GetProduct returns the product with the given id.
func (c *Catalog) GetProduct(id string) (Product, error) {
	p, ok := c.byID[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %q", ErrProductNotFound, id)
	}
	return p, nil
}

// ListProducts returns all products in catalog order.
func (c *Catalog) ListProducts() []Product {
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}
