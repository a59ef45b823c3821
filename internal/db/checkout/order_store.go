// Package checkoutdb persists placed orders in Postgres.
package checkoutdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"boutique/internal/cart"
	"boutique/internal/checkout"
	"boutique/internal/money"
)

// OrderStore persists the order history in Postgres.
type OrderStore struct {
	db *sql.DB
}

// NewOrderStore constructs an OrderStore backed by Postgres.
func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

// NewOrderStoreWithSchema initializes the schema then returns the store.
func NewOrderStoreWithSchema(ctx context.Context, db *sql.DB) (*OrderStore, error) {
	store := NewOrderStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the order tables if they do not exist.
func (s *OrderStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			shipping_currency TEXT NOT NULL,
			shipping_units BIGINT NOT NULL,
			shipping_nanos INTEGER NOT NULL,
			street_address TEXT NOT NULL,
			city TEXT NOT NULL,
			state TEXT NOT NULL,
			country TEXT NOT NULL,
			zip_code TEXT NOT NULL,
			placed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id BIGSERIAL PRIMARY KEY,
			order_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			quantity BIGINT NOT NULL,
			added_at TIMESTAMPTZ NOT NULL,
			cost_currency TEXT NOT NULL,
			cost_units BIGINT NOT NULL,
			cost_nanos INTEGER NOT NULL,
			FOREIGN KEY (order_id) REFERENCES orders(order_id) ON DELETE CASCADE
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// Append records the order and its items in one transaction.
func (s *OrderStore) Append(ctx context.Context, userID string, order checkout.OrderResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (order_id, user_id, shipping_currency, shipping_units, shipping_nanos,
			street_address, city, state, country, zip_code, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		order.OrderID, userID,
		order.ShippingCost.CurrencyCode, order.ShippingCost.Units, order.ShippingCost.Nanos,
		order.ShippingAddress.StreetAddress, order.ShippingAddress.City, order.ShippingAddress.State,
		order.ShippingAddress.Country, order.ShippingAddress.ZipCode,
		order.PlacedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, added_at, cost_currency, cost_units, cost_nanos)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			order.OrderID, item.Item.ProductID, item.Item.Quantity, item.Item.AddedAt,
			item.Cost.CurrencyCode, item.Cost.Units, item.Cost.Nanos,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// Orders lists the recorded orders, newest first, items included.
func (s *OrderStore) Orders(ctx context.Context) ([]checkout.OrderResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, shipping_currency, shipping_units, shipping_nanos,
			street_address, city, state, country, zip_code, placed_at
		FROM orders
		ORDER BY placed_at DESC, order_id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []checkout.OrderResult
	for rows.Next() {
		var order checkout.OrderResult
		var placedAt time.Time
		err := rows.Scan(&order.OrderID,
			&order.ShippingCost.CurrencyCode, &order.ShippingCost.Units, &order.ShippingCost.Nanos,
			&order.ShippingAddress.StreetAddress, &order.ShippingAddress.City, &order.ShippingAddress.State,
			&order.ShippingAddress.Country, &order.ShippingAddress.ZipCode,
			&placedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		order.PlacedAt = placedAt.UTC()
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := s.orderItems(ctx, orders[i].OrderID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

func (s *OrderStore) orderItems(ctx context.Context, orderID string) ([]checkout.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, quantity, added_at, cost_currency, cost_units, cost_nanos
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []checkout.OrderItem
	for rows.Next() {
		var item cart.Item
		var cost money.Money
		var addedAt time.Time
		if err := rows.Scan(&item.ProductID, &item.Quantity, &addedAt, &cost.CurrencyCode, &cost.Units, &cost.Nanos); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.AddedAt = addedAt.UTC()
		items = append(items, checkout.OrderItem{Item: item, Cost: cost})
	}

	return items, rows.Err()
}
