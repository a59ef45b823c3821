package checkoutdb

import (
	"context"
	"testing"
	"time"

	"boutique/internal/cart"
	"boutique/internal/checkout"
	"boutique/internal/money"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMock(t *testing.T) (*OrderStore, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		mock.ExpectClose()
		if err := sqlDB.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	})

	return NewOrderStore(sqlDB), mock
}

func sampleOrder(placedAt time.Time) checkout.OrderResult {
	return checkout.OrderResult{
		OrderID:      "order-1",
		ShippingCost: money.Money{CurrencyCode: "USD", Units: 8, Nanos: 990000000},
		ShippingAddress: checkout.Address{
			StreetAddress: "42 Main St",
			City:          "Springfield",
			State:         "OR",
			Country:       "USA",
			ZipCode:       "97403",
		},
		Items: []checkout.OrderItem{
			{
				Item: cart.Item{ProductID: "OLJCESPC7Z", Quantity: 3, AddedAt: placedAt.Add(-time.Minute)},
				Cost: money.Money{CurrencyCode: "USD", Units: 19, Nanos: 990000000},
			},
		},
		PlacedAt: placedAt,
	}
}

func TestInitSchema(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS orders").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS order_items").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
}

func TestAppendWritesOrderAndItemsInOneTx(t *testing.T) {
	store, mock := newMock(t)
	placedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	order := sampleOrder(placedAt)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").
		WithArgs("order-1", "user-1", "USD", int64(8), int32(990000000),
			"42 Main St", "Springfield", "OR", "USA", "97403", placedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").
		WithArgs("order-1", "OLJCESPC7Z", int64(3), placedAt.Add(-time.Minute), "USD", int64(19), int32(990000000)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := store.Append(context.Background(), "user-1", order); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestAppendRollsBackOnItemFailure(t *testing.T) {
	store, mock := newMock(t)
	placedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	order := sampleOrder(placedAt)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	if err := store.Append(context.Background(), "user-1", order); err == nil {
		t.Fatal("expected append to fail")
	}
}

func TestOrdersNewestFirstWithItems(t *testing.T) {
	store, mock := newMock(t)
	newer := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	older := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	orderCols := []string{
		"order_id", "shipping_currency", "shipping_units", "shipping_nanos",
		"street_address", "city", "state", "country", "zip_code", "placed_at",
	}
	itemCols := []string{"product_id", "quantity", "added_at", "cost_currency", "cost_units", "cost_nanos"}

	mock.ExpectQuery("SELECT order_id, shipping_currency").
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow("order-2", "USD", int64(8), int32(990000000), "42 Main St", "Springfield", "OR", "USA", "97403", newer).
			AddRow("order-1", "USD", int64(8), int32(990000000), "42 Main St", "Springfield", "OR", "USA", "97403", older))
	mock.ExpectQuery("SELECT product_id, quantity").
		WithArgs("order-2").
		WillReturnRows(sqlmock.NewRows(itemCols).
			AddRow("OLJCESPC7Z", int64(3), older, "USD", int64(19), int32(990000000)))
	mock.ExpectQuery("SELECT product_id, quantity").
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows(itemCols))

	orders, err := store.Orders(context.Background())
	if err != nil {
		t.Fatalf("orders: %v", err)
	}

	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].OrderID != "order-2" || orders[1].OrderID != "order-1" {
		t.Fatalf("wrong order: %s, %s", orders[0].OrderID, orders[1].OrderID)
	}
	if len(orders[0].Items) != 1 {
		t.Fatalf("expected 1 item on order-2, got %d", len(orders[0].Items))
	}
	if got := orders[0].Items[0].Item.ProductID; got != "OLJCESPC7Z" {
		t.Fatalf("wrong product: %s", got)
	}
	if len(orders[1].Items) != 0 {
		t.Fatalf("expected no items on order-1, got %d", len(orders[1].Items))
	}
}
