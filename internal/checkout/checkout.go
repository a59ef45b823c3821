// Package checkout orchestrates the place-order saga. The saga has no
// cross-actor transaction: its step order is what makes partial failure
// safe. Everything before the shipping-quote consumption is a side-effect
// free read and can be replayed; consuming the quote is the commit point,
// after which the cart is emptied, the order durably recorded, and the
// confirmation email enqueued as a durable task.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"boutique/internal/cart"
	"boutique/internal/catalog"
	"boutique/internal/mail"
	"boutique/internal/money"
	"boutique/internal/tasks"

	"github.com/google/uuid"
)

// Address is where the order ships.
type Address struct {
	StreetAddress string `json:"street_address"`
	City          string `json:"city"`
	State         string `json:"state"`
	Country       string `json:"country"`
	ZipCode       string `json:"zip_code"`
}

// OrderItem is one cart line priced in the order's currency.
type OrderItem struct {
	Item cart.Item   `json:"item"`
	Cost money.Money `json:"cost"`
}

// OrderResult is the immutable record of a placed order.
type OrderResult struct {
	OrderID         string      `json:"order_id"`
	ShippingCost    money.Money `json:"shipping_cost"`
	ShippingAddress Address     `json:"shipping_address"`
	Items           []OrderItem `json:"items"`
	PlacedAt        time.Time   `json:"placed_at"`
}

// PlaceOrderRequest carries everything PlaceOrder needs.
type PlaceOrderRequest struct {
	UserID   string
	Currency string
	Address  Address
	QuoteID  string
	Email    string
}

// CartClient is the slice of the cart service the saga uses.
type CartClient interface {
	GetItems(ctx context.Context, userID string) ([]cart.Item, error)
	EmptyCart(ctx context.Context, userID string) error
}

// ProductCatalog resolves product metadata.
type ProductCatalog interface {
	GetProduct(id string) (catalog.Product, error)
}

// Converter converts prices into the order currency.
type Converter interface {
	Convert(m money.Money, toCode string) (money.Money, error)
}

// ShippingClient consumes shipping quotes.
type ShippingClient interface {
	PrepareShipOrder(ctx context.Context, quoteID string) (string, error)
	QuoteCost(quoteID string) (money.Money, bool)
}

// EmailSender enqueues durable confirmation emails.
type EmailSender interface {
	PrepareSend(ctx context.Context, req mail.SendRequest) (tasks.Handle, error)
}

// OrderStore durably appends orders and lists them newest first.
type OrderStore interface {
	Append(ctx context.Context, userID string, order OrderResult) error
	Orders(ctx context.Context) ([]OrderResult, error)
}

// EventPublisher observes placed orders (realtime feed, logging fanout).
type EventPublisher interface {
	OrderPlaced(ctx context.Context, order OrderResult) error
}

// ErrInvalidRequest rejects malformed place-order input.
var ErrInvalidRequest = errors.New("invalid place-order request")

// Service is the checkout orchestrator.
type Service struct {
	carts     CartClient
	catalog   ProductCatalog
	converter Converter
	shipping  ShippingClient
	emails    EmailSender
	store     OrderStore
	publisher EventPublisher
	logger    *slog.Logger
	sender    string
	now       func() time.Time
	newID     func() string
}

// ServiceOption tweaks Service construction.
type ServiceOption func(*Service)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithSender sets the confirmation email From header.
func WithSender(sender string) ServiceOption {
	return func(s *Service) { s.sender = sender }
}

// WithPublisher attaches an order event publisher.
func WithPublisher(publisher EventPublisher) ServiceOption {
	return func(s *Service) { s.publisher = publisher }
}

// NewService constructs the checkout orchestrator.
func NewService(
	carts CartClient,
	productCatalog ProductCatalog,
	converter Converter,
	shipping ShippingClient,
	emails EmailSender,
	store OrderStore,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		carts:     carts,
		catalog:   productCatalog,
		converter: converter,
		shipping:  shipping,
		emails:    emails,
		store:     store,
		logger:    slog.Default(),
		sender:    "Boutique <orders@boutique.example.com>",
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder runs the saga. Step order is load-bearing:
//
//  1. read the cart;
//  2. resolve and convert each item's price (pure reads, replayable);
//  3. consume the shipping quote, the commit point. A rejection here is a
//     business outcome and nothing has been mutated yet, so the whole call
//     is trivially restartable with a fresh quote;
//  4. empty the cart (not undoable);
//  5. append the order record;
//  6. enqueue the confirmation email task. Failures from here on are logged
//     and retried out of band, never reported as "order not placed".
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (OrderResult, error) {
	if req.UserID == "" || req.Currency == "" || req.QuoteID == "" {
		return OrderResult{}, fmt.Errorf("%w: user id, currency, and quote are required", ErrInvalidRequest)
	}

	items, err := s.carts.GetItems(ctx, req.UserID)
	if err != nil {
		return OrderResult{}, fmt.Errorf("read cart: %w", err)
	}

	orderItems := make([]OrderItem, 0, len(items))
	for _, item := range items {
		product, err := s.catalog.GetProduct(item.ProductID)
		if err != nil {
			return OrderResult{}, err
		}
		cost, err := s.converter.Convert(product.Price, req.Currency)
		if err != nil {
			return OrderResult{}, err
		}
		orderItems = append(orderItems, OrderItem{Item: item, Cost: cost})
	}

	shippingCost, _ := s.shipping.QuoteCost(req.QuoteID)

	if _, err := s.shipping.PrepareShipOrder(ctx, req.QuoteID); err != nil {
		// Quote missing or expired is a legitimate business outcome; either
		// way nothing has been mutated yet.
		return OrderResult{}, err
	}

	// Committed. From here the saga is driven forward, not rolled back.
	if err := s.carts.EmptyCart(ctx, req.UserID); err != nil {
		return OrderResult{}, fmt.Errorf("empty cart after quote consumption: %w", err)
	}

	order := OrderResult{
		OrderID:         s.newID(),
		ShippingCost:    shippingCost,
		ShippingAddress: req.Address,
		Items:           orderItems,
		PlacedAt:        s.now().UTC(),
	}

	if err := s.store.Append(ctx, req.UserID, order); err != nil {
		return OrderResult{}, fmt.Errorf("record order: %w", err)
	}

	s.sendConfirmation(ctx, order, req.Email)
	s.publish(ctx, order)

	s.logger.Info("order placed", "order_id", order.OrderID, "user_id", req.UserID, "email", req.Email)
	return order, nil
}

// Orders returns the order history, newest first.
func (s *Service) Orders(ctx context.Context) ([]OrderResult, error) {
	return s.store.Orders(ctx)
}

// sendConfirmation enqueues the confirmation email. The order is already
// durable, so an enqueue failure is logged, never surfaced to the caller.
func (s *Service) sendConfirmation(ctx context.Context, order OrderResult, email string) {
	if email == "" {
		return
	}

	body, err := RenderConfirmation(order)
	if err != nil {
		s.logger.Error("render confirmation email", "order_id", order.OrderID, "error", err)
		return
	}

	_, err = s.emails.PrepareSend(ctx, mail.SendRequest{
		Recipient: email,
		Sender:    s.sender,
		Subject:   "Thanks for your order!",
		HTML:      body,
	})
	if err != nil {
		s.logger.Error("enqueue confirmation email", "order_id", order.OrderID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, order OrderResult) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.OrderPlaced(ctx, order); err != nil {
		s.logger.Warn("publish order event", "order_id", order.OrderID, "error", err)
	}
}
