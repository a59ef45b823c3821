// Package httptransport exposes the storefront over JSON HTTP.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"boutique/internal/cart"
	"boutique/internal/catalog"
	"boutique/internal/checkout"
	"boutique/internal/money"
	"boutique/internal/observability"
	"boutique/internal/realtime"
	"boutique/internal/reliability"
	"boutique/internal/shipping"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// CartService is the cart surface the transport serves.
type CartService interface {
	AddItem(ctx context.Context, userID, productID string, quantity int64) error
	GetItems(ctx context.Context, userID string) ([]cart.Item, error)
	EmptyCart(ctx context.Context, userID string) error
}

// CatalogService resolves and lists products.
type CatalogService interface {
	GetProduct(id string) (catalog.Product, error)
	ListProducts() []catalog.Product
}

// CurrencyService lists currencies and converts amounts.
type CurrencyService interface {
	Convert(m money.Money, toCode string) (money.Money, error)
	Codes() []string
}

// QuoteService issues shipping quotes.
type QuoteService interface {
	GetQuote(ctx context.Context, ttl time.Duration) (shipping.Quote, error)
}

// CheckoutService places orders and lists the order history.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, req checkout.PlaceOrderRequest) (checkout.OrderResult, error)
	Orders(ctx context.Context) ([]checkout.OrderResult, error)
}

// Server bundles the API's dependencies.
type Server struct {
	carts      CartService
	catalog    CatalogService
	currencies CurrencyService
	quotes     QuoteService
	checkout   CheckoutService
	hub        *realtime.Hub
	metrics    *observability.Metrics
	limiter    *reliability.RateLimiter
	logger     *slog.Logger
}

// ServerOption tweaks Server construction.
type ServerOption func(*Server)

// WithHub enables the realtime order feed endpoint.
func WithHub(hub *realtime.Hub) ServerOption {
	return func(s *Server) { s.hub = hub }
}

// WithMetrics tracks per-route stats.
func WithMetrics(metrics *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = metrics }
}

// WithRateLimiter throttles ingress.
func WithRateLimiter(limiter *reliability.RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = limiter }
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer constructs the API server.
func NewServer(
	carts CartService,
	catalogSvc CatalogService,
	currencies CurrencyService,
	quotes QuoteService,
	checkoutSvc CheckoutService,
	opts ...ServerOption,
) *Server {
	s := &Server{
		carts:      carts,
		catalog:    catalogSvc,
		currencies: currencies,
		quotes:     quotes,
		checkout:   checkoutSvc,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with all storefront routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimit)
	r.Use(s.trackRoute)

	r.Route("/carts/{userID}/items", func(r chi.Router) {
		r.Post("/", s.handleAddItem)
		r.Get("/", s.handleGetItems)
		r.Delete("/", s.handleEmptyCart)
	})

	r.Get("/products", s.handleListProducts)
	r.Get("/products/{productID}", s.handleGetProduct)

	r.Get("/currencies", s.handleListCurrencies)
	r.Post("/currencies/convert", s.handleConvert)

	r.Post("/shipping/quote", s.handleGetQuote)

	r.Post("/checkout/{userID}/orders", s.handlePlaceOrder)
	r.Get("/checkout/orders", s.handleListOrders)

	if s.hub != nil {
		r.Get("/ws/orders", s.handleOrderFeed)
	}

	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.limiter.Wait(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// trackRoute records per-route stats keyed by method and chi route pattern.
func (s *Server) trackRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.Method + " " + chi.RouteContext(r.Context()).RoutePattern()
		s.metrics.Observe(route, time.Since(start), ww.Status() >= http.StatusInternalServerError)
	})
}
