package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"boutique/internal/cart"
	"boutique/internal/catalog"
	"boutique/internal/checkout"
	"boutique/internal/money"
	"boutique/internal/shipping"

	"github.com/go-chi/chi/v5"
)

// StatusClientClosedRequest reports a request abandoned by its caller.
const StatusClientClosedRequest = 499

type errorResponse struct {
	Error string `json:"error"`
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type convertRequest struct {
	From   money.Money `json:"from"`
	ToCode string      `json:"to_code"`
}

type quoteRequest struct {
	TTLSeconds int64 `json:"ttl_seconds"`
}

type placeOrderRequest struct {
	Currency string           `json:"currency"`
	QuoteID  string           `json:"quote_id"`
	Email    string           `json:"email"`
	Address  checkout.Address `json:"address"`
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatusError(w, http.StatusBadRequest, err)
		return
	}

	userID := chi.URLParam(r, "userID")
	if err := s.carts.AddItem(r.Context(), userID, req.ProductID, req.Quantity); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.carts.GetItems(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []cart.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleEmptyCart(w http.ResponseWriter, r *http.Request) {
	if err := s.carts.EmptyCart(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"products": s.catalog.ListProducts()})
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.catalog.GetProduct(chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleListCurrencies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"currency_codes": s.currencies.Codes()})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatusError(w, http.StatusBadRequest, err)
		return
	}

	converted, err := s.currencies.Convert(req.From, req.ToCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, converted)
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatusError(w, http.StatusBadRequest, err)
		return
	}
	if req.TTLSeconds < 0 {
		writeStatusError(w, http.StatusBadRequest, errors.New("ttl_seconds must not be negative"))
		return
	}

	quote, err := s.quotes.GetQuote(r.Context(), time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatusError(w, http.StatusBadRequest, err)
		return
	}

	order, err := s.checkout.PlaceOrder(r.Context(), checkout.PlaceOrderRequest{
		UserID:   chi.URLParam(r, "userID"),
		Currency: req.Currency,
		QuoteID:  req.QuoteID,
		Email:    req.Email,
		Address:  req.Address,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.checkout.Orders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if orders == nil {
		orders = []checkout.OrderResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeStatusError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeError(w http.ResponseWriter, err error) {
	writeStatusError(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, shipping.ErrQuoteInvalidOrExpired):
		return http.StatusConflict
	case errors.Is(err, cart.ErrInvalidProductID),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidUserID),
		errors.Is(err, checkout.ErrInvalidRequest),
		errors.Is(err, money.ErrUnknownCurrency),
		errors.Is(err, money.ErrMissingCurrencyCode),
		errors.Is(err, money.ErrNegativeAmount),
		errors.Is(err, money.ErrCurrencyMismatch):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
