package checkout

import (
	"context"
	"sync"
)

// MemoryOrderStore keeps the order history in process memory. It is the
// fallback when no database is configured, and what tests wire in.
type MemoryOrderStore struct {
	mu     sync.Mutex
	orders []OrderResult
}

// NewMemoryOrderStore returns an empty in-memory order store.
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{}
}

// Append records the order.
func (s *MemoryOrderStore) Append(ctx context.Context, userID string, order OrderResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, order)
	return nil
}

// Orders lists the recorded orders, newest first.
func (s *MemoryOrderStore) Orders(ctx context.Context) ([]OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]OrderResult, len(s.orders))
	for i, order := range s.orders {
		out[len(s.orders)-1-i] = order
	}
	return out, nil
}
