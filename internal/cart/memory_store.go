package cart

import (
	"context"
	"sync"
)

// MemoryStore keeps carts in memory. Every user's cart has its own lock, so
// mutations to different carts never contend; the outer lock only guards the
// cart map itself.
type MemoryStore struct {
	mu    sync.RWMutex
	carts map[string]*memoryCart
}

type memoryCart struct {
	mu    sync.Mutex
	items []Item
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string]*memoryCart)}
}

// AddItem merges the item into the user's cart, creating the cart on first write.
func (s *MemoryStore) AddItem(ctx context.Context, userID string, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c := s.cart(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.items {
		if c.items[i].ProductID == item.ProductID {
			c.items[i].Quantity += item.Quantity
			c.items[i].AddedAt = item.AddedAt
			return nil
		}
	}
	c.items = append(c.items, item)
	return nil
}

// Items returns the cart's lines in insertion order.
func (s *MemoryStore) Items(ctx context.Context, userID string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	c, ok := s.carts[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out, nil
}

// Empty clears the user's cart. The cart itself stays registered.
func (s *MemoryStore) Empty(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c := s.cart(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	return nil
}

func (s *MemoryStore) cart(userID string) *memoryCart {
	s.mu.RLock()
	c, ok := s.carts[userID]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.carts[userID]; ok {
		return c
	}
	c = &memoryCart{}
	s.carts[userID] = c
	return c
}
