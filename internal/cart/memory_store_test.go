package cart

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_AddMergesQuantity(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	first := Item{ProductID: "P1", Quantity: 2, AddedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	second := Item{ProductID: "P1", Quantity: 3, AddedAt: time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC)}

	if err := store.AddItem(ctx, "alice", first); err != nil {
		t.Fatalf("add first: %v", err)
	}
	if err := store.AddItem(ctx, "alice", second); err != nil {
		t.Fatalf("add second: %v", err)
	}

	items, err := store.Items(ctx, "alice")
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected merged line, got %d lines", len(items))
	}
	if items[0].Quantity != 5 {
		t.Fatalf("expected quantity 5, got %d", items[0].Quantity)
	}
	if !items[0].AddedAt.Equal(second.AddedAt) {
		t.Fatalf("expected AddedAt refreshed to %v, got %v", second.AddedAt, items[0].AddedAt)
	}
}

func TestMemoryStore_InsertionOrderAndIsolation(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"P3", "P1", "P2"} {
		if err := store.AddItem(ctx, "alice", Item{ProductID: id, Quantity: 1, AddedAt: now}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	if err := store.AddItem(ctx, "bob", Item{ProductID: "P9", Quantity: 1, AddedAt: now}); err != nil {
		t.Fatalf("add for bob: %v", err)
	}

	items, err := store.Items(ctx, "alice")
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	got := []string{items[0].ProductID, items[1].ProductID, items[2].ProductID}
	if got[0] != "P3" || got[1] != "P1" || got[2] != "P2" {
		t.Fatalf("unexpected order: %v", got)
	}

	bobItems, err := store.Items(ctx, "bob")
	if err != nil {
		t.Fatalf("bob items: %v", err)
	}
	if len(bobItems) != 1 || bobItems[0].ProductID != "P9" {
		t.Fatalf("bob's cart leaked: %+v", bobItems)
	}
}

func TestMemoryStore_EmptyClearsButKeepsCart(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.AddItem(ctx, "alice", Item{ProductID: "P1", Quantity: 1, AddedAt: time.Now()}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.Empty(ctx, "alice"); err != nil {
		t.Fatalf("empty: %v", err)
	}

	items, err := store.Items(ctx, "alice")
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty cart, got %+v", items)
	}

	// Emptying never deletes the aggregate; writing again still works.
	if err := store.AddItem(ctx, "alice", Item{ProductID: "P2", Quantity: 1, AddedAt: time.Now()}); err != nil {
		t.Fatalf("add after empty: %v", err)
	}
}

func TestMemoryStore_ConcurrentUsers(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	users := []string{"u1", "u2", "u3", "u4"}
	for _, user := range users {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := store.AddItem(ctx, user, Item{ProductID: "P1", Quantity: 1, AddedAt: now}); err != nil {
					t.Errorf("add for %s: %v", user, err)
					return
				}
			}
		}(user)
	}
	wg.Wait()

	for _, user := range users {
		items, err := store.Items(ctx, user)
		if err != nil {
			t.Fatalf("items for %s: %v", user, err)
		}
		if len(items) != 1 || items[0].Quantity != 50 {
			t.Fatalf("expected one line qty 50 for %s, got %+v", user, items)
		}
	}
}
