package cart

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps carts in Redis. Per user it holds a quantity hash (merged
// with HINCRBY), a touched-at hash, and a position hash that fixes insertion
// order across merges.
type RedisStore struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisStore constructs a Redis-backed cart store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, keyPrefix: "cart:"}
}

func (s *RedisStore) qtyKey(userID string) string   { return s.keyPrefix + userID }
func (s *RedisStore) metaKey(userID string) string  { return s.keyPrefix + userID + ":added" }
func (s *RedisStore) orderKey(userID string) string { return s.keyPrefix + userID + ":pos" }

// AddItem merges the item into the user's cart.
func (s *RedisStore) AddItem(ctx context.Context, userID string, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, s.qtyKey(userID), item.ProductID, item.Quantity)
	pipe.HSet(ctx, s.metaKey(userID), item.ProductID, item.AddedAt.UTC().Format(time.RFC3339Nano))
	pipe.HSetNX(ctx, s.orderKey(userID), item.ProductID, strconv.FormatInt(item.AddedAt.UTC().UnixNano(), 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add cart item: %w", err)
	}
	return nil
}

// Items returns the cart's lines ordered by first add.
func (s *RedisStore) Items(ctx context.Context, userID string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	quantities, err := s.client.HGetAll(ctx, s.qtyKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read cart quantities: %w", err)
	}
	if len(quantities) == 0 {
		return nil, nil
	}

	touched, err := s.client.HGetAll(ctx, s.metaKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read cart timestamps: %w", err)
	}
	positions, err := s.client.HGetAll(ctx, s.orderKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read cart positions: %w", err)
	}

	items := make([]Item, 0, len(quantities))
	order := make(map[string]int64, len(quantities))
	for productID, rawQty := range quantities {
		qty, err := strconv.ParseInt(rawQty, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cart quantity for %s: %w", productID, err)
		}

		var addedAt time.Time
		if raw, ok := touched[productID]; ok {
			if addedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
				return nil, fmt.Errorf("cart timestamp for %s: %w", productID, err)
			}
		}

		if raw, ok := positions[productID]; ok {
			pos, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cart position for %s: %w", productID, err)
			}
			order[productID] = pos
		}

		items = append(items, Item{ProductID: productID, Quantity: qty, AddedAt: addedAt})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return order[items[i].ProductID] < order[items[j].ProductID]
	})
	return items, nil
}

// Empty removes the user's cart keys.
func (s *RedisStore) Empty(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.qtyKey(userID), s.metaKey(userID), s.orderKey(userID)).Err(); err != nil {
		return fmt.Errorf("empty cart: %w", err)
	}
	return nil
}
