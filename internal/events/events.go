// Package events turns placed orders into frames for the realtime feed.
package events

import (
	"context"
	"encoding/json"
	"time"

	"boutique/internal/checkout"
	"boutique/internal/money"
)

// Broadcaster pushes frames to connected feed subscribers.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// OrderPlacedEvent is the wire shape of one order-feed frame.
type OrderPlacedEvent struct {
	Type         string      `json:"type"`
	OrderID      string      `json:"order_id"`
	ItemCount    int         `json:"item_count"`
	ShippingCost money.Money `json:"shipping_cost"`
	PlacedAt     time.Time   `json:"placed_at"`
}

// BroadcastPublisher marshals order events and hands them to the broadcaster.
type BroadcastPublisher struct {
	broadcaster Broadcaster
}

// NewBroadcastPublisher constructs a publisher targeting the broadcaster.
func NewBroadcastPublisher(broadcaster Broadcaster) *BroadcastPublisher {
	return &BroadcastPublisher{broadcaster: broadcaster}
}

// OrderPlaced broadcasts the order as an order_placed frame. The frame
// carries no address or email, the feed is not a private channel.
func (p *BroadcastPublisher) OrderPlaced(ctx context.Context, order checkout.OrderResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(OrderPlacedEvent{
		Type:         "order_placed",
		OrderID:      order.OrderID,
		ItemCount:    len(order.Items),
		ShippingCost: order.ShippingCost,
		PlacedAt:     order.PlacedAt,
	})
	if err != nil {
		return err
	}

	if p.broadcaster != nil {
		p.broadcaster.Broadcast(data)
	}
	return nil
}
