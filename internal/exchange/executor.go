// Package exchange is the order-execution boundary. The engine only acts on
// confirmed fills, so every executor reports fill status explicitly.
package exchange

import (
	"context"
	"time"
)

// Side is the order direction
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order is the result of a placement attempt
type Order struct {
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Price      float64   `json:"price"`    // fill price when filled
	Quantity   float64   `json:"quantity"` // filled quantity
	Filled     bool      `json:"filled"`
	ExecutedAt time.Time `json:"executed_at"`
}

// OrderExecutor places orders against an exchange or a simulator
type OrderExecutor interface {
	// PlaceOrder submits a market order and reports whether it filled.
	// An unfilled order with a nil error means the exchange rejected it
	// in a recoverable way; the caller must not mutate position state.
	PlaceOrder(ctx context.Context, symbol string, side Side, quantity, price float64) (Order, error)
}
