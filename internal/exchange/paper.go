package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PaperExecutor simulates fills for dry runs. Buys fill slightly above and
// sells slightly below the requested price to model slippage.
type PaperExecutor struct {
	slippagePct float64
	logger      zerolog.Logger

	mu     sync.Mutex
	orders []Order
}

// NewPaperExecutor builds a simulated executor
func NewPaperExecutor(slippagePct float64, logger zerolog.Logger) *PaperExecutor {
	return &PaperExecutor{
		slippagePct: slippagePct,
		logger:      logger.With().Str("component", "paper_executor").Logger(),
	}
}

// PlaceOrder fills the order immediately at the slippage-adjusted price
func (p *PaperExecutor) PlaceOrder(ctx context.Context, symbol string, side Side, quantity, price float64) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	if quantity <= 0 || price <= 0 {
		return Order{}, fmt.Errorf("invalid paper order for %s: quantity=%v price=%v", symbol, quantity, price)
	}

	fillPrice := price
	switch side {
	case SideBuy:
		fillPrice = price * (1 + p.slippagePct)
	case SideSell:
		fillPrice = price * (1 - p.slippagePct)
	default:
		return Order{}, fmt.Errorf("unknown order side %q", side)
	}

	order := Order{
		OrderID:    uuid.New().String(),
		Symbol:     symbol,
		Side:       side,
		Price:      fillPrice,
		Quantity:   quantity,
		Filled:     true,
		ExecutedAt: time.Now(),
	}

	p.mu.Lock()
	p.orders = append(p.orders, order)
	p.mu.Unlock()

	p.logger.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("order_id", order.OrderID).
		Float64("price", fillPrice).
		Float64("quantity", quantity).
		Msg("paper order filled")
	return order, nil
}

// Orders returns a copy of every simulated fill
func (p *PaperExecutor) Orders() []Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Order, len(p.orders))
	copy(out, p.orders)
	return out
}
