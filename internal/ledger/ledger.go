// Package ledger persists executed trades and target-price locks. The engine
// works against the Ledger interface; the Postgres implementation is used in
// deployment and the in-memory one for dry runs and tests.
package ledger

import (
	"context"
	"time"
)

// TradeRecord is one executed order as written to storage
type TradeRecord struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"` // BUY or SELL
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	PnL        float64   `json:"pnl"`
	EventKind  string    `json:"event_kind"` // entry, crash_exit, normal_exit, rebuy
	Confidence float64   `json:"confidence"`
	OrderID    string    `json:"order_id"`
	ExecutedAt time.Time `json:"executed_at"`
}

// TargetLockRecord is a persisted target-price lock
type TargetLockRecord struct {
	Symbol        string    `json:"symbol"`
	TargetPrice   float64   `json:"target_price"`
	OriginalPrice float64   `json:"original_price"`   // market price when the target was computed
	DiscountPct   float64   `json:"discount_percent"` // target discount off the original price, in percent
	LockedAt      time.Time `json:"locked_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Ledger is the storage boundary for trades and target locks
type Ledger interface {
	// RecordTrade appends an executed trade
	RecordTrade(ctx context.Context, trade TradeRecord) error
	// RecentTrades returns up to limit trades, newest first
	RecentTrades(ctx context.Context, symbol string, limit int) ([]TradeRecord, error)

	// SaveTargetLock upserts the lock for a symbol
	SaveTargetLock(ctx context.Context, lock TargetLockRecord) error
	// GetTargetLock returns the stored lock, or ok=false when none exists
	GetTargetLock(ctx context.Context, symbol string) (TargetLockRecord, bool, error)
	// DeleteTargetLock removes a symbol's lock
	DeleteTargetLock(ctx context.Context, symbol string) error

	// Close releases the underlying resources
	Close()
}
