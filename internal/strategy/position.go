package strategy

import (
	"errors"
	"fmt"
	"time"
)

// ErrRebuyAlreadyArmed signals an attempt to arm a rebuy twice; the caller
// should discard the offending signal and keep running.
var ErrRebuyAlreadyArmed = errors.New("rebuy already armed")

// PositionState tracks one symbol's open position and rebuy latch. Each state
// is mutated only by its symbol's worker goroutine; the engine serializes
// those writes against snapshot reads. The record lives for the process
// lifetime so the rebuy latch survives after the position is closed.
type PositionState struct {
	Symbol         string    `json:"symbol"`
	Quantity       float64   `json:"quantity"`
	EntryPrice     float64   `json:"entry_price"`
	PeakSinceEntry float64   `json:"peak_since_entry"`
	RebuyArmed     bool      `json:"rebuy_armed"`
	RebuyPrice     float64   `json:"rebuy_price"`
	RebuyReadyAt   time.Time `json:"rebuy_ready_at"`
	LastTradeAt    time.Time `json:"last_trade_at"`
}

// NewPositionState creates an empty state for a symbol
func NewPositionState(symbol string) *PositionState {
	return &PositionState{Symbol: symbol}
}

// Open reports whether a position is currently held
func (p *PositionState) Open() bool {
	return p.Quantity > 0
}

// ApplyEntryFill records a confirmed entry fill
func (p *PositionState) ApplyEntryFill(price, quantity float64, at time.Time) {
	p.Quantity = quantity
	p.EntryPrice = price
	p.PeakSinceEntry = price
	p.LastTradeAt = at
}

// ApplyExitFill records a confirmed exit fill and returns the realized PnL.
// The rebuy latch is left untouched so a crash exit can re-enter later.
func (p *PositionState) ApplyExitFill(price float64, at time.Time) float64 {
	pnl := (price - p.EntryPrice) * p.Quantity
	p.Quantity = 0
	p.EntryPrice = 0
	p.PeakSinceEntry = 0
	p.LastTradeAt = at
	return pnl
}

// UpdatePeak raises the peak-since-entry watermark
func (p *PositionState) UpdatePeak(price float64) {
	if p.Quantity > 0 && price > p.PeakSinceEntry {
		p.PeakSinceEntry = price
	}
}

// ArmRebuy latches a single future re-entry after a crash exit
func (p *PositionState) ArmRebuy(exitPrice float64, cooldown time.Duration, now time.Time) error {
	if p.RebuyArmed {
		return ErrRebuyAlreadyArmed
	}
	p.RebuyArmed = true
	p.RebuyPrice = exitPrice * 0.98
	p.RebuyReadyAt = now.Add(cooldown)
	return nil
}

// DisarmRebuy clears the latch; called exactly once when a rebuy fires
func (p *PositionState) DisarmRebuy() {
	p.RebuyArmed = false
	p.RebuyPrice = 0
	p.RebuyReadyAt = time.Time{}
}

// Check verifies the state invariants, returning a description of the first
// violation found
func (p *PositionState) Check() error {
	if p.Quantity > 0 {
		if p.EntryPrice <= 0 {
			return fmt.Errorf("open position with entry price %v", p.EntryPrice)
		}
		if p.PeakSinceEntry < p.EntryPrice {
			return fmt.Errorf("peak %v below entry %v", p.PeakSinceEntry, p.EntryPrice)
		}
		if p.RebuyArmed {
			return errors.New("rebuy armed while position open")
		}
	}
	if p.Quantity < 0 {
		return fmt.Errorf("negative quantity %v", p.Quantity)
	}
	return nil
}
