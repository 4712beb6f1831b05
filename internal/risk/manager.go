// Package risk enforces the portfolio-level limits: per-position sizing
// checks and the daily-loss circuit breaker.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crypto-autotrader/config"
)

// Manager tracks realized daily PnL and decides whether trading may continue.
// It is shared between the symbol workers and the operations API, so every
// method takes the lock.
type Manager struct {
	mu sync.Mutex

	cfg    config.RiskConfig
	logger zerolog.Logger
	now    func() time.Time

	dailyPnL   float64
	dailyDate  string // calendar date the counters belong to, "2006-01-02"
	halted     bool
	haltReason string
	trades     int
}

// Status is a snapshot of the risk state for the API and logs
type Status struct {
	DailyPnL   float64 `json:"daily_pnl"`
	DailyDate  string  `json:"daily_date"`
	Halted     bool    `json:"halted"`
	HaltReason string  `json:"halt_reason,omitempty"`
	Trades     int     `json:"trades_today"`
}

// NewManager builds a risk manager from configuration
func NewManager(cfg config.RiskConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		logger:    logger.With().Str("component", "risk_manager").Logger(),
		now:       time.Now,
		dailyDate: time.Now().UTC().Format("2006-01-02"),
	}
}

// CheckTradingAllowed reports whether any order may be placed right now.
// Rolling into a new calendar day resets the counters and lifts a daily halt.
func (m *Manager) CheckTradingAllowed() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDayLocked()
	if m.halted {
		return fmt.Errorf("trading halted: %s", m.haltReason)
	}
	return nil
}

// ValidatePositionSize checks a proposed buy against the per-position limits.
// Sell orders are not validated here: reducing exposure is always allowed as
// long as trading itself is not halted.
func (m *Manager) ValidatePositionSize(symbol string, price, quantity, stopLoss, equity float64) error {
	if price <= 0 || quantity <= 0 {
		return fmt.Errorf("degenerate order for %s: price=%v quantity=%v", symbol, price, quantity)
	}
	if equity <= 0 {
		return fmt.Errorf("no equity available")
	}
	if stopLoss <= 0 || stopLoss >= price {
		return fmt.Errorf("%s entry requires a stop-loss below price, got %v", symbol, stopLoss)
	}

	notional := price * quantity
	if notional < m.cfg.MinNotional {
		return fmt.Errorf("%s notional %.2f below minimum %.2f", symbol, notional, m.cfg.MinNotional)
	}
	if maxNotional := m.cfg.MaxPositionPct * equity; notional > maxNotional {
		return fmt.Errorf("%s notional %.2f exceeds %.0f%% of equity (%.2f)",
			symbol, notional, m.cfg.MaxPositionPct*100, maxNotional)
	}

	// Worst-case loss if the stop fills exactly
	riskDollars := (price - stopLoss) * quantity
	if maxRisk := m.cfg.MaxSinglePositionRiskPct * equity; riskDollars > maxRisk {
		return fmt.Errorf("%s risks %.2f, above the per-position cap %.2f", symbol, riskDollars, maxRisk)
	}
	return nil
}

// RecordTrade folds a realized PnL into the daily counters and trips the halt
// when the day's swing reaches the configured fraction of equity. Both a deep
// loss and an improbably large gain halt the engine; the latter usually means
// bad fill data.
func (m *Manager) RecordTrade(symbol string, pnl, equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDayLocked()
	m.dailyPnL += pnl
	m.trades++

	m.logger.Info().
		Str("symbol", symbol).
		Float64("pnl", pnl).
		Float64("daily_pnl", m.dailyPnL).
		Int("trades_today", m.trades).
		Msg("trade recorded")

	if equity <= 0 || m.halted {
		return
	}
	swing := m.dailyPnL
	if swing < 0 {
		swing = -swing
	}
	if swing/equity >= m.cfg.MaxDailyLossPct {
		m.halted = true
		m.haltReason = fmt.Sprintf("daily pnl %.2f hit %.0f%% of equity", m.dailyPnL, m.cfg.MaxDailyLossPct*100)
		m.logger.Error().
			Float64("daily_pnl", m.dailyPnL).
			Float64("equity", equity).
			Msg("daily loss limit reached, trading halted")
	}
}

// Halt stops all trading until Resume or the next day's reset
func (m *Manager) Halt(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = true
	m.haltReason = reason
	m.logger.Warn().Str("reason", reason).Msg("trading halted")
}

// Resume lifts a halt without waiting for the daily reset
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
	m.haltReason = ""
	m.logger.Warn().Msg("trading resumed")
}

// Snapshot returns the current risk state
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	return Status{
		DailyPnL:   m.dailyPnL,
		DailyDate:  m.dailyDate,
		Halted:     m.halted,
		HaltReason: m.haltReason,
		Trades:     m.trades,
	}
}

// rollDayLocked resets the counters when the UTC calendar date changes.
// Caller holds the lock.
func (m *Manager) rollDayLocked() {
	today := m.now().UTC().Format("2006-01-02")
	if today == m.dailyDate {
		return
	}
	if m.dailyDate != "" {
		m.logger.Info().
			Str("closed_date", m.dailyDate).
			Float64("daily_pnl", m.dailyPnL).
			Int("trades", m.trades).
			Msg("daily risk counters reset")
	}
	m.dailyDate = today
	m.dailyPnL = 0
	m.trades = 0
	m.halted = false
	m.haltReason = ""
}

// KellyFraction suggests a position-size fraction from a win rate and the
// average win/loss ratio, at quarter strength. The result is clamped to
// [0.01, max_single_position_risk_pct]; callers treat it as advisory.
func (m *Manager) KellyFraction(winRate, winLossRatio float64) float64 {
	floor := 0.01
	if winRate <= 0 || winRate >= 1 || winLossRatio <= 0 {
		return floor
	}
	b := winLossRatio
	f := (b*winRate - (1 - winRate)) / b
	f *= 0.25
	if f < floor {
		return floor
	}
	if f > m.cfg.MaxSinglePositionRiskPct {
		return m.cfg.MaxSinglePositionRiskPct
	}
	return f
}

// SetClock overrides the manager's clock; used by tests
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
