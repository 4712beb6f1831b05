// Package engine runs the trading loop: one worker goroutine per symbol,
// each owning that symbol's position state, wired to the shared risk
// manager, target locks, ledger and event bus.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crypto-autotrader/config"
	"crypto-autotrader/internal/events"
	"crypto-autotrader/internal/exchange"
	"crypto-autotrader/internal/ledger"
	"crypto-autotrader/internal/market"
	"crypto-autotrader/internal/risk"
	"crypto-autotrader/internal/strategy"
	"crypto-autotrader/internal/targetlock"
)

// Deps are the collaborators the engine is built from
type Deps struct {
	Source   market.DataSource
	FastFeed market.FastFeed // optional; nil disables the wick-breach check
	Risk     *risk.Manager
	Targets  *targetlock.Manager
	Executor exchange.OrderExecutor
	Ledger   ledger.Ledger
	Bus      *events.Bus
}

// Engine owns the per-symbol workers and the shared equity counter
type Engine struct {
	cfg       *config.Config
	deps      Deps
	generator *strategy.Generator
	logger    zerolog.Logger
	interval  time.Duration

	mu        sync.RWMutex
	equity    float64
	positions map[string]*strategy.PositionState

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// PositionSnapshot is a copy of one symbol's state for the API
type PositionSnapshot struct {
	strategy.PositionState
	MarkPrice     float64 `json:"mark_price,omitempty"`
	UnrealizedPnL float64 `json:"unrealized_pnl,omitempty"`
}

// New builds an engine; Start launches the workers
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) (*Engine, error) {
	interval, err := config.ParseTimeframe(cfg.TradingConfig.Timeframe)
	if err != nil {
		return nil, err
	}
	if deps.Source == nil || deps.Risk == nil || deps.Executor == nil || deps.Ledger == nil || deps.Bus == nil {
		return nil, fmt.Errorf("engine is missing a required dependency")
	}

	positions := make(map[string]*strategy.PositionState, len(cfg.TradingConfig.Symbols))
	for _, symbol := range cfg.TradingConfig.Symbols {
		positions[symbol] = strategy.NewPositionState(symbol)
	}

	return &Engine{
		cfg:       cfg,
		deps:      deps,
		generator: strategy.NewGenerator(cfg.StrategyConfig, cfg.RebuyConfig, cfg.TradingConfig, logger),
		logger:    logger.With().Str("component", "engine").Logger(),
		interval:  interval,
		equity:    cfg.TradingConfig.StartingEquity,
		positions: positions,
	}, nil
}

// Start launches one worker per configured symbol
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	for _, symbol := range e.cfg.TradingConfig.Symbols {
		e.wg.Add(1)
		go func(symbol string) {
			defer e.wg.Done()
			e.runSymbol(runCtx, symbol)
		}(symbol)
	}

	e.logger.Info().
		Strs("symbols", e.cfg.TradingConfig.Symbols).
		Str("timeframe", e.cfg.TradingConfig.Timeframe).
		Bool("dry_run", e.cfg.TradingConfig.DryRun).
		Msg("engine started")
	e.deps.Bus.Publish(events.Event{Type: events.EventEngineStarted, Data: map[string]interface{}{
		"symbols": e.cfg.TradingConfig.Symbols,
	}})
	return nil
}

// Stop cancels the workers and waits for them to drain
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.logger.Info().Msg("engine stopped")
	e.deps.Bus.Publish(events.Event{Type: events.EventEngineStopped, Data: nil})
}

// Equity returns the current quote-currency equity
func (e *Engine) Equity() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.equity
}

// Positions returns a snapshot of every symbol's state
func (e *Engine) Positions() []PositionSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]PositionSnapshot, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, PositionSnapshot{PositionState: *pos})
	}
	return out
}

// Symbols returns the configured symbol list
func (e *Engine) Symbols() []string {
	return e.cfg.TradingConfig.Symbols
}
