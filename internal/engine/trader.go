package engine

import (
	"context"
	"time"

	"crypto-autotrader/internal/events"
	"crypto-autotrader/internal/exchange"
	"crypto-autotrader/internal/indicators"
	"crypto-autotrader/internal/ledger"
	"crypto-autotrader/internal/strategy"
)

const klineWindow = 60

// runSymbol is the worker loop for one symbol. It owns that symbol's
// position state; the engine mutex only serializes its writes against
// snapshot reads.
func (e *Engine) runSymbol(ctx context.Context, symbol string) {
	logger := e.logger.With().Str("symbol", symbol).Logger()
	logger.Info().Msg("worker started")

	errorCooldown := time.Duration(e.cfg.TradingConfig.ErrorCooldown) * time.Second

	for {
		wait := e.interval
		if err := e.cycle(ctx, symbol); err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error().Err(err).Msg("cycle failed")
			e.deps.Bus.PublishError("engine", "cycle failed for "+symbol, err)
			wait = errorCooldown
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("worker stopped")
			return
		case <-time.After(wait):
		}
	}
	logger.Info().Msg("worker stopped")
}

// cycle runs one evaluation for a symbol: fetch, evaluate, execute
func (e *Engine) cycle(ctx context.Context, symbol string) error {
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.TradingConfig.CallTimeout)*time.Second)
	defer cancel()

	klines, err := e.deps.Source.GetKlines(callCtx, symbol, e.cfg.TradingConfig.Timeframe, klineWindow)
	if err != nil {
		return err
	}

	atr := indicators.ATR(klines, e.cfg.StrategyConfig.ATRPeriod)

	var fastLow float64
	if e.deps.FastFeed != nil {
		if low, err := e.deps.FastFeed.RecentLow(callCtx, symbol); err == nil {
			fastLow = low
		} else {
			e.logger.Debug().Err(err).Str("symbol", symbol).Msg("fast feed unavailable")
		}
	}

	pos := e.positions[symbol]

	e.mu.Lock()
	equity := e.equity
	sig := e.generator.Evaluate(symbol, klines, pos, equity, atr, fastLow)
	e.mu.Unlock()

	if sig == nil {
		// Flat symbols keep their buy target warm for the API
		if !pos.Open() && e.deps.Targets != nil {
			if price, err := e.deps.Source.GetPrice(callCtx, symbol); err == nil && price > 0 {
				e.deps.Targets.GetLockedTarget(callCtx, symbol, price)
			}
		}
		return nil
	}

	return e.execute(callCtx, symbol, pos, sig, equity)
}

// execute runs a signal through the risk gate and the order executor.
// Position state changes only on a confirmed fill; a crash-exit signal that
// does not fill rolls back its armed rebuy.
func (e *Engine) execute(ctx context.Context, symbol string, pos *strategy.PositionState, sig *strategy.Signal, equity float64) error {
	e.deps.Bus.PublishSignal(symbol, string(sig.Action), string(sig.Event.Kind), sig.Price, sig.Confidence)

	if err := e.deps.Risk.CheckTradingAllowed(); err != nil {
		e.logger.Warn().Err(err).Str("symbol", symbol).Str("action", string(sig.Action)).Msg("signal dropped")
		e.rollbackCrashArm(pos, sig)
		return nil
	}

	side := exchange.SideBuy
	if sig.Action == strategy.ActionSell {
		side = exchange.SideSell
	} else {
		// Sells reduce exposure and skip sizing checks; buys do not
		if err := e.deps.Risk.ValidatePositionSize(symbol, sig.Price, sig.Quantity, sig.StopLoss, equity); err != nil {
			e.logger.Warn().Err(err).Str("symbol", symbol).Msg("entry rejected by risk limits")
			return nil
		}
	}

	order, err := e.deps.Executor.PlaceOrder(ctx, symbol, side, sig.Quantity, sig.Price)
	if err != nil {
		e.rollbackCrashArm(pos, sig)
		return err
	}
	if !order.Filled {
		e.logger.Warn().Str("symbol", symbol).Str("order_id", order.OrderID).Msg("order not filled, state unchanged")
		e.rollbackCrashArm(pos, sig)
		return nil
	}

	e.applyFill(symbol, pos, sig, order)
	return nil
}

// applyFill mutates position state and the shared counters for a confirmed
// fill, then records the trade.
func (e *Engine) applyFill(symbol string, pos *strategy.PositionState, sig *strategy.Signal, order exchange.Order) {
	record := ledger.TradeRecord{
		Symbol:     symbol,
		Side:       string(order.Side),
		Price:      order.Price,
		Quantity:   order.Quantity,
		EventKind:  string(sig.Event.Kind),
		Confidence: sig.Confidence,
		OrderID:    order.OrderID,
		ExecutedAt: order.ExecutedAt,
	}

	if order.Side == exchange.SideBuy {
		e.mu.Lock()
		pos.ApplyEntryFill(order.Price, order.Quantity, order.ExecutedAt)
		e.mu.Unlock()
		e.deps.Bus.PublishTradeOpened(symbol, order.Price, order.Quantity, string(sig.Event.Kind))
		if sig.Event.Kind == strategy.EventRebuy {
			e.deps.Bus.Publish(events.Event{Type: events.EventRebuyFired, Data: map[string]interface{}{
				"symbol": symbol,
				"price":  order.Price,
				"mode":   string(sig.Event.Mode),
			}})
		}
	} else {
		e.mu.Lock()
		entryPrice := pos.EntryPrice
		pnl := pos.ApplyExitFill(order.Price, order.ExecutedAt)
		e.equity += pnl
		equity := e.equity
		rebuyPrice := pos.RebuyPrice
		e.mu.Unlock()

		record.PnL = pnl
		e.deps.Risk.RecordTrade(symbol, pnl, equity)
		e.deps.Bus.PublishTradeClosed(symbol, entryPrice, order.Price, order.Quantity, pnl, string(sig.Event.Kind))
		if sig.Event.Kind == strategy.EventCrashExit {
			e.deps.Bus.PublishCrashExit(symbol, order.Price, sig.Event.Drawdown, rebuyPrice)
			e.deps.Bus.Publish(events.Event{Type: events.EventRebuyArmed, Data: map[string]interface{}{
				"symbol":      symbol,
				"rebuy_price": rebuyPrice,
			}})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.deps.Ledger.RecordTrade(ctx, record); err != nil {
		e.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to persist trade")
	}
}

// rollbackCrashArm disarms the rebuy latch when a crash-exit signal did not
// result in a fill; the position is still open so the latch must not linger.
func (e *Engine) rollbackCrashArm(pos *strategy.PositionState, sig *strategy.Signal) {
	if sig.Event.Kind != strategy.EventCrashExit {
		return
	}
	e.mu.Lock()
	pos.DisarmRebuy()
	e.mu.Unlock()
}
