package strategy

import (
	"time"

	"github.com/rs/zerolog"

	"crypto-autotrader/config"
	"crypto-autotrader/internal/indicators"
	"crypto-autotrader/internal/market"
)

// riskEpsilon guards the position-size division against a near-zero
// risk-per-unit (tiny price or misconfigured stop-loss percentage)
const riskEpsilon = 1e-9

// Generator turns a kline window and position state into at most one signal
// per evaluation. It is deterministic given its inputs and the injected
// clock, and never blocks: the optional fast-feed low is fetched by the
// caller and passed in.
type Generator struct {
	cfg     config.StrategyConfig
	rebuy   config.RebuyConfig
	trading config.TradingConfig
	logger  zerolog.Logger
	now     func() time.Time
}

// NewGenerator builds a signal generator from configuration
func NewGenerator(cfg config.StrategyConfig, rebuy config.RebuyConfig, trading config.TradingConfig, logger zerolog.Logger) *Generator {
	return &Generator{
		cfg:     cfg,
		rebuy:   rebuy,
		trading: trading,
		logger:  logger.With().Str("component", "signal_generator").Logger(),
		now:     time.Now,
	}
}

// Evaluate produces zero or one signal for the current bar window.
// fastLow is the recent low from a finer-grained feed; pass 0 when no fast
// feed is wired and the wick-breach check is skipped. A nil return means
// "no action", which is the common case, not an error.
func (g *Generator) Evaluate(symbol string, klines []market.Kline, pos *PositionState, equity, atr, fastLow float64) *Signal {
	if len(klines) < market.MinBars || pos == nil {
		return nil
	}
	price := klines[len(klines)-1].Close
	if price <= 0 {
		return nil
	}

	if pos.Open() {
		return g.evaluateExit(symbol, klines, pos, price, atr, fastLow)
	}
	return g.evaluateEntry(symbol, klines, pos, price, equity)
}

// ---------------------------------------------------------------------------
// Entry path
// ---------------------------------------------------------------------------

func (g *Generator) evaluateEntry(symbol string, klines []market.Kline, pos *PositionState, price, equity float64) *Signal {
	// An armed rebuy latch takes over the entry path entirely: no fresh
	// Bollinger entries are considered until the latch fires or is cleared.
	if pos.RebuyArmed {
		return g.evaluateRebuy(symbol, klines, pos, price, equity)
	}

	bands := indicators.Bollinger(klines, g.cfg.BBPeriod, g.cfg.BBStdDev)
	if bands.Middle <= 0 {
		return nil
	}

	// Primary gate: price at or below the lower band. Everything else is
	// confirmation on top of it.
	if price > bands.Lower {
		return nil
	}
	confirmations := 1

	if indicators.RSI(klines, g.cfg.RSIPeriod) < 30 {
		confirmations++
	}

	currentVolume := klines[len(klines)-1].Volume
	if avg := indicators.AverageVolume(klines, 20); avg > 0 && currentVolume >= 1.2*avg {
		confirmations++
	}

	if g.higherTimeframeSupport(klines, price) {
		confirmations++
	}

	if indicators.NearSupport(klines, price, 5, 0.02) {
		confirmations++
	}

	if !g.severeDowntrend(klines, price) {
		confirmations++
	}

	if confirmations < 4 {
		return nil
	}

	confidence := 0.65 + 0.15*float64(confirmations-4)
	if confidence > 0.95 {
		confidence = 0.95
	}

	sig := g.sizeEntry(symbol, price, equity, false)
	if sig == nil {
		return nil
	}
	sig.Confidence = confidence
	sig.Event = Event{Kind: EventEntry, Confirmations: confirmations}

	g.logger.Debug().
		Str("symbol", symbol).
		Int("confirmations", confirmations).
		Float64("price", price).
		Float64("bb_lower", bands.Lower).
		Msg("entry signal")
	return sig
}

// higherTimeframeSupport checks the 50-bar SMA distance and 10-bar SMA slope
func (g *Generator) higherTimeframeSupport(klines []market.Kline, price float64) bool {
	sma50 := indicators.SMA(klines, 50)
	if sma50 <= 0 {
		return false
	}
	if (price-sma50)/sma50 < -0.10 {
		return false
	}

	if len(klines) < 20 {
		return false
	}
	sma10Now := indicators.SMA(klines, 10)
	sma10Prev := indicators.SMA(klines[:len(klines)-10], 10)
	if sma10Prev <= 0 {
		return false
	}
	return (sma10Now-sma10Prev)/sma10Prev >= -0.02
}

// severeDowntrend reports whether the market is falling too hard to buy into
func (g *Generator) severeDowntrend(klines []market.Kline, price float64) bool {
	sma10 := indicators.SMA(klines, 10)
	sma30 := indicators.SMA(klines, 30)
	if sma10 <= 0 || sma30 <= 0 {
		return true
	}

	holdingUp := price >= 0.95*sma10 || sma10 >= 0.98*sma30
	tenBarChange := indicators.Momentum(klines, 10)
	return !holdingUp || tenBarChange <= -15
}

// evaluateRebuy decides whether the armed re-entry latch fires on this bar.
// Confirmation mode re-derives its trigger before comparing: the latch fires
// when price recovers above the recent low plus 1%. Knife mode compares
// against the level derived on the previous cycle and only afterwards trails
// it down to 97.5% of the current price, so it fires on an abrupt drop
// between cycles rather than never.
func (g *Generator) evaluateRebuy(symbol string, klines []market.Kline, pos *PositionState, price, equity float64) *Signal {
	mode := RebuyMode(g.rebuy.Mode)

	rebuyPrice := pos.RebuyPrice
	if g.rebuy.Dynamic && mode == RebuyConfirmation {
		if low, ok := market.LowestLow(klines, g.rebuy.LowLookback); ok {
			rebuyPrice = low * 1.01
			pos.RebuyPrice = rebuyPrice
		}
	}
	trailKnife := func() {
		if g.rebuy.Dynamic && mode == RebuyKnife {
			pos.RebuyPrice = price * 0.975
		}
	}

	if g.now().Before(pos.RebuyReadyAt) {
		trailKnife()
		return nil
	}

	var fire bool
	switch mode {
	case RebuyConfirmation:
		fire = price >= rebuyPrice
	case RebuyKnife:
		fire = price <= rebuyPrice
	}
	if !fire {
		trailKnife()
		return nil
	}

	// Disarm before returning: the latch permits exactly one re-entry
	pos.DisarmRebuy()

	sig := g.sizeEntry(symbol, price, equity, true)
	if sig == nil {
		return nil
	}
	sig.Confidence = 0.75
	sig.Event = Event{Kind: EventRebuy, Mode: mode}

	g.logger.Info().
		Str("symbol", symbol).
		Str("mode", string(mode)).
		Float64("price", price).
		Float64("rebuy_price", rebuyPrice).
		Msg("rebuy fired")
	return sig
}

// sizeEntry computes quantity, stop-loss and take-profit for a new entry.
// Returns nil when the risk-per-unit degenerates to (near) zero.
func (g *Generator) sizeEntry(symbol string, price, equity float64, isRebuy bool) *Signal {
	riskPerUnit := price * g.cfg.StopLossPct
	if riskPerUnit < riskEpsilon {
		g.logger.Error().
			Str("symbol", symbol).
			Float64("price", price).
			Msg("discarding entry: risk per unit is zero")
		return nil
	}

	dollars := g.trading.PositionSizePct * equity
	if dollars <= 0 {
		return nil
	}
	quantity := dollars / riskPerUnit

	// The risk budget can imply an outsized position; the notional ceilings
	// bound what actually gets committed
	ceiling := g.trading.MaxNotional
	if isRebuy {
		ceiling = g.rebuy.MaxNotional
	}
	if ceiling > 0 && quantity*price > ceiling {
		quantity = ceiling / price
	}

	size := quantity * price / equity
	if size > 1 {
		size = 1
	}

	return &Signal{
		Action:     ActionBuy,
		Symbol:     symbol,
		Price:      price,
		Quantity:   quantity,
		Size:       size,
		StopLoss:   price * (1 - g.cfg.StopLossPct),
		TakeProfit: price * (1 + g.cfg.TakeProfitPct),
		Timestamp:  g.now(),
	}
}

// ---------------------------------------------------------------------------
// Exit path — strict priority: crash, Bollinger upper, stop-loss, take-profit
// ---------------------------------------------------------------------------

func (g *Generator) evaluateExit(symbol string, klines []market.Kline, pos *PositionState, price, atr, fastLow float64) *Signal {
	pos.UpdatePeak(price)
	low := klines[len(klines)-1].Low

	if sig := g.checkCrashExit(symbol, pos, price, low, atr, fastLow); sig != nil {
		return sig
	}

	bands := indicators.Bollinger(klines, g.cfg.BBPeriod, g.cfg.BBStdDev)
	if bands.Upper > 0 && price >= bands.Upper {
		return g.sellSignal(symbol, pos, price, 0.95, Event{Kind: EventNormalExit, Reason: ExitBollinger})
	}

	if low <= pos.EntryPrice*(1-g.cfg.StopLossPct) {
		return g.sellSignal(symbol, pos, price, 0.9, Event{Kind: EventNormalExit, Reason: ExitStopLoss})
	}

	// Safety take-profit scales with volatility: wide bands raise the bar
	volMult := bands.WidthPct() / 0.04
	if volMult < 1 {
		volMult = 1
	} else if volMult > 2 {
		volMult = 2
	}
	if price >= pos.EntryPrice*(1+g.cfg.TakeProfitPct*volMult) {
		return g.sellSignal(symbol, pos, price, 0.7, Event{Kind: EventNormalExit, Reason: ExitTakeProfit})
	}

	return nil
}

// checkCrashExit detects an abrupt drop from the peak and, when it fires,
// arms the rebuy latch. The position itself is cleared by the orchestrator
// only after the exit order is confirmed.
func (g *Generator) checkCrashExit(symbol string, pos *PositionState, price, low, atr, fastLow float64) *Signal {
	peak := pos.PeakSinceEntry
	if peak <= 0 {
		return nil
	}

	atrTrigger := atr > 0 &&
		(peak-price >= g.cfg.CrashATRMult*atr || peak-low >= g.cfg.CrashATRMult*atr)

	// Drawdown is measured from the peak to both the close and the bar low,
	// so a deep wick trips the exit even when the close recovers
	drawdown := (peak - price) / peak
	if low > 0 && (peak-low)/peak > drawdown {
		drawdown = (peak - low) / peak
	}
	ddTrigger := drawdown >= g.cfg.CrashDDPct

	// Wick breach on the fast feed; skipped when no secondary feed is wired
	fastTrigger := fastLow > 0 && atr > 0 && peak-fastLow >= g.cfg.FastATRMult*atr

	if !atrTrigger && !ddTrigger && !fastTrigger {
		return nil
	}

	if g.cfg.CrashRequireProfit {
		// Exit must clear entry cost plus round-trip fees, slippage and the
		// configured minimum margin, otherwise fall through to normal exits
		breakeven := pos.EntryPrice * (1 + 2*g.cfg.FeePct + g.cfg.SlippagePct + g.cfg.CrashMinProfitPct)
		if price < breakeven {
			return nil
		}
	}

	pnl := (price - pos.EntryPrice) * pos.Quantity

	cooldown := time.Duration(g.rebuy.CooldownMinutes) * time.Minute
	if err := pos.ArmRebuy(price, cooldown, g.now()); err != nil {
		g.logger.Error().
			Err(err).
			Str("symbol", symbol).
			Msg("discarding crash exit: invariant violation")
		return nil
	}

	g.logger.Warn().
		Str("symbol", symbol).
		Float64("peak", peak).
		Float64("price", price).
		Float64("drawdown", drawdown).
		Float64("pnl", pnl).
		Float64("rebuy_price", pos.RebuyPrice).
		Msg("crash exit triggered, rebuy armed")

	return g.sellSignal(symbol, pos, price, 0.95, Event{Kind: EventCrashExit, Drawdown: drawdown})
}

// sellSignal builds a full-position sell at the current price
func (g *Generator) sellSignal(symbol string, pos *PositionState, price, confidence float64, event Event) *Signal {
	return &Signal{
		Action:     ActionSell,
		Symbol:     symbol,
		Price:      price,
		Quantity:   pos.Quantity,
		Size:       1,
		Confidence: confidence,
		Event:      event,
		Timestamp:  g.now(),
	}
}

// SetClock overrides the generator's clock; used by tests
func (g *Generator) SetClock(now func() time.Time) {
	g.now = now
}
