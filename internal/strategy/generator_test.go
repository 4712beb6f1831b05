package strategy

import (
	"math"
	"testing"
	"time"

	"crypto-autotrader/config"
	"crypto-autotrader/internal/logging"
	"crypto-autotrader/internal/market"
)

func testGenerator() *Generator {
	cfg := config.Default()
	return NewGenerator(cfg.StrategyConfig, cfg.RebuyConfig, cfg.TradingConfig, logging.Nop())
}

// flatBars builds n bars closing at price with the given volume
func flatBars(n int, price, volume float64) []market.Kline {
	klines := make([]market.Kline, n)
	for i := range klines {
		klines[i] = market.Kline{
			OpenTime: int64(i) * 60_000,
			Open:     price,
			High:     price,
			Low:      price,
			Close:    price,
			Volume:   volume,
		}
	}
	return klines
}

// withLastBar replaces the final bar
func withLastBar(klines []market.Kline, close, low, volume float64) []market.Kline {
	out := make([]market.Kline, len(klines))
	copy(out, klines)
	last := out[len(out)-1]
	last.Close = close
	last.Low = low
	last.High = math.Max(last.Open, close)
	last.Volume = volume
	out[len(out)-1] = last
	return out
}

func TestNoSignalWithInsufficientBars(t *testing.T) {
	g := testGenerator()
	pos := NewPositionState("BTCUSDT")

	if sig := g.Evaluate("BTCUSDT", flatBars(10, 100, 1000), pos, 10000, 1, 0); sig != nil {
		t.Errorf("expected no signal with %d bars, got %+v", 10, sig)
	}
}

func TestNoEntryAboveLowerBand(t *testing.T) {
	g := testGenerator()
	pos := NewPositionState("BTCUSDT")

	// Last close ticks up: price sits above the lower band so the gate fails
	klines := withLastBar(flatBars(60, 100, 1000), 100.5, 100, 1000)
	if sig := g.Evaluate("BTCUSDT", klines, pos, 10000, 1, 0); sig != nil {
		t.Errorf("expected no entry without the Bollinger gate, got %+v", sig)
	}
}

// TestEntryThreeConfirmationsNoSignal: gate + RSI + volume = 3 of 6, below threshold.
// The deep drop to 85 breaks the 50-SMA distance filter (-14.7%) and trips the
// severe-downtrend filter (10-bar change of exactly -15%).
func TestEntryThreeConfirmationsNoSignal(t *testing.T) {
	g := testGenerator()
	pos := NewPositionState("BTCUSDT")
	klines := withLastBar(flatBars(60, 100, 1000), 85, 85, 2000)

	if sig := g.Evaluate("BTCUSDT", klines, pos, 10000, 1, 0); sig != nil {
		t.Errorf("3 of 6 confirmations must not produce a buy, got %+v", sig)
	}
}

// TestEntryFourConfirmationsBuys: gate + RSI + volume + not-severe-downtrend = 4 of 6.
// The drop to 88 keeps the 10-bar change at -12% (trend filter passes) but the
// 50-SMA distance is -11.8% so higher-timeframe support still fails.
func TestEntryFourConfirmationsBuys(t *testing.T) {
	g := testGenerator()
	pos := NewPositionState("BTCUSDT")
	klines := withLastBar(flatBars(60, 100, 1000), 88, 88, 2000)

	sig := g.Evaluate("BTCUSDT", klines, pos, 10000, 1, 0)
	if sig == nil {
		t.Fatal("4 of 6 confirmations must produce a buy")
	}
	if sig.Action != ActionBuy {
		t.Errorf("action = %s, want BUY", sig.Action)
	}
	if sig.Event.Kind != EventEntry {
		t.Errorf("event kind = %s, want entry", sig.Event.Kind)
	}
	if sig.Event.Confirmations != 4 {
		t.Errorf("confirmations = %d, want 4", sig.Event.Confirmations)
	}
	if math.Abs(sig.Confidence-0.65) > 1e-9 {
		t.Errorf("confidence = %v, want 0.65 at the 4-confirmation floor", sig.Confidence)
	}
	if sig.StopLoss <= 0 || sig.StopLoss >= sig.Price {
		t.Errorf("stop loss %v must sit below entry %v", sig.StopLoss, sig.Price)
	}
}

// TestEntryConfidenceScalesWithConfirmations: the shallower drop to 90 keeps
// higher-timeframe support intact, and with the volume spike the count reaches
// 5 and confidence 0.80.
func TestEntryConfidenceScalesWithConfirmations(t *testing.T) {
	g := testGenerator()
	pos := NewPositionState("BTCUSDT")
	klines := withLastBar(flatBars(60, 100, 1000), 90, 90, 2000)

	sig := g.Evaluate("BTCUSDT", klines, pos, 10000, 1, 0)
	if sig == nil {
		t.Fatal("5 of 6 confirmations must produce a buy")
	}
	if sig.Event.Confirmations != 5 {
		t.Fatalf("confirmations = %d, want 5", sig.Event.Confirmations)
	}
	if math.Abs(sig.Confidence-0.80) > 1e-9 {
		t.Errorf("confidence = %v, want 0.80 with 5 confirmations", sig.Confidence)
	}
}

func TestEntrySizingRespectsCeiling(t *testing.T) {
	g := testGenerator() // position_size_pct 0.10, max_notional 2000, stop 2%
	pos := NewPositionState("BTCUSDT")
	klines := withLastBar(flatBars(60, 100, 1000), 88, 88, 2000)

	sig := g.Evaluate("BTCUSDT", klines, pos, 100000, 1, 0)
	if sig == nil {
		t.Fatal("expected a buy signal")
	}
	// The 10k risk budget implies a huge position; the notional ceiling
	// clips it to 2000 committed
	wantQty := 2000.0 / 88
	if math.Abs(sig.Quantity-wantQty) > 1e-6 {
		t.Errorf("quantity = %v, want %v (capped at max notional)", sig.Quantity, wantQty)
	}
	if math.Abs(sig.Size-0.02) > 1e-9 {
		t.Errorf("size fraction = %v, want 0.02 (2000 of 100000)", sig.Size)
	}
}

// TestExitPriorityBollingerBeatsStopLoss: a bar that satisfies both the
// Bollinger-upper exit and the stop-loss exit must report the Bollinger path.
func TestExitPriorityBollingerBeatsStopLoss(t *testing.T) {
	// The 95 wick is also a deep drawdown from the peak, so the crash
	// threshold is raised out of the way to isolate the two normal exits
	cfg := config.Default()
	cfg.StrategyConfig.CrashDDPct = 0.5
	g := NewGenerator(cfg.StrategyConfig, cfg.RebuyConfig, cfg.TradingConfig, logging.Nop())

	pos := NewPositionState("BTCUSDT")
	pos.ApplyEntryFill(100, 1, time.Now())

	// Close 120 blows through the upper band; low 95 is under the 2% stop
	klines := withLastBar(flatBars(60, 100, 1000), 120, 95, 1000)

	sig := g.Evaluate("BTCUSDT", klines, pos, 10000, 0, 0)
	if sig == nil {
		t.Fatal("expected an exit signal")
	}
	if sig.Action != ActionSell {
		t.Fatalf("action = %s, want SELL", sig.Action)
	}
	if sig.Event.Kind != EventNormalExit || sig.Event.Reason != ExitBollinger {
		t.Errorf("event = %+v, want normal_exit/bollinger_upper (checked before stop-loss)", sig.Event)
	}
	if sig.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", sig.Confidence)
	}
}

func TestExitStopLoss(t *testing.T) {
	g := testGenerator()
	pos := NewPositionState("BTCUSDT")
	pos.ApplyEntryFill(100, 1, time.Now())

	// Close back at 99 but the bar's low pierced the 2% stop
	klines := withLastBar(flatBars(60, 100, 1000), 99, 97.5, 1000)

	sig := g.Evaluate("BTCUSDT", klines, pos, 10000, 0, 0)
	if sig == nil {
		t.Fatal("expected a stop-loss exit")
	}
	if sig.Event.Reason != ExitStopLoss {
		t.Errorf("reason = %s, want stop_loss", sig.Event.Reason)
	}
	if sig.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", sig.Confidence)
	}
}

// TestCrashExitScenario replays the reference scenario: entry $100, ATR $1,
// peak $110, drop to $106.90 ($3.10 >= 3xATR) with the profit gate active and
// breakeven at $100.50. The exit fires and arms the rebuy at ~$104.76.
func TestCrashExitScenario(t *testing.T) {
	cfg := config.Default()
	cfg.StrategyConfig.CrashRequireProfit = true
	cfg.StrategyConfig.FeePct = 0.002
	cfg.StrategyConfig.SlippagePct = 0.0005
	cfg.StrategyConfig.CrashMinProfitPct = 0.0005 // breakeven 100 * 1.005 = 100.50
	g := NewGenerator(cfg.StrategyConfig, cfg.RebuyConfig, cfg.TradingConfig, logging.Nop())

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })

	pos := NewPositionState("BTCUSDT")
	pos.ApplyEntryFill(100, 1, now.Add(-time.Hour))
	pos.UpdatePeak(110)

	klines := withLastBar(flatBars(60, 108, 1000), 106.90, 106.90, 1000)

	sig := g.Evaluate("BTCUSDT", klines, pos, 10000, 1.0, 0)
	if sig == nil {
		t.Fatal("expected a crash exit")
	}
	if sig.Event.Kind != EventCrashExit {
		t.Fatalf("event kind = %s, want crash_exit", sig.Event.Kind)
	}
	if sig.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", sig.Confidence)
	}
	if !pos.RebuyArmed {
		t.Fatal("crash exit must arm the rebuy latch")
	}
	wantRebuy := 106.90 * 0.98
	if math.Abs(pos.RebuyPrice-wantRebuy) > 1e-9 {
		t.Errorf("rebuy price = %v, want %v", pos.RebuyPrice, wantRebuy)
	}
	wantReady := now.Add(15 * time.Minute)
	if !pos.RebuyReadyAt.Equal(wantReady) {
		t.Errorf("rebuy ready at %v, want %v", pos.RebuyReadyAt, wantReady)
	}
	// The generator must not clear the position; that happens on fill
	if !pos.Open() {
		t.Error("position must stay open until the exit order is confirmed")
	}
}

// TestCrashExitProfitGateSuppresses verifies the profit requirement blocks a
// crash exit that would sell below breakeven.
func TestCrashExitProfitGateSuppresses(t *testing.T) {
	cfg := config.Default()
	cfg.StrategyConfig.CrashRequireProfit = true
	cfg.StrategyConfig.FeePct = 0.002
	cfg.StrategyConfig.SlippagePct = 0.0005
	cfg.StrategyConfig.CrashMinProfitPct = 0.0005
	g := NewGenerator(cfg.StrategyConfig, cfg.RebuyConfig, cfg.TradingConfig, logging.Nop())

	pos := NewPositionState("BTCUSDT")
	pos.ApplyEntryFill(100, 1, time.Now())
	pos.UpdatePeak(103)

	// Drop of 3.1 >= 3xATR but 99.9 is below the 100.50 breakeven
	klines := withLastBar(flatBars(60, 101, 1000), 99.9, 99.9, 1000)

	sig := g.Evaluate("BTCUSDT", klines, pos, 10000, 1.0, 0)
	if sig != nil && sig.Event.Kind == EventCrashExit {
		t.Errorf("profit gate must suppress the crash exit, got %+v", sig)
	}
	if pos.RebuyArmed {
		t.Error("suppressed crash exit must not arm the rebuy latch")
	}
}

// TestCrashThenRebuyOrdering walks the full crash -> cooldown -> rebuy cycle
func TestCrashThenRebuyOrdering(t *testing.T) {
	cfg := config.Default()
	cfg.RebuyConfig.Dynamic = false // fire on the fixed crash-derived level
	g := NewGenerator(cfg.StrategyConfig, cfg.RebuyConfig, cfg.TradingConfig, logging.Nop())

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })

	pos := NewPositionState("BTCUSDT")
	pos.ApplyEntryFill(100, 1, now.Add(-time.Hour))
	pos.UpdatePeak(110)

	crash := withLastBar(flatBars(60, 108, 1000), 104, 104, 1000)
	sig := g.Evaluate("BTCUSDT", crash, pos, 10000, 1.0, 0)
	if sig == nil || sig.Event.Kind != EventCrashExit {
		t.Fatalf("expected crash exit, got %+v", sig)
	}
	if !pos.RebuyArmed {
		t.Fatal("rebuy must be armed")
	}

	// Exit confirmed: the orchestrator clears the position
	pos.ApplyExitFill(104, now)
	rebuyPrice := pos.RebuyPrice // 104 * 0.98 = 101.92

	// Price above the rebuy level but cooldown not elapsed: no entry
	recovered := withLastBar(flatBars(60, 103, 1000), 103, 103, 1000)
	if sig := g.Evaluate("BTCUSDT", recovered, pos, 10000, 1.0, 0); sig != nil {
		t.Errorf("no entry may fire during the cooldown, got %+v", sig)
	}

	// Cooldown elapsed but price below the confirmation level: still nothing
	now = now.Add(16 * time.Minute)
	tooLow := withLastBar(flatBars(60, 101, 1000), 101, 101, 1000)
	if sig := g.Evaluate("BTCUSDT", tooLow, pos, 10000, 1.0, 0); sig != nil {
		t.Errorf("confirmation rebuy needs price >= %v, got signal %+v", rebuyPrice, sig)
	}
	if !pos.RebuyArmed {
		t.Fatal("latch must stay armed until it fires")
	}

	// Cooldown elapsed and price recovered: the rebuy fires exactly once
	sig = g.Evaluate("BTCUSDT", recovered, pos, 10000, 1.0, 0)
	if sig == nil {
		t.Fatal("expected rebuy to fire")
	}
	if sig.Action != ActionBuy || sig.Event.Kind != EventRebuy {
		t.Errorf("expected rebuy buy, got %+v", sig)
	}
	if sig.Event.Mode != RebuyConfirmation {
		t.Errorf("mode = %s, want confirmation", sig.Event.Mode)
	}
	if pos.RebuyArmed {
		t.Error("latch must disarm when the rebuy fires")
	}

	// The ceiling for rebuy entries is the tighter rebuy notional
	wantQty := cfg.RebuyConfig.MaxNotional / 103
	if math.Abs(sig.Quantity-wantQty) > 1e-6 {
		t.Errorf("rebuy quantity = %v, want %v (rebuy ceiling)", sig.Quantity, wantQty)
	}
}

// TestKnifeRebuyFiresOnAbruptDrop: knife mode compares against the previous
// cycle's trailing level and fires when price falls 2.5% below it.
func TestKnifeRebuyFiresOnAbruptDrop(t *testing.T) {
	cfg := config.Default()
	cfg.RebuyConfig.Mode = "knife"
	g := NewGenerator(cfg.StrategyConfig, cfg.RebuyConfig, cfg.TradingConfig, logging.Nop())

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })

	pos := NewPositionState("ETHUSDT")
	if err := pos.ArmRebuy(100, 0, now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	// Latch at 100 * 0.98 = 98

	// First cycle at 100: no fire, level trails down to 97.5
	steady := withLastBar(flatBars(60, 100, 1000), 100, 100, 1000)
	if sig := g.Evaluate("ETHUSDT", steady, pos, 10000, 1.0, 0); sig != nil {
		t.Fatalf("price 100 above the 98 level must not fire, got %+v", sig)
	}
	if math.Abs(pos.RebuyPrice-97.5) > 1e-9 {
		t.Fatalf("knife level should trail to 97.5, got %v", pos.RebuyPrice)
	}

	// Abrupt drop below the trailed level fires the knife buy
	dropped := withLastBar(flatBars(60, 100, 1000), 97, 97, 1000)
	sig := g.Evaluate("ETHUSDT", dropped, pos, 10000, 1.0, 0)
	if sig == nil {
		t.Fatal("expected knife rebuy at 97 <= 97.5")
	}
	if sig.Event.Mode != RebuyKnife {
		t.Errorf("mode = %s, want knife", sig.Event.Mode)
	}
	if pos.RebuyArmed {
		t.Error("latch must disarm after firing")
	}
}

// TestArmedLatchBlocksFreshEntries: while armed, even a perfect Bollinger
// setup must not produce a standard entry.
func TestArmedLatchBlocksFreshEntries(t *testing.T) {
	g := testGenerator()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })

	pos := NewPositionState("BTCUSDT")
	if err := pos.ArmRebuy(200, time.Hour, now); err != nil {
		t.Fatal(err)
	}

	// This window produces a 4-confirmation entry when unarmed
	klines := withLastBar(flatBars(60, 100, 1000), 88, 88, 2000)
	if sig := g.Evaluate("BTCUSDT", klines, pos, 10000, 1, 0); sig != nil {
		t.Errorf("armed latch must suppress standard entries, got %+v", sig)
	}
}

func TestTakeProfitScalesWithVolatility(t *testing.T) {
	g := testGenerator() // take_profit_pct 3%
	pos := NewPositionState("BTCUSDT")
	pos.ApplyEntryFill(100, 1, time.Now())

	// Flat series: zero band width, multiplier floors at 1 so 3% suffices.
	// 103.05 also stays below the degenerate upper band only if bands are
	// flat at 100... price above Upper triggers the Bollinger exit first,
	// so assert the exit fires with one of the two take-profit paths.
	klines := withLastBar(flatBars(60, 100, 1000), 103.05, 103, 1000)
	sig := g.Evaluate("BTCUSDT", klines, pos, 10000, 0, 0)
	if sig == nil {
		t.Fatal("expected an exit at 3.05% profit")
	}
	if sig.Event.Kind != EventNormalExit {
		t.Errorf("event kind = %s, want normal_exit", sig.Event.Kind)
	}
}

func TestZeroRiskPerUnitDiscardsEntry(t *testing.T) {
	cfg := config.Default()
	cfg.StrategyConfig.StopLossPct = 0 // degenerate configuration
	g := NewGenerator(cfg.StrategyConfig, cfg.RebuyConfig, cfg.TradingConfig, logging.Nop())

	pos := NewPositionState("BTCUSDT")
	klines := withLastBar(flatBars(60, 100, 1000), 88, 88, 2000)

	if sig := g.Evaluate("BTCUSDT", klines, pos, 10000, 1, 0); sig != nil {
		t.Errorf("zero risk per unit must discard the signal, got %+v", sig)
	}
}

// TestCrashExitFiresOnDeepWick: a bar wicking more than the drawdown
// threshold below the peak must crash-exit even when the close recovers and
// a large ATR keeps the absolute-drop triggers silent.
func TestCrashExitFiresOnDeepWick(t *testing.T) {
	g := testGenerator() // crash_dd_pct 5%, crash_atr_mult 3
	pos := NewPositionState("BTCUSDT")
	pos.ApplyEntryFill(100, 1, time.Now())
	pos.UpdatePeak(110)

	// Low 104 is 5.45% under the 110 peak; the close claws back to 107.
	// ATR 3 means neither absolute drop (3 and 6) reaches the 9 required.
	klines := withLastBar(flatBars(60, 108, 1000), 107, 104, 1000)

	sig := g.Evaluate("BTCUSDT", klines, pos, 10000, 3.0, 0)
	if sig == nil || sig.Event.Kind != EventCrashExit {
		t.Fatalf("deep wick drawdown must trigger a crash exit, got %+v", sig)
	}
	wantDD := (110.0 - 104.0) / 110.0
	if math.Abs(sig.Event.Drawdown-wantDD) > 1e-9 {
		t.Errorf("drawdown = %v, want %v measured to the bar low", sig.Event.Drawdown, wantDD)
	}
	if !pos.RebuyArmed {
		t.Error("crash exit must arm the rebuy latch")
	}
}

func TestFastFeedWickBreachTriggersCrash(t *testing.T) {
	g := testGenerator() // fast_atr_mult 2.5
	pos := NewPositionState("BTCUSDT")
	pos.ApplyEntryFill(100, 1, time.Now())
	pos.UpdatePeak(110)

	// Bar itself is calm (close 109) but the fast feed saw a deep wick
	klines := withLastBar(flatBars(60, 109, 1000), 109, 108.5, 1000)

	sig := g.Evaluate("BTCUSDT", klines, pos, 10000, 1.0, 107.0)
	if sig == nil || sig.Event.Kind != EventCrashExit {
		t.Fatalf("fast-feed wick breach (110-107 >= 2.5x1) must trigger a crash exit, got %+v", sig)
	}

	// Without the fast feed the same bar holds the position
	pos2 := NewPositionState("BTCUSDT")
	pos2.ApplyEntryFill(100, 1, time.Now())
	pos2.UpdatePeak(110)
	if sig := g.Evaluate("BTCUSDT", klines, pos2, 10000, 1.0, 0); sig != nil && sig.Event.Kind == EventCrashExit {
		t.Errorf("no crash exit expected without the fast feed, got %+v", sig)
	}
}
