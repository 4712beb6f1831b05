// Package scorer derives buy-target prices from a weighted blend of
// technical factors. A high composite score means conditions favor a quick
// entry, so the target sits close to the current price; a weak score pushes
// the target further below.
package scorer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"crypto-autotrader/internal/indicators"
	"crypto-autotrader/internal/market"
)

// Factor weights; they sum to 1.0
const (
	oversoldWeight   = 0.25
	bandWeight       = 0.20
	trendWeight      = 0.20
	volumeWeight     = 0.15
	supportWeight    = 0.10
	volatilityWeight = 0.10
)

// Discount bounds applied below the current price
const (
	minDiscount = 0.01
	maxDiscount = 0.05
)

// MomentumScorer scores entry conditions from a kline window
type MomentumScorer struct {
	source   market.DataSource
	interval string
	logger   zerolog.Logger
}

// NewMomentumScorer builds a scorer reading klines from source at interval
func NewMomentumScorer(source market.DataSource, interval string, logger zerolog.Logger) *MomentumScorer {
	return &MomentumScorer{
		source:   source,
		interval: interval,
		logger:   logger.With().Str("component", "scorer").Logger(),
	}
}

// TargetPrice computes a buy target below price. The composite score in
// [0, 1] maps linearly onto a discount between 5% (score 0) and 1% (score 1).
func (s *MomentumScorer) TargetPrice(ctx context.Context, symbol string, price float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("invalid price %v for %s", price, symbol)
	}

	klines, err := s.source.GetKlines(ctx, symbol, s.interval, 60)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
	}
	if len(klines) < market.MinBars {
		return 0, fmt.Errorf("insufficient history for %s: %d bars", symbol, len(klines))
	}

	score := s.compositeScore(klines, price)
	discount := maxDiscount - score*(maxDiscount-minDiscount)
	target := price * (1 - discount)

	s.logger.Debug().
		Str("symbol", symbol).
		Float64("price", price).
		Float64("score", score).
		Float64("target", target).
		Msg("target computed")
	return target, nil
}

func (s *MomentumScorer) compositeScore(klines []market.Kline, price float64) float64 {
	// Oversold depth: RSI 30 and below scores full, 70 and above zero
	rsi := indicators.RSI(klines, 14)
	oversold := clamp01((70 - rsi) / 40)

	// Band position: bottom of the Bollinger channel scores full
	bandPos := 0.5
	if bands := indicators.Bollinger(klines, 20, 2.0); bands.Upper > bands.Lower {
		bandPos = clamp01((bands.Upper - price) / (bands.Upper - bands.Lower))
	}

	// Trend: 10-bar momentum from -10% (zero) to +10% (full)
	trend := clamp01((indicators.Momentum(klines, 10) + 10) / 20)

	// Volume: ratio to the 20-bar average, 2x and above scores full
	volume := 0.5
	if avg := indicators.AverageVolume(klines, 20); avg > 0 {
		volume = clamp01(klines[len(klines)-1].Volume / avg / 2)
	}

	// Support proximity: binary, price within 2% of a swing low
	support := 0.0
	if indicators.NearSupport(klines, price, 5, 0.02) {
		support = 1.0
	}

	// Volatility: calmer markets score higher; 8% band width and above scores zero
	volatility := 0.5
	if bands := indicators.Bollinger(klines, 20, 2.0); bands.Middle > 0 {
		volatility = clamp01(1 - bands.WidthPct()/0.08)
	}

	return oversold*oversoldWeight +
		bandPos*bandWeight +
		trend*trendWeight +
		volume*volumeWeight +
		support*supportWeight +
		volatility*volatilityWeight
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
