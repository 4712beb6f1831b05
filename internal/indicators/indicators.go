// Package indicators provides the technical indicators the signal generator
// and confidence scorer read. All functions are pure, operate on the trailing
// end of a kline window, and return neutral values when data is insufficient.
package indicators

import (
	"math"

	"crypto-autotrader/internal/market"
)

// SMA calculates the Simple Moving Average of closes over period
func SMA(klines []market.Kline, period int) float64 {
	if period <= 0 || len(klines) < period {
		return 0
	}
	sum := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		sum += klines[i].Close
	}
	return sum / float64(period)
}

// EMA calculates the Exponential Moving Average of closes over period
func EMA(klines []market.Kline, period int) float64 {
	if period <= 0 || len(klines) < period {
		return 0
	}
	ema := SMA(klines[:period], period)
	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(klines); i++ {
		ema = (klines[i].Close * multiplier) + (ema * (1 - multiplier))
	}
	return ema
}

// RSI calculates the Relative Strength Index. Returns 50 (neutral) when
// there is not enough data and 100 when there are no losses in the window.
func RSI(klines []market.Kline, period int) float64 {
	if period <= 0 || len(klines) < period+1 {
		return 50.0
	}

	gains := 0.0
	losses := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// BollingerBands holds the three band values
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// WidthPct returns the band width as a fraction of the middle band,
// used to scale the safety take-profit with volatility
func (b BollingerBands) WidthPct() float64 {
	if b.Middle <= 0 {
		return 0
	}
	return (b.Upper - b.Lower) / b.Middle
}

// Bollinger calculates Bollinger Bands (SMA ± stdDevMult standard deviations)
func Bollinger(klines []market.Kline, period int, stdDevMult float64) BollingerBands {
	if period <= 0 || len(klines) < period {
		return BollingerBands{}
	}

	middle := SMA(klines, period)
	variance := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		diff := klines[i].Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return BollingerBands{
		Upper:  middle + stdDev*stdDevMult,
		Middle: middle,
		Lower:  middle - stdDev*stdDevMult,
	}
}

// ATR calculates the Average True Range over period
func ATR(klines []market.Kline, period int) float64 {
	if period <= 0 || len(klines) < period+1 {
		return 0
	}

	trSum := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		high := klines[i].High
		low := klines[i].Low
		prevClose := klines[i-1].Close

		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trSum += tr
	}
	return trSum / float64(period)
}

// AverageVolume calculates mean volume over the trailing period
func AverageVolume(klines []market.Kline, period int) float64 {
	if period <= 0 {
		return 0
	}
	if len(klines) < period {
		period = len(klines)
	}
	if period == 0 {
		return 0
	}
	sum := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		sum += klines[i].Volume
	}
	return sum / float64(period)
}

// Momentum calculates the percentage change over the trailing period bars.
// Returns 0 when there is not enough data or the past price is degenerate.
func Momentum(klines []market.Kline, period int) float64 {
	if period <= 0 || len(klines) < period+1 {
		return 0
	}
	past := klines[len(klines)-period-1].Close
	if past <= 0 {
		return 0
	}
	current := klines[len(klines)-1].Close
	return (current - past) / past * 100
}

// SwingLows finds local-minimum support levels: bars whose low is the lowest
// within a centered window of the given size. Returns levels oldest first.
func SwingLows(klines []market.Kline, window int) []float64 {
	if window < 3 || len(klines) < window {
		return nil
	}
	half := window / 2

	var levels []float64
	for i := half; i < len(klines)-half; i++ {
		low := klines[i].Low
		isSwing := true
		for j := i - half; j <= i+half; j++ {
			if j != i && klines[j].Low < low {
				isSwing = false
				break
			}
		}
		if isSwing {
			levels = append(levels, low)
		}
	}
	return levels
}

// NearSupport reports whether price sits within tolerance (a fraction, e.g.
// 0.02) of any detected swing-low support level
func NearSupport(klines []market.Kline, price float64, window int, tolerance float64) bool {
	if price <= 0 {
		return false
	}
	for _, level := range SwingLows(klines, window) {
		if level <= 0 {
			continue
		}
		if math.Abs(price-level)/level <= tolerance {
			return true
		}
	}
	return false
}
