package market

// Kline represents a single OHLCV candle
type Kline struct {
	OpenTime  int64   `json:"openTime"` // Unix milliseconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"closeTime"`
}

// MinBars is the smallest window the signal generator can evaluate;
// the 20-period Bollinger band plus the 30-bar trend filter need warm-up.
const MinBars = 30

// LowestLow returns the lowest low over the trailing lookback bars.
// Returns false when there is not enough data.
func LowestLow(klines []Kline, lookback int) (float64, bool) {
	if lookback <= 0 || len(klines) < lookback {
		return 0, false
	}
	low := klines[len(klines)-lookback].Low
	for _, k := range klines[len(klines)-lookback:] {
		if k.Low < low {
			low = k.Low
		}
	}
	return low, true
}
