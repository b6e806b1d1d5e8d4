package domain

import "time"

// Candle is one OHLC bar of the reference asset. Candles are immutable once
// appended to a window.
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// VolatilityEstimate is derived from the last N candles on demand and never
// persisted. All volatilities are annualized.
type VolatilityEstimate struct {
	Realized  float64
	Parkinson float64
	Blended   float64
	Drift     float64
	Samples   int
}
