package candles_test

import (
	"testing"

	"github.com/alejandrodnm/binarybot/internal/candles"
	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/stretchr/testify/assert"
)

func rising(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestRSI(t *testing.T) {
	assert.InDelta(t, 50.0, candles.RSI([]float64{1, 2, 3}, 14), 1e-12)
	assert.InDelta(t, 100.0, candles.RSI(rising(20, 100, 1), 14), 1e-12)
	assert.InDelta(t, 0.0, candles.RSI(rising(20, 100, -1), 14), 1e-12)

	// Equal gains and losses: RSI 50.
	alt := []float64{100}
	for i := 0; i < 14; i++ {
		if i%2 == 0 {
			alt = append(alt, alt[len(alt)-1]+1)
		} else {
			alt = append(alt, alt[len(alt)-1]-1)
		}
	}
	assert.InDelta(t, 50.0, candles.RSI(alt, 14), 1e-9)
}

func TestEMA(t *testing.T) {
	assert.InDelta(t, 7.0, candles.EMA([]float64{5, 7}, 10), 1e-12)
	flat := []float64{3, 3, 3, 3}
	assert.InDelta(t, 3.0, candles.EMA(flat, 3), 1e-12)

	// Seeded from closes[len-period]: period 2 over {1,2,4} → seed 2, then 4.
	alpha := 2.0 / 3.0
	assert.InDelta(t, 4*alpha+2*(1-alpha), candles.EMA([]float64{1, 2, 4}, 2), 1e-12)
}

func TestSignals_BullTrend(t *testing.T) {
	w := candles.NewWindow(0)
	w.Replace(series(rising(40, 100, 0.5)...))

	sig := w.Signals()
	assert.Equal(t, domain.TrendBull, sig.Trend)
	assert.Greater(t, sig.Strength, 0.5)
	assert.LessOrEqual(t, sig.Strength, 1.0)
	assert.Equal(t, domain.StateOverbought, sig.State)
	assert.Greater(t, sig.Velocity, 0.0)
}

func TestSignals_BearTrend(t *testing.T) {
	w := candles.NewWindow(0)
	w.Replace(series(rising(40, 200, -0.5)...))

	sig := w.Signals()
	assert.Equal(t, domain.TrendBear, sig.Trend)
	assert.Equal(t, domain.StateOversold, sig.State)
	assert.Less(t, sig.Velocity, 0.0)
}

func TestSignals_EmptyWindowIsNeutral(t *testing.T) {
	sig := candles.NewWindow(0).Signals()
	assert.Equal(t, domain.TrendNeutral, sig.Trend)
	assert.Equal(t, domain.StateNeutral, sig.State)
	assert.Zero(t, sig.Strength)
}
