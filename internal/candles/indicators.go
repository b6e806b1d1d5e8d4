package candles

import (
	"math"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

const (
	rsiPeriod  = 14
	emaFast    = 10
	emaSlow    = 20
	neutralRSI = 50.0
)

// RSI uses simple averages of the last period deltas. Not enough data reads
// as neutral (50); no losses reads as 100.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return neutralRSI
	}
	var gain, loss float64
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		return 100
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100 - 100/(1+rs)
}

// EMA is seeded with closes[len-period] and run over the remaining closes.
// With fewer than period closes it falls back to the last close.
func EMA(closes []float64, period int) float64 {
	if len(closes) == 0 {
		return 0
	}
	if len(closes) < period {
		return closes[len(closes)-1]
	}
	alpha := 2 / float64(period+1)
	ema := closes[len(closes)-period]
	for _, c := range closes[len(closes)-period+1:] {
		ema = c*alpha + ema*(1-alpha)
	}
	return ema
}

// Signals derives trend strength and RSI state from the window.
func (w *Window) Signals() domain.Signals {
	closes := w.Closes()
	sig := domain.Signals{Trend: domain.TrendNeutral, State: domain.StateNeutral, RSI: neutralRSI}
	if len(closes) == 0 {
		return sig
	}

	spot := closes[len(closes)-1]
	drift := Drift(w.Last(DefaultDriftWindow))
	fast, slow := EMA(closes, emaFast), EMA(closes, emaSlow)

	if slow > 0 {
		sig.EMAGap = (fast/slow - 1) * 100
	}
	switch {
	case fast > slow:
		sig.Trend = domain.TrendBull
		s := sig.EMAGap * 2
		if spot > fast {
			s += 0.3
		}
		if drift > 0 {
			s += 0.2
		}
		sig.Strength = math.Min(1, s)
	case fast < slow:
		sig.Trend = domain.TrendBear
		s := math.Abs(sig.EMAGap) * 2
		if spot < fast {
			s += 0.3
		}
		if drift < 0 {
			s += 0.2
		}
		sig.Strength = math.Min(1, s)
	}

	sig.RSI = RSI(closes, rsiPeriod)
	switch r := sig.RSI; {
	case r >= 80:
		sig.State = domain.StateOverbought
	case r <= 20:
		sig.State = domain.StateOversold
	case r >= 60:
		sig.State = domain.StateStrongTrendUp
	case r <= 40:
		sig.State = domain.StateStrongTrendDown
	}

	if n := len(closes); n >= 2 && closes[n-2] > 0 {
		sig.Velocity = (closes[n-1]/closes[n-2] - 1) * 10_000
	}
	return sig
}
