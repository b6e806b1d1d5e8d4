package candles

import (
	"math"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

const (
	// MinutesPerYear annualizes 1-minute statistics (365.25 days).
	MinutesPerYear = 525960
	// DefaultVol is returned when there is not enough data. Deliberately high.
	DefaultVol = 1.0
)

var annualize = math.Sqrt(MinutesPerYear)

// logReturns returns ln(c_i/c_{i-1}) for consecutive positive closes.
func logReturns(candles []domain.Candle) []float64 {
	out := make([]float64, 0, len(candles))
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].Close, candles[i].Close
		if prev > 0 && cur > 0 {
			out = append(out, math.Log(cur/prev))
		}
	}
	return out
}

// RealizedVol is the annualized sample standard deviation of close-to-close
// log returns.
func RealizedVol(candles []domain.Candle) float64 {
	if len(candles) < 3 {
		return DefaultVol
	}
	rets := logReturns(candles)
	n := len(rets)
	if n < 2 {
		return DefaultVol
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(n)
	var ss float64
	for _, r := range rets {
		ss += (r - mean) * (r - mean)
	}
	return math.Sqrt(ss/float64(n-1)) * annualize
}

// ParkinsonVol is the annualized high/low range estimator
// sqrt(Σ ln(H/L)² / (4·n·ln2)). Bars with non-positive or inverted ranges are
// skipped.
func ParkinsonVol(candles []domain.Candle) float64 {
	if len(candles) < 3 {
		return DefaultVol
	}
	var sum float64
	valid := 0
	for _, c := range candles {
		if c.High <= 0 || c.Low <= 0 || c.High < c.Low {
			continue
		}
		l := math.Log(c.High / c.Low)
		sum += l * l
		valid++
	}
	if valid < 2 {
		return DefaultVol
	}
	return math.Sqrt(sum/(4*float64(valid)*math.Ln2)) * annualize
}

// BlendedVol averages the close-to-close and Parkinson estimators.
func BlendedVol(candles []domain.Candle) float64 {
	return (RealizedVol(candles) + ParkinsonVol(candles)) / 2
}

// Drift is the annualized mean log return. Returns 0 with fewer than 3 candles.
func Drift(candles []domain.Candle) float64 {
	if len(candles) < 3 {
		return 0
	}
	rets := logReturns(candles)
	if len(rets) == 0 {
		return 0
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	return mean / float64(len(rets)) * MinutesPerYear
}
