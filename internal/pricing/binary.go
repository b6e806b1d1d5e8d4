// Package pricing turns spot, strike, volatility, drift and time-to-expiry
// into a fair probability for a cash-or-nothing binary contract, and prices
// the edge of buying it at the venue ask.
package pricing

import (
	"math"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

const (
	SecondsPerYear  = 31_557_600 // 365.25 days
	DefaultVolScale = 1.2

	MinProb = 0.001
	MaxProb = 0.999

	negligibleSigma = 1e-10
)

// NormCDF is the standard normal CDF via the complementary error function.
func NormCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// Clip limits p to [MinProb, MaxProb].
func Clip(p float64) float64 {
	return math.Max(MinProb, math.Min(MaxProb, p))
}

func step(spot, strike float64) float64 {
	if spot > strike {
		return 1
	}
	return 0
}

// FairProbability returns P(spot ends above strike) under a lognormal model
// with drift: Φ(d2), d2 = (ln(S/K) + (μ − σ²/2)T) / (σ√T).
//
// At or past expiry the answer is the deterministic step 1/0. Non-positive spot
// or strike returns 0.5 (corrupt input, no opinion). σ = blendedVol·volScale;
// a negligible σ degenerates to the step. Otherwise the result is clipped to
// [0.001, 0.999].
func FairProbability(spot, strike, blendedVol, ttlSeconds, drift, volScale float64) float64 {
	T := ttlSeconds / SecondsPerYear
	if T <= 0 {
		return step(spot, strike)
	}
	if spot <= 0 || strike <= 0 {
		return 0.5
	}
	if volScale <= 0 {
		volScale = DefaultVolScale
	}
	sigma := blendedVol * volScale
	if sigma <= negligibleSigma {
		return step(spot, strike)
	}
	sqrtT := math.Sqrt(T)
	d2 := (math.Log(spot/strike) + (drift-0.5*sigma*sigma)*T) / (sigma * sqrtT)
	return Clip(NormCDF(d2))
}

// ForSide converts the probability of finishing above the strike into the
// probability that the held token pays out. A NO token or a BELOW market each
// flip it.
func ForSide(probAbove float64, side domain.Side, dir domain.Direction) float64 {
	p := probAbove
	if side == domain.SideNo {
		p = 1 - p
	}
	if dir == domain.DirectionBelow {
		p = 1 - p
	}
	return p
}

// Edge is the expected value per unit price of buying at marketPrice:
// p(1−m)(1−f) − (1−p)m. Returns -1 when marketPrice is outside (0,1).
func Edge(fairProb, marketPrice, feeRate float64) float64 {
	if marketPrice <= 0 || marketPrice >= 1 {
		return -1
	}
	return fairProb*(1-marketPrice)*(1-feeRate) - (1-fairProb)*marketPrice
}

// Confidence scores how much the model output can be trusted, in [0,1].
// Few candles, little time left or extreme volatility each cut it.
func Confidence(nCandles int, vol, ttlSeconds float64) float64 {
	c := 1.0
	switch {
	case nCandles < 5:
		c *= 0.2
	case nCandles < 10:
		c *= 0.5
	case nCandles < 20:
		c *= 0.8
	}
	switch {
	case ttlSeconds < 30:
		c *= 0.3
	case ttlSeconds < 60:
		c *= 0.6
	}
	switch {
	case vol > 5.0:
		c *= 0.5
	case vol < 0.05:
		c *= 0.4
	}
	return c
}
