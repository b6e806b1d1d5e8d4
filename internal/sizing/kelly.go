// Package sizing converts a probability edge into a bounded stake using
// fractional Kelly.
package sizing

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	DefaultKellyFraction  = 0.25
	DefaultMaxBetFraction = 0.10
	DefaultMinBet         = 1.0
	DefaultMaxBetAmount   = 50.0

	// BankrollBackstop is the absolute ceiling on any stake as a fraction of
	// bankroll, applied after every other cap.
	BankrollBackstop = 0.95
)

// Size returns the fractional-Kelly stake, or 0 when no bet should be made.
//
//	netWin = (1−price)(1−fee), b = netWin/price, f* = (b·p − q)/b
//	stake  = bankroll · min(f*·kellyFraction, maxBetFraction), capped at 95% of bankroll
func Size(bankroll, winProb, price, feeRate, kellyFraction, maxBetFraction, minBet float64) float64 {
	if bankroll <= 0 || winProb <= 0 || winProb >= 1 || price <= 0 || price >= 1 {
		return 0
	}
	netWin := (1 - price) * (1 - feeRate)
	if netWin <= 0 {
		return 0
	}
	b := netWin / price
	fStar := (b*winProb - (1 - winProb)) / b
	if fStar <= 0 {
		return 0
	}
	fActual := math.Min(fStar*kellyFraction, maxBetFraction)
	stake := bankroll * fActual
	if stake < minBet {
		return 0
	}
	return math.Min(stake, BankrollBackstop*bankroll)
}

// RoundCents rounds down to whole cents, so rounding never lifts a stake
// above a cap.
func RoundCents(x float64) float64 {
	return decimal.NewFromFloat(x).RoundFloor(2).InexactFloat64()
}

// Sizer carries the sizing configuration for a strategy.
type Sizer struct {
	FeeRate        float64
	KellyFraction  float64
	MaxBetFraction float64
	MinBet         float64
	MaxBetAmount   float64 // absolute cap per entry, 0 disables
}

// NewSizer fills zero-valued parameters with defaults.
func NewSizer(s Sizer) Sizer {
	if s.KellyFraction <= 0 {
		s.KellyFraction = DefaultKellyFraction
	}
	if s.MaxBetFraction <= 0 {
		s.MaxBetFraction = DefaultMaxBetFraction
	}
	if s.MinBet <= 0 {
		s.MinBet = DefaultMinBet
	}
	return s
}

// Stake sizes an entry, applies the absolute cap and rounds to cents.
// The result is 0 or at least MinBet.
func (s Sizer) Stake(bankroll, winProb, price float64) float64 {
	stake := Size(bankroll, winProb, price, s.FeeRate, s.KellyFraction, s.MaxBetFraction, s.MinBet)
	if stake == 0 {
		return 0
	}
	if s.MaxBetAmount > 0 {
		stake = math.Min(stake, s.MaxBetAmount)
	}
	stake = RoundCents(stake)
	if stake < s.MinBet {
		return 0
	}
	return stake
}
