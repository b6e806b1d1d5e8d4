package sizing_test

import (
	"testing"

	"github.com/alejandrodnm/binarybot/internal/pricing"
	"github.com/alejandrodnm/binarybot/internal/sizing"
	"github.com/stretchr/testify/assert"
)

func TestSize_Scenario(t *testing.T) {
	stake := sizing.Size(100, 0.70, 0.55, 0.02, 0.25, 0.10, 1)
	assert.Greater(t, stake, 0.0)
	assert.LessOrEqual(t, stake, 10.0)
}

func TestSize_RejectsBadInputs(t *testing.T) {
	assert.Zero(t, sizing.Size(0, 0.7, 0.5, 0.02, 0.25, 0.1, 1))
	assert.Zero(t, sizing.Size(-5, 0.7, 0.5, 0.02, 0.25, 0.1, 1))
	assert.Zero(t, sizing.Size(100, 0, 0.5, 0.02, 0.25, 0.1, 1))
	assert.Zero(t, sizing.Size(100, 1, 0.5, 0.02, 0.25, 0.1, 1))
	assert.Zero(t, sizing.Size(100, 0.7, 0, 0.02, 0.25, 0.1, 1))
	assert.Zero(t, sizing.Size(100, 0.7, 1, 0.02, 0.25, 0.1, 1))
}

func TestSize_ZeroWhenEdgeNotPositive(t *testing.T) {
	for _, p := range []float64{0.05, 0.2, 0.4, 0.5, 0.55, 0.6, 0.7, 0.9, 0.95} {
		for _, price := range []float64{0.1, 0.3, 0.5, 0.55, 0.7, 0.9} {
			if pricing.Edge(p, price, 0.02) <= 0 {
				assert.Zero(t, sizing.Size(1000, p, price, 0.02, 0.25, 0.1, 1), "p=%v price=%v", p, price)
			}
		}
	}
}

func TestSize_NeverExceedsCaps(t *testing.T) {
	for _, maxFrac := range []float64{0.05, 0.1, 0.5, 1.0, 2.0} {
		for _, p := range []float64{0.6, 0.8, 0.99} {
			stake := sizing.Size(1000, p, 0.2, 0.02, 1.0, maxFrac, 1)
			limit := 1000 * maxFrac
			if limit > 950 {
				limit = 950
			}
			assert.LessOrEqual(t, stake, limit+1e-9)
		}
	}
}

func TestSize_MinBet(t *testing.T) {
	assert.Zero(t, sizing.Size(10, 0.7, 0.55, 0.02, 0.25, 0.1, 5))
}

func TestSize_MonotoneInEdge(t *testing.T) {
	prev := 0.0
	for p := 0.50; p < 0.99; p += 0.01 {
		s := sizing.Size(1000, p, 0.5, 0.02, 0.25, 0.5, 1)
		assert.GreaterOrEqual(t, s, prev, "p=%v", p)
		prev = s
	}
	prev = 0
	for price := 0.90; price > 0.05; price -= 0.01 {
		s := sizing.Size(1000, 0.7, price, 0.02, 0.25, 0.5, 1)
		assert.GreaterOrEqual(t, s, prev, "price=%v", price)
		prev = s
	}
}

func TestSize_Deterministic(t *testing.T) {
	a := sizing.Size(4000, 0.81, 0.62, 0.02, 0.25, 0.1, 1)
	b := sizing.Size(4000, 0.81, 0.62, 0.02, 0.25, 0.1, 1)
	assert.Equal(t, a, b)
}

func TestRoundCents(t *testing.T) {
	assert.Equal(t, 12.34, sizing.RoundCents(12.349))
	assert.Equal(t, 0.0, sizing.RoundCents(0.009))
	assert.Equal(t, 5.0, sizing.RoundCents(5))
}

func TestSizer_Stake(t *testing.T) {
	s := sizing.NewSizer(sizing.Sizer{FeeRate: 0.02, MaxBetAmount: 50})
	assert.Equal(t, 0.25, s.KellyFraction)
	assert.Equal(t, 0.10, s.MaxBetFraction)

	stake := s.Stake(4000, 0.9, 0.5)
	assert.Equal(t, 50.0, stake)

	stake = s.Stake(100, 0.70, 0.55)
	assert.Greater(t, stake, 0.0)
	assert.LessOrEqual(t, stake, 10.0)
	assert.Equal(t, sizing.RoundCents(stake), stake)

	assert.Zero(t, s.Stake(100, 0.4, 0.55))
}
