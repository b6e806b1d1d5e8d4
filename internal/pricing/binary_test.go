package pricing_test

import (
	"math"
	"testing"

	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/pricing"
	"github.com/stretchr/testify/assert"
)

func TestFairProbability_AtTheMoneyIsHalf(t *testing.T) {
	// With drift 0 the -σ²T/2 term is tiny at these horizons.
	for _, vol := range []float64{0.1, 0.5, 0.8, 2.0} {
		p := pricing.FairProbability(100, 100, vol, 300, 0, 1)
		assert.InDelta(t, 0.5, p, 0.01, "vol=%v", vol)
	}
}

func TestFairProbability_Scenarios(t *testing.T) {
	p := pricing.FairProbability(100, 100, 0.8, 300, 0, pricing.DefaultVolScale)
	assert.Greater(t, p, 0.40)
	assert.Less(t, p, 0.60)

	p = pricing.FairProbability(110, 100, 0.3, 300, 0, pricing.DefaultVolScale)
	assert.Greater(t, p, 0.90)
}

func TestFairProbability_ExpiryIsExactStep(t *testing.T) {
	for _, ttl := range []float64{0, -5} {
		assert.Equal(t, 1.0, pricing.FairProbability(101, 100, 5, ttl, 0, 1))
		assert.Equal(t, 0.0, pricing.FairProbability(99, 100, 5, ttl, 0, 1))
		assert.Equal(t, 0.0, pricing.FairProbability(100, 100, 5, ttl, 0, 1))
	}
}

func TestFairProbability_EdgeCases(t *testing.T) {
	assert.Equal(t, 0.5, pricing.FairProbability(0, 100, 0.5, 60, 0, 1))
	assert.Equal(t, 0.5, pricing.FairProbability(100, -1, 0.5, 60, 0, 1))
	assert.Equal(t, 1.0, pricing.FairProbability(101, 100, 0, 60, 0, 1))
	assert.Equal(t, 0.0, pricing.FairProbability(99, 100, 1e-12, 60, 0, 1))
}

func TestFairProbability_ClippedAndMonotone(t *testing.T) {
	prev := 0.0
	for spot := 80.0; spot <= 120; spot += 0.5 {
		p := pricing.FairProbability(spot, 100, 0.6, 600, 0.1, 1.2)
		assert.GreaterOrEqual(t, p, pricing.MinProb)
		assert.LessOrEqual(t, p, pricing.MaxProb)
		assert.GreaterOrEqual(t, p, prev, "spot=%v", spot)
		prev = p
	}
}

func TestFairProbability_DefaultVolScale(t *testing.T) {
	assert.Equal(t,
		pricing.FairProbability(101, 100, 0.5, 600, 0, 1.2),
		pricing.FairProbability(101, 100, 0.5, 600, 0, 0))
}

func TestNormCDF(t *testing.T) {
	assert.InDelta(t, 0.5, pricing.NormCDF(0), 1e-12)
	assert.InDelta(t, 0.841344746, pricing.NormCDF(1), 1e-8)
	assert.InDelta(t, 1-pricing.NormCDF(1.3), pricing.NormCDF(-1.3), 1e-12)
}

func TestForSide(t *testing.T) {
	assert.InDelta(t, 0.7, pricing.ForSide(0.7, domain.SideYes, domain.DirectionAbove), 1e-12)
	assert.InDelta(t, 0.3, pricing.ForSide(0.7, domain.SideNo, domain.DirectionAbove), 1e-12)
	assert.InDelta(t, 0.3, pricing.ForSide(0.7, domain.SideYes, domain.DirectionBelow), 1e-12)
	assert.InDelta(t, 0.7, pricing.ForSide(0.7, domain.SideNo, domain.DirectionBelow), 1e-12)
}

func TestEdge(t *testing.T) {
	assert.Equal(t, -1.0, pricing.Edge(0.9, 0, 0.02))
	assert.Equal(t, -1.0, pricing.Edge(0.9, 1, 0.02))
	assert.Equal(t, -1.0, pricing.Edge(0.9, 1.2, 0.02))

	want := 0.7*0.45*0.98 - 0.3*0.55
	assert.InDelta(t, want, pricing.Edge(0.7, 0.55, 0.02), 1e-12)

	// Fair price without fees has zero edge.
	assert.InDelta(t, 0, pricing.Edge(0.6, 0.6, 0), 1e-12)
	assert.Less(t, pricing.Edge(0.5, 0.6, 0.02), 0.0)
}

func TestConfidence(t *testing.T) {
	assert.InDelta(t, 1.0, pricing.Confidence(30, 0.8, 300), 1e-12)
	assert.InDelta(t, 0.2, pricing.Confidence(3, 0.8, 300), 1e-12)
	assert.InDelta(t, 0.5*0.6, pricing.Confidence(8, 0.8, 45), 1e-12)
	assert.InDelta(t, 0.8*0.3*0.5, pricing.Confidence(15, 6, 10), 1e-12)
	assert.InDelta(t, 0.4, pricing.Confidence(25, 0.01, 600), 1e-12)
	assert.False(t, math.IsNaN(pricing.Confidence(0, 0, 0)))
}
