package domain

// Trend is the direction of the short EMA relative to the long EMA.
type Trend string

const (
	TrendBull    Trend = "bull"
	TrendBear    Trend = "bear"
	TrendNeutral Trend = "neutral"
)

// MomentumState buckets the RSI.
type MomentumState string

const (
	StateOverbought      MomentumState = "overbought"
	StateOversold        MomentumState = "oversold"
	StateStrongTrendUp   MomentumState = "strong_trend_up"
	StateStrongTrendDown MomentumState = "strong_trend_down"
	StateNeutral         MomentumState = "neutral"
)

// Signals are the auxiliary trend/momentum readings used to nudge the model
// probability.
type Signals struct {
	Trend    Trend
	Strength float64 // 0..1
	RSI      float64
	State    MomentumState
	EMAGap   float64 // (ema10/ema20 - 1) * 100
	Velocity float64 // last close vs previous close, in bps
}
