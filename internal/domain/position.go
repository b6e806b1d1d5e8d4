package domain

import "time"

// PositionStatus is the lifecycle of a position in the ledger.
type PositionStatus string

const (
	StatusOpen     PositionStatus = "OPEN"
	StatusSettling PositionStatus = "SETTLING" // expired, waiting for the oracle
	StatusClosed   PositionStatus = "CLOSED"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitSettlement   ExitReason = "SETTLEMENT"
	ExitTakeProfit   ExitReason = "TAKE_PROFIT"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTimeout      ExitReason = "TIMEOUT"
	ExitMirror       ExitReason = "MIRROR_EXIT"
	ExitManual       ExitReason = "MANUAL"
)

// Position is one outcome-token holding owned by the ledger.
type Position struct {
	ID          string `json:"id"`
	MarketKey   string `json:"market_key"` // unique per outcome token
	MarketID    string `json:"market_id"`  // used to query the settlement oracle
	ConditionID string `json:"condition_id"`
	TokenID     string `json:"token_id"`
	Instrument  string `json:"instrument,omitempty"`
	Question    string `json:"question,omitempty"`
	Source      string `json:"source,omitempty"` // copied wallet, empty for model entries
	Side        Side   `json:"side"`

	EntryPrice      float64   `json:"entry_price"`
	Stake           float64   `json:"stake"`
	EntryFee        float64   `json:"entry_fee"`
	Shares          float64   `json:"shares"`
	FairProbAtEntry float64   `json:"fair_prob_at_entry"`
	EdgeAtEntry     float64   `json:"edge_at_entry"`
	EntryTime       time.Time `json:"entry_time"`
	ExpiryTime      time.Time `json:"expiry_time"`

	CurrentPrice float64        `json:"current_price"`
	PeakPrice    float64        `json:"peak_price"`
	Status       PositionStatus `json:"status"`

	ExitReason ExitReason `json:"exit_reason,omitempty"`
	ExitPrice  float64    `json:"exit_price,omitempty"`
	Payout     float64    `json:"payout,omitempty"`
	PnL        float64    `json:"pnl,omitempty"`
	Degraded   bool       `json:"degraded,omitempty"` // exit priced by haircut, not by the book
	ClosedAt   time.Time  `json:"closed_at,omitempty"`
}

// ROI is the unrealized return at CurrentPrice relative to EntryPrice.
func (p Position) ROI() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice
}

// PeakROI is the best return observed while the position was open.
func (p Position) PeakROI() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.PeakPrice - p.EntryPrice) / p.EntryPrice
}

// DropFromPeak is the fractional decline of CurrentPrice from PeakPrice.
func (p Position) DropFromPeak() float64 {
	if p.PeakPrice <= 0 {
		return 0
	}
	return (p.PeakPrice - p.CurrentPrice) / p.PeakPrice
}

// MarkValue values the shares at CurrentPrice.
func (p Position) MarkValue() float64 {
	return p.Shares * p.CurrentPrice
}

// IsExpired reports whether the contract has reached its expiry.
func (p Position) IsExpired(now time.Time) bool {
	return !p.ExpiryTime.IsZero() && !now.Before(p.ExpiryTime)
}
