package domain

import (
	"strings"
	"time"
)

// OrderSide is the direction of a venue order.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// OrderRequest is sent to the CLOB order executor. Size is in USDC for buys
// and in shares for sells.
type OrderRequest struct {
	TokenID     string
	ConditionID string
	Side        OrderSide
	Price       float64
	Size        float64
	NegRisk     bool
}

// PlacedOrder is the response from the CLOB after placing an order.
type PlacedOrder struct {
	OrderID     string
	Status      string
	TakenAmount float64
	MadeAmount  float64
}

// Filled is true when the CLOB matched the order.
func (o PlacedOrder) Filled() bool {
	return strings.EqualFold(o.Status, "matched") || (o.TakenAmount > 0 && o.MadeAmount > 0)
}

// FillPrice is the average execution price implied by the exchanged amounts.
// For a BUY the wallet makes USDC and takes shares; for a SELL the reverse.
func (o PlacedOrder) FillPrice(side OrderSide) float64 {
	if o.TakenAmount <= 0 || o.MadeAmount <= 0 {
		return 0
	}
	if side == OrderSell {
		return o.TakenAmount / o.MadeAmount
	}
	return o.MadeAmount / o.TakenAmount
}

// CircuitBreaker tracks consecutive losses and enforces trading pauses.
type CircuitBreaker struct {
	ConsecutiveLosses int           `json:"consecutive_losses"`
	MaxLosses         int           `json:"max_losses"`
	CooldownUntil     time.Time     `json:"cooldown_until"`
	CooldownDuration  time.Duration `json:"cooldown_duration"`
	TriggeredReason   string        `json:"triggered_reason,omitempty"`
}

// IsOpen returns true if trading is allowed at now.
func (cb *CircuitBreaker) IsOpen(now time.Time) bool {
	return !now.Before(cb.CooldownUntil)
}

// RecordLoss counts a losing close and pauses entries after MaxLosses in a row.
func (cb *CircuitBreaker) RecordLoss(now time.Time) {
	if cb.MaxLosses <= 0 {
		return
	}
	cb.ConsecutiveLosses++
	if cb.ConsecutiveLosses >= cb.MaxLosses {
		cb.CooldownUntil = now.Add(cb.CooldownDuration)
		cb.ConsecutiveLosses = 0
		cb.TriggeredReason = "consecutive losses"
	}
}

// RecordWin resets consecutive loss counter.
func (cb *CircuitBreaker) RecordWin() {
	cb.ConsecutiveLosses = 0
}

// RedeemResult is the outcome of an on-chain redemption of resolved tokens.
type RedeemResult struct {
	ConditionID string
	TxHash      string
	GasUsedPOL  float64
	Success     bool
	ExecutedAt  time.Time
}
