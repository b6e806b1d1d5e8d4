package domain

import (
	"strconv"
	"time"
)

// SourceTrade is a trade made by a copied wallet, as reported by the
// venue's activity feed.
type SourceTrade struct {
	ID           string // tx hash, used for dedup
	Wallet       string
	ConditionID  string
	Asset        string // token id
	OutcomeIndex int
	Outcome      string
	Side         string // "BUY" o "SELL"
	Price        float64
	Size         float64 // shares
	USDCSize     float64
	Timestamp    time.Time
	Title        string
	EndTime      time.Time
}

// Key is the position key used for copied trades: condition plus outcome
// index, so YES and NO on the same market are distinct.
func (t SourceTrade) Key() string {
	return t.ConditionID + ":" + strconv.Itoa(t.OutcomeIndex)
}

// Notional is the USDC value of the source trade.
func (t SourceTrade) Notional() float64 {
	if t.USDCSize > 0 {
		return t.USDCSize
	}
	return t.Price * t.Size
}
