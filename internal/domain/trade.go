package domain

import "time"

// TradeEvent identifies what happened to a position in the trade log.
type TradeEvent string

const (
	TradeOpened TradeEvent = "OPEN"
	TradeClosed TradeEvent = "CLOSE"
)

// TradeRecord is one line of the append-only trade history.
type TradeRecord struct {
	ID       string     `json:"id"`
	Event    TradeEvent `json:"event"`
	Mode     string     `json:"mode"` // paper | live
	Strategy string     `json:"strategy"`
	At       time.Time  `json:"at"`
	Position Position   `json:"position"`
}
