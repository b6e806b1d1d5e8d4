package domain

import "strings"

// Side is the outcome token held by a position.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Opposite returns the other outcome token.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// ParseSide normalizes venue outcome labels ("Yes", "Up", "Above"...) to a Side.
func ParseSide(label string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "YES", "UP", "ABOVE", "HIGH", "HIGHER":
		return SideYes, true
	case "NO", "DOWN", "BELOW", "LOW", "LOWER":
		return SideNo, true
	}
	return "", false
}

// Direction says whether the YES token pays when the asset ends above or below
// the strike.
type Direction string

const (
	DirectionAbove Direction = "ABOVE"
	DirectionBelow Direction = "BELOW"
)

// Outcome is what the settlement oracle reports for a market.
type Outcome string

const (
	OutcomeYes     Outcome = "YES"
	OutcomeNo      Outcome = "NO"
	OutcomePending Outcome = "PENDING"
	OutcomeUnknown Outcome = "UNKNOWN"
)

// IsFinal is true only for YES and NO. PENDING and UNKNOWN must leave
// positions open.
func (o Outcome) IsFinal() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Winner maps a final outcome to the winning side.
func (o Outcome) Winner() (Side, bool) {
	switch o {
	case OutcomeYes:
		return SideYes, true
	case OutcomeNo:
		return SideNo, true
	}
	return "", false
}

// MarketSpec is what the title parser extracts from a market question.
type MarketSpec struct {
	Instrument string
	Strike     float64
	Direction  Direction
}
