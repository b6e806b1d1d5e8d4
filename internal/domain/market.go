package domain

import "time"

// Market representa un mercado binario up/down en Polymarket.
type Market struct {
	MarketID    string // Gamma market id, consultado por el oráculo de settlement
	ConditionID string
	Question    string
	Slug        string
	EndTime     time.Time
	NegRisk     bool
	Tokens      [2]Token
	Closed      bool
}

// Token es uno de los dos lados del mercado (YES/NO).
type Token struct {
	TokenID string
	Outcome string // "Yes" | "No" | "Up" | "Down"
}

// YesToken devuelve el token YES (o "Up") del mercado.
func (m Market) YesToken() Token {
	for _, t := range m.Tokens {
		if s, ok := ParseSide(t.Outcome); ok && s == SideYes {
			return t
		}
	}
	return m.Tokens[0]
}

// NoToken devuelve el token NO (o "Down") del mercado.
func (m Market) NoToken() Token {
	for _, t := range m.Tokens {
		if s, ok := ParseSide(t.Outcome); ok && s == SideNo {
			return t
		}
	}
	return m.Tokens[1]
}

// TokenFor returns the token paying out on side.
func (m Market) TokenFor(side Side) Token {
	if side == SideNo {
		return m.NoToken()
	}
	return m.YesToken()
}

// TimeToExpiry devuelve los segundos hasta EndTime, nunca negativos.
// Devuelve 0 si EndTime no está definido.
func (m Market) TimeToExpiry(now time.Time) float64 {
	if m.EndTime.IsZero() {
		return 0
	}
	s := m.EndTime.Sub(now).Seconds()
	if s < 0 {
		return 0
	}
	return s
}

// MarketKey identifies one outcome token of one market. Positions are unique
// per key.
func MarketKey(conditionID string, side Side) string {
	return conditionID + ":" + string(side)
}
