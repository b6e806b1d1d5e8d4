package polymarket

import (
	"encoding/json"
	"strings"
)

// DTOs raw de las APIs de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- CLOB API ---

// orderBookRequest es el body del POST /books batch.
type orderBookRequest struct {
	TokenID string `json:"token_id"`
}

// orderBookResponse es la respuesta de un item en POST /books.
type orderBookResponse struct {
	AssetID string         `json:"asset_id"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// bookEntryRaw es un nivel de precio raw de la API (strings para mayor precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// --- Gamma API ---

// gammaEvent es un item de GET /events?slug=...
type gammaEvent struct {
	ID      string        `json:"id"`
	Slug    string        `json:"slug"`
	Title   string        `json:"title"`
	EndDate string        `json:"endDate"`
	Closed  bool          `json:"closed"`
	Markets []gammaMarket `json:"markets"`
}

// gammaMarket es un mercado de Gamma. Gamma serializa varias listas como
// strings JSON ("[\"Up\", \"Down\"]"), de ahí stringList.
type gammaMarket struct {
	ID            string       `json:"id"`
	ConditionID   string       `json:"conditionId"`
	Question      string       `json:"question"`
	Slug          string       `json:"slug"`
	EndDate       string       `json:"endDate"`
	ClobTokenIDs  stringList   `json:"clobTokenIds"`
	Outcomes      stringList   `json:"outcomes"`
	OutcomePrices stringList   `json:"outcomePrices"`
	WinnerOutcome string       `json:"winnerOutcome"`
	Tokens        []gammaToken `json:"tokens"`
	NegRisk       bool         `json:"negRisk"`
	Active        bool         `json:"active"`
	Closed        bool         `json:"closed"`
}

// gammaToken aparece en algunos mercados resueltos.
type gammaToken struct {
	TokenID string      `json:"token_id"`
	Outcome string      `json:"outcome"`
	Price   json.Number `json:"price"`
	Winner  bool        `json:"winner"`
}

// stringList acepta tanto un array JSON como un array serializado dentro de
// un string, con elementos string o numéricos.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == `""` {
		*l = nil
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var inner string
		if err := json.Unmarshal(b, &inner); err != nil {
			return err
		}
		b = []byte(inner)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		var s string
		if err := json.Unmarshal(it, &s); err != nil {
			s = strings.TrimSpace(string(it))
		}
		out = append(out, s)
	}
	*l = out
	return nil
}

// --- Data API ---

// rawActivity es un item de GET /activity?user=...
type rawActivity struct {
	TransactionHash string      `json:"transactionHash"`
	ID              string      `json:"id"`
	ProxyWallet     string      `json:"proxyWallet"`
	Type            string      `json:"type"`
	Side            string      `json:"side"`
	ConditionID     string      `json:"conditionId"`
	Asset           string      `json:"asset"`
	OutcomeIndex    int         `json:"outcomeIndex"`
	Outcome         string      `json:"outcome"`
	Price           json.Number `json:"price"`
	Size            json.Number `json:"size"`
	USDCSize        json.Number `json:"usdcSize"`
	Timestamp       json.Number `json:"timestamp"`
	Title           string      `json:"title"`
	Slug            string      `json:"slug"`
	EndDate         string      `json:"endDate"`
}
