package polymarket

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

// settledPriceThreshold: un outcomePrice por encima de esto es el ganador.
const settledPriceThreshold = 0.99

// mapOrderBooks convierte la respuesta batch de /books a un map tokenID→OrderBook.
func mapOrderBooks(raw []orderBookResponse) map[string]domain.OrderBook {
	result := make(map[string]domain.OrderBook, len(raw))
	for _, r := range raw {
		result[r.AssetID] = domain.OrderBook{
			TokenID: r.AssetID,
			Bids:    mapBookEntries(r.Bids, false),
			Asks:    mapBookEntries(r.Asks, true),
		}
	}
	return result
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price := domain.ParsePrice(r.Price)
		size := domain.ParsePrice(r.Size)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})
	return entries
}

// mapGammaMarket convierte un mercado de Gamma a domain.Market.
// ok=false si no trae los dos token IDs.
func mapGammaMarket(gm gammaMarket, slug string, endTime time.Time) (domain.Market, bool) {
	if len(gm.ClobTokenIDs) < 2 {
		return domain.Market{}, false
	}
	m := domain.Market{
		MarketID:    gm.ID,
		ConditionID: gm.ConditionID,
		Question:    gm.Question,
		Slug:        slug,
		EndTime:     endTime,
		NegRisk:     gm.NegRisk,
		Closed:      gm.Closed,
	}
	if m.EndTime.IsZero() {
		m.EndTime = parseTimestamp(gm.EndDate)
	}
	// Gamma lista outcomes y clobTokenIds en el mismo orden
	outcomes := []string{"Yes", "No"}
	if len(gm.Outcomes) >= 2 {
		outcomes = gm.Outcomes
	}
	for i := 0; i < 2; i++ {
		m.Tokens[i] = domain.Token{TokenID: gm.ClobTokenIDs[i], Outcome: outcomes[i]}
	}
	return m, true
}

// resolveOutcome replica la lectura de resolución de Gamma:
//  1. un outcomePrice > 0.99 marca ese outcome como ganador
//  2. winnerOutcome, si existe
//  3. tokens[].winner o tokens[].price > 0.99
//
// Sin nada de lo anterior el mercado sigue PENDING. El outcome se normaliza
// por etiqueta (Yes/Up/Above → YES) y, si la etiqueta no dice nada, por
// posición (índice 0 → YES).
func resolveOutcome(gm gammaMarket) domain.Outcome {
	for i, p := range gm.OutcomePrices {
		price, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || price <= settledPriceThreshold {
			continue
		}
		label := ""
		if i < len(gm.Outcomes) {
			label = gm.Outcomes[i]
		}
		return outcomeFor(label, i)
	}

	if gm.WinnerOutcome != "" {
		return outcomeFor(gm.WinnerOutcome, indexOf(gm.Outcomes, gm.WinnerOutcome))
	}

	for i, t := range gm.Tokens {
		price, _ := t.Price.Float64()
		if t.Winner || price > settledPriceThreshold {
			return outcomeFor(t.Outcome, i)
		}
	}
	return domain.OutcomePending
}

func outcomeFor(label string, idx int) domain.Outcome {
	if side, ok := domain.ParseSide(label); ok {
		return domain.Outcome(side)
	}
	switch idx {
	case 0:
		return domain.OutcomeYes
	case 1:
		return domain.OutcomeNo
	}
	return domain.OutcomeUnknown
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if strings.EqualFold(v, s) {
			return i
		}
	}
	return -1
}

// mapActivity convierte un evento de la Data API a domain.SourceTrade.
// ok=false para eventos que no son TRADE o no traen ID.
func mapActivity(r rawActivity, wallet string) (domain.SourceTrade, bool) {
	if !strings.EqualFold(r.Type, "TRADE") {
		return domain.SourceTrade{}, false
	}
	id := r.TransactionHash
	if id == "" {
		id = r.ID
	}
	if id == "" {
		return domain.SourceTrade{}, false
	}
	price, _ := r.Price.Float64()
	size, _ := r.Size.Float64()
	usdc, _ := r.USDCSize.Float64()
	if wallet == "" {
		wallet = r.ProxyWallet
	}
	return domain.SourceTrade{
		ID:           id,
		Wallet:       wallet,
		ConditionID:  r.ConditionID,
		Asset:        r.Asset,
		OutcomeIndex: r.OutcomeIndex,
		Outcome:      r.Outcome,
		Side:         strings.ToUpper(r.Side),
		Price:        price,
		Size:         size,
		USDCSize:     usdc,
		Timestamp:    parseTimestamp(r.Timestamp.String()),
		Title:        r.Title,
		EndTime:      parseTimestamp(r.EndDate),
	}, true
}

// parseTimestamp acepta unix (s o ms, entero o decimal) e ISO 8601.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// parseUSDC convierte micro-USDC ("1000000") a USDC.
func parseUSDC(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := json.Number(s).Float64()
	if err != nil {
		return 0
	}
	return f / 1_000_000
}
