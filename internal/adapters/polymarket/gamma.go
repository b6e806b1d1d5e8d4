package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

const (
	gammaEventsPath  = "/events"
	gammaMarketsPath = "/markets"
)

// Series es una familia de mercados up/down recurrentes. El slug de cada
// ronda es "<Prefix>-<inicio del bloque en unix>" y la ronda cierra
// Interval después del inicio.
type Series struct {
	Prefix   string
	Interval time.Duration
}

// DefaultSeries son las rondas que se escanean si la config no dice otra cosa.
var DefaultSeries = []Series{
	{Prefix: "btc-updown-5m", Interval: 5 * time.Minute},
	{Prefix: "btc-updown-15m", Interval: 15 * time.Minute},
	{Prefix: "eth-updown-15m", Interval: 15 * time.Minute},
	{Prefix: "sol-updown-15m", Interval: 15 * time.Minute},
}

// SlugFor devuelve el slug de la ronda en curso y su hora de cierre.
func (s Series) SlugFor(now time.Time) (string, time.Time) {
	sec := int64(s.Interval / time.Second)
	if sec <= 0 {
		return s.Prefix, time.Time{}
	}
	block := now.Unix() / sec * sec
	return fmt.Sprintf("%s-%d", s.Prefix, block), time.Unix(block+sec, 0).UTC()
}

// FetchActiveMarkets busca la ronda en curso de cada serie configurada.
// Una serie que falla se salta; solo devuelve error si fallan todas.
func (c *Client) FetchActiveMarkets(ctx context.Context) ([]domain.Market, error) {
	now := time.Now()
	var (
		markets []domain.Market
		failed  int
		lastErr error
	)
	for _, s := range c.series {
		slug, end := s.SlugFor(now)
		found, err := c.fetchEventMarkets(ctx, slug, end)
		if err != nil {
			failed++
			lastErr = err
			slog.Debug("polymarket: series lookup failed", "slug", slug, "err", err)
			continue
		}
		markets = append(markets, found...)
	}
	if failed > 0 && failed == len(c.series) {
		return nil, fmt.Errorf("gamma.FetchActiveMarkets: %w", lastErr)
	}
	slog.Debug("polymarket: active markets", "count", len(markets))
	return markets, nil
}

// fetchEventMarkets devuelve los mercados del evento con ese slug.
func (c *Client) fetchEventMarkets(ctx context.Context, slug string, end time.Time) ([]domain.Market, error) {
	u := fmt.Sprintf("%s%s?slug=%s", c.gammaBase, gammaEventsPath, url.QueryEscape(slug))

	var events []gammaEvent
	if err := c.get(ctx, c.gammaLimiter, u, &events); err != nil {
		return nil, fmt.Errorf("GET /events %s: %w", slug, err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	ev := events[0]
	out := make([]domain.Market, 0, len(ev.Markets))
	for _, gm := range ev.Markets {
		if gm.Closed {
			continue
		}
		if m, ok := mapGammaMarket(gm, slug, end); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// GetResult implementa ports.SettlementOracle. marketID puede ser el id
// numérico de Gamma o un condition ID (0x...), que es lo único que trae la
// actividad de las wallets copiadas.
//
// Errores de red o de API devuelven UNKNOWN junto con el error; un mercado
// sin resolver devuelve PENDING.
func (c *Client) GetResult(ctx context.Context, marketID string) (domain.Outcome, error) {
	var gm gammaMarket
	if strings.HasPrefix(marketID, "0x") {
		u := fmt.Sprintf("%s%s?condition_ids=%s", c.gammaBase, gammaMarketsPath, url.QueryEscape(marketID))
		var list []gammaMarket
		if err := c.get(ctx, c.gammaLimiter, u, &list); err != nil {
			return domain.OutcomeUnknown, fmt.Errorf("gamma.GetResult %s: %w", marketID, err)
		}
		if len(list) == 0 {
			return domain.OutcomeUnknown, fmt.Errorf("gamma.GetResult %s: %w", marketID, domain.ErrUnknownMarket)
		}
		gm = list[0]
	} else {
		u := fmt.Sprintf("%s%s/%s", c.gammaBase, gammaMarketsPath, url.PathEscape(marketID))
		if err := c.get(ctx, c.gammaLimiter, u, &gm); err != nil {
			return domain.OutcomeUnknown, fmt.Errorf("gamma.GetResult %s: %w", marketID, err)
		}
	}

	outcome := resolveOutcome(gm)
	slog.Debug("polymarket: market result", "market", marketID, "outcome", outcome, "closed", gm.Closed)
	return outcome, nil
}
