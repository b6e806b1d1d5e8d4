package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

const (
	activityPath  = "/activity"
	activityLimit = 10
)

// FetchActivity devuelve los trades recientes de una wallet (más nuevos
// primero) desde la Data API pública. Eventos que no son TRADE se descartan.
func (c *Client) FetchActivity(ctx context.Context, wallet string) ([]domain.SourceTrade, error) {
	u := fmt.Sprintf("%s%s?user=%s&limit=%d", c.dataBase, activityPath, url.QueryEscape(wallet), activityLimit)

	var raw []rawActivity
	if err := c.get(ctx, c.dataLimiter, u, &raw); err != nil {
		return nil, fmt.Errorf("data-api.FetchActivity: %w", err)
	}

	trades := make([]domain.SourceTrade, 0, len(raw))
	for _, r := range raw {
		if t, ok := mapActivity(r, wallet); ok {
			trades = append(trades, t)
		}
	}
	slog.Debug("polymarket: activity fetched",
		"wallet", shortAddr(wallet),
		"events", len(raw),
		"trades", len(trades),
	)
	return trades, nil
}

func shortAddr(a string) string {
	if len(a) <= 10 {
		return a
	}
	return a[:6] + "..." + a[len(a)-4:]
}
