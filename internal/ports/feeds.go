package ports

import (
	"context"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

// CandleSource devuelve velas de 1 minuto del activo de referencia.
type CandleSource interface {
	// GetRecentCandles returns up to n closed candles, oldest first.
	GetRecentCandles(ctx context.Context, instrument string, n int) ([]domain.Candle, error)
}

// BookProvider obtiene orderbooks del CLOB usando el endpoint batch.
type BookProvider interface {
	// FetchOrderBooks devuelve los orderbooks para los token_ids dados.
	// Internamente agrupa los IDs en batches para minimizar requests.
	FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error)
}

// MarketProvider descubre los contratos binarios activos.
type MarketProvider interface {
	FetchActiveMarkets(ctx context.Context) ([]domain.Market, error)
}

// MarketParser extracts instrument, strike and direction from a market title.
// ok=false means the title is not understood and the market must be skipped.
type MarketParser interface {
	ParseMarket(title string) (domain.MarketSpec, bool)
}

// ActivityProvider lee la actividad pública de una wallet a copiar.
type ActivityProvider interface {
	// FetchActivity returns the wallet's recent trades, newest first.
	FetchActivity(ctx context.Context, wallet string) ([]domain.SourceTrade, error)
}
