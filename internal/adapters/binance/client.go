// Package binance alimenta las ventanas de velas con klines de 1 minuto:
// backfill por REST y actualización continua por websocket.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

const (
	defaultRESTBase = "https://api.binance.com"
	klinesPath      = "/api/v3/klines"

	// weight 2 por /klines con limit<=100, 6000/min → muy por debajo con 10/s
	restRatePerSec = 10

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
	maxKlines     = 1000
)

// DefaultSymbols mapea instrumento → par spot en USDT.
var DefaultSymbols = map[string]string{
	"BTC": "BTCUSDT",
	"ETH": "ETHUSDT",
	"SOL": "SOLUSDT",
	"XRP": "XRPUSDT",
}

// Client implementa ports.CandleSource contra la API REST de Binance.
type Client struct {
	http    *http.Client
	base    string
	symbols map[string]string
	limiter *rate.Limiter
	now     func() time.Time
}

// NewClient crea un Client. base vacío usa producción.
func NewClient(base string) *Client {
	if base == "" {
		base = defaultRESTBase
	}
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    strings.TrimRight(base, "/"),
		symbols: DefaultSymbols,
		limiter: rate.NewLimiter(restRatePerSec, 5),
		now:     time.Now,
	}
}

// Symbol devuelve el par de Binance de un instrumento ("BTC" → "BTCUSDT").
func (c *Client) Symbol(instrument string) (string, bool) {
	s, ok := c.symbols[strings.ToUpper(instrument)]
	return s, ok
}

// GetRecentCandles devuelve hasta n velas de 1m cerradas, de la más antigua
// a la más reciente. La vela en curso se descarta.
func (c *Client) GetRecentCandles(ctx context.Context, instrument string, n int) ([]domain.Candle, error) {
	symbol, ok := c.Symbol(instrument)
	if !ok {
		return nil, fmt.Errorf("binance.GetRecentCandles: unknown instrument %q: %w", instrument, domain.ErrUnknownMarket)
	}
	if n <= 0 {
		n = 1
	}
	// una más por si la última sigue abierta
	limit := min(n+1, maxKlines)

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", "1m")
	q.Set("limit", strconv.Itoa(limit))

	var raw [][]json.RawMessage
	if err := c.get(ctx, c.base+klinesPath+"?"+q.Encode(), &raw); err != nil {
		return nil, fmt.Errorf("binance.GetRecentCandles %s: %w", symbol, err)
	}

	now := c.now()
	out := make([]domain.Candle, 0, len(raw))
	for _, k := range raw {
		candle, err := parseKline(k)
		if err != nil {
			slog.Debug("binance: skipping malformed kline", "symbol", symbol, "err", err)
			continue
		}
		if candle.CloseTime.After(now) {
			continue
		}
		out = append(out, candle)
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// parseKline convierte [openTime, "o", "h", "l", "c", "v", closeTime, ...].
func parseKline(k []json.RawMessage) (domain.Candle, error) {
	if len(k) < 7 {
		return domain.Candle{}, fmt.Errorf("kline has %d fields", len(k))
	}
	var fields [5]float64
	for i := range fields {
		var s string
		if err := json.Unmarshal(k[i+1], &s); err != nil {
			return domain.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		fields[i] = v
	}
	var closeMs int64
	if err := json.Unmarshal(k[6], &closeMs); err != nil {
		return domain.Candle{}, fmt.Errorf("close time: %w", err)
	}
	return domain.Candle{
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
		CloseTime: time.UnixMilli(closeMs).UTC(),
	}, nil
}

// get hace un GET con rate limiting y backoff exponencial. Igual que el
// cliente de Polymarket: 429/418/5xx/red se reintentan, 4xx no.
func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(math.Pow(2, float64(attempt-1))) * baseRetryWait
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot:
			// 418 = IP baneada temporalmente por ignorar 429s
			slog.Warn("binance: rate limited", "status", resp.StatusCode, "attempt", attempt+1)
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error %d", resp.StatusCode)
			continue
		case resp.StatusCode >= 400:
			return fmt.Errorf("client error %d: %s", resp.StatusCode, truncate(body, 200))
		}
		if readErr != nil {
			lastErr = fmt.Errorf("read body: %w", readErr)
			continue
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed after %d retries: %w", maxRetries, errors.Join(domain.ErrTransient, lastErr))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
