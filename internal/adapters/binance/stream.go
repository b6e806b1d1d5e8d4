package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/binarybot/internal/candles"
	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/metrics"
)

const (
	defaultStreamBase = "wss://stream.binance.com:9443"

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 1.8
	pingInterval   = 15 * time.Second
	readTimeout    = 30 * time.Second
)

type streamEnvelope struct {
	Stream string     `json:"stream"`
	Data   klineEvent `json:"data"`
}

type klineEvent struct {
	Symbol string     `json:"s"`
	Kline  klineFrame `json:"k"`
}

type klineFrame struct {
	CloseTime int64  `json:"T"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	Closed    bool   `json:"x"`
}

// Stream mantiene las ventanas de velas al día con el stream kline_1m.
// Solo las velas cerradas (x=true) entran en la ventana.
type Stream struct {
	base    string
	windows *candles.Set
	// symbol en minúsculas → instrumento
	instruments map[string]string
}

// NewStream crea un Stream para los instrumentos dados. base vacío usa
// producción.
func NewStream(base string, windows *candles.Set, instruments []string) (*Stream, error) {
	if base == "" {
		base = defaultStreamBase
	}
	s := &Stream{
		base:        strings.TrimRight(base, "/"),
		windows:     windows,
		instruments: make(map[string]string, len(instruments)),
	}
	for _, inst := range instruments {
		sym, ok := DefaultSymbols[strings.ToUpper(inst)]
		if !ok {
			return nil, fmt.Errorf("binance.NewStream: unknown instrument %q", inst)
		}
		s.instruments[strings.ToLower(sym)] = strings.ToUpper(inst)
	}
	if len(s.instruments) == 0 {
		return nil, errors.New("binance.NewStream: no instruments")
	}
	return s, nil
}

// URL del stream combinado, p.ej. /stream?streams=btcusdt@kline_1m/ethusdt@kline_1m.
func (s *Stream) URL() string {
	streams := make([]string, 0, len(s.instruments))
	for sym := range s.instruments {
		streams = append(streams, sym+"@kline_1m")
	}
	sort.Strings(streams)
	return s.base + "/stream?streams=" + strings.Join(streams, "/")
}

// Run consume el stream hasta que ctx se cancela, reconectando con backoff
// exponencial (×1.8, máximo 30s). El backoff se resetea tras una conexión
// que llegó a recibir datos.
func (s *Stream) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		received, err := s.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received > 0 {
			backoff = initialBackoff
		}
		slog.Warn("binance: stream disconnected, retrying", "err", err, "backoff", backoff)
		metrics.FetchErrors.WithLabelValues("binance_ws").Inc()

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*backoffFactor))
	}
}

// consume mantiene una conexión hasta el primer error. Devuelve cuántas
// velas cerradas añadió.
func (s *Stream) consume(ctx context.Context) (int, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.URL(), nil)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	slog.Info("binance: stream connected", "streams", len(s.instruments))

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					slog.Debug("binance: ping failed", "err", err)
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()
	// desbloquear ReadMessage al cancelar
	go func() {
		<-pingCtx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	appended := 0
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return appended, err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		inst, candle, ok, err := s.decode(msg)
		if err != nil {
			slog.Debug("binance: bad stream message", "err", err)
			continue
		}
		if !ok {
			continue
		}
		s.windows.Get(inst).Append(candle)
		metrics.FeedTicks.WithLabelValues(inst).Inc()
		appended++
	}
}

// decode devuelve ok=false para velas todavía abiertas o streams ajenos.
func (s *Stream) decode(msg []byte) (string, domain.Candle, bool, error) {
	var env streamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return "", domain.Candle{}, false, err
	}
	sym := strings.ToLower(env.Data.Symbol)
	if sym == "" {
		sym, _, _ = strings.Cut(env.Stream, "@")
	}
	inst, known := s.instruments[sym]
	if !known || !env.Data.Kline.Closed {
		return "", domain.Candle{}, false, nil
	}

	k := env.Data.Kline
	var vals [5]float64
	for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", domain.Candle{}, false, fmt.Errorf("%s kline field %d: %w", sym, i, err)
		}
		vals[i] = v
	}
	return inst, domain.Candle{
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
	}, true, nil
}
