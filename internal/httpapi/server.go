// Package httpapi exposes a small read-only status API next to the
// Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/ledger"
	"github.com/alejandrodnm/binarybot/internal/metrics"
)

// LedgerView is the read side of the ledger. *ledger.Ledger satisfies it.
type LedgerView interface {
	Positions() []domain.Position
	Stats() ledger.Stats
	Bankroll() float64
	Equity() float64
	MarkEquity() float64
	Halted() bool
}

type statsResponse struct {
	Mode      string       `json:"mode"`
	Strategy  string       `json:"strategy"`
	Bankroll  float64      `json:"bankroll"`
	Equity    float64      `json:"equity"`
	MarkEq    float64      `json:"mark_equity"`
	Halted    bool         `json:"halted"`
	Open      int          `json:"open_positions"`
	WinRate   float64      `json:"win_rate"`
	Stats     ledger.Stats `json:"stats"`
	UptimeSec int64        `json:"uptime_sec"`
}

// NewRouter builds the chi router for the status API.
func NewRouter(view LedgerView, mode, strategy string) http.Handler {
	started := time.Now()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "halted": view.Halted()})
	})

	r.Get("/positions", func(w http.ResponseWriter, _ *http.Request) {
		positions := view.Positions()
		if positions == nil {
			positions = []domain.Position{}
		}
		writeJSON(w, http.StatusOK, positions)
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		stats := view.Stats()
		writeJSON(w, http.StatusOK, statsResponse{
			Mode:      mode,
			Strategy:  strategy,
			Bankroll:  view.Bankroll(),
			Equity:    view.Equity(),
			MarkEq:    view.MarkEquity(),
			Halted:    view.Halted(),
			Open:      len(view.Positions()),
			WinRate:   stats.WinRate(),
			Stats:     stats,
			UptimeSec: int64(time.Since(started).Seconds()),
		})
	})

	r.Handle("/metrics", metrics.Handler())
	return r
}

// Serve arranca el servidor en addr y lo apaga cuando ctx se cancela.
func Serve(ctx context.Context, addr string, h http.Handler) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		slog.Info("httpapi: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("httpapi: server failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("httpapi: encode response", "err", err)
	}
}
