// Package metrics provides Prometheus instrumentation for the trading engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/ledger"
)

var (
	// Decisions counts per-market decisions by action kind (OPEN, SKIP...).
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binarybot_decisions_total",
		Help: "Decisions taken per market and cycle",
	}, []string{"strategy", "kind"})

	// Entries counts opened positions.
	Entries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binarybot_entries_total",
		Help: "Positions opened",
	}, []string{"strategy", "side"})

	// Exits counts closed positions by exit reason.
	Exits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binarybot_exits_total",
		Help: "Positions closed, by exit reason",
	}, []string{"reason"})

	// Settlements counts oracle answers by outcome.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binarybot_settlements_total",
		Help: "Settlement oracle answers, by outcome",
	}, []string{"outcome"})

	RealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binarybot_realized_pnl_usdc",
		Help: "Realized PnL since the first run, in USDC",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binarybot_open_positions",
		Help: "Currently open positions",
	})

	Bankroll = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binarybot_bankroll_usdc",
		Help: "Free bankroll in USDC",
	})

	Equity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binarybot_equity_usdc",
		Help: "Bankroll plus open stakes in USDC",
	})

	Drawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binarybot_max_drawdown_ratio",
		Help: "Worst observed drawdown from peak equity",
	})

	Halted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binarybot_halted",
		Help: "1 when entries are halted by the drawdown guard",
	})

	// FetchErrors counts failed feed calls after retries.
	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binarybot_fetch_errors_total",
		Help: "Feed calls that failed after retries",
	}, []string{"feed"})

	// FeedTicks counts closed candles received from the price stream.
	FeedTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binarybot_feed_ticks_total",
		Help: "Closed candles ingested from the price stream",
	}, []string{"instrument"})

	// CycleDuration observes the wall time of a full driver cycle.
	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "binarybot_cycle_duration_seconds",
		Help:    "Driver cycle duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"strategy"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLedger refreshes the ledger gauges.
func ObserveLedger(l *ledger.Ledger) {
	stats := l.Stats()
	OpenPositions.Set(float64(l.OpenCount()))
	Bankroll.Set(l.Bankroll())
	Equity.Set(l.Equity())
	Drawdown.Set(stats.MaxDrawdown)
	RealizedPnL.Set(stats.RealizedPnL)
	if l.Halted() {
		Halted.Set(1)
	} else {
		Halted.Set(0)
	}
}

// ObserveClose counts a closed position.
func ObserveClose(p domain.Position) {
	Exits.WithLabelValues(string(p.ExitReason)).Inc()
}
