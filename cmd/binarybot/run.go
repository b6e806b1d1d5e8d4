package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alejandrodnm/binarybot/config"
	"github.com/alejandrodnm/binarybot/internal/adapters/binance"
	"github.com/alejandrodnm/binarybot/internal/adapters/notify"
	"github.com/alejandrodnm/binarybot/internal/adapters/polymarket"
	"github.com/alejandrodnm/binarybot/internal/adapters/storage"
	"github.com/alejandrodnm/binarybot/internal/application/engine"
	"github.com/alejandrodnm/binarybot/internal/application/engine/copytrade"
	"github.com/alejandrodnm/binarybot/internal/application/engine/ev"
	"github.com/alejandrodnm/binarybot/internal/candles"
	"github.com/alejandrodnm/binarybot/internal/httpapi"
	"github.com/alejandrodnm/binarybot/internal/ledger"
	"github.com/alejandrodnm/binarybot/internal/metrics"
	"github.com/alejandrodnm/binarybot/internal/parser"
	"github.com/alejandrodnm/binarybot/internal/ports"
)

const stopFile = "STOP_BOT"

type runOptions struct {
	once   bool
	table  bool
	stream bool
}

// driver es lo que comparten ev.Engine y copytrade.Engine.
type driver interface {
	RunOnce(ctx context.Context, now time.Time) (*engine.CycleResult, error)
}

func run(ctx context.Context, cfg *config.Config, opts runOptions) error {
	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase, cfg.API.DataBase).
		WithSeries(seriesFrom(cfg.Strategy.Series))

	db, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage %q: %w", cfg.Storage.DSN, err)
	}
	defer db.Close()

	var snapshots ports.SnapshotStore = db
	if cfg.Storage.SnapshotFile != "" {
		fs, err := storage.NewFileStore(cfg.Storage.SnapshotFile)
		if err != nil {
			return err
		}
		snapshots = fs
	}

	trades := storage.MultiLog{db}
	if jl := storage.NewTradeLog(cfg.Storage.TradeLog); jl != nil {
		defer jl.Close()
		trades = append(trades, jl)
	}

	led := ledger.New(cfg.Ledger())
	if err := restoreLedger(ctx, led, snapshots); err != nil {
		return err
	}

	var oracle ports.SettlementOracle = client
	if cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(ropts)
		defer rdb.Close()
		oracle = storage.NewCachedOracle(client, rdb, time.Duration(cfg.Storage.CacheTTLMin)*time.Minute)
		slog.Info("settlement outcomes cached in redis", "addr", ropts.Addr)
	}

	deps := engine.Deps{
		Ledger: led,
		Books:  client,
		Oracle: oracle,
		Store:  snapshots,
		Trades: trades,
	}
	if !cfg.Strategy.Paper {
		if err := setupLive(ctx, cfg, client, &deps); err != nil {
			return err
		}
	}
	core := engine.NewCore(deps, cfg.Core())
	core.LogVenueBalance(ctx)

	var d driver
	switch cfg.Strategy.Mode {
	case config.StrategyCopy:
		d = copytrade.New(core, client, cfg.CopyTrade(), time.Now())
	default:
		windows := candles.NewSet(candles.DefaultCapacity)
		source := binance.NewClient(cfg.API.BinanceBase)
		if opts.stream && !opts.once {
			startStream(ctx, cfg, windows)
		}
		d = ev.New(core, client, source, parser.Title{}, windows, cfg.Sizer(), cfg.EV())
	}

	if cfg.Metrics.Addr != "" {
		httpapi.Serve(ctx, cfg.Metrics.Addr, httpapi.NewRouter(led, cfg.Mode(), cfg.Strategy.Mode))
	}

	console := notify.NewConsole(opts.table)
	cycle := 1
	runCycle(ctx, d, led, console, cycle)
	if opts.once {
		return nil
	}

	ticker := time.NewTicker(cfg.ScanInterval())
	defer ticker.Stop()
	slog.Info("trading loop started — press Ctrl+C or create "+stopFile+" to exit", "mode", cfg.Mode())

	for {
		select {
		case <-ctx.Done():
			slog.Info("trading loop stopped (signal)", "total_cycles", cycle)
			return nil
		case <-ticker.C:
			if _, err := os.Stat(stopFile); err == nil {
				slog.Info(stopFile+" file detected — shutting down", "total_cycles", cycle)
				_ = os.Remove(stopFile)
				return nil
			}
			cycle++
			runCycle(ctx, d, led, console, cycle)
		}
	}
}

func runCycle(ctx context.Context, d driver, led *ledger.Ledger, n ports.Notifier, cycle int) {
	result, err := d.RunOnce(ctx, time.Now())
	if err != nil {
		slog.Error("cycle failed", "cycle", cycle, "err", err)
		return
	}

	slog.Info("cycle complete",
		"cycle", cycle,
		"markets", result.Markets,
		"opened", result.Opened,
		"closed", result.Closed,
		"halted", result.Halted,
		"bankroll", fmt.Sprintf("$%.2f", result.Bankroll),
		"equity", fmt.Sprintf("$%.2f", result.Equity),
		"duration", result.Duration.Round(time.Millisecond),
	)
	for _, a := range result.Actions {
		if a.Kind != engine.ActionSkip {
			slog.Info("action", "cycle", cycle, "action", a.String())
		}
	}
	for _, w := range result.Warnings {
		slog.Warn("cycle warning", "msg", w)
	}

	if err := n.Report(ctx, led.Positions(), led.Stats(), led.Bankroll()); err != nil {
		slog.Warn("notifier error", "err", err)
	}
}

func restoreLedger(ctx context.Context, led *ledger.Ledger, store ports.SnapshotStore) error {
	st, found, err := store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if !found {
		slog.Info("no snapshot found, starting fresh", "bankroll", fmt.Sprintf("$%.2f", led.Bankroll()))
		return nil
	}
	if err := led.Restore(st); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	metrics.ObserveLedger(led)
	slog.Info("ledger restored",
		"bankroll", fmt.Sprintf("$%.2f", led.Bankroll()),
		"open", led.OpenCount(),
		"halted", led.Halted(),
	)
	return nil
}

func startStream(ctx context.Context, cfg *config.Config, windows *candles.Set) {
	stream, err := binance.NewStream(cfg.API.BinanceStream, windows, cfg.Strategy.Instruments)
	if err != nil {
		slog.Warn("kline stream disabled", "err", err)
		return
	}
	go func() {
		if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("kline stream stopped", "err", err)
		}
	}()
	slog.Info("kline stream started", "url", stream.URL())
}

func seriesFrom(in []config.Series) []polymarket.Series {
	out := make([]polymarket.Series, 0, len(in))
	for _, s := range in {
		if s.Prefix == "" || s.IntervalMinutes <= 0 {
			continue
		}
		out = append(out, polymarket.Series{
			Prefix:   s.Prefix,
			Interval: time.Duration(s.IntervalMinutes) * time.Minute,
		})
	}
	return out
}

func runReport(ctx context.Context, dsn string, days int) error {
	db, err := storage.NewSQLiteStore(dsn)
	if err != nil {
		return fmt.Errorf("open storage %q: %w", dsn, err)
	}
	defer db.Close()

	rows, err := db.DailyPnL(ctx, days)
	if err != nil {
		return err
	}

	fmt.Printf("\n── REALIZED PnL (last %d days) ──\n", days)
	if len(rows) == 0 {
		fmt.Println("  (no closed trades)")
		return nil
	}
	fmt.Printf("  %-10s %6s %5s %10s\n", "DAY", "CLOSED", "WINS", "PNL")
	total := 0.0
	for _, r := range rows {
		fmt.Printf("  %-10s %6d %5d %10s\n", r.Day, r.Closed, r.Wins, fmt.Sprintf("$%+.2f", r.PnL))
		total += r.PnL
	}
	fmt.Printf("  %-10s %6s %5s %10s\n\n", "TOTAL", "", "", fmt.Sprintf("$%+.2f", total))
	return nil
}
