package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/binarybot/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one cycle and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print positions and stats tables each cycle (default: compact 1-line)")
	report := flag.Int("report", 0, "print realized PnL of the last N days from storage and exit")
	noStream := flag.Bool("no-stream", false, "do not open the Binance kline websocket (REST backfill only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report > 0 {
		if err := runReport(ctx, cfg.Storage.DSN, *report); err != nil {
			slog.Error("report failed", "err", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("binarybot starting",
		"config", *configPath,
		"strategy", cfg.Strategy.Mode,
		"mode", cfg.Mode(),
		"interval", cfg.ScanInterval(),
		"once", *once,
	)

	opts := runOptions{once: *once, table: *table, stream: !*noStream}
	if err := run(ctx, cfg, opts); err != nil {
		slog.Error("binarybot exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("binarybot stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
