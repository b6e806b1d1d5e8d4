package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/binarybot/config"
	"github.com/alejandrodnm/binarybot/internal/application/engine"
	"github.com/alejandrodnm/binarybot/internal/application/engine/ev"
	"github.com/alejandrodnm/binarybot/internal/ledger"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LOG_LEVEL", "LOG_FORMAT", "PAPER_TRADING", "POLY_PRIVATE_KEY", "POLYGON_RPC_URL", "REDIS_URL", "INITIAL_BANKROLL"} {
		t.Setenv(k, "")
	}
}

func TestParse_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, config.StrategyEV, cfg.Strategy.Mode)
	assert.True(t, cfg.Strategy.Paper)
	assert.Equal(t, engine.ModePaper, cfg.Mode())
	assert.Equal(t, 10*time.Second, cfg.ScanInterval())
	assert.Equal(t, ev.RuleEdge, cfg.Strategy.EntryRule)
	assert.Equal(t, "binarybot.db", cfg.Storage.DSN)
	assert.Equal(t, "info", cfg.Log.Level)

	lc := cfg.Ledger()
	def := ledger.DefaultConfig()
	assert.InDelta(t, 1000, lc.InitialBankroll, 1e-9)
	assert.InDelta(t, def.TakeProfit, lc.TakeProfit, 1e-12)
	assert.InDelta(t, def.StopLoss, lc.StopLoss, 1e-12)
	assert.Equal(t, def.Timeout, lc.Timeout)
	assert.Equal(t, def.Cooldown, lc.Cooldown)
	assert.Equal(t, def.MaxPositions, lc.MaxPositions)
	assert.InDelta(t, def.DrawdownHalt, lc.DrawdownHalt, 1e-12)

	sz := cfg.Sizer()
	assert.InDelta(t, 0.25, sz.KellyFraction, 1e-12)
	assert.InDelta(t, 50, sz.MaxBetAmount, 1e-12)
}

func TestParse_YAMLValues(t *testing.T) {
	clearEnv(t)
	yml := `
strategy:
  mode: copy
  entry_rule: theta_reaper
  min_edge: 0.05
  interval_seconds: 30
risk:
  initial_bankroll: 500
  max_positions: 3
exits:
  take_profit: 0.5
  timeout_hours: 24
copy:
  wallets:
    - address: " 0xABC "
      label: whale
    - address: 0xdef
      score: 60
`
	cfg, err := config.Parse([]byte(yml))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.ScanInterval())
	assert.InDelta(t, 0.05, cfg.EV().MinEdge, 1e-12)
	assert.Equal(t, ev.RuleThetaReaper, cfg.EV().EntryRule)

	lc := cfg.Ledger()
	assert.InDelta(t, 500, lc.InitialBankroll, 1e-9)
	assert.Equal(t, 3, lc.MaxPositions)
	assert.InDelta(t, 0.5, lc.TakeProfit, 1e-12)
	assert.Equal(t, 24*time.Hour, lc.Timeout)

	ct := cfg.CopyTrade()
	require.Len(t, ct.Wallets, 2)
	assert.Equal(t, "0xabc", ct.Wallets[0].Address)
	assert.InDelta(t, 100, ct.Wallets[0].Score, 1e-12)
	assert.InDelta(t, 60, ct.Wallets[1].Score, 1e-12)
	assert.Equal(t, 60*time.Second, ct.PendingTTL)
	assert.Equal(t, 30*time.Minute, ct.MaxTradeAge)
}

func TestParse_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PAPER_TRADING", "false")
	t.Setenv("POLY_PRIVATE_KEY", "0xkey")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("INITIAL_BANKROLL", "250")

	cfg, err := config.Parse([]byte("log:\n  level: warn\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Strategy.Paper)
	assert.Equal(t, engine.ModeLive, cfg.Mode())
	assert.Equal(t, "0xkey", cfg.PrivateKey)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.InDelta(t, 250, cfg.Ledger().InitialBankroll, 1e-9)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yml  string
		env  map[string]string
	}{
		{"unknown mode", "strategy:\n  mode: martingale\n", nil},
		{"unknown rule", "strategy:\n  entry_rule: yolo\n", nil},
		{"copy without wallets", "strategy:\n  mode: copy\n", nil},
		{"live without key", "{}", map[string]string{"PAPER_TRADING": "false"}},
		{"bad bool", "{}", map[string]string{"PAPER_TRADING": "maybe"}},
		{"bad bankroll", "{}", map[string]string{"INITIAL_BANKROLL": "lots"}},
		{"bad yaml", "strategy: [", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Parse([]byte(tt.yml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load("config.example.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Len(t, cfg.Strategy.Series, 2)
	assert.Len(t, cfg.Copy.Wallets, 1)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
