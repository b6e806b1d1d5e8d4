package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/binarybot/internal/application/engine"
	"github.com/alejandrodnm/binarybot/internal/application/engine/copytrade"
	"github.com/alejandrodnm/binarybot/internal/application/engine/ev"
	"github.com/alejandrodnm/binarybot/internal/ledger"
	"github.com/alejandrodnm/binarybot/internal/sizing"
)

// Estrategias disponibles.
const (
	StrategyEV   = "ev"
	StrategyCopy = "copy"
)

// Config es la configuración completa del bot.
type Config struct {
	Strategy StrategyConfig `yaml:"strategy"`
	Risk     RiskConfig     `yaml:"risk"`
	Exits    ExitsConfig    `yaml:"exits"`
	Copy     CopyConfig     `yaml:"copy"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`

	// Solo desde el entorno, nunca desde el YAML.
	PrivateKey string `yaml:"-"`
	RedisURL   string `yaml:"-"`
}

// StrategyConfig elige el driver y sus umbrales de entrada.
type StrategyConfig struct {
	Mode            string   `yaml:"mode"`  // ev | copy
	Paper           bool     `yaml:"paper"` // PAPER_TRADING lo sobreescribe
	IntervalSeconds int      `yaml:"interval_seconds"`
	EntryRule       string   `yaml:"entry_rule"` // edge | theta_reaper | imbalance_sniper
	MinEdge         float64  `yaml:"min_edge"`
	MinConfidence   float64  `yaml:"min_confidence"`
	VolScale        float64  `yaml:"vol_scale"`
	MinTTLSeconds   int      `yaml:"min_ttl_seconds"`
	CandleCount     int      `yaml:"candle_count"`
	Workers         int      `yaml:"workers"`
	Instruments     []string `yaml:"instruments"` // símbolos del stream de velas
	Series          []Series `yaml:"series"`
}

// Series es una familia de mercados up/down recurrentes.
type Series struct {
	Prefix          string `yaml:"prefix"`
	IntervalMinutes int    `yaml:"interval_minutes"`
}

// RiskConfig controla bankroll, sizing y los frenos.
type RiskConfig struct {
	InitialBankroll float64 `yaml:"initial_bankroll"`
	FeeRate         float64 `yaml:"fee_rate"`
	SettlementFee   float64 `yaml:"settlement_fee"`
	KellyFraction   float64 `yaml:"kelly_fraction"`
	MaxBetFraction  float64 `yaml:"max_bet_fraction"`
	MaxBetAmount    float64 `yaml:"max_bet_amount"`
	MinBet          float64 `yaml:"min_bet"`
	MaxPositions    int     `yaml:"max_positions"`
	CooldownMinutes int     `yaml:"cooldown_minutes"`
	DrawdownHalt    float64 `yaml:"drawdown_halt"`
	EntrySlippage   float64 `yaml:"entry_slippage"`
}

// ExitsConfig son los disparadores de salida anticipada.
type ExitsConfig struct {
	TakeProfit       float64 `yaml:"take_profit"`
	StopLoss         float64 `yaml:"stop_loss"`
	TrailingActivate float64 `yaml:"trailing_activate"`
	TrailingDrop     float64 `yaml:"trailing_drop"`
	TimeoutHours     int     `yaml:"timeout_hours"`
	Slippage         float64 `yaml:"slippage"`
}

// CopyConfig configura el driver de copy-trading.
type CopyConfig struct {
	Wallets           []WalletConfig `yaml:"wallets"`
	MaxTradeAgeMin    int            `yaml:"max_trade_age_minutes"`
	MaxPrice          float64        `yaml:"max_price"`
	BetFraction       float64        `yaml:"bet_fraction"`
	MaxBet            float64        `yaml:"max_bet"`
	PendingTTLSeconds int            `yaml:"pending_ttl_seconds"`
	QueueSize         int            `yaml:"queue_size"`
}

// WalletConfig es una cartera fuente con su puntuación (0-100).
type WalletConfig struct {
	Address string  `yaml:"address"`
	Label   string  `yaml:"label"`
	Score   float64 `yaml:"score"`
}

// APIConfig contiene los base URLs de las APIs.
type APIConfig struct {
	CLOBBase      string `yaml:"clob_base"`
	GammaBase     string `yaml:"gamma_base"`
	DataBase      string `yaml:"data_base"`
	BinanceBase   string `yaml:"binance_base"`
	BinanceStream string `yaml:"binance_stream"`
	PolygonRPC    string `yaml:"polygon_rpc"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN          string `yaml:"dsn"`           // ruta al archivo SQLite, o ":memory:"
	SnapshotFile string `yaml:"snapshot_file"` // JSON atómico; vacío = solo SQLite
	TradeLog     string `yaml:"trade_log"`     // JSONL; vacío = desactivado
	CacheTTLMin  int    `yaml:"cache_ttl_minutes"`
}

// MetricsConfig controla la API de estado y /metrics.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // vacío = desactivado
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// Parse decodifica YAML, aplica las variables de entorno y los defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Strategy: StrategyConfig{Paper: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate comprueba lo que los defaults no pueden arreglar.
func (c *Config) Validate() error {
	switch c.Strategy.Mode {
	case StrategyEV, StrategyCopy:
	default:
		return fmt.Errorf("strategy.mode %q: want %s or %s", c.Strategy.Mode, StrategyEV, StrategyCopy)
	}
	if c.Strategy.Mode == StrategyEV && !ev.ValidRule(c.Strategy.EntryRule) {
		return fmt.Errorf("strategy.entry_rule %q unknown", c.Strategy.EntryRule)
	}
	if c.Strategy.Mode == StrategyCopy && len(c.Copy.Wallets) == 0 {
		return fmt.Errorf("copy.wallets: at least one wallet required")
	}
	if !c.Strategy.Paper && c.PrivateKey == "" {
		return fmt.Errorf("live mode requires POLY_PRIVATE_KEY")
	}
	return nil
}

// ScanInterval devuelve el intervalo entre ciclos como time.Duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Strategy.IntervalSeconds) * time.Second
}

// Mode devuelve engine.ModePaper o engine.ModeLive.
func (c *Config) Mode() string {
	if c.Strategy.Paper {
		return engine.ModePaper
	}
	return engine.ModeLive
}

// Ledger construye la configuración del ledger.
func (c *Config) Ledger() ledger.Config {
	lc := ledger.DefaultConfig()
	lc.InitialBankroll = c.Risk.InitialBankroll
	lc.SettlementFeeRate = c.Risk.SettlementFee
	lc.ExitSlippage = c.Exits.Slippage
	lc.DegradedHaircut = c.Exits.Slippage
	lc.TakeProfit = c.Exits.TakeProfit
	lc.StopLoss = c.Exits.StopLoss
	lc.TrailingActivate = c.Exits.TrailingActivate
	lc.TrailingDrop = c.Exits.TrailingDrop
	lc.Timeout = time.Duration(c.Exits.TimeoutHours) * time.Hour
	lc.Cooldown = time.Duration(c.Risk.CooldownMinutes) * time.Minute
	lc.MaxPositions = c.Risk.MaxPositions
	lc.DrawdownHalt = c.Risk.DrawdownHalt
	return lc
}

// Sizer construye el Kelly sizer del driver ev.
func (c *Config) Sizer() sizing.Sizer {
	return sizing.NewSizer(sizing.Sizer{
		FeeRate:        c.Risk.FeeRate,
		KellyFraction:  c.Risk.KellyFraction,
		MaxBetFraction: c.Risk.MaxBetFraction,
		MinBet:         c.Risk.MinBet,
		MaxBetAmount:   c.Risk.MaxBetAmount,
	})
}

// Core construye la configuración compartida por los dos drivers.
func (c *Config) Core() engine.CoreConfig {
	return engine.CoreConfig{
		Strategy:      c.Strategy.Mode,
		EntrySlippage: c.Risk.EntrySlippage,
	}
}

// EV construye la configuración del driver de edge.
func (c *Config) EV() ev.Config {
	return ev.Config{
		MinEdge:       c.Strategy.MinEdge,
		MinConfidence: c.Strategy.MinConfidence,
		EntryRule:     c.Strategy.EntryRule,
		FeeRate:       c.Risk.FeeRate,
		VolScale:      c.Strategy.VolScale,
		MinTTL:        time.Duration(c.Strategy.MinTTLSeconds) * time.Second,
		CandleCount:   c.Strategy.CandleCount,
		Workers:       c.Strategy.Workers,
	}
}

// CopyTrade construye la configuración del driver de copy-trading.
func (c *Config) CopyTrade() copytrade.Config {
	wallets := make([]copytrade.Wallet, 0, len(c.Copy.Wallets))
	for _, w := range c.Copy.Wallets {
		wallets = append(wallets, copytrade.Wallet{
			Address: strings.ToLower(strings.TrimSpace(w.Address)),
			Label:   w.Label,
			Score:   w.Score,
		})
	}
	return copytrade.Config{
		Wallets:     wallets,
		MaxTradeAge: time.Duration(c.Copy.MaxTradeAgeMin) * time.Minute,
		MaxPrice:    c.Copy.MaxPrice,
		BetFraction: c.Copy.BetFraction,
		MaxBet:      c.Copy.MaxBet,
		MinBet:      c.Risk.MinBet,
		PendingTTL:  time.Duration(c.Copy.PendingTTLSeconds) * time.Second,
		QueueSize:   c.Copy.QueueSize,
		Workers:     c.Strategy.Workers,
	}
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("PAPER_TRADING"); v != "" {
		paper, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PAPER_TRADING %q: %w", v, err)
		}
		cfg.Strategy.Paper = paper
	}
	if v := os.Getenv("INITIAL_BANKROLL"); v != "" {
		bankroll, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("INITIAL_BANKROLL %q: %w", v, err)
		}
		cfg.Risk.InitialBankroll = bankroll
	}
	if v := os.Getenv("POLY_PRIVATE_KEY"); v != "" {
		cfg.PrivateKey = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.API.PolygonRPC = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	s := &cfg.Strategy
	if s.Mode == "" {
		s.Mode = StrategyEV
	}
	if s.IntervalSeconds <= 0 {
		s.IntervalSeconds = 10
	}
	if s.EntryRule == "" {
		s.EntryRule = ev.RuleEdge
	}
	if s.MinEdge <= 0 {
		s.MinEdge = ev.DefaultMinEdge
	}
	if s.MinConfidence <= 0 {
		s.MinConfidence = ev.DefaultMinConfidence
	}
	if s.MinTTLSeconds <= 0 {
		s.MinTTLSeconds = int(ev.DefaultMinTTL / time.Second)
	}
	if s.CandleCount <= 0 {
		s.CandleCount = ev.DefaultCandleCount
	}
	if s.Workers <= 0 {
		s.Workers = ev.DefaultWorkers
	}
	if len(s.Instruments) == 0 {
		s.Instruments = []string{"BTC", "ETH", "SOL", "XRP"}
	}

	r := &cfg.Risk
	if r.InitialBankroll <= 0 {
		r.InitialBankroll = 1000
	}
	if r.FeeRate <= 0 {
		r.FeeRate = ev.DefaultFeeRate
	}
	if r.SettlementFee <= 0 {
		r.SettlementFee = ledger.DefaultSettlementFee
	}
	if r.MaxBetAmount <= 0 {
		r.MaxBetAmount = sizing.DefaultMaxBetAmount
	}
	if r.MinBet <= 0 {
		r.MinBet = sizing.DefaultMinBet
	}
	if r.MaxPositions <= 0 {
		r.MaxPositions = ledger.DefaultMaxPositions
	}
	if r.CooldownMinutes <= 0 {
		r.CooldownMinutes = int(ledger.DefaultCooldown / time.Minute)
	}
	if r.DrawdownHalt <= 0 {
		r.DrawdownHalt = ledger.DefaultDrawdownHalt
	}
	if r.EntrySlippage <= 0 {
		r.EntrySlippage = engine.DefaultEntrySlippage
	}

	e := &cfg.Exits
	if e.TakeProfit <= 0 {
		e.TakeProfit = ledger.DefaultTakeProfit
	}
	if e.StopLoss <= 0 {
		e.StopLoss = ledger.DefaultStopLoss
	}
	if e.TrailingActivate <= 0 {
		e.TrailingActivate = ledger.DefaultTrailingActivate
	}
	if e.TrailingDrop <= 0 {
		e.TrailingDrop = ledger.DefaultTrailingDrop
	}
	if e.TimeoutHours <= 0 {
		e.TimeoutHours = int(ledger.DefaultTimeout / time.Hour)
	}
	if e.Slippage <= 0 {
		e.Slippage = ledger.DefaultExitSlippage
	}

	c := &cfg.Copy
	if c.MaxTradeAgeMin <= 0 {
		c.MaxTradeAgeMin = int(copytrade.DefaultMaxTradeAge / time.Minute)
	}
	if c.MaxPrice <= 0 {
		c.MaxPrice = copytrade.DefaultMaxPrice
	}
	if c.BetFraction <= 0 {
		c.BetFraction = copytrade.DefaultBetFraction
	}
	if c.MaxBet <= 0 {
		c.MaxBet = copytrade.DefaultMaxBet
	}
	if c.PendingTTLSeconds <= 0 {
		c.PendingTTLSeconds = int(copytrade.DefaultPendingTTL / time.Second)
	}
	if c.QueueSize <= 0 {
		c.QueueSize = copytrade.DefaultQueueSize
	}
	for i := range c.Wallets {
		if c.Wallets[i].Score <= 0 {
			c.Wallets[i].Score = copytrade.DefaultScore
		}
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "binarybot.db"
	}
	if cfg.Storage.CacheTTLMin <= 0 {
		cfg.Storage.CacheTTLMin = 24 * 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
