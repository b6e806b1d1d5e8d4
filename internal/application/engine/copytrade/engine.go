// Package copytrade mirrors the trades of selected wallets: their buys are
// queued and filled under a slippage cap, their sells close our copy.
package copytrade

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/alejandrodnm/binarybot/internal/application/engine"
	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/ledger"
	"github.com/alejandrodnm/binarybot/internal/metrics"
	"github.com/alejandrodnm/binarybot/internal/ports"
	"github.com/alejandrodnm/binarybot/internal/sizing"
)

const (
	DefaultMaxTradeAge = 30 * time.Minute
	DefaultMaxPrice    = 0.95
	DefaultBetFraction = 0.05
	DefaultMaxBet      = 100.0
	DefaultPendingTTL  = 60 * time.Second
	DefaultQueueSize   = 256
	DefaultWorkers     = 4
	DefaultScore       = 100.0
)

// Wallet is a copied source. Score (0..100) scales the stake and widens the
// slippage allowance for the best wallets.
type Wallet struct {
	Address string
	Label   string
	Score   float64
}

func (w Wallet) name() string {
	if w.Label != "" {
		return w.Label
	}
	return w.Address
}

// Config holds the copy-trading settings.
type Config struct {
	Wallets     []Wallet
	MaxTradeAge time.Duration
	MaxPrice    float64
	BetFraction float64
	MaxBet      float64
	MinBet      float64
	PendingTTL  time.Duration
	QueueSize   int
	Workers     int
}

// pendingOrder es un BUY de la wallet copiada esperando precio.
type pendingOrder struct {
	trade   domain.SourceTrade
	wallet  Wallet
	limit   float64
	expires time.Time
}

// Engine is the copy-trading driver.
type Engine struct {
	core      *engine.Core
	activity  ports.ActivityProvider
	cfg       Config
	startedAt time.Time

	queue   chan pendingOrder
	waiting []pendingOrder
}

// New creates the copy driver. Source trades made before startedAt are
// never copied.
func New(core *engine.Core, activity ports.ActivityProvider, cfg Config, startedAt time.Time) *Engine {
	if cfg.MaxTradeAge <= 0 {
		cfg.MaxTradeAge = DefaultMaxTradeAge
	}
	if cfg.MaxPrice <= 0 || cfg.MaxPrice >= 1 {
		cfg.MaxPrice = DefaultMaxPrice
	}
	if cfg.BetFraction <= 0 {
		cfg.BetFraction = DefaultBetFraction
	}
	if cfg.MaxBet <= 0 {
		cfg.MaxBet = DefaultMaxBet
	}
	if cfg.MinBet <= 0 {
		cfg.MinBet = sizing.DefaultMinBet
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	for i := range cfg.Wallets {
		if cfg.Wallets[i].Score <= 0 {
			cfg.Wallets[i].Score = DefaultScore
		}
	}
	return &Engine{
		core:      core,
		activity:  activity,
		cfg:       cfg,
		startedAt: startedAt,
		queue:     make(chan pendingOrder, cfg.QueueSize),
	}
}

// Pending returns how many copied buys are waiting for a fill.
func (e *Engine) Pending() int {
	return len(e.waiting) + len(e.queue)
}

// RunOnce executes a single cycle: halt check, settlement, activity poll,
// mirror exits, pending fills and exit triggers, then a snapshot.
func (e *Engine) RunOnce(ctx context.Context, now time.Time) (*engine.CycleResult, error) {
	result := &engine.CycleResult{StartedAt: time.Now()}
	l := e.core.Ledger

	// 1. Protection
	if halt, halted := e.core.CheckHalt(now); halted {
		result.Add(halt)
	}

	// 2. Settlement. Copied markets may have no end time, so every open
	// position is polled.
	result.Add(e.core.SettleOpen(ctx, now)...)

	// 3. Poll source wallets
	mirrors := e.poll(ctx, now, result)

	// 4. Drain the queue into the waiting list
	e.drain()

	tokens := e.core.OpenTokens()
	for _, po := range e.waiting {
		tokens = append(tokens, po.trade.Asset)
	}
	books := e.core.FetchBooks(ctx, dedup(tokens))

	// 5. Mirror exits
	for _, key := range mirrors {
		pos, ok := l.Position(key)
		if !ok || pos.Status != domain.StatusOpen {
			continue
		}
		result.Add(e.core.Exit(ctx, key, domain.ExitMirror, books[pos.TokenID], now))
	}

	// 6. Pending entries
	result.Add(e.fillPending(ctx, books, now)...)

	// 7. Exit triggers
	result.Add(e.core.ManageExits(ctx, books, now)...)

	// 8. Snapshot
	e.core.Persist(ctx, now)
	e.core.Finish(result)
	engine.LogSkips("copy", result)

	slog.Info("copy: cycle done",
		"opened", result.Opened,
		"closed", result.Closed,
		"pending", e.Pending(),
		"open", l.OpenCount(),
		"bankroll", fmt.Sprintf("$%.2f", result.Bankroll),
		"took", result.Duration.Round(time.Millisecond),
	)
	return result, nil
}

// poll fetches every wallet's activity, filters it and queues the buys.
// It returns the keys of positions whose source sold.
func (e *Engine) poll(ctx context.Context, now time.Time, result *engine.CycleResult) []string {
	byAddr := make(map[string]Wallet, len(e.cfg.Wallets))
	addrs := make([]string, 0, len(e.cfg.Wallets))
	for _, w := range e.cfg.Wallets {
		byAddr[w.Address] = w
		addrs = append(addrs, w.Address)
	}
	sort.Strings(addrs)

	activity, errs := engine.FanOut(ctx, addrs, e.cfg.Workers, e.core.FetchTimeout(), e.activity.FetchActivity)
	for addr, err := range errs {
		metrics.FetchErrors.WithLabelValues("activity").Inc()
		slog.Warn("copy: activity fetch failed", "wallet", byAddr[addr].name(), "err", err)
	}

	var mirrors []string
	for _, addr := range addrs {
		trades := append([]domain.SourceTrade(nil), activity[addr]...)
		sort.SliceStable(trades, func(i, j int) bool { return trades[i].Timestamp.Before(trades[j].Timestamp) })
		for _, t := range trades {
			a, mirror := e.ingest(t, byAddr[addr], now)
			if mirror != "" {
				mirrors = append(mirrors, mirror)
			}
			if a != nil {
				result.Add(*a)
			}
		}
	}
	return mirrors
}

// ingest applies the dedup and freshness filters to one source trade.
// A BUY is queued; a SELL on a key we hold returns that key for a mirror exit.
func (e *Engine) ingest(t domain.SourceTrade, w Wallet, now time.Time) (*engine.Action, string) {
	if !e.core.Ledger.MarkSeen(t.ID) {
		return nil, ""
	}
	if t.Timestamp.Before(e.startedAt) {
		return nil, ""
	}
	key := t.Key()
	skip := func(reason string) *engine.Action {
		return &engine.Action{Kind: engine.ActionSkip, MarketKey: key, Reason: reason, Price: t.Price, At: now}
	}
	if now.Sub(t.Timestamp) > e.cfg.MaxTradeAge {
		return skip(engine.SkipStaleTrade), ""
	}

	switch t.Side {
	case string(domain.OrderSell):
		if _, ok := e.core.Ledger.Position(key); ok {
			slog.Info("copy: source sold, mirroring exit", "wallet", w.name(), "key", key)
			return nil, key
		}
		if e.cancelPending(key) > 0 {
			slog.Info("copy: source sold before our fill, pending buy cancelled", "wallet", w.name(), "key", key)
		}
		return nil, ""
	case string(domain.OrderBuy):
		// sigue abajo
	default:
		return nil, ""
	}

	if t.Price >= e.cfg.MaxPrice {
		return skip(engine.SkipSourcePrice), ""
	}

	po := pendingOrder{
		trade:   t,
		wallet:  w,
		limit:   LimitPrice(t.Price, t.Size, w.Score),
		expires: now.Add(e.cfg.PendingTTL),
	}
	select {
	case e.queue <- po:
		slog.Info("copy: buy queued",
			"wallet", w.name(),
			"key", key,
			"price", fmt.Sprintf("%.3f", t.Price),
			"limit", fmt.Sprintf("%.3f", po.limit),
			"source_usdc", fmt.Sprintf("$%.2f", t.Notional()),
		)
		return nil, ""
	default:
		slog.Warn("copy: pending queue full, dropping buy", "wallet", w.name(), "key", key)
		return skip(engine.SkipQueueFull), ""
	}
}

// cancelPending drops queued and waiting buys for key.
func (e *Engine) cancelPending(key string) int {
	e.drain()
	n := 0
	keep := e.waiting[:0]
	for _, po := range e.waiting {
		if po.trade.Key() == key {
			n++
			continue
		}
		keep = append(keep, po)
	}
	e.waiting = keep
	return n
}

func (e *Engine) drain() {
	for {
		select {
		case po := <-e.queue:
			e.waiting = append(e.waiting, po)
		default:
			return
		}
	}
}

// fillPending tries every waiting buy against its book. Buys whose price is
// still above the limit, or whose book is too thin, wait until they expire.
func (e *Engine) fillPending(ctx context.Context, books map[string]domain.OrderBook, now time.Time) []engine.Action {
	var actions []engine.Action
	l := e.core.Ledger
	keep := e.waiting[:0]
	for _, po := range e.waiting {
		key := po.trade.Key()
		skip := func(reason string) engine.Action {
			return engine.Action{Kind: engine.ActionSkip, MarketKey: key, Reason: reason, Price: po.limit, At: now}
		}
		if now.After(po.expires) {
			actions = append(actions, skip(engine.SkipExpired))
			continue
		}
		if l.Halted() {
			actions = append(actions, skip(engine.SkipHalted))
			continue
		}
		book, ok := books[po.trade.Asset]
		if !ok {
			keep = append(keep, po)
			continue
		}
		stake := Stake(l.Bankroll(), po.wallet.Score, e.cfg.BetFraction, e.cfg.MaxBet)
		if stake < e.cfg.MinBet {
			actions = append(actions, skip(engine.SkipZeroStake))
			continue
		}

		a := e.core.Enter(ctx, engine.Entry{
			Open: ledger.OpenRequest{
				MarketKey:   key,
				MarketID:    po.trade.ConditionID,
				ConditionID: po.trade.ConditionID,
				TokenID:     po.trade.Asset,
				Question:    po.trade.Title,
				Source:      po.wallet.Address,
				Side:        sideOf(po.trade),
				Price:       po.trade.Price,
				Stake:       stake,
				Expiry:      po.trade.EndTime,
				Now:         now,
			},
			Book:     book,
			MaxPrice: po.limit,
			Reason:   "copy " + po.wallet.name(),
		})
		if a.Kind == engine.ActionSkip && (a.Reason == engine.SkipAboveLimit || a.Reason == engine.SkipLiquidity) {
			keep = append(keep, po)
			continue
		}
		actions = append(actions, a)
	}
	e.waiting = keep
	return actions
}

// SlippageFor is the price allowance over the source fill: bigger source
// trades move the book more, so the copy may pay more.
func SlippageFor(sourceSize, score float64) float64 {
	var slip float64
	switch {
	case sourceSize >= 5000:
		slip = 0.05
	case sourceSize >= 1000:
		slip = 0.03
	case sourceSize >= 100:
		slip = 0.01
	default:
		slip = 0.005
	}
	if score >= 80 {
		slip += 0.01
	}
	return slip
}

// LimitPrice is the highest price the copy accepts.
func LimitPrice(sourcePrice, sourceSize, score float64) float64 {
	return math.Min(0.99, sourcePrice*(1+SlippageFor(sourceSize, score)))
}

// Stake sizes a copy: min(bankroll·fraction, maxBet) scaled by score/100,
// rounded down to cents.
func Stake(bankroll, score, fraction, maxBet float64) float64 {
	if bankroll <= 0 {
		return 0
	}
	s := math.Max(0, math.Min(score, 100)) / 100
	return sizing.RoundCents(math.Min(bankroll*fraction, maxBet) * s)
}

func sideOf(t domain.SourceTrade) domain.Side {
	if s, ok := domain.ParseSide(t.Outcome); ok {
		return s
	}
	if t.OutcomeIndex == 1 {
		return domain.SideNo
	}
	return domain.SideYes
}

func dedup(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
