package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/fill"
	"github.com/alejandrodnm/binarybot/internal/ledger"
	"github.com/alejandrodnm/binarybot/internal/metrics"
	"github.com/alejandrodnm/binarybot/internal/ports"
)

const (
	ModePaper = "paper"
	ModeLive  = "live"

	DefaultSettleEvery   = 10 * time.Second
	DefaultFetchTimeout  = 8 * time.Second
	DefaultEntrySlippage = 0.005

	maxTokenPrice = 0.99
	minTokenPrice = 0.01
)

// Deps are the collaborators a driver needs. Executor and Redeemer are nil
// in paper mode; Store and Trades are optional.
type Deps struct {
	Ledger   *ledger.Ledger
	Books    ports.BookProvider
	Oracle   ports.SettlementOracle
	Executor ports.OrderExecutor
	Redeemer ports.Redeemer
	Store    ports.SnapshotStore
	Trades   ports.TradeLog
}

// CoreConfig holds the settings shared by both drivers.
type CoreConfig struct {
	Strategy      string
	SettleEvery   time.Duration // min interval between oracle queries per position
	FetchTimeout  time.Duration
	EntrySlippage float64 // applied to simulated paper entries only
}

// Core wires a ledger to the venue. Every path that changes exposure goes
// through it so that live mode always confirms with the venue before the
// ledger is written.
type Core struct {
	Deps
	cfg CoreConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewCore creates a Core, filling zero config values with defaults.
func NewCore(d Deps, cfg CoreConfig) *Core {
	if cfg.SettleEvery <= 0 {
		cfg.SettleEvery = DefaultSettleEvery
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.EntrySlippage < 0 {
		cfg.EntrySlippage = 0
	}
	return &Core{Deps: d, cfg: cfg, limiters: make(map[string]*rate.Limiter)}
}

// Mode is "live" when an executor is wired, "paper" otherwise.
func (c *Core) Mode() string {
	if c.Executor != nil {
		return ModeLive
	}
	return ModePaper
}

// Strategy devuelve el nombre de la estrategia para logs y trade records.
func (c *Core) Strategy() string {
	return c.cfg.Strategy
}

// FetchTimeout is the per-call timeout used for venue requests.
func (c *Core) FetchTimeout() time.Duration {
	return c.cfg.FetchTimeout
}

// CheckHalt runs the drawdown check. When trading is halted it returns a
// HALT action; open positions keep being settled and exited.
func (c *Core) CheckHalt(now time.Time) (Action, bool) {
	if !c.Ledger.CheckDrawdownHalt() {
		return Action{}, false
	}
	return Action{
		Kind:   ActionHalt,
		Reason: fmt.Sprintf("drawdown limit, equity $%.2f", c.Ledger.Equity()),
		At:     now,
	}, true
}

// LogVenueBalance compares the on-chain balance with the ledger cash in live
// mode. The ledger stays the source of truth.
func (c *Core) LogVenueBalance(ctx context.Context) {
	if c.Executor == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()
	bal, err := c.Executor.GetBalance(cctx)
	if err != nil {
		slog.Warn("engine: get balance failed", "err", err)
		return
	}
	slog.Info("engine: venue balance",
		"venue", fmt.Sprintf("$%.2f", bal),
		"ledger", fmt.Sprintf("$%.2f", c.Ledger.Bankroll()),
	)
}

// FetchBooks fetches order books for tokenIDs in one batch call.
// A failure is logged and returns an empty map so the tick carries on.
func (c *Core) FetchBooks(ctx context.Context, tokenIDs []string) map[string]domain.OrderBook {
	if len(tokenIDs) == 0 {
		return map[string]domain.OrderBook{}
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()
	books, err := c.Books.FetchOrderBooks(cctx, tokenIDs)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("books").Inc()
		slog.Warn("engine: fetch books failed", "tokens", len(tokenIDs), "err", err)
		return map[string]domain.OrderBook{}
	}
	return books
}

// OpenTokens returns the token IDs of every open position.
func (c *Core) OpenTokens() []string {
	var ids []string
	for _, p := range c.Ledger.Positions() {
		if p.TokenID != "" {
			ids = append(ids, p.TokenID)
		}
	}
	return ids
}

// SettleExpired moves expired positions to SETTLING and asks the oracle for
// each of them, at most once per SettleEvery per position. PENDING and
// UNKNOWN answers leave the position untouched.
func (c *Core) SettleExpired(ctx context.Context, now time.Time) []Action {
	return c.settle(ctx, now, false)
}

// SettleOpen is SettleExpired plus an oracle query for open positions that
// have not expired. Copied markets often carry no end time and the venue
// outcome is the only signal that they resolved. Unexpired positions stay
// OPEN while the answer is PENDING.
func (c *Core) SettleOpen(ctx context.Context, now time.Time) []Action {
	return c.settle(ctx, now, true)
}

func (c *Core) settle(ctx context.Context, now time.Time, pollOpen bool) []Action {
	var actions []Action
	for _, pos := range c.Ledger.Positions() {
		if pos.Status != domain.StatusSettling {
			switch {
			case pos.IsExpired(now):
				c.Ledger.Tick(pos.MarketKey, -1, now)
			case !pollOpen:
				continue
			}
		}
		if !c.limiter(pos.MarketKey).AllowN(now, 1) {
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
		outcome, err := c.Oracle.GetResult(cctx, pos.MarketID)
		cancel()
		if err != nil {
			metrics.FetchErrors.WithLabelValues("oracle").Inc()
			slog.Warn("engine: settlement query failed", "key", pos.MarketKey, "market", pos.MarketID, "err", err)
			continue
		}
		metrics.Settlements.WithLabelValues(string(outcome)).Inc()
		if !outcome.IsFinal() {
			slog.Debug("engine: settlement pending", "key", pos.MarketKey, "outcome", outcome)
			continue
		}

		closed, err := c.Ledger.Settle(pos.MarketKey, pos.MarketID, outcome, now)
		if err != nil {
			slog.Warn("engine: settle rejected", "key", pos.MarketKey, "err", err)
			continue
		}
		c.dropLimiter(pos.MarketKey)
		c.recordClose(closed, now)
		actions = append(actions, Action{
			Kind:      ActionSettle,
			MarketKey: closed.MarketKey,
			Reason:    string(outcome),
			Price:     closed.ExitPrice,
			Stake:     closed.Stake,
			PnL:       closed.PnL,
			At:        now,
		})

		if c.Redeemer != nil && closed.Payout > 0 && closed.ConditionID != "" {
			c.redeem(ctx, closed)
		}
	}
	return actions
}

func (c *Core) redeem(ctx context.Context, pos domain.Position) {
	res, err := c.Redeemer.RedeemPositions(ctx, pos.ConditionID, false)
	if err != nil {
		slog.Warn("engine: redeem failed", "condition", pos.ConditionID, "err", err)
		return
	}
	slog.Info("engine: redeemed winning tokens",
		"condition", pos.ConditionID,
		"tx", res.TxHash,
		"gas_pol", fmt.Sprintf("%.5f", res.GasUsedPOL),
	)
}

func (c *Core) limiter(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(c.cfg.SettleEvery), 1)
		c.limiters[key] = lim
	}
	return lim
}

func (c *Core) dropLimiter(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.limiters, key)
}

// ManageExits ticks every OPEN position with the best bid of its book and
// executes the first exit trigger that fires. Positions without a fresh book
// are still checked for timeout and expiry.
func (c *Core) ManageExits(ctx context.Context, books map[string]domain.OrderBook, now time.Time) []Action {
	var actions []Action
	for _, pos := range c.Ledger.Positions() {
		if pos.Status != domain.StatusOpen {
			continue
		}
		book, ok := books[pos.TokenID]
		price := -1.0
		if ok {
			price = book.BestBid()
		}
		reason, fire := c.Ledger.Tick(pos.MarketKey, price, now)
		if !fire || reason == domain.ExitSettlement {
			continue
		}
		actions = append(actions, c.Exit(ctx, pos.MarketKey, reason, book, now))
	}
	return actions
}

// Exit closes the position at key. In live mode a SELL order is placed
// first and the ledger is only written with the confirmed fill; a failed
// order leaves the position open for the next tick.
func (c *Core) Exit(ctx context.Context, key string, reason domain.ExitReason, book domain.OrderBook, now time.Time) Action {
	pos, ok := c.Ledger.Position(key)
	if !ok {
		return Action{Kind: ActionSkip, MarketKey: key, Reason: SkipLedger, At: now}
	}

	var (
		closed domain.Position
		err    error
	)
	switch {
	case c.Executor != nil:
		bid := book.BestBid()
		if bid <= 0 {
			slog.Warn("engine: no bid for live exit", "key", key, "reason", reason)
			return Action{Kind: ActionSkip, MarketKey: key, Reason: SkipNoBook, At: now}
		}
		limit := floorTick(bid * (1 - c.Ledger.Config().ExitSlippage))
		req := domain.OrderRequest{
			TokenID:     pos.TokenID,
			ConditionID: pos.ConditionID,
			Side:        domain.OrderSell,
			Price:       limit,
			Size:        pos.Shares,
		}
		cctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
		placed, perr := c.Executor.PlaceOrder(cctx, req)
		cancel()
		if perr != nil {
			slog.Warn("engine: exit order failed, position kept", "key", key, "reason", reason, "err", perr)
			return Action{Kind: ActionSkip, MarketKey: key, Reason: SkipOrderFailed, At: now}
		}
		// on a SELL the wallet makes shares and takes USDC
		if placed.MadeAmount > 0 && placed.TakenAmount > 0 {
			closed, err = c.Ledger.ExitFilled(key, reason, placed.MadeAmount, placed.TakenAmount, now)
			break
		}
		slog.Warn("engine: sell fill amounts missing, booking at limit", "key", key, "order", placed.OrderID, "limit", limit)
		closed, err = c.Ledger.ExitAtPrice(key, reason, limit, now)
	case reason == domain.ExitMirror:
		closed, err = c.Ledger.MirrorExit(key, book.Bids, now)
	default:
		closed, err = c.Ledger.Exit(key, reason, book.Bids, now)
	}
	if err != nil {
		slog.Warn("engine: exit rejected", "key", key, "reason", reason, "err", err)
		return Action{Kind: ActionSkip, MarketKey: key, Reason: SkipLedger, At: now}
	}

	c.recordClose(closed, now)
	return Action{
		Kind:      ActionExit,
		MarketKey: key,
		Reason:    string(reason),
		Price:     closed.ExitPrice,
		Stake:     closed.Stake,
		PnL:       closed.PnL,
		At:        now,
	}
}

// Entry is a sized candidate ready to be filled. Open.Price is overwritten
// with the fill price; MaxPrice caps the acceptable VWAP when set.
type Entry struct {
	Open     ledger.OpenRequest
	Book     domain.OrderBook
	NegRisk  bool
	MaxPrice float64
	Reason   string // shown on the OPEN action, defaults to the entry edge
}

// Enter fills e against its book and opens the position. Paper entries are
// priced at VWAP plus EntrySlippage. Live entries place a FOK buy at the
// worst level the simulation touched and are written to the ledger only
// after the venue confirms the fill.
func (c *Core) Enter(ctx context.Context, e Entry) Action {
	req := e.Open
	skip := func(reason string) Action {
		return Action{Kind: ActionSkip, MarketKey: req.MarketKey, Reason: reason, Price: req.Price, Stake: req.Stake, At: req.Now}
	}

	res, err := fill.SimulateBuy(e.Book.Asks, req.Stake)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientLiquidity) {
			return skip(SkipLiquidity)
		}
		return skip(SkipZeroStake)
	}
	if e.MaxPrice > 0 && res.VWAP > e.MaxPrice {
		req.Price = res.VWAP
		return skip(SkipAboveLimit)
	}

	if slip := res.Slippage(); slip > 0 {
		slog.Debug("engine: entry walks the book",
			"key", req.MarketKey,
			"levels", len(res.Levels),
			"slippage", fmt.Sprintf("%.4f", slip),
		)
	}

	if c.Executor == nil {
		req.Price = math.Min(res.VWAP*(1+c.cfg.EntrySlippage), maxTokenPrice)
		return c.open(req, e.Reason)
	}

	req.Price = res.VWAP
	if err := c.Ledger.CanOpen(req); err != nil {
		slog.Debug("engine: entry rejected before order", "key", req.MarketKey, "err", err)
		return skip(SkipLedger)
	}

	limit := ceilTick(res.Levels[len(res.Levels)-1].Price)
	if e.MaxPrice > 0 {
		limit = math.Min(limit, floorTick(e.MaxPrice))
	}
	order := domain.OrderRequest{
		TokenID:     req.TokenID,
		ConditionID: req.ConditionID,
		Side:        domain.OrderBuy,
		Price:       limit,
		Size:        req.Stake,
		NegRisk:     e.NegRisk,
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	placed, err := c.Executor.PlaceOrder(cctx, order)
	cancel()
	if err != nil {
		slog.Warn("engine: entry order failed, ledger untouched", "key", req.MarketKey, "err", err)
		return skip(SkipOrderFailed)
	}
	// on a BUY the wallet makes USDC and takes shares; the ledger books what
	// the venue matched, not what was asked for
	if price := placed.FillPrice(domain.OrderBuy); price > 0 && price < 1 {
		req.Price = price
		req.Stake = placed.MadeAmount
	} else {
		slog.Warn("engine: buy fill amounts missing, booking at limit", "key", req.MarketKey, "order", placed.OrderID, "limit", limit)
		req.Price = limit
	}
	return c.open(req, e.Reason)
}

func (c *Core) open(req ledger.OpenRequest, reason string) Action {
	pos, err := c.Ledger.TryOpen(req)
	if err != nil {
		slog.Debug("engine: open rejected", "key", req.MarketKey, "err", err)
		return Action{Kind: ActionSkip, MarketKey: req.MarketKey, Reason: SkipLedger, Price: req.Price, Stake: req.Stake, At: req.Now}
	}
	metrics.Entries.WithLabelValues(c.cfg.Strategy, string(pos.Side)).Inc()
	c.record(domain.TradeOpened, pos, req.Now)
	if reason == "" {
		reason = fmt.Sprintf("edge %.3f", pos.EdgeAtEntry)
	}
	return Action{
		Kind:      ActionOpen,
		MarketKey: pos.MarketKey,
		Reason:    reason,
		Price:     pos.EntryPrice,
		Stake:     pos.Stake,
		At:        req.Now,
	}
}

func (c *Core) recordClose(pos domain.Position, now time.Time) {
	metrics.ObserveClose(pos)
	c.record(domain.TradeClosed, pos, now)
}

func (c *Core) record(event domain.TradeEvent, pos domain.Position, now time.Time) {
	if c.Trades == nil {
		return
	}
	rec := domain.TradeRecord{
		ID:       uuid.NewString(),
		Event:    event,
		Mode:     c.Mode(),
		Strategy: c.cfg.Strategy,
		At:       now,
		Position: pos,
	}
	if err := c.Trades.Record(rec); err != nil {
		slog.Warn("engine: trade log write failed", "key", pos.MarketKey, "event", event, "err", err)
	}
}

// Persist saves a ledger snapshot and refreshes the ledger gauges.
func (c *Core) Persist(ctx context.Context, now time.Time) {
	metrics.ObserveLedger(c.Ledger)
	if c.Store == nil {
		return
	}
	if err := c.Store.SaveSnapshot(ctx, c.Ledger.Snapshot(now)); err != nil {
		slog.Warn("engine: snapshot save failed", "err", err)
	}
}

// Finish stamps the ledger totals and duration on result and records the
// per-kind decision counters.
func (c *Core) Finish(result *CycleResult) {
	result.Bankroll = c.Ledger.Bankroll()
	result.Equity = c.Ledger.Equity()
	result.Halted = c.Ledger.Halted()
	result.Duration = time.Since(result.StartedAt)
	for _, a := range result.Actions {
		metrics.Decisions.WithLabelValues(c.cfg.Strategy, string(a.Kind)).Inc()
	}
	metrics.CycleDuration.WithLabelValues(c.cfg.Strategy).Observe(result.Duration.Seconds())
}

// ceilTick rounds a price up to the 0.01 tick, within the tradable range.
func ceilTick(p float64) float64 {
	return clampPrice(math.Ceil(p*100-1e-9) / 100)
}

// floorTick rounds a price down to the 0.01 tick, within the tradable range.
func floorTick(p float64) float64 {
	return clampPrice(math.Floor(p*100+1e-9) / 100)
}

func clampPrice(p float64) float64 {
	return math.Max(minTokenPrice, math.Min(maxTokenPrice, p))
}
