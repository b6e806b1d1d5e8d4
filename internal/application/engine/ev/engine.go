// Package ev is the model-driven driver: it prices every active binary
// market from recent candles and enters the best positive-edge side per
// instrument.
package ev

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/binarybot/internal/application/engine"
	"github.com/alejandrodnm/binarybot/internal/candles"
	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/ledger"
	"github.com/alejandrodnm/binarybot/internal/metrics"
	"github.com/alejandrodnm/binarybot/internal/ports"
	"github.com/alejandrodnm/binarybot/internal/pricing"
	"github.com/alejandrodnm/binarybot/internal/sizing"
)

const (
	DefaultMinEdge       = 0.03
	DefaultMinConfidence = 0.5
	DefaultMinTTL        = 10 * time.Second
	DefaultCandleCount   = 60
	DefaultFeeRate       = 0.02
	DefaultWorkers       = 4

	// streamStaleAfter: a window whose newest candle is older than this is
	// refilled over REST even when the stream is running.
	streamStaleAfter = 3 * time.Minute
)

// Config holds the settings of the model driver.
type Config struct {
	MinEdge       float64
	MinConfidence float64
	EntryRule     string
	FeeRate       float64
	VolScale      float64
	MinTTL        time.Duration
	CandleCount   int
	Workers       int
}

// Engine runs one decision cycle per call to RunOnce.
type Engine struct {
	core      *engine.Core
	markets   ports.MarketProvider
	candles   ports.CandleSource
	parser    ports.MarketParser
	windows   *candles.Set
	sizer     sizing.Sizer
	cfg       Config
	imbalance *imbalanceTracker
}

// New creates the model driver. windows may be shared with a live candle
// stream; candles is used to backfill windows that are short or stale.
func New(
	core *engine.Core,
	markets ports.MarketProvider,
	source ports.CandleSource,
	parser ports.MarketParser,
	windows *candles.Set,
	sizer sizing.Sizer,
	cfg Config,
) *Engine {
	if cfg.MinEdge <= 0 {
		cfg.MinEdge = DefaultMinEdge
	}
	if cfg.MinConfidence < 0 {
		cfg.MinConfidence = 0
	}
	if !ValidRule(cfg.EntryRule) {
		cfg.EntryRule = RuleEdge
	}
	if cfg.FeeRate <= 0 {
		cfg.FeeRate = DefaultFeeRate
	}
	if cfg.VolScale <= 0 {
		cfg.VolScale = pricing.DefaultVolScale
	}
	if cfg.MinTTL <= 0 {
		cfg.MinTTL = DefaultMinTTL
	}
	if cfg.CandleCount <= 0 {
		cfg.CandleCount = DefaultCandleCount
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if windows == nil {
		windows = candles.NewSet(candles.DefaultCapacity)
	}
	return &Engine{
		core:      core,
		markets:   markets,
		candles:   source,
		parser:    parser,
		windows:   windows,
		sizer:     sizer,
		cfg:       cfg,
		imbalance: newImbalanceTracker(),
	}
}

// Config returns the effective configuration after defaults.
func (e *Engine) Config() Config {
	return e.cfg
}

// parsedMarket es un mercado activo con su título ya interpretado.
type parsedMarket struct {
	market domain.Market
	spec   domain.MarketSpec
}

// RunOnce executes a single cycle: halt check, settlement, discovery,
// pricing, entries and exits, then a snapshot.
func (e *Engine) RunOnce(ctx context.Context, now time.Time) (*engine.CycleResult, error) {
	result := &engine.CycleResult{StartedAt: time.Now()}
	l := e.core.Ledger

	// 1. Protection
	halt, halted := e.core.CheckHalt(now)
	if halted {
		result.Add(halt)
	}

	// 2. Settlement of expired positions
	result.Add(e.core.SettleExpired(ctx, now)...)

	// 3. Discovery: markets, candles per instrument, books in one batch
	markets, err := e.markets.FetchActiveMarkets(ctx)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("markets").Inc()
		slog.Warn("ev: market discovery failed", "err", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("discovery: %v", err))
	}
	result.Markets = len(markets)

	parsed := make([]parsedMarket, 0, len(markets))
	instruments := make(map[string]bool)
	for _, m := range markets {
		spec, ok := e.parser.ParseMarket(m.Question)
		if !ok {
			result.Add(engine.Action{Kind: engine.ActionSkip, MarketKey: marketKey(m, domain.SideYes), Reason: engine.SkipUnknownMarket, At: now})
			continue
		}
		parsed = append(parsed, parsedMarket{market: m, spec: spec})
		instruments[spec.Instrument] = true
	}
	e.refreshCandles(ctx, instruments, now)

	tokens := e.core.OpenTokens()
	for _, pm := range parsed {
		tokens = append(tokens, pm.market.Tokens[0].TokenID, pm.market.Tokens[1].TokenID)
	}
	books := e.core.FetchBooks(ctx, dedup(tokens))

	// 4. Pricing: best edge per instrument
	best := make(map[string]candidate)
	for _, pm := range parsed {
		for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
			c, skip := e.evaluate(pm, side, books, now)
			if skip != "" {
				result.Add(engine.Action{Kind: engine.ActionSkip, MarketKey: marketKey(pm.market, side), Reason: skip, At: now})
				continue
			}
			if cur, ok := best[c.instrument]; !ok || c.edge > cur.edge {
				best[c.instrument] = c
			}
		}
	}

	// 5. Entries
	insts := make([]string, 0, len(best))
	for inst := range best {
		insts = append(insts, inst)
	}
	sort.Strings(insts)
	for _, inst := range insts {
		c := best[inst]
		if l.Halted() {
			result.Add(engine.Action{Kind: engine.ActionSkip, MarketKey: c.key, Reason: engine.SkipHalted, At: now})
			continue
		}
		result.Add(e.enter(ctx, c, parsedFor(parsed, c.key), books, now))
	}

	// 6. Exits on fresh best bids
	result.Add(e.core.ManageExits(ctx, books, now)...)

	// 7. Snapshot
	e.core.Persist(ctx, now)
	e.core.Finish(result)
	engine.LogSkips("ev", result)

	slog.Info("ev: cycle done",
		"markets", result.Markets,
		"opened", result.Opened,
		"closed", result.Closed,
		"open", l.OpenCount(),
		"bankroll", fmt.Sprintf("$%.2f", result.Bankroll),
		"equity", fmt.Sprintf("$%.2f", result.Equity),
		"took", result.Duration.Round(time.Millisecond),
	)
	return result, nil
}

// refreshCandles backfills every window that is too short for the volatility
// estimate or stale, fanning out one REST call per instrument.
func (e *Engine) refreshCandles(ctx context.Context, instruments map[string]bool, now time.Time) {
	var need []string
	for inst := range instruments {
		w := e.windows.Get(inst)
		last := w.Last(1)
		if w.Len() >= candles.DefaultVolWindow && len(last) == 1 && now.Sub(last[0].CloseTime) < streamStaleAfter {
			continue
		}
		need = append(need, inst)
	}
	sort.Strings(need)
	if len(need) == 0 || e.candles == nil {
		return
	}

	fetched, errs := engine.FanOut(ctx, need, e.cfg.Workers, e.core.FetchTimeout(),
		func(ctx context.Context, inst string) ([]domain.Candle, error) {
			return e.candles.GetRecentCandles(ctx, inst, e.cfg.CandleCount)
		})
	for inst, cs := range fetched {
		if len(cs) > 0 {
			e.windows.Get(inst).Replace(cs)
		}
	}
	for inst, err := range errs {
		metrics.FetchErrors.WithLabelValues("candles").Inc()
		slog.Warn("ev: candle fetch failed", "instrument", inst, "err", err)
	}
}

// evaluate prices one side of one market. It returns the candidate or the
// reason it was skipped.
func (e *Engine) evaluate(pm parsedMarket, side domain.Side, books map[string]domain.OrderBook, now time.Time) (candidate, string) {
	m := pm.market
	key := marketKey(m, side)
	if _, open := e.core.Ledger.Position(key); open {
		return candidate{}, engine.SkipLedger
	}

	ttl := m.TimeToExpiry(now)
	if ttl < e.cfg.MinTTL.Seconds() {
		return candidate{}, engine.SkipNearExpiry
	}

	w := e.windows.Get(pm.spec.Instrument)
	spot := w.Spot()
	if spot <= 0 {
		return candidate{}, engine.SkipNoSpot
	}
	strike := pm.spec.Strike
	if strike <= 0 {
		strike = spot
	}

	book, ok := books[m.TokenFor(side).TokenID]
	if !ok {
		return candidate{}, engine.SkipNoBook
	}
	ask := book.BestAsk()
	if ask <= 0 {
		return candidate{}, engine.SkipNoAsk
	}

	est := w.Estimate()
	sig := w.Signals()
	probAbove := pricing.FairProbability(spot, strike, est.Blended, ttl, est.Drift, e.cfg.VolScale)
	prob, tags := pricing.AdjustForSide(probAbove, sig, side, pm.spec.Direction)

	c := candidate{
		key:        key,
		instrument: pm.spec.Instrument,
		prob:       prob,
		confidence: pricing.Confidence(w.Len(), est.Blended, ttl),
		edge:       pricing.Edge(prob, ask, e.cfg.FeeRate),
		ask:        ask,
		imbalance:  book.Imbalance(),
		velocity:   sig.Velocity,
		ttl:        ttl,
		tags:       tags,
	}
	if e.cfg.EntryRule == RuleImbalanceSniper {
		c.held = e.imbalance.observe(key, c.imbalance, now)
	}
	slog.Debug("ev: candidate", "c", c.String(), "tags", tags)
	return c, ""
}

func (e *Engine) enter(ctx context.Context, c candidate, pm parsedMarket, books map[string]domain.OrderBook, now time.Time) engine.Action {
	skip := func(reason string) engine.Action {
		return engine.Action{Kind: engine.ActionSkip, MarketKey: c.key, Reason: reason, Price: c.ask, At: now}
	}
	if reason := e.admit(c); reason != "" {
		return skip(reason)
	}

	stake := e.sizer.Stake(e.core.Ledger.Bankroll(), c.prob, c.ask)
	if stake <= 0 {
		return skip(engine.SkipZeroStake)
	}

	side := sideOf(pm.market, c.key)
	token := pm.market.TokenFor(side)
	slog.Info("ev: entry signal",
		"key", c.key,
		"side", side,
		"prob", fmt.Sprintf("%.3f", c.prob),
		"ask", fmt.Sprintf("%.3f", c.ask),
		"edge", fmt.Sprintf("%.3f", c.edge),
		"stake", fmt.Sprintf("$%.2f", stake),
		"rule", e.cfg.EntryRule,
	)
	return e.core.Enter(ctx, engine.Entry{
		Open: ledger.OpenRequest{
			MarketKey:   c.key,
			MarketID:    pm.market.MarketID,
			ConditionID: pm.market.ConditionID,
			TokenID:     token.TokenID,
			Instrument:  c.instrument,
			Question:    pm.market.Question,
			Side:        side,
			Price:       c.ask,
			Stake:       stake,
			FairProb:    c.prob,
			Edge:        c.edge,
			Expiry:      pm.market.EndTime,
			Now:         now,
		},
		Book:    books[token.TokenID],
		NegRisk: pm.market.NegRisk,
	})
}

// marketKey keys model positions by condition and side, falling back to the
// market ID when the venue omits the condition.
func marketKey(m domain.Market, side domain.Side) string {
	id := m.ConditionID
	if id == "" {
		id = m.MarketID
	}
	return domain.MarketKey(id, side)
}

func sideOf(m domain.Market, key string) domain.Side {
	if key == marketKey(m, domain.SideNo) {
		return domain.SideNo
	}
	return domain.SideYes
}

func parsedFor(parsed []parsedMarket, key string) parsedMarket {
	for _, pm := range parsed {
		if marketKey(pm.market, domain.SideYes) == key || marketKey(pm.market, domain.SideNo) == key {
			return pm
		}
	}
	return parsedMarket{}
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
