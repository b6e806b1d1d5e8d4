package copytrade_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/binarybot/internal/application/engine"
	"github.com/alejandrodnm/binarybot/internal/application/engine/copytrade"
	"github.com/alejandrodnm/binarybot/internal/application/engine/enginetest"
	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/ledger"
)

var (
	startedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now       = startedAt.Add(10 * time.Minute)
)

const whale = "0xwhale"

type harness struct {
	engine   *copytrade.Engine
	ledger   *ledger.Ledger
	activity *enginetest.Activity
	books    *enginetest.Books
	oracle   *enginetest.Oracle
	trades   *enginetest.TradeLog
}

func newHarness(t *testing.T, cfg copytrade.Config) *harness {
	t.Helper()
	h := &harness{
		ledger:   ledger.New(ledger.DefaultConfig()),
		activity: &enginetest.Activity{},
		books:    &enginetest.Books{},
		oracle:   &enginetest.Oracle{},
		trades:   &enginetest.TradeLog{},
	}
	if len(cfg.Wallets) == 0 {
		cfg.Wallets = []copytrade.Wallet{{Address: whale, Label: "whale", Score: 90}}
	}
	core := engine.NewCore(engine.Deps{
		Ledger: h.ledger,
		Books:  h.books,
		Oracle: h.oracle,
		Trades: h.trades,
	}, engine.CoreConfig{Strategy: "copy", EntrySlippage: engine.DefaultEntrySlippage})
	h.engine = copytrade.New(core, h.activity, cfg, startedAt)
	return h
}

func buy(id string, price, size float64, at time.Time) domain.SourceTrade {
	return domain.SourceTrade{
		ID:           id,
		Wallet:       whale,
		ConditionID:  "0xcond",
		Asset:        "tok-yes",
		OutcomeIndex: 0,
		Outcome:      "Yes",
		Side:         "BUY",
		Price:        price,
		Size:         size,
		Timestamp:    at,
		Title:        "Bitcoin Up or Down",
		EndTime:      at.Add(24 * time.Hour),
	}
}

func sell(id string, at time.Time) domain.SourceTrade {
	t := buy(id, 0.6, 200, at)
	t.Side = "SELL"
	return t
}

func TestRunOnce_CopiesFreshBuy(t *testing.T) {
	h := newHarness(t, copytrade.Config{})
	h.activity.Set(whale, buy("tx1", 0.50, 200, now.Add(-time.Minute)))
	h.books.Set(enginetest.Book("tok-yes", 0.49, 0.50, 1000))

	res, err := h.engine.RunOnce(context.Background(), now)
	require.NoError(t, err)

	require.Equal(t, 1, res.Opened)
	pos, ok := h.ledger.Position("0xcond:0")
	require.True(t, ok)
	// min(1000·0.05, 100) · 90/100
	assert.InDelta(t, 45, pos.Stake, 1e-9)
	assert.InDelta(t, 0.5025, pos.EntryPrice, 1e-9)
	assert.Equal(t, domain.SideYes, pos.Side)
	assert.Equal(t, whale, pos.Source)
	assert.Equal(t, "0xcond", pos.MarketID)
	assert.Equal(t, 0, h.engine.Pending())
}

func TestRunOnce_SettlesCopyWithoutEndTime(t *testing.T) {
	h := newHarness(t, copytrade.Config{})
	tr := buy("tx1", 0.50, 200, now.Add(-time.Minute))
	tr.EndTime = time.Time{}
	h.activity.Set(whale, tr)
	h.books.Set(enginetest.Book("tok-yes", 0.49, 0.50, 1000))

	res, err := h.engine.RunOnce(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, res.Opened)
	pos, ok := h.ledger.Position("0xcond:0")
	require.True(t, ok)
	assert.True(t, pos.ExpiryTime.IsZero())

	h.oracle.Set("0xcond", domain.OutcomeYes)
	res, err = h.engine.RunOnce(context.Background(), now.Add(15*time.Second))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Count(engine.ActionSettle))
	assert.Equal(t, 0, h.ledger.OpenCount())
	assert.InDelta(t, 955+45/0.5025*0.98, h.ledger.Bankroll(), 1e-6)
}

func TestRunOnce_DedupsByEventID(t *testing.T) {
	h := newHarness(t, copytrade.Config{})
	h.activity.Set(whale, buy("tx1", 0.50, 200, now.Add(-time.Minute)))
	h.books.Set(enginetest.Book("tok-yes", 0.49, 0.50, 1000))

	_, err := h.engine.RunOnce(context.Background(), now)
	require.NoError(t, err)
	res, err := h.engine.RunOnce(context.Background(), now.Add(5*time.Second))
	require.NoError(t, err)

	assert.Equal(t, 0, res.Opened)
	assert.Equal(t, 0, res.Count(engine.ActionSkip))
	assert.Equal(t, 1, h.ledger.OpenCount())
}

func TestRunOnce_Filters(t *testing.T) {
	h := newHarness(t, copytrade.Config{})
	before := buy("old-start", 0.50, 200, startedAt.Add(-time.Minute))
	stale := buy("stale", 0.50, 200, now.Add(-31*time.Minute))
	stale.Timestamp = startedAt.Add(time.Second)
	pricey := buy("pricey", 0.96, 200, now.Add(-time.Minute))
	h.activity.Set(whale, before, stale, pricey)
	h.books.Set(enginetest.Book("tok-yes", 0.49, 0.50, 1000))

	res, err := h.engine.RunOnce(context.Background(), startedAt.Add(32*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 0, res.Opened)
	reasons := map[string]int{}
	for _, a := range res.Actions {
		reasons[a.Reason]++
	}
	assert.Equal(t, 1, reasons[engine.SkipStaleTrade])
	assert.Equal(t, 1, reasons[engine.SkipSourcePrice])
	assert.Equal(t, 0, h.engine.Pending())
}

func TestRunOnce_PendingWaitsThenExpires(t *testing.T) {
	h := newHarness(t, copytrade.Config{})
	// limit is 0.50·1.02 = 0.51
	h.activity.Set(whale, buy("tx1", 0.50, 200, now.Add(-time.Minute)))
	h.books.Set(enginetest.Book("tok-yes", 0.53, 0.55, 1000))

	res, err := h.engine.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Opened)
	assert.Equal(t, 1, h.engine.Pending())

	res, err = h.engine.RunOnce(context.Background(), now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Opened)
	assert.Equal(t, 1, h.engine.Pending())

	res, err = h.engine.RunOnce(context.Background(), now.Add(61*time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, res.Count(engine.ActionSkip))
	assert.Equal(t, engine.SkipExpired, res.Actions[0].Reason)
	assert.Equal(t, 0, h.engine.Pending())
}

func TestRunOnce_PendingFillsWhenPriceComesBack(t *testing.T) {
	h := newHarness(t, copytrade.Config{})
	h.activity.Set(whale, buy("tx1", 0.50, 200, now.Add(-time.Minute)))
	h.books.Set(enginetest.Book("tok-yes", 0.53, 0.55, 1000))

	_, err := h.engine.RunOnce(context.Background(), now)
	require.NoError(t, err)

	h.books.Set(enginetest.Book("tok-yes", 0.49, 0.505, 1000))
	res, err := h.engine.RunOnce(context.Background(), now.Add(20*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Opened)
}

func TestRunOnce_SourceSellMirrorsExit(t *testing.T) {
	h := newHarness(t, copytrade.Config{})
	h.activity.Set(whale, buy("tx1", 0.50, 200, now.Add(-time.Minute)))
	h.books.Set(enginetest.Book("tok-yes", 0.49, 0.50, 1000))
	_, err := h.engine.RunOnce(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, h.ledger.OpenCount())

	h.activity.Set(whale, buy("tx1", 0.50, 200, now.Add(-time.Minute)), sell("tx2", now.Add(10*time.Second)))
	h.books.Set(enginetest.Book("tok-yes", 0.55, 0.56, 1000))
	res, err := h.engine.RunOnce(context.Background(), now.Add(20*time.Second))
	require.NoError(t, err)

	require.Equal(t, 1, res.Count(engine.ActionExit))
	var exit engine.Action
	for _, a := range res.Actions {
		if a.Kind == engine.ActionExit {
			exit = a
		}
	}
	assert.Equal(t, string(domain.ExitMirror), exit.Reason)
	assert.Equal(t, 0, h.ledger.OpenCount())
	assert.Equal(t, []domain.TradeEvent{domain.TradeOpened, domain.TradeClosed}, h.trades.Events())
}

func TestRunOnce_SellBeforeFillCancelsPending(t *testing.T) {
	h := newHarness(t, copytrade.Config{})
	h.activity.Set(whale, buy("tx1", 0.50, 200, now.Add(-time.Minute)))
	h.books.Set(enginetest.Book("tok-yes", 0.53, 0.55, 1000))
	_, err := h.engine.RunOnce(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, h.engine.Pending())

	h.activity.Set(whale, sell("tx2", now.Add(5*time.Second)))
	_, err = h.engine.RunOnce(context.Background(), now.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, h.engine.Pending())
	assert.Equal(t, 0, h.ledger.OpenCount())
}

func TestRunOnce_QueueFull(t *testing.T) {
	h := newHarness(t, copytrade.Config{QueueSize: 1})
	a := buy("tx1", 0.50, 200, now.Add(-2*time.Minute))
	b := buy("tx2", 0.40, 200, now.Add(-time.Minute))
	b.ConditionID = "0xother"
	b.Asset = "tok-other"
	h.activity.Set(whale, a, b)

	res, err := h.engine.RunOnce(context.Background(), now)
	require.NoError(t, err)

	require.Equal(t, 1, res.Count(engine.ActionSkip))
	assert.Equal(t, engine.SkipQueueFull, res.Actions[0].Reason)
	assert.Equal(t, "0xother:0", res.Actions[0].MarketKey)
}

func TestRunOnce_ActivityFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, copytrade.Config{})
	h.activity.Err = domain.ErrTransient

	res, err := h.engine.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, res.Actions)
}

func TestSlippageFor(t *testing.T) {
	tests := []struct {
		size, score, want float64
	}{
		{6000, 50, 0.05},
		{5000, 80, 0.06},
		{1000, 50, 0.03},
		{999, 50, 0.01},
		{100, 79, 0.01},
		{99, 50, 0.005},
		{10, 95, 0.015},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, copytrade.SlippageFor(tt.size, tt.score), 1e-12, "size=%v score=%v", tt.size, tt.score)
	}
}

func TestLimitPrice_Capped(t *testing.T) {
	assert.InDelta(t, 0.99, copytrade.LimitPrice(0.97, 6000, 90), 1e-12)
	assert.InDelta(t, 0.515, copytrade.LimitPrice(0.50, 1000, 10), 1e-12)
}

func TestStake(t *testing.T) {
	assert.InDelta(t, 50, copytrade.Stake(1000, 100, 0.05, 100), 1e-9)
	assert.InDelta(t, 100, copytrade.Stake(10000, 100, 0.05, 100), 1e-9)
	assert.InDelta(t, 25, copytrade.Stake(1000, 50, 0.05, 100), 1e-9)
	assert.InDelta(t, 50, copytrade.Stake(1000, 150, 0.05, 100), 1e-9)
	assert.Zero(t, copytrade.Stake(0, 100, 0.05, 100))
}
