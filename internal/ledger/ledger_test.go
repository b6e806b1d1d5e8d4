package ledger_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newLedger(bankroll float64) *ledger.Ledger {
	cfg := ledger.DefaultConfig()
	cfg.InitialBankroll = bankroll
	return ledger.New(cfg)
}

func openReq(cond string, side domain.Side, price, stake float64) ledger.OpenRequest {
	return ledger.OpenRequest{
		MarketKey:   domain.MarketKey(cond, side),
		MarketID:    "m-" + cond,
		ConditionID: cond,
		TokenID:     "tok-" + cond + "-" + string(side),
		Instrument:  "BTC",
		Side:        side,
		Price:       price,
		Stake:       stake,
		FairProb:    0.6,
		Edge:        0.05,
		Expiry:      t0.Add(15 * time.Minute),
		Now:         t0,
	}
}

func TestTryOpen_DebitsBankroll(t *testing.T) {
	l := newLedger(1000)

	pos, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.40, 50))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusOpen, pos.Status)
	assert.InDelta(t, 125, pos.Shares, 1e-9)
	assert.InDelta(t, 950, l.Bankroll(), 1e-9)
	assert.InDelta(t, 1000, l.Equity(), 1e-9)
	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, 1, l.OpenCount())
}

func TestTryOpen_DuplicateLeavesBankroll(t *testing.T) {
	l := newLedger(1000)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.40, 50))
	require.NoError(t, err)

	_, err = l.TryOpen(openReq("0xa", domain.SideYes, 0.45, 20))
	assert.ErrorIs(t, err, domain.ErrDuplicatePosition)
	assert.InDelta(t, 950, l.Bankroll(), 1e-9)
	assert.Equal(t, 1, l.OpenCount())
}

func TestTryOpen_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		price float64
		stake float64
		want  error
	}{
		{"price zero", 0, 10, domain.ErrInvalidPrice},
		{"price one", 1, 10, domain.ErrInvalidPrice},
		{"negative stake", 0.5, -1, domain.ErrInvalidStake},
		{"zero stake", 0.5, 0, domain.ErrInvalidStake},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger(1000)
			_, err := l.TryOpen(openReq("0xa", domain.SideYes, tt.price, tt.stake))
			assert.ErrorIs(t, err, tt.want)
			assert.InDelta(t, 1000, l.Bankroll(), 1e-9)
		})
	}
}

func TestTryOpen_OppositeSideRejected(t *testing.T) {
	l := newLedger(1000)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.40, 50))
	require.NoError(t, err)

	_, err = l.TryOpen(openReq("0xa", domain.SideNo, 0.55, 50))
	assert.ErrorIs(t, err, domain.ErrOppositeSide)
}

func TestTryOpen_MaxPositions(t *testing.T) {
	cfg := ledger.DefaultConfig()
	cfg.InitialBankroll = 1000
	cfg.MaxPositions = 2
	l := ledger.New(cfg)

	for i := 0; i < 2; i++ {
		_, err := l.TryOpen(openReq(fmt.Sprintf("0x%d", i), domain.SideYes, 0.5, 10))
		require.NoError(t, err)
	}
	_, err := l.TryOpen(openReq("0x9", domain.SideYes, 0.5, 10))
	assert.ErrorIs(t, err, domain.ErrMaxPositions)
}

func TestTryOpen_ClampsToBackstop(t *testing.T) {
	l := newLedger(100)

	pos, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.5, 500))
	require.NoError(t, err)
	assert.InDelta(t, 95, pos.Stake, 1e-9)
	assert.InDelta(t, 5, l.Bankroll(), 1e-9)
}

func TestTryOpen_EntryFeeReducesShares(t *testing.T) {
	cfg := ledger.DefaultConfig()
	cfg.InitialBankroll = 1000
	cfg.EntryFeeRate = 0.02
	l := ledger.New(cfg)

	pos, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.50, 100))
	require.NoError(t, err)
	assert.InDelta(t, 2, pos.EntryFee, 1e-9)
	assert.InDelta(t, 196, pos.Shares, 1e-9)
	assert.InDelta(t, 900, l.Bankroll(), 1e-9)
}

func TestSettle_WinPaysSharesLessFee(t *testing.T) {
	l := newLedger(1000)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.40, 50))
	require.NoError(t, err)

	pos, err := l.Settle("0xa:YES", "m-0xa", domain.OutcomeYes, t0.Add(20*time.Minute))
	require.NoError(t, err)

	// 125 shares · (1 − 0.02)
	assert.InDelta(t, 122.5, pos.Payout, 1e-9)
	assert.InDelta(t, 72.5, pos.PnL, 1e-9)
	assert.Equal(t, domain.StatusClosed, pos.Status)
	assert.Equal(t, domain.ExitSettlement, pos.ExitReason)
	assert.InDelta(t, 950+122.5, l.Bankroll(), 1e-9)
	assert.Equal(t, 0, l.OpenCount())
}

func TestSettle_LossPaysNothing(t *testing.T) {
	l := newLedger(1000)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.40, 50))
	require.NoError(t, err)

	pos, err := l.Settle("0xa:YES", "m-0xa", domain.OutcomeNo, t0.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, pos.Payout)
	assert.InDelta(t, -50, pos.PnL, 1e-9)
	assert.InDelta(t, 950, l.Bankroll(), 1e-9)

	st := l.Stats()
	assert.Equal(t, 1, st.Losses)
	assert.Equal(t, 1, st.Exits[domain.ExitSettlement])
}

func TestSettle_PendingKeepsPositionOpen(t *testing.T) {
	l := newLedger(1000)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.40, 50))
	require.NoError(t, err)

	for _, o := range []domain.Outcome{domain.OutcomePending, domain.OutcomeUnknown} {
		_, err = l.Settle("0xa:YES", "m-0xa", o, t0.Add(20*time.Minute))
		assert.ErrorIs(t, err, domain.ErrSettlementPending)
	}
	assert.Equal(t, 1, l.OpenCount())
	assert.InDelta(t, 950, l.Bankroll(), 1e-9)
}

func TestSettle_ReplayIsNoop(t *testing.T) {
	l := newLedger(1000)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.40, 50))
	require.NoError(t, err)

	_, err = l.Settle("0xa:YES", "m-0xa", domain.OutcomeYes, t0.Add(20*time.Minute))
	require.NoError(t, err)
	after := l.Bankroll()

	_, err = l.Settle("0xa:YES", "m-0xa", domain.OutcomeYes, t0.Add(21*time.Minute))
	assert.ErrorIs(t, err, domain.ErrPositionNotOpen)
	assert.InDelta(t, after, l.Bankroll(), 1e-9)
	assert.Equal(t, 1, l.Stats().Wins)
}

func TestSettle_AppliedEventsStayBounded(t *testing.T) {
	cfg := ledger.DefaultConfig()
	cfg.MaxPositions = 100
	cfg.SeenCapacity = 10
	l := ledger.New(cfg)

	for i := 0; i < 25; i++ {
		cond := fmt.Sprintf("0x%02d", i)
		_, err := l.TryOpen(openReq(cond, domain.SideYes, 0.50, 2))
		require.NoError(t, err)
		_, err = l.Settle(cond+":YES", "m-"+cond, domain.OutcomeNo, t0.Add(time.Minute))
		require.NoError(t, err)
	}

	st := l.Snapshot(t0.Add(2 * time.Minute))
	assert.LessOrEqual(t, len(st.SettledEvents), 10)
	assert.Contains(t, st.SettledEvents, "m-0x24|0x24:YES")
	assert.Equal(t, 25, l.Stats().Losses)
}

func TestCooldownBlocksReentry(t *testing.T) {
	l := newLedger(1000)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.40, 50))
	require.NoError(t, err)
	_, err = l.ExitAtPrice("0xa:YES", domain.ExitManual, 0.45, t0.Add(time.Minute))
	require.NoError(t, err)

	req := openReq("0xa", domain.SideYes, 0.40, 50)
	req.Now = t0.Add(5 * time.Minute)
	_, err = l.TryOpen(req)
	assert.ErrorIs(t, err, domain.ErrCooldown)

	req.Now = t0.Add(time.Minute + ledger.DefaultCooldown)
	_, err = l.TryOpen(req)
	assert.NoError(t, err)
}

func TestTick_ExitPriority(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		now    time.Time
		want   domain.ExitReason
		fires  bool
	}{
		{"flat", []float64{0.40}, t0.Add(time.Minute), "", false},
		{"take profit", []float64{0.56}, t0.Add(time.Minute), domain.ExitTakeProfit, true},
		{"stop loss", []float64{0.30}, t0.Add(time.Minute), domain.ExitStopLoss, true},
		// peak 0.48 (+20%), drop to 0.40 is 16.7% from peak
		{"trailing", []float64{0.48, 0.40}, t0.Add(time.Minute), domain.ExitTrailingStop, true},
		// take-profit and expiry in the same tick: settlement wins
		{"expiry beats take profit", []float64{0.56}, t0.Add(16 * time.Minute), domain.ExitSettlement, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger(1000)
			_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.40, 50))
			require.NoError(t, err)

			var reason domain.ExitReason
			var fired bool
			for _, p := range tt.prices {
				reason, fired = l.Tick("0xa:YES", p, tt.now)
			}
			assert.Equal(t, tt.fires, fired)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestTick_TrailingBeatsStopLoss(t *testing.T) {
	l := newLedger(1000)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.40, 50))
	require.NoError(t, err)

	l.Tick("0xa:YES", 0.50, t0.Add(time.Minute))
	reason, fired := l.Tick("0xa:YES", 0.30, t0.Add(2*time.Minute))
	require.True(t, fired)
	assert.Equal(t, domain.ExitTrailingStop, reason)
}

func TestTick_Timeout(t *testing.T) {
	l := newLedger(1000)
	req := openReq("0xa", domain.SideYes, 0.40, 50)
	req.Expiry = t0.Add(30 * 24 * time.Hour)
	_, err := l.TryOpen(req)
	require.NoError(t, err)

	reason, fired := l.Tick("0xa:YES", 0.41, t0.Add(ledger.DefaultTimeout))
	require.True(t, fired)
	assert.Equal(t, domain.ExitTimeout, reason)
}

func TestTick_SettlingIgnoresPrice(t *testing.T) {
	l := newLedger(1000)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.40, 50))
	require.NoError(t, err)

	reason, _ := l.Tick("0xa:YES", 0.40, t0.Add(16*time.Minute))
	require.Equal(t, domain.ExitSettlement, reason)

	pos, ok := l.Position("0xa:YES")
	require.True(t, ok)
	assert.Equal(t, domain.StatusSettling, pos.Status)

	reason, _ = l.Tick("0xa:YES", 0.99, t0.Add(17*time.Minute))
	assert.Equal(t, domain.ExitSettlement, reason)

	_, err = l.Exit("0xa:YES", domain.ExitTakeProfit, []domain.BookEntry{{Price: 0.99, Size: 1000}}, t0.Add(17*time.Minute))
	assert.ErrorIs(t, err, domain.ErrSettlementPending)
}

func TestExit_WalksBookWithSlippage(t *testing.T) {
	l := newLedger(1000)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.40, 50))
	require.NoError(t, err)

	bids := []domain.BookEntry{{Price: 0.50, Size: 100}, {Price: 0.48, Size: 100}}
	pos, err := l.Exit("0xa:YES", domain.ExitTakeProfit, bids, t0.Add(time.Minute))
	require.NoError(t, err)

	// 100·0.50 + 25·0.48 = 62, less 2% slippage
	assert.InDelta(t, 62*0.98, pos.Payout, 1e-9)
	assert.InDelta(t, 62.0/125, pos.ExitPrice, 1e-9)
	assert.False(t, pos.Degraded)
	assert.Equal(t, domain.ExitTakeProfit, pos.ExitReason)
}

func TestExit_ThinBookIsDegraded(t *testing.T) {
	l := newLedger(1000)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.40, 50))
	require.NoError(t, err)

	bids := []domain.BookEntry{{Price: 0.30, Size: 10}}
	pos, err := l.Exit("0xa:YES", domain.ExitStopLoss, bids, t0.Add(time.Minute))
	require.NoError(t, err)

	assert.True(t, pos.Degraded)
	assert.InDelta(t, 0.30*0.98, pos.ExitPrice, 1e-9)
	assert.InDelta(t, 125*0.30*0.98*0.98, pos.Payout, 1e-9)
}

func TestExit_UnknownKey(t *testing.T) {
	l := newLedger(1000)
	_, err := l.Exit("nope", domain.ExitManual, nil, t0)
	assert.ErrorIs(t, err, domain.ErrPositionNotOpen)
}

func TestExitFilled_BooksProceeds(t *testing.T) {
	cfg := ledger.DefaultConfig()
	cfg.ExitFeeRate = 0.01
	l := ledger.New(cfg)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.50, 50))
	require.NoError(t, err)

	closed, err := l.ExitFilled("0xa:YES", domain.ExitStopLoss, 100, 30, t0.Add(time.Minute))
	require.NoError(t, err)

	assert.InDelta(t, 0.30, closed.ExitPrice, 1e-9)
	assert.InDelta(t, 29.7, closed.Payout, 1e-9)
	assert.InDelta(t, 950+29.7, l.Bankroll(), 1e-9)
}

func TestExitFilled_RejectsBadAmounts(t *testing.T) {
	l := newLedger(1000)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.50, 50))
	require.NoError(t, err)

	_, err = l.ExitFilled("0xa:YES", domain.ExitStopLoss, 0, 30, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
	_, err = l.ExitFilled("0xa:YES", domain.ExitStopLoss, 100, 120, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
	assert.Equal(t, 1, l.OpenCount())
}

func TestMarkEquity_UsesLastMark(t *testing.T) {
	l := newLedger(1000)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.40, 40))
	require.NoError(t, err)
	assert.InDelta(t, 1000, l.MarkEquity(), 1e-9)

	l.Tick("0xa:YES", 0.44, t0.Add(time.Minute))

	// 100 shares marked at 0.44
	assert.InDelta(t, 960+44, l.MarkEquity(), 1e-9)
	assert.InDelta(t, 1000, l.Equity(), 1e-9)
}

func TestMirrorExit(t *testing.T) {
	l := newLedger(1000)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.40, 50))
	require.NoError(t, err)

	pos, err := l.MirrorExit("0xa:YES", []domain.BookEntry{{Price: 0.40, Size: 500}}, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.ExitMirror, pos.ExitReason)
}

func TestCheckDrawdownHalt_BoundaryInclusive(t *testing.T) {
	l := newLedger(100)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.50, 50))
	require.NoError(t, err)
	assert.False(t, l.CheckDrawdownHalt())

	// equity = 50 cash, peak = 100, drawdown exactly 50%
	_, err = l.Settle("0xa:YES", "m-0xa", domain.OutcomeNo, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, l.CheckDrawdownHalt())
	assert.InDelta(t, 0.5, l.Stats().MaxDrawdown, 1e-9)

	_, err = l.TryOpen(openReq("0xb", domain.SideYes, 0.50, 5))
	assert.ErrorIs(t, err, domain.ErrHalted)
}

func TestCircuitBreakerPausesEntries(t *testing.T) {
	cfg := ledger.DefaultConfig()
	cfg.InitialBankroll = 1000
	cfg.MaxConsecutiveLosses = 2
	cfg.BreakerCooldown = time.Hour
	l := ledger.New(cfg)

	for _, c := range []string{"0xa", "0xb"} {
		_, err := l.TryOpen(openReq(c, domain.SideYes, 0.5, 10))
		require.NoError(t, err)
		_, err = l.Settle(c+":YES", "m-"+c, domain.OutcomeNo, t0)
		require.NoError(t, err)
	}

	req := openReq("0xc", domain.SideYes, 0.5, 10)
	req.Now = t0.Add(30 * time.Minute)
	_, err := l.TryOpen(req)
	assert.ErrorIs(t, err, domain.ErrBreakerOpen)

	req.Now = t0.Add(time.Hour)
	_, err = l.TryOpen(req)
	assert.NoError(t, err)
}

func TestMarkSeen(t *testing.T) {
	l := newLedger(1000)
	assert.True(t, l.MarkSeen("tx1"))
	assert.False(t, l.MarkSeen("tx1"))
	assert.True(t, l.MarkSeen("tx2"))
}

func TestSeen_TrimsOldestHalf(t *testing.T) {
	s := ledger.NewSeen(10)
	for i := 0; i < 11; i++ {
		require.True(t, s.Add(fmt.Sprintf("id-%d", i)))
	}
	assert.Equal(t, 5, s.Len())
	assert.False(t, s.Contains("id-0"))
	assert.False(t, s.Contains("id-5"))
	assert.True(t, s.Contains("id-6"))
	assert.True(t, s.Contains("id-10"))
}

func TestSnapshot_RoundTrip(t *testing.T) {
	l := newLedger(1000)
	_, err := l.TryOpen(openReq("0xa", domain.SideYes, 0.40, 50))
	require.NoError(t, err)
	_, err = l.TryOpen(openReq("0xb", domain.SideNo, 0.30, 30))
	require.NoError(t, err)
	_, err = l.Settle("0xb:NO", "m-0xb", domain.OutcomeNo, t0.Add(time.Minute))
	require.NoError(t, err)
	l.MarkSeen("tx1")

	raw, err := json.Marshal(l.Snapshot(t0.Add(2 * time.Minute)))
	require.NoError(t, err)

	var st ledger.State
	require.NoError(t, json.Unmarshal(raw, &st))

	restored := newLedger(1)
	require.NoError(t, restored.Restore(st))

	assert.InDelta(t, l.Bankroll(), restored.Bankroll(), 1e-9)
	assert.Equal(t, l.Positions(), restored.Positions())
	assert.Equal(t, l.Stats(), restored.Stats())
	assert.False(t, restored.MarkSeen("tx1"))

	// settlement replay and cooldown survive the restart
	_, err = restored.Settle("0xb:NO", "m-0xb", domain.OutcomeNo, t0.Add(3*time.Minute))
	assert.ErrorIs(t, err, domain.ErrPositionNotOpen)
	req := openReq("0xb", domain.SideNo, 0.30, 30)
	req.Now = t0.Add(3 * time.Minute)
	_, err = restored.TryOpen(req)
	assert.ErrorIs(t, err, domain.ErrCooldown)
}

func TestSnapshot_ConsistentWithConcurrentCloses(t *testing.T) {
	l := newLedger(1000)
	for i := 0; i < 5; i++ {
		_, err := l.TryOpen(openReq(fmt.Sprintf("0x%d", i), domain.SideYes, 0.50, 10))
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			cond := fmt.Sprintf("0x%d", i)
			_, _ = l.Settle(cond+":YES", "m-"+cond, domain.OutcomeNo, t0.Add(time.Minute))
		}
	}()

	for {
		st := l.Snapshot(t0.Add(time.Minute))
		staked := 0.0
		for _, p := range st.Positions {
			staked += p.Stake
		}
		// losers pay nothing, so cash plus open stakes only drops by settled stakes
		assert.InDelta(t, 1000-10*float64(len(st.SettledEvents)), st.Bankroll+staked, 1e-9)
		select {
		case <-done:
			return
		default:
		}
	}
}

func TestRestore_RejectsUnknownVersion(t *testing.T) {
	l := newLedger(1000)
	err := l.Restore(ledger.State{Version: 99})
	assert.Error(t, err)
}
