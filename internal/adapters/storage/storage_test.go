package storage_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/binarybot/internal/adapters/storage"
	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func makeState(bankroll float64) ledger.State {
	return ledger.State{
		Version:         ledger.StateVersion,
		SavedAt:         t0,
		InitialBankroll: 1000,
		Bankroll:        bankroll,
		PeakBankroll:    1000,
		Positions: []domain.Position{{
			ID:         "p1",
			MarketKey:  "0xabc:YES",
			Side:       domain.SideYes,
			EntryPrice: 0.42,
			Stake:      50,
			Shares:     119.04,
			Status:     domain.StatusOpen,
			EntryTime:  t0,
		}},
		Seen:  []string{"tx1", "tx2"},
		Stats: ledger.Stats{TotalBets: 3, Wins: 2, Losses: 1, RealizedPnL: 12.5},
	}
}

func closedRecord(id string, pnl float64, at time.Time) domain.TradeRecord {
	return domain.TradeRecord{
		ID:       id,
		Event:    domain.TradeClosed,
		Mode:     "paper",
		Strategy: "ev",
		At:       at,
		Position: domain.Position{
			ID:         "pos-" + id,
			MarketKey:  "0xabc:YES",
			Side:       domain.SideYes,
			EntryPrice: 0.40,
			Stake:      20,
			Shares:     50,
			ExitReason: domain.ExitTakeProfit,
			ExitPrice:  0.55,
			Payout:     20 + pnl,
			PnL:        pnl,
		},
	}
}

func TestSQLiteStore_SnapshotRoundTrip(t *testing.T) {
	db, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	_, found, err := db.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, db.SaveSnapshot(ctx, makeState(900)))
	require.NoError(t, db.SaveSnapshot(ctx, makeState(950)))

	st, found, err := db.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 950, st.Bankroll, 1e-9) // el último gana
	require.Len(t, st.Positions, 1)
	assert.Equal(t, "0xabc:YES", st.Positions[0].MarketKey)
	assert.Equal(t, []string{"tx1", "tx2"}, st.Seen)
	assert.Equal(t, 2, st.Stats.Wins)
}

func TestSQLiteStore_TradesAndDailyPnL(t *testing.T) {
	db, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.Record(closedRecord("a", 7.5, now.Add(-2*time.Minute))))
	require.NoError(t, db.Record(closedRecord("b", -20, now.Add(-time.Minute))))
	// ID repetido: ignorado
	require.NoError(t, db.Record(closedRecord("b", -20, now.Add(-time.Minute))))

	open := closedRecord("c", 0, now)
	open.Event = domain.TradeOpened
	require.NoError(t, db.Record(open))

	trades, err := db.ClosedTrades(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "b", trades[0].ID) // más reciente primero
	assert.Equal(t, domain.ExitTakeProfit, trades[1].Position.ExitReason)

	days, err := db.DailyPnL(ctx, 7)
	require.NoError(t, err)
	require.NotEmpty(t, days)
	var closed, wins int
	var pnl float64
	for _, d := range days {
		closed += d.Closed
		wins += d.Wins
		pnl += d.PnL
	}
	assert.Equal(t, 2, closed)
	assert.Equal(t, 1, wins)
	assert.InDelta(t, -12.5, pnl, 1e-9)
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ledger.json")
	fs, err := storage.NewFileStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	_, found, err := fs.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, fs.SaveSnapshot(ctx, makeState(875)))
	st, found, err := fs.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 875, st.Bankroll, 1e-9)
	assert.Equal(t, ledger.StateVersion, st.Version)

	// sin temporales colgando
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	fs, err := storage.NewFileStore(path)
	require.NoError(t, err)

	_, _, err = fs.LoadSnapshot(context.Background())
	assert.Error(t, err)
}

func TestTradeLog_AppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trades.jsonl")
	tl := storage.NewTradeLog(path)
	require.NotNil(t, tl)

	require.NoError(t, tl.Record(closedRecord("a", 1, t0)))
	require.NoError(t, tl.Record(closedRecord("b", 2, t0)))
	require.NoError(t, tl.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec domain.TradeRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestTradeLog_NilIsNoop(t *testing.T) {
	tl := storage.NewTradeLog("  ")
	assert.Nil(t, tl)
	assert.NoError(t, tl.Record(closedRecord("a", 1, t0)))
	assert.NoError(t, tl.Close())
}

type recordingLog struct{ ids []string }

func (r *recordingLog) Record(rec domain.TradeRecord) error {
	r.ids = append(r.ids, rec.ID)
	return nil
}

func TestMultiLog_WritesAll(t *testing.T) {
	a, b := &recordingLog{}, &recordingLog{}
	m := storage.MultiLog{a, storage.NewTradeLog(""), b}
	require.NoError(t, m.Record(closedRecord("x", 1, t0)))
	assert.Equal(t, []string{"x"}, a.ids)
	assert.Equal(t, []string{"x"}, b.ids)
}

type countingOracle struct {
	outcome domain.Outcome
	calls   int
}

func (o *countingOracle) GetResult(_ context.Context, _ string) (domain.Outcome, error) {
	o.calls++
	return o.outcome, nil
}

// Redis inalcanzable: la cache se degrada a consultar siempre el oráculo.
func TestCachedOracle_FallsBackWhenRedisDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	primary := &countingOracle{outcome: domain.OutcomeYes}
	c := storage.NewCachedOracle(primary, rdb, 0)

	for i := 0; i < 2; i++ {
		got, err := c.GetResult(context.Background(), "123")
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeYes, got)
	}
	assert.Equal(t, 2, primary.calls)
}

func TestCachedOracle_PendingPassesThrough(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	primary := &countingOracle{outcome: domain.OutcomePending}
	got, err := storage.NewCachedOracle(primary, rdb, time.Minute).GetResult(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePending, got)
}
