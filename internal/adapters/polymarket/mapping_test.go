package polymarket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringList_BothEncodings(t *testing.T) {
	var gm gammaMarket
	require.NoError(t, json.Unmarshal([]byte(`{"clobTokenIds":"[\"1\",\"2\"]","outcomePrices":[0.4,"0.6"]}`), &gm))
	assert.Equal(t, []string{"1", "2"}, []string(gm.ClobTokenIDs))
	assert.Equal(t, []string{"0.4", "0.6"}, []string(gm.OutcomePrices))

	require.NoError(t, json.Unmarshal([]byte(`{"clobTokenIds":null}`), &gm))
	assert.Empty(t, gm.ClobTokenIDs)
}

func TestSeries_SlugFor(t *testing.T) {
	s := Series{Prefix: "btc-updown-5m", Interval: 5 * time.Minute}
	now := time.Unix(1_767_225_777, 0)

	slug, end := s.SlugFor(now)
	assert.Equal(t, "btc-updown-5m-1767225600", slug)
	assert.Equal(t, int64(1_767_225_900), end.Unix())
}

func TestOrderAmounts(t *testing.T) {
	tests := []struct {
		name         string
		side         domain.OrderSide
		price, size  float64
		maker, taker int64
	}{
		// 10 USDC / 0.60 → 16.66 shares, maker 9.996 USDC
		{"buy two decimals", domain.OrderBuy, 0.60, 10, 9_996_000, 16_660_000},
		{"buy three decimals", domain.OrderBuy, 0.673, 5, 4_993_660, 7_420_000},
		{"sell shares", domain.OrderSell, 0.55, 12.345, 12_340_000, 6_787_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maker, taker, err := orderAmounts(tt.side, tt.price, tt.size)
			require.NoError(t, err)
			assert.Equal(t, tt.maker, maker)
			assert.Equal(t, tt.taker, taker)
		})
	}
}

func TestOrderAmounts_Invalid(t *testing.T) {
	_, _, err := orderAmounts(domain.OrderBuy, 1.0, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	_, _, err = orderAmounts(domain.OrderBuy, 0.5, 0.001)
	assert.ErrorIs(t, err, domain.ErrInvalidStake)
}

func TestTickDecimals(t *testing.T) {
	assert.Equal(t, int32(2), tickDecimals(0.60))
	assert.Equal(t, int32(3), tickDecimals(0.673))
	assert.Equal(t, int32(4), tickDecimals(0.6731))
}

func TestMapActivity_Filters(t *testing.T) {
	_, ok := mapActivity(rawActivity{Type: "REDEEM", TransactionHash: "0x1"}, "w")
	assert.False(t, ok)

	_, ok = mapActivity(rawActivity{Type: "TRADE"}, "w")
	assert.False(t, ok)

	tr, ok := mapActivity(rawActivity{Type: "trade", ID: "id-1", Side: "sell", Timestamp: "2026-01-01T00:00:00Z"}, "")
	require.True(t, ok)
	assert.Equal(t, "id-1", tr.ID)
	assert.Equal(t, "SELL", tr.Side)
	assert.Equal(t, 2026, tr.Timestamp.Year())
}

func TestParseTimestamp(t *testing.T) {
	assert.Equal(t, int64(1_700_000_000), parseTimestamp("1700000000").Unix())
	assert.Equal(t, int64(1_700_000_000), parseTimestamp("1700000000000").Unix())
	assert.True(t, parseTimestamp("garbage").IsZero())
	assert.True(t, parseTimestamp("").IsZero())
}
