package notify_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/binarybot/internal/adapters/notify"
	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePosition(question string, entry, current float64) domain.Position {
	return domain.Position{
		MarketKey:    "0xtest:YES",
		Question:     question,
		Side:         domain.SideYes,
		EntryPrice:   entry,
		CurrentPrice: current,
		PeakPrice:    current,
		Stake:        25,
		Status:       domain.StatusOpen,
		ExpiryTime:   time.Now().Add(10 * time.Minute),
	}
}

func TestConsole_Report_Table(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	positions := []domain.Position{
		makePosition("Bitcoin Up or Down - March 1, 12:00PM ET", 0.40, 0.50),
		makePosition("Ethereum above $3,200 on March 1?", 0.60, 0.45),
	}
	stats := ledger.Stats{
		TotalBets:   4,
		Wins:        3,
		Losses:      1,
		RealizedPnL: 18.4,
		Exits:       map[domain.ExitReason]int{domain.ExitTakeProfit: 2, domain.ExitSettlement: 2},
	}

	require.NoError(t, n.Report(context.Background(), positions, stats, 1012.5))

	out := buf.String()
	assert.Contains(t, out, "2 open positions")
	assert.Contains(t, out, "$1012.50")
	assert.Contains(t, out, "+25.0%")
	assert.Contains(t, out, "-25.0%")
	assert.Contains(t, out, "75.0%") // win rate
	assert.Contains(t, out, "TAKE_PROFIT")
}

func TestConsole_Report_Empty(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	require.NoError(t, n.Report(context.Background(), nil, ledger.Stats{}, 1000))
	assert.Contains(t, buf.String(), "no open positions")
}

func TestConsole_Report_Compact(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	positions := []domain.Position{makePosition("Solana Up or Down", 0.50, 0.55)}
	require.NoError(t, n.Report(context.Background(), positions, ledger.Stats{Wins: 1, RealizedPnL: 3}, 990))

	out := buf.String()
	assert.Contains(t, out, "bank $990.00")
	assert.Contains(t, out, "open 1")
	assert.Contains(t, out, "W/L 1/0")
	assert.Contains(t, out, "+10.0%")
}
