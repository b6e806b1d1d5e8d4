package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/ledger"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
	now   func() time.Time
}

// NewConsole crea un notificador que escribe a stdout. table=false imprime
// una sola línea por ciclo.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, now: time.Now}
}

// Report imprime las posiciones abiertas y el resumen de resultados.
func (c *Console) Report(_ context.Context, positions []domain.Position, stats ledger.Stats, bankroll float64) error {
	if !c.table {
		c.printCompact(positions, stats, bankroll)
		return nil
	}

	ts := c.now().Format("15:04:05")
	if len(positions) == 0 {
		fmt.Fprintf(c.out, "\n[%s] no open positions | bankroll $%.2f\n", ts, bankroll)
	} else {
		fmt.Fprintf(c.out, "\n[%s] %d open positions | bankroll $%.2f\n", ts, len(positions), bankroll)
		c.printPositions(positions)
	}
	c.printStats(stats)
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(positions []domain.Position, stats ledger.Stats, bankroll float64) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] bank $%.2f | open %d | W/L %d/%d | pnl $%+.2f",
		c.now().Format("15:04:05"), bankroll, len(positions), stats.Wins, stats.Losses, stats.RealizedPnL)
	for i, p := range positions {
		if i >= 3 {
			fmt.Fprintf(&sb, " | +%d more", len(positions)-i)
			break
		}
		fmt.Fprintf(&sb, " | %s %s %.3f→%.3f (%+.1f%%)",
			marketLabel(p, 20), p.Side, p.EntryPrice, p.CurrentPrice, p.ROI()*100)
	}
	fmt.Fprintln(c.out, sb.String())
}

func (c *Console) printPositions(positions []domain.Position) {
	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("#", "Market", "Side", "Entry", "Now", "Peak", "ROI", "Stake", "Status", "Expires")

	for i, p := range positions {
		expires := "-"
		if !p.ExpiryTime.IsZero() {
			expires = formatTTL(p.ExpiryTime.Sub(c.now()))
		}
		tbl.Append(
			fmt.Sprintf("%d", i+1),
			marketLabel(p, 36),
			string(p.Side),
			fmt.Sprintf("%.3f", p.EntryPrice),
			fmt.Sprintf("%.3f", p.CurrentPrice),
			fmt.Sprintf("%.3f", p.PeakPrice),
			fmt.Sprintf("%+.1f%%", p.ROI()*100),
			fmt.Sprintf("$%.2f", p.Stake),
			string(p.Status),
			expires,
		)
	}
	tbl.Render()
}

func (c *Console) printStats(stats ledger.Stats) {
	if stats.TotalBets == 0 {
		return
	}
	fmt.Fprintf(c.out, "  Bets: %d | Wins: %d | Losses: %d | Win rate: %.1f%%\n",
		stats.TotalBets, stats.Wins, stats.Losses, stats.WinRate()*100)
	fmt.Fprintf(c.out, "  Wagered: $%.2f | Realized PnL: $%+.2f | Max drawdown: %.1f%%\n",
		stats.TotalWagered, stats.RealizedPnL, stats.MaxDrawdown*100)

	if len(stats.Exits) == 0 {
		return
	}
	reasons := make([]string, 0, len(stats.Exits))
	for r := range stats.Exits {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)

	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Exit reason", "Count")
	for _, r := range reasons {
		tbl.Append(r, fmt.Sprintf("%d", stats.Exits[domain.ExitReason(r)]))
	}
	tbl.Render()
}

// marketLabel prefiere la pregunta; las posiciones copiadas a veces solo
// traen el condition ID.
func marketLabel(p domain.Position, maxLen int) string {
	label := p.Question
	if label == "" {
		label = p.MarketKey
	}
	return truncate(label, maxLen)
}

func formatTTL(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
