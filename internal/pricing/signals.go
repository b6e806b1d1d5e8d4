package pricing

import (
	"fmt"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

const (
	trendWeight    = 0.25
	stateNudge     = 0.08
	extremeNudge   = 0.03
	extremeHighCut = 0.85
	extremeLowCut  = 0.15
)

// AdjustBySignals nudges prob by trend strength and RSI state. The total move
// is bounded by trendWeight+stateNudge+extremeNudge and the result is clipped
// to [MinProb, MaxProb]. The returned tags describe what was applied.
func AdjustBySignals(prob float64, sig domain.Signals) (float64, []string) {
	var tags []string
	p := prob

	switch sig.Trend {
	case domain.TrendBull:
		d := sig.Strength * trendWeight
		p += d
		tags = append(tags, fmt.Sprintf("trend+%.3f", d))
	case domain.TrendBear:
		d := sig.Strength * trendWeight
		p -= d
		tags = append(tags, fmt.Sprintf("trend-%.3f", d))
	}

	switch sig.State {
	case domain.StateStrongTrendUp:
		p += stateNudge
		tags = append(tags, "rsi_up")
	case domain.StateStrongTrendDown:
		p -= stateNudge
		tags = append(tags, "rsi_down")
	case domain.StateOverbought:
		if prob > extremeHighCut {
			p -= extremeNudge
			tags = append(tags, "overbought")
		}
	case domain.StateOversold:
		if prob < extremeLowCut {
			p += extremeNudge
			tags = append(tags, "oversold")
		}
	}

	return Clip(p), tags
}

// AdjustForSide applies signals to a side-mapped probability. Signals describe
// the reference asset, so they are applied to the "above" probability and the
// result is mapped back.
func AdjustForSide(probAbove float64, sig domain.Signals, side domain.Side, dir domain.Direction) (float64, []string) {
	adj, tags := AdjustBySignals(probAbove, sig)
	return Clip(ForSide(adj, side, dir)), tags
}
