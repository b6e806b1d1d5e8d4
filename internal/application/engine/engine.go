// Package engine holds what both strategy drivers share: the per-tick
// Action record, fan-out fetching and the ledger plumbing (settlement,
// exits, entries, snapshots) in Core.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// ActionKind is what a driver did with one market or position in a tick.
type ActionKind string

const (
	ActionOpen   ActionKind = "OPEN"
	ActionExit   ActionKind = "EXIT"
	ActionSettle ActionKind = "SETTLE"
	ActionSkip   ActionKind = "SKIP"
	ActionHalt   ActionKind = "HALT"
)

// Action is one decision taken during a tick.
type Action struct {
	Kind      ActionKind
	MarketKey string
	Reason    string
	Price     float64
	Stake     float64
	PnL       float64
	At        time.Time
}

func (a Action) String() string {
	switch a.Kind {
	case ActionOpen:
		return fmt.Sprintf("%s %s @ %.3f $%.2f", a.Kind, a.MarketKey, a.Price, a.Stake)
	case ActionExit, ActionSettle:
		return fmt.Sprintf("%s %s %s pnl $%+.2f", a.Kind, a.MarketKey, a.Reason, a.PnL)
	}
	return fmt.Sprintf("%s %s %s", a.Kind, a.MarketKey, a.Reason)
}

// CycleResult contains everything produced by one driver tick.
type CycleResult struct {
	Actions   []Action
	Markets   int
	Opened    int
	Closed    int
	Halted    bool
	Bankroll  float64
	Equity    float64
	Warnings  []string
	StartedAt time.Time
	Duration  time.Duration
}

// Add appends actions and keeps the open/close counters in sync.
func (r *CycleResult) Add(actions ...Action) {
	for _, a := range actions {
		switch a.Kind {
		case ActionOpen:
			r.Opened++
		case ActionExit, ActionSettle:
			r.Closed++
		case ActionHalt:
			r.Halted = true
		}
		r.Actions = append(r.Actions, a)
	}
}

// Count returns how many actions of kind the tick produced.
func (r *CycleResult) Count(kind ActionKind) int {
	n := 0
	for _, a := range r.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// Skip reasons shared by both drivers.
const (
	SkipUnknownMarket = "unknown market"
	SkipNoSpot        = "no spot price"
	SkipNearExpiry    = "too close to expiry"
	SkipNoBook        = "no order book"
	SkipNoAsk         = "no ask"
	SkipLowEdge       = "edge below threshold"
	SkipLowConfidence = "low confidence"
	SkipRule          = "entry rule not met"
	SkipZeroStake     = "zero stake"
	SkipLiquidity     = "insufficient liquidity"
	SkipAboveLimit    = "fill above limit price"
	SkipLedger        = "ledger rejected"
	SkipOrderFailed   = "order failed"
	SkipHalted        = "halted"
	SkipExpired       = "pending order expired"
	SkipQueueFull     = "pending queue full"
	SkipStaleTrade    = "source trade too old"
	SkipSourcePrice   = "source price too high"
)

// SkipStats counts SKIP actions by reason for the per-cycle summary log.
type SkipStats map[string]int

func (s SkipStats) record(a Action) {
	if a.Kind == ActionSkip {
		s[a.Reason]++
	}
}

// LogSkips logs a one-line summary of the SKIP reasons in result.
func LogSkips(prefix string, result *CycleResult) {
	stats := SkipStats{}
	for _, a := range result.Actions {
		stats.record(a)
	}
	if len(stats) == 0 {
		return
	}
	reasons := make([]string, 0, len(stats))
	for r := range stats {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	attrs := make([]any, 0, 2*len(reasons)+2)
	attrs = append(attrs, "opened", result.Opened)
	for _, r := range reasons {
		attrs = append(attrs, "skip_"+strings.ReplaceAll(r, " ", "_"), stats[r])
	}
	slog.Info(prefix+": decision pipeline", attrs...)
}

// FanOut runs fetch for every key with a bounded number of workers and a
// per-call timeout. Failed keys are logged and reported in errs; they never
// abort the others.
func FanOut[T any](
	ctx context.Context,
	keys []string,
	workers int,
	timeout time.Duration,
	fetch func(ctx context.Context, key string) (T, error),
) (results map[string]T, errs map[string]error) {
	results = make(map[string]T, len(keys))
	errs = make(map[string]error)
	if len(keys) == 0 {
		return results, errs
	}
	if workers <= 0 || workers > len(keys) {
		workers = len(keys)
	}

	type result struct {
		key string
		val T
		err error
	}

	workCh := make(chan string, len(keys))
	resultCh := make(chan result, len(keys))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range workCh {
				cctx := ctx
				cancel := func() {}
				if timeout > 0 {
					cctx, cancel = context.WithTimeout(ctx, timeout)
				}
				val, err := fetch(cctx, key)
				cancel()
				resultCh <- result{key: key, val: val, err: err}
			}
		}()
	}

	for _, k := range keys {
		workCh <- k
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	for r := range resultCh {
		if r.err != nil {
			errs[r.key] = r.err
			slog.Debug("engine: fetch failed", "key", r.key, "err", r.err)
			continue
		}
		results[r.key] = r.val
	}
	return results, errs
}
