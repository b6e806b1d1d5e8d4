package ev

import (
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/binarybot/internal/application/engine"
)

// Entry rules. "edge" is the plain threshold rule; the other two are the
// high-probability and order-book-pressure variants.
const (
	RuleEdge            = "edge"
	RuleThetaReaper     = "theta_reaper"
	RuleImbalanceSniper = "imbalance_sniper"
)

const (
	thetaMinProb = 0.85
	thetaMinEdge = 0.015

	sniperImbalance   = 2.0
	sniperResetBelow  = 1.5
	sniperHold        = 15 * time.Second
	sniperMinVelocity = 0.5
	sniperProbLow     = 0.2
	sniperProbHigh    = 0.8
)

// ValidRule reports whether name is a known entry rule.
func ValidRule(name string) bool {
	switch name {
	case RuleEdge, RuleThetaReaper, RuleImbalanceSniper:
		return true
	}
	return false
}

// candidate es un lado de un mercado ya evaluado por el modelo.
type candidate struct {
	key        string
	instrument string
	prob       float64
	confidence float64
	edge       float64
	ask        float64
	imbalance  float64
	velocity   float64
	held       time.Duration // time the imbalance has stayed above the sniper threshold
	ttl        float64
	tags       []string
}

// imbalanceTracker remembers since when each market key has shown bid-side
// pressure above the sniper threshold.
type imbalanceTracker struct {
	mu    sync.Mutex
	since map[string]time.Time
}

func newImbalanceTracker() *imbalanceTracker {
	return &imbalanceTracker{since: make(map[string]time.Time)}
}

// observe records the imbalance for key and returns how long it has been
// above the threshold. Dropping under the reset level clears the timer.
func (t *imbalanceTracker) observe(key string, imbalance float64, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case imbalance >= sniperImbalance:
		start, ok := t.since[key]
		if !ok {
			t.since[key] = now
			return 0
		}
		return now.Sub(start)
	case imbalance < sniperResetBelow:
		delete(t.since, key)
	}
	if start, ok := t.since[key]; ok {
		return now.Sub(start)
	}
	return 0
}

// admit applies the configured entry rule to c. It returns "" when the
// candidate qualifies, otherwise the skip reason.
func (e *Engine) admit(c candidate) string {
	switch e.cfg.EntryRule {
	case RuleThetaReaper:
		if c.prob < thetaMinProb || c.edge < thetaMinEdge {
			return engine.SkipRule
		}
	case RuleImbalanceSniper:
		switch {
		case c.held < sniperHold:
			return engine.SkipRule
		case c.velocity < sniperMinVelocity:
			return engine.SkipRule
		case c.prob < sniperProbLow || c.prob > sniperProbHigh:
			return engine.SkipRule
		case c.edge < 0:
			return engine.SkipLowEdge
		}
	default:
		if c.edge < e.cfg.MinEdge {
			return engine.SkipLowEdge
		}
	}
	if c.confidence < e.cfg.MinConfidence {
		return engine.SkipLowConfidence
	}
	return ""
}

func (c candidate) String() string {
	return fmt.Sprintf("%s p=%.3f ask=%.3f edge=%.3f conf=%.2f", c.key, c.prob, c.ask, c.edge, c.confidence)
}
