package ledger

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

// StateVersion is bumped whenever the State layout changes incompatibly.
const StateVersion = 1

// State is the persisted form of the ledger. It round-trips through JSON.
type State struct {
	Version         int                   `json:"version"`
	SavedAt         time.Time             `json:"saved_at"`
	InitialBankroll float64               `json:"initial_bankroll"`
	Bankroll        float64               `json:"bankroll"`
	PeakBankroll    float64               `json:"peak_bankroll"`
	Halted          bool                  `json:"halted"`
	Positions       []domain.Position     `json:"positions"`
	Cooldowns       map[string]time.Time  `json:"cooldowns,omitempty"`
	Seen            []string              `json:"seen,omitempty"`
	SettledEvents   []string              `json:"settled_events,omitempty"`
	Breaker         domain.CircuitBreaker `json:"breaker"`
	Stats           Stats                 `json:"stats"`
}

// Snapshot captures the full ledger state at now.
func (l *Ledger) Snapshot(now time.Time) State {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := State{
		Version:         StateVersion,
		SavedAt:         now,
		InitialBankroll: l.cfg.InitialBankroll,
		Bankroll:        l.bankroll,
		PeakBankroll:    l.peakBankroll,
		Halted:          l.halted,
		Positions:       l.positionsLocked(),
		Cooldowns:       make(map[string]time.Time, len(l.cooldowns)),
		Seen:            l.seen.IDs(),
		SettledEvents:   l.settled.IDs(),
		Breaker:         l.breaker,
		Stats:           l.stats,
	}
	for k, v := range l.cooldowns {
		st.Cooldowns[k] = v
	}
	st.Stats.Exits = make(map[domain.ExitReason]int, len(l.stats.Exits))
	for k, v := range l.stats.Exits {
		st.Stats.Exits[k] = v
	}
	return st
}

// Restore replaces the ledger state with st. Configuration (thresholds,
// fees) is kept from New; only balances, positions and bookkeeping are
// loaded.
func (l *Ledger) Restore(st State) error {
	if st.Version != StateVersion {
		return fmt.Errorf("ledger.Restore: unsupported state version %d (want %d)", st.Version, StateVersion)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.bankroll = st.Bankroll
	l.peakBankroll = st.PeakBankroll
	if st.InitialBankroll > 0 {
		l.cfg.InitialBankroll = st.InitialBankroll
	}
	l.halted = st.Halted

	l.positions = make(map[string]*domain.Position, len(st.Positions))
	for i := range st.Positions {
		p := st.Positions[i]
		if p.Status == domain.StatusClosed {
			continue
		}
		l.positions[p.MarketKey] = &p
	}

	l.cooldowns = make(map[string]time.Time, len(st.Cooldowns))
	for k, v := range st.Cooldowns {
		l.cooldowns[k] = v
	}

	l.settled = NewSeen(l.cfg.SeenCapacity)
	for _, id := range st.SettledEvents {
		l.settled.Add(id)
	}

	l.seen = NewSeen(l.cfg.SeenCapacity)
	for _, id := range st.Seen {
		l.seen.Add(id)
	}

	// los límites vienen de la config actual, solo el estado se restaura
	l.breaker.ConsecutiveLosses = st.Breaker.ConsecutiveLosses
	l.breaker.CooldownUntil = st.Breaker.CooldownUntil
	l.breaker.TriggeredReason = st.Breaker.TriggeredReason

	l.stats = st.Stats
	if l.stats.Exits == nil {
		l.stats.Exits = make(map[domain.ExitReason]int)
	}
	return nil
}
