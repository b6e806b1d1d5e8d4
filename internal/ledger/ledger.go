// Package ledger owns open positions and the bankroll. Every mutation
// (entries, ticks, exits, settlements) goes through one mutex, so the
// concurrently gathered market data never races on exposure.
package ledger

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/sizing"
)

const (
	DefaultMaxPositions     = 5
	DefaultCooldown         = 15 * time.Minute
	DefaultDrawdownHalt     = 0.50
	DefaultSettlementFee    = 0.02
	DefaultExitSlippage     = 0.02
	DefaultTakeProfit       = 0.30
	DefaultStopLoss         = 0.20
	DefaultTrailingActivate = 0.10
	DefaultTrailingDrop     = 0.15
	DefaultTimeout          = 72 * time.Hour
)

// Config holds the fee, slippage, exit and risk parameters. Zero values for
// the exit thresholds disable that trigger; use DefaultConfig for the
// documented defaults.
type Config struct {
	InitialBankroll float64

	EntryFeeRate      float64 // deducted from the stake before shares are computed
	ExitFeeRate       float64 // taker fee on early exits
	SettlementFeeRate float64 // fee on a winning settlement payout
	ExitSlippage      float64 // haircut on early-exit proceeds
	DegradedHaircut   float64 // haircut on best bid when the book cannot absorb an exit

	TakeProfit       float64 // ROI ≥ +TakeProfit
	StopLoss         float64 // ROI ≤ −StopLoss
	TrailingActivate float64 // peak ROI needed before the trailing stop arms
	TrailingDrop     float64 // fractional drop from the peak price
	Timeout          time.Duration

	Cooldown     time.Duration
	MaxPositions int
	DrawdownHalt float64

	MaxConsecutiveLosses int
	BreakerCooldown      time.Duration

	SeenCapacity int
}

// DefaultConfig devuelve la configuración por defecto del ledger.
func DefaultConfig() Config {
	return Config{
		InitialBankroll:   1000,
		SettlementFeeRate: DefaultSettlementFee,
		ExitSlippage:      DefaultExitSlippage,
		DegradedHaircut:   DefaultExitSlippage,
		TakeProfit:        DefaultTakeProfit,
		StopLoss:          DefaultStopLoss,
		TrailingActivate:  DefaultTrailingActivate,
		TrailingDrop:      DefaultTrailingDrop,
		Timeout:           DefaultTimeout,
		Cooldown:          DefaultCooldown,
		MaxPositions:      DefaultMaxPositions,
		DrawdownHalt:      DefaultDrawdownHalt,
		SeenCapacity:      DefaultSeenCapacity,
	}
}

// Stats aggregates closed-position results.
type Stats struct {
	TotalBets    int                       `json:"total_bets"`
	Wins         int                       `json:"wins"`
	Losses       int                       `json:"losses"`
	TotalWagered float64                   `json:"total_wagered"`
	RealizedPnL  float64                   `json:"realized_pnl"`
	MaxDrawdown  float64                   `json:"max_drawdown"`
	Exits        map[domain.ExitReason]int `json:"exits"`
}

// WinRate devuelve wins / (wins + losses), 0 si no hay cierres.
func (s Stats) WinRate() float64 {
	n := s.Wins + s.Losses
	if n == 0 {
		return 0
	}
	return float64(s.Wins) / float64(n)
}

// OpenRequest is everything TryOpen needs to create exposure. Price is the
// confirmed fill price of the entry.
type OpenRequest struct {
	MarketKey   string
	MarketID    string
	ConditionID string
	TokenID     string
	Instrument  string
	Question    string
	Source      string
	Side        domain.Side
	Price       float64
	Stake       float64
	FairProb    float64
	Edge        float64
	Expiry      time.Time
	Now         time.Time
}

// Ledger is the position state machine. Use New; the zero value is not usable.
type Ledger struct {
	mu  sync.Mutex
	cfg Config

	bankroll     float64
	peakBankroll float64
	halted       bool

	positions map[string]*domain.Position
	cooldowns map[string]time.Time
	settled   *Seen // settlement events already applied, eventID|key
	seen      *Seen
	breaker   domain.CircuitBreaker
	stats     Stats
}

// New creates a ledger holding cfg.InitialBankroll in cash.
func New(cfg Config) *Ledger {
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = DefaultMaxPositions
	}
	if cfg.DegradedHaircut <= 0 {
		cfg.DegradedHaircut = DefaultExitSlippage
	}
	return &Ledger{
		cfg:          cfg,
		bankroll:     cfg.InitialBankroll,
		peakBankroll: cfg.InitialBankroll,
		positions:    make(map[string]*domain.Position),
		cooldowns:    make(map[string]time.Time),
		settled:      NewSeen(cfg.SeenCapacity),
		seen:         NewSeen(cfg.SeenCapacity),
		breaker: domain.CircuitBreaker{
			MaxLosses:        cfg.MaxConsecutiveLosses,
			CooldownDuration: cfg.BreakerCooldown,
		},
		stats: Stats{Exits: make(map[domain.ExitReason]int)},
	}
}

// Config returns the ledger configuration.
func (l *Ledger) Config() Config {
	return l.cfg
}

// TryOpen is the only path that creates exposure. On success the bankroll is
// debited by the (possibly clamped) stake and an OPEN position is inserted.
// In live mode it must only be called after the venue confirmed the order.
func (l *Ledger) TryOpen(req OpenRequest) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	if err := l.checkEntryLocked(req); err != nil {
		return domain.Position{}, fmt.Errorf("ledger.TryOpen %s: %w", req.MarketKey, err)
	}

	stake := req.Stake
	if stake > l.bankroll {
		clamped := sizing.RoundCents(l.bankroll * sizing.BankrollBackstop)
		slog.Warn("ledger: stake clamped to bankroll backstop",
			"key", req.MarketKey,
			"requested", fmt.Sprintf("$%.2f", stake),
			"clamped", fmt.Sprintf("$%.2f", clamped),
		)
		stake = clamped
		if stake <= 0 {
			return domain.Position{}, fmt.Errorf("ledger.TryOpen %s: %w", req.MarketKey, domain.ErrInsufficientFunds)
		}
	}

	fee := stake * l.cfg.EntryFeeRate
	pos := &domain.Position{
		ID:              uuid.NewString(),
		MarketKey:       req.MarketKey,
		MarketID:        req.MarketID,
		ConditionID:     req.ConditionID,
		TokenID:         req.TokenID,
		Instrument:      req.Instrument,
		Question:        req.Question,
		Source:          req.Source,
		Side:            req.Side,
		EntryPrice:      req.Price,
		Stake:           stake,
		EntryFee:        fee,
		Shares:          (stake - fee) / req.Price,
		FairProbAtEntry: req.FairProb,
		EdgeAtEntry:     req.Edge,
		EntryTime:       req.Now,
		ExpiryTime:      req.Expiry,
		CurrentPrice:    req.Price,
		PeakPrice:       req.Price,
		Status:          domain.StatusOpen,
	}

	l.bankroll -= stake
	l.positions[req.MarketKey] = pos
	l.stats.TotalBets++
	l.stats.TotalWagered += stake

	slog.Info("ledger: position opened",
		"key", pos.MarketKey,
		"side", pos.Side,
		"price", fmt.Sprintf("%.3f", pos.EntryPrice),
		"stake", fmt.Sprintf("$%.2f", pos.Stake),
		"shares", fmt.Sprintf("%.2f", pos.Shares),
		"bankroll", fmt.Sprintf("$%.2f", l.bankroll),
	)
	return *pos, nil
}

// CanOpen runs the entry checks without mutating anything. Drivers call it
// before placing a live order so a doomed entry never reaches the venue.
func (l *Ledger) CanOpen(req OpenRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	return l.checkEntryLocked(req)
}

func (l *Ledger) checkEntryLocked(req OpenRequest) error {
	switch {
	case l.halted:
		return domain.ErrHalted
	case !l.breaker.IsOpen(req.Now):
		return domain.ErrBreakerOpen
	case req.Price <= 0 || req.Price >= 1 || math.IsNaN(req.Price):
		return domain.ErrInvalidPrice
	case req.Stake <= 0 || math.IsNaN(req.Stake):
		return domain.ErrInvalidStake
	case l.bankroll <= 0:
		return domain.ErrInsufficientFunds
	}
	if _, ok := l.positions[req.MarketKey]; ok {
		return domain.ErrDuplicatePosition
	}
	if until, ok := l.cooldowns[req.MarketKey]; ok && req.Now.Before(until) {
		return domain.ErrCooldown
	}
	if len(l.positions) >= l.cfg.MaxPositions {
		return domain.ErrMaxPositions
	}
	if req.ConditionID != "" {
		for _, p := range l.positions {
			if p.ConditionID == req.ConditionID && p.Side != req.Side {
				return domain.ErrOppositeSide
			}
		}
	}
	return nil
}

// closeLocked finalizes a position: credits payout, records the reason,
// opens the cooldown window and removes the key from the open set.
func (l *Ledger) closeLocked(pos *domain.Position, reason domain.ExitReason, exitPrice, payout float64, degraded bool, now time.Time) domain.Position {
	pos.Status = domain.StatusClosed
	pos.ExitReason = reason
	pos.ExitPrice = exitPrice
	pos.Payout = payout
	pos.PnL = payout - pos.Stake
	pos.Degraded = degraded
	pos.ClosedAt = now

	l.bankroll += payout
	if l.bankroll > l.peakBankroll {
		l.peakBankroll = l.bankroll
	}
	l.stats.RealizedPnL += pos.PnL
	l.stats.Exits[reason]++
	if pos.PnL > 0 {
		l.stats.Wins++
		l.breaker.RecordWin()
	} else {
		l.stats.Losses++
		l.breaker.RecordLoss(now)
	}

	if l.cfg.Cooldown > 0 {
		l.cooldowns[pos.MarketKey] = now.Add(l.cfg.Cooldown)
	}
	delete(l.positions, pos.MarketKey)
	l.pruneCooldownsLocked(now)

	slog.Info("ledger: position closed",
		"key", pos.MarketKey,
		"reason", reason,
		"exit_price", fmt.Sprintf("%.3f", exitPrice),
		"payout", fmt.Sprintf("$%.2f", payout),
		"pnl", fmt.Sprintf("$%+.2f", pos.PnL),
		"degraded", degraded,
		"bankroll", fmt.Sprintf("$%.2f", l.bankroll),
	)
	return *pos
}

func (l *Ledger) pruneCooldownsLocked(now time.Time) {
	for k, until := range l.cooldowns {
		if !now.Before(until) {
			delete(l.cooldowns, k)
		}
	}
}

// CheckDrawdownHalt compares equity (cash plus open stakes) against the
// largest of the peak bankroll, current equity and the initial bankroll.
// Returns true, and blocks new entries, when equity ≤ 0 or when
// equity/peak ≤ 1 − DrawdownHalt. Once tripped the halt stays on.
func (l *Ledger) CheckDrawdownHalt() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	equity := l.equityLocked()
	peak := math.Max(l.peakBankroll, math.Max(equity, l.cfg.InitialBankroll))

	dd := 0.0
	if peak > 0 {
		dd = 1 - equity/peak
	}
	if dd > l.stats.MaxDrawdown {
		l.stats.MaxDrawdown = dd
	}

	halt := equity <= 0
	if l.cfg.DrawdownHalt > 0 && peak > 0 && equity/peak <= 1-l.cfg.DrawdownHalt {
		halt = true
	}
	if halt && !l.halted {
		slog.Error("ledger: drawdown halt",
			"equity", fmt.Sprintf("$%.2f", equity),
			"peak", fmt.Sprintf("$%.2f", peak),
			"drawdown", fmt.Sprintf("%.1f%%", dd*100),
			"limit", fmt.Sprintf("%.1f%%", l.cfg.DrawdownHalt*100),
		)
	}
	if halt {
		l.halted = true
	}
	return l.halted
}

func (l *Ledger) equityLocked() float64 {
	eq := l.bankroll
	for _, p := range l.positions {
		eq += p.Stake
	}
	return eq
}

// MarkSeen records an inbound event ID. Returns false if it was already seen.
func (l *Ledger) MarkSeen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen.Add(id)
}

// Bankroll devuelve el cash disponible.
func (l *Ledger) Bankroll() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bankroll
}

// Equity devuelve cash + stakes abiertos.
func (l *Ledger) Equity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.equityLocked()
}

// MarkEquity values open shares at their last mark instead of their stake.
// Positions never ticked keep CurrentPrice at the entry price.
func (l *Ledger) MarkEquity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	eq := l.bankroll
	for _, p := range l.positions {
		if p.CurrentPrice > 0 {
			eq += p.MarkValue()
		} else {
			eq += p.Stake
		}
	}
	return eq
}

// Halted reports the result of the last drawdown check.
func (l *Ledger) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

// Position returns a copy of the open position for key.
func (l *Ledger) Position(key string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[key]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Positions returns copies of all open positions, oldest entry first.
func (l *Ledger) Positions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positionsLocked()
}

func (l *Ledger) positionsLocked() []domain.Position {
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].MarketKey < out[j].MarketKey
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

// OpenCount devuelve el número de posiciones abiertas.
func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// Stats returns a copy of the running statistics.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.Exits = make(map[domain.ExitReason]int, len(l.stats.Exits))
	for k, v := range l.stats.Exits {
		s.Exits[k] = v
	}
	return s
}
