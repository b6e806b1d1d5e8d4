package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/fill"
)

// Tick marks an open position at price and evaluates the exit triggers in
// fixed priority: settlement, take-profit, trailing-stop, stop-loss, timeout.
// Only the first trigger that fires is returned. The position is not closed
// here; the caller executes the exit (or waits for the oracle on settlement).
//
// A position past expiry moves to SETTLING and stops reacting to price
// triggers.
func (l *Ledger) Tick(key string, price float64, now time.Time) (domain.ExitReason, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[key]
	if !ok {
		return "", false
	}
	if pos.Status == domain.StatusSettling {
		return domain.ExitSettlement, true
	}

	// A zero bid is still a mark: an empty book usually means the side is losing.
	if price >= 0 {
		pos.CurrentPrice = price
		if price > pos.PeakPrice {
			pos.PeakPrice = price
		}
	}

	if pos.IsExpired(now) {
		pos.Status = domain.StatusSettling
		slog.Info("ledger: position expired, awaiting settlement", "key", key)
		return domain.ExitSettlement, true
	}

	cfg := l.cfg
	roi := pos.ROI()
	switch {
	case cfg.TakeProfit > 0 && roi >= cfg.TakeProfit:
		return domain.ExitTakeProfit, true
	case cfg.TrailingActivate > 0 && cfg.TrailingDrop > 0 &&
		pos.PeakROI() >= cfg.TrailingActivate && pos.DropFromPeak() >= cfg.TrailingDrop:
		return domain.ExitTrailingStop, true
	case cfg.StopLoss > 0 && roi <= -cfg.StopLoss:
		return domain.ExitStopLoss, true
	case cfg.Timeout > 0 && now.Sub(pos.EntryTime) >= cfg.Timeout:
		return domain.ExitTimeout, true
	}
	return "", false
}

// Exit sells the position into bids through the fill simulator. If the book
// cannot absorb the shares, the exit falls back to a haircut on the best bid
// and the closed position is flagged Degraded. Proceeds are reduced by
// ExitSlippage and ExitFeeRate; the remainder is the payout credited to the
// bankroll.
func (l *Ledger) Exit(key string, reason domain.ExitReason, bids []domain.BookEntry, now time.Time) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[key]
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger.Exit %s: %w", key, domain.ErrPositionNotOpen)
	}
	if pos.Status == domain.StatusSettling {
		return domain.Position{}, fmt.Errorf("ledger.Exit %s: expired, waiting for settlement: %w", key, domain.ErrSettlementPending)
	}

	res, err := fill.SimulateSell(bids, pos.Shares)
	if errors.Is(err, domain.ErrInsufficientLiquidity) {
		best := domain.OrderBook{Bids: bids}.BestBid()
		if best == 0 {
			best = pos.CurrentPrice
		}
		slog.Warn("ledger: thin book on exit, pricing with haircut",
			"key", key,
			"best_bid", fmt.Sprintf("%.3f", best),
			"shares", fmt.Sprintf("%.2f", pos.Shares),
		)
		res = fill.HaircutSell(best, pos.Shares, l.cfg.DegradedHaircut)
	} else if err != nil {
		return domain.Position{}, fmt.Errorf("ledger.Exit %s: %w", key, err)
	}

	payout := res.Notional * (1 - l.cfg.ExitSlippage) * (1 - l.cfg.ExitFeeRate)
	return l.closeLocked(pos, reason, res.VWAP, payout, res.Degraded, now), nil
}

// ExitAtPrice closes the position at a price confirmed elsewhere (a live
// sell fill). Slippage is not applied again; the exit fee is.
func (l *Ledger) ExitAtPrice(key string, reason domain.ExitReason, price float64, now time.Time) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[key]
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger.ExitAtPrice %s: %w", key, domain.ErrPositionNotOpen)
	}
	if price < 0 || price > 1 {
		return domain.Position{}, fmt.Errorf("ledger.ExitAtPrice %s: %.4f: %w", key, price, domain.ErrInvalidPrice)
	}
	payout := pos.Shares * price * (1 - l.cfg.ExitFeeRate)
	return l.closeLocked(pos, reason, price, payout, false, now), nil
}

// ExitFilled closes the position with the amounts a live sell actually
// matched: sold shares and the USDC received. The exit price is
// proceeds/sold and the exit fee applies to proceeds, as in ExitAtPrice.
// Shares left unmatched by a partial fill are booked at zero.
func (l *Ledger) ExitFilled(key string, reason domain.ExitReason, sold, proceeds float64, now time.Time) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[key]
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger.ExitFilled %s: %w", key, domain.ErrPositionNotOpen)
	}
	if sold <= 0 || proceeds < 0 || proceeds > sold {
		return domain.Position{}, fmt.Errorf("ledger.ExitFilled %s: sold %.4f for %.4f: %w", key, sold, proceeds, domain.ErrInvalidPrice)
	}
	if sold < pos.Shares*(1-1e-6) {
		slog.Warn("ledger: partial sell fill",
			"key", key,
			"sold", fmt.Sprintf("%.4f", sold),
			"held", fmt.Sprintf("%.4f", pos.Shares),
		)
	}
	payout := proceeds * (1 - l.cfg.ExitFeeRate)
	return l.closeLocked(pos, reason, proceeds/sold, payout, false, now), nil
}

// MirrorExit closes a copied position because its source sold.
func (l *Ledger) MirrorExit(key string, bids []domain.BookEntry, now time.Time) (domain.Position, error) {
	return l.Exit(key, domain.ExitMirror, bids, now)
}

// Settle resolves the position against a venue outcome. eventID identifies
// the settlement event (the market ID): replays of an applied event, or a
// key that is no longer open, are rejected with ErrPositionNotOpen and change
// nothing. PENDING and UNKNOWN outcomes leave the position open.
func (l *Ledger) Settle(key, eventID string, outcome domain.Outcome, now time.Time) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if eventID != "" && l.settled.Contains(eventID+"|"+key) {
		return domain.Position{}, fmt.Errorf("ledger.Settle %s: event %s already applied: %w", key, eventID, domain.ErrPositionNotOpen)
	}
	pos, ok := l.positions[key]
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger.Settle %s: %w", key, domain.ErrPositionNotOpen)
	}
	winner, final := outcome.Winner()
	if !final {
		return domain.Position{}, fmt.Errorf("ledger.Settle %s: outcome %s: %w", key, outcome, domain.ErrSettlementPending)
	}

	var price, payout float64
	if winner == pos.Side {
		price = 1
		payout = pos.Shares * (1 - l.cfg.SettlementFeeRate)
	}
	if eventID != "" {
		l.settled.Add(eventID + "|" + key)
	}
	return l.closeLocked(pos, domain.ExitSettlement, price, payout, false, now), nil
}
