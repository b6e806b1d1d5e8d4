package domain

import "errors"

// Invariant violations. Rejected with an explicit reason, never coerced.
var (
	ErrDuplicatePosition = errors.New("position already open for market key")
	ErrOppositeSide      = errors.New("opposite side already held on this market")
	ErrCooldown          = errors.New("market key in re-entry cooldown")
	ErrInvalidPrice      = errors.New("price must be in (0,1)")
	ErrInvalidStake      = errors.New("stake must be positive")
	ErrInsufficientFunds = errors.New("bankroll exhausted")
	ErrMaxPositions      = errors.New("max concurrent positions reached")
	ErrHalted            = errors.New("trading halted by drawdown")
	ErrBreakerOpen       = errors.New("entries paused after consecutive losses")
	ErrPositionNotOpen   = errors.New("position not open")
)

// Market data and settlement conditions.
var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSettlementPending     = errors.New("settlement pending")
	ErrUnknownMarket         = errors.New("market could not be parsed")
)

// ErrTransient marks I/O failures (network, 429, 5xx) that exhausted retries.
// Callers skip the affected feed for this tick and try again on the next one.
var ErrTransient = errors.New("transient I/O error")
