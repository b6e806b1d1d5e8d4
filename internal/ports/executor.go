package ports

import (
	"context"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

// OrderExecutor places real orders on the Polymarket CLOB.
// The ledger is only written after PlaceOrder returns without error.
type OrderExecutor interface {
	// PlaceOrder signs and submits an order. Size is USDC for BUY, shares for SELL.
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.PlacedOrder, error)

	// GetBalance returns the available USDC.e balance in the CLOB.
	GetBalance(ctx context.Context) (float64, error)
}

// Redeemer converts winning outcome tokens of a resolved market back into
// USDC.e on-chain. Paper mode never calls it.
type Redeemer interface {
	RedeemPositions(ctx context.Context, conditionID string, negRisk bool) (domain.RedeemResult, error)
	EnsureApprovals(ctx context.Context) error
}
