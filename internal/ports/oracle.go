package ports

import (
	"context"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

// SettlementOracle reports the venue's resolution of a market.
// PENDING means not resolved yet; UNKNOWN means the query failed or the
// answer was ambiguous. Both must leave positions open.
type SettlementOracle interface {
	GetResult(ctx context.Context, marketID string) (domain.Outcome, error)
}
