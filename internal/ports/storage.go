package ports

import (
	"context"

	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/ledger"
)

// SnapshotStore persists the ledger state between restarts.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, st ledger.State) error
	// LoadSnapshot returns found=false when nothing was saved yet.
	LoadSnapshot(ctx context.Context) (st ledger.State, found bool, err error)
}

// TradeLog is the append-only history of opened and closed positions.
type TradeLog interface {
	Record(rec domain.TradeRecord) error
}

// Notifier presenta posiciones y estadísticas al usuario.
type Notifier interface {
	Report(ctx context.Context, positions []domain.Position, stats ledger.Stats, bankroll float64) error
}
