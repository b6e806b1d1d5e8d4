package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/ports"
)

// DefaultOutcomeTTL: una resolución final no cambia, el TTL solo evita que
// la cache crezca sin límite.
const DefaultOutcomeTTL = 7 * 24 * time.Hour

// CachedOracle envuelve un ports.SettlementOracle con una cache read-through
// en Redis. Solo se cachean YES/NO; PENDING y UNKNOWN siempre van al oráculo.
// Si Redis falla se consulta el oráculo directamente.
type CachedOracle struct {
	primary ports.SettlementOracle
	rdb     redis.UniversalClient
	ttl     time.Duration
}

// NewCachedOracle crea la cache. ttl <= 0 usa DefaultOutcomeTTL.
func NewCachedOracle(primary ports.SettlementOracle, rdb redis.UniversalClient, ttl time.Duration) *CachedOracle {
	if ttl <= 0 {
		ttl = DefaultOutcomeTTL
	}
	return &CachedOracle{primary: primary, rdb: rdb, ttl: ttl}
}

// GetResult implementa ports.SettlementOracle.
func (c *CachedOracle) GetResult(ctx context.Context, marketID string) (domain.Outcome, error) {
	if v, err := c.rdb.Get(ctx, outcomeKey(marketID)).Result(); err == nil {
		if o := domain.Outcome(v); o.IsFinal() {
			return o, nil
		}
	} else if err != redis.Nil {
		slog.Debug("storage: outcome cache read failed", "market", marketID, "err", err)
	}

	outcome, err := c.primary.GetResult(ctx, marketID)
	if err != nil || !outcome.IsFinal() {
		return outcome, err
	}
	if err := c.rdb.Set(ctx, outcomeKey(marketID), string(outcome), c.ttl).Err(); err != nil {
		slog.Debug("storage: outcome cache write failed", "market", marketID, "err", err)
	}
	return outcome, nil
}

func outcomeKey(marketID string) string {
	return "binarybot:outcome:" + marketID
}
