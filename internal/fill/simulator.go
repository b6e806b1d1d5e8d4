// Package fill estimates realistic execution prices by walking an order book
// snapshot. Every function here is pure: no I/O and no mutation of the input.
package fill

import (
	"fmt"
	"math"
	"sort"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

// DefaultHaircut is the conservative slippage applied to the best bid when a
// sell cannot be priced from book depth.
const DefaultHaircut = 0.02

const epsilon = 1e-9

// LevelFill is the part of an order taken from one price level.
type LevelFill struct {
	Price  float64
	Shares float64
}

// Result describes a simulated fill. For every result
// Σ(Levels[i].Shares × Levels[i].Price) == Notional and VWAP == Notional/Shares.
type Result struct {
	VWAP      float64
	Shares    float64
	Notional  float64
	BestPrice float64
	Levels    []LevelFill

	// Degraded marks a price derived from a fixed haircut on the best price
	// instead of from book depth.
	Degraded bool
}

// Slippage is the fractional distance between VWAP and the best price.
func (r Result) Slippage() float64 {
	if r.BestPrice <= 0 {
		return 0
	}
	return math.Abs(r.VWAP-r.BestPrice) / r.BestPrice
}

// normalize copies levels, drops empty ones, sorts by price and merges equal
// prices.
func normalize(levels []domain.BookEntry, ascending bool) []domain.BookEntry {
	out := make([]domain.BookEntry, 0, len(levels))
	for _, l := range levels {
		if l.Price <= 0 || l.Size <= 0 {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if ascending {
			return out[i].Price < out[j].Price
		}
		return out[i].Price > out[j].Price
	})
	merged := out[:0]
	for _, l := range out {
		if n := len(merged); n > 0 && merged[n-1].Price == l.Price {
			merged[n-1].Size += l.Size
			continue
		}
		merged = append(merged, l)
	}
	return merged
}

// SimulateBuy spends targetNotional against asks, cheapest first. If the book
// cannot absorb the whole notional it returns ErrInsufficientLiquidity rather
// than a partial price.
func SimulateBuy(asks []domain.BookEntry, targetNotional float64) (Result, error) {
	if targetNotional <= 0 {
		return Result{}, fmt.Errorf("fill.SimulateBuy: notional %.4f: %w", targetNotional, domain.ErrInvalidStake)
	}
	book := normalize(asks, true)
	if len(book) == 0 {
		return Result{}, fmt.Errorf("fill.SimulateBuy: empty ask side: %w", domain.ErrInsufficientLiquidity)
	}

	res := Result{BestPrice: book[0].Price}
	remaining := targetNotional
	for _, lvl := range book {
		if remaining <= epsilon {
			break
		}
		spend := math.Min(remaining, lvl.Price*lvl.Size)
		shares := spend / lvl.Price
		res.Levels = append(res.Levels, LevelFill{Price: lvl.Price, Shares: shares})
		res.Shares += shares
		res.Notional += spend
		remaining -= spend
	}
	if remaining > epsilon {
		return Result{}, fmt.Errorf("fill.SimulateBuy: %.2f of %.2f unfilled: %w",
			remaining, targetNotional, domain.ErrInsufficientLiquidity)
	}
	res.VWAP = res.Notional / res.Shares
	return res, nil
}

// SimulateSell sells shares into bids, highest first, with the same
// insufficient-liquidity contract as SimulateBuy.
func SimulateSell(bids []domain.BookEntry, shares float64) (Result, error) {
	if shares <= 0 {
		return Result{}, fmt.Errorf("fill.SimulateSell: shares %.4f: %w", shares, domain.ErrInvalidStake)
	}
	book := normalize(bids, false)
	if len(book) == 0 {
		return Result{}, fmt.Errorf("fill.SimulateSell: empty bid side: %w", domain.ErrInsufficientLiquidity)
	}

	res := Result{BestPrice: book[0].Price}
	remaining := shares
	for _, lvl := range book {
		if remaining <= epsilon {
			break
		}
		take := math.Min(remaining, lvl.Size)
		res.Levels = append(res.Levels, LevelFill{Price: lvl.Price, Shares: take})
		res.Shares += take
		res.Notional += take * lvl.Price
		remaining -= take
	}
	if remaining > epsilon {
		return Result{}, fmt.Errorf("fill.SimulateSell: %.2f of %.2f shares unfilled: %w",
			remaining, shares, domain.ErrInsufficientLiquidity)
	}
	res.VWAP = res.Notional / res.Shares
	return res, nil
}

// HaircutSell prices a sell at bestBid·(1−haircut). This is the degraded mode
// for thin or missing books and is always flagged.
func HaircutSell(bestBid, shares, haircut float64) Result {
	if haircut < 0 {
		haircut = DefaultHaircut
	}
	price := math.Max(0, bestBid*(1-haircut))
	return Result{
		VWAP:      price,
		Shares:    shares,
		Notional:  shares * price,
		BestPrice: bestBid,
		Levels:    []LevelFill{{Price: price, Shares: shares}},
		Degraded:  true,
	}
}
