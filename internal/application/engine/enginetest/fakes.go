// Package enginetest provides in-memory fakes of the ports used by the
// strategy drivers.
package enginetest

import (
	"context"
	"sync"

	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/ledger"
)

// Book builds a one-level book on each side.
func Book(tokenID string, bid, ask, size float64) domain.OrderBook {
	ob := domain.OrderBook{TokenID: tokenID}
	if bid > 0 {
		ob.Bids = []domain.BookEntry{{Price: bid, Size: size}}
	}
	if ask > 0 {
		ob.Asks = []domain.BookEntry{{Price: ask, Size: size}}
	}
	return ob
}

// Books is a BookProvider backed by a map.
type Books struct {
	mu    sync.Mutex
	Books map[string]domain.OrderBook
	Err   error
	Calls int
}

func (b *Books) Set(ob domain.OrderBook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Books == nil {
		b.Books = make(map[string]domain.OrderBook)
	}
	b.Books[ob.TokenID] = ob
}

func (b *Books) FetchOrderBooks(_ context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls++
	if b.Err != nil {
		return nil, b.Err
	}
	out := make(map[string]domain.OrderBook, len(tokenIDs))
	for _, id := range tokenIDs {
		if ob, ok := b.Books[id]; ok {
			out[id] = ob
		}
	}
	return out, nil
}

// Oracle is a SettlementOracle answering from a map. Missing markets are
// PENDING.
type Oracle struct {
	mu       sync.Mutex
	Outcomes map[string]domain.Outcome
	Err      error
	Calls    int
}

func (o *Oracle) Set(marketID string, out domain.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Outcomes == nil {
		o.Outcomes = make(map[string]domain.Outcome)
	}
	o.Outcomes[marketID] = out
}

func (o *Oracle) GetResult(_ context.Context, marketID string) (domain.Outcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Calls++
	if o.Err != nil {
		return domain.OutcomeUnknown, o.Err
	}
	if out, ok := o.Outcomes[marketID]; ok {
		return out, nil
	}
	return domain.OutcomePending, nil
}

// Executor records orders. With Err set every order fails; with Fill set
// that response is returned as is; otherwise the order fills at its limit
// price.
type Executor struct {
	mu      sync.Mutex
	Err     error
	Fill    *domain.PlacedOrder
	Orders  []domain.OrderRequest
	Balance float64
}

func (e *Executor) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.PlacedOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Orders = append(e.Orders, req)
	if e.Err != nil {
		return domain.PlacedOrder{}, e.Err
	}
	if e.Fill != nil {
		return *e.Fill, nil
	}
	shares := req.Size
	if req.Side == domain.OrderBuy {
		shares = req.Size / req.Price
	}
	usdc := shares * req.Price
	placed := domain.PlacedOrder{OrderID: "ord", Status: "matched"}
	if req.Side == domain.OrderBuy {
		placed.MadeAmount, placed.TakenAmount = usdc, shares
	} else {
		placed.MadeAmount, placed.TakenAmount = shares, usdc
	}
	return placed, nil
}

func (e *Executor) GetBalance(context.Context) (float64, error) {
	return e.Balance, nil
}

// OrderCount returns how many orders were attempted.
func (e *Executor) OrderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Orders)
}

// Store is an in-memory SnapshotStore.
type Store struct {
	mu    sync.Mutex
	Saved []ledger.State
}

func (s *Store) SaveSnapshot(_ context.Context, st ledger.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Saved = append(s.Saved, st)
	return nil
}

func (s *Store) LoadSnapshot(context.Context) (ledger.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Saved) == 0 {
		return ledger.State{}, false, nil
	}
	return s.Saved[len(s.Saved)-1], true, nil
}

// TradeLog collects records in memory.
type TradeLog struct {
	mu      sync.Mutex
	Records []domain.TradeRecord
}

func (t *TradeLog) Record(rec domain.TradeRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Records = append(t.Records, rec)
	return nil
}

// Events returns the recorded events in order.
func (t *TradeLog) Events() []domain.TradeEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.TradeEvent, len(t.Records))
	for i, r := range t.Records {
		out[i] = r.Event
	}
	return out
}

// Markets is a MarketProvider returning a fixed list.
type Markets struct {
	Markets []domain.Market
	Err     error
}

func (m *Markets) FetchActiveMarkets(context.Context) ([]domain.Market, error) {
	return m.Markets, m.Err
}

// Candles is a CandleSource backed by a map.
type Candles struct {
	mu      sync.Mutex
	Candles map[string][]domain.Candle
	Err     error
	Calls   int
}

func (c *Candles) GetRecentCandles(_ context.Context, instrument string, n int) ([]domain.Candle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls++
	if c.Err != nil {
		return nil, c.Err
	}
	cs := c.Candles[instrument]
	if n > 0 && len(cs) > n {
		cs = cs[len(cs)-n:]
	}
	return cs, nil
}

// Activity is an ActivityProvider backed by a map of wallet → trades.
type Activity struct {
	mu     sync.Mutex
	Trades map[string][]domain.SourceTrade
	Err    error
}

func (a *Activity) Set(wallet string, trades ...domain.SourceTrade) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Trades == nil {
		a.Trades = make(map[string][]domain.SourceTrade)
	}
	a.Trades[wallet] = trades
}

func (a *Activity) FetchActivity(_ context.Context, wallet string) ([]domain.SourceTrade, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return nil, a.Err
	}
	return a.Trades[wallet], nil
}

// Redeemer records redeemed conditions.
type Redeemer struct {
	mu         sync.Mutex
	Conditions []string
}

func (r *Redeemer) RedeemPositions(_ context.Context, conditionID string, _ bool) (domain.RedeemResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Conditions = append(r.Conditions, conditionID)
	return domain.RedeemResult{ConditionID: conditionID, TxHash: "0xtx", Success: true}, nil
}

func (r *Redeemer) EnsureApprovals(context.Context) error {
	return nil
}
