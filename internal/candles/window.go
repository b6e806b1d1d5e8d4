// Package candles keeps a bounded rolling buffer of 1-minute candles per
// instrument and derives volatility, drift and momentum signals from it.
package candles

import (
	"sync"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

const (
	DefaultCapacity    = 120
	DefaultVolWindow   = 30
	DefaultDriftWindow = 10
)

// Window is a fixed-capacity, append-ordered buffer of candles. The oldest
// candle is evicted on overflow. Safe for concurrent use: the stream goroutine
// appends while the driver reads.
type Window struct {
	mu       sync.RWMutex
	capacity int
	candles  []domain.Candle
}

// NewWindow creates an empty window. capacity <= 0 uses DefaultCapacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{capacity: capacity, candles: make([]domain.Candle, 0, capacity)}
}

// Append adds c as the newest candle. A candle whose CloseTime is not after
// the newest one replaces it instead (the REST backfill and the stream can
// deliver the same bar twice).
func (w *Window) Append(c domain.Candle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := len(w.candles); n > 0 && !c.CloseTime.IsZero() && !c.CloseTime.After(w.candles[n-1].CloseTime) {
		if c.CloseTime.Equal(w.candles[n-1].CloseTime) {
			w.candles[n-1] = c
		}
		return
	}
	if len(w.candles) == w.capacity {
		copy(w.candles, w.candles[1:])
		w.candles = w.candles[:w.capacity-1]
	}
	w.candles = append(w.candles, c)
}

// Replace swaps the contents for candles (oldest first), keeping only the
// newest capacity entries.
func (w *Window) Replace(candles []domain.Candle) {
	if len(candles) > w.capacity {
		candles = candles[len(candles)-w.capacity:]
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.candles = append(w.candles[:0], candles...)
}

// Len devuelve el número de velas en el buffer.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.candles)
}

// Last returns the newest n candles, oldest first, as a copy.
func (w *Window) Last(n int) []domain.Candle {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if n <= 0 || n > len(w.candles) {
		n = len(w.candles)
	}
	out := make([]domain.Candle, n)
	copy(out, w.candles[len(w.candles)-n:])
	return out
}

// Closes returns every close price, oldest first.
func (w *Window) Closes() []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]float64, len(w.candles))
	for i, c := range w.candles {
		out[i] = c.Close
	}
	return out
}

// Spot is the close of the newest candle, 0 when empty.
func (w *Window) Spot() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.candles) == 0 {
		return 0
	}
	return w.candles[len(w.candles)-1].Close
}

// Estimate computes the full VolatilityEstimate with the default windows.
func (w *Window) Estimate() domain.VolatilityEstimate {
	vol := w.Last(DefaultVolWindow)
	drift := w.Last(DefaultDriftWindow)
	realized := RealizedVol(vol)
	parkinson := ParkinsonVol(vol)
	return domain.VolatilityEstimate{
		Realized:  realized,
		Parkinson: parkinson,
		Blended:   (realized + parkinson) / 2,
		Drift:     Drift(drift),
		Samples:   w.Len(),
	}
}

// Set holds one Window per instrument, created on first use.
type Set struct {
	mu       sync.Mutex
	capacity int
	windows  map[string]*Window
}

// NewSet creates an empty Set whose windows hold capacity candles.
func NewSet(capacity int) *Set {
	return &Set{capacity: capacity, windows: make(map[string]*Window)}
}

// Get returns the window for instrument, creating it if needed.
func (s *Set) Get(instrument string) *Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[instrument]
	if !ok {
		w = NewWindow(s.capacity)
		s.windows[instrument] = w
	}
	return w
}
