// Package features computes the technical-indicator columns stored with
// each tick. The calculators are incremental so the feed ingestor can
// enrich ticks at stream rate; offline CSV imports carry precomputed
// columns and bypass this package.
package features

import (
	"container/ring"
	"sync"
	"time"
)

type sample struct {
	p, v float64
	t    time.Time
}

// VWAP maintains a volume-weighted average price over a sliding time
// window, backed by a fixed-size ring so memory stays bounded even on
// bursty streams.
type VWAP struct {
	win  time.Duration
	ring *ring.Ring
	mu   sync.RWMutex
}

// NewVWAP creates a VWAP over the given time window holding at most
// size samples.
func NewVWAP(win time.Duration, size int) *VWAP {
	if size <= 0 {
		size = 1
	}
	return &VWAP{win: win, ring: ring.New(size)}
}

// Add records a trade.
func (v *VWAP) Add(price, volume float64) {
	v.mu.Lock()
	v.ring.Value = sample{price, volume, time.Now()}
	v.ring = v.ring.Next()
	v.mu.Unlock()
}

// Value returns the VWAP of the samples inside the window, or 0 when no
// volume has been seen.
func (v *VWAP) Value() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var pv, vv float64
	cutoff := time.Now().Add(-v.win)
	v.ring.Do(func(x any) {
		if s, ok := x.(sample); ok && s.t.After(cutoff) {
			pv += s.p * s.v
			vv += s.v
		}
	})
	if vv == 0 {
		return 0
	}
	return pv / vv
}
