// Package window builds fixed-length prediction windows from stored ticks.
// A window carries the normalized price sequence and the latest indicator
// snapshot for one symbol; it is the sole input to the ensemble engine.
package window

import (
	"fmt"
	"math"
	"time"

	"hft-ensemble/internal/storage"
)

// DefaultIndicators are the indicator columns consumed by the models, in
// the order the models were trained on. Missing values default to zero.
var DefaultIndicators = []string{
	"rsi_14", "ema_8", "ema_21", "macd", "macd_signal",
	"macd_hist", "bb_up", "bb_low", "atr_14", "vwap_60",
}

// Window is an immutable prediction input for one symbol: a z-score
// normalized price sequence of fixed length, the indicator vector, and the
// reference timestamp/price of the most recent tick.
type Window struct {
	Symbol     string
	Seq        []float64 // length T, normalized
	Indicators []float64 // length D
	Timestamp  time.Time
	Price      float64
}

// InsufficientDataError reports that a symbol has fewer stored ticks than
// the configured window length.
type InsufficientDataError struct {
	Symbol string
	Have   int
	Need   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: have %d ticks, need %d", e.Symbol, e.Have, e.Need)
}

// TickSource is the slice of the store the builder needs.
type TickSource interface {
	RecentTicks(symbol string, n int) ([]storage.TickRecord, error)
}

// Builder assembles windows of a fixed size from a tick source.
type Builder struct {
	source     TickSource
	size       int
	indicators []string
}

// NewBuilder creates a builder producing windows of the given length.
// When indicators is nil the default column set is used.
func NewBuilder(source TickSource, size int, indicators []string) *Builder {
	if size <= 0 {
		size = 128
	}
	if indicators == nil {
		indicators = DefaultIndicators
	}
	return &Builder{source: source, size: size, indicators: indicators}
}

// Size returns the configured window length.
func (b *Builder) Size() int { return b.size }

// IndicatorDim returns the width of the indicator vector.
func (b *Builder) IndicatorDim() int { return len(b.indicators) }

// Build assembles the window for a symbol from its most recent ticks.
// Prices are z-score normalized over the window; the indicator vector is
// taken from the last tick, substituting zero for absent columns.
func (b *Builder) Build(symbol string) (*Window, error) {
	ticks, err := b.source.RecentTicks(symbol, b.size)
	if err != nil {
		return nil, fmt.Errorf("fetch ticks for %s: %w", symbol, err)
	}
	if len(ticks) < b.size {
		return nil, &InsufficientDataError{Symbol: symbol, Have: len(ticks), Need: b.size}
	}

	seq := make([]float64, b.size)
	var sum float64
	for i, t := range ticks {
		seq[i] = t.Price
		sum += t.Price
	}
	mean := sum / float64(b.size)

	var variance float64
	for _, p := range seq {
		d := p - mean
		variance += d * d
	}
	variance /= float64(b.size)
	std := math.Sqrt(variance) + 1e-8

	for i := range seq {
		seq[i] = (seq[i] - mean) / std
	}

	last := ticks[len(ticks)-1]
	indicators := make([]float64, len(b.indicators))
	for i, name := range b.indicators {
		if v, ok := last.Indicators[name]; ok {
			indicators[i] = v
		}
	}

	return &Window{
		Symbol:     symbol,
		Seq:        seq,
		Indicators: indicators,
		Timestamp:  last.Timestamp,
		Price:      last.Price,
	}, nil
}
