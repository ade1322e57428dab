package features

import (
	"math"
	"sync"
	"time"
)

// EMA is an incremental exponential moving average with the standard
// smoothing factor 2/(period+1).
type EMA struct {
	alpha  float64
	value  float64
	primed bool
}

// NewEMA creates an EMA over the given period.
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{alpha: 2.0 / (float64(period) + 1)}
}

// Add feeds a price and returns the updated average.
func (e *EMA) Add(price float64) float64 {
	if !e.primed {
		e.value = price
		e.primed = true
		return e.value
	}
	e.value += e.alpha * (price - e.value)
	return e.value
}

// Value returns the current average, or 0 before the first sample.
func (e *EMA) Value() float64 { return e.value }

// RSI is Wilder's relative strength index over price changes.
type RSI struct {
	period   int
	avgGain  float64
	avgLoss  float64
	last     float64
	nSamples int
}

// NewRSI creates an RSI over the given period.
func NewRSI(period int) *RSI {
	if period < 1 {
		period = 14
	}
	return &RSI{period: period}
}

// Add feeds a price. Before the period fills, Value stays at the
// neutral 50.
func (r *RSI) Add(price float64) {
	if r.nSamples == 0 {
		r.last = price
		r.nSamples = 1
		return
	}

	change := price - r.last
	r.last = price
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	n := float64(r.period)
	if r.nSamples <= r.period {
		// Seed phase: plain accumulation averaged at the boundary.
		r.avgGain += gain / n
		r.avgLoss += loss / n
	} else {
		r.avgGain = (r.avgGain*(n-1) + gain) / n
		r.avgLoss = (r.avgLoss*(n-1) + loss) / n
	}
	r.nSamples++
}

// Value returns the RSI in [0, 100].
func (r *RSI) Value() float64 {
	if r.nSamples <= r.period {
		return 50
	}
	if r.avgLoss == 0 {
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}

// Bollinger maintains a simple moving average and standard deviation
// band over a fixed number of samples.
type Bollinger struct {
	period int
	k      float64
	buf    []float64
}

// NewBollinger creates bands over the given period at k standard
// deviations.
func NewBollinger(period int, k float64) *Bollinger {
	if period < 2 {
		period = 20
	}
	return &Bollinger{period: period, k: k}
}

// Add feeds a price.
func (b *Bollinger) Add(price float64) {
	if len(b.buf) == b.period {
		b.buf = b.buf[1:]
	}
	b.buf = append(b.buf, price)
}

// Bands returns the upper and lower band. Before the period fills both
// collapse onto the running mean.
func (b *Bollinger) Bands() (upper, lower float64) {
	if len(b.buf) == 0 {
		return 0, 0
	}
	var sum float64
	for _, p := range b.buf {
		sum += p
	}
	mean := sum / float64(len(b.buf))

	var variance float64
	for _, p := range b.buf {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(len(b.buf))
	std := math.Sqrt(variance)
	return mean + b.k*std, mean - b.k*std
}

// ATR approximates the average true range from tick data, where the
// absolute price change stands in for the bar range.
type ATR struct {
	ema  *EMA
	last float64
	seen bool
}

// NewATR creates an ATR over the given period.
func NewATR(period int) *ATR {
	return &ATR{ema: NewEMA(period)}
}

// Add feeds a price.
func (a *ATR) Add(price float64) {
	if a.seen {
		a.ema.Add(math.Abs(price - a.last))
	}
	a.last = price
	a.seen = true
}

// Value returns the smoothed range.
func (a *ATR) Value() float64 { return a.ema.Value() }

// Tracker bundles the per-symbol calculators behind one Add/Snapshot
// pair, producing the indicator columns the window builder reads.
type Tracker struct {
	mu sync.Mutex

	rsi        *RSI
	ema8       *EMA
	ema21      *EMA
	macdFast   *EMA
	macdSlow   *EMA
	macdSignal *EMA
	bb         *Bollinger
	atr        *ATR
	vwap       *VWAP
}

// NewTracker creates a tracker with the standard periods: RSI 14,
// EMAs 8/21, MACD 12/26/9, Bollinger 20 at 2 sigma, ATR 14 and a
// 60-second VWAP.
func NewTracker() *Tracker {
	return &Tracker{
		rsi:        NewRSI(14),
		ema8:       NewEMA(8),
		ema21:      NewEMA(21),
		macdFast:   NewEMA(12),
		macdSlow:   NewEMA(26),
		macdSignal: NewEMA(9),
		bb:         NewBollinger(20, 2),
		atr:        NewATR(14),
		vwap:       NewVWAP(60*time.Second, 4096),
	}
}

// Add feeds one trade into every calculator.
func (t *Tracker) Add(price, volume float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rsi.Add(price)
	t.ema8.Add(price)
	t.ema21.Add(price)
	macd := t.macdFast.Add(price) - t.macdSlow.Add(price)
	t.macdSignal.Add(macd)
	t.bb.Add(price)
	t.atr.Add(price)
	t.vwap.Add(price, volume)
}

// Snapshot returns the current indicator columns keyed by the names the
// window builder expects.
func (t *Tracker) Snapshot() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	macd := t.macdFast.Value() - t.macdSlow.Value()
	signal := t.macdSignal.Value()
	up, low := t.bb.Bands()

	return map[string]float64{
		"rsi_14":      t.rsi.Value(),
		"ema_8":       t.ema8.Value(),
		"ema_21":      t.ema21.Value(),
		"macd":        macd,
		"macd_signal": signal,
		"macd_hist":   macd - signal,
		"bb_up":       up,
		"bb_low":      low,
		"atr_14":      t.atr.Value(),
		"vwap_60":     t.vwap.Value(),
	}
}
