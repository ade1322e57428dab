package feed

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"hft-ensemble/internal/features"
	"hft-ensemble/internal/storage"
)

// TickStore is the subset of the storage layer the ingestor writes to.
type TickStore interface {
	StoreTick(rec storage.TickRecord) error
}

// Ingestor drains the tick channel into persistent storage, enriching
// each tick with the live indicator snapshot for its symbol.
type Ingestor struct {
	store    TickStore
	metrics  MetricsInterface
	trackers map[string]*features.Tracker
}

// NewIngestor creates an ingestor writing to the given store.
func NewIngestor(store TickStore, metrics MetricsInterface) *Ingestor {
	return &Ingestor{
		store:    store,
		metrics:  metrics,
		trackers: make(map[string]*features.Tracker),
	}
}

func (in *Ingestor) tracker(symbol string) *features.Tracker {
	t, ok := in.trackers[symbol]
	if !ok {
		t = features.NewTracker()
		in.trackers[symbol] = t
	}
	return t
}

// Run consumes ticks until the context is cancelled or the channel
// closes. Store failures are logged and counted, never fatal; a slow
// disk must not take down the feed.
func (in *Ingestor) Run(ctx context.Context, ticks <-chan Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			in.store1(tick)
		}
	}
}

func (in *Ingestor) store1(tick Tick) {
	t := in.tracker(tick.Symbol)
	t.Add(tick.Price, tick.Volume)

	rec := storage.TickRecord{
		Symbol:     tick.Symbol,
		Timestamp:  tick.Time(),
		Price:      tick.Price,
		Volume:     tick.Volume,
		Indicators: t.Snapshot(),
	}
	if tick.TsMs <= 0 {
		rec.Timestamp = time.Now().UTC()
	}
	if err := in.store.StoreTick(rec); err != nil {
		log.Error().Err(err).Str("symbol", tick.Symbol).Msg("failed to store tick")
		if in.metrics != nil {
			in.metrics.ErrorsInc()
		}
		return
	}
	if in.metrics != nil {
		in.metrics.TicksStoredInc()
	}
}

// Backfill fetches recent history for each symbol over REST and stores
// it, so prediction windows can fill before the live stream catches up.
func Backfill(ctx context.Context, rest *REST, store TickStore, symbols []string, points int) {
	for _, symbol := range symbols {
		trades, err := rest.RecentTrades(ctx, symbol, points)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("backfill fetch failed")
			continue
		}
		stored := 0
		for _, t := range trades {
			rec := storage.TickRecord{
				Symbol:    t.Symbol,
				Timestamp: t.Time(),
				Price:     t.Price,
				Volume:    t.Volume,
			}
			if err := store.StoreTick(rec); err != nil {
				log.Error().Err(err).Str("symbol", symbol).Msg("backfill store failed")
				continue
			}
			stored++
		}
		log.Info().Str("symbol", symbol).Int("stored", stored).Msg("backfill complete")
	}
}
