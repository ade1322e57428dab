// Package feed ingests market data into the tick store so prediction
// windows stay fresh: a websocket stream for live ticks and a REST
// client for history backfill. Both are optional at runtime; a
// deployment fed purely by CSV import runs without either.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Tick is one trade message from the upstream feed.
type Tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price,string"`
	Volume float64 `json:"volume,string"`
	TsMs   int64   `json:"ts"`
}

// Time converts the feed's millisecond timestamp.
func (t Tick) Time() time.Time { return time.UnixMilli(t.TsMs) }

// MetricsInterface defines the metrics methods the feed reports to.
type MetricsInterface interface {
	TicksReceivedInc()
	TicksStoredInc()
	WSReconnectsInc()
	ErrorsInc()
}

// WS streams live ticks from the upstream websocket endpoint.
type WS struct {
	url     string
	metrics MetricsInterface
}

// NewWS creates a websocket feed for the given endpoint.
func NewWS(url string, metrics MetricsInterface) *WS {
	return &WS{url: url, metrics: metrics}
}

// Stream subscribes to the symbols' trade channels and forwards ticks
// until the context is cancelled, reconnecting with exponential backoff.
func (w *WS) Stream(ctx context.Context, symbols []string, ticks chan<- Tick, ping time.Duration) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := w.streamOnce(ctx, symbols, ticks, ping); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Dur("backoff", backoff).Msg("websocket connection failed, reconnecting")
			if w.metrics != nil {
				w.metrics.WSReconnectsInc()
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}

			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (w *WS) streamOnce(ctx context.Context, symbols []string, ticks chan<- Tick, ping time.Duration) error {
	log.Info().Str("url", w.url).Int("symbols_count", len(symbols)).Msg("establishing websocket connection")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(512 * 1024)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	var args []map[string]string
	for _, s := range symbols {
		args = append(args, map[string]string{"symbol": s, "ch": "trade"})
	}
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	pingTicker := time.NewTicker(ping)
	defer pingTicker.Stop()

	// The read loop owns the connection; pings ride on the same goroutine
	// via the ticker to keep the writer single-threaded.
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
		default:
			conn.SetReadDeadline(time.Now().Add(30 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("read failed: %w", err)
			}

			tick, ok := parseTick(msg)
			if !ok {
				continue
			}
			if w.metrics != nil {
				w.metrics.TicksReceivedInc()
			}
			select {
			case ticks <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

type wsEnvelope struct {
	Ch   string          `json:"ch"`
	Data json.RawMessage `json:"data"`
}

func parseTick(msg []byte) (Tick, bool) {
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil || env.Ch != "trade" {
		return Tick{}, false
	}
	var tick Tick
	if err := json.Unmarshal(env.Data, &tick); err != nil {
		log.Debug().Err(err).Msg("skipping unparseable trade message")
		return Tick{}, false
	}
	if tick.Symbol == "" || tick.Price <= 0 {
		return Tick{}, false
	}
	return tick, true
}
