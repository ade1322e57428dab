package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// REST fetches historical trades for window backfill on startup.
type REST struct {
	client  *resty.Client
	baseURL string
}

// NewREST creates a REST backfill client against the given base URL.
func NewREST(baseURL string, timeout time.Duration) *REST {
	c := resty.New().
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond)
	return &REST{client: c, baseURL: baseURL}
}

type tradesResponse struct {
	Code int    `json:"code"`
	Data []Tick `json:"data"`
}

// RecentTrades returns up to limit most recent trades for a symbol,
// oldest first.
func (r *REST) RecentTrades(ctx context.Context, symbol string, limit int) ([]Tick, error) {
	var out tradesResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"limit":  fmt.Sprintf("%d", limit),
		}).
		SetResult(&out).
		Get(r.baseURL + "/api/v1/market/trades")
	if err != nil {
		return nil, fmt.Errorf("trades request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("trades request returned status %d", resp.StatusCode())
	}
	if out.Code != 0 {
		return nil, fmt.Errorf("trades request returned code %d", out.Code)
	}

	trades := out.Data
	for i, t := range trades {
		if t.Symbol == "" {
			trades[i].Symbol = symbol
		}
	}
	// Upstream returns newest first.
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	return trades, nil
}
