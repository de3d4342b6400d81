// Package histdata fetches historical candles from a public chart API.
// It is the secondary data source used while the venue connection is in
// cooldown; results are delayed and never used for live settlement.
package histdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"options-core/pkg/cache"
	"options-core/pkg/venue"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Client is a thin REST client over the chart endpoint. Responses are
// cached briefly so sessions scanning the same instrument share one
// upstream request.
type Client struct {
	BaseURL string
	http    *http.Client
	candles *cache.ShardedCandleCache
}

// New builds a client; baseURL may be empty to use the public endpoint.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		candles: cache.NewShardedCandleCache(),
	}
}

// Candles returns up to count recent candles for the instrument at the
// given granularity. Instruments use the venue's naming; OTC suffixes are
// stripped before mapping to a chart symbol.
func (c *Client) Candles(ctx context.Context, instrument string, granularitySec, count int) ([]venue.Candle, error) {
	symbol := chartSymbol(instrument)
	interval := chartInterval(granularitySec)

	key := cache.Key(symbol, granularitySec, count)
	if cached, ok := c.candles.Get(key, cacheAge(granularitySec)); ok {
		return cached, nil
	}

	q := url.Values{}
	q.Set("interval", interval)
	q.Set("range", "1d")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.BaseURL, url.PathEscape(symbol), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "options-core/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch chart %s: %v", venue.ErrDataUnavailable, symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: chart %s: status %d: %s", venue.ErrDataUnavailable, symbol, resp.StatusCode, string(body))
	}

	var raw struct {
		Chart struct {
			Result []struct {
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []struct {
						Open   []*float64 `json:"open"`
						High   []*float64 `json:"high"`
						Low    []*float64 `json:"low"`
						Close  []*float64 `json:"close"`
						Volume []*float64 `json:"volume"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
			Error *struct {
				Description string `json:"description"`
			} `json:"error"`
		} `json:"chart"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode chart %s: %v", venue.ErrDataUnavailable, symbol, err)
	}
	if raw.Chart.Error != nil {
		return nil, fmt.Errorf("%w: chart %s: %s", venue.ErrDataUnavailable, symbol, raw.Chart.Error.Description)
	}
	if len(raw.Chart.Result) == 0 || len(raw.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: chart %s: empty result", venue.ErrDataUnavailable, symbol)
	}

	res := raw.Chart.Result[0]
	quote := res.Indicators.Quote[0]
	candles := make([]venue.Candle, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue // gaps happen on illiquid minutes
		}
		candles = append(candles, venue.Candle{
			Timestamp: ts,
			Open:      deref(quote.Open, i),
			High:      deref(quote.High, i),
			Low:       deref(quote.Low, i),
			Close:     *quote.Close[i],
			Volume:    deref(quote.Volume, i),
		})
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: chart %s: no usable candles", venue.ErrDataUnavailable, symbol)
	}
	if len(candles) > count {
		candles = candles[len(candles)-count:]
	}
	c.candles.Set(key, candles)
	return candles, nil
}

// cacheAge keeps cached batches for half a bar, floored at two seconds.
func cacheAge(granularitySec int) time.Duration {
	age := time.Duration(granularitySec) * time.Second / 2
	if age < 2*time.Second {
		age = 2 * time.Second
	}
	return age
}

func deref(xs []*float64, i int) float64 {
	if i < len(xs) && xs[i] != nil {
		return *xs[i]
	}
	return 0
}

// chartSymbol maps a venue instrument like "EURUSD-OTC" to the chart
// API's forex symbol "EURUSD=X".
func chartSymbol(instrument string) string {
	base := strings.TrimSuffix(strings.ToUpper(instrument), "-OTC")
	return base + "=X"
}

func chartInterval(granularitySec int) string {
	switch {
	case granularitySec <= 60:
		return "1m"
	case granularitySec <= 300:
		return "5m"
	case granularitySec <= 900:
		return "15m"
	case granularitySec <= 3600:
		return "1h"
	default:
		return "1d"
	}
}
