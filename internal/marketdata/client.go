package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultCallTimeout = 5 * time.Second
	bulkCallTimeout    = 30 * time.Second
)

// Client talks to the equities data provider over REST.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	limiter    *RateLimiter
	log        zerolog.Logger
}

// NewClient creates a REST market data client.
func NewClient(baseURL, apiKey, apiSecret string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: bulkCallTimeout + 5*time.Second},
		limiter:    NewRateLimiter(),
		log:        logger,
	}
}

// Limiter exposes the request limiter for status reporting.
func (c *Client) Limiter() *RateLimiter { return c.limiter }

// Snapshot returns the latest quote for a symbol.
func (c *Client) Snapshot(ctx context.Context, symbol string) (*Quote, error) {
	var resp struct {
		Symbol      string `json:"symbol"`
		LatestTrade struct {
			Price float64   `json:"p"`
			Time  time.Time `json:"t"`
		} `json:"latestTrade"`
		LatestQuote struct {
			Bid float64 `json:"bp"`
			Ask float64 `json:"ap"`
		} `json:"latestQuote"`
		DailyBar     barPayload `json:"dailyBar"`
		PrevDailyBar barPayload `json:"prevDailyBar"`
	}
	path := "/v2/stocks/" + url.PathEscape(symbol) + "/snapshot"
	if err := c.get(ctx, path, nil, defaultCallTimeout, PriorityHigh, &resp); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", symbol, err)
	}
	if resp.LatestTrade.Price <= 0 {
		return nil, fmt.Errorf("snapshot %s: empty trade: %w", symbol, ErrDataUnavailable)
	}

	q := &Quote{
		Symbol:        symbol,
		Price:         resp.LatestTrade.Price,
		Bid:           resp.LatestQuote.Bid,
		Ask:           resp.LatestQuote.Ask,
		PrevClose:     resp.PrevDailyBar.Close,
		SessionVolume: resp.DailyBar.Volume,
		AsOf:          resp.LatestTrade.Time,
	}
	if q.PrevClose > 0 {
		q.DayChangePercent = (q.Price - q.PrevClose) / q.PrevClose * 100
	}
	return q, nil
}

// Bars returns the most recent bars for a symbol, oldest first.
func (c *Client) Bars(ctx context.Context, symbol string, interval Interval, limit int) ([]Bar, error) {
	// Look back far enough to cover closed sessions and weekends.
	lookback := interval.Duration() * time.Duration(limit) * 3
	if lookback < 72*time.Hour {
		lookback = 72 * time.Hour
	}
	end := time.Now()
	bars, err := c.fetchBars(ctx, symbol, interval, end.Add(-lookback), end, limit)
	if err != nil {
		return nil, err
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

// BarsRange returns bars between start and end, oldest first.
func (c *Client) BarsRange(ctx context.Context, symbol string, interval Interval, start, end time.Time) ([]Bar, error) {
	return c.fetchBars(ctx, symbol, interval, start, end, 10000)
}

func (c *Client) fetchBars(ctx context.Context, symbol string, interval Interval, start, end time.Time, limit int) ([]Bar, error) {
	params := url.Values{}
	params.Set("timeframe", string(interval))
	params.Set("start", start.UTC().Format(time.RFC3339))
	params.Set("end", end.UTC().Format(time.RFC3339))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("adjustment", "split")

	var resp struct {
		Bars          []barPayload `json:"bars"`
		NextPageToken *string      `json:"next_page_token"`
	}
	path := "/v2/stocks/" + url.PathEscape(symbol) + "/bars"
	if err := c.get(ctx, path, params, bulkCallTimeout, PriorityNormal, &resp); err != nil {
		return nil, fmt.Errorf("bars %s %s: %w", symbol, interval, err)
	}

	bars := make([]Bar, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		bars = append(bars, b.toBar())
	}
	return bars, nil
}

// Movers returns the day's top gainers and losers.
func (c *Client) Movers(ctx context.Context, top int) ([]MoverEntry, []MoverEntry, error) {
	params := url.Values{}
	params.Set("top", strconv.Itoa(top))

	var resp struct {
		Gainers []MoverEntry `json:"gainers"`
		Losers  []MoverEntry `json:"losers"`
	}
	if err := c.get(ctx, "/v1beta1/screener/stocks/movers", params, defaultCallTimeout, PriorityNormal, &resp); err != nil {
		return nil, nil, fmt.Errorf("movers: %w", err)
	}
	return resp.Gainers, resp.Losers, nil
}

// Sector returns the sector classification for a symbol.
func (c *Client) Sector(ctx context.Context, symbol string) (string, error) {
	var resp struct {
		Symbol   string `json:"symbol"`
		Sector   string `json:"sector"`
		Industry string `json:"industry"`
	}
	path := "/v1beta1/stocks/" + url.PathEscape(symbol) + "/profile"
	if err := c.get(ctx, path, nil, defaultCallTimeout, PriorityLow, &resp); err != nil {
		return "", fmt.Errorf("sector %s: %w", symbol, err)
	}
	if resp.Sector == "" {
		return "", fmt.Errorf("sector %s: not classified: %w", symbol, ErrDataUnavailable)
	}
	return resp.Sector, nil
}

// barPayload is the wire shape of one bar.
type barPayload struct {
	Time   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
	Trades int64     `json:"n"`
	VWAP   float64   `json:"vw"`
}

func (b barPayload) toBar() Bar {
	return Bar{Time: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume, Trades: b.Trades, VWAP: b.VWAP}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, timeout time.Duration, priority RequestPriority, out interface{}) error {
	res := c.limiter.TryAcquire(priority)
	if !res.Acquired {
		c.log.Warn().Str("path", path).Str("reason", res.Reason).Dur("wait", res.WaitTime).Msg("request shed by limiter")
		return ErrRateLimited
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrDataUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		c.limiter.RecordProviderPushback(parseRetryAfter(resp.Header.Get("Retry-After")))
		return ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: status 404", ErrDataUnavailable)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrDataUnavailable, resp.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrDataUnavailable, err)
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
