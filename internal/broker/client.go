package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	liveTradingURL  = "https://api.alpaca.markets"
	paperTradingURL = "https://paper-api.alpaca.markets"

	callTimeout = 10 * time.Second
)

// Client talks to the brokerage REST API. Paper trading swaps the base
// URL; request and response shapes are identical.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a broker client. paper selects the paper-trading
// endpoint. baseURL overrides both when non-empty (tests, proxies).
func NewClient(apiKey, apiSecret string, paper bool, baseURL string, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = liveTradingURL
		if paper {
			baseURL = paperTradingURL
		}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: callTimeout + 5*time.Second},
		log:        logger,
	}
}

// Account returns the account snapshot.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.do(ctx, http.MethodGet, "/v2/account", nil, &acct); err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	return &acct, nil
}

// Positions lists open positions.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var positions []Position
	if err := c.do(ctx, http.MethodGet, "/v2/positions", nil, &positions); err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	return positions, nil
}

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}

// PlaceBuy submits a day-limit buy. On an ambiguous transport failure
// the order may or may not have reached the broker, so the idempotency
// key is queried before reporting the error; a found order is returned
// as success.
func (c *Client) PlaceBuy(ctx context.Context, symbol string, shares, limitPrice float64, idemKey string) (*Order, error) {
	req := orderRequest{
		Symbol:        symbol,
		Qty:           formatQty(shares),
		Side:          "buy",
		Type:          "limit",
		TimeInForce:   "day",
		LimitPrice:    strconv.FormatFloat(limitPrice, 'f', 2, 64),
		ClientOrderID: idemKey,
	}
	return c.submitOrder(ctx, req)
}

// PlaceSell submits a market sell for the full share count.
func (c *Client) PlaceSell(ctx context.Context, symbol string, shares float64, idemKey string) (*Order, error) {
	req := orderRequest{
		Symbol:        symbol,
		Qty:           formatQty(shares),
		Side:          "sell",
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: idemKey,
	}
	return c.submitOrder(ctx, req)
}

func (c *Client) submitOrder(ctx context.Context, req orderRequest) (*Order, error) {
	var order Order
	err := c.do(ctx, http.MethodPost, "/v2/orders", req, &order)
	if err == nil {
		return &order, nil
	}

	// A duplicate client_order_id means an earlier attempt already
	// landed; resolve to that order instead of failing.
	if errors.Is(err, ErrRejected) && strings.Contains(err.Error(), "client_order_id") {
		if existing, lookupErr := c.Order(ctx, req.ClientOrderID); lookupErr == nil {
			return existing, nil
		}
	}

	// Ambiguous transport failure: the request may have been applied.
	if errors.Is(err, ErrTransient) {
		if existing, lookupErr := c.Order(ctx, req.ClientOrderID); lookupErr == nil {
			c.log.Warn().Str("client_order_id", req.ClientOrderID).
				Msg("order submit timed out but order exists at broker")
			return existing, nil
		}
	}

	return nil, fmt.Errorf("place %s %s: %w", req.Side, req.Symbol, err)
}

// Order looks an order up by its idempotency key.
func (c *Client) Order(ctx context.Context, idemKey string) (*Order, error) {
	params := url.Values{}
	params.Set("client_order_id", idemKey)

	var order Order
	err := c.do(ctx, http.MethodGet, "/v2/orders:by_client_order_id?"+params.Encode(), nil, &order)
	if err != nil {
		if strings.Contains(err.Error(), "404") {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("order %s: %w", idemKey, err)
	}
	return &order, nil
}

// Orders lists orders filtered by status, newest first.
func (c *Client) Orders(ctx context.Context, status string, limit int) ([]Order, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	params.Set("direction", "desc")

	var orders []Order
	if err := c.do(ctx, http.MethodGet, "/v2/orders?"+params.Encode(), nil, &orders); err != nil {
		return nil, fmt.Errorf("orders: %w", err)
	}
	return orders, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: deadline exceeded", ErrTransient)
		}
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	return c.mapError(resp.StatusCode, respBody)
}

// mapError translates broker error responses into the error taxonomy.
func (c *Client) mapError(status int, body []byte) error {
	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)
	msg := strings.ToLower(payload.Message)

	switch {
	case status == http.StatusForbidden && strings.Contains(msg, "buying power"):
		return fmt.Errorf("%w: %s", ErrInsufficientBuyingPower, payload.Message)
	case strings.Contains(msg, "market") && strings.Contains(msg, "closed"):
		return fmt.Errorf("%w: %s", ErrMarketClosed, payload.Message)
	case status == http.StatusUnprocessableEntity || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, status, payload.Message)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrTransient, status, payload.Message)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, status, payload.Message)
	}
}

func formatQty(shares float64) string {
	// Whole shares; the sizing layer never produces fractional counts.
	return strconv.FormatFloat(shares, 'f', 0, 64)
}
