package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("key", "secret", true, srv.URL, zerolog.Nop())
}

func TestAccountParsesStringNumbers(t *testing.T) {
	c := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account", r.URL.Path)
		w.Write([]byte(`{"cash":"25000.50","buying_power":"50001","equity":"25600.25","daytrade_count":2,"pattern_day_trader":false,"status":"ACTIVE"}`))
	}))

	acct, err := c.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25000.50, acct.Cash)
	assert.Equal(t, 50001.0, acct.BuyingPower)
	assert.Equal(t, 2, acct.DayTradeCount)
}

func TestPlaceBuySubmitsDayLimitOrder(t *testing.T) {
	c := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v2/orders", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "SOFI", req["symbol"])
		assert.Equal(t, "150", req["qty"])
		assert.Equal(t, "buy", req["side"])
		assert.Equal(t, "limit", req["type"])
		assert.Equal(t, "day", req["time_in_force"])
		assert.Equal(t, "7.25", req["limit_price"])
		assert.Equal(t, "PAP-16JUN-00001-E", req["client_order_id"])

		w.Write([]byte(`{"id":"b1","client_order_id":"PAP-16JUN-00001-E","symbol":"SOFI","side":"buy","type":"limit","qty":"150","limit_price":"7.25","filled_qty":"0","status":"accepted","submitted_at":"2025-06-16T14:31:00Z"}`))
	}))

	order, err := c.PlaceBuy(context.Background(), "SOFI", 150, 7.25, "PAP-16JUN-00001-E")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusAccepted, order.Status)
	assert.False(t, order.IsTerminal())
}

func TestBrokerErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"buying power", http.StatusForbidden, `{"code":40310000,"message":"insufficient buying power"}`, ErrInsufficientBuyingPower},
		{"market closed", http.StatusForbidden, `{"code":40410000,"message":"market is closed"}`, ErrMarketClosed},
		{"unprocessable", http.StatusUnprocessableEntity, `{"message":"invalid qty"}`, ErrRejected},
		{"rate limited", http.StatusTooManyRequests, `{"message":"too many requests"}`, ErrTransient},
		{"server error", http.StatusBadGateway, ``, ErrTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v2/orders" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))

			_, err := c.PlaceBuy(context.Background(), "SOFI", 10, 7.0, "PAP-16JUN-00009-E")
			assert.True(t, errors.Is(err, tc.want), "got %v, want %v", err, tc.want)
		})
	}
}

func TestTimedOutSubmitResolvesViaIdempotencyKey(t *testing.T) {
	// POST fails at the transport level; the follow-up lookup finds the
	// order, so the caller sees success and no duplicate is created.
	c := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusServiceUnavailable)
		case r.URL.Path == "/v2/orders:by_client_order_id":
			assert.Equal(t, "PAP-16JUN-00007-E", r.URL.Query().Get("client_order_id"))
			w.Write([]byte(`{"id":"b7","client_order_id":"PAP-16JUN-00007-E","symbol":"SOFI","side":"buy","type":"limit","qty":"10","filled_qty":"10","filled_avg_price":"7.20","status":"filled","submitted_at":"2025-06-16T14:31:00Z"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	order, err := c.PlaceBuy(context.Background(), "SOFI", 10, 7.20, "PAP-16JUN-00007-E")
	require.NoError(t, err)
	assert.True(t, order.IsFilled())
	assert.Equal(t, "b7", order.ID)
}

func TestOrderLookupNotFound(t *testing.T) {
	c := newTestBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"order not found"}`))
	}))

	_, err := c.Order(context.Background(), "PAP-16JUN-00099-E")
	assert.True(t, errors.Is(err, ErrOrderNotFound))
}

func TestMockClientIdempotency(t *testing.T) {
	m := NewMockClient(10_000)

	o1, err := m.PlaceBuy(context.Background(), "SOFI", 100, 7.0, "PAP-16JUN-00001-E")
	require.NoError(t, err)
	o2, err := m.PlaceBuy(context.Background(), "SOFI", 100, 7.0, "PAP-16JUN-00001-E")
	require.NoError(t, err)
	assert.Equal(t, o1.ID, o2.ID, "same idempotency key must return the same order")

	acct, err := m.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10_000.0-700.0, acct.Cash, "cash deducted once")

	positions, err := m.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 100.0, positions[0].Qty)
}

func TestMockClientSellAtLastPrice(t *testing.T) {
	m := NewMockClient(10_000)
	_, err := m.PlaceBuy(context.Background(), "PLUG", 200, 2.0, "PAP-16JUN-00001-E")
	require.NoError(t, err)

	m.SetPrice("PLUG", 2.20)
	order, err := m.PlaceSell(context.Background(), "PLUG", 200, "PAP-16JUN-00002-X")
	require.NoError(t, err)
	assert.Equal(t, 2.20, order.FilledAvgPrice)

	acct, _ := m.Account(context.Background())
	assert.InDelta(t, 10_000-400+440, acct.Cash, 0.001)

	positions, _ := m.Positions(context.Background())
	assert.Empty(t, positions)
}
