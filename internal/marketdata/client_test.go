package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", "test-secret", zerolog.Nop())
}

func TestSnapshotParsesProviderPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/stocks/SOFI/snapshot", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("APCA-API-KEY-ID"))
		w.Write([]byte(`{
			"symbol": "SOFI",
			"latestTrade": {"p": 7.25, "t": "2025-06-16T14:30:00Z"},
			"latestQuote": {"bp": 7.24, "ap": 7.26},
			"dailyBar": {"o": 6.9, "h": 7.3, "l": 6.85, "c": 7.25, "v": 1500000},
			"prevDailyBar": {"c": 7.0}
		}`))
	})

	q, err := c.Snapshot(context.Background(), "SOFI")
	require.NoError(t, err)
	assert.Equal(t, "SOFI", q.Symbol)
	assert.Equal(t, 7.25, q.Price)
	assert.Equal(t, 7.24, q.Bid)
	assert.Equal(t, 7.0, q.PrevClose)
	assert.Equal(t, 1500000.0, q.SessionVolume)
	assert.InDelta(t, 3.57, q.DayChangePercent, 0.01)
	assert.Equal(t, time.Date(2025, 6, 16, 14, 30, 0, 0, time.UTC), q.AsOf.UTC())
}

func TestSnapshotEmptyTradeIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"XXXX"}`))
	})
	_, err := c.Snapshot(context.Background(), "XXXX")
	assert.True(t, errors.Is(err, ErrDataUnavailable))
}

func TestStatusCodesMapToErrorTaxonomy(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusNotFound, ErrDataUnavailable},
		{http.StatusInternalServerError, ErrDataUnavailable},
		{http.StatusForbidden, ErrDataUnavailable},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := c.Snapshot(context.Background(), "SOFI")
		assert.True(t, errors.Is(err, tc.want), "status %d should map to %v, got %v", tc.status, tc.want, err)
	}
}

func TestRateLimitResponseOpensCooldown(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Snapshot(context.Background(), "SOFI")
	require.True(t, errors.Is(err, ErrRateLimited))
	assert.True(t, c.Limiter().InCooldown(), "429 with Retry-After must open the cooldown")

	// While in cooldown every call is shed locally.
	_, err = c.Snapshot(context.Background(), "PLUG")
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func TestBarsReturnsOldestFirstAndTrimsToLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/stocks/PLUG/bars", r.URL.Path)
		assert.Equal(t, "5Min", r.URL.Query().Get("timeframe"))
		w.Write([]byte(`{"bars":[
			{"t":"2025-06-16T14:00:00Z","o":2.0,"h":2.1,"l":1.95,"c":2.05,"v":10000,"n":55,"vw":2.02},
			{"t":"2025-06-16T14:05:00Z","o":2.05,"h":2.12,"l":2.0,"c":2.1,"v":12000,"n":61,"vw":2.07},
			{"t":"2025-06-16T14:10:00Z","o":2.1,"h":2.2,"l":2.08,"c":2.18,"v":15000,"n":70,"vw":2.15}
		],"symbol":"PLUG","next_page_token":null}`))
	})

	bars, err := c.Bars(context.Background(), "PLUG", Interval5Min, 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Time.Before(bars[1].Time))
	assert.Equal(t, 2.18, bars[1].Close)
	assert.Equal(t, 2.15, bars[1].VWAP)
}

func TestMoversParsesBothSides(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("top"))
		w.Write([]byte(`{
			"gainers":[{"symbol":"GSAT","price":1.61,"change":0.21,"percent_change":15.0}],
			"losers":[{"symbol":"LUMN","price":4.10,"change":-0.50,"percent_change":-10.9}]
		}`))
	})

	gainers, losers, err := c.Movers(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, gainers, 1)
	require.Len(t, losers, 1)
	assert.Equal(t, "GSAT", gainers[0].Symbol)
	assert.Equal(t, 15.0, gainers[0].ChangePercent)
	assert.Equal(t, "LUMN", losers[0].Symbol)
}

func TestSectorLookup(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"SOFI","sector":"Financial Services","industry":"Credit Services"}`))
	})
	s, err := c.Sector(context.Background(), "SOFI")
	require.NoError(t, err)
	assert.Equal(t, "Financial Services", s)
}

func TestTimeoutMapsToErrTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{}`))
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Snapshot(ctx, "SOFI")
	assert.True(t, errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded),
		"deadline overrun should surface as timeout, got %v", err)
}
