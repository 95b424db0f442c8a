package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trading-bot/internal/auth"
	"intraday-trading-bot/internal/clock"
	"intraday-trading-bot/internal/events"
	"intraday-trading-bot/internal/journal"
	"intraday-trading-bot/internal/risk"
	"intraday-trading-bot/internal/scheduler"
	"intraday-trading-bot/internal/screener"
)

type fakeController struct {
	mu       sync.Mutex
	commands []scheduler.Command
	paused   bool
}

func (f *fakeController) Control(cmd scheduler.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
}

func (f *fakeController) Paused() bool { return f.paused }

type fakeStore struct {
	positions []*journal.PositionRecord
}

func (f *fakeStore) OpenPositions(context.Context) ([]*journal.PositionRecord, error) {
	return f.positions, nil
}

func (f *fakeStore) RecentHealth(context.Context, int) ([]*journal.HealthRecord, error) {
	return nil, nil
}

type fakeWatchlist struct{ result *screener.Result }

func (f *fakeWatchlist) Current() *screener.Result { return f.result }

type fakeGuard struct{ snap risk.Snapshot }

func (f *fakeGuard) State() risk.Snapshot { return f.snap }

func testServer(t *testing.T) (*Server, *fakeController) {
	t.Helper()
	hash, err := auth.HashPassword("operator-pass-1!")
	require.NoError(t, err)

	mc, err := clock.New("", "")
	require.NoError(t, err)

	ctrl := &fakeController{}
	srv := NewServer(
		Config{ProductionMode: true, JWTSecret: "test-secret"},
		auth.Credentials{Username: "operator", PasswordHash: hash},
		ctrl,
		&fakeStore{},
		&fakeWatchlist{result: &screener.Result{
			Entries: []screener.Entry{{Symbol: "PLUG"}, {Symbol: "FCEL"}},
			At:      time.Now(),
		}},
		&fakeGuard{snap: risk.Snapshot{SessionDate: "2025-06-16", MaxDailyTrades: 10}},
		events.NewEventBus(),
		mc,
		zerolog.Nop(),
	)
	return srv, ctrl
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, srv *Server) string {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/login", "",
		map[string]string{"username": "operator", "password": "operator-pass-1!"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Bearer", resp.TokenType)
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func TestHealthzIsPublic(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/login", "",
		map[string]string{"username": "operator", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRateLimited(t *testing.T) {
	srv, _ := testServer(t)
	body := map[string]string{"username": "operator", "password": "wrong"}

	for i := 0; i < 5; i++ {
		rec := doJSON(t, srv, http.MethodPost, "/api/login", "", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := doJSON(t, srv, http.MethodPost, "/api/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestStatusRequiresToken(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/status", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusSnapshot(t *testing.T) {
	srv, _ := testServer(t)
	token := login(t, srv)

	rec := doJSON(t, srv, http.MethodGet, "/api/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))

	assert.Contains(t, status, "session")
	assert.Contains(t, status, "guard")
	assert.Contains(t, status, "open_positions")
	assert.Equal(t, false, status["paused"])

	wl, ok := status["watchlist"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, wl["symbols"], 2)
}

func TestControlCommands(t *testing.T) {
	srv, ctrl := testServer(t)
	token := login(t, srv)

	paths := map[string]scheduler.Command{
		"/api/control/pause":        scheduler.CmdPause,
		"/api/control/resume":       scheduler.CmdResume,
		"/api/control/force-screen": scheduler.CmdForceScreen,
		"/api/control/shutdown":     scheduler.CmdShutdown,
	}
	for path := range paths {
		rec := doJSON(t, srv, http.MethodPost, path, token, nil)
		assert.Equal(t, http.StatusAccepted, rec.Code, path)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	assert.Len(t, ctrl.commands, 4)
	seen := make(map[scheduler.Command]bool)
	for _, cmd := range ctrl.commands {
		seen[cmd] = true
	}
	for _, want := range paths {
		assert.True(t, seen[want], string(want))
	}
}

func TestControlRejectedWithoutToken(t *testing.T) {
	srv, ctrl := testServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/control/shutdown", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	assert.Empty(t, ctrl.commands)
}
