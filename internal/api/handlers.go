package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"intraday-trading-bot/internal/scheduler"
)

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	if !s.limiter.allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	if !s.creds.Check(req.Username, req.Password) {
		s.log.Warn().Str("username", req.Username).Str("ip", c.ClientIP()).Msg("failed login attempt")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.tokens.Generate(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   s.tokens.TTL(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	now := s.clk.Now()

	status := gin.H{
		"time":           now,
		"session":        s.clk.Session(now),
		"session_date":   s.clk.SessionDate(now),
		"paused":         s.controller.Paused(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"guard":          s.guard.State(),
	}

	if positions, err := s.store.OpenPositions(ctx); err == nil {
		status["open_positions"] = positions
	} else {
		s.log.Warn().Err(err).Msg("status: failed to read open positions")
		status["open_positions"] = []struct{}{}
	}

	if wl := s.watchlist.Current(); wl != nil {
		symbols := make([]string, 0, len(wl.Entries))
		for _, e := range wl.Entries {
			symbols = append(symbols, e.Symbol)
		}
		status["watchlist"] = gin.H{
			"symbols":  symbols,
			"degraded": wl.Degraded,
			"at":       wl.At,
		}
	}

	if health, err := s.store.RecentHealth(ctx, 10); err == nil {
		status["recent_health"] = health
	}

	status["recent_events"] = s.bus.Recent(20)

	c.JSON(http.StatusOK, status)
}

func (s *Server) handleControl(cmd scheduler.Command) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.log.Info().Str("command", string(cmd)).Str("ip", c.ClientIP()).Msg("control request")
		s.controller.Control(cmd)
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "command": cmd})
	}
}
