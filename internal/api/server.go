// Package api exposes the operator surface over HTTP: a login endpoint,
// a status snapshot, and the four control commands the scheduler drains at
// tick boundaries. Everything except login and liveness sits behind the
// bearer-token middleware.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"intraday-trading-bot/internal/auth"
	"intraday-trading-bot/internal/clock"
	"intraday-trading-bot/internal/events"
	"intraday-trading-bot/internal/journal"
	"intraday-trading-bot/internal/risk"
	"intraday-trading-bot/internal/scheduler"
	"intraday-trading-bot/internal/screener"
)

// Config holds server configuration.
type Config struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ProductionMode bool     `json:"production_mode"`
	AllowedOrigins []string `json:"allowed_origins"`
	JWTSecret      string   `json:"jwt_secret"`
}

func (c *Config) normalize() {
	if c.Port <= 0 {
		c.Port = 8090
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"http://localhost:5173"}
	}
}

// Controller is the slice of the scheduler the API drives.
type Controller interface {
	Control(cmd scheduler.Command)
	Paused() bool
}

// Store is the slice of the journal the status endpoint reads.
type Store interface {
	OpenPositions(ctx context.Context) ([]*journal.PositionRecord, error)
	RecentHealth(ctx context.Context, limit int) ([]*journal.HealthRecord, error)
}

// Watchlister exposes the most recent screening result.
type Watchlister interface {
	Current() *screener.Result
}

// GuardState exposes the daily guard counters.
type GuardState interface {
	State() risk.Snapshot
}

// loginLimiter is a fixed-window per-address limiter protecting the login
// endpoint against brute force.
type loginLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func newLoginLimiter(limit int, window time.Duration) *loginLimiter {
	return &loginLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

func (l *loginLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	var recent []time.Time
	for _, t := range l.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.limit {
		l.requests[key] = recent
		return false
	}
	l.requests[key] = append(recent, time.Now())
	return true
}

// Server is the operator HTTP API.
type Server struct {
	cfg        Config
	router     *gin.Engine
	httpServer *http.Server

	creds      auth.Credentials
	tokens     *auth.Manager
	controller Controller
	store      Store
	watchlist  Watchlister
	guard      GuardState
	bus        *events.EventBus
	clk        *clock.MarketClock
	limiter    *loginLimiter
	startedAt  time.Time
	log        zerolog.Logger
}

// NewServer creates the API server and wires its routes.
func NewServer(
	cfg Config,
	creds auth.Credentials,
	controller Controller,
	store Store,
	watchlist Watchlister,
	guard GuardState,
	bus *events.EventBus,
	clk *clock.MarketClock,
	logger zerolog.Logger,
) *Server {
	cfg.normalize()
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:        cfg,
		router:     router,
		creds:      creds,
		tokens:     auth.NewManager(cfg.JWTSecret, 0),
		controller: controller,
		store:      store,
		watchlist:  watchlist,
		guard:      guard,
		bus:        bus,
		clk:        clk,
		limiter:    newLoginLimiter(5, time.Minute),
		startedAt:  time.Now(),
		log:        logger.With().Str("component", "api").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.handleHealthz)
	s.router.POST("/api/login", s.handleLogin)

	protected := s.router.Group("/api", auth.Middleware(s.tokens))
	protected.GET("/status", s.handleStatus)
	protected.POST("/control/pause", s.handleControl(scheduler.CmdPause))
	protected.POST("/control/resume", s.handleControl(scheduler.CmdResume))
	protected.POST("/control/force-screen", s.handleControl(scheduler.CmdForceScreen))
	protected.POST("/control/shutdown", s.handleControl(scheduler.CmdShutdown))
}

// Start begins serving in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("api server starting")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("api server failed")
		}
	}()
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
