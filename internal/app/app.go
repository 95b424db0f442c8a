// Package app assembles the bot: one constructor builds every component
// from config, Run drives the scheduler until the context is canceled,
// and shutdown drains in the reverse order of construction.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"intraday-trading-bot/config"
	"intraday-trading-bot/internal/api"
	"intraday-trading-bot/internal/auth"
	"intraday-trading-bot/internal/broker"
	"intraday-trading-bot/internal/cache"
	"intraday-trading-bot/internal/clock"
	"intraday-trading-bot/internal/confirm"
	"intraday-trading-bot/internal/events"
	"intraday-trading-bot/internal/indicators"
	"intraday-trading-bot/internal/journal"
	"intraday-trading-bot/internal/learning"
	"intraday-trading-bot/internal/marketdata"
	"intraday-trading-bot/internal/monitor"
	"intraday-trading-bot/internal/notify"
	"intraday-trading-bot/internal/recommend"
	"intraday-trading-bot/internal/risk"
	"intraday-trading-bot/internal/scheduler"
	"intraday-trading-bot/internal/screener"
	"intraday-trading-bot/internal/sentiment"
	"intraday-trading-bot/internal/vault"
)

// journalRetention is how far back the weekly prune keeps rows.
const journalRetention = 90 * 24 * time.Hour

// mockStartingCash seeds the mock broker in dry-run mode.
const mockStartingCash = 25_000

// App is the assembled bot.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	clk      *clock.MarketClock
	db       *journal.DB
	repo     *journal.Repository
	cacheSvc *cache.CacheService
	bus      *events.EventBus

	data     *marketdata.CachedClient
	stream   *marketdata.StreamClient
	brokerCl broker.BrokerClient
	notifier *notify.Manager

	guard       *risk.DailyGuard
	holder      *learning.Holder
	screener    *screener.Screener
	recommender *recommend.Recommender
	confirmer   *confirm.Confirmer
	monitor     *monitor.Monitor
	learner     *learning.Engine
	sched       *scheduler.Scheduler
	server      *api.Server
}

// New builds the full application. It connects to the journal and, when
// enabled, Redis and Vault; everything else is wiring.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	clk, err := clock.New(cfg.Trading.StartTime, cfg.Trading.EndTime)
	if err != nil {
		return nil, fmt.Errorf("invalid trading window: %w", err)
	}

	db, err := journal.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("journal connection failed: %w", err)
	}
	repo := journal.NewRepository(db)

	cacheSvc, err := cache.New(cfg.Redis, logger)
	if err != nil {
		// The cache is an optimization, not a dependency.
		logger.Warn().Err(err).Msg("redis unavailable, running without cache")
		cacheSvc = nil
	}

	bus := events.NewEventBus()

	data, stream := buildMarketData(cfg, clk, logger)
	brokerCl, tradeMode, err := buildBroker(ctx, cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	notifier := buildNotifier(cfg, clk, logger)
	guard := risk.NewDailyGuard(cfg.Risk, logger)

	weights, err := learning.LoadWeights(ctx, repo, cfg.Learning.InitialWeights())
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load weight snapshot, using configured initial weights")
		weights = cfg.Learning.InitialWeights()
	}
	holder := learning.NewHolder(weights)

	engine := indicators.NewEngine(cfg.Indicators, logger)
	agg := sentiment.NewAggregator(cfg.Sentiment, buildSources(cfg), clk, logger)

	scr := screener.New(cfg.Screener, data, repo, clk, logger)
	rec := recommend.New(cfg.Recommend, data, engine, agg, holder, guard, brokerCl, repo, clk, logger)

	ids := broker.NewOrderIDGenerator(cacheSvc, tradeMode, clk.Location(), logger)
	conf := confirm.New(cfg.Confirm, brokerCl, ids, repo, notifier, guard, cacheSvc, clk, logger)
	mon := monitor.New(cfg.Monitor, data, brokerCl, ids, repo, notifier, guard, cacheSvc, clk, logger)
	learner := learning.NewEngine(cfg.Learning, repo, holder, clk, logger)

	a := &App{
		cfg:         cfg,
		log:         logger.With().Str("component", "app").Logger(),
		clk:         clk,
		db:          db,
		repo:        repo,
		cacheSvc:    cacheSvc,
		bus:         bus,
		data:        data,
		stream:      stream,
		brokerCl:    brokerCl,
		notifier:    notifier,
		guard:       guard,
		holder:      holder,
		screener:    scr,
		recommender: rec,
		confirmer:   conf,
		monitor:     mon,
		learner:     learner,
	}

	a.sched = scheduler.New(cfg.Scheduler, a.tasks(), clk, repo, bus, logger)
	a.server = api.NewServer(
		cfg.Server,
		auth.Credentials{Username: cfg.Auth.Username, PasswordHash: cfg.Auth.PasswordHash},
		a.sched, repo, scr, guard, bus, clk, logger,
	)
	return a, nil
}

func buildMarketData(cfg *config.Config, clk *clock.MarketClock, logger zerolog.Logger) (*marketdata.CachedClient, *marketdata.StreamClient) {
	var inner marketdata.DataClient
	if cfg.MarketData.MockMode {
		inner = marketdata.NewMockClient(42)
	} else {
		inner = marketdata.NewClient(cfg.MarketData.BaseURL, cfg.MarketData.APIKey, cfg.MarketData.APISecret, logger)
	}
	cached := marketdata.NewCachedClient(inner, clk)

	var stream *marketdata.StreamClient
	if cfg.MarketData.Stream && !cfg.MarketData.MockMode && cfg.MarketData.StreamURL != "" {
		stream = marketdata.NewStreamClient(cfg.MarketData.StreamURL, cfg.MarketData.APIKey, cfg.MarketData.APISecret, cached, logger)
	}
	return cached, stream
}

func buildBroker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (broker.BrokerClient, broker.TradeMode, error) {
	mode := broker.ModeLive
	if cfg.Broker.PaperTrading || cfg.Broker.MockMode {
		mode = broker.ModePaper
	}

	if cfg.Broker.MockMode {
		return broker.NewMockClient(mockStartingCash), mode, nil
	}

	apiKey, apiSecret := cfg.Broker.APIKey, cfg.Broker.APISecret
	paper := cfg.Broker.PaperTrading

	if cfg.Vault.Enabled {
		vc, err := vault.NewClient(cfg.Vault)
		if err != nil {
			return nil, mode, fmt.Errorf("vault client failed: %w", err)
		}
		creds, err := vc.BrokerCredentials(ctx)
		if err != nil {
			return nil, mode, fmt.Errorf("vault broker credentials: %w", err)
		}
		apiKey, apiSecret, paper = creds.APIKey, creds.APISecret, creds.Paper
		if paper {
			mode = broker.ModePaper
		}
	}

	return broker.NewClient(apiKey, apiSecret, paper, cfg.Broker.BaseURL, logger), mode, nil
}

func buildNotifier(cfg *config.Config, clk *clock.MarketClock, logger zerolog.Logger) *notify.Manager {
	notifiers := []notify.Notifier{notify.NewConsole(logger)}
	if cfg.Notifications.Enabled && cfg.Notifications.Telegram.Enabled {
		notifiers = append(notifiers, notify.NewTelegram(cfg.Notifications.Telegram, logger))
	}
	return notify.NewManager(notifiers, clk, logger)
}

func buildSources(cfg *config.Config) []sentiment.SourceFetcher {
	client := &http.Client{Timeout: 10 * time.Second}
	var sources []sentiment.SourceFetcher
	if s := cfg.Sources.News; s.Enabled {
		sources = append(sources, sentiment.NewNewsSource(s.BaseURL, s.APIKey, client))
	}
	if s := cfg.Sources.Forum; s.Enabled {
		sources = append(sources, sentiment.NewForumSource(s.BaseURL, s.APIKey, s.Subcollections, client))
	}
	if s := cfg.Sources.Social; s.Enabled {
		sources = append(sources, sentiment.NewSocialSource(s.BaseURL, s.APIKey, client))
	}
	return sources
}

// tasks maps scheduler ticks onto component operations.
func (a *App) tasks() scheduler.Tasks {
	return scheduler.Tasks{
		Monitor:          a.monitorTick,
		Recommend:        a.recommendTick,
		Screen:           a.screenTick,
		IncrementalLearn: func(ctx context.Context) error { return a.learnTick(ctx, "incremental") },
		NightlyLearn:     func(ctx context.Context) error { return a.learnTick(ctx, "nightly") },
		Prune:            a.pruneTick,
		Rollover:         a.rolloverTick,
		Pause:            a.guard.Pause,
		Resume:           a.guard.Resume,
	}
}

func (a *App) monitorTick(ctx context.Context) error {
	err := a.monitor.Sweep(ctx)
	a.confirmer.Sweep(ctx, a.clk.Now())
	if perr := a.monitor.EvaluatePredictions(ctx); perr != nil && err == nil {
		err = perr
	}
	return err
}

func (a *App) screenTick(ctx context.Context) error {
	result, err := a.screener.Screen(ctx)
	if err != nil {
		return err
	}
	a.bus.PublishScreen(len(result.Entries), result.Degraded)
	if a.stream != nil {
		symbols := make([]string, 0, len(result.Entries))
		for _, e := range result.Entries {
			symbols = append(symbols, e.Symbol)
		}
		a.stream.SetSymbols(symbols)
	}
	return nil
}

func (a *App) recommendTick(ctx context.Context) error {
	wl := a.screener.Current()
	if wl == nil || len(wl.Entries) == 0 {
		return nil
	}

	for _, cand := range wl.Entries {
		rec, err := a.recommender.Evaluate(ctx, cand)
		if err != nil {
			a.log.Warn().Err(err).Str("symbol", cand.Symbol).Msg("evaluation failed")
			continue
		}
		a.bus.PublishDecision(rec.Symbol, rec.Action, decisionStatus(rec), rec.Confidence)
		if rec.Refused {
			continue
		}
		if _, err := a.confirmer.Propose(ctx, rec); err != nil {
			a.log.Error().Err(err).Str("symbol", rec.Symbol).Msg("proposal failed")
		}
	}
	return nil
}

func decisionStatus(rec *recommend.Recommendation) string {
	if rec.Refused {
		return rec.RefusalReason
	}
	return "proposed"
}

func (a *App) learnTick(ctx context.Context, trigger string) error {
	result, err := a.learner.RunCycle(ctx, trigger)
	if err != nil {
		return err
	}
	if result != nil {
		a.bus.Publish(events.Event{
			Type:    events.EventLearningCycle,
			Message: trigger,
			Data:    map[string]interface{}{"committed": result.Committed, "outcomes": result.OutcomesUsed},
		})
	}
	return nil
}

func (a *App) pruneTick(ctx context.Context) error {
	cutoff := a.clk.Now().Add(-journalRetention)
	result, err := a.repo.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	a.log.Info().Int64("rows", result.Total()).Time("cutoff", cutoff).Msg("journal pruned")
	return nil
}

func (a *App) rolloverTick(ctx context.Context, sessionDate string) error {
	summary := a.guard.Rollover(sessionDate, a.clk.Now())
	a.bus.Publish(events.Event{
		Type:    events.EventRollover,
		Message: sessionDate,
		Data:    map[string]interface{}{"trades": summary.TradeCount, "realized_pnl_pct": summary.RealizedPnLPct},
	})
	a.notifier.Info(ctx, fmt.Sprintf("Session %s closed: %d trades, %+.2f%% realized%s",
		summary.SessionDate, summary.TradeCount, summary.RealizedPnLPct, brakedSuffix(summary.Braked)))
	return nil
}

func brakedSuffix(braked bool) string {
	if braked {
		return " (loss brake hit)"
	}
	return ""
}

// Run starts the background services and blocks on the scheduler until
// ctx is canceled or a shutdown command arrives.
func (a *App) Run(ctx context.Context) error {
	if a.stream != nil {
		a.stream.Start()
	}
	go a.notifier.Listen(ctx)
	if err := a.server.Start(); err != nil {
		return fmt.Errorf("api server: %w", err)
	}

	a.log.Info().
		Str("confirm_mode", string(a.cfg.Confirm.Mode)).
		Bool("paper", a.cfg.Broker.PaperTrading || a.cfg.Broker.MockMode).
		Msg("trading bot running")

	err := a.sched.Run(ctx)

	a.shutdown()
	if err == context.Canceled {
		return nil
	}
	return err
}

// Control forwards an operator command, for main's signal handler.
func (a *App) Control(cmd scheduler.Command) {
	a.sched.Control(cmd)
}

func (a *App) shutdown() {
	a.log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("api server shutdown failed")
	}
	if a.stream != nil {
		a.stream.Stop()
	}
	if a.cacheSvc != nil {
		if err := a.cacheSvc.Close(); err != nil {
			a.log.Warn().Err(err).Msg("cache close failed")
		}
	}
	a.db.Close()
	a.log.Info().Msg("shutdown complete")
}
