// Package scheduler owns the heartbeat of the bot. Periodic tickers and two
// cron jobs feed typed ticks into a single dispatcher goroutine; the
// dispatcher gates market-hours work on the session, enforces a wall-time
// budget per kind, and drains operator commands at tick boundaries.
//
// Monitor ticks run on their own serialized worker so position babysitting
// is never starved by a slow screen or learning cycle. Everything else runs
// on the dispatcher goroutine, which makes the learning cycle and the
// recommender mutually exclusive by construction.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"intraday-trading-bot/internal/clock"
	"intraday-trading-bot/internal/events"
)

// Kind identifies one scheduled task.
type Kind string

const (
	KindMonitor          Kind = "monitor"
	KindRecommend        Kind = "recommend"
	KindScreen           Kind = "screen"
	KindIncrementalLearn Kind = "incremental_learn"
	KindRollover         Kind = "rollover"
	KindNightlyLearn     Kind = "nightly_learn"
	KindPrune            Kind = "prune"
)

// Tick is one unit of scheduled work.
type Tick struct {
	At     time.Time
	Kind   Kind
	Forced bool
}

// Command is one operator control request, drained at tick boundaries.
type Command string

const (
	CmdPause       Command = "pause"
	CmdResume      Command = "resume"
	CmdForceScreen Command = "force_screen"
	CmdShutdown    Command = "shutdown"
)

// Config tunes intervals and cron schedules.
type Config struct {
	MonitorInterval   time.Duration `json:"-"`
	RecommendInterval time.Duration `json:"-"`
	ScreenInterval    time.Duration `json:"-"`
	LearnInterval     time.Duration `json:"-"`
	NightlyLearnSpec  string        `json:"nightly_learn_cron"`
	PruneSpec         string        `json:"prune_cron"`
}

// DefaultConfig returns the standard cadence.
func DefaultConfig() Config {
	return Config{
		MonitorInterval:   30 * time.Second,
		RecommendInterval: time.Minute,
		ScreenInterval:    5 * time.Minute,
		LearnInterval:     30 * time.Minute,
		NightlyLearnSpec:  "30 2 * * *",
		PruneSpec:         "0 3 * * 6",
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = d.MonitorInterval
	}
	if c.RecommendInterval <= 0 {
		c.RecommendInterval = d.RecommendInterval
	}
	if c.ScreenInterval <= 0 {
		c.ScreenInterval = d.ScreenInterval
	}
	if c.LearnInterval <= 0 {
		c.LearnInterval = d.LearnInterval
	}
	if c.NightlyLearnSpec == "" {
		c.NightlyLearnSpec = d.NightlyLearnSpec
	}
	if c.PruneSpec == "" {
		c.PruneSpec = d.PruneSpec
	}
}

// Wall-time budgets per kind. A task keeps its context until the budget
// elapses; an overrun is journaled but later ticks are not starved because
// the budget also caps how long the dispatcher is held.
var budgets = map[Kind]time.Duration{
	KindMonitor:          25 * time.Second,
	KindRecommend:        55 * time.Second,
	KindScreen:           4 * time.Minute,
	KindIncrementalLearn: 10 * time.Minute,
	KindRollover:         time.Minute,
	KindNightlyLearn:     30 * time.Minute,
	KindPrune:            10 * time.Minute,
}

// marketKinds only run while the market is open.
var marketKinds = map[Kind]bool{
	KindMonitor:          true,
	KindRecommend:        true,
	KindScreen:           true,
	KindIncrementalLearn: true,
}

// pausable kinds stop while the operator has paused trading; the monitor
// keeps running so open positions are never abandoned.
var pausable = map[Kind]bool{
	KindRecommend:        true,
	KindScreen:           true,
	KindIncrementalLearn: true,
}

// Tasks are the callbacks the dispatcher drives. Rollover receives the
// session date that just ended.
type Tasks struct {
	Monitor          func(ctx context.Context) error
	Recommend        func(ctx context.Context) error
	Screen           func(ctx context.Context) error
	IncrementalLearn func(ctx context.Context) error
	NightlyLearn     func(ctx context.Context) error
	Prune            func(ctx context.Context) error
	Rollover         func(ctx context.Context, sessionDate string) error
	Pause            func()
	Resume           func()
}

// Store is the slice of the journal the scheduler needs.
type Store interface {
	AppendHealth(ctx context.Context, component, status, detail string, data interface{}) error
}

// Scheduler dispatches ticks.
type Scheduler struct {
	cfg   Config
	tasks Tasks
	clk   *clock.MarketClock
	store Store
	bus   *events.EventBus
	log   zerolog.Logger

	ticks     chan Tick
	controls  chan Command
	monitorCh chan Tick

	mu           sync.Mutex
	paused       bool
	wasOpen      bool
	openSeen     bool
	clockWarned  bool
	lastDispatch map[Kind]time.Time
}

// New creates a scheduler.
func New(cfg Config, tasks Tasks, clk *clock.MarketClock, store Store, bus *events.EventBus, logger zerolog.Logger) *Scheduler {
	cfg.normalize()
	return &Scheduler{
		cfg:          cfg,
		tasks:        tasks,
		clk:          clk,
		store:        store,
		bus:          bus,
		log:          logger.With().Str("component", "scheduler").Logger(),
		ticks:        make(chan Tick, 16),
		controls:     make(chan Command, 16),
		monitorCh:    make(chan Tick, 1),
		lastDispatch: make(map[Kind]time.Time),
	}
}

// Control enqueues an operator command. It never blocks; a full queue drops
// the command with a warning.
func (s *Scheduler) Control(cmd Command) {
	select {
	case s.controls <- cmd:
	default:
		s.log.Warn().Str("command", string(cmd)).Msg("control queue full, command dropped")
	}
}

// Paused reports whether trading is paused.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// LastDispatch returns when each kind last ran.
func (s *Scheduler) LastDispatch() map[Kind]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Kind]time.Time, len(s.lastDispatch))
	for k, t := range s.lastDispatch {
		out[k] = t
	}
	return out
}

// Run drives the dispatcher until ctx is canceled or a shutdown command
// arrives. The current tick always finishes before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	s.startTicker(runCtx, &wg, KindMonitor, s.cfg.MonitorInterval)
	s.startTicker(runCtx, &wg, KindRecommend, s.cfg.RecommendInterval)
	s.startTicker(runCtx, &wg, KindScreen, s.cfg.ScreenInterval)
	s.startTicker(runCtx, &wg, KindIncrementalLearn, s.cfg.LearnInterval)

	cronRunner, err := s.startCron(runCtx)
	if err != nil {
		return err
	}
	defer func() {
		<-cronRunner.Stop().Done()
	}()

	// Serialized monitor worker.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case t := <-s.monitorCh:
				s.run(runCtx, t)
			}
		}
	}()

	s.log.Info().Msg("scheduler started")
	defer wg.Wait()

	for {
		select {
		case <-runCtx.Done():
			s.log.Info().Msg("scheduler stopping")
			return runCtx.Err()
		case cmd := <-s.controls:
			if s.apply(runCtx, cmd) {
				cancel()
				s.log.Info().Msg("scheduler shut down by operator")
				return nil
			}
		case t := <-s.ticks:
			if s.drainControls(runCtx) {
				cancel()
				s.log.Info().Msg("scheduler shut down by operator")
				return nil
			}
			s.Dispatch(runCtx, t)
		}
	}
}

func (s *Scheduler) startTicker(ctx context.Context, wg *sync.WaitGroup, kind Kind, interval time.Duration) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case at := <-ticker.C:
				select {
				case s.ticks <- Tick{At: at, Kind: kind}:
				default:
					s.log.Warn().Str("kind", string(kind)).Msg("tick queue full, tick dropped")
				}
			}
		}
	}()
}

func (s *Scheduler) startCron(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(s.clk.Location()))
	enqueue := func(kind Kind) func() {
		return func() {
			select {
			case <-ctx.Done():
			case s.ticks <- Tick{At: s.clk.Now(), Kind: kind}:
			default:
				s.log.Warn().Str("kind", string(kind)).Msg("tick queue full, cron tick dropped")
			}
		}
	}
	if _, err := c.AddFunc(s.cfg.NightlyLearnSpec, enqueue(KindNightlyLearn)); err != nil {
		return nil, fmt.Errorf("invalid nightly learn schedule %q: %w", s.cfg.NightlyLearnSpec, err)
	}
	if _, err := c.AddFunc(s.cfg.PruneSpec, enqueue(KindPrune)); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", s.cfg.PruneSpec, err)
	}
	c.Start()
	return c, nil
}

// drainControls applies every queued command. Returns true on shutdown.
func (s *Scheduler) drainControls(ctx context.Context) bool {
	for {
		select {
		case cmd := <-s.controls:
			if s.apply(ctx, cmd) {
				return true
			}
		default:
			return false
		}
	}
}

func (s *Scheduler) apply(ctx context.Context, cmd Command) bool {
	s.log.Info().Str("command", string(cmd)).Msg("control command")
	if s.bus != nil {
		s.bus.Publish(events.Event{Type: events.EventControl, Message: string(cmd)})
	}

	switch cmd {
	case CmdPause:
		s.mu.Lock()
		s.paused = true
		s.mu.Unlock()
		if s.tasks.Pause != nil {
			s.tasks.Pause()
		}
	case CmdResume:
		s.mu.Lock()
		s.paused = false
		s.mu.Unlock()
		if s.tasks.Resume != nil {
			s.tasks.Resume()
		}
	case CmdForceScreen:
		s.Dispatch(ctx, Tick{At: s.clk.Now(), Kind: KindScreen, Forced: true})
	case CmdShutdown:
		return true
	}
	return false
}

// Dispatch routes one tick through session gating to its task.
func (s *Scheduler) Dispatch(ctx context.Context, t Tick) {
	s.checkRollover(ctx, t.At)

	if marketKinds[t.Kind] && !t.Forced {
		if !s.clk.Valid(t.At) {
			s.warnClockOnce(ctx, t.At)
			return
		}
		if !s.clk.IsOpen(t.At) {
			return
		}
		// New entries stay inside the narrowed window; monitoring and
		// screening cover the whole session.
		if t.Kind == KindRecommend && !s.clk.WithinTradingWindow(t.At) {
			return
		}
		if pausable[t.Kind] && s.Paused() {
			return
		}
	}

	if t.Kind == KindMonitor {
		// Hand to the serialized monitor worker; a sweep already in
		// progress makes this tick redundant.
		select {
		case s.monitorCh <- t:
		default:
		}
		return
	}
	s.run(ctx, t)
}

// checkRollover fires the rollover task on the open-to-closed transition.
func (s *Scheduler) checkRollover(ctx context.Context, at time.Time) {
	open := s.clk.IsOpen(at)

	s.mu.Lock()
	fire := s.openSeen && s.wasOpen && !open
	s.wasOpen = open
	s.openSeen = true
	s.mu.Unlock()

	if fire {
		s.run(ctx, Tick{At: at, Kind: KindRollover})
	}
}

func (s *Scheduler) warnClockOnce(ctx context.Context, at time.Time) {
	s.mu.Lock()
	warned := s.clockWarned
	s.clockWarned = true
	s.mu.Unlock()
	if warned {
		return
	}
	detail := fmt.Sprintf("host clock reads %s, refusing to trade", at.Format(time.RFC3339))
	s.log.Error().Msg(detail)
	if err := s.store.AppendHealth(ctx, "scheduler", "down", detail, nil); err != nil {
		s.log.Warn().Err(err).Msg("failed to journal clock warning")
	}
}

// run executes one task under its budget and journals overruns.
func (s *Scheduler) run(ctx context.Context, t Tick) {
	task := s.taskFor(t)
	if task == nil {
		return
	}

	budget := budgets[t.Kind]
	taskCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	err := task(taskCtx)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.lastDispatch[t.Kind] = t.At
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("kind", string(t.Kind)).Msg("scheduled task failed")
		if s.bus != nil {
			s.bus.PublishError("scheduler", string(t.Kind)+" failed", err)
		}
	}
	if elapsed > budget {
		detail := fmt.Sprintf("%s ran %s, budget %s", t.Kind, elapsed.Round(time.Millisecond), budget)
		s.log.Warn().Msg(detail)
		if herr := s.store.AppendHealth(ctx, "scheduler", "degraded", detail,
			map[string]interface{}{"kind": t.Kind, "elapsed_ms": elapsed.Milliseconds()}); herr != nil {
			s.log.Warn().Err(herr).Msg("failed to journal overrun")
		}
	}
}

func (s *Scheduler) taskFor(t Tick) func(context.Context) error {
	switch t.Kind {
	case KindMonitor:
		return s.tasks.Monitor
	case KindRecommend:
		return s.tasks.Recommend
	case KindScreen:
		return s.tasks.Screen
	case KindIncrementalLearn:
		return s.tasks.IncrementalLearn
	case KindNightlyLearn:
		return s.tasks.NightlyLearn
	case KindPrune:
		return s.tasks.Prune
	case KindRollover:
		if s.tasks.Rollover == nil {
			return nil
		}
		sessionDate := s.clk.SessionDate(t.At)
		return func(ctx context.Context) error {
			return s.tasks.Rollover(ctx, sessionDate)
		}
	}
	return nil
}
