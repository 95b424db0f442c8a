// Package cache provides Redis-based state for order idempotency
// sequences and a mirror of open positions. The journal remains the
// source of truth; everything here degrades gracefully when Redis is
// down.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config holds Redis connection settings.
type Config struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// ErrUnavailable is returned while the health breaker is open.
var ErrUnavailable = errors.New("redis unavailable")

// Key prefixes.
const (
	prefixOrderSequence = "orders:sequence:%s" // %s = YYYYMMDD
	prefixOpenPosition  = "positions:open:%s"  // %s = symbol
)

const (
	sequenceTTL = 48 * time.Hour // survives the session, expires on its own
	positionTTL = 7 * 24 * time.Hour
)

// CacheService wraps Redis with a small health breaker so a dead cache
// never stalls the trading loop.
type CacheService struct {
	client *redis.Client
	log    zerolog.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// New connects to Redis. A failed initial connection returns the
// service in degraded mode rather than an error; callers keep their
// fallbacks.
func New(cfg Config, logger zerolog.Logger) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 5
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := &CacheService{
		client:        client,
		log:           logger,
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("initial redis connection failed, starting degraded")
		return cs, nil
	}

	cs.healthy = true
	cs.lastCheck = time.Now()
	logger.Info().Str("address", cfg.Address).Msg("redis connected")
	return cs, nil
}

// IsHealthy returns whether Redis is currently usable.
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			cs.log.Warn().Int("failures", cs.failureCount).Msg("redis marked unhealthy")
		}
		cs.healthy = false
	}
}

func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.healthy {
		cs.log.Info().Msg("redis recovered")
	}
	cs.healthy = true
	cs.failureCount = 0
	cs.lastCheck = time.Now()
}

// checkHealth probes a dead connection in the background at most once
// per check interval.
func (cs *CacheService) checkHealth() {
	cs.mu.RLock()
	shouldCheck := !cs.healthy && time.Since(cs.lastCheck) >= cs.checkInterval
	cs.mu.RUnlock()
	if !shouldCheck {
		return
	}

	cs.mu.Lock()
	cs.lastCheck = time.Now()
	cs.mu.Unlock()

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cs.client.Ping(pingCtx).Err(); err == nil {
			cs.recordSuccess()
		}
	}()
}

// IncrementOrderSequence atomically increments the daily order counter.
// Returns the new sequence number (1-indexed). The counter key expires
// on its own after the session.
func (cs *CacheService) IncrementOrderSequence(ctx context.Context, dateKey string) (int64, error) {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return 0, ErrUnavailable
	}

	key := fmt.Sprintf(prefixOrderSequence, dateKey)
	val, err := cs.client.Incr(ctx, key).Result()
	if err != nil {
		cs.recordFailure()
		return 0, fmt.Errorf("redis incr failed: %w", err)
	}
	if val == 1 {
		cs.client.Expire(ctx, key, sequenceTTL)
	}

	cs.recordSuccess()
	return val, nil
}

// CurrentOrderSequence returns today's counter without incrementing.
func (cs *CacheService) CurrentOrderSequence(ctx context.Context, dateKey string) (int64, error) {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return 0, ErrUnavailable
	}

	val, err := cs.client.Get(ctx, fmt.Sprintf(prefixOrderSequence, dateKey)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		cs.recordFailure()
		return 0, fmt.Errorf("redis get sequence failed: %w", err)
	}
	cs.recordSuccess()
	return val, nil
}

// MirrorPosition stores a serialized open position so a restart can
// cross-check the journal against what the last process believed.
func (cs *CacheService) MirrorPosition(ctx context.Context, symbol string, state interface{}) error {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return ErrUnavailable
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal position state: %w", err)
	}
	if err := cs.client.Set(ctx, fmt.Sprintf(prefixOpenPosition, symbol), data, positionTTL).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// MirroredPosition loads one mirrored position into dest.
func (cs *CacheService) MirroredPosition(ctx context.Context, symbol string, dest interface{}) error {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return ErrUnavailable
	}

	data, err := cs.client.Get(ctx, fmt.Sprintf(prefixOpenPosition, symbol)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			cs.recordFailure()
		}
		return err
	}
	cs.recordSuccess()
	return json.Unmarshal(data, dest)
}

// DropPositionMirror removes the mirror entry after an exit.
func (cs *CacheService) DropPositionMirror(ctx context.Context, symbol string) error {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return ErrUnavailable
	}

	if err := cs.client.Del(ctx, fmt.Sprintf(prefixOpenPosition, symbol)).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis delete failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// MirroredSymbols lists symbols with an open-position mirror entry.
func (cs *CacheService) MirroredSymbols(ctx context.Context) ([]string, error) {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return nil, ErrUnavailable
	}

	var symbols []string
	prefix := fmt.Sprintf(prefixOpenPosition, "")
	iter := cs.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		symbols = append(symbols, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		cs.recordFailure()
		return nil, fmt.Errorf("redis scan failed: %w", err)
	}
	cs.recordSuccess()
	return symbols, nil
}

// Ping checks connectivity directly.
func (cs *CacheService) Ping(ctx context.Context) error {
	if err := cs.client.Ping(ctx).Err(); err != nil {
		cs.recordFailure()
		return err
	}
	cs.recordSuccess()
	return nil
}

// Close closes the Redis connection.
func (cs *CacheService) Close() error {
	if cs.client != nil {
		return cs.client.Close()
	}
	return nil
}

// Stats reports cache health for the status surface.
type Stats struct {
	Healthy      bool `json:"healthy"`
	FailureCount int  `json:"failure_count"`
}

// GetStats returns current cache statistics.
func (cs *CacheService) GetStats() Stats {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return Stats{Healthy: cs.healthy, FailureCount: cs.failureCount}
}
