// Package ratelimit coordinates explorer request quotas across processes
// using Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deposit-scanner/internal/logging"
)

// Default quota configuration values.
const (
	DefaultWindowSize = time.Second
	DefaultKeyTTL     = 2 * time.Second

	keyPrefix = "quota:"
)

// consumeScript atomically checks and increments the window counter
var consumeScript = redis.NewScript(`
	local used = tonumber(redis.call('GET', KEYS[1]) or '0')
	local cost = tonumber(ARGV[1])
	if used + cost > tonumber(ARGV[2]) then
		return {0, used}
	end
	redis.call('INCRBY', KEYS[1], cost)
	redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
	return {1, used + cost}
`)

// SharedQuota is a fixed-window request budget for one API key, shared by
// every process that uses the key. Each process still applies its own
// token bucket on top.
type SharedQuota struct {
	redis      redis.Cmdable
	provider   string
	budget     int
	windowSize time.Duration
	keyTTL     time.Duration
	now        func() time.Time
}

// SharedQuotaConfig holds configuration for the quota.
type SharedQuotaConfig struct {
	// Redis is required.
	Redis redis.Cmdable

	// Provider namespaces the counters, e.g. "etherscan".
	Provider string

	// Budget is the number of requests allowed per window.
	Budget int

	// WindowSize defaults to 1s.
	WindowSize time.Duration

	// KeyTTL defaults to 2s and is raised to at least WindowSize.
	KeyTTL time.Duration
}

// Usage describes consumption in the current window.
type Usage struct {
	Provider    string    `json:"provider"`
	Used        int       `json:"used"`
	Budget      int       `json:"budget"`
	WindowStart time.Time `json:"windowStart"`
}

// Validate checks if the configuration is valid.
func (c *SharedQuotaConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Provider == "" {
		return errors.New("provider is required")
	}
	if c.Budget <= 0 {
		return fmt.Errorf("budget must be positive, got %d", c.Budget)
	}
	if c.WindowSize < 0 || c.KeyTTL < 0 {
		return errors.New("durations cannot be negative")
	}
	return nil
}

// NewSharedQuota creates a quota. Returns an error if the configuration is
// invalid.
func NewSharedQuota(cfg *SharedQuotaConfig) (*SharedQuota, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	windowSize := cfg.WindowSize
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}
	keyTTL := cfg.KeyTTL
	if keyTTL == 0 {
		keyTTL = DefaultKeyTTL
	}
	if keyTTL < windowSize {
		keyTTL = windowSize
	}

	return &SharedQuota{
		redis:      cfg.Redis,
		provider:   cfg.Provider,
		budget:     cfg.Budget,
		windowSize: windowSize,
		keyTTL:     keyTTL,
		now:        time.Now,
	}, nil
}

func (q *SharedQuota) windowStart() time.Time {
	return q.now().Truncate(q.windowSize)
}

func (q *SharedQuota) key(windowStart time.Time) string {
	return keyPrefix + q.provider + ":" + strconv.FormatInt(windowStart.UnixMilli(), 10)
}

// TryConsume takes cost units from the current window. When the window is
// exhausted it returns false and the time until the next window.
func (q *SharedQuota) TryConsume(ctx context.Context, cost int) (bool, time.Duration, error) {
	if cost <= 0 {
		return true, 0, nil
	}

	start := q.windowStart()
	ttlSeconds := int(q.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, q.redis, []string{q.key(start)}, cost, q.budget, ttlSeconds).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if result[0] == 1 {
		return true, 0, nil
	}
	return false, q.untilNextWindow(start), nil
}

func (q *SharedQuota) untilNextWindow(start time.Time) time.Duration {
	wait := start.Add(q.windowSize).Sub(q.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// Wait blocks until one request fits in the shared budget or ctx ends. A
// Redis failure lets the request through; the caller's local limiter still
// bounds its rate.
func (q *SharedQuota) Wait(ctx context.Context) error {
	for {
		ok, wait, err := q.TryConsume(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.FromContext(ctx).WithError(err).WithField("provider", q.provider).
				Warn("Shared quota unavailable, relying on local limiter")
			return nil
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// GetUsage returns consumption in the current window.
func (q *SharedQuota) GetUsage(ctx context.Context) (*Usage, error) {
	start := q.windowStart()
	used, err := q.redis.Get(ctx, q.key(start)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return &Usage{
		Provider:    q.provider,
		Used:        used,
		Budget:      q.budget,
		WindowStart: start,
	}, nil
}
