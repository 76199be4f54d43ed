// Package ratelimit enforces credit budgets for external data providers.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultWindowSize = time.Minute // Per-minute window unless configured otherwise
)

// Priority levels for budget allocation.
type Priority int

const (
	// PriorityServing is for request-path lookups (snapshots, activity,
	// leaderboard). They draw from the reserved pool.
	PriorityServing Priority = iota
	// PriorityDeep is for on-demand deep work (P&L history resolution,
	// archive top-ups). They draw from the shared pool.
	PriorityDeep
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityServing:
		return "serving"
	case PriorityDeep:
		return "deep"
	default:
		return "unknown"
	}
}

// BudgetTracker coordinates credit consumption for one provider across
// processes using Redis. It keeps a windowed counter with separate pools
// for request-path (reserved) and deep (shared) work, so a P&L burst can
// never starve snapshot serving.
type BudgetTracker struct {
	redis          redis.Cmdable
	provider       string
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	keyTTL         time.Duration
}

// BudgetTrackerConfig holds configuration for one provider's tracker.
type BudgetTrackerConfig struct {
	// Redis coordinates counters across the API server and the worker.
	// Required.
	Redis redis.Cmdable

	// Provider names the budget, e.g. "covalent" or "coingecko".
	// It is part of every Redis key.
	Provider string

	// TotalBudget is the credit budget per window.
	TotalBudget int

	// ReservedBudget is the portion reserved for serving-path calls.
	// The remainder is the shared pool for deep work.
	ReservedBudget int

	// WindowSize is the counting window. Covalent credits reset daily,
	// CoinGecko call allowances per minute. Default: 1m.
	WindowSize time.Duration
}

// UsageStats contains current consumption for one provider window.
type UsageStats struct {
	Provider       string
	TotalUsed      int
	ReservedUsed   int
	SharedUsed     int
	TotalBudget    int
	ReservedBudget int
	SharedBudget   int
	WindowStart    time.Time
}

// Validate checks if the configuration is valid.
func (c *BudgetTrackerConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Provider == "" {
		return errors.New("provider name is required")
	}
	if c.TotalBudget <= 0 {
		return errors.New("total budget must be positive")
	}
	if c.ReservedBudget < 0 {
		return errors.New("reserved budget cannot be negative")
	}
	if c.ReservedBudget > c.TotalBudget {
		return fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", c.ReservedBudget, c.TotalBudget)
	}
	return nil
}

// NewBudgetTracker creates a tracker for one provider.
// Returns an error if the configuration is invalid.
func NewBudgetTracker(cfg *BudgetTrackerConfig) (*BudgetTracker, error) {
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

	return &BudgetTracker{
		redis:          cfg.Redis,
		provider:       cfg.Provider,
		totalBudget:    cfg.TotalBudget,
		reservedBudget: cfg.ReservedBudget,
		sharedBudget:   cfg.TotalBudget - cfg.ReservedBudget,
		windowSize:     windowSize,
		keyTTL:         2 * windowSize,
	}, nil
}

// getWindowTimestamp returns the timestamp for the current window,
// aligned to the window size boundary.
func (t *BudgetTracker) getWindowTimestamp() int64 {
	return time.Now().Truncate(t.windowSize).UnixMilli()
}

// getKeys returns the Redis keys for the current window.
func (t *BudgetTracker) getKeys(windowTS int64) (totalKey, reservedKey, sharedKey string) {
	tsStr := strconv.FormatInt(windowTS, 10)
	totalKey = "credits:" + t.provider + ":total:" + tsStr
	reservedKey = "credits:" + t.provider + ":reserved:" + tsStr
	sharedKey = "credits:" + t.provider + ":shared:" + tsStr
	return
}

// TryConsume attempts to consume credits from the pool matching the
// priority.
//
// Returns:
//   - allowed: true if the consumption was allowed
//   - waitTime: suggested wait before retrying if not allowed
func (t *BudgetTracker) TryConsume(ctx context.Context, credits int, priority Priority) (bool, time.Duration) {
	if credits <= 0 {
		return true, 0
	}

	windowTS := t.getWindowTimestamp()
	totalKey, reservedKey, sharedKey := t.getKeys(windowTS)

	var poolKey string
	var poolBudget int
	if priority == PriorityServing {
		poolKey = reservedKey
		poolBudget = t.reservedBudget
	} else {
		poolKey = sharedKey
		poolBudget = t.sharedBudget
	}

	// Lua script for atomic check-and-increment so concurrent callers
	// cannot overdraw the budget.
	script := redis.NewScript(`
		local totalKey = KEYS[1]
		local poolKey = KEYS[2]
		local credits = tonumber(ARGV[1])
		local totalBudget = tonumber(ARGV[2])
		local poolBudget = tonumber(ARGV[3])
		local ttl = tonumber(ARGV[4])

		local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
		local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

		if totalUsed + credits > totalBudget then
			return {0, totalUsed, poolUsed}
		end
		if poolUsed + credits > poolBudget then
			return {0, totalUsed, poolUsed}
		end

		redis.call('INCRBY', totalKey, credits)
		redis.call('EXPIRE', totalKey, ttl)
		redis.call('INCRBY', poolKey, credits)
		redis.call('EXPIRE', poolKey, ttl)

		return {1, totalUsed + credits, poolUsed + credits}
	`)

	ttlSeconds := int(t.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := script.Run(ctx, t.redis, []string{totalKey, poolKey},
		credits, t.totalBudget, poolBudget, ttlSeconds).Int64Slice()

	if err != nil {
		// On Redis error, deny to be safe.
		return false, t.calculateWaitTime(windowTS)
	}

	allowed := result[0] == 1
	if !allowed {
		return false, t.calculateWaitTime(windowTS)
	}

	return true, 0
}

// calculateWaitTime returns the time until the next window starts.
func (t *BudgetTracker) calculateWaitTime(windowTS int64) time.Duration {
	windowStart := time.UnixMilli(windowTS)
	windowEnd := windowStart.Add(t.windowSize)
	waitTime := time.Until(windowEnd)
	if waitTime < 0 {
		waitTime = 0
	}
	// Small buffer to land in the new window
	return waitTime + time.Millisecond
}

// GetUsage returns current credit usage for this provider's window.
func (t *BudgetTracker) GetUsage(ctx context.Context) (*UsageStats, error) {
	windowTS := t.getWindowTimestamp()
	totalKey, reservedKey, sharedKey := t.getKeys(windowTS)

	pipe := t.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)

	// redis.Nil from Exec just means a key does not exist yet
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	return &UsageStats{
		Provider:       t.provider,
		TotalUsed:      parseIntOrZero(totalCmd),
		ReservedUsed:   parseIntOrZero(reservedCmd),
		SharedUsed:     parseIntOrZero(sharedCmd),
		TotalBudget:    t.totalBudget,
		ReservedBudget: t.reservedBudget,
		SharedBudget:   t.sharedBudget,
		WindowStart:    time.UnixMilli(windowTS),
	}, nil
}

// parseIntOrZero parses a Redis string command result as int, returning 0 on error.
func parseIntOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}

// Provider returns the provider name this tracker budgets.
func (t *BudgetTracker) Provider() string {
	return t.provider
}

// WindowSize returns the counting window.
func (t *BudgetTracker) WindowSize() time.Duration {
	return t.windowSize
}

// AvailableBudget returns the remaining credits for a priority level.
func (t *BudgetTracker) AvailableBudget(ctx context.Context, priority Priority) (int, error) {
	stats, err := t.GetUsage(ctx)
	if err != nil {
		return 0, err
	}

	var available int
	if priority == PriorityServing {
		available = t.reservedBudget - stats.ReservedUsed
	} else {
		available = t.sharedBudget - stats.SharedUsed
	}
	if available < 0 {
		available = 0
	}
	return available, nil
}

// Utilization returns total budget utilization as a percentage (0-100).
func (t *BudgetTracker) Utilization(ctx context.Context) (float64, error) {
	stats, err := t.GetUsage(ctx)
	if err != nil {
		return 0, err
	}

	if t.totalBudget == 0 {
		return 100, nil
	}

	return float64(stats.TotalUsed) * 100 / float64(t.totalBudget), nil
}

// IsExhausted returns true if utilization is at or above 90%. The worker
// pauses archive top-ups past this point to keep headroom for serving.
func (t *BudgetTracker) IsExhausted(ctx context.Context) (bool, error) {
	utilization, err := t.Utilization(ctx)
	if err != nil {
		return false, err
	}
	return utilization >= 90, nil
}
