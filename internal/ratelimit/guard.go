package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fund-tracker/internal/logging"
)

// Default guard configuration values.
const (
	DefaultMaxWait = 10 * time.Second
)

// ErrBudgetExhausted is returned when the budget did not free up within
// the guard's maximum wait.
var ErrBudgetExhausted = errors.New("provider credit budget exhausted")

// Guard gates outbound provider calls against a credit budget. Callers
// acquire credits for a named endpoint before making the call; the guard
// waits for the next window when the pool is empty, up to MaxWait.
type Guard struct {
	tracker  *BudgetTracker
	registry *CostRegistry
	priority Priority
	maxWait  time.Duration
	logger   *logging.Logger
}

// GuardConfig holds configuration for a budget guard.
type GuardConfig struct {
	// Tracker is the provider's budget tracker. Required.
	Tracker *BudgetTracker

	// Registry maps endpoints to credit costs. Required.
	Registry *CostRegistry

	// Priority selects the budget pool this guard draws from.
	Priority Priority

	// MaxWait bounds how long Acquire blocks waiting for credits.
	// Default: 10s. Serving-path guards should keep this short.
	MaxWait time.Duration
}

// NewGuard creates a budget guard.
// Returns an error if the configuration is invalid.
func NewGuard(cfg *GuardConfig) (*Guard, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("budget tracker is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("cost registry is required")
	}

	maxWait := cfg.MaxWait
	if maxWait == 0 {
		maxWait = DefaultMaxWait
	}

	return &Guard{
		tracker:  cfg.Tracker,
		registry: cfg.Registry,
		priority: cfg.Priority,
		maxWait:  maxWait,
		logger:   logging.GetGlobalLogger().Component("budget-guard"),
	}, nil
}

// Acquire consumes the credits for one call to the named endpoint,
// blocking until the budget frees up or the wait limit is hit.
// Returns ErrBudgetExhausted when credits did not free up in time.
func (g *Guard) Acquire(ctx context.Context, endpoint string) error {
	credits := g.registry.GetCost(endpoint)
	startTime := time.Now()
	deadline := startTime.Add(g.maxWait)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		allowed, waitTime := g.tracker.TryConsume(ctx, credits, g.priority)
		if allowed {
			return nil
		}

		if time.Now().Add(waitTime).After(deadline) {
			g.logger.WithFields(map[string]interface{}{
				"provider": g.tracker.Provider(),
				"endpoint": endpoint,
				"priority": g.priority.String(),
				"credits":  credits,
				"waited":   time.Since(startTime).String(),
			}).Warn("Credit budget exhausted")
			return fmt.Errorf("%w: %s %s", ErrBudgetExhausted, g.tracker.Provider(), endpoint)
		}

		g.logger.WithFields(map[string]interface{}{
			"provider": g.tracker.Provider(),
			"endpoint": endpoint,
			"priority": g.priority.String(),
			"wait":     waitTime.String(),
		}).Debug("Waiting for credit budget")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// Priority returns the pool this guard draws from.
func (g *Guard) Priority() Priority {
	return g.priority
}
