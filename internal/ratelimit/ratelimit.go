// Package ratelimit enforces per-plan hourly tool invocation limits.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

// ErrLimited is wrapped by every rate-limit rejection.
var ErrLimited = errors.New("rate limited")

// window is the rolling enforcement window.
const window = time.Hour

// PlanSource resolves per-plan tool limits.
type PlanSource func(planKey string) models.ToolConfig

// Limiter checks tool call counts against the plan's hourly caps.
type Limiter struct {
	calls storage.ToolCallStore
	plans PlanSource
	now   func() time.Time
}

// New creates a Limiter.
func New(calls storage.ToolCallStore, plans PlanSource) *Limiter {
	return &Limiter{calls: calls, plans: plans, now: time.Now}
}

// Check returns a wrapped ErrLimited when the agent's owner has exhausted
// the tool's hourly cap across all of their agents. Tools without a
// configured cap are unlimited.
func (l *Limiter) Check(ctx context.Context, agent *models.Agent, tool string) error {
	cfg := l.plans(agent.PlanKey)
	limit, ok := cfg.HourlyLimits[tool]
	if !ok || limit <= 0 {
		return nil
	}
	since := l.now().Add(-window)
	count, err := l.calls.CountByOwnerSince(ctx, agent.OwnerType, agent.OwnerID, tool, since)
	if err != nil {
		return fmt.Errorf("count tool calls: %w", err)
	}
	if count >= limit {
		return fmt.Errorf("%w: %s allows %d calls per hour on plan %s", ErrLimited, tool, limit, agent.PlanKey)
	}
	return nil
}
