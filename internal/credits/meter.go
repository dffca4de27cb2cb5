// Package credits computes daily credit usage and enforces the soft and
// hard per-day limits.
package credits

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

// PlanSource resolves per-plan credit policy. Implementations are expected
// to be cheap; the meter caches results per plan key.
type PlanSource func(planKey string) models.DailyCreditConfig

const planCacheSize = 32

// Meter answers "how much has this agent spent today" and "may it spend
// more".
type Meter struct {
	steps storage.StepStore
	plans PlanSource
	cache *lru.Cache[string, models.DailyCreditConfig]
}

// NewMeter creates a Meter over the step store.
func NewMeter(steps storage.StepStore, plans PlanSource) *Meter {
	cache, _ := lru.New[string, models.DailyCreditConfig](planCacheSize)
	return &Meter{steps: steps, plans: plans, cache: cache}
}

// Bust drops the cached plan policies; called after plan config writes.
func (m *Meter) Bust() {
	m.cache.Purge()
}

func (m *Meter) planConfig(planKey string) models.DailyCreditConfig {
	if cfg, ok := m.cache.Get(planKey); ok {
		return cfg
	}
	cfg := m.plans(planKey)
	m.cache.Add(planKey, cfg)
	return cfg
}

// DayWindow returns the local calendar day [start, end) containing now.
// A nil location defaults to UTC.
func DayWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// Status is the agent's position against its daily limits.
type Status struct {
	Usage int64

	// SoftTarget and HardLimit are nil when the agent is unlimited.
	SoftTarget *int64
	HardLimit  *int64
}

// SoftExceeded reports whether usage reached the soft target.
func (s Status) SoftExceeded() bool {
	return s.SoftTarget != nil && s.Usage >= *s.SoftTarget
}

// HardExceeded reports whether usage reached the hard limit.
func (s Status) HardExceeded() bool {
	return s.HardLimit != nil && s.Usage >= *s.HardLimit
}

// limits resolves the agent's effective soft target and hard limit. The
// stored target is clamped into the plan's slider bounds; a nil target
// means unlimited.
func (m *Meter) limits(agent *models.Agent) (soft, hard *int64) {
	if agent.DailyCreditTarget == nil {
		return nil, nil
	}
	cfg := m.planConfig(agent.PlanKey)
	target := *agent.DailyCreditTarget
	if cfg.SliderMin > 0 && target < cfg.SliderMin {
		target = cfg.SliderMin
	}
	if cfg.SliderMax > 0 && target > cfg.SliderMax {
		target = cfg.SliderMax
	}
	limit := target * cfg.HardLimitMultiplier / models.CreditUnit
	return &target, &limit
}

// DailyStatus sums the agent's step costs on the local calendar day and
// resolves its limits.
func (m *Meter) DailyStatus(ctx context.Context, agent *models.Agent, now time.Time, loc *time.Location) (Status, error) {
	start, end := DayWindow(now, loc)
	usage, err := m.steps.SumCost(ctx, agent.ID, start, end)
	if err != nil {
		return Status{}, fmt.Errorf("sum daily cost: %w", err)
	}
	soft, hard := m.limits(agent)
	return Status{Usage: usage, SoftTarget: soft, HardLimit: hard}, nil
}

// PlanMultiplier returns the plan's fixed-point credit multiplier.
func (m *Meter) PlanMultiplier(planKey string) int64 {
	cfg := m.planConfig(planKey)
	if cfg.PlanCreditMultiplier == 0 {
		return models.CreditUnit
	}
	return cfg.PlanCreditMultiplier
}

// DuplicateThreshold returns the plan's outbound similarity threshold, or
// the given default when the plan does not override it.
func (m *Meter) DuplicateThreshold(planKey string, def float64) float64 {
	cfg := m.planConfig(planKey)
	if cfg.DuplicateThreshold > 0 {
		return cfg.DuplicateThreshold
	}
	return def
}
