package credits

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

// Refresher recomputes rolling-window burn-rate snapshots.
type Refresher struct {
	agents storage.AgentStore
	steps  storage.StepStore
	burns  storage.BurnRateStore
	logger *slog.Logger
	now    func() time.Time
}

// NewRefresher creates a Refresher.
func NewRefresher(agents storage.AgentStore, steps storage.StepStore, burns storage.BurnRateStore, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{agents: agents, steps: steps, burns: burns, logger: logger, now: time.Now}
}

// RefreshAgent upserts the agent-scope snapshot for one window size.
func (r *Refresher) RefreshAgent(ctx context.Context, agentID string, windowMinutes int) (*models.BurnRateSnapshot, error) {
	now := r.now().UTC()
	since := now.Add(-time.Duration(windowMinutes) * time.Minute)
	total, err := r.steps.SumCost(ctx, agentID, since, now)
	if err != nil {
		return nil, fmt.Errorf("sum window cost: %w", err)
	}
	snap := project(models.ScopeAgent, agentID, windowMinutes, total, now)
	if err := r.burns.Upsert(ctx, snap); err != nil {
		return nil, fmt.Errorf("upsert burn rate: %w", err)
	}
	return snap, nil
}

// RefreshOwner aggregates all of an owner's agents into one owner-scope
// snapshot.
func (r *Refresher) RefreshOwner(ctx context.Context, ownerType models.OwnerType, ownerID string, windowMinutes int) (*models.BurnRateSnapshot, error) {
	agents, err := r.agents.ListByOwner(ctx, ownerType, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list owner agents: %w", err)
	}
	now := r.now().UTC()
	since := now.Add(-time.Duration(windowMinutes) * time.Minute)
	var total int64
	for _, a := range agents {
		sum, err := r.steps.SumCost(ctx, a.ID, since, now)
		if err != nil {
			return nil, fmt.Errorf("sum window cost for %s: %w", a.ID, err)
		}
		total += sum
	}
	scope := models.ScopeUser
	if ownerType == models.OwnerOrg {
		scope = models.ScopeOrg
	}
	snap := project(scope, ownerID, windowMinutes, total, now)
	if err := r.burns.Upsert(ctx, snap); err != nil {
		return nil, fmt.Errorf("upsert burn rate: %w", err)
	}
	return snap, nil
}

// project derives hourly and daily projections from a window total.
func project(scope models.ScopeType, scopeID string, windowMinutes int, total int64, now time.Time) *models.BurnRateSnapshot {
	perHour := int64(0)
	if windowMinutes > 0 {
		perHour = total * 60 / int64(windowMinutes)
	}
	return &models.BurnRateSnapshot{
		ScopeType:     scope,
		ScopeID:       scopeID,
		WindowMinutes: windowMinutes,
		WindowTotal:   total,
		PerHour:       perHour,
		PerDay:        perHour * 24,
		UpdatedAt:     now,
	}
}

// Run refreshes owner snapshots on an interval until ctx is done. Errors
// are logged, not fatal.
func (r *Refresher) Run(ctx context.Context, interval time.Duration, windowMinutes int, owners func(context.Context) ([]models.BurnRateSnapshot, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scopes, err := owners(ctx)
			if err != nil {
				r.logger.Error("list burn-rate scopes", "error", err)
				continue
			}
			for _, s := range scopes {
				switch s.ScopeType {
				case models.ScopeAgent:
					_, err = r.RefreshAgent(ctx, s.ScopeID, windowMinutes)
				case models.ScopeOrg:
					_, err = r.RefreshOwner(ctx, models.OwnerOrg, s.ScopeID, windowMinutes)
				default:
					_, err = r.RefreshOwner(ctx, models.OwnerUser, s.ScopeID, windowMinutes)
				}
				if err != nil {
					r.logger.Error("refresh burn rate", "scope", s.ScopeType, "id", s.ScopeID, "error", err)
				}
			}
		}
	}
}
