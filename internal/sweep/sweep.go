// Package sweep runs the periodic maintenance passes: free-plan soft
// expiration, the scheduled-run throttle, and the sandbox idle stop.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/lifecycle"
	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

// Notifier delivers the one-time sleep notice to the agent's preferred
// endpoint. A nil notifier skips the notice.
type Notifier func(ctx context.Context, agent *models.Agent, channel models.Channel, address, subject, body string) error

const (
	sleepSubject = "Your agent went to sleep"
	sleepBody    = "It has been quiet for a while, so your agent's schedule was paused. Send it a message any time to wake it up."
)

// Sweeper applies soft expiration and stops idle sandboxes.
type Sweeper struct {
	agents     storage.AgentStore
	endpoints  storage.EndpointStore
	compute    storage.ComputeStore
	shutdown   *lifecycle.Registry
	controller lifecycle.ComputeController
	notify     Notifier
	cfg        config.SweepConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewSweeper creates a Sweeper. controller and notify may be nil.
func NewSweeper(agents storage.AgentStore, endpoints storage.EndpointStore, compute storage.ComputeStore, shutdown *lifecycle.Registry, controller lifecycle.ComputeController, notify Notifier, cfg config.SweepConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		agents:     agents,
		endpoints:  endpoints,
		compute:    compute,
		shutdown:   shutdown,
		controller: controller,
		notify:     notify,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// ExpireOnce runs one soft-expiration pass over quiet free-plan agents and
// returns the IDs it expired.
func (s *Sweeper) ExpireOnce(ctx context.Context) ([]string, error) {
	now := s.now().UTC()
	cutoff := now.Add(-s.cfg.ExpireAfter)
	candidates, err := s.agents.ListExpirationCandidates(ctx, models.FreePlanKey, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expiration candidates: %w", err)
	}

	var expired []string
	for _, agent := range candidates {
		// A fresh downgrade gets a grace window before the sweep applies.
		if !agent.PlanDowngradedAt.IsZero() && now.Sub(agent.PlanDowngradedAt) < s.cfg.DowngradeGrace {
			continue
		}
		if !agent.CanTransitionTo(models.LifeStateExpired) {
			continue
		}
		if err := s.expire(ctx, agent, now); err != nil {
			s.logger.Error("soft expire", "agent", agent.ID, "error", err)
			continue
		}
		expired = append(expired, agent.ID)
	}
	return expired, nil
}

func (s *Sweeper) expire(ctx context.Context, agent *models.Agent, now time.Time) error {
	agent.ScheduleSnapshot = agent.Schedule
	agent.Schedule = ""
	agent.LifeState = models.LifeStateExpired
	agent.LastExpiredAt = now
	sendNotice := !agent.SentExpirationNotice
	if sendNotice {
		agent.SentExpirationNotice = true
	}
	agent.UpdatedAt = now
	if err := s.agents.Update(ctx, agent); err != nil {
		return fmt.Errorf("persist expiration: %w", err)
	}

	if s.shutdown != nil {
		s.shutdown.Dispatch(ctx, lifecycle.Event{Agent: agent, Reason: lifecycle.SoftExpire})
	}
	if sendNotice {
		s.sendSleepNotice(ctx, agent)
	}
	s.logger.Info("agent soft-expired", "agent", agent.ID, "schedule_snapshot", agent.ScheduleSnapshot)
	return nil
}

func (s *Sweeper) sendSleepNotice(ctx context.Context, agent *models.Agent) {
	if s.notify == nil || agent.PreferredEndpointID == "" {
		return
	}
	ep, err := s.endpoints.Get(ctx, agent.PreferredEndpointID)
	if err != nil {
		s.logger.Warn("sleep notice endpoint missing", "agent", agent.ID, "error", err)
		return
	}
	if err := s.notify(ctx, agent, ep.Channel, ep.Address, sleepSubject, sleepBody); err != nil {
		s.logger.Warn("sleep notice delivery failed", "agent", agent.ID, "error", err)
	}
}

// RestoreOnInbound wakes an expired agent on new inbound interaction:
// EXPIRED returns to ACTIVE, the schedule snapshot is restored, and the
// notice flag is cleared so a later quiet period notifies again.
func (s *Sweeper) RestoreOnInbound(ctx context.Context, agentID string) error {
	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return fmt.Errorf("load agent: %w", err)
	}
	now := s.now().UTC()
	agent.LastInteractionAt = now
	agent.SentExpirationNotice = false
	if agent.LifeState == models.LifeStateExpired && agent.CanTransitionTo(models.LifeStateActive) {
		agent.LifeState = models.LifeStateActive
		if agent.Schedule == "" && agent.ScheduleSnapshot != "" {
			agent.Schedule = agent.ScheduleSnapshot
			agent.ScheduleSnapshot = ""
		}
	}
	agent.UpdatedAt = now
	if err := s.agents.Update(ctx, agent); err != nil {
		return fmt.Errorf("restore agent: %w", err)
	}
	return nil
}

// SweepIdleSandboxes stops sandbox sessions idle past the TTL and returns
// how many it stopped.
func (s *Sweeper) SweepIdleSandboxes(ctx context.Context, idleTTL time.Duration) (int, error) {
	if s.compute == nil || s.controller == nil {
		return 0, nil
	}
	now := s.now().UTC()
	sessions, err := s.compute.ListIdle(ctx, now.Add(-idleTTL))
	if err != nil {
		return 0, fmt.Errorf("list idle sandboxes: %w", err)
	}
	stopped := 0
	for _, session := range sessions {
		if err := s.controller.Terminate(ctx, session); err != nil {
			s.logger.Error("stop idle sandbox", "session", session.ID, "error", err)
			continue
		}
		session.State = models.ComputeStopped
		session.StoppedAt = now
		if err := s.compute.Upsert(ctx, session); err != nil {
			s.logger.Error("persist sandbox stop", "session", session.ID, "error", err)
			continue
		}
		stopped++
	}
	return stopped, nil
}

// Run executes the expiration pass on the given cadence until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, sandboxTTL time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.ExpireOnce(ctx); err != nil {
				s.logger.Error("expiration sweep", "error", err)
			}
			if sandboxTTL > 0 {
				if _, err := s.SweepIdleSandboxes(ctx, sandboxTTL); err != nil {
					s.logger.Error("sandbox sweep", "error", err)
				}
			}
		}
	}
}
