// Package proactive wakes quiet opted-in agents on a periodic scan, gated
// per owner so no user is pinged twice within the effective interval.
package proactive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

// UserGate suppresses repeat triggers for one owner. TryAcquire returns
// false when the gate is already set; Release clears it early when the
// trigger that acquired it failed.
type UserGate interface {
	TryAcquire(ctx context.Context, userID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, userID string) error
}

// RedisGate implements UserGate with SET NX EX keys.
type RedisGate struct {
	client *redis.Client
	prefix string
}

// NewRedisGate creates a gate on the given client.
func NewRedisGate(client *redis.Client) *RedisGate {
	return &RedisGate{client: client, prefix: "warden:proactive-gate:"}
}

// TryAcquire sets the gate if absent.
func (g *RedisGate) TryAcquire(ctx context.Context, userID string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, g.prefix+userID, "1", ttl).Result()
}

// Release deletes the gate key.
func (g *RedisGate) Release(ctx context.Context, userID string) error {
	return g.client.Del(ctx, g.prefix+userID).Err()
}

// LocalGate implements UserGate in-process, for tests and single-host
// deployments.
type LocalGate struct {
	mu  sync.Mutex
	set map[string]time.Time
	now func() time.Time
}

// NewLocalGate creates an in-process gate.
func NewLocalGate() *LocalGate {
	return &LocalGate{set: make(map[string]time.Time), now: time.Now}
}

// TryAcquire sets the gate if absent or expired.
func (g *LocalGate) TryAcquire(_ context.Context, userID string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if expiry, ok := g.set[userID]; ok && g.now().Before(expiry) {
		return false, nil
	}
	g.set[userID] = g.now().Add(ttl)
	return true, nil
}

// Release clears the gate.
func (g *LocalGate) Release(_ context.Context, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.set, userID)
	return nil
}

// previewLen bounds the inbound preview carried in trigger metadata.
const previewLen = 200

// Scanner finds agents due for a proactive wake-up.
type Scanner struct {
	agents      storage.AgentStore
	systemSteps storage.SystemStepStore
	messages    storage.MessageStore
	gate        UserGate
	cfg         config.ProactiveConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewScanner creates a Scanner.
func NewScanner(agents storage.AgentStore, systemSteps storage.SystemStepStore, messages storage.MessageStore, gate UserGate, cfg config.ProactiveConfig, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		agents:      agents,
		systemSteps: systemSteps,
		messages:    messages,
		gate:        gate,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// effectiveInterval is the agent's configured minimum, floored globally.
func (s *Scanner) effectiveInterval(agent *models.Agent) time.Duration {
	configured := time.Duration(agent.ProactiveMinIntervalMinutes) * time.Minute
	if configured < s.cfg.MinInterval {
		return s.cfg.MinInterval
	}
	return configured
}

// Tick scans once and returns the IDs of agents that were triggered, so
// their event loops can be enqueued.
func (s *Scanner) Tick(ctx context.Context) ([]string, error) {
	candidates, err := s.agents.ListProactiveCandidates(ctx, s.cfg.ScanLimit)
	if err != nil {
		return nil, fmt.Errorf("list proactive candidates: %w", err)
	}

	now := s.now().UTC()
	chosen := make(map[string]bool)
	var triggered []string

	for _, agent := range candidates {
		if !agent.ProactiveEnabled || !agent.Runnable() {
			continue
		}
		if chosen[agent.OwnerID] {
			continue
		}
		if !agent.LastInteractionAt.IsZero() && now.Sub(agent.LastInteractionAt) < s.cfg.Cooldown {
			continue
		}
		interval := s.effectiveInterval(agent)
		if !agent.ProactiveLastTriggerAt.IsZero() && now.Sub(agent.ProactiveLastTriggerAt) < interval {
			continue
		}

		ok, err := s.gate.TryAcquire(ctx, agent.OwnerID, interval)
		if err != nil {
			s.logger.Error("proactive gate", "owner", agent.OwnerID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		if err := s.trigger(ctx, agent, now); err != nil {
			s.logger.Error("proactive trigger", "agent", agent.ID, "error", err)
			// A failed trigger must not hold the owner's gate for the
			// whole interval.
			if rerr := s.gate.Release(ctx, agent.OwnerID); rerr != nil {
				s.logger.Error("proactive gate release", "owner", agent.OwnerID, "error", rerr)
			}
			continue
		}
		chosen[agent.OwnerID] = true
		triggered = append(triggered, agent.ID)
	}
	return triggered, nil
}

// trigger records the wake-up marker and advances the trigger timestamp
// together, so a crash between the two cannot double-trigger.
func (s *Scanner) trigger(ctx context.Context, agent *models.Agent, now time.Time) error {
	notes := map[string]any{
		"quiet_since": agent.LastInteractionAt,
	}
	if preview := s.inboundPreview(ctx, agent.ID); preview != "" {
		notes["last_inbound_preview"] = preview
	}

	agent.ProactiveLastTriggerAt = now
	agent.UpdatedAt = now
	if err := s.agents.Update(ctx, agent); err != nil {
		return fmt.Errorf("advance trigger timestamp: %w", err)
	}
	marker := &models.SystemStep{
		AgentID:   agent.ID,
		Code:      models.SystemProactiveTrigger,
		Notes:     notes,
		CreatedAt: now,
	}
	if err := s.systemSteps.Create(ctx, marker); err != nil {
		return fmt.Errorf("write trigger marker: %w", err)
	}
	return nil
}

func (s *Scanner) inboundPreview(ctx context.Context, agentID string) string {
	msgs, err := s.messages.ListRecentByAgent(ctx, agentID, 10)
	if err != nil {
		return ""
	}
	for _, m := range msgs {
		if m.IsOutbound {
			continue
		}
		body := m.Body
		if len(body) > previewLen {
			body = body[:previewLen]
		}
		return body
	}
	return ""
}

// Run ticks on the configured cadence until ctx is done, handing triggered
// agents to enqueue.
func (s *Scanner) Run(ctx context.Context, enqueue func(agentID string)) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			triggered, err := s.Tick(ctx)
			if err != nil {
				s.logger.Error("proactive tick", "error", err)
				continue
			}
			for _, id := range triggered {
				enqueue(id)
			}
		}
	}
}
