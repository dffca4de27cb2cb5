package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

// cronParser accepts the standard five-field format.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule validates a cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Throttle skips scheduled runs for quiet free-plan agents, doubling the
// required gap between runs the longer the agent goes without human
// interaction. Interaction resets the throttle.
type Throttle struct {
	Base time.Duration
	Max  time.Duration
}

// NewThrottle builds a Throttle from the sweep configuration.
func NewThrottle(cfg config.SweepConfig) Throttle {
	return Throttle{Base: cfg.CronBackoffBase, Max: cfg.CronBackoffMax}
}

// Interval returns the required gap between scheduled runs for an agent
// that has been quiet for the given duration. Zero means no throttling.
func (t Throttle) Interval(quiet time.Duration) time.Duration {
	if quiet <= t.Base {
		return 0
	}
	interval := t.Base
	for interval < t.Max && quiet >= 2*interval {
		interval *= 2
	}
	if interval > t.Max {
		interval = t.Max
	}
	return interval
}

// Allow reports whether a scheduled run may fire now. Paid plans are never
// throttled.
func (t Throttle) Allow(agent *models.Agent, lastRun, now time.Time) bool {
	if agent.PlanKey != models.FreePlanKey {
		return true
	}
	if agent.LastInteractionAt.IsZero() {
		return lastRun.IsZero() || now.Sub(lastRun) >= t.Max
	}
	interval := t.Interval(now.Sub(agent.LastInteractionAt))
	if interval == 0 || lastRun.IsZero() {
		return true
	}
	return now.Sub(lastRun) >= interval
}

type scheduleEntry struct {
	id   cron.EntryID
	spec string
}

// Scheduler reconciles agent cron schedules with a process-local cron
// runner that enqueues event processing when an entry fires.
type Scheduler struct {
	agents   storage.AgentStore
	cron     *cron.Cron
	throttle Throttle
	enqueue  func(agentID string)
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]scheduleEntry
	lastRun map[string]time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(agents storage.AgentStore, throttle Throttle, enqueue func(agentID string), logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		agents:   agents,
		cron:     cron.New(cron.WithParser(cronParser)),
		throttle: throttle,
		enqueue:  enqueue,
		logger:   logger,
		now:      time.Now,
		entries:  make(map[string]scheduleEntry),
		lastRun:  make(map[string]time.Time),
	}
}

// Sync reconciles the cron runner with the stored schedules. It returns
// how many entries were added and removed.
func (s *Scheduler) Sync(ctx context.Context) (added, removed int, err error) {
	agents, err := s.agents.ListScheduled(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list scheduled agents: %w", err)
	}

	desired := make(map[string]string, len(agents))
	for _, a := range agents {
		desired[a.ID] = a.Schedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for agentID, entry := range s.entries {
		if spec, ok := desired[agentID]; ok && spec == entry.spec {
			continue
		}
		s.cron.Remove(entry.id)
		delete(s.entries, agentID)
		removed++
	}

	for agentID, spec := range desired {
		if _, ok := s.entries[agentID]; ok {
			continue
		}
		id, aerr := s.cron.AddFunc(spec, s.fire(agentID))
		if aerr != nil {
			s.logger.Warn("skipping invalid schedule", "agent", agentID, "schedule", spec, "error", aerr)
			continue
		}
		s.entries[agentID] = scheduleEntry{id: id, spec: spec}
		added++
	}
	return added, removed, nil
}

// fire wraps one agent's scheduled invocation with the quiet throttle.
func (s *Scheduler) fire(agentID string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		agent, err := s.agents.Get(ctx, agentID)
		if err != nil {
			s.logger.Warn("scheduled agent missing", "agent", agentID, "error", err)
			return
		}
		if !agent.Runnable() {
			return
		}
		now := s.now().UTC()
		s.mu.Lock()
		last := s.lastRun[agentID]
		allowed := s.throttle.Allow(agent, last, now)
		if allowed {
			s.lastRun[agentID] = now
		}
		s.mu.Unlock()
		if !allowed {
			s.logger.Debug("scheduled run throttled", "agent", agentID)
			return
		}
		s.enqueue(agentID)
	}
}

// Start begins firing entries.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the runner and waits for in-flight jobs.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

// Entries reports how many schedules are registered.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
