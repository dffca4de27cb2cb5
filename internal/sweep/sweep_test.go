package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/lifecycle"
	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

func testSweepConfig() config.SweepConfig {
	return config.SweepConfig{
		ExpireAfter:     30 * 24 * time.Hour,
		DowngradeGrace:  48 * time.Hour,
		CronBackoffBase: time.Minute,
		CronBackoffMax:  24 * time.Hour,
	}
}

type sentNotice struct {
	agentID string
	address string
	subject string
}

func newTestSweeper(stores *storage.StoreSet, notices *[]sentNotice) *Sweeper {
	notify := func(_ context.Context, agent *models.Agent, _ models.Channel, address, subject, _ string) error {
		*notices = append(*notices, sentNotice{agentID: agent.ID, address: address, subject: subject})
		return nil
	}
	return NewSweeper(stores.Agents, stores.Endpoints, stores.Compute,
		lifecycle.NewRegistry(nil), nil, notify, testSweepConfig(), nil)
}

func seedQuietAgent(t *testing.T, stores *storage.StoreSet, mutate func(*models.Agent)) *models.Agent {
	t.Helper()
	ctx := context.Background()
	ep, err := stores.Endpoints.GetOrCreate(ctx, &models.CommsEndpoint{
		Channel: models.ChannelEmail,
		Address: "owner@example.com",
	})
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	agent := &models.Agent{
		ID:                  "a1",
		OwnerType:           models.OwnerUser,
		OwnerID:             "u1",
		Name:                "Quiet",
		Schedule:            "0 9 * * *",
		LifeState:           models.LifeStateActive,
		IsActive:            true,
		PlanKey:             models.FreePlanKey,
		PreferredEndpointID: ep.ID,
		LastInteractionAt:   time.Now().UTC().Add(-45 * 24 * time.Hour),
		CreatedAt:           time.Now().UTC().Add(-90 * 24 * time.Hour),
	}
	if mutate != nil {
		mutate(agent)
	}
	if err := stores.Agents.Create(ctx, agent); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return agent
}

func TestExpireOnceSnapshotsSchedule(t *testing.T) {
	stores := storage.NewMemoryStores()
	var notices []sentNotice
	s := newTestSweeper(stores, &notices)
	seedQuietAgent(t, stores, nil)
	ctx := context.Background()

	expired, err := s.ExpireOnce(ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 1 || expired[0] != "a1" {
		t.Fatalf("expired = %v", expired)
	}

	agent, _ := stores.Agents.Get(ctx, "a1")
	if agent.LifeState != models.LifeStateExpired {
		t.Errorf("life state = %s", agent.LifeState)
	}
	if agent.Schedule != "" || agent.ScheduleSnapshot != "0 9 * * *" {
		t.Errorf("schedule = %q, snapshot = %q", agent.Schedule, agent.ScheduleSnapshot)
	}
	if agent.LastExpiredAt.IsZero() || !agent.SentExpirationNotice {
		t.Errorf("expiration bookkeeping missing: %+v", agent)
	}
	if len(notices) != 1 || notices[0].address != "owner@example.com" {
		t.Errorf("notices = %+v", notices)
	}
}

func TestExpireOnceIsOneShotPerQuietPeriod(t *testing.T) {
	stores := storage.NewMemoryStores()
	var notices []sentNotice
	s := newTestSweeper(stores, &notices)
	seedQuietAgent(t, stores, nil)
	ctx := context.Background()

	if _, err := s.ExpireOnce(ctx); err != nil {
		t.Fatalf("first expire: %v", err)
	}
	expired, err := s.ExpireOnce(ctx)
	if err != nil {
		t.Fatalf("second expire: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("an EXPIRED agent must not be swept again, got %v", expired)
	}
	if len(notices) != 1 {
		t.Errorf("notices = %d, want exactly one", len(notices))
	}
}

func TestExpireSkipsDowngradeGrace(t *testing.T) {
	stores := storage.NewMemoryStores()
	var notices []sentNotice
	s := newTestSweeper(stores, &notices)
	seedQuietAgent(t, stores, func(a *models.Agent) {
		a.PlanDowngradedAt = time.Now().UTC().Add(-24 * time.Hour)
	})

	expired, err := s.ExpireOnce(context.Background())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("fresh downgrades get a grace window, got %v", expired)
	}
}

func TestRestoreOnInbound(t *testing.T) {
	stores := storage.NewMemoryStores()
	var notices []sentNotice
	s := newTestSweeper(stores, &notices)
	seedQuietAgent(t, stores, nil)
	ctx := context.Background()

	if _, err := s.ExpireOnce(ctx); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if err := s.RestoreOnInbound(ctx, "a1"); err != nil {
		t.Fatalf("restore: %v", err)
	}

	agent, _ := stores.Agents.Get(ctx, "a1")
	if agent.LifeState != models.LifeStateActive {
		t.Errorf("life state = %s", agent.LifeState)
	}
	if agent.Schedule != "0 9 * * *" || agent.ScheduleSnapshot != "" {
		t.Errorf("schedule = %q, snapshot = %q", agent.Schedule, agent.ScheduleSnapshot)
	}
	if agent.SentExpirationNotice {
		t.Error("notice flag must clear on interaction")
	}
}

type stopController struct {
	stopped []string
}

func (c *stopController) Terminate(_ context.Context, s *models.ComputeSession) error {
	c.stopped = append(c.stopped, s.ID)
	return nil
}

func TestSweepIdleSandboxes(t *testing.T) {
	stores := storage.NewMemoryStores()
	ctx := context.Background()
	now := time.Now().UTC()
	for _, session := range []*models.ComputeSession{
		{ID: "c1", AgentID: "a1", State: models.ComputeRunning, LastActivityAt: now.Add(-2 * time.Hour)},
		{ID: "c2", AgentID: "a2", State: models.ComputeRunning, LastActivityAt: now.Add(-time.Minute)},
	} {
		if err := stores.Compute.Upsert(ctx, session); err != nil {
			t.Fatalf("seed compute: %v", err)
		}
	}
	controller := &stopController{}
	s := NewSweeper(stores.Agents, stores.Endpoints, stores.Compute,
		nil, controller, nil, testSweepConfig(), nil)

	stopped, err := s.SweepIdleSandboxes(ctx, time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stopped != 1 || len(controller.stopped) != 1 || controller.stopped[0] != "c1" {
		t.Fatalf("stopped = %d, controller = %v", stopped, controller.stopped)
	}
	session, _ := stores.Compute.GetByAgent(ctx, "a1")
	if session.State != models.ComputeStopped || session.StoppedAt.IsZero() {
		t.Errorf("session = %+v", session)
	}
}

func TestThrottleDoublesWithQuiet(t *testing.T) {
	th := Throttle{Base: time.Minute, Max: 24 * time.Hour}

	if got := th.Interval(30 * time.Second); got != 0 {
		t.Errorf("fresh interaction interval = %v, want 0", got)
	}
	if got := th.Interval(5 * time.Minute); got != 4*time.Minute {
		t.Errorf("5m quiet interval = %v, want 4m", got)
	}
	if got := th.Interval(90 * 24 * time.Hour); got != 24*time.Hour {
		t.Errorf("long quiet interval = %v, want the cap", got)
	}
}

func TestThrottleAllow(t *testing.T) {
	th := Throttle{Base: time.Minute, Max: 24 * time.Hour}
	now := time.Now().UTC()

	paid := &models.Agent{PlanKey: "pro", LastInteractionAt: now.Add(-90 * 24 * time.Hour)}
	if !th.Allow(paid, now.Add(-time.Second), now) {
		t.Error("paid plans are never throttled")
	}

	free := &models.Agent{PlanKey: models.FreePlanKey, LastInteractionAt: now.Add(-5 * time.Minute)}
	if !th.Allow(free, now.Add(-10*time.Minute), now) {
		t.Error("gap past the required interval must run")
	}
	if th.Allow(free, now.Add(-time.Minute), now) {
		t.Error("gap inside the required interval must be skipped")
	}

	// Interaction resets the throttle.
	free.LastInteractionAt = now.Add(-10 * time.Second)
	if !th.Allow(free, now.Add(-time.Second), now) {
		t.Error("recent interaction must clear the throttle")
	}
}

func TestSchedulerSync(t *testing.T) {
	stores := storage.NewMemoryStores()
	ctx := context.Background()
	for _, a := range []*models.Agent{
		{ID: "a1", Name: "one", Schedule: "0 9 * * *", LifeState: models.LifeStateActive, IsActive: true, PlanKey: "pro"},
		{ID: "a2", Name: "two", Schedule: "*/5 * * * *", LifeState: models.LifeStateActive, IsActive: true, PlanKey: "pro"},
		{ID: "a3", Name: "paused", Schedule: "0 9 * * *", LifeState: models.LifeStatePaused, IsActive: false, PlanKey: "pro"},
	} {
		if err := stores.Agents.Create(ctx, a); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	sched := NewScheduler(stores.Agents, NewThrottle(testSweepConfig()), func(string) {}, nil)

	added, removed, err := sched.Sync(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if added != 2 || removed != 0 || sched.Entries() != 2 {
		t.Fatalf("added = %d, removed = %d, entries = %d", added, removed, sched.Entries())
	}

	// Clearing a schedule drops its entry on the next sync.
	a1, _ := stores.Agents.Get(ctx, "a1")
	a1.Schedule = ""
	if err := stores.Agents.Update(ctx, a1); err != nil {
		t.Fatalf("update: %v", err)
	}
	added, removed, err = sched.Sync(ctx)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if added != 0 || removed != 1 || sched.Entries() != 1 {
		t.Errorf("added = %d, removed = %d, entries = %d", added, removed, sched.Entries())
	}
}

func TestSchedulerRejectsInvalidSpec(t *testing.T) {
	stores := storage.NewMemoryStores()
	ctx := context.Background()
	if err := stores.Agents.Create(ctx, &models.Agent{
		ID: "a1", Name: "bad", Schedule: "not a cron", LifeState: models.LifeStateActive, IsActive: true,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	sched := NewScheduler(stores.Agents, NewThrottle(testSweepConfig()), func(string) {}, nil)

	added, _, err := sched.Sync(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if added != 0 || sched.Entries() != 0 {
		t.Errorf("invalid schedules must be skipped, entries = %d", sched.Entries())
	}
}

func TestParseSchedule(t *testing.T) {
	if _, err := ParseSchedule("0 9 * * 1"); err != nil {
		t.Errorf("valid spec rejected: %v", err)
	}
	if _, err := ParseSchedule("every morning"); err == nil {
		t.Error("invalid spec accepted")
	}
}
