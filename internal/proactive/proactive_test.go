package proactive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

func testConfig() config.ProactiveConfig {
	return config.ProactiveConfig{
		Enabled:      true,
		TickInterval: time.Minute,
		ScanLimit:    50,
		Cooldown:     72 * time.Hour,
		MinInterval:  7 * 24 * time.Hour,
	}
}

func newScanner(stores *storage.StoreSet) *Scanner {
	return NewScanner(stores.Agents, stores.SystemSteps, stores.Messages, NewLocalGate(), testConfig(), nil)
}

func seedCandidate(t *testing.T, stores *storage.StoreSet, id, owner string, mutate func(*models.Agent)) {
	t.Helper()
	agent := &models.Agent{
		ID:                id,
		OwnerType:         models.OwnerUser,
		OwnerID:           owner,
		Name:              "Agent " + id,
		LifeState:         models.LifeStateActive,
		IsActive:          true,
		ProactiveEnabled:  true,
		PlanKey:           "free",
		LastInteractionAt: time.Now().UTC().Add(-96 * time.Hour),
		CreatedAt:         time.Now().UTC().Add(-30 * 24 * time.Hour),
	}
	if mutate != nil {
		mutate(agent)
	}
	if err := stores.Agents.Create(context.Background(), agent); err != nil {
		t.Fatalf("create agent %s: %v", id, err)
	}
}

func TestTickTriggersQuietAgent(t *testing.T) {
	stores := storage.NewMemoryStores()
	seedCandidate(t, stores, "a1", "u1", nil)
	s := newScanner(stores)
	ctx := context.Background()

	triggered, err := s.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(triggered) != 1 || triggered[0] != "a1" {
		t.Fatalf("triggered = %v", triggered)
	}

	markers, _ := stores.SystemSteps.ListUnconsumed(ctx, "a1", models.SystemProactiveTrigger)
	if len(markers) != 1 {
		t.Fatalf("markers = %d", len(markers))
	}
	agent, _ := stores.Agents.Get(ctx, "a1")
	if agent.ProactiveLastTriggerAt.IsZero() {
		t.Error("trigger timestamp must advance")
	}
}

func TestTickRespectsActivityCooldown(t *testing.T) {
	stores := storage.NewMemoryStores()
	seedCandidate(t, stores, "a1", "u1", func(a *models.Agent) {
		a.LastInteractionAt = time.Now().UTC().Add(-24 * time.Hour)
	})
	s := newScanner(stores)

	triggered, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(triggered) != 0 {
		t.Errorf("recently active agent must not be woken, got %v", triggered)
	}
}

func TestTickDedupsOwnerPerTick(t *testing.T) {
	stores := storage.NewMemoryStores()
	seedCandidate(t, stores, "a1", "u1", nil)
	seedCandidate(t, stores, "a2", "u1", nil)
	s := newScanner(stores)

	triggered, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(triggered) != 1 {
		t.Errorf("one owner gets at most one trigger per tick, got %v", triggered)
	}
}

func TestIntervalFlooredToWeekly(t *testing.T) {
	stores := storage.NewMemoryStores()
	seedCandidate(t, stores, "a1", "u1", func(a *models.Agent) {
		a.ProactiveMinIntervalMinutes = 60
		a.ProactiveLastTriggerAt = time.Now().UTC().Add(-48 * time.Hour)
	})
	s := newScanner(stores)

	triggered, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(triggered) != 0 {
		t.Errorf("hourly configuration must be floored to the weekly minimum, got %v", triggered)
	}
}

func TestGateSuppressesWithinInterval(t *testing.T) {
	stores := storage.NewMemoryStores()
	seedCandidate(t, stores, "a1", "u1", nil)
	s := newScanner(stores)
	ctx := context.Background()

	if triggered, _ := s.Tick(ctx); len(triggered) != 1 {
		t.Fatalf("first tick should trigger, got %v", triggered)
	}

	// Rewind the agent's trigger timestamp; the owner gate alone must
	// still suppress the repeat.
	agent, _ := stores.Agents.Get(ctx, "a1")
	agent.ProactiveLastTriggerAt = time.Time{}
	if err := stores.Agents.Update(ctx, agent); err != nil {
		t.Fatalf("update: %v", err)
	}
	if triggered, _ := s.Tick(ctx); len(triggered) != 0 {
		t.Errorf("owner gate must suppress repeat triggers, got %v", triggered)
	}
}

func TestTriggerCarriesInboundPreview(t *testing.T) {
	stores := storage.NewMemoryStores()
	seedCandidate(t, stores, "a1", "u1", nil)
	ctx := context.Background()
	if err := stores.Messages.Create(ctx, &models.Message{
		AgentID:     "a1",
		Channel:     models.ChannelEmail,
		FromAddress: "u@example.com",
		Body:        "can you check flight prices next week",
		CreatedAt:   time.Now().UTC().Add(-96 * time.Hour),
	}); err != nil {
		t.Fatalf("seed inbound: %v", err)
	}
	s := newScanner(stores)

	if _, err := s.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	markers, _ := stores.SystemSteps.ListUnconsumed(ctx, "a1", models.SystemProactiveTrigger)
	if len(markers) != 1 {
		t.Fatalf("markers = %d", len(markers))
	}
	preview, _ := markers[0].Notes["last_inbound_preview"].(string)
	if preview != "can you check flight prices next week" {
		t.Errorf("preview = %q", preview)
	}
}

// flakySystemSteps fails the first marker writes, then recovers.
type flakySystemSteps struct {
	storage.SystemStepStore
	failures int
}

func (f *flakySystemSteps) Create(ctx context.Context, s *models.SystemStep) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("marker store unavailable")
	}
	return f.SystemStepStore.Create(ctx, s)
}

func TestFailedTriggerReleasesOwnerGate(t *testing.T) {
	stores := storage.NewMemoryStores()
	seedCandidate(t, stores, "a1", "u1", func(a *models.Agent) {
		a.LastInteractionAt = time.Now().UTC().Add(-100 * time.Hour)
	})
	seedCandidate(t, stores, "a2", "u1", func(a *models.Agent) {
		a.LastInteractionAt = time.Now().UTC().Add(-96 * time.Hour)
	})
	steps := &flakySystemSteps{SystemStepStore: stores.SystemSteps, failures: 1}
	s := NewScanner(stores.Agents, steps, stores.Messages, NewLocalGate(), testConfig(), nil)

	// a1 scans first and its marker write fails; the owner's gate must be
	// released so a2 can still be triggered in the same tick.
	triggered, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(triggered) != 1 || triggered[0] != "a2" {
		t.Fatalf("triggered = %v, want [a2]", triggered)
	}
}
