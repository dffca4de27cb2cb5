package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

func testEvent(reason Reason) Event {
	return Event{Agent: &models.Agent{ID: "a1"}, Reason: reason}
}

func TestDispatchRunsInRegistrationOrder(t *testing.T) {
	r := NewRegistry(nil)
	var ran []string
	r.Register("first", func(context.Context, Event) error {
		ran = append(ran, "first")
		return nil
	})
	r.Register("second", func(context.Context, Event) error {
		ran = append(ran, "second")
		return nil
	})

	r.Dispatch(context.Background(), testEvent(Pause))
	if len(ran) != 2 || ran[0] != "first" || ran[1] != "second" {
		t.Errorf("ran %v, want registration order", ran)
	}
}

func TestDispatchFiltersByReason(t *testing.T) {
	r := NewRegistry(nil)
	var ran []string
	r.Register("all", func(context.Context, Event) error {
		ran = append(ran, "all")
		return nil
	})
	r.Register("delete-only", func(context.Context, Event) error {
		ran = append(ran, "delete-only")
		return nil
	}, HardDelete, SoftExpire)

	r.Dispatch(context.Background(), testEvent(Pause))
	if len(ran) != 1 || ran[0] != "all" {
		t.Fatalf("pause ran %v", ran)
	}

	ran = nil
	r.Dispatch(context.Background(), testEvent(SoftExpire))
	if len(ran) != 2 {
		t.Errorf("soft expire ran %v, want both handlers", ran)
	}
}

func TestDispatchSwallowsHandlerErrors(t *testing.T) {
	r := NewRegistry(nil)
	var ran []string
	r.Register("failing", func(context.Context, Event) error {
		ran = append(ran, "failing")
		return errors.New("boom")
	})
	r.Register("after", func(context.Context, Event) error {
		ran = append(ran, "after")
		return nil
	})

	r.Dispatch(context.Background(), testEvent(HardDelete))
	if len(ran) != 2 {
		t.Errorf("ran %v, a failing handler must not block siblings", ran)
	}
}

type fakeIntegrations struct {
	errored []string
	deleted []string
}

func (f *fakeIntegrations) MarkSessionsErrored(_ context.Context, agentID string) error {
	f.errored = append(f.errored, agentID)
	return nil
}

func (f *fakeIntegrations) DeleteExternalUser(_ context.Context, agentID string) error {
	f.deleted = append(f.deleted, agentID)
	return nil
}

type fakeController struct {
	terminated []string
}

func (f *fakeController) Terminate(_ context.Context, s *models.ComputeSession) error {
	f.terminated = append(f.terminated, s.ID)
	return nil
}

func TestBuiltinsPause(t *testing.T) {
	stores := storage.NewMemoryStores()
	integrations := &fakeIntegrations{}
	controller := &fakeController{}
	r := NewRegistry(nil)
	RegisterBuiltins(r, integrations, stores.Compute, controller)

	r.Dispatch(context.Background(), testEvent(Pause))
	if len(integrations.errored) != 1 {
		t.Error("sessions should be errored on every reason")
	}
	if len(integrations.deleted) != 0 {
		t.Error("external user must survive a pause")
	}
}

func TestBuiltinsHardDeleteTerminatesCompute(t *testing.T) {
	stores := storage.NewMemoryStores()
	ctx := context.Background()
	if err := stores.Compute.Upsert(ctx, &models.ComputeSession{
		ID:             "c1",
		AgentID:        "a1",
		State:          models.ComputeRunning,
		LastActivityAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed compute: %v", err)
	}

	integrations := &fakeIntegrations{}
	controller := &fakeController{}
	r := NewRegistry(nil)
	RegisterBuiltins(r, integrations, stores.Compute, controller)

	r.Dispatch(ctx, testEvent(HardDelete))
	if len(integrations.deleted) != 1 {
		t.Error("hard delete should remove the external user")
	}
	if len(controller.terminated) != 1 {
		t.Fatal("running compute session should be terminated")
	}
	session, err := stores.Compute.GetByAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("compute session: %v", err)
	}
	if session.State != models.ComputeStopped {
		t.Errorf("state = %s, want STOPPED", session.State)
	}
}

func TestBuiltinsSkipStoppedCompute(t *testing.T) {
	stores := storage.NewMemoryStores()
	ctx := context.Background()
	if err := stores.Compute.Upsert(ctx, &models.ComputeSession{
		ID: "c1", AgentID: "a1", State: models.ComputeStopped,
	}); err != nil {
		t.Fatalf("seed compute: %v", err)
	}
	controller := &fakeController{}
	r := NewRegistry(nil)
	RegisterBuiltins(r, nil, stores.Compute, controller)

	r.Dispatch(ctx, testEvent(HardDelete))
	if len(controller.terminated) != 0 {
		t.Error("stopped session must not be terminated again")
	}
}
