package evals

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

func seedSuite(mem *storage.Memory, slug string, prompts map[string]string) {
	var scenarios []*models.EvalScenario
	for scenarioSlug, prompt := range prompts {
		scenarios = append(scenarios, &models.EvalScenario{Slug: scenarioSlug, Prompt: prompt})
	}
	mem.SeedSuite(&models.EvalSuite{Slug: slug, Name: slug}, scenarios)
}

func defaultOptions(suites ...string) Options {
	return Options{
		Suites:       suites,
		Strategy:     models.AgentEphemeralPerScenario,
		RunType:      models.EvalRunOneOff,
		Sync:         true,
		PollInterval: time.Millisecond,
		PollTimeout:  time.Second,
	}
}

// recordStep simulates a successful loop invocation.
func recordStep(stores *storage.StoreSet, failed bool) ProcessFunc {
	return func(ctx context.Context, agentID string) error {
		return stores.Steps.Create(ctx, &models.Step{
			ID:          uuid.NewString(),
			AgentID:     agentID,
			Description: "replied to the scenario prompt",
			Failed:      failed,
			CreatedAt:   time.Now().UTC(),
		})
	}
}

// currentRunID captures the run minted by the most recent Run call. Tests
// are sequential, so a package variable is enough.
var currentRunID string

func tasksOf(t *testing.T, stores *storage.StoreSet) []*models.EvalTask {
	t.Helper()
	tasks, err := stores.Evals.TasksByRun(context.Background(), currentRunID)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	return tasks
}

func newTestRunner(stores *storage.StoreSet, process ProcessFunc) *Runner {
	r := NewRunner(stores, process, nil)
	r.stores.Evals = &runCapture{EvalStore: stores.Evals}
	return r
}

type runCapture struct {
	storage.EvalStore
}

func (c *runCapture) CreateRun(ctx context.Context, run *models.EvalRun) error {
	if err := c.EvalStore.CreateRun(ctx, run); err != nil {
		return err
	}
	currentRunID = run.ID
	return nil
}

func TestRunEphemeralScenariosPass(t *testing.T) {
	mem := storage.NewMemory()
	stores := mem.Stores()
	seedSuite(mem, "onboarding", map[string]string{
		"greet":  "Say hello to your owner.",
		"digest": "Summarize yesterday's inbox.",
	})
	var seen []string
	process := func(ctx context.Context, agentID string) error {
		seen = append(seen, agentID)
		return recordStep(stores, false)(ctx, agentID)
	}
	r := newTestRunner(stores, process)

	code, err := r.Run(context.Background(), defaultOptions("onboarding"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != ExitOK {
		t.Fatalf("exit = %d, want %d", code, ExitOK)
	}
	if len(seen) != 2 || seen[0] == seen[1] {
		t.Errorf("ephemeral strategy must mint one agent per scenario, got %v", seen)
	}
	tasks := tasksOf(t, stores)
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d", len(tasks))
	}
	for _, task := range tasks {
		if task.State != models.EvalTaskPassed {
			t.Errorf("task %s state = %s, detail = %s", task.ID, task.State, task.Detail)
		}
		if task.AgentID == "" {
			t.Errorf("task %s missing agent", task.ID)
		}
	}
}

func TestRunSeedsScenarioPrompt(t *testing.T) {
	mem := storage.NewMemory()
	stores := mem.Stores()
	seedSuite(mem, "onboarding", map[string]string{"greet": "Say hello to your owner."})
	var gotPrompt string
	process := func(ctx context.Context, agentID string) error {
		msgs, err := stores.Messages.ListRecentByAgent(ctx, agentID, 10)
		if err != nil {
			return err
		}
		if len(msgs) == 1 {
			gotPrompt = msgs[0].Body
		}
		return recordStep(stores, false)(ctx, agentID)
	}
	r := newTestRunner(stores, process)

	if _, err := r.Run(context.Background(), defaultOptions("onboarding")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if gotPrompt != "Say hello to your owner." {
		t.Errorf("prompt seeded = %q", gotPrompt)
	}
}

func TestRunPartialFailure(t *testing.T) {
	mem := storage.NewMemory()
	stores := mem.Stores()
	seedSuite(mem, "onboarding", map[string]string{
		"greet":  "Say hello.",
		"broken": "This one explodes.",
	})
	process := func(ctx context.Context, agentID string) error {
		agent, err := stores.Agents.Get(ctx, agentID)
		if err != nil {
			return err
		}
		if strings.Contains(agent.Name, "broken") {
			return errors.New("simulated loop failure")
		}
		return recordStep(stores, false)(ctx, agentID)
	}
	r := newTestRunner(stores, process)

	code, err := r.Run(context.Background(), defaultOptions("onboarding"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != ExitPartialFailure {
		t.Fatalf("exit = %d, want %d", code, ExitPartialFailure)
	}
	var errored, passed int
	for _, task := range tasksOf(t, stores) {
		switch task.State {
		case models.EvalTaskErrored:
			errored++
			if !strings.Contains(task.Detail, "simulated loop failure") {
				t.Errorf("errored detail = %q", task.Detail)
			}
		case models.EvalTaskPassed:
			passed++
		}
	}
	if errored != 1 || passed != 1 {
		t.Errorf("errored = %d, passed = %d", errored, passed)
	}
}

func TestRunFailsOnFailedStep(t *testing.T) {
	mem := storage.NewMemory()
	stores := mem.Stores()
	seedSuite(mem, "onboarding", map[string]string{"greet": "Say hello."})
	r := newTestRunner(stores, recordStep(stores, true))

	code, err := r.Run(context.Background(), defaultOptions("onboarding"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != ExitPartialFailure {
		t.Fatalf("exit = %d, want %d", code, ExitPartialFailure)
	}
	tasks := tasksOf(t, stores)
	if len(tasks) != 1 || tasks[0].State != models.EvalTaskFailed {
		t.Fatalf("tasks = %+v", tasks)
	}
}

func TestRunReuseAgent(t *testing.T) {
	mem := storage.NewMemory()
	stores := mem.Stores()
	seedSuite(mem, "onboarding", map[string]string{
		"greet":  "Say hello.",
		"digest": "Summarize the inbox.",
	})
	ctx := context.Background()
	if err := stores.Agents.Create(ctx, &models.Agent{
		ID: "shared", OwnerType: models.OwnerUser, OwnerID: "u1", Name: "Shared",
		LifeState: models.LifeStateActive, IsActive: true,
	}); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	var seen []string
	process := func(ctx context.Context, agentID string) error {
		seen = append(seen, agentID)
		return recordStep(stores, false)(ctx, agentID)
	}
	r := newTestRunner(stores, process)

	opts := defaultOptions("onboarding")
	opts.Strategy = models.AgentReuse
	opts.AgentID = "shared"
	code, err := r.Run(ctx, opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != ExitOK {
		t.Fatalf("exit = %d", code)
	}
	if len(seen) != 2 || seen[0] != "shared" || seen[1] != "shared" {
		t.Errorf("reuse strategy must keep one agent, got %v", seen)
	}
}

func TestRunScenarioFilter(t *testing.T) {
	mem := storage.NewMemory()
	stores := mem.Stores()
	seedSuite(mem, "onboarding", map[string]string{
		"greet":  "Say hello.",
		"digest": "Summarize the inbox.",
	})
	calls := 0
	process := func(ctx context.Context, agentID string) error {
		calls++
		return recordStep(stores, false)(ctx, agentID)
	}
	r := newTestRunner(stores, process)

	opts := defaultOptions("onboarding")
	opts.Scenario = "digest"
	code, err := r.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != ExitOK || calls != 1 {
		t.Errorf("exit = %d, calls = %d", code, calls)
	}
	if tasks := tasksOf(t, stores); len(tasks) != 1 {
		t.Errorf("tasks = %d", len(tasks))
	}
}

func TestRunInvalidOptions(t *testing.T) {
	stores := storage.NewMemoryStores()
	r := NewRunner(stores, recordStep(stores, false), nil)
	ctx := context.Background()

	cases := []struct {
		name string
		opts Options
	}{
		{"no suites", Options{Strategy: models.AgentEphemeralPerScenario, RunType: models.EvalRunOneOff}},
		{"reuse without agent", Options{Suites: []string{"s"}, Strategy: models.AgentReuse, RunType: models.EvalRunOneOff}},
		{"bad strategy", Options{Suites: []string{"s"}, Strategy: "clone", RunType: models.EvalRunOneOff}},
		{"bad run type", Options{Suites: []string{"s"}, Strategy: models.AgentEphemeralPerScenario, RunType: "dry"}},
		{"unknown suite", defaultOptions("missing")},
	}
	for _, tc := range cases {
		code, err := r.Run(ctx, tc.opts)
		if code != ExitInvalidArg {
			t.Errorf("%s: exit = %d, want %d", tc.name, code, ExitInvalidArg)
		}
		if !errors.Is(err, ErrInvalidOptions) {
			t.Errorf("%s: err = %v", tc.name, err)
		}
	}
}

func TestRunUnknownScenarioFilter(t *testing.T) {
	mem := storage.NewMemory()
	stores := mem.Stores()
	seedSuite(mem, "onboarding", map[string]string{"greet": "Say hello."})
	r := newTestRunner(stores, recordStep(stores, false))

	opts := defaultOptions("onboarding")
	opts.Scenario = "nope"
	code, err := r.Run(context.Background(), opts)
	if code != ExitInvalidArg || !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("exit = %d, err = %v", code, err)
	}
}

func TestRunReuseAgentIgnoresStaleSteps(t *testing.T) {
	mem := storage.NewMemory()
	stores := mem.Stores()
	seedSuite(mem, "onboarding", map[string]string{"greet": "Say hello."})
	ctx := context.Background()
	if err := stores.Agents.Create(ctx, &models.Agent{
		ID: "shared", OwnerType: models.OwnerUser, OwnerID: "u1", Name: "Shared",
		LifeState: models.LifeStateActive, IsActive: true,
	}); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	// A failed step from before the run must not poison the score.
	if err := stores.Steps.Create(ctx, &models.Step{
		ID: uuid.NewString(), AgentID: "shared", Description: "earlier outage",
		Failed: true, CreatedAt: time.Now().UTC().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("seed stale step: %v", err)
	}
	r := newTestRunner(stores, recordStep(stores, false))

	opts := defaultOptions("onboarding")
	opts.Strategy = models.AgentReuse
	opts.AgentID = "shared"
	code, err := r.Run(ctx, opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != ExitOK {
		t.Fatalf("exit = %d, want 0: stale failed step must be out of scope", code)
	}
	for _, task := range tasksOf(t, stores) {
		if task.State != models.EvalTaskPassed {
			t.Errorf("task %s = %s (%s), want PASSED", task.ID, task.State, task.Detail)
		}
	}
}

func TestRunReuseAgentStaleSuccessesDoNotPass(t *testing.T) {
	mem := storage.NewMemory()
	stores := mem.Stores()
	seedSuite(mem, "onboarding", map[string]string{"greet": "Say hello."})
	ctx := context.Background()
	if err := stores.Agents.Create(ctx, &models.Agent{
		ID: "shared", OwnerType: models.OwnerUser, OwnerID: "u1", Name: "Shared",
		LifeState: models.LifeStateActive, IsActive: true,
	}); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	// A healthy step from before the run must not stand in for one the
	// scenario never produced.
	if err := stores.Steps.Create(ctx, &models.Step{
		ID: uuid.NewString(), AgentID: "shared", Description: "earlier reply",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("seed stale step: %v", err)
	}
	idle := func(context.Context, string) error { return nil }
	r := newTestRunner(stores, idle)

	opts := defaultOptions("onboarding")
	opts.Strategy = models.AgentReuse
	opts.AgentID = "shared"
	code, err := r.Run(ctx, opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != ExitPartialFailure {
		t.Fatalf("exit = %d, want 1", code)
	}
	tasks := tasksOf(t, stores)
	if len(tasks) != 1 || tasks[0].State != models.EvalTaskFailed || tasks[0].Detail != "no steps produced" {
		t.Errorf("tasks = %+v, want one FAILED with no steps produced", tasks)
	}
}
