// Package evals dispatches eval suites against real agents and scores each
// scenario by the steps it produced.
package evals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

// Exit codes for the administrative CLI.
const (
	ExitOK             = 0
	ExitPartialFailure = 1
	ExitInvalidArg     = 2
)

// ErrInvalidOptions marks argument problems (exit code 2).
var ErrInvalidOptions = errors.New("invalid eval options")

// ProcessFunc runs the event loop for one agent.
type ProcessFunc func(ctx context.Context, agentID string) error

// Options selects what to run.
type Options struct {
	Suites   []string
	Scenario string
	AgentID  string
	Strategy models.AgentStrategy
	RunType  models.EvalRunType

	// Sync runs scenarios sequentially in the calling goroutine.
	Sync bool

	PollInterval time.Duration
	PollTimeout  time.Duration
}

func (o *Options) validate() error {
	if len(o.Suites) == 0 {
		return fmt.Errorf("%w: at least one suite is required", ErrInvalidOptions)
	}
	switch o.Strategy {
	case models.AgentEphemeralPerScenario:
	case models.AgentReuse:
		if o.AgentID == "" {
			return fmt.Errorf("%w: reuse_agent requires --agent-id", ErrInvalidOptions)
		}
	default:
		return fmt.Errorf("%w: unknown agent strategy %q", ErrInvalidOptions, o.Strategy)
	}
	switch o.RunType {
	case models.EvalRunOneOff, models.EvalRunOfficial:
	default:
		return fmt.Errorf("%w: unknown run type %q", ErrInvalidOptions, o.RunType)
	}
	return nil
}

// Runner executes eval runs.
type Runner struct {
	stores  *storage.StoreSet
	process ProcessFunc
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(stores *storage.StoreSet, process ProcessFunc, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{stores: stores, process: process, logger: logger, now: time.Now}
}

// Run dispatches the selected scenarios, waits for every task to reach a
// terminal state, and returns the CLI exit code.
func (r *Runner) Run(ctx context.Context, opts Options) (int, error) {
	if err := opts.validate(); err != nil {
		return ExitInvalidArg, err
	}

	var scenarios []*models.EvalScenario
	for _, slug := range opts.Suites {
		suite, err := r.stores.Evals.SuiteBySlug(ctx, slug)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ExitInvalidArg, fmt.Errorf("%w: suite %q not found", ErrInvalidOptions, slug)
			}
			return ExitPartialFailure, fmt.Errorf("load suite %s: %w", slug, err)
		}
		list, err := r.stores.Evals.Scenarios(ctx, suite.ID)
		if err != nil {
			return ExitPartialFailure, fmt.Errorf("load scenarios for %s: %w", slug, err)
		}
		scenarios = append(scenarios, list...)
	}
	if opts.Scenario != "" {
		var filtered []*models.EvalScenario
		for _, sc := range scenarios {
			if sc.Slug == opts.Scenario {
				filtered = append(filtered, sc)
			}
		}
		if len(filtered) == 0 {
			return ExitInvalidArg, fmt.Errorf("%w: scenario %q not found in selected suites", ErrInvalidOptions, opts.Scenario)
		}
		scenarios = filtered
	}

	run := &models.EvalRun{
		ID:        uuid.NewString(),
		Type:      opts.RunType,
		Strategy:  opts.Strategy,
		AgentID:   opts.AgentID,
		CreatedAt: r.now().UTC(),
	}
	if err := r.stores.Evals.CreateRun(ctx, run); err != nil {
		return ExitPartialFailure, fmt.Errorf("create run: %w", err)
	}

	for _, sc := range scenarios {
		r.runScenario(ctx, run, sc, opts)
	}
	if err := r.Poll(ctx, run.ID, opts.PollInterval, opts.PollTimeout); err != nil {
		return ExitPartialFailure, err
	}

	tasks, err := r.stores.Evals.TasksByRun(ctx, run.ID)
	if err != nil {
		return ExitPartialFailure, fmt.Errorf("load tasks: %w", err)
	}
	for _, task := range tasks {
		if task.State != models.EvalTaskPassed {
			return ExitPartialFailure, nil
		}
	}
	return ExitOK, nil
}

func (r *Runner) runScenario(ctx context.Context, run *models.EvalRun, sc *models.EvalScenario, opts Options) {
	task := &models.EvalTask{
		ID:         uuid.NewString(),
		RunID:      run.ID,
		ScenarioID: sc.ID,
		State:      models.EvalTaskPending,
		UpdatedAt:  r.now().UTC(),
	}
	if err := r.stores.Evals.CreateTask(ctx, task); err != nil {
		r.logger.Error("create eval task", "scenario", sc.Slug, "error", err)
		return
	}

	agentID, err := r.resolveAgent(ctx, sc, opts)
	if err != nil {
		r.finishTask(ctx, task, models.EvalTaskErrored, err.Error())
		return
	}
	task.AgentID = agentID
	r.finishTask(ctx, task, models.EvalTaskRunning, "")

	// Only steps produced from here on count toward the score; a reused
	// agent's history must not leak in.
	startedAt := r.now().UTC()

	if err := r.stores.Messages.Create(ctx, &models.Message{
		AgentID:     agentID,
		Channel:     models.ChannelWeb,
		FromAddress: "evals@warden.internal",
		Body:        sc.Prompt,
		CreatedAt:   r.now().UTC(),
	}); err != nil {
		r.finishTask(ctx, task, models.EvalTaskErrored, fmt.Sprintf("seed prompt: %v", err))
		return
	}

	if err := r.process(ctx, agentID); err != nil {
		r.finishTask(ctx, task, models.EvalTaskErrored, err.Error())
		return
	}
	r.score(ctx, task, agentID, startedAt)
}

// score passes a task when the agent produced at least one successful step
// after the scenario was dispatched, and no failed ones. Steps older than
// startedAt belong to the agent's prior history and are ignored.
func (r *Runner) score(ctx context.Context, task *models.EvalTask, agentID string, startedAt time.Time) {
	recent, err := r.stores.Steps.ListRecent(ctx, agentID, 50)
	if err != nil {
		r.finishTask(ctx, task, models.EvalTaskErrored, fmt.Sprintf("load steps: %v", err))
		return
	}
	var steps []*models.Step
	for _, s := range recent {
		if !s.CreatedAt.Before(startedAt) {
			steps = append(steps, s)
		}
	}
	if len(steps) == 0 {
		r.finishTask(ctx, task, models.EvalTaskFailed, "no steps produced")
		return
	}
	for _, s := range steps {
		if s.Failed {
			r.finishTask(ctx, task, models.EvalTaskFailed, "failed step: "+s.Description)
			return
		}
	}
	r.finishTask(ctx, task, models.EvalTaskPassed, fmt.Sprintf("%d steps", len(steps)))
}

func (r *Runner) resolveAgent(ctx context.Context, sc *models.EvalScenario, opts Options) (string, error) {
	if opts.Strategy == models.AgentReuse {
		if _, err := r.stores.Agents.Get(ctx, opts.AgentID); err != nil {
			return "", fmt.Errorf("load agent %s: %w", opts.AgentID, err)
		}
		return opts.AgentID, nil
	}
	agent := &models.Agent{
		ID:        uuid.NewString(),
		OwnerType: models.OwnerUser,
		OwnerID:   "eval-harness",
		Name:      "eval " + sc.Slug,
		Charter:   "Complete the evaluation scenario exactly as asked.",
		LifeState: models.LifeStateActive,
		IsActive:  true,
		PlanKey:   models.FreePlanKey,
		CreatedAt: r.now().UTC(),
	}
	if err := r.stores.Agents.Create(ctx, agent); err != nil {
		return "", fmt.Errorf("create ephemeral agent: %w", err)
	}
	return agent.ID, nil
}

func (r *Runner) finishTask(ctx context.Context, task *models.EvalTask, state models.EvalTaskState, detail string) {
	task.State = state
	task.Detail = detail
	task.UpdatedAt = r.now().UTC()
	if err := r.stores.Evals.UpdateTask(ctx, task); err != nil {
		r.logger.Error("update eval task", "task", task.ID, "error", err)
	}
}

// Poll waits until every task of the run is terminal.
func (r *Runner) Poll(ctx context.Context, runID string, interval, timeout time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	deadline := r.now().Add(timeout)
	for {
		tasks, err := r.stores.Evals.TasksByRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("poll tasks: %w", err)
		}
		pending := 0
		for _, task := range tasks {
			if !task.State.Terminal() {
				pending++
			}
		}
		if pending == 0 {
			return nil
		}
		if r.now().After(deadline) {
			return fmt.Errorf("%d tasks still pending after %s", pending, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
