// Package engine drives the per-agent event loop: assemble a prompt, invoke
// the routed model, dispatch declared tool calls, and persist one step per
// turn until the agent reaches a rest state.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/credits"
	"github.com/wardenhq/warden/internal/locks"
	"github.com/wardenhq/warden/internal/observability"
	"github.com/wardenhq/warden/internal/prompt"
	"github.com/wardenhq/warden/internal/providers"
	"github.com/wardenhq/warden/internal/router"
	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/internal/tools"
	"github.com/wardenhq/warden/pkg/models"
)

// Completer is the routed LLM surface the loop needs. *router.Invoker
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, agentID, stepID string, promptTokens int64, preferred models.TierKey, planMultiplier int64, req *providers.CompletionRequest) (*router.Result, error)
}

const (
	// reservedReplyTokens is held back from the context window for the
	// model's reply.
	reservedReplyTokens = 4096
	// defaultContextTokens budgets prompts when no routing graph is loaded.
	defaultContextTokens = 128_000

	historyMessages = 50
	historySteps    = 10

	summarizerInstruction = "Condense the following conversation history into a short factual summary. Keep names, decisions, and open items."
)

// Budget-marker reasons recorded in CREDIT_LIMIT_HIT notes.
const (
	reasonSoftMidLoop   = "daily_credit_limit_mid_loop"
	reasonHardExhausted = "daily_credit_limit_exhausted"
	reasonStepBudget    = "step_budget"
)

// Engine owns the event loop for all agents on this host.
type Engine struct {
	cfg        config.EngineConfig
	stores     *storage.StoreSet
	locker     locks.AgentLocker
	meter      *credits.Meter
	llm        Completer
	registry   *tools.Registry
	dispatcher *tools.Dispatcher

	builder  *prompt.Builder
	counter  *prompt.Counter
	archiver *prompt.Archiver

	enqueue  func(agentID string)
	guidance func(planKey string) string
	loc      *time.Location
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithEnqueue sets the callback used to re-schedule an invocation when
// unconsumed re-entry markers remain at exit.
func WithEnqueue(fn func(agentID string)) Option {
	return func(e *Engine) { e.enqueue = fn }
}

// WithPlanGuidance supplies per-plan prompt guidance text.
func WithPlanGuidance(fn func(planKey string) string) Option {
	return func(e *Engine) { e.guidance = fn }
}

// WithLocation sets the location for daily credit windows. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine.
func New(cfg config.EngineConfig, stores *storage.StoreSet, locker locks.AgentLocker, meter *credits.Meter, llm Completer, registry *tools.Registry, dispatcher *tools.Dispatcher, archiver *prompt.Archiver, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	counter := prompt.NewCounter()
	e := &Engine{
		cfg:        cfg,
		stores:     stores,
		locker:     locker,
		meter:      meter,
		llm:        llm,
		registry:   registry,
		dispatcher: dispatcher,
		builder:    prompt.NewBuilder(counter),
		counter:    counter,
		archiver:   archiver,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessAgentEvents drives one agent from "something happened" to a rest
// state. It is single-flight per agent: a concurrent invocation records a
// re-entry marker and returns immediately.
func (e *Engine) ProcessAgentEvents(ctx context.Context, agentID string) error {
	release, err := e.locker.TryAcquire(ctx, agentID, e.cfg.LockTTL)
	if errors.Is(err, locks.ErrHeld) {
		return e.writeMarker(ctx, agentID, "", models.SystemProcessEvents, nil)
	}
	if err != nil {
		return fmt.Errorf("acquire agent lock: %w", err)
	}
	defer release()

	agent, err := e.stores.Agents.Get(ctx, agentID)
	if err != nil {
		return fmt.Errorf("load agent: %w", err)
	}
	if !agent.Runnable() {
		e.logger.Debug("agent not runnable, skipping", "agent", agentID, "life_state", agent.LifeState)
		return nil
	}

	// Markers that triggered this invocation are satisfied by it.
	if err := e.consumeMarkers(ctx, agentID, models.SystemProcessEvents); err != nil {
		return err
	}

	status, err := e.meter.DailyStatus(ctx, agent, e.now(), e.loc)
	if err != nil {
		return err
	}
	usage := status.Usage

	entries, lastInbound, err := e.collectEntries(ctx, agent)
	if err != nil {
		return err
	}

	budget := e.tokenBudget(ctx)
	planMult := e.meter.PlanMultiplier(agent.PlanKey)

	steps := 0
	for ; steps < e.cfg.StepBudget; steps++ {
		if status.HardLimit != nil && usage >= *status.HardLimit {
			e.logger.Info("daily hard limit reached", "agent", agentID, "usage", usage)
			if err := e.writeMarker(ctx, agentID, "", models.SystemCreditLimitHit,
				map[string]any{"reason": reasonHardExhausted, "usage": usage}); err != nil {
				return err
			}
			return e.finish(ctx, agent, lastInbound)
		}
		// Past the soft target the current step is the last one.
		finalStep := status.SoftTarget != nil && usage >= *status.SoftTarget

		cost, stop, failed, err := e.runStep(ctx, agent, &entries, budget, planMult)
		if err != nil {
			return err
		}
		usage += cost

		if failed {
			break
		}
		if finalStep {
			if err := e.writeMarker(ctx, agentID, "", models.SystemCreditLimitHit,
				map[string]any{"reason": reasonSoftMidLoop, "usage": usage}); err != nil {
				return err
			}
			break
		}
		if stop {
			reentered, err := e.reenter(ctx, agent, &entries)
			if err != nil {
				return err
			}
			if !reentered {
				break
			}
		}
	}
	if steps == e.cfg.StepBudget {
		e.logger.Warn("step budget exhausted", "agent", agentID, "steps", steps)
		if err := e.writeMarker(ctx, agentID, "", models.SystemCreditLimitHit,
			map[string]any{"reason": reasonStepBudget, "steps": steps}); err != nil {
			return err
		}
	}
	return e.finish(ctx, agent, lastInbound)
}

// runStep executes one LLM turn: assemble, invoke, dispatch tool calls, and
// persist the step. Failures inside the step are recorded, not propagated;
// only storage errors return non-nil.
func (e *Engine) runStep(ctx context.Context, agent *models.Agent, entries *[]prompt.Entry, budget int, planMult int64) (cost int64, stop, failed bool, err error) {
	// One clock read per step keeps created_at monotonic in the invocation.
	at := e.now().UTC()
	stepID := uuid.NewString()

	stepCtx := ctx
	if e.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, e.cfg.StepTimeout)
		defer cancel()
	}

	in := &prompt.Inputs{
		Agent:   agent,
		Entries: *entries,
		Tools:   e.registry.Specs(agent),
	}
	if vars, verr := e.stores.Variables.List(stepCtx, agent.ID); verr == nil {
		in.Variables = vars
	}
	if agent.AllowlistPolicy == models.AllowlistManual {
		if allow, aerr := e.stores.Allowlists.List(stepCtx, agent.ID); aerr == nil {
			in.Allowlist = allow
		}
	}
	if e.guidance != nil {
		in.PlanGuidance = e.guidance(agent.PlanKey)
	}

	compactor := prompt.NewCompactor(e.builder, e.counter, e.summarizer(agent, stepID, planMult), e.logger)
	res, fitErr := compactor.Fit(stepCtx, in, budget)
	if fitErr != nil {
		e.logger.Warn("prompt over budget after compaction", "agent", agent.ID, "error", fitErr)
	}
	if aerr := e.archiver.Record(stepCtx, agent.ID, stepID, res); aerr != nil {
		e.logger.Error("archive prompt", "agent", agent.ID, "error", aerr)
	}

	req := &providers.CompletionRequest{
		System:            res.System,
		Messages:          []providers.Message{{Role: "user", Content: res.User}},
		Tools:             in.Tools,
		ToolChoiceAuto:    true,
		ParallelToolCalls: true,
		MaxTokens:         reservedReplyTokens,
	}
	result, llmErr := e.llm.Complete(stepCtx, agent.ID, stepID, int64(res.TokensAfter), agent.PreferredTier, planMult, req)
	if llmErr != nil {
		e.logger.Error("model invocation failed", "agent", agent.ID, "step", stepID, "error", llmErr)
		step := &models.Step{
			ID:          stepID,
			AgentID:     agent.ID,
			Description: "model invocation failed",
			CreditsCost: res.SummarizerCost,
			Failed:      true,
			CreatedAt:   at,
		}
		if cerr := e.stores.Steps.Create(ctx, step); cerr != nil {
			return 0, false, true, fmt.Errorf("record failed step: %w", cerr)
		}
		e.metrics.RecordStep(true, res.SummarizerCost)
		return res.SummarizerCost, false, true, nil
	}

	cost = result.CreditsCost + res.SummarizerCost
	content := result.Response.Content
	*entries = append(*entries, prompt.Entry{At: at, Label: "assistant", Text: content})

	// A turn with no tool calls is the model's rest signal.
	stop = len(result.Response.ToolCalls) == 0
	for _, call := range result.Response.ToolCalls {
		outcome, derr := e.dispatcher.Dispatch(stepCtx, agent, stepID, call.Name, call.Arguments)
		if derr != nil {
			e.logger.Error("tool dispatch failed", "agent", agent.ID, "tool", call.Name, "error", derr)
			e.metrics.RecordToolCall(call.Name, "error")
			failed = true
			break
		}
		e.metrics.RecordToolCall(call.Name, "ok")
		cost += outcome.CreditsCost
		*entries = append(*entries, prompt.Entry{
			At:    at,
			Label: "tool " + call.Name,
			Text:  compactPayload(outcome.Payload),
		})
		if sleepRequested(outcome.Payload) {
			stop = true
		}
	}

	step := &models.Step{
		ID:          stepID,
		AgentID:     agent.ID,
		Description: content,
		CreditsCost: cost,
		Failed:      failed,
		CreatedAt:   at,
	}
	if cerr := e.stores.Steps.Create(ctx, step); cerr != nil {
		return cost, stop, failed, fmt.Errorf("record step: %w", cerr)
	}
	e.metrics.RecordStep(failed, cost)
	return cost, stop, failed, nil
}

// reenter consumes any mid-loop re-entry markers and refreshes the event
// narrative. It reports whether the loop should continue past a stop.
func (e *Engine) reenter(ctx context.Context, agent *models.Agent, entries *[]prompt.Entry) (bool, error) {
	markers, err := e.stores.SystemSteps.ListUnconsumed(ctx, agent.ID, models.SystemProcessEvents)
	if err != nil {
		return false, fmt.Errorf("list re-entry markers: %w", err)
	}
	if len(markers) == 0 {
		return false, nil
	}
	ids := make([]string, len(markers))
	for i, m := range markers {
		ids[i] = m.ID
	}
	if err := e.stores.SystemSteps.Consume(ctx, ids); err != nil {
		return false, fmt.Errorf("consume re-entry markers: %w", err)
	}
	fresh, _, err := e.collectEntries(ctx, agent)
	if err != nil {
		return false, err
	}
	*entries = fresh
	return true, nil
}

// finish applies loop-managed agent fields after the last step.
func (e *Engine) finish(ctx context.Context, agent *models.Agent, lastInbound time.Time) error {
	if lastInbound.IsZero() || !lastInbound.After(agent.LastInteractionAt) {
		return nil
	}
	agent.LastInteractionAt = lastInbound
	agent.SentExpirationNotice = false
	if agent.Schedule == "" && agent.ScheduleSnapshot != "" {
		agent.Schedule = agent.ScheduleSnapshot
		agent.ScheduleSnapshot = ""
	}
	agent.UpdatedAt = e.now().UTC()
	if err := e.stores.Agents.Update(ctx, agent); err != nil {
		return fmt.Errorf("update agent interaction: %w", err)
	}
	if e.enqueue != nil {
		if markers, err := e.stores.SystemSteps.ListUnconsumed(ctx, agent.ID, models.SystemProcessEvents); err == nil && len(markers) > 0 {
			e.enqueue(agent.ID)
		}
	}
	return nil
}

// collectEntries assembles the chronological event narrative: recent
// messages, tool calls of recent steps, and pending system directives.
func (e *Engine) collectEntries(ctx context.Context, agent *models.Agent) ([]prompt.Entry, time.Time, error) {
	var entries []prompt.Entry
	var lastInbound time.Time

	msgs, err := e.stores.Messages.ListRecentByAgent(ctx, agent.ID, historyMessages)
	if err != nil {
		return nil, lastInbound, fmt.Errorf("list messages: %w", err)
	}
	for _, m := range msgs {
		entries = append(entries, prompt.MessageEntry(m))
		if !m.IsOutbound && m.CreatedAt.After(lastInbound) {
			lastInbound = m.CreatedAt
		}
	}

	steps, err := e.stores.Steps.ListRecent(ctx, agent.ID, historySteps)
	if err != nil {
		return nil, lastInbound, fmt.Errorf("list steps: %w", err)
	}
	for _, s := range steps {
		calls, err := e.stores.ToolCalls.ListByStep(ctx, s.ID)
		if err != nil {
			return nil, lastInbound, fmt.Errorf("list tool calls: %w", err)
		}
		for _, tc := range calls {
			entries = append(entries, prompt.ToolEntry(tc))
		}
	}

	for _, code := range []models.SystemStepCode{models.SystemDirective, models.SystemProactiveTrigger} {
		markers, err := e.stores.SystemSteps.ListUnconsumed(ctx, agent.ID, code)
		if err != nil {
			return nil, lastInbound, fmt.Errorf("list %s markers: %w", code, err)
		}
		if len(markers) == 0 {
			continue
		}
		ids := make([]string, len(markers))
		for i, m := range markers {
			ids[i] = m.ID
			entries = append(entries, prompt.Entry{
				At:    m.CreatedAt,
				Label: markerLabel(code),
				Text:  compactPayload(m.Notes),
			})
		}
		if err := e.stores.SystemSteps.Consume(ctx, ids); err != nil {
			return nil, lastInbound, fmt.Errorf("consume %s markers: %w", code, err)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].At.Before(entries[j].At) })
	return entries, lastInbound, nil
}

func markerLabel(code models.SystemStepCode) string {
	switch code {
	case models.SystemDirective:
		return "settings directive"
	case models.SystemProactiveTrigger:
		return "proactive wake-up"
	default:
		return string(code)
	}
}

// tokenBudget resolves the prompt budget from the smallest persistent
// endpoint in the active routing graph, so the prompt fits whichever
// endpoint the router selects.
func (e *Engine) tokenBudget(ctx context.Context) int {
	budget := defaultContextTokens - reservedReplyTokens
	graph, err := e.stores.LLMConfig.ActiveGraph(ctx)
	if err != nil {
		return budget
	}
	minCtx := 0
	for _, ep := range graph.Endpoints {
		if ep.Kind != models.EndpointPersistent || ep.ContextTokens <= 0 {
			continue
		}
		if minCtx == 0 || ep.ContextTokens < minCtx {
			minCtx = ep.ContextTokens
		}
	}
	if minCtx > reservedReplyTokens {
		budget = minCtx - reservedReplyTokens
	}
	return budget
}

// summarizer routes compaction summaries through the configured tier and
// attributes their cost to the step being assembled.
func (e *Engine) summarizer(agent *models.Agent, stepID string, planMult int64) prompt.Summarizer {
	return func(ctx context.Context, text string) (string, int64, error) {
		req := &providers.CompletionRequest{
			System:    summarizerInstruction,
			Messages:  []providers.Message{{Role: "user", Content: text}},
			MaxTokens: 1024,
		}
		res, err := e.llm.Complete(ctx, agent.ID, stepID, int64(e.counter.Count(text)), e.cfg.SummarizerTier, planMult, req)
		if err != nil {
			return "", 0, err
		}
		return res.Response.Content, res.CreditsCost, nil
	}
}

func (e *Engine) writeMarker(ctx context.Context, agentID, stepID string, code models.SystemStepCode, notes map[string]any) error {
	marker := &models.SystemStep{
		AgentID:   agentID,
		StepID:    stepID,
		Code:      code,
		Notes:     notes,
		CreatedAt: e.now().UTC(),
	}
	if err := e.stores.SystemSteps.Create(ctx, marker); err != nil {
		return fmt.Errorf("write %s marker: %w", code, err)
	}
	e.metrics.RecordMarker(code)
	return nil
}

func (e *Engine) consumeMarkers(ctx context.Context, agentID string, code models.SystemStepCode) error {
	markers, err := e.stores.SystemSteps.ListUnconsumed(ctx, agentID, code)
	if err != nil {
		return fmt.Errorf("list %s markers: %w", code, err)
	}
	if len(markers) == 0 {
		return nil
	}
	ids := make([]string, len(markers))
	for i, m := range markers {
		ids[i] = m.ID
	}
	if err := e.stores.SystemSteps.Consume(ctx, ids); err != nil {
		return fmt.Errorf("consume %s markers: %w", code, err)
	}
	return nil
}

// sleepRequested reports whether a tool outcome asked the loop to stop,
// either via the sleep tool or a duplicate-guard rejection.
func sleepRequested(payload any) bool {
	m, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	v, ok := m["auto_sleep_ok"].(bool)
	return ok && v
}

func compactPayload(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
