package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardenhq/warden/internal/digest"
	"github.com/wardenhq/warden/internal/ratelimit"
	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

// minVariableBytes is the raw-result size at which a full-result variable
// is created automatically.
const minVariableBytes = 1024

// variableizeKey is the result-embedded config directive.
const variableizeKey = "_variableize"

// Outcome is what a dispatched tool call feeds back into the loop.
type Outcome struct {
	Status string // "ok" or "error"
	// Payload is the compacted, context-facing result.
	Payload any
	// Raw is the recorded raw result text.
	Raw string
	// CreditsCost is any LLM spend incurred inside the tool (embeddings,
	// vision reads), attributed to the current step.
	CreditsCost int64
	// Variables lists the names created by variableization.
	Variables []string
}

// ErrorOutcome builds a uniform error payload.
func ErrorOutcome(message string) *Outcome {
	return &Outcome{
		Status:  "error",
		Payload: map[string]any{"status": "error", "message": message},
	}
}

// AddCost lets handlers attribute embedded LLM spend to the step.
func (r *Request) AddCost(credits int64) {
	r.cost += credits
}

// Dispatcher runs the tool pipeline: resolve, check, guard, rate-limit,
// execute, adapt, variableize, record.
type Dispatcher struct {
	registry *Registry
	vars     storage.VariableStore
	calls    storage.ToolCallStore
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a Dispatcher. limiter may be nil to disable hourly
// caps.
func NewDispatcher(registry *Registry, vars storage.VariableStore, calls storage.ToolCallStore, limiter *ratelimit.Limiter, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		vars:     vars,
		calls:    calls,
		limiter:  limiter,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch runs one tool call end to end. It never returns an error for
// tool-level failures; those surface in the outcome payload so the model
// can react. Only storage failures propagate.
func (d *Dispatcher) Dispatch(ctx context.Context, agent *models.Agent, stepID, toolName string, rawParams json.RawMessage) (*Outcome, error) {
	var params map[string]any
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return ErrorOutcome(fmt.Sprintf("parameters are not a JSON object: %v", err)), nil
		}
	}
	if params == nil {
		params = map[string]any{}
	}

	resolved, err := resolveVariables(ctx, d.vars, agent.ID, params)
	if err != nil {
		var nf *VariableNotFoundError
		if errors.As(err, &nf) {
			return ErrorOutcome(nf.Error()), nil
		}
		return nil, err
	}
	params = resolved.(map[string]any)

	tool, ok := d.registry.Get(toolName)
	if !ok {
		return ErrorOutcome(fmt.Sprintf("unknown tool %q", toolName)), nil
	}
	if tool.Visible != nil && !tool.Visible(agent) {
		return ErrorOutcome(fmt.Sprintf("tool %q is not available to this agent", toolName)), nil
	}
	if err := tool.validate(params); err != nil {
		return ErrorOutcome(err.Error()), nil
	}

	req := &Request{Agent: agent, StepID: stepID, Params: params}
	for _, guard := range tool.Guards {
		if payload := guard(ctx, req); payload != nil {
			return &Outcome{Status: "error", Payload: payload}, nil
		}
	}

	if d.limiter != nil {
		if err := d.limiter.Check(ctx, agent, toolName); err != nil {
			if errors.Is(err, ratelimit.ErrLimited) {
				return ErrorOutcome(err.Error()), nil
			}
			return nil, err
		}
	}

	result, execErr := tool.Handler(ctx, req)
	outcome := &Outcome{Status: "ok", CreditsCost: req.cost}
	if execErr != nil {
		d.logger.Warn("tool execution failed", "tool", toolName, "agent", agent.ID, "error", execErr)
		outcome = ErrorOutcome(execErr.Error())
		outcome.CreditsCost = req.cost
	}

	raw, payload := encodeResult(result)
	if execErr == nil {
		outcome.Payload = payload
	}
	outcome.Raw = raw

	call := &models.ToolCall{
		StepID:    stepID,
		AgentID:   agent.ID,
		ToolName:  toolName,
		Params:    mustJSON(params),
		Result:    raw,
		CreatedAt: d.now().UTC(),
	}
	if err := d.calls.Create(ctx, call); err != nil {
		return nil, fmt.Errorf("record tool call: %w", err)
	}

	if execErr != nil {
		return outcome, nil
	}

	if resultMap, ok := outcome.Payload.(map[string]any); ok {
		names, err := d.variableize(ctx, agent.ID, call.ID, toolName, stepID, resultMap)
		if err != nil {
			return nil, err
		}
		outcome.Variables = append(outcome.Variables, names...)
	}
	if len(raw) >= minVariableBytes {
		name, err := d.fullResultVariable(ctx, agent.ID, call.ID, toolName, stepID, raw)
		if err != nil {
			return nil, err
		}
		outcome.Variables = append(outcome.Variables, name)
	}

	if tool.Adapt {
		outcome.Payload = adaptResult(outcome.Payload, raw)
	}
	return outcome, nil
}

// variableize applies a result-embedded _variableize config and strips it.
func (d *Dispatcher) variableize(ctx context.Context, agentID, toolCallID, toolName, stepID string, result map[string]any) ([]string, error) {
	cfgRaw, ok := result[variableizeKey]
	if !ok {
		return nil, nil
	}
	delete(result, variableizeKey)

	cfg, ok := cfgRaw.(map[string]any)
	if !ok {
		return nil, nil
	}
	prefix, _ := cfg["prefix"].(string)
	fieldsRaw, _ := cfg["fields"].([]any)

	var names []string
	for _, f := range fieldsRaw {
		field, ok := f.(string)
		if !ok {
			continue
		}
		value, present := result[field]
		if !present {
			continue
		}
		text, isJSON := stringify(value)
		name := variableName(prefix, toolName, stepID, field)
		if _, err := storeVariable(ctx, d.vars, agentID, toolCallID, name, text, isJSON, "field "+field+" of "+toolName); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, nil
}

func (d *Dispatcher) fullResultVariable(ctx context.Context, agentID, toolCallID, toolName, stepID, raw string) (string, error) {
	isJSON := json.Valid([]byte(raw))
	name := variableName("", toolName, stepID, "result")
	summary := fmt.Sprintf("full %s result (%d bytes)", toolName, len(raw))
	return storeVariable(ctx, d.vars, agentID, toolCallID, name, raw, isJSON, summary)
}

// adaptResult swaps bulk results for their skeleton or digest so the model
// sees the compact form on the next iteration.
func adaptResult(payload any, raw string) any {
	if len(raw) < minVariableBytes {
		return payload
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err == nil {
		sk := digest.SkeletonJSON(value)
		if hint := digest.SERPHint(sk); hint != "" {
			return map[string]any{"skeleton": sk, "hint": hint}
		}
		if sk.Kind != "raw" {
			return map[string]any{"skeleton": sk}
		}
		return map[string]any{"digest": digest.DigestJSON(value, []byte(raw))}
	}
	sk := digest.SkeletonText(raw)
	if sk.Kind != "raw" {
		return map[string]any{"skeleton": sk}
	}
	return map[string]any{"digest": digest.DigestText(raw)}
}

func encodeResult(result any) (raw string, payload any) {
	switch x := result.(type) {
	case nil:
		return "", map[string]any{"status": "ok"}
	case string:
		return x, map[string]any{"status": "ok", "output": x}
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x), map[string]any{"status": "ok"}
		}
		if m, ok := x.(map[string]any); ok {
			return string(b), m
		}
		return string(b), x
	}
}

func stringify(v any) (text string, isJSON bool) {
	if s, ok := v.(string); ok {
		return s, false
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v), false
	}
	return string(b), true
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
