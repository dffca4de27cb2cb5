package models

import (
	"encoding/json"
	"time"
)

// Step is the immutable record of one LLM turn of the event loop.
type Step struct {
	ID          string `json:"id"`
	AgentID     string `json:"agent_id"`
	Description string `json:"description"`
	// CreditsCost is the step's total credit cost (LLM completions plus
	// tool-embedded LLM calls) in fixed-point 6-dp credits.
	CreditsCost int64     `json:"credits_cost"`
	EvalRunID   string    `json:"eval_run_id,omitempty"`
	Failed      bool      `json:"failed,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToolCall is a child of a step recording one tool invocation in the order
// the model declared it.
type ToolCall struct {
	ID       string `json:"id"`
	StepID   string `json:"step_id"`
	AgentID  string `json:"agent_id"`
	ToolName string `json:"tool_name"`
	// Params holds the parameters after variable resolution.
	Params    json.RawMessage `json:"params"`
	Result    string          `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
}

// SystemStepCode identifies an engine-generated directive or marker.
type SystemStepCode string

const (
	// SystemProcessEvents signals a running loop to re-enter past a stop.
	SystemProcessEvents SystemStepCode = "PROCESS_EVENTS"
	// SystemProactiveTrigger marks an engine-initiated wake-up.
	SystemProactiveTrigger SystemStepCode = "PROACTIVE_TRIGGER"
	// SystemDirective carries an operator settings change into the loop.
	SystemDirective SystemStepCode = "SYSTEM_DIRECTIVE"
	// SystemCreditLimitHit marks budget exhaustion.
	SystemCreditLimitHit SystemStepCode = "CREDIT_LIMIT_HIT"
)

// SystemStep is an engine-generated marker attached to a step. StepID is
// empty for markers written outside a running step (lock contention,
// entry-time budget refusal).
type SystemStep struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	StepID    string         `json:"step_id,omitempty"`
	Code      SystemStepCode `json:"code"`
	Notes     map[string]any `json:"notes,omitempty"`
	Consumed  bool           `json:"consumed,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
