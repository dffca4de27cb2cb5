package models

import "time"

// EvalSuite groups scenarios under a slug.
type EvalSuite struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// EvalScenario is one scripted exchange inside a suite.
type EvalScenario struct {
	ID      string `json:"id"`
	SuiteID string `json:"suite_id"`
	Slug    string `json:"slug"`
	// Prompt is the inbound body injected to start the scenario.
	Prompt string `json:"prompt"`
}

// EvalRunType distinguishes ad-hoc from tracked runs.
type EvalRunType string

const (
	EvalRunOneOff   EvalRunType = "one_off"
	EvalRunOfficial EvalRunType = "official"
)

// AgentStrategy selects how eval tasks obtain their agent.
type AgentStrategy string

const (
	AgentEphemeralPerScenario AgentStrategy = "ephemeral_per_scenario"
	AgentReuse                AgentStrategy = "reuse_agent"
)

// EvalTaskState is the task lifecycle.
type EvalTaskState string

const (
	EvalTaskPending EvalTaskState = "PENDING"
	EvalTaskRunning EvalTaskState = "RUNNING"
	EvalTaskPassed  EvalTaskState = "PASSED"
	EvalTaskFailed  EvalTaskState = "FAILED"
	EvalTaskErrored EvalTaskState = "ERRORED"
)

// Terminal reports whether the state is final.
func (s EvalTaskState) Terminal() bool {
	return s == EvalTaskPassed || s == EvalTaskFailed || s == EvalTaskErrored
}

// EvalRun is one dispatch of one or more suites.
type EvalRun struct {
	ID        string        `json:"id"`
	Type      EvalRunType   `json:"type"`
	Strategy  AgentStrategy `json:"strategy"`
	AgentID   string        `json:"agent_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// EvalTask is one scenario execution within a run.
type EvalTask struct {
	ID         string        `json:"id"`
	RunID      string        `json:"run_id"`
	ScenarioID string        `json:"scenario_id"`
	AgentID    string        `json:"agent_id,omitempty"`
	State      EvalTaskState `json:"state"`
	Detail     string        `json:"detail,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
