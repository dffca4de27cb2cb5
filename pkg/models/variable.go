package models

import (
	"regexp"
	"time"
)

// MaxVariablesPerAgent bounds the variable store; inserts beyond the cap
// evict the least recently created variables.
const MaxVariablesPerAgent = 50

// MaxVariableNameLen is the maximum variable name length.
const MaxVariableNameLen = 128

// VariableNamePattern validates stored variable names.
var VariableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Variable is a per-agent named immutable value, referenced in tool params
// as $name.
type Variable struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Name       string    `json:"name"`
	Value      string    `json:"value"`
	IsJSON     bool      `json:"is_json"`
	SizeBytes  int64     `json:"size_bytes"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
