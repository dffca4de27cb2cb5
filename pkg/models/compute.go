package models

import "time"

// ComputeState is the sandbox session state machine:
// CREATED -> RUNNING -> IDLE_STOPPING -> STOPPED | ERROR.
type ComputeState string

const (
	ComputeCreated      ComputeState = "CREATED"
	ComputeRunning      ComputeState = "RUNNING"
	ComputeIdleStopping ComputeState = "IDLE_STOPPING"
	ComputeStopped      ComputeState = "STOPPED"
	ComputeError        ComputeState = "ERROR"
)

// ComputeSession tracks an agent's sandbox.
type ComputeSession struct {
	ID             string       `json:"id"`
	AgentID        string       `json:"agent_id"`
	State          ComputeState `json:"state"`
	PodName        string       `json:"pod_name,omitempty"`
	WorkspacePVC   string       `json:"workspace_pvc,omitempty"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	StoppedAt      time.Time    `json:"stopped_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// CanTransitionTo reports whether a compute state transition is legal.
func (s *ComputeSession) CanTransitionTo(next ComputeState) bool {
	switch s.State {
	case ComputeCreated:
		return next == ComputeRunning || next == ComputeError
	case ComputeRunning:
		return next == ComputeIdleStopping || next == ComputeStopped || next == ComputeError
	case ComputeIdleStopping:
		return next == ComputeStopped || next == ComputeError
	}
	return false
}
