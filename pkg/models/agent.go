// Package models defines the persisted entity types shared across the engine.
package models

import (
	"time"
)

// LifeState represents an agent's lifecycle state.
type LifeState string

const (
	LifeStateActive  LifeState = "ACTIVE"
	LifeStatePaused  LifeState = "PAUSED"
	LifeStateExpired LifeState = "EXPIRED"
	LifeStateDeleted LifeState = "DELETED"
)

// TierKey selects the LLM tier class an agent prefers.
type TierKey string

const (
	TierStandard TierKey = "standard"
	TierPremium  TierKey = "premium"
	TierMax      TierKey = "max"
)

// OwnerType distinguishes user-owned from organization-owned agents.
type OwnerType string

const (
	OwnerUser OwnerType = "user"
	OwnerOrg  OwnerType = "org"
)

// Agent is a long-lived actor with a charter, a configured tier, and a set of
// communication endpoints.
type Agent struct {
	ID        string    `json:"id"`
	OwnerType OwnerType `json:"owner_type"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`

	// Charter is the operator-written mission text injected into every
	// system prompt.
	Charter string `json:"charter"`

	// Schedule is a cron expression; empty when the agent is not ACTIVE.
	Schedule string `json:"schedule,omitempty"`
	// ScheduleSnapshot preserves Schedule across soft expiration so it can
	// be restored on the next inbound interaction.
	ScheduleSnapshot string `json:"schedule_snapshot,omitempty"`

	LifeState LifeState `json:"life_state"`
	// IsActive is the manual pause switch, independent of LifeState.
	IsActive bool `json:"is_active"`

	PreferredEndpointID string  `json:"preferred_endpoint_id,omitempty"`
	PreferredTier       TierKey `json:"preferred_tier"`

	// DailyCreditTarget is the per-day soft credit target in fixed-point
	// 6-dp credits. Nil means unlimited.
	DailyCreditTarget *int64 `json:"daily_credit_target,omitempty"`

	PlanKey string `json:"plan_key"`

	// SandboxEnabled opts the agent into sandbox-gated tools.
	SandboxEnabled bool `json:"sandbox_enabled,omitempty"`

	AllowlistPolicy AllowlistPolicy `json:"allowlist_policy"`

	ProactiveEnabled bool `json:"proactive_enabled"`
	// ProactiveMinIntervalMinutes is clamped to the global weekly floor at
	// evaluation time.
	ProactiveMinIntervalMinutes int `json:"proactive_min_interval_minutes,omitempty"`
	ProactiveMaxDaily           int `json:"proactive_max_daily,omitempty"`

	LastInteractionAt      time.Time `json:"last_interaction_at,omitempty"`
	ProactiveLastTriggerAt time.Time `json:"proactive_last_trigger_at,omitempty"`
	LastExpiredAt          time.Time `json:"last_expired_at,omitempty"`
	PlanDowngradedAt       time.Time `json:"plan_downgraded_at,omitempty"`
	SentExpirationNotice   bool      `json:"sent_expiration_notice,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransitionTo reports whether a life-state transition is legal.
// Transitions are monotonic except ACTIVE<->EXPIRED (restore on interaction);
// DELETED is terminal.
func (a *Agent) CanTransitionTo(next LifeState) bool {
	if a.LifeState == next {
		return false
	}
	switch a.LifeState {
	case LifeStateActive:
		return next == LifeStatePaused || next == LifeStateExpired || next == LifeStateDeleted
	case LifeStatePaused:
		return next == LifeStateActive || next == LifeStateDeleted
	case LifeStateExpired:
		return next == LifeStateActive || next == LifeStateDeleted
	case LifeStateDeleted:
		return false
	}
	return false
}

// Runnable reports whether the event loop may run steps for this agent.
func (a *Agent) Runnable() bool {
	return a.LifeState == LifeStateActive && a.IsActive
}
