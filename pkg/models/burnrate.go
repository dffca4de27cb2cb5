package models

import "time"

// ScopeType scopes a burn-rate snapshot.
type ScopeType string

const (
	ScopeUser  ScopeType = "USER"
	ScopeOrg   ScopeType = "ORG"
	ScopeAgent ScopeType = "AGENT"
)

// BurnRateSnapshot is a rolling-window credit total with projections,
// unique on (scope_type, scope_id, window_minutes) and upserted by the
// periodic refresh.
type BurnRateSnapshot struct {
	ID            string    `json:"id"`
	ScopeType     ScopeType `json:"scope_type"`
	ScopeID       string    `json:"scope_id"`
	WindowMinutes int       `json:"window_minutes"`
	// WindowTotal is the credits spent inside the window.
	WindowTotal int64 `json:"window_total"`
	// PerHour and PerDay are linear projections of WindowTotal.
	PerHour   int64     `json:"per_hour"`
	PerDay    int64     `json:"per_day"`
	UpdatedAt time.Time `json:"updated_at"`
}
