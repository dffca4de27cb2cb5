package models

// CreditUnit is the fixed-point scale for credits: 6 decimal places.
const CreditUnit int64 = 1_000_000

// DailyCreditConfig is the per-plan credit policy.
type DailyCreditConfig struct {
	PlanKey string `json:"plan_key" yaml:"plan_key"`
	// SliderMin and SliderMax bound the operator-facing soft target.
	SliderMin int64 `json:"slider_min" yaml:"slider_min"`
	SliderMax int64 `json:"slider_max" yaml:"slider_max"`
	// HardLimitMultiplier scales the soft target to the hard limit.
	HardLimitMultiplier int64 `json:"hard_limit_multiplier" yaml:"hard_limit_multiplier"`
	BurnRateThreshold   int64 `json:"burn_rate_threshold" yaml:"burn_rate_threshold"`
	BurnRateWindowMins  int   `json:"burn_rate_window_mins" yaml:"burn_rate_window_mins"`
	// PlanCreditMultiplier scales every LLM invocation's credit cost.
	// Fixed-point 6-dp; CreditUnit is 1.0.
	PlanCreditMultiplier int64 `json:"plan_credit_multiplier" yaml:"plan_credit_multiplier"`
	// DuplicateThreshold overrides the outbound similarity threshold
	// (0 means use the default).
	DuplicateThreshold float64 `json:"duplicate_threshold,omitempty" yaml:"duplicate_threshold,omitempty"`
}

// ToolConfig is the per-plan tool rate-limit policy.
type ToolConfig struct {
	PlanKey string `json:"plan_key" yaml:"plan_key"`
	// HourlyLimits maps tool name to max invocations per owner per hour;
	// absent tools are unlimited.
	HourlyLimits map[string]int `json:"hourly_limits" yaml:"hourly_limits"`
}

// BrowserConfig is the per-plan browser task policy.
type BrowserConfig struct {
	PlanKey         string `json:"plan_key" yaml:"plan_key"`
	MaxConcurrent   int    `json:"max_concurrent" yaml:"max_concurrent"`
	MaxDaily        int    `json:"max_daily" yaml:"max_daily"`
	TaskTimeoutSecs int    `json:"task_timeout_secs" yaml:"task_timeout_secs"`
}

// FreePlanKey identifies the plan subject to soft expiration and cron
// throttling.
const FreePlanKey = "free"
