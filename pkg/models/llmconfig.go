package models

import (
	"math"
	"time"
)

// BackendType selects the provider client implementation.
type BackendType string

const (
	BackendOpenAI    BackendType = "openai"
	BackendAnthropic BackendType = "anthropic"
)

// Provider is a configured LLM vendor account.
type Provider struct {
	ID      string      `json:"id"`
	Key     string      `json:"key"`
	Enabled bool        `json:"enabled"`
	Backend BackendType `json:"backend"`
	// APIKey is the stored key; when empty, EnvVar names the process
	// environment variable to read instead.
	APIKey string `json:"api_key,omitempty"`
	EnvVar string `json:"env_var,omitempty"`
	// VertexProject and VertexLocation apply to "google" providers.
	VertexProject  string `json:"vertex_project,omitempty"`
	VertexLocation string `json:"vertex_location,omitempty"`
}

// EndpointKind distinguishes routing families.
type EndpointKind string

const (
	EndpointPersistent EndpointKind = "persistent"
	EndpointBrowser    EndpointKind = "browser"
	EndpointEmbeddings EndpointKind = "embeddings"
)

// Endpoint is a concrete (provider, model, base URL) with capability flags.
type Endpoint struct {
	ID         string       `json:"id"`
	ProviderID string       `json:"provider_id"`
	Key        string       `json:"key"`
	Kind       EndpointKind `json:"kind"`
	Model      string       `json:"model"`
	BaseURL    string       `json:"base_url,omitempty"`
	// ContextTokens is the model context window used for prompt budgeting.
	ContextTokens int `json:"context_tokens"`

	SupportsVision       bool `json:"supports_vision"`
	SupportsToolChoice   bool `json:"supports_tool_choice"`
	UseParallelToolCalls bool `json:"use_parallel_tool_calls"`
	SupportsTemperature  bool `json:"supports_temperature"`

	// Pricing per million tokens, in fixed-point 6-dp credits.
	InputPricePerM  int64 `json:"input_price_per_m"`
	OutputPricePerM int64 `json:"output_price_per_m"`
	CachedPricePerM int64 `json:"cached_price_per_m"`
}

// TokenRangeMaxInf marks an unbounded token range upper edge.
const TokenRangeMaxInf = math.MaxInt64

// TokenRange is a half-open interval [Min, Max) selecting which tiers route
// a prompt of a given token size.
type TokenRange struct {
	ID  string `json:"id"`
	Min int64  `json:"min"`
	Max int64  `json:"max"`
}

// Contains reports whether tokens falls inside the range.
func (r TokenRange) Contains(tokens int64) bool {
	return tokens >= r.Min && tokens < r.Max
}

// Tier is an ordered group of endpoints within a token range.
type Tier struct {
	ID           string       `json:"id"`
	TokenRangeID string       `json:"token_range_id"`
	Kind         EndpointKind `json:"kind"`
	Order        int          `json:"order"`
	IsPremium    bool         `json:"is_premium"`
	IsMax        bool         `json:"is_max"`
	// CreditMultiplier scales the credit cost of every invocation routed
	// through this tier. Fixed-point 6-dp; 1_000_000 is 1.0.
	CreditMultiplier int64 `json:"credit_multiplier"`
}

// TierEndpoint binds an endpoint into a tier with a positive weight.
type TierEndpoint struct {
	ID         string  `json:"id"`
	TierID     string  `json:"tier_id"`
	EndpointID string  `json:"endpoint_id"`
	Weight     float64 `json:"weight"`
	Enabled    bool    `json:"enabled"`
}

// RoutingProfile groups the whole configuration graph; exactly one profile
// is active globally.
type RoutingProfile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Completion records one LLM attempt for accounting.
type Completion struct {
	ID               string `json:"id"`
	AgentID          string `json:"agent_id"`
	StepID           string `json:"step_id,omitempty"`
	EndpointID       string `json:"endpoint_id"`
	Model            string `json:"model"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	CachedTokens     int64  `json:"cached_tokens"`
	// TotalCost and CreditsCost are fixed-point 6-dp credits; CreditsCost
	// = TotalCost x plan multiplier x tier multiplier.
	TotalCost   int64     `json:"total_cost"`
	CreditsCost int64     `json:"credits_cost"`
	Failed      bool      `json:"failed,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
