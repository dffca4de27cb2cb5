// Package providers implements the LLM endpoint contracts the tier router
// dispatches to. Provider specifics stay behind the Client interface; the
// router only sees capability flags.
package providers

import (
	"context"
	"encoding/json"
)

// Message is one turn of conversation in provider-neutral form.
type Message struct {
	// Role is "user", "assistant", or "tool".
	Role    string
	Content string
	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string
	// ToolCalls carries the assistant's declared calls for replay.
	ToolCalls []ToolInvocation
}

// ToolSpec declares one tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the tool's params object.
	Parameters json.RawMessage
}

// ToolInvocation is one tool call declared by the model, in declaration
// order.
type ToolInvocation struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Usage is the token accounting of one completion.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	CachedTokens     int64
}

// CompletionRequest is a provider-neutral completion call.
type CompletionRequest struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolSpec

	// ToolChoiceAuto requests the provider's automatic tool choice; the
	// router clears it when the endpoint lacks supports_tool_choice.
	ToolChoiceAuto bool
	// ParallelToolCalls permits more than one call per turn; the router
	// clears it when the endpoint lacks use_parallel_tool_calls.
	ParallelToolCalls bool
	// Temperature is dropped when nil or when the endpoint lacks
	// supports_temperature.
	Temperature *float32
	MaxTokens   int
}

// CompletionResponse is the provider-neutral completion result.
type CompletionResponse struct {
	Content   string
	ToolCalls []ToolInvocation
	Usage     Usage
}

// Client invokes one concrete provider account.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// Embedder computes embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)
}

// NoAuthKey is the literal session key used when only a base URL is
// configured, a contract with OpenAI-compatible proxy deployments.
const NoAuthKey = "sk-noauth"
