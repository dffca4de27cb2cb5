package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient speaks the OpenAI chat-completions API. It also serves any
// OpenAI-compatible deployment reached through a base URL, in which case a
// missing API key is replaced by the NoAuthKey literal.
type OpenAIClient struct {
	client     *openai.Client
	name       string
	headers    http.Header
	maxRetries int
	retryDelay time.Duration
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithOpenAIRetries overrides the retry policy.
func WithOpenAIRetries(maxRetries int, delay time.Duration) OpenAIOption {
	return func(c *OpenAIClient) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// WithOpenAIHeaders injects extra headers on every request; used for vertex
// project/location routing on proxy deployments.
func WithOpenAIHeaders(headers http.Header) OpenAIOption {
	return func(c *OpenAIClient) { c.headers = headers }
}

type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, vs := range t.headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewOpenAIClient creates a client for the given credentials. baseURL may be
// empty for the public API.
func NewOpenAIClient(name, apiKey, baseURL string, opts ...OpenAIOption) *OpenAIClient {
	if apiKey == "" && baseURL != "" {
		apiKey = NoAuthKey
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	c := &OpenAIClient{
		name:       name,
		maxRetries: 3,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.headers) > 0 {
		cfg.HTTPClient = &http.Client{Transport: &headerTransport{headers: c.headers}}
	}
	c.client = openai.NewClientWithConfig(cfg)
	return c
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	oreq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var resp openai.ChatCompletionResponse
	err = c.retry(ctx, func() error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, oreq)
		if callErr != nil {
			return c.classify(req.Model, callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Reason: ReasonServerError, Provider: c.name, Model: req.Model,
			Err: errors.New("no choices in response")}
	}

	choice := resp.Choices[0].Message
	out := &CompletionResponse{
		Content: choice.Content,
		Usage: Usage{
			PromptTokens:     int64(resp.Usage.PromptTokens),
			CompletionTokens: int64(resp.Usage.CompletionTokens),
		},
	}
	if resp.Usage.PromptTokensDetails != nil {
		out.Usage.CachedTokens = int64(resp.Usage.PromptTokensDetails.CachedTokens)
	}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolInvocation{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

func (c *OpenAIClient) buildRequest(req *CompletionRequest) (openai.ChatCompletionRequest, error) {
	oreq := openai.ChatCompletionRequest{Model: req.Model}
	if req.MaxTokens > 0 {
		oreq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		oreq.Temperature = *req.Temperature
	}

	if req.System != "" {
		oreq.Messages = append(oreq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		om := openai.ChatCompletionMessage{Content: msg.Content}
		switch msg.Role {
		case "assistant":
			om.Role = openai.ChatMessageRoleAssistant
			for _, tc := range msg.ToolCalls {
				om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
		case "tool":
			om.Role = openai.ChatMessageRoleTool
			om.ToolCallID = msg.ToolCallID
		default:
			om.Role = openai.ChatMessageRoleUser
		}
		oreq.Messages = append(oreq.Messages, om)
	}

	for _, tool := range req.Tools {
		var params any
		if len(tool.Parameters) > 0 {
			if err := json.Unmarshal(tool.Parameters, &params); err != nil {
				return oreq, fmt.Errorf("tool %s schema: %w", tool.Name, err)
			}
		}
		oreq.Tools = append(oreq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	if len(oreq.Tools) > 0 && req.ToolChoiceAuto {
		oreq.ToolChoice = "auto"
	}
	if len(oreq.Tools) > 0 && !req.ParallelToolCalls {
		disabled := false
		oreq.ParallelToolCalls = &disabled
	}
	return oreq, nil
}

// Embed implements Embedder.
func (c *OpenAIClient) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	var resp openai.EmbeddingResponse
	err := c.retry(ctx, func() error {
		var callErr error
		resp, callErr = c.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: input,
			Model: openai.EmbeddingModel(model),
		})
		if callErr != nil {
			return c.classify(model, callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (c *OpenAIClient) classify(model string, err error) error {
	var apiErr *openai.APIError
	status := 0
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatusCode
	}
	return classifyErr(c.name, model, status, err)
}

// retry runs op with exponential backoff on retryable classifications.
func (c *OpenAIClient) retry(ctx context.Context, op func() error) error {
	var lastErr error
	delay := c.retryDelay
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt >= c.maxRetries {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}
