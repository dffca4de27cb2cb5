package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicClient speaks the Anthropic Messages API.
type AnthropicClient struct {
	client     anthropic.Client
	name       string
	maxRetries int
	retryDelay time.Duration
}

// NewAnthropicClient creates a client for the given credentials. baseURL may
// be empty for the public API.
func NewAnthropicClient(name, apiKey, baseURL string) *AnthropicClient {
	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{
		client:     anthropic.NewClient(options...),
		name:       name,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	var msg *anthropic.Message
	err = c.retry(ctx, func() error {
		var callErr error
		msg, callErr = c.client.Messages.New(ctx, params)
		if callErr != nil {
			return c.classify(req.Model, callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &CompletionResponse{
		Usage: Usage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
			CachedTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolInvocation{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: json.RawMessage(block.Input),
			})
		}
	}
	return out, nil
}

func (c *AnthropicClient) buildParams(req *CompletionRequest) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &input); err != nil {
						return params, fmt.Errorf("tool call %s args: %w", tc.ID, err)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			params.Messages = append(params.Messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content)))
		}
	}

	for _, tool := range req.Tools {
		var schema struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		if len(tool.Parameters) > 0 {
			if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
				return params, fmt.Errorf("tool %s schema: %w", tool.Name, err)
			}
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			},
		})
	}
	if len(params.Tools) > 0 && req.ToolChoiceAuto {
		auto := anthropic.ToolChoiceAutoParam{}
		if !req.ParallelToolCalls {
			auto.DisableParallelToolUse = anthropic.Bool(true)
		}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &auto}
	}
	return params, nil
}

func (c *AnthropicClient) classify(model string, err error) error {
	var apiErr *anthropic.Error
	status := 0
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return classifyErr(c.name, model, status, err)
}

func (c *AnthropicClient) retry(ctx context.Context, op func() error) error {
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
