package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardenhq/warden/internal/providers"
	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

// ErrTiersExhausted is returned when every endpoint in every applicable
// tier failed for one call.
var ErrTiersExhausted = errors.New("all tiers exhausted")

// Invoker drives a routed call through the fallback sequence, recording one
// Completion per attempt and resolving the credit cost.
type Invoker struct {
	router      *Router
	completions storage.CompletionStore
	logger      *slog.Logger
	now         func() time.Time
}

// NewInvoker creates an Invoker.
func NewInvoker(r *Router, completions storage.CompletionStore, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{router: r, completions: completions, logger: logger, now: time.Now}
}

// Result is a successful invocation with its accounting.
type Result struct {
	Response    *providers.CompletionResponse
	Candidate   Candidate
	CreditsCost int64
}

// mulFixed multiplies two fixed-point 6-dp values.
func mulFixed(a, b int64) int64 {
	return a * b / models.CreditUnit
}

// tierMultiplier reads a tier's credit multiplier, treating an unset value
// as 1.0 so a bare tier row cannot zero out credit accounting.
func tierMultiplier(t models.Tier) int64 {
	if t.CreditMultiplier <= 0 {
		return models.CreditUnit
	}
	return t.CreditMultiplier
}

// attemptCost computes the fixed-point credit cost of one completion.
func attemptCost(ep models.Endpoint, usage providers.Usage) int64 {
	const million = 1_000_000
	freshPrompt := usage.PromptTokens - usage.CachedTokens
	if freshPrompt < 0 {
		freshPrompt = 0
	}
	total := freshPrompt*ep.InputPricePerM/million +
		usage.CompletionTokens*ep.OutputPricePerM/million +
		usage.CachedTokens*ep.CachedPricePerM/million
	return total
}

// Complete walks the fallback sequence until a candidate succeeds. The
// request's Model and capability-dependent fields are resolved per
// candidate. planMultiplier is the owning plan's fixed-point credit
// multiplier.
func (i *Invoker) Complete(ctx context.Context, agentID, stepID string, promptTokens int64, preferred models.TierKey, planMultiplier int64, req *providers.CompletionRequest) (*Result, error) {
	seq, err := i.router.Route(ctx, promptTokens, preferred, models.EndpointPersistent)
	if err != nil {
		return nil, err
	}
	return i.drive(ctx, agentID, stepID, seq, planMultiplier, req)
}

func (i *Invoker) drive(ctx context.Context, agentID, stepID string, seq *Sequence, planMultiplier int64, req *providers.CompletionRequest) (*Result, error) {
	var lastErr error
	for {
		candidate, ok := seq.Next()
		if !ok {
			if lastErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrTiersExhausted, lastErr)
			}
			return nil, ErrTiersExhausted
		}

		client, err := i.router.Client(candidate)
		if err != nil {
			lastErr = err
			continue
		}

		attempt := *req
		attempt.Model = candidate.Endpoint.Model
		if !candidate.Endpoint.SupportsToolChoice {
			attempt.ToolChoiceAuto = false
		}
		if !candidate.Endpoint.UseParallelToolCalls {
			attempt.ParallelToolCalls = false
		}
		if !candidate.Endpoint.SupportsTemperature {
			attempt.Temperature = nil
		}

		resp, err := client.Complete(ctx, &attempt)
		record := &models.Completion{
			AgentID:    agentID,
			StepID:     stepID,
			EndpointID: candidate.Endpoint.ID,
			Model:      candidate.Endpoint.Model,
			CreatedAt:  i.now().UTC(),
		}
		if err != nil {
			record.Failed = true
			if cerr := i.completions.Create(ctx, record); cerr != nil {
				i.logger.Error("record failed completion", "error", cerr)
			}
			i.logger.Warn("completion attempt failed",
				"provider", candidate.Provider.Key,
				"model", candidate.Endpoint.Model,
				"error", err)
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		record.PromptTokens = resp.Usage.PromptTokens
		record.CompletionTokens = resp.Usage.CompletionTokens
		record.CachedTokens = resp.Usage.CachedTokens
		record.TotalCost = attemptCost(candidate.Endpoint, resp.Usage)
		record.CreditsCost = mulFixed(mulFixed(record.TotalCost, planMultiplier), tierMultiplier(candidate.Tier))
		if cerr := i.completions.Create(ctx, record); cerr != nil {
			i.logger.Error("record completion", "error", cerr)
		}

		return &Result{Response: resp, Candidate: candidate, CreditsCost: record.CreditsCost}, nil
	}
}

// Embed routes an embeddings call through the embeddings tier sequence with
// the same fallback behavior as completions. The returned cost is the
// resolved credit cost of the successful attempt.
func (i *Invoker) Embed(ctx context.Context, agentID, stepID string, planMultiplier int64, input []string) ([][]float32, int64, error) {
	seq, err := i.router.Route(ctx, 0, models.TierStandard, models.EndpointEmbeddings)
	if err != nil {
		return nil, 0, err
	}

	var chars int64
	for _, s := range input {
		chars += int64(len(s))
	}
	approxTokens := chars / 4

	var lastErr error
	for {
		candidate, ok := seq.Next()
		if !ok {
			if lastErr != nil {
				return nil, 0, fmt.Errorf("%w: %v", ErrTiersExhausted, lastErr)
			}
			return nil, 0, ErrTiersExhausted
		}
		client, err := i.router.Client(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		embedder, ok := client.(providers.Embedder)
		if !ok {
			lastErr = fmt.Errorf("provider %s cannot embed", candidate.Provider.Key)
			continue
		}

		vectors, err := embedder.Embed(ctx, candidate.Endpoint.Model, input)
		record := &models.Completion{
			AgentID:      agentID,
			StepID:       stepID,
			EndpointID:   candidate.Endpoint.ID,
			Model:        candidate.Endpoint.Model,
			PromptTokens: approxTokens,
			CreatedAt:    i.now().UTC(),
		}
		if err != nil {
			record.Failed = true
			if cerr := i.completions.Create(ctx, record); cerr != nil {
				i.logger.Error("record failed embedding", "error", cerr)
			}
			lastErr = err
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			continue
		}
		record.TotalCost = approxTokens * candidate.Endpoint.InputPricePerM / 1_000_000
		record.CreditsCost = mulFixed(mulFixed(record.TotalCost, planMultiplier), tierMultiplier(candidate.Tier))
		if cerr := i.completions.Create(ctx, record); cerr != nil {
			i.logger.Error("record embedding", "error", cerr)
		}
		return vectors, record.CreditsCost, nil
	}
}
