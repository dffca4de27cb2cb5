// Package dupguard rejects outbound messages that duplicate the agent's
// previous outbound on the same channel.
package dupguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

// DefaultThreshold is the similarity ceiling for outbound bodies; per-plan
// config can override it.
const DefaultThreshold = 0.97

// EmbedFunc produces embedding vectors for the given inputs and reports
// the credit cost of the call. Wiring binds it to the embeddings tier.
type EmbedFunc func(ctx context.Context, input []string) ([][]float32, int64, error)

// Violation describes a rejected outbound. Nil means the message may go out.
type Violation struct {
	Reason     string  // "exact" or "similarity"
	Similarity float64 // populated for "similarity"
}

// Payload renders the violation as the tool-facing error result.
func (v *Violation) Payload() map[string]any {
	p := map[string]any{
		"status":             "error",
		"duplicate_detected": true,
		"duplicate_reason":   v.Reason,
		"auto_sleep_ok":      true,
	}
	if v.Reason == "similarity" {
		p["similarity"] = v.Similarity
	}
	return p
}

// Guard compares candidate outbounds against the last outbound on record.
type Guard struct {
	messages storage.MessageStore
	embed    EmbedFunc
	logger   *slog.Logger
}

// New creates a Guard. embed may be nil to force the Levenshtein fallback.
func New(messages storage.MessageStore, embed EmbedFunc, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{messages: messages, embed: embed, logger: logger}
}

// Check compares the candidate body against the agent's most recent
// outbound on the channel (narrowed to toAddress when set). The returned
// cost is any embedding spend incurred.
func (g *Guard) Check(ctx context.Context, agentID string, channel models.Channel, toAddress, body string, threshold float64) (*Violation, int64, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	prev, err := g.messages.LastOutbound(ctx, agentID, channel, toAddress)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("load last outbound: %w", err)
	}
	if prev == nil {
		return nil, 0, nil
	}

	if prev.Body == body {
		return &Violation{Reason: "exact"}, 0, nil
	}

	similarity, cost := g.similarity(ctx, prev.Body, body)
	if similarity >= threshold {
		return &Violation{Reason: "similarity", Similarity: similarity}, cost, nil
	}
	return nil, cost, nil
}

// similarity prefers embeddings; an unreachable embeddings tier degrades
// to the Levenshtein ratio.
func (g *Guard) similarity(ctx context.Context, a, b string) (float64, int64) {
	if g.embed != nil {
		vectors, cost, err := g.embed(ctx, []string{a, b})
		if err == nil && len(vectors) == 2 {
			return (cosine(vectors[0], vectors[1]) + 1) / 2, cost
		}
		if err != nil {
			g.logger.Warn("embedding similarity unavailable, using levenshtein", "error", err)
		}
	}
	return LevenshteinRatio(a, b), 0
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// LevenshteinRatio is (|a|+|b|-dist) / (|a|+|b|), in [0,1].
func LevenshteinRatio(a, b string) float64 {
	if len(a)+len(b) == 0 {
		return 1
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	dist := dmp.DiffLevenshtein(diffs)
	total := len([]rune(a)) + len([]rune(b))
	return float64(total-dist) / float64(total)
}
