package prompt

import (
	"context"
	"fmt"
	"log/slog"
)

// Summarizer collapses older conversation text into a short summary. The
// returned cost is the credit cost of the summarizer call, attributed to
// the step being assembled.
type Summarizer func(ctx context.Context, text string) (summary string, creditsCost int64, err error)

// minRecentEntries is how many newest entries survive summarizer collapse
// and oldest-first dropping.
const minRecentEntries = 4

// Compactor fits an assembled prompt into a token budget using ordered,
// deterministic stages: digest substitution, summarizer collapse, then
// dropping oldest entries.
type Compactor struct {
	builder    *Builder
	counter    *Counter
	summarizer Summarizer
	logger     *slog.Logger
}

// NewCompactor creates a Compactor. summarizer may be nil, in which case
// the collapse stage is skipped.
func NewCompactor(builder *Builder, counter *Counter, summarizer Summarizer, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{builder: builder, counter: counter, summarizer: summarizer, logger: logger}
}

// Result is the compacted prompt with its accounting.
type Result struct {
	System string
	User   string

	TokensBefore int
	TokensAfter  int

	// SummarizerCost is the credit cost of any summarizer call made
	// during compaction.
	SummarizerCost int64
}

// Fit renders the prompt and compacts until it fits tokenBudget.
func (c *Compactor) Fit(ctx context.Context, in *Inputs, tokenBudget int) (*Result, error) {
	system := c.builder.System(in)
	user := c.builder.User(in)
	before := c.counter.Count(system) + c.counter.Count(user)

	res := &Result{System: system, User: user, TokensBefore: before, TokensAfter: before}
	if before <= tokenBudget {
		return res, nil
	}

	working := *in
	working.Entries = append([]Entry(nil), in.Entries...)

	// Stage 1: swap bulk tool output for its digest summary.
	substituteDigests(working.Entries)
	if c.rerender(&working, res, tokenBudget) {
		return res, nil
	}

	// Stage 2: collapse older history into one summary entry.
	if c.summarizer != nil && len(working.Entries) > minRecentEntries {
		if err := c.collapse(ctx, &working, res); err != nil {
			c.logger.Warn("summarizer collapse failed, falling back to drop", "error", err)
		} else if c.rerender(&working, res, tokenBudget) {
			return res, nil
		}
	}

	// Stage 3: drop oldest entries until it fits or nothing is left to drop.
	for len(working.Entries) > 1 {
		working.Entries = working.Entries[1:]
		if c.rerender(&working, res, tokenBudget) {
			return res, nil
		}
	}
	if res.TokensAfter > tokenBudget {
		return res, fmt.Errorf("prompt does not fit budget %d after compaction (%d tokens)", tokenBudget, res.TokensAfter)
	}
	return res, nil
}

// rerender updates the result and reports whether it fits.
func (c *Compactor) rerender(in *Inputs, res *Result, budget int) bool {
	res.User = c.builder.User(in)
	res.TokensAfter = c.counter.Count(res.System) + c.counter.Count(res.User)
	return res.TokensAfter <= budget
}

func (c *Compactor) collapse(ctx context.Context, in *Inputs, res *Result) error {
	cut := len(in.Entries) - minRecentEntries
	older := in.Entries[:cut]

	var text string
	for _, e := range older {
		text += renderEntry(e)
	}
	summary, cost, err := c.summarizer(ctx, text)
	if err != nil {
		return err
	}
	res.SummarizerCost += cost

	collapsed := Entry{
		At:    older[len(older)-1].At,
		Label: "prior conversation summary",
		Text:  summary,
	}
	in.Entries = append([]Entry{collapsed}, in.Entries[cut:]...)
	return nil
}
