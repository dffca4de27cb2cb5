package router

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/providers"
	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

// testGraph builds a two-range graph:
//   range small [0, 8000): tier 1 (standard, "alpha"), tier 2 (standard, "beta")
//   range large [8000, inf): tier 10 (standard, "gamma"), tier 11 (premium, "delta")
// plus one embeddings tier with "embed".
func testGraph() *storage.Graph {
	return &storage.Graph{
		Providers: []models.Provider{
			{ID: "p1", Key: "openai", Enabled: true, Backend: models.BackendOpenAI, APIKey: "k1"},
			{ID: "p2", Key: "proxy", Enabled: true, Backend: models.BackendOpenAI, APIKey: "k2"},
		},
		Endpoints: []models.Endpoint{
			{ID: "alpha", ProviderID: "p1", Key: "alpha", Kind: models.EndpointPersistent, Model: "model-alpha", ContextTokens: 8000, InputPricePerM: 1000, OutputPricePerM: 2000},
			{ID: "beta", ProviderID: "p2", Key: "beta", Kind: models.EndpointPersistent, Model: "model-beta", ContextTokens: 8000, InputPricePerM: 500, OutputPricePerM: 1000},
			{ID: "gamma", ProviderID: "p1", Key: "gamma", Kind: models.EndpointPersistent, Model: "model-gamma", ContextTokens: 200000, InputPricePerM: 3000, OutputPricePerM: 6000},
			{ID: "delta", ProviderID: "p2", Key: "delta", Kind: models.EndpointPersistent, Model: "model-delta", ContextTokens: 200000, InputPricePerM: 9000, OutputPricePerM: 18000},
			{ID: "embed", ProviderID: "p1", Key: "embed", Kind: models.EndpointEmbeddings, Model: "model-embed", InputPricePerM: 100},
		},
		TokenRanges: []models.TokenRange{
			{ID: "small", Min: 0, Max: 8000},
			{ID: "large", Min: 8000, Max: models.TokenRangeMaxInf},
		},
		Tiers: []models.Tier{
			{ID: "t1", TokenRangeID: "small", Kind: models.EndpointPersistent, Order: 1, CreditMultiplier: models.CreditUnit},
			{ID: "t2", TokenRangeID: "small", Kind: models.EndpointPersistent, Order: 2, CreditMultiplier: models.CreditUnit},
			{ID: "t10", TokenRangeID: "large", Kind: models.EndpointPersistent, Order: 1, CreditMultiplier: models.CreditUnit},
			{ID: "t11", TokenRangeID: "large", Kind: models.EndpointPersistent, Order: 2, IsPremium: true, CreditMultiplier: 2 * models.CreditUnit},
			{ID: "te", Kind: models.EndpointEmbeddings, Order: 1, CreditMultiplier: models.CreditUnit},
		},
		TierEndpoints: []models.TierEndpoint{
			{ID: "te1", TierID: "t1", EndpointID: "alpha", Weight: 1, Enabled: true},
			{ID: "te2", TierID: "t2", EndpointID: "beta", Weight: 1, Enabled: true},
			{ID: "te10", TierID: "t10", EndpointID: "gamma", Weight: 1, Enabled: true},
			{ID: "te11", TierID: "t11", EndpointID: "delta", Weight: 1, Enabled: true},
			{ID: "tee", TierID: "te", EndpointID: "embed", Weight: 1, Enabled: true},
		},
	}
}

func newTestRouter(t *testing.T, g *storage.Graph, opts ...Option) *Router {
	t.Helper()
	stores := storage.NewMemoryStores()
	if err := stores.LLMConfig.SaveGraph(context.Background(), g); err != nil {
		t.Fatalf("save graph: %v", err)
	}
	opts = append(opts, WithRand(rand.New(rand.NewSource(42))))
	return New(stores.LLMConfig, opts...)
}

func TestRouteSelectsTokenRange(t *testing.T) {
	r := newTestRouter(t, testGraph())
	ctx := context.Background()

	seq, err := r.Route(ctx, 1000, models.TierStandard, models.EndpointPersistent)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	c, ok := seq.Next()
	if !ok {
		t.Fatal("no candidate")
	}
	if c.Endpoint.ID != "alpha" {
		t.Errorf("first candidate = %s, want alpha (tier order)", c.Endpoint.ID)
	}

	seq, err = r.Route(ctx, 50000, models.TierStandard, models.EndpointPersistent)
	if err != nil {
		t.Fatalf("route large: %v", err)
	}
	c, ok = seq.Next()
	if !ok {
		t.Fatal("no candidate in large range")
	}
	if c.Endpoint.ID != "gamma" {
		t.Errorf("large-range candidate = %s, want gamma", c.Endpoint.ID)
	}
	// Standard preference excludes the premium tier.
	if _, ok := seq.Next(); ok {
		t.Error("standard preference should not reach the premium tier")
	}
}

func TestRoutePremiumOrdering(t *testing.T) {
	r := newTestRouter(t, testGraph())
	seq, err := r.Route(context.Background(), 50000, models.TierPremium, models.EndpointPersistent)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	first, _ := seq.Next()
	if first.Endpoint.ID != "delta" {
		t.Errorf("premium preference first = %s, want delta", first.Endpoint.ID)
	}
	second, ok := seq.Next()
	if !ok || second.Endpoint.ID != "gamma" {
		t.Errorf("premium preference second = %v, want gamma", second.Endpoint.ID)
	}
}

func TestRouteSkipsProviderWithoutKey(t *testing.T) {
	g := testGraph()
	g.Providers[0].APIKey = "" // alpha and gamma lose their key
	r := newTestRouter(t, g, WithEnv(func(string) string { return "" }))

	seq, err := r.Route(context.Background(), 1000, models.TierStandard, models.EndpointPersistent)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	c, ok := seq.Next()
	if !ok {
		t.Fatal("no candidate")
	}
	if c.Endpoint.ID != "beta" {
		t.Errorf("candidate = %s, want beta (tier 1 provider unkeyed)", c.Endpoint.ID)
	}
}

func TestRouteBaseURLWithoutKeyStillUsable(t *testing.T) {
	g := testGraph()
	g.Providers[0].APIKey = ""
	g.Endpoints[0].BaseURL = "http://proxy.internal/v1"
	r := newTestRouter(t, g, WithEnv(func(string) string { return "" }))

	seq, err := r.Route(context.Background(), 1000, models.TierStandard, models.EndpointPersistent)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	c, _ := seq.Next()
	if c.Endpoint.ID != "alpha" {
		t.Errorf("candidate = %s, want alpha via base URL", c.Endpoint.ID)
	}
}

func TestSequenceDrawsEachEndpointOnce(t *testing.T) {
	g := testGraph()
	// Put both endpoints in tier 1 with uneven weights.
	g.TierEndpoints[1].TierID = "t1"
	g.TierEndpoints[0].Weight = 10
	g.TierEndpoints[1].Weight = 0.5
	r := newTestRouter(t, g)

	seq, err := r.Route(context.Background(), 1000, models.TierStandard, models.EndpointPersistent)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	seen := map[string]int{}
	for {
		c, ok := seq.Next()
		if !ok {
			break
		}
		seen[c.Endpoint.ID]++
	}
	if seen["alpha"] != 1 || seen["beta"] != 1 {
		t.Errorf("each endpoint should be drawn exactly once, got %v", seen)
	}
}

type scriptedClient struct {
	fail  bool
	calls int
}

func (s *scriptedClient) Complete(_ context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	s.calls++
	if s.fail {
		return nil, &providers.Error{Reason: providers.ReasonServerError, Err: errors.New("boom")}
	}
	return &providers.CompletionResponse{
		Content: "ok from " + req.Model,
		Usage:   providers.Usage{PromptTokens: 1000, CompletionTokens: 500},
	}, nil
}

func TestInvokerFallsBackAcrossTiers(t *testing.T) {
	stores := storage.NewMemoryStores()
	if err := stores.LLMConfig.SaveGraph(context.Background(), testGraph()); err != nil {
		t.Fatalf("save graph: %v", err)
	}
	clients := map[string]*scriptedClient{
		"alpha": {fail: true},
		"beta":  {},
	}
	r := New(stores.LLMConfig,
		WithRand(rand.New(rand.NewSource(1))),
		WithClientFactory(func(_ models.Provider, ep models.Endpoint) (providers.Client, error) {
			return clients[ep.ID], nil
		}))
	inv := NewInvoker(r, stores.Completions, nil)

	res, err := inv.Complete(context.Background(), "a1", "s1", 1000, models.TierStandard,
		models.CreditUnit, &providers.CompletionRequest{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Candidate.Endpoint.ID != "beta" {
		t.Errorf("succeeded on %s, want beta", res.Candidate.Endpoint.ID)
	}
	if clients["alpha"].calls != 1 {
		t.Errorf("alpha calls = %d, want 1", clients["alpha"].calls)
	}
	// The successful attempt's cost is recorded: fresh prompt 1000 @
	// 500/M rounds to 0, completion 500 @ 1000/M rounds to 0; with the
	// small test prices the sum stays zero, so assert no error instead.
	if _, err := stores.Completions.SumCreditsSince(context.Background(), "a1", time.Time{}); err != nil {
		t.Errorf("sum credits: %v", err)
	}
}

func TestAttemptCostMath(t *testing.T) {
	ep := models.Endpoint{InputPricePerM: 1_000_000, OutputPricePerM: 2_000_000, CachedPricePerM: 100_000}
	usage := providers.Usage{PromptTokens: 1_000_000, CompletionTokens: 500_000, CachedTokens: 200_000}
	// fresh prompt 800k @ 1.0/M = 0.8; completion 500k @ 2.0/M = 1.0; cached 200k @ 0.1/M = 0.02
	got := attemptCost(ep, usage)
	want := int64(800_000 + 1_000_000 + 20_000)
	if got != want {
		t.Errorf("attemptCost = %d, want %d", got, want)
	}
}

func TestMulFixed(t *testing.T) {
	// 2.5 credits x 1.5 multiplier = 3.75
	got := mulFixed(2_500_000, 1_500_000)
	if got != 3_750_000 {
		t.Errorf("mulFixed = %d, want 3750000", got)
	}
}

func TestUnsetTierMultiplierChargesFullCost(t *testing.T) {
	g := testGraph()
	g.Tiers[0].CreditMultiplier = 0 // tier row created without a multiplier
	g.Endpoints[0].InputPricePerM = 1_000_000
	g.Endpoints[0].OutputPricePerM = 2_000_000
	stores := storage.NewMemoryStores()
	if err := stores.LLMConfig.SaveGraph(context.Background(), g); err != nil {
		t.Fatalf("save graph: %v", err)
	}
	r := New(stores.LLMConfig,
		WithRand(rand.New(rand.NewSource(1))),
		WithClientFactory(func(_ models.Provider, _ models.Endpoint) (providers.Client, error) {
			return &scriptedClient{}, nil
		}))
	inv := NewInvoker(r, stores.Completions, nil)

	res, err := inv.Complete(context.Background(), "a1", "s1", 1000, models.TierStandard,
		models.CreditUnit, &providers.CompletionRequest{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	// prompt 1000 @ 1.0/M + completion 500 @ 2.0/M = 0.002 credits; an
	// unset tier multiplier must charge that in full, not zero it.
	if res.CreditsCost != 2000 {
		t.Errorf("CreditsCost = %d, want 2000", res.CreditsCost)
	}
}

func TestTierMultiplierDefaults(t *testing.T) {
	if got := tierMultiplier(models.Tier{}); got != models.CreditUnit {
		t.Errorf("unset multiplier = %d, want %d", got, models.CreditUnit)
	}
	if got := tierMultiplier(models.Tier{CreditMultiplier: 2 * models.CreditUnit}); got != 2*models.CreditUnit {
		t.Errorf("set multiplier = %d, want %d", got, 2*models.CreditUnit)
	}
}
