// Package router selects LLM endpoints by token range, tier order, and
// intra-tier weighted random, and provides the fallback sequence across
// endpoints and tiers.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wardenhq/warden/internal/providers"
	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

// ErrNoEndpoint is returned when no tier in range has a usable endpoint.
var ErrNoEndpoint = errors.New("no eligible endpoint")

const clientCacheSize = 64

// Candidate is one routable endpoint with its tier context.
type Candidate struct {
	Provider models.Provider
	Endpoint models.Endpoint
	Tier     models.Tier
}

// ClientFactory builds a provider client for a candidate.
type ClientFactory func(provider models.Provider, endpoint models.Endpoint) (providers.Client, error)

// Router resolves routing candidates from the active configuration graph.
// The graph is cached; admin writes bust the cache explicitly.
type Router struct {
	store   storage.LLMConfigStore
	logger  *slog.Logger
	factory ClientFactory
	clients *lru.Cache[string, providers.Client]
	env     func(string) string

	// Process-wide vertex defaults for "google" providers.
	vertexProject  string
	vertexLocation string

	mu    sync.Mutex
	rng   *rand.Rand
	graph *storage.Graph
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClientFactory overrides provider client construction.
func WithClientFactory(f ClientFactory) Option {
	return func(r *Router) { r.factory = f }
}

// WithRand seeds the weighted-random source, for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(r *Router) { r.rng = rng }
}

// WithEnv overrides environment lookup, for tests.
func WithEnv(env func(string) string) Option {
	return func(r *Router) { r.env = env }
}

// WithVertexDefaults sets process-wide vertex project and location.
func WithVertexDefaults(project, location string) Option {
	return func(r *Router) {
		r.vertexProject = project
		r.vertexLocation = location
	}
}

// New creates a Router over the config store.
func New(store storage.LLMConfigStore, opts ...Option) *Router {
	clients, _ := lru.New[string, providers.Client](clientCacheSize)
	r := &Router{
		store:   store,
		logger:  slog.Default(),
		clients: clients,
		env:     os.Getenv,
		rng:     rand.New(rand.NewSource(rand.Int63())),
	}
	r.factory = r.defaultFactory
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bust drops the cached graph and clients; called after admin writes.
func (r *Router) Bust() {
	r.mu.Lock()
	r.graph = nil
	r.mu.Unlock()
	r.clients.Purge()
}

func (r *Router) loadGraph(ctx context.Context) (*storage.Graph, error) {
	r.mu.Lock()
	cached := r.graph
	r.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	g, err := r.store.ActiveGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("load llm graph: %w", err)
	}
	r.mu.Lock()
	r.graph = g
	r.mu.Unlock()
	return g, nil
}

// apiKey resolves a provider's key from the stored value or its env
// fallback. A provider with neither but with base-URL endpoints still
// routes; the client substitutes the no-auth literal.
func (r *Router) apiKey(p models.Provider) string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.EnvVar != "" {
		return r.env(p.EnvVar)
	}
	return ""
}

// usable reports whether the provider can serve the endpoint.
func (r *Router) usable(p models.Provider, ep models.Endpoint) bool {
	if !p.Enabled {
		return false
	}
	return r.apiKey(p) != "" || ep.BaseURL != ""
}

// tierRank orders tiers for a preferred tier key: the preferred class
// first, then each lower class.
func tierRank(t models.Tier, preferred models.TierKey) int {
	switch preferred {
	case models.TierMax:
		switch {
		case t.IsMax:
			return 0
		case t.IsPremium:
			return 1
		default:
			return 2
		}
	case models.TierPremium:
		if t.IsMax {
			return -1 // excluded
		}
		if t.IsPremium {
			return 0
		}
		return 1
	default:
		if t.IsMax || t.IsPremium {
			return -1
		}
		return 0
	}
}

// Route returns the fallback sequence for a prompt of the given token size.
// Candidates come tier by tier in filtered order; within a tier they are
// drawn by weighted random without replacement.
func (r *Router) Route(ctx context.Context, promptTokens int64, preferred models.TierKey, kind models.EndpointKind) (*Sequence, error) {
	g, err := r.loadGraph(ctx)
	if err != nil {
		return nil, err
	}

	providersByID := make(map[string]models.Provider, len(g.Providers))
	for _, p := range g.Providers {
		providersByID[p.ID] = p
	}
	endpointsByID := make(map[string]models.Endpoint, len(g.Endpoints))
	for _, e := range g.Endpoints {
		endpointsByID[e.ID] = e
	}

	// Token ranges only partition persistent tiers; embeddings and
	// browser tiers route by order alone.
	var rangeID string
	if kind == models.EndpointPersistent {
		for _, tr := range g.TokenRanges {
			if tr.Contains(promptTokens) {
				rangeID = tr.ID
				break
			}
		}
		if rangeID == "" {
			return nil, fmt.Errorf("%w: no token range contains %d", ErrNoEndpoint, promptTokens)
		}
	}

	var tiers []models.Tier
	for _, t := range g.Tiers {
		if t.Kind != kind {
			continue
		}
		if kind == models.EndpointPersistent && t.TokenRangeID != rangeID {
			continue
		}
		if tierRank(t, preferred) < 0 {
			continue
		}
		tiers = append(tiers, t)
	}
	sort.SliceStable(tiers, func(i, j int) bool {
		ri, rj := tierRank(tiers[i], preferred), tierRank(tiers[j], preferred)
		if ri != rj {
			return ri < rj
		}
		return tiers[i].Order < tiers[j].Order
	})

	seq := &Sequence{router: r}
	for _, tier := range tiers {
		var pool []weighted
		for _, te := range g.TierEndpoints {
			if te.TierID != tier.ID || !te.Enabled || te.Weight <= 0 {
				continue
			}
			ep, ok := endpointsByID[te.EndpointID]
			if !ok {
				continue
			}
			p, ok := providersByID[ep.ProviderID]
			if !ok || !r.usable(p, ep) {
				continue
			}
			pool = append(pool, weighted{
				candidate: Candidate{Provider: p, Endpoint: ep, Tier: tier},
				weight:    te.Weight,
			})
		}
		if len(pool) > 0 {
			seq.tiers = append(seq.tiers, pool)
		}
	}
	if len(seq.tiers) == 0 {
		return nil, ErrNoEndpoint
	}
	return seq, nil
}

type weighted struct {
	candidate Candidate
	weight    float64
}

// Sequence is a lazy fallback iterator: endpoints within the current tier
// by weighted random without replacement, then the next tier.
type Sequence struct {
	router *Router
	tiers  [][]weighted
}

// Next draws the next candidate, or false when all tiers are exhausted.
func (s *Sequence) Next() (Candidate, bool) {
	for len(s.tiers) > 0 {
		pool := s.tiers[0]
		if len(pool) == 0 {
			s.tiers = s.tiers[1:]
			continue
		}
		idx := s.router.pickWeighted(pool)
		c := pool[idx].candidate
		pool[idx] = pool[len(pool)-1]
		s.tiers[0] = pool[:len(pool)-1]
		return c, true
	}
	return Candidate{}, false
}

// pickWeighted draws an index proportionally to weight. Weights need not
// sum to 1.
func (r *Router) pickWeighted(pool []weighted) int {
	var total float64
	for _, w := range pool {
		total += w.weight
	}
	r.mu.Lock()
	x := r.rng.Float64() * total
	r.mu.Unlock()
	for i, w := range pool {
		x -= w.weight
		if x < 0 {
			return i
		}
	}
	return len(pool) - 1
}

// Client returns the provider client for a candidate, cached per
// (provider, endpoint base URL).
func (r *Router) Client(c Candidate) (providers.Client, error) {
	key := c.Provider.ID + "|" + c.Endpoint.BaseURL
	if client, ok := r.clients.Get(key); ok {
		return client, nil
	}
	client, err := r.factory(c.Provider, c.Endpoint)
	if err != nil {
		return nil, err
	}
	r.clients.Add(key, client)
	return client, nil
}

func (r *Router) defaultFactory(p models.Provider, ep models.Endpoint) (providers.Client, error) {
	switch p.Backend {
	case models.BackendAnthropic:
		return providers.NewAnthropicClient(p.Key, r.apiKey(p), ep.BaseURL), nil
	case models.BackendOpenAI:
		var opts []providers.OpenAIOption
		if h := r.vertexHeaders(p); len(h) > 0 {
			opts = append(opts, providers.WithOpenAIHeaders(h))
		}
		return providers.NewOpenAIClient(p.Key, r.apiKey(p), ep.BaseURL, opts...), nil
	}
	return nil, fmt.Errorf("unknown backend %q for provider %s", p.Backend, p.Key)
}

// vertexHeaders builds the header set injected for "google" providers,
// falling back to process-wide defaults.
func (r *Router) vertexHeaders(p models.Provider) http.Header {
	if !strings.Contains(strings.ToLower(p.Key), "google") {
		return nil
	}
	project, location := p.VertexProject, p.VertexLocation
	if project == "" {
		project = r.vertexProject
	}
	if location == "" {
		location = r.vertexLocation
	}
	h := http.Header{}
	if project != "" {
		h.Set("X-Vertex-Project", project)
	}
	if location != "" {
		h.Set("X-Vertex-Location", location)
	}
	return h
}
