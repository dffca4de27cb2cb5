package storage

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/pkg/models"
)

// Memory is an in-memory store used by tests and single-process runs.
// All maps are guarded by one mutex; the dataset is small by construction.
type Memory struct {
	mu sync.Mutex

	agents        map[string]*models.Agent
	steps         map[string]*models.Step
	toolCalls     map[string]*models.ToolCall
	systemSteps   map[string]*models.SystemStep
	messages      map[string]*models.Message
	endpoints     map[string]*models.CommsEndpoint
	conversations map[string]*models.Conversation
	participants  map[string]*models.Participant
	variables     map[string]*models.Variable
	archives      map[string]*models.PromptArchive
	completions   map[string]*models.Completion
	graph         *Graph
	burnRates     map[string]*models.BurnRateSnapshot
	compute       map[string]*models.ComputeSession
	transfers     map[string]*models.TransferInvite
	suites        map[string]*models.EvalSuite
	scenarios     map[string]*models.EvalScenario
	evalRuns      map[string]*models.EvalRun
	evalTasks     map[string]*models.EvalTask
	allowlists    map[string]*models.AllowlistEntry

	seqs map[string]int64 // conversation id -> last seq
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		agents:        make(map[string]*models.Agent),
		steps:         make(map[string]*models.Step),
		toolCalls:     make(map[string]*models.ToolCall),
		systemSteps:   make(map[string]*models.SystemStep),
		messages:      make(map[string]*models.Message),
		endpoints:     make(map[string]*models.CommsEndpoint),
		conversations: make(map[string]*models.Conversation),
		participants:  make(map[string]*models.Participant),
		variables:     make(map[string]*models.Variable),
		archives:      make(map[string]*models.PromptArchive),
		completions:   make(map[string]*models.Completion),
		burnRates:     make(map[string]*models.BurnRateSnapshot),
		compute:       make(map[string]*models.ComputeSession),
		transfers:     make(map[string]*models.TransferInvite),
		suites:        make(map[string]*models.EvalSuite),
		scenarios:     make(map[string]*models.EvalScenario),
		evalRuns:      make(map[string]*models.EvalRun),
		evalTasks:     make(map[string]*models.EvalTask),
		allowlists:    make(map[string]*models.AllowlistEntry),
		seqs:          make(map[string]int64),
	}
}

// NewMemoryStores returns a StoreSet backed by a single Memory.
func NewMemoryStores() *StoreSet {
	return NewMemory().Stores()
}

// Stores exposes the Memory as a StoreSet.
func (m *Memory) Stores() *StoreSet {
	return &StoreSet{
		Agents:        (*memAgents)(m),
		Steps:         (*memSteps)(m),
		ToolCalls:     (*memToolCalls)(m),
		SystemSteps:   (*memSystemSteps)(m),
		Messages:      (*memMessages)(m),
		Endpoints:     (*memEndpoints)(m),
		Conversations: (*memConversations)(m),
		Variables:     (*memVariables)(m),
		Archives:      (*memArchives)(m),
		Completions:   (*memCompletions)(m),
		LLMConfig:     (*memLLMConfig)(m),
		BurnRates:     (*memBurnRates)(m),
		Compute:       (*memCompute)(m),
		Transfers:     (*memTransfers)(m),
		Evals:         (*memEvals)(m),
		Allowlists:    (*memAllowlists)(m),
	}
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

type memAgents Memory

func (m *memAgents) Create(_ context.Context, a *models.Agent) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	ensureID(&a.ID)
	if _, ok := mm.agents[a.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *a
	mm.agents[a.ID] = &cp
	return nil
}

func (m *memAgents) Get(_ context.Context, id string) (*models.Agent, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	a, ok := mm.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAgents) Update(_ context.Context, a *models.Agent) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if _, ok := mm.agents[a.ID]; !ok {
		return ErrNotFound
	}
	cp := *a
	mm.agents[a.ID] = &cp
	return nil
}

func (m *memAgents) Delete(_ context.Context, id string) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if _, ok := mm.agents[id]; !ok {
		return ErrNotFound
	}
	delete(mm.agents, id)
	return nil
}

func (m *memAgents) ListByOwner(_ context.Context, ownerType models.OwnerType, ownerID string) ([]*models.Agent, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.Agent
	for _, a := range mm.agents {
		if a.OwnerType == ownerType && a.OwnerID == ownerID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memAgents) ListProactiveCandidates(_ context.Context, limit int) ([]*models.Agent, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.Agent
	for _, a := range mm.agents {
		if a.ProactiveEnabled && a.LifeState == models.LifeStateActive && a.IsActive {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i], out[j]
		if !ai.ProactiveLastTriggerAt.Equal(aj.ProactiveLastTriggerAt) {
			return ai.ProactiveLastTriggerAt.Before(aj.ProactiveLastTriggerAt)
		}
		if !ai.LastInteractionAt.Equal(aj.LastInteractionAt) {
			return ai.LastInteractionAt.Before(aj.LastInteractionAt)
		}
		return ai.CreatedAt.Before(aj.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memAgents) ListExpirationCandidates(_ context.Context, planKey string, cutoff time.Time) ([]*models.Agent, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.Agent
	for _, a := range mm.agents {
		if a.LifeState != models.LifeStateActive || a.PlanKey != planKey {
			continue
		}
		if a.Schedule == "" || !a.LastInteractionAt.Before(cutoff) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastInteractionAt.Before(out[j].LastInteractionAt) })
	return out, nil
}

func (m *memAgents) ListScheduled(_ context.Context) ([]*models.Agent, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.Agent
	for _, a := range mm.agents {
		if a.LifeState == models.LifeStateActive && a.Schedule != "" {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memAgents) ListRecentlyActive(_ context.Context, since time.Time) ([]*models.Agent, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.Agent
	for _, a := range mm.agents {
		if !a.LastInteractionAt.Before(since) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memSteps Memory

func (m *memSteps) Create(_ context.Context, s *models.Step) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	ensureID(&s.ID)
	cp := *s
	mm.steps[s.ID] = &cp
	return nil
}

func (m *memSteps) ListRecent(_ context.Context, agentID string, limit int) ([]*models.Step, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.Step
	for _, s := range mm.steps {
		if s.AgentID == agentID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memSteps) SumCost(_ context.Context, agentID string, since, until time.Time) (int64, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var total int64
	for _, s := range mm.steps {
		if s.AgentID != agentID {
			continue
		}
		if s.CreatedAt.Before(since) || !s.CreatedAt.Before(until) {
			continue
		}
		total += s.CreditsCost
	}
	return total, nil
}

type memToolCalls Memory

func (m *memToolCalls) Create(_ context.Context, c *models.ToolCall) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	ensureID(&c.ID)
	cp := *c
	mm.toolCalls[c.ID] = &cp
	return nil
}

func (m *memToolCalls) ListByStep(_ context.Context, stepID string) ([]*models.ToolCall, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.ToolCall
	for _, c := range mm.toolCalls {
		if c.StepID == stepID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memToolCalls) CountByOwnerSince(_ context.Context, ownerType models.OwnerType, ownerID, toolName string, since time.Time) (int, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	n := 0
	for _, c := range mm.toolCalls {
		if c.ToolName != toolName || c.CreatedAt.Before(since) {
			continue
		}
		a, ok := mm.agents[c.AgentID]
		if !ok || a.OwnerType != ownerType || a.OwnerID != ownerID {
			continue
		}
		n++
	}
	return n, nil
}

type memSystemSteps Memory

func (m *memSystemSteps) Create(_ context.Context, s *models.SystemStep) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	ensureID(&s.ID)
	cp := *s
	mm.systemSteps[s.ID] = &cp
	return nil
}

func (m *memSystemSteps) ListUnconsumed(_ context.Context, agentID string, code models.SystemStepCode) ([]*models.SystemStep, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.SystemStep
	for _, s := range mm.systemSteps {
		if s.AgentID == agentID && s.Code == code && !s.Consumed {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memSystemSteps) Consume(_ context.Context, ids []string) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for _, id := range ids {
		if s, ok := mm.systemSteps[id]; ok {
			s.Consumed = true
		}
	}
	return nil
}

type memMessages Memory

func (m *memMessages) Create(_ context.Context, msg *models.Message) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	ensureID(&msg.ID)
	mm.seqs[msg.ConversationID]++
	msg.Seq = mm.seqs[msg.ConversationID]
	cp := *msg
	mm.messages[msg.ID] = &cp
	return nil
}

func (m *memMessages) Update(_ context.Context, msg *models.Message) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if _, ok := mm.messages[msg.ID]; !ok {
		return ErrNotFound
	}
	cp := *msg
	mm.messages[msg.ID] = &cp
	return nil
}

func sortMessages(out []*models.Message) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
}

func (m *memMessages) ListByConversation(_ context.Context, conversationID string, limit int) ([]*models.Message, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.Message
	for _, msg := range mm.messages {
		if msg.ConversationID == conversationID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sortMessages(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memMessages) ListRecentByAgent(_ context.Context, agentID string, limit int) ([]*models.Message, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.Message
	for _, msg := range mm.messages {
		if msg.AgentID == agentID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sortMessages(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memMessages) LastOutbound(_ context.Context, agentID string, channel models.Channel, toAddress string) (*models.Message, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var last *models.Message
	for _, msg := range mm.messages {
		if !msg.IsOutbound || msg.AgentID != agentID || msg.Channel != channel {
			continue
		}
		if toAddress != "" && !strings.EqualFold(msg.ToAddress, toAddress) {
			continue
		}
		if last == nil || msg.CreatedAt.After(last.CreatedAt) {
			last = msg
		}
	}
	if last == nil {
		return nil, ErrNotFound
	}
	cp := *last
	return &cp, nil
}

type memEndpoints Memory

func (m *memEndpoints) GetOrCreate(_ context.Context, ep *models.CommsEndpoint) (*models.CommsEndpoint, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for _, e := range mm.endpoints {
		if e.Channel == ep.Channel && e.NormalizedAddress() == ep.NormalizedAddress() {
			cp := *e
			return &cp, nil
		}
	}
	ensureID(&ep.ID)
	cp := *ep
	mm.endpoints[ep.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memEndpoints) Get(_ context.Context, id string) (*models.CommsEndpoint, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	e, ok := mm.endpoints[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memEndpoints) ListByAgent(_ context.Context, agentID string) ([]*models.CommsEndpoint, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.CommsEndpoint
	for _, e := range mm.endpoints {
		if e.AgentID == agentID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memConversations Memory

func (m *memConversations) FindOrCreate(_ context.Context, agentID string, channel models.Channel, address string) (*models.Conversation, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	norm := strings.ToLower(strings.TrimSpace(address))
	for _, c := range mm.conversations {
		if c.AgentID == agentID && c.Channel == channel && strings.ToLower(c.Address) == norm {
			cp := *c
			return &cp, nil
		}
	}
	c := &models.Conversation{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Channel:   channel,
		Address:   address,
		CreatedAt: time.Now().UTC(),
	}
	mm.conversations[c.ID] = c
	cp := *c
	return &cp, nil
}

func (m *memConversations) AddParticipant(_ context.Context, p *models.Participant) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	ensureID(&p.ID)
	cp := *p
	mm.participants[p.ID] = &cp
	return nil
}

func (m *memConversations) ListParticipants(_ context.Context, conversationID string) ([]*models.Participant, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.Participant
	for _, p := range mm.participants {
		if p.ConversationID == conversationID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memVariables Memory

func (m *memVariables) GetOrCreate(_ context.Context, v *models.Variable) (*models.Variable, bool, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for _, existing := range mm.variables {
		if existing.AgentID == v.AgentID && existing.Name == v.Name {
			cp := *existing
			return &cp, false, nil
		}
	}
	ensureID(&v.ID)
	if v.SizeBytes == 0 {
		v.SizeBytes = int64(len(v.Value))
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	cp := *v
	mm.variables[v.ID] = &cp

	// Evict oldest-created beyond the cap.
	var mine []*models.Variable
	for _, x := range mm.variables {
		if x.AgentID == v.AgentID {
			mine = append(mine, x)
		}
	}
	if len(mine) > models.MaxVariablesPerAgent {
		sort.Slice(mine, func(i, j int) bool { return mine[i].CreatedAt.Before(mine[j].CreatedAt) })
		for _, victim := range mine[:len(mine)-models.MaxVariablesPerAgent] {
			delete(mm.variables, victim.ID)
		}
	}
	out := cp
	return &out, true, nil
}

func (m *memVariables) GetByName(_ context.Context, agentID, name string) (*models.Variable, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for _, v := range mm.variables {
		if v.AgentID == agentID && v.Name == name {
			cp := *v
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memVariables) List(_ context.Context, agentID string) ([]*models.Variable, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.Variable
	for _, v := range mm.variables {
		if v.AgentID == agentID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memArchives Memory

func (m *memArchives) Create(_ context.Context, a *models.PromptArchive) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	ensureID(&a.ID)
	cp := *a
	mm.archives[a.ID] = &cp
	return nil
}

func (m *memArchives) DeleteOlderThan(_ context.Context, cutoff time.Time, chunk int) (int, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	deleted := 0
	for id, a := range mm.archives {
		if chunk > 0 && deleted >= chunk {
			break
		}
		if a.RenderedAt.Before(cutoff) {
			delete(mm.archives, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memArchives) Count(_ context.Context) (int, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return len(mm.archives), nil
}

type memCompletions Memory

func (m *memCompletions) Create(_ context.Context, c *models.Completion) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	ensureID(&c.ID)
	cp := *c
	mm.completions[c.ID] = &cp
	return nil
}

func (m *memCompletions) SumCreditsSince(_ context.Context, agentID string, since time.Time) (int64, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var total int64
	for _, c := range mm.completions {
		if c.AgentID == agentID && !c.CreatedAt.Before(since) {
			total += c.CreditsCost
		}
	}
	return total, nil
}

type memLLMConfig Memory

func (m *memLLMConfig) ActiveGraph(_ context.Context) (*Graph, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.graph == nil {
		return nil, ErrNotFound
	}
	cp := *mm.graph
	return &cp, nil
}

func (m *memLLMConfig) SaveGraph(_ context.Context, g *Graph) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	cp := *g
	mm.graph = &cp
	return nil
}

type memBurnRates Memory

func burnKey(scope models.ScopeType, scopeID string, window int) string {
	return string(scope) + "/" + scopeID + "/" + strconv.Itoa(window)
}

func (m *memBurnRates) Upsert(_ context.Context, s *models.BurnRateSnapshot) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	key := burnKey(s.ScopeType, s.ScopeID, s.WindowMinutes)
	if existing, ok := mm.burnRates[key]; ok {
		s.ID = existing.ID
	} else {
		ensureID(&s.ID)
	}
	cp := *s
	mm.burnRates[key] = &cp
	return nil
}

func (m *memBurnRates) Get(_ context.Context, scope models.ScopeType, scopeID string, windowMinutes int) (*models.BurnRateSnapshot, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	s, ok := mm.burnRates[burnKey(scope, scopeID, windowMinutes)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

type memCompute Memory

func (m *memCompute) Upsert(_ context.Context, s *models.ComputeSession) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	ensureID(&s.ID)
	cp := *s
	mm.compute[s.AgentID] = &cp
	return nil
}

func (m *memCompute) GetByAgent(_ context.Context, agentID string) (*models.ComputeSession, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	s, ok := mm.compute[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memCompute) ListIdle(_ context.Context, cutoff time.Time) ([]*models.ComputeSession, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.ComputeSession
	for _, s := range mm.compute {
		if s.State == models.ComputeRunning && s.LastActivityAt.Before(cutoff) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memTransfers Memory

func (m *memTransfers) Create(_ context.Context, t *models.TransferInvite) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	ensureID(&t.ID)
	cp := *t
	mm.transfers[t.ID] = &cp
	return nil
}

func (m *memTransfers) Get(_ context.Context, id string) (*models.TransferInvite, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	t, ok := mm.transfers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTransfers) Update(_ context.Context, t *models.TransferInvite) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if _, ok := mm.transfers[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	mm.transfers[t.ID] = &cp
	return nil
}

type memEvals Memory

// SeedSuite installs a suite and its scenarios; used by tests and fixtures.
func (m *Memory) SeedSuite(suite *models.EvalSuite, scenarios []*models.EvalScenario) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&suite.ID)
	m.suites[suite.ID] = suite
	for _, sc := range scenarios {
		ensureID(&sc.ID)
		sc.SuiteID = suite.ID
		m.scenarios[sc.ID] = sc
	}
}

func (m *memEvals) SuiteBySlug(_ context.Context, slug string) (*models.EvalSuite, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for _, s := range mm.suites {
		if s.Slug == slug {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memEvals) Scenarios(_ context.Context, suiteID string) ([]*models.EvalScenario, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.EvalScenario
	for _, sc := range mm.scenarios {
		if sc.SuiteID == suiteID {
			cp := *sc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *memEvals) CreateRun(_ context.Context, run *models.EvalRun) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	ensureID(&run.ID)
	cp := *run
	mm.evalRuns[run.ID] = &cp
	return nil
}

func (m *memEvals) CreateTask(_ context.Context, task *models.EvalTask) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	ensureID(&task.ID)
	cp := *task
	mm.evalTasks[task.ID] = &cp
	return nil
}

func (m *memEvals) UpdateTask(_ context.Context, task *models.EvalTask) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if _, ok := mm.evalTasks[task.ID]; !ok {
		return ErrNotFound
	}
	cp := *task
	mm.evalTasks[task.ID] = &cp
	return nil
}

func (m *memEvals) TasksByRun(_ context.Context, runID string) ([]*models.EvalTask, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.EvalTask
	for _, t := range mm.evalTasks {
		if t.RunID == runID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memAllowlists Memory

func (m *memAllowlists) List(_ context.Context, agentID string) ([]*models.AllowlistEntry, error) {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var out []*models.AllowlistEntry
	for _, e := range mm.allowlists {
		if e.AgentID == agentID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memAllowlists) Add(_ context.Context, e *models.AllowlistEntry) error {
	mm := (*Memory)(m)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	ensureID(&e.ID)
	cp := *e
	mm.allowlists[e.ID] = &cp
	return nil
}
