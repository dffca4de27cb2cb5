// Package storage defines the persistence interfaces for the engine and
// provides in-memory and database/sql implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/wardenhq/warden/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// AgentStore persists agents.
type AgentStore interface {
	Create(ctx context.Context, agent *models.Agent) error
	Get(ctx context.Context, id string) (*models.Agent, error)
	Update(ctx context.Context, agent *models.Agent) error
	Delete(ctx context.Context, id string) error
	// ListByOwner returns agents for one owner, newest first.
	ListByOwner(ctx context.Context, ownerType models.OwnerType, ownerID string) ([]*models.Agent, error)
	// ListProactiveCandidates returns opted-in ACTIVE agents ordered by
	// proactive_last_trigger_at ASC, last_interaction_at ASC, created_at
	// ASC, capped at limit.
	ListProactiveCandidates(ctx context.Context, limit int) ([]*models.Agent, error)
	// ListExpirationCandidates returns ACTIVE agents on the given plan
	// whose last interaction is older than cutoff and whose schedule is
	// non-empty.
	ListExpirationCandidates(ctx context.Context, planKey string, cutoff time.Time) ([]*models.Agent, error)
	// ListScheduled returns ACTIVE agents with a non-empty schedule.
	ListScheduled(ctx context.Context) ([]*models.Agent, error)
	// ListRecentlyActive returns agents whose last interaction is at or
	// after since, used to scope burn-rate refreshes.
	ListRecentlyActive(ctx context.Context, since time.Time) ([]*models.Agent, error)
}

// StepStore persists steps and their credit costs.
type StepStore interface {
	Create(ctx context.Context, step *models.Step) error
	// ListRecent returns the newest steps for an agent ordered by
	// (created_at, id) descending.
	ListRecent(ctx context.Context, agentID string, limit int) ([]*models.Step, error)
	// SumCost returns the total credit cost of an agent's steps created in
	// [since, until).
	SumCost(ctx context.Context, agentID string, since, until time.Time) (int64, error)
}

// ToolCallStore persists tool call records.
type ToolCallStore interface {
	Create(ctx context.Context, call *models.ToolCall) error
	ListByStep(ctx context.Context, stepID string) ([]*models.ToolCall, error)
	// CountByOwnerSince counts calls to one tool since the cutoff across
	// every agent of the owner, for hourly rate limiting.
	CountByOwnerSince(ctx context.Context, ownerType models.OwnerType, ownerID, toolName string, since time.Time) (int, error)
}

// SystemStepStore persists engine markers.
type SystemStepStore interface {
	Create(ctx context.Context, step *models.SystemStep) error
	// ListUnconsumed returns unconsumed markers of one code for an agent,
	// oldest first.
	ListUnconsumed(ctx context.Context, agentID string, code models.SystemStepCode) ([]*models.SystemStep, error)
	// Consume marks markers consumed.
	Consume(ctx context.Context, ids []string) error
}

// MessageStore persists messages; Create assigns the per-conversation Seq.
type MessageStore interface {
	Create(ctx context.Context, msg *models.Message) error
	Update(ctx context.Context, msg *models.Message) error
	// ListByConversation orders by (created_at, seq) ascending.
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
	// ListRecentByAgent returns the newest messages across conversations.
	ListRecentByAgent(ctx context.Context, agentID string, limit int) ([]*models.Message, error)
	// LastOutbound returns the most recent outbound message by the agent
	// on the channel; toAddress narrows the search when non-empty.
	LastOutbound(ctx context.Context, agentID string, channel models.Channel, toAddress string) (*models.Message, error)
}

// EndpointStore persists comms endpoints, unique case-insensitively on
// (channel, address).
type EndpointStore interface {
	GetOrCreate(ctx context.Context, ep *models.CommsEndpoint) (*models.CommsEndpoint, error)
	Get(ctx context.Context, id string) (*models.CommsEndpoint, error)
	ListByAgent(ctx context.Context, agentID string) ([]*models.CommsEndpoint, error)
}

// ConversationStore persists conversations and participants.
type ConversationStore interface {
	// FindOrCreate resolves the conversation for (agent, channel, address).
	FindOrCreate(ctx context.Context, agentID string, channel models.Channel, address string) (*models.Conversation, error)
	AddParticipant(ctx context.Context, p *models.Participant) error
	ListParticipants(ctx context.Context, conversationID string) ([]*models.Participant, error)
}

// VariableStore persists per-agent variables with the LRU cap.
type VariableStore interface {
	// GetOrCreate is idempotent on (agent, name); creation beyond the cap
	// evicts oldest-created variables in the same transaction.
	GetOrCreate(ctx context.Context, v *models.Variable) (*models.Variable, bool, error)
	GetByName(ctx context.Context, agentID, name string) (*models.Variable, error)
	List(ctx context.Context, agentID string) ([]*models.Variable, error)
}

// ArchiveStore persists prompt archives.
type ArchiveStore interface {
	Create(ctx context.Context, a *models.PromptArchive) error
	// DeleteOlderThan removes up to chunk archives rendered before cutoff
	// and reports how many were deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, chunk int) (int, error)
	Count(ctx context.Context) (int, error)
}

// CompletionStore persists LLM attempt records.
type CompletionStore interface {
	Create(ctx context.Context, c *models.Completion) error
	// SumCreditsSince totals credit cost for an agent since the cutoff.
	SumCreditsSince(ctx context.Context, agentID string, since time.Time) (int64, error)
}

// LLMConfigStore loads the active routing profile graph.
type LLMConfigStore interface {
	ActiveGraph(ctx context.Context) (*Graph, error)
	SaveGraph(ctx context.Context, g *Graph) error
}

// Graph is the materialized LLM configuration of the active profile.
type Graph struct {
	Profile       models.RoutingProfile
	Providers     []models.Provider
	Endpoints     []models.Endpoint
	TokenRanges   []models.TokenRange
	Tiers         []models.Tier
	TierEndpoints []models.TierEndpoint
}

// BurnRateStore upserts rolling-window snapshots.
type BurnRateStore interface {
	Upsert(ctx context.Context, s *models.BurnRateSnapshot) error
	Get(ctx context.Context, scope models.ScopeType, scopeID string, windowMinutes int) (*models.BurnRateSnapshot, error)
}

// ComputeStore persists sandbox sessions.
type ComputeStore interface {
	Upsert(ctx context.Context, s *models.ComputeSession) error
	GetByAgent(ctx context.Context, agentID string) (*models.ComputeSession, error)
	// ListIdle returns RUNNING sessions idle since before cutoff.
	ListIdle(ctx context.Context, cutoff time.Time) ([]*models.ComputeSession, error)
}

// TransferStore persists transfer invites.
type TransferStore interface {
	Create(ctx context.Context, t *models.TransferInvite) error
	Get(ctx context.Context, id string) (*models.TransferInvite, error)
	Update(ctx context.Context, t *models.TransferInvite) error
}

// EvalStore persists eval suites, scenarios, runs, and tasks.
type EvalStore interface {
	SuiteBySlug(ctx context.Context, slug string) (*models.EvalSuite, error)
	Scenarios(ctx context.Context, suiteID string) ([]*models.EvalScenario, error)
	CreateRun(ctx context.Context, run *models.EvalRun) error
	CreateTask(ctx context.Context, task *models.EvalTask) error
	UpdateTask(ctx context.Context, task *models.EvalTask) error
	TasksByRun(ctx context.Context, runID string) ([]*models.EvalTask, error)
}

// AllowlistStore persists MANUAL-policy allowlist entries.
type AllowlistStore interface {
	List(ctx context.Context, agentID string) ([]*models.AllowlistEntry, error)
	Add(ctx context.Context, e *models.AllowlistEntry) error
}

// StoreSet groups all storage dependencies for the engine.
type StoreSet struct {
	Agents        AgentStore
	Steps         StepStore
	ToolCalls     ToolCallStore
	SystemSteps   SystemStepStore
	Messages      MessageStore
	Endpoints     EndpointStore
	Conversations ConversationStore
	Variables     VariableStore
	Archives      ArchiveStore
	Completions   CompletionStore
	LLMConfig     LLMConfigStore
	BurnRates     BurnRateStore
	Compute       ComputeStore
	Transfers     TransferStore
	Evals         EvalStore
	Allowlists    AllowlistStore

	closer func() error
}

// Close releases any underlying resources.
func (s *StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
