package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/wardenhq/warden/pkg/models"
)

// SQLConfig holds connection pool settings.
type SQLConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns default pool settings.
func DefaultSQLConfig() *SQLConfig {
	return &SQLConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// SQL implements the store interfaces over database/sql. Driver is
// "postgres" or "sqlite3"; placeholders are rebound per driver.
type SQL struct {
	db       *sql.DB
	postgres bool
}

// OpenSQL opens a database and verifies connectivity.
func OpenSQL(driver, dsn string, cfg *SQLConfig) (*SQL, error) {
	if dsn == "" {
		return nil, errors.New("dsn is required")
	}
	if cfg == nil {
		cfg = DefaultSQLConfig()
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &SQL{db: db, postgres: driver == "postgres"}, nil
}

// NewSQLStores opens the database, applies the schema, and returns a
// StoreSet bound to it.
func NewSQLStores(driver, dsn string, cfg *SQLConfig) (*StoreSet, error) {
	s, err := OpenSQL(driver, dsn, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(context.Background()); err != nil {
		s.db.Close()
		return nil, err
	}
	return &StoreSet{
		Agents:        (*sqlAgents)(s),
		Steps:         (*sqlSteps)(s),
		ToolCalls:     (*sqlToolCalls)(s),
		SystemSteps:   (*sqlSystemSteps)(s),
		Messages:      (*sqlMessages)(s),
		Endpoints:     (*sqlEndpoints)(s),
		Conversations: (*sqlConversations)(s),
		Variables:     (*sqlVariables)(s),
		Archives:      (*sqlArchives)(s),
		Completions:   (*sqlCompletions)(s),
		LLMConfig:     (*sqlLLMConfig)(s),
		BurnRates:     (*sqlBurnRates)(s),
		Compute:       (*sqlCompute)(s),
		Transfers:     (*sqlTransfers)(s),
		Evals:         (*sqlEvals)(s),
		Allowlists:    (*sqlAllowlists)(s),
		closer:        s.db.Close,
	}, nil
}

// rebind converts ? placeholders to $n for postgres.
func (s *SQL) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQL) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQL) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		owner_type TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		charter TEXT NOT NULL DEFAULT '',
		schedule TEXT NOT NULL DEFAULT '',
		schedule_snapshot TEXT NOT NULL DEFAULT '',
		life_state TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		preferred_endpoint_id TEXT NOT NULL DEFAULT '',
		preferred_tier TEXT NOT NULL DEFAULT 'standard',
		daily_credit_target BIGINT,
		plan_key TEXT NOT NULL DEFAULT 'free',
		sandbox_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		allowlist_policy TEXT NOT NULL DEFAULT 'DEFAULT',
		proactive_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		proactive_min_interval_minutes INTEGER NOT NULL DEFAULT 0,
		proactive_max_daily INTEGER NOT NULL DEFAULT 0,
		last_interaction_at TIMESTAMP,
		proactive_last_trigger_at TIMESTAMP,
		last_expired_at TIMESTAMP,
		plan_downgraded_at TIMESTAMP,
		sent_expiration_notice BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_owner ON agents(owner_type, owner_id)`,
	`CREATE TABLE IF NOT EXISTS steps (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		credits_cost BIGINT NOT NULL DEFAULT 0,
		eval_run_id TEXT NOT NULL DEFAULT '',
		failed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_steps_agent_created ON steps(agent_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS tool_calls (
		id TEXT PRIMARY KEY,
		step_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		params TEXT NOT NULL DEFAULT '{}',
		result TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tool_calls_agent_tool ON tool_calls(agent_id, tool_name, created_at)`,
	`CREATE TABLE IF NOT EXISTS system_steps (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		step_id TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '{}',
		consumed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_system_steps_agent_code ON system_steps(agent_id, code, consumed)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		from_address TEXT NOT NULL DEFAULT '',
		to_address TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		is_outbound BOOLEAN NOT NULL DEFAULT FALSE,
		attachment_ids TEXT NOT NULL DEFAULT '[]',
		seq BIGINT NOT NULL,
		delivery_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_agent_outbound ON messages(agent_id, is_outbound, channel, created_at)`,
	`CREATE TABLE IF NOT EXISTS comms_endpoints (
		id TEXT PRIMARY KEY,
		channel TEXT NOT NULL,
		address TEXT NOT NULL,
		address_norm TEXT NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		UNIQUE (channel, address_norm)
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		address TEXT NOT NULL,
		address_norm TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (agent_id, channel, address_norm)
	)`,
	`CREATE TABLE IF NOT EXISTS participants (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		endpoint_id TEXT NOT NULL,
		role TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS variables (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		is_json BOOLEAN NOT NULL DEFAULT FALSE,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		tool_call_id TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		UNIQUE (agent_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS prompt_archives (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		step_id TEXT NOT NULL DEFAULT '',
		storage_key TEXT NOT NULL,
		tokens_before INTEGER NOT NULL,
		tokens_after INTEGER NOT NULL,
		tokens_saved INTEGER NOT NULL,
		rendered_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_prompt_archives_rendered ON prompt_archives(rendered_at)`,
	`CREATE TABLE IF NOT EXISTS completions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		step_id TEXT NOT NULL DEFAULT '',
		endpoint_id TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt_tokens BIGINT NOT NULL DEFAULT 0,
		completion_tokens BIGINT NOT NULL DEFAULT 0,
		cached_tokens BIGINT NOT NULL DEFAULT 0,
		total_cost BIGINT NOT NULL DEFAULT 0,
		credits_cost BIGINT NOT NULL DEFAULT 0,
		failed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS llm_graph (
		id INTEGER PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS burn_rates (
		id TEXT PRIMARY KEY,
		scope_type TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		window_minutes INTEGER NOT NULL,
		window_total BIGINT NOT NULL DEFAULT 0,
		per_hour BIGINT NOT NULL DEFAULT 0,
		per_day BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (scope_type, scope_id, window_minutes)
	)`,
	`CREATE TABLE IF NOT EXISTS compute_sessions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL UNIQUE,
		state TEXT NOT NULL,
		pod_name TEXT NOT NULL DEFAULT '',
		workspace_pvc TEXT NOT NULL DEFAULT '',
		last_activity_at TIMESTAMP NOT NULL,
		stopped_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transfer_invites (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		from_user_id TEXT NOT NULL,
		to_email TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS eval_suites (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS eval_scenarios (
		id TEXT PRIMARY KEY,
		suite_id TEXT NOT NULL,
		slug TEXT NOT NULL,
		prompt TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS eval_runs (
		id TEXT PRIMARY KEY,
		run_type TEXT NOT NULL,
		strategy TEXT NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS eval_tasks (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		scenario_id TEXT NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS allowlist_entries (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		address TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}

// Migrate applies the schema. Statements are idempotent.
func (s *SQL) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func scanTime(v sql.NullTime) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return v.Time
}

type sqlAgents SQL

const agentCols = `id, owner_type, owner_id, name, charter, schedule, schedule_snapshot,
	life_state, is_active, preferred_endpoint_id, preferred_tier, daily_credit_target,
	plan_key, sandbox_enabled, allowlist_policy, proactive_enabled,
	proactive_min_interval_minutes, proactive_max_daily, last_interaction_at,
	proactive_last_trigger_at, last_expired_at, plan_downgraded_at,
	sent_expiration_notice, created_at, updated_at`

func scanAgent(row interface{ Scan(...any) error }) (*models.Agent, error) {
	var a models.Agent
	var target sql.NullInt64
	var lastInteraction, lastTrigger, lastExpired, downgraded sql.NullTime
	err := row.Scan(&a.ID, &a.OwnerType, &a.OwnerID, &a.Name, &a.Charter, &a.Schedule,
		&a.ScheduleSnapshot, &a.LifeState, &a.IsActive, &a.PreferredEndpointID,
		&a.PreferredTier, &target, &a.PlanKey, &a.SandboxEnabled, &a.AllowlistPolicy,
		&a.ProactiveEnabled, &a.ProactiveMinIntervalMinutes, &a.ProactiveMaxDaily,
		&lastInteraction, &lastTrigger, &lastExpired, &downgraded,
		&a.SentExpirationNotice, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if target.Valid {
		v := target.Int64
		a.DailyCreditTarget = &v
	}
	a.LastInteractionAt = scanTime(lastInteraction)
	a.ProactiveLastTriggerAt = scanTime(lastTrigger)
	a.LastExpiredAt = scanTime(lastExpired)
	a.PlanDowngradedAt = scanTime(downgraded)
	return &a, nil
}

func agentArgs(a *models.Agent) []any {
	var target any
	if a.DailyCreditTarget != nil {
		target = *a.DailyCreditTarget
	}
	return []any{a.ID, a.OwnerType, a.OwnerID, a.Name, a.Charter, a.Schedule,
		a.ScheduleSnapshot, a.LifeState, a.IsActive, a.PreferredEndpointID,
		a.PreferredTier, target, a.PlanKey, a.SandboxEnabled, a.AllowlistPolicy,
		a.ProactiveEnabled, a.ProactiveMinIntervalMinutes, a.ProactiveMaxDaily,
		nullableTime(a.LastInteractionAt), nullableTime(a.ProactiveLastTriggerAt),
		nullableTime(a.LastExpiredAt), nullableTime(a.PlanDowngradedAt),
		a.SentExpirationNotice, a.CreatedAt.UTC(), a.UpdatedAt.UTC()}
}

func (s *sqlAgents) Create(ctx context.Context, a *models.Agent) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := (*SQL)(s).exec(ctx, `INSERT INTO agents (`+agentCols+`) VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agentArgs(a)...)
	return err
}

func (s *sqlAgents) Get(ctx context.Context, id string) (*models.Agent, error) {
	return scanAgent((*SQL)(s).queryRow(ctx, `SELECT `+agentCols+` FROM agents WHERE id = ?`, id))
}

func (s *sqlAgents) Update(ctx context.Context, a *models.Agent) error {
	args := agentArgs(a)[1:]
	args = append(args, a.ID)
	res, err := (*SQL)(s).exec(ctx, `UPDATE agents SET owner_type = ?, owner_id = ?, name = ?,
		charter = ?, schedule = ?, schedule_snapshot = ?, life_state = ?, is_active = ?,
		preferred_endpoint_id = ?, preferred_tier = ?, daily_credit_target = ?, plan_key = ?,
		sandbox_enabled = ?, allowlist_policy = ?, proactive_enabled = ?,
		proactive_min_interval_minutes = ?, proactive_max_daily = ?, last_interaction_at = ?,
		proactive_last_trigger_at = ?, last_expired_at = ?, plan_downgraded_at = ?,
		sent_expiration_notice = ?, created_at = ?, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlAgents) Delete(ctx context.Context, id string) error {
	res, err := (*SQL)(s).exec(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlAgents) list(ctx context.Context, where string, args ...any) ([]*models.Agent, error) {
	rows, err := (*SQL)(s).query(ctx, `SELECT `+agentCols+` FROM agents `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqlAgents) ListByOwner(ctx context.Context, ownerType models.OwnerType, ownerID string) ([]*models.Agent, error) {
	return s.list(ctx, `WHERE owner_type = ? AND owner_id = ? ORDER BY created_at DESC`, ownerType, ownerID)
}

func (s *sqlAgents) ListProactiveCandidates(ctx context.Context, limit int) ([]*models.Agent, error) {
	return s.list(ctx, `WHERE proactive_enabled AND life_state = ? AND is_active
		ORDER BY proactive_last_trigger_at ASC NULLS FIRST, last_interaction_at ASC NULLS FIRST, created_at ASC
		LIMIT ?`, models.LifeStateActive, limit)
}

func (s *sqlAgents) ListExpirationCandidates(ctx context.Context, planKey string, cutoff time.Time) ([]*models.Agent, error) {
	return s.list(ctx, `WHERE life_state = ? AND plan_key = ? AND schedule <> ''
		AND last_interaction_at < ? ORDER BY last_interaction_at ASC`,
		models.LifeStateActive, planKey, cutoff.UTC())
}

func (s *sqlAgents) ListScheduled(ctx context.Context) ([]*models.Agent, error) {
	return s.list(ctx, `WHERE life_state = ? AND schedule <> '' ORDER BY id ASC`,
		models.LifeStateActive)
}

func (s *sqlAgents) ListRecentlyActive(ctx context.Context, since time.Time) ([]*models.Agent, error) {
	return s.list(ctx, `WHERE last_interaction_at >= ? ORDER BY id ASC`, since)
}

type sqlSteps SQL

func (s *sqlSteps) Create(ctx context.Context, step *models.Step) error {
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	_, err := (*SQL)(s).exec(ctx, `INSERT INTO steps
		(id, agent_id, description, credits_cost, eval_run_id, failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.AgentID, step.Description, step.CreditsCost, step.EvalRunID,
		step.Failed, step.CreatedAt.UTC())
	return err
}

func (s *sqlSteps) ListRecent(ctx context.Context, agentID string, limit int) ([]*models.Step, error) {
	rows, err := (*SQL)(s).query(ctx, `SELECT id, agent_id, description, credits_cost,
		eval_run_id, failed, created_at FROM steps WHERE agent_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Step
	for rows.Next() {
		var st models.Step
		if err := rows.Scan(&st.ID, &st.AgentID, &st.Description, &st.CreditsCost,
			&st.EvalRunID, &st.Failed, &st.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

func (s *sqlSteps) SumCost(ctx context.Context, agentID string, since, until time.Time) (int64, error) {
	var total sql.NullInt64
	err := (*SQL)(s).queryRow(ctx, `SELECT SUM(credits_cost) FROM steps
		WHERE agent_id = ? AND created_at >= ? AND created_at < ?`,
		agentID, since.UTC(), until.UTC()).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

type sqlToolCalls SQL

func (s *sqlToolCalls) Create(ctx context.Context, c *models.ToolCall) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	params := string(c.Params)
	if params == "" {
		params = "{}"
	}
	_, err := (*SQL)(s).exec(ctx, `INSERT INTO tool_calls
		(id, step_id, agent_id, tool_name, params, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.StepID, c.AgentID, c.ToolName, params, c.Result, c.CreatedAt.UTC())
	return err
}

func (s *sqlToolCalls) ListByStep(ctx context.Context, stepID string) ([]*models.ToolCall, error) {
	rows, err := (*SQL)(s).query(ctx, `SELECT id, step_id, agent_id, tool_name, params,
		result, created_at FROM tool_calls WHERE step_id = ? ORDER BY created_at ASC`, stepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ToolCall
	for rows.Next() {
		var c models.ToolCall
		var params string
		if err := rows.Scan(&c.ID, &c.StepID, &c.AgentID, &c.ToolName, &params,
			&c.Result, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Params = json.RawMessage(params)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *sqlToolCalls) CountByOwnerSince(ctx context.Context, ownerType models.OwnerType, ownerID, toolName string, since time.Time) (int, error) {
	var n int
	err := (*SQL)(s).queryRow(ctx, `SELECT COUNT(*) FROM tool_calls tc
		JOIN agents a ON a.id = tc.agent_id
		WHERE a.owner_type = ? AND a.owner_id = ? AND tc.tool_name = ? AND tc.created_at >= ?`,
		string(ownerType), ownerID, toolName, since.UTC()).Scan(&n)
	return n, err
}

type sqlSystemSteps SQL

func (s *sqlSystemSteps) Create(ctx context.Context, step *models.SystemStep) error {
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	notes, err := json.Marshal(step.Notes)
	if err != nil {
		return fmt.Errorf("marshal notes: %w", err)
	}
	_, err = (*SQL)(s).exec(ctx, `INSERT INTO system_steps
		(id, agent_id, step_id, code, notes, consumed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.AgentID, step.StepID, step.Code, string(notes), step.Consumed,
		step.CreatedAt.UTC())
	return err
}

func (s *sqlSystemSteps) ListUnconsumed(ctx context.Context, agentID string, code models.SystemStepCode) ([]*models.SystemStep, error) {
	rows, err := (*SQL)(s).query(ctx, `SELECT id, agent_id, step_id, code, notes, consumed,
		created_at FROM system_steps WHERE agent_id = ? AND code = ? AND NOT consumed
		ORDER BY created_at ASC`, agentID, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.SystemStep
	for rows.Next() {
		var st models.SystemStep
		var notes string
		if err := rows.Scan(&st.ID, &st.AgentID, &st.StepID, &st.Code, &notes,
			&st.Consumed, &st.CreatedAt); err != nil {
			return nil, err
		}
		if notes != "" && notes != "null" {
			_ = json.Unmarshal([]byte(notes), &st.Notes)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

func (s *sqlSystemSteps) Consume(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := (*SQL)(s).exec(ctx, `UPDATE system_steps SET consumed = TRUE WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

type sqlMessages SQL

func (s *sqlMessages) Create(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	attachments, err := json.Marshal(msg.AttachmentIDs)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var seq sql.NullInt64
	if err := tx.QueryRowContext(ctx, (*SQL)(s).rebind(`SELECT MAX(seq) FROM messages WHERE conversation_id = ?`),
		msg.ConversationID).Scan(&seq); err != nil {
		return err
	}
	msg.Seq = seq.Int64 + 1
	if _, err := tx.ExecContext(ctx, (*SQL)(s).rebind(`INSERT INTO messages
		(id, agent_id, conversation_id, channel, from_address, to_address, subject, body,
		is_outbound, attachment_ids, seq, delivery_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.AgentID, msg.ConversationID, msg.Channel, msg.FromAddress,
		msg.ToAddress, msg.Subject, msg.Body, msg.IsOutbound, string(attachments),
		msg.Seq, msg.DeliveryError, msg.CreatedAt.UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlMessages) Update(ctx context.Context, msg *models.Message) error {
	res, err := (*SQL)(s).exec(ctx, `UPDATE messages SET delivery_error = ?, subject = ?,
		body = ? WHERE id = ?`, msg.DeliveryError, msg.Subject, msg.Body, msg.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const messageCols = `id, agent_id, conversation_id, channel, from_address, to_address,
	subject, body, is_outbound, attachment_ids, seq, delivery_error, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	var m models.Message
	var attachments string
	err := row.Scan(&m.ID, &m.AgentID, &m.ConversationID, &m.Channel, &m.FromAddress,
		&m.ToAddress, &m.Subject, &m.Body, &m.IsOutbound, &attachments, &m.Seq,
		&m.DeliveryError, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if attachments != "" && attachments != "[]" {
		_ = json.Unmarshal([]byte(attachments), &m.AttachmentIDs)
	}
	return &m, nil
}

func (s *sqlMessages) listTail(ctx context.Context, where string, limit int, args ...any) ([]*models.Message, error) {
	args = append(args, limit)
	rows, err := (*SQL)(s).query(ctx, `SELECT `+messageCols+` FROM messages `+where+
		` ORDER BY created_at DESC, seq DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *sqlMessages) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	return s.listTail(ctx, `WHERE conversation_id = ?`, limit, conversationID)
}

func (s *sqlMessages) ListRecentByAgent(ctx context.Context, agentID string, limit int) ([]*models.Message, error) {
	return s.listTail(ctx, `WHERE agent_id = ?`, limit, agentID)
}

func (s *sqlMessages) LastOutbound(ctx context.Context, agentID string, channel models.Channel, toAddress string) (*models.Message, error) {
	where := `WHERE agent_id = ? AND is_outbound AND channel = ?`
	args := []any{agentID, channel}
	if toAddress != "" {
		where += ` AND LOWER(to_address) = LOWER(?)`
		args = append(args, toAddress)
	}
	return scanMessage((*SQL)(s).queryRow(ctx, `SELECT `+messageCols+` FROM messages `+
		where+` ORDER BY created_at DESC, seq DESC LIMIT 1`, args...))
}

type sqlEndpoints SQL

func (s *sqlEndpoints) GetOrCreate(ctx context.Context, ep *models.CommsEndpoint) (*models.CommsEndpoint, error) {
	norm := ep.NormalizedAddress()
	existing := (*SQL)(s).queryRow(ctx, `SELECT id, channel, address, agent_id, created_at
		FROM comms_endpoints WHERE channel = ? AND address_norm = ?`, ep.Channel, norm)
	var out models.CommsEndpoint
	err := existing.Scan(&out.ID, &out.Channel, &out.Address, &out.AgentID, &out.CreatedAt)
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if _, err := (*SQL)(s).exec(ctx, `INSERT INTO comms_endpoints
		(id, channel, address, address_norm, agent_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.Channel, ep.Address, norm, ep.AgentID, ep.CreatedAt.UTC()); err != nil {
		return nil, err
	}
	cp := *ep
	return &cp, nil
}

func (s *sqlEndpoints) Get(ctx context.Context, id string) (*models.CommsEndpoint, error) {
	var out models.CommsEndpoint
	err := (*SQL)(s).queryRow(ctx, `SELECT id, channel, address, agent_id, created_at
		FROM comms_endpoints WHERE id = ?`, id).
		Scan(&out.ID, &out.Channel, &out.Address, &out.AgentID, &out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *sqlEndpoints) ListByAgent(ctx context.Context, agentID string) ([]*models.CommsEndpoint, error) {
	rows, err := (*SQL)(s).query(ctx, `SELECT id, channel, address, agent_id, created_at
		FROM comms_endpoints WHERE agent_id = ? ORDER BY created_at ASC`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.CommsEndpoint
	for rows.Next() {
		var e models.CommsEndpoint
		if err := rows.Scan(&e.ID, &e.Channel, &e.Address, &e.AgentID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

type sqlConversations SQL

func (s *sqlConversations) FindOrCreate(ctx context.Context, agentID string, channel models.Channel, address string) (*models.Conversation, error) {
	norm := strings.ToLower(strings.TrimSpace(address))
	var out models.Conversation
	err := (*SQL)(s).queryRow(ctx, `SELECT id, agent_id, channel, address, created_at
		FROM conversations WHERE agent_id = ? AND channel = ? AND address_norm = ?`,
		agentID, channel, norm).
		Scan(&out.ID, &out.AgentID, &out.Channel, &out.Address, &out.CreatedAt)
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	c := models.Conversation{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Channel:   channel,
		Address:   address,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := (*SQL)(s).exec(ctx, `INSERT INTO conversations
		(id, agent_id, channel, address, address_norm, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.AgentID, c.Channel, c.Address, norm, c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *sqlConversations) AddParticipant(ctx context.Context, p *models.Participant) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := (*SQL)(s).exec(ctx, `INSERT INTO participants
		(id, conversation_id, endpoint_id, role) VALUES (?, ?, ?, ?)`,
		p.ID, p.ConversationID, p.EndpointID, p.Role)
	return err
}

func (s *sqlConversations) ListParticipants(ctx context.Context, conversationID string) ([]*models.Participant, error) {
	rows, err := (*SQL)(s).query(ctx, `SELECT id, conversation_id, endpoint_id, role
		FROM participants WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.ConversationID, &p.EndpointID, &p.Role); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

type sqlVariables SQL

const variableCols = `id, agent_id, name, value, is_json, size_bytes, tool_call_id, summary, created_at`

func scanVariable(row interface{ Scan(...any) error }) (*models.Variable, error) {
	var v models.Variable
	err := row.Scan(&v.ID, &v.AgentID, &v.Name, &v.Value, &v.IsJSON, &v.SizeBytes,
		&v.ToolCallID, &v.Summary, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *sqlVariables) GetOrCreate(ctx context.Context, v *models.Variable) (*models.Variable, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()
	rebind := (*SQL)(s).rebind
	existing, err := scanVariable(tx.QueryRowContext(ctx,
		rebind(`SELECT `+variableCols+` FROM variables WHERE agent_id = ? AND name = ?`),
		v.AgentID, v.Name))
	if err == nil {
		return existing, false, tx.Commit()
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.SizeBytes == 0 {
		v.SizeBytes = int64(len(v.Value))
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, rebind(`INSERT INTO variables (`+variableCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		v.ID, v.AgentID, v.Name, v.Value, v.IsJSON, v.SizeBytes, v.ToolCallID,
		v.Summary, v.CreatedAt.UTC()); err != nil {
		return nil, false, err
	}
	// LRU cap: evict oldest-created beyond the limit in the same transaction.
	if _, err := tx.ExecContext(ctx, rebind(`DELETE FROM variables WHERE agent_id = ?
		AND id NOT IN (SELECT id FROM variables WHERE agent_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?)`),
		v.AgentID, v.AgentID, models.MaxVariablesPerAgent); err != nil {
		return nil, false, err
	}
	cp := *v
	return &cp, true, tx.Commit()
}

func (s *sqlVariables) GetByName(ctx context.Context, agentID, name string) (*models.Variable, error) {
	return scanVariable((*SQL)(s).queryRow(ctx,
		`SELECT `+variableCols+` FROM variables WHERE agent_id = ? AND name = ?`, agentID, name))
}

func (s *sqlVariables) List(ctx context.Context, agentID string) ([]*models.Variable, error) {
	rows, err := (*SQL)(s).query(ctx, `SELECT `+variableCols+` FROM variables
		WHERE agent_id = ? ORDER BY created_at ASC`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Variable
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type sqlArchives SQL

func (s *sqlArchives) Create(ctx context.Context, a *models.PromptArchive) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := (*SQL)(s).exec(ctx, `INSERT INTO prompt_archives
		(id, agent_id, step_id, storage_key, tokens_before, tokens_after, tokens_saved, rendered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AgentID, a.StepID, a.StorageKey, a.TokensBefore, a.TokensAfter,
		a.TokensSaved, a.RenderedAt.UTC())
	return err
}

func (s *sqlArchives) DeleteOlderThan(ctx context.Context, cutoff time.Time, chunk int) (int, error) {
	res, err := (*SQL)(s).exec(ctx, `DELETE FROM prompt_archives WHERE id IN
		(SELECT id FROM prompt_archives WHERE rendered_at < ? ORDER BY rendered_at ASC LIMIT ?)`,
		cutoff.UTC(), chunk)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqlArchives) Count(ctx context.Context) (int, error) {
	var n int
	err := (*SQL)(s).queryRow(ctx, `SELECT COUNT(*) FROM prompt_archives`).Scan(&n)
	return n, err
}

type sqlCompletions SQL

func (s *sqlCompletions) Create(ctx context.Context, c *models.Completion) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := (*SQL)(s).exec(ctx, `INSERT INTO completions
		(id, agent_id, step_id, endpoint_id, model, prompt_tokens, completion_tokens,
		cached_tokens, total_cost, credits_cost, failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AgentID, c.StepID, c.EndpointID, c.Model, c.PromptTokens,
		c.CompletionTokens, c.CachedTokens, c.TotalCost, c.CreditsCost, c.Failed,
		c.CreatedAt.UTC())
	return err
}

func (s *sqlCompletions) SumCreditsSince(ctx context.Context, agentID string, since time.Time) (int64, error) {
	var total sql.NullInt64
	err := (*SQL)(s).queryRow(ctx, `SELECT SUM(credits_cost) FROM completions
		WHERE agent_id = ? AND created_at >= ?`, agentID, since.UTC()).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

type sqlLLMConfig SQL

func (s *sqlLLMConfig) ActiveGraph(ctx context.Context) (*Graph, error) {
	var payload string
	err := (*SQL)(s).queryRow(ctx, `SELECT payload FROM llm_graph WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var g Graph
	if err := json.Unmarshal([]byte(payload), &g); err != nil {
		return nil, fmt.Errorf("decode llm graph: %w", err)
	}
	return &g, nil
}

func (s *sqlLLMConfig) SaveGraph(ctx context.Context, g *Graph) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode llm graph: %w", err)
	}
	now := time.Now().UTC()
	if _, err := (*SQL)(s).exec(ctx, `DELETE FROM llm_graph WHERE id = 1`); err != nil {
		return err
	}
	_, err = (*SQL)(s).exec(ctx, `INSERT INTO llm_graph (id, payload, updated_at) VALUES (1, ?, ?)`,
		string(payload), now)
	return err
}

type sqlBurnRates SQL

func (s *sqlBurnRates) Upsert(ctx context.Context, snap *models.BurnRateSnapshot) error {
	res, err := (*SQL)(s).exec(ctx, `UPDATE burn_rates SET window_total = ?, per_hour = ?,
		per_day = ?, updated_at = ? WHERE scope_type = ? AND scope_id = ? AND window_minutes = ?`,
		snap.WindowTotal, snap.PerHour, snap.PerDay, snap.UpdatedAt.UTC(),
		snap.ScopeType, snap.ScopeID, snap.WindowMinutes)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	_, err = (*SQL)(s).exec(ctx, `INSERT INTO burn_rates
		(id, scope_type, scope_id, window_minutes, window_total, per_hour, per_day, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.ScopeType, snap.ScopeID, snap.WindowMinutes, snap.WindowTotal,
		snap.PerHour, snap.PerDay, snap.UpdatedAt.UTC())
	return err
}

func (s *sqlBurnRates) Get(ctx context.Context, scope models.ScopeType, scopeID string, windowMinutes int) (*models.BurnRateSnapshot, error) {
	var snap models.BurnRateSnapshot
	err := (*SQL)(s).queryRow(ctx, `SELECT id, scope_type, scope_id, window_minutes,
		window_total, per_hour, per_day, updated_at FROM burn_rates
		WHERE scope_type = ? AND scope_id = ? AND window_minutes = ?`,
		scope, scopeID, windowMinutes).
		Scan(&snap.ID, &snap.ScopeType, &snap.ScopeID, &snap.WindowMinutes,
			&snap.WindowTotal, &snap.PerHour, &snap.PerDay, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

type sqlCompute SQL

func (s *sqlCompute) Upsert(ctx context.Context, sess *models.ComputeSession) error {
	res, err := (*SQL)(s).exec(ctx, `UPDATE compute_sessions SET state = ?, pod_name = ?,
		workspace_pvc = ?, last_activity_at = ?, stopped_at = ? WHERE agent_id = ?`,
		sess.State, sess.PodName, sess.WorkspacePVC, sess.LastActivityAt.UTC(),
		nullableTime(sess.StoppedAt), sess.AgentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	_, err = (*SQL)(s).exec(ctx, `INSERT INTO compute_sessions
		(id, agent_id, state, pod_name, workspace_pvc, last_activity_at, stopped_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.AgentID, sess.State, sess.PodName, sess.WorkspacePVC,
		sess.LastActivityAt.UTC(), nullableTime(sess.StoppedAt), sess.CreatedAt.UTC())
	return err
}

func scanCompute(row interface{ Scan(...any) error }) (*models.ComputeSession, error) {
	var c models.ComputeSession
	var stopped sql.NullTime
	err := row.Scan(&c.ID, &c.AgentID, &c.State, &c.PodName, &c.WorkspacePVC,
		&c.LastActivityAt, &stopped, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.StoppedAt = scanTime(stopped)
	return &c, nil
}

func (s *sqlCompute) GetByAgent(ctx context.Context, agentID string) (*models.ComputeSession, error) {
	return scanCompute((*SQL)(s).queryRow(ctx, `SELECT id, agent_id, state, pod_name,
		workspace_pvc, last_activity_at, stopped_at, created_at FROM compute_sessions WHERE agent_id = ?`,
		agentID))
}

func (s *sqlCompute) ListIdle(ctx context.Context, cutoff time.Time) ([]*models.ComputeSession, error) {
	rows, err := (*SQL)(s).query(ctx, `SELECT id, agent_id, state, pod_name, workspace_pvc,
		last_activity_at, stopped_at, created_at FROM compute_sessions
		WHERE state = ? AND last_activity_at < ?`, models.ComputeRunning, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ComputeSession
	for rows.Next() {
		c, err := scanCompute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type sqlTransfers SQL

func (s *sqlTransfers) Create(ctx context.Context, t *models.TransferInvite) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := (*SQL)(s).exec(ctx, `INSERT INTO transfer_invites
		(id, agent_id, from_user_id, to_email, status, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AgentID, t.FromUserID, t.ToEmail, t.Status, t.CreatedAt.UTC(),
		nullableTime(t.ResolvedAt))
	return err
}

func (s *sqlTransfers) Get(ctx context.Context, id string) (*models.TransferInvite, error) {
	var t models.TransferInvite
	var resolved sql.NullTime
	err := (*SQL)(s).queryRow(ctx, `SELECT id, agent_id, from_user_id, to_email, status,
		created_at, resolved_at FROM transfer_invites WHERE id = ?`, id).
		Scan(&t.ID, &t.AgentID, &t.FromUserID, &t.ToEmail, &t.Status, &t.CreatedAt, &resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ResolvedAt = scanTime(resolved)
	return &t, nil
}

func (s *sqlTransfers) Update(ctx context.Context, t *models.TransferInvite) error {
	res, err := (*SQL)(s).exec(ctx, `UPDATE transfer_invites SET status = ?, resolved_at = ?
		WHERE id = ?`, t.Status, nullableTime(t.ResolvedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type sqlEvals SQL

func (s *sqlEvals) SuiteBySlug(ctx context.Context, slug string) (*models.EvalSuite, error) {
	var suite models.EvalSuite
	err := (*SQL)(s).queryRow(ctx, `SELECT id, slug, name FROM eval_suites WHERE slug = ?`, slug).
		Scan(&suite.ID, &suite.Slug, &suite.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &suite, nil
}

func (s *sqlEvals) Scenarios(ctx context.Context, suiteID string) ([]*models.EvalScenario, error) {
	rows, err := (*SQL)(s).query(ctx, `SELECT id, suite_id, slug, prompt FROM eval_scenarios
		WHERE suite_id = ? ORDER BY slug ASC`, suiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.EvalScenario
	for rows.Next() {
		var sc models.EvalScenario
		if err := rows.Scan(&sc.ID, &sc.SuiteID, &sc.Slug, &sc.Prompt); err != nil {
			return nil, err
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}

func (s *sqlEvals) CreateRun(ctx context.Context, run *models.EvalRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := (*SQL)(s).exec(ctx, `INSERT INTO eval_runs
		(id, run_type, strategy, agent_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Type, run.Strategy, run.AgentID, run.CreatedAt.UTC())
	return err
}

func (s *sqlEvals) CreateTask(ctx context.Context, task *models.EvalTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	_, err := (*SQL)(s).exec(ctx, `INSERT INTO eval_tasks
		(id, run_id, scenario_id, agent_id, state, detail, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.RunID, task.ScenarioID, task.AgentID, task.State, task.Detail,
		task.UpdatedAt.UTC())
	return err
}

func (s *sqlEvals) UpdateTask(ctx context.Context, task *models.EvalTask) error {
	res, err := (*SQL)(s).exec(ctx, `UPDATE eval_tasks SET state = ?, detail = ?,
		agent_id = ?, updated_at = ? WHERE id = ?`,
		task.State, task.Detail, task.AgentID, task.UpdatedAt.UTC(), task.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlEvals) TasksByRun(ctx context.Context, runID string) ([]*models.EvalTask, error) {
	rows, err := (*SQL)(s).query(ctx, `SELECT id, run_id, scenario_id, agent_id, state,
		detail, updated_at FROM eval_tasks WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.EvalTask
	for rows.Next() {
		var t models.EvalTask
		if err := rows.Scan(&t.ID, &t.RunID, &t.ScenarioID, &t.AgentID, &t.State,
			&t.Detail, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

type sqlAllowlists SQL

func (s *sqlAllowlists) List(ctx context.Context, agentID string) ([]*models.AllowlistEntry, error) {
	rows, err := (*SQL)(s).query(ctx, `SELECT id, agent_id, channel, address, created_at
		FROM allowlist_entries WHERE agent_id = ? ORDER BY created_at ASC`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.AllowlistEntry
	for rows.Next() {
		var e models.AllowlistEntry
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Channel, &e.Address, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *sqlAllowlists) Add(ctx context.Context, e *models.AllowlistEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := (*SQL)(s).exec(ctx, `INSERT INTO allowlist_entries
		(id, agent_id, channel, address, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.AgentID, e.Channel, e.Address, e.CreatedAt.UTC())
	return err
}
