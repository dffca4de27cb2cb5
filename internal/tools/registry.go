// Package tools defines the tool registry and the dispatch pipeline that
// turns model tool calls into guarded, recorded executions.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wardenhq/warden/internal/providers"
	"github.com/wardenhq/warden/pkg/models"
)

// Handler executes a tool. Params arrive with variables already resolved.
// The returned value is JSON-encoded for recording; a map result may carry
// a "_variableize" config (see dispatcher).
type Handler func(ctx context.Context, req *Request) (any, error)

// Request is one tool invocation.
type Request struct {
	Agent  *models.Agent
	StepID string
	Params map[string]any

	cost int64
}

// Guard inspects resolved params before execution; a non-nil return is the
// error payload shown to the model.
type Guard func(ctx context.Context, req *Request) map[string]any

// Tool is a registered capability.
type Tool struct {
	Name        string
	Description string
	// Schema is the JSON schema for params. GenerateSchema builds one
	// from a struct type.
	Schema json.RawMessage
	// Visible gates the tool per agent; nil means always visible.
	Visible func(agent *models.Agent) bool
	// Guards run in order before execution.
	Guards []Guard
	// Adapt marks bulk-producing tools whose raw results are digested
	// before entering the context.
	Adapt   bool
	Handler Handler

	compiled *jsv.Schema
}

// Registry holds the tool set.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool, compiling its schema. Duplicate names are rejected.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" || t.Handler == nil {
		return fmt.Errorf("tool requires a name and a handler")
	}
	if len(t.Schema) > 0 {
		compiler := jsv.NewCompiler()
		if err := compiler.AddResource(t.Name+".json", bytes.NewReader(t.Schema)); err != nil {
			return fmt.Errorf("tool %s schema: %w", t.Name, err)
		}
		schema, err := compiler.Compile(t.Name + ".json")
		if err != nil {
			return fmt.Errorf("tool %s schema: %w", t.Name, err)
		}
		t.compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns the tool specs visible to the agent, sorted by name.
func (r *Registry) Specs(agent *models.Agent) []providers.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []providers.ToolSpec
	for _, t := range r.tools {
		if t.Visible != nil && !t.Visible(agent) {
			continue
		}
		out = append(out, providers.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Schema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// validate checks resolved params against the tool's compiled schema.
func (t *Tool) validate(params map[string]any) error {
	if t.compiled == nil {
		return nil
	}
	if err := t.compiled.Validate(any(params)); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

// GenerateSchema derives a JSON schema from a params struct type.
func GenerateSchema(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	raw, _ := json.Marshal(schema)
	return raw
}
