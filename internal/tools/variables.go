package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

// varRefRe matches a whole-string variable reference in tool params.
var varRefRe = regexp.MustCompile(`^\$([A-Za-z0-9_-]+)$`)

// VariableNotFoundError is the typed failure for unresolved $references.
type VariableNotFoundError struct {
	Name string
}

func (e *VariableNotFoundError) Error() string {
	return fmt.Sprintf("Variable $%s not found", e.Name)
}

// resolveVariables walks params and substitutes $name strings with the
// stored variable's value, JSON-decoded when the variable is flagged.
func resolveVariables(ctx context.Context, vars storage.VariableStore, agentID string, value any) (any, error) {
	switch x := value.(type) {
	case string:
		m := varRefRe.FindStringSubmatch(x)
		if m == nil {
			return x, nil
		}
		v, err := vars.GetByName(ctx, agentID, m[1])
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, &VariableNotFoundError{Name: m[1]}
			}
			return nil, fmt.Errorf("resolve $%s: %w", m[1], err)
		}
		if v.IsJSON {
			var decoded any
			if err := json.Unmarshal([]byte(v.Value), &decoded); err == nil {
				return decoded, nil
			}
		}
		return v.Value, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			resolved, err := resolveVariables(ctx, vars, agentID, elem)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			resolved, err := resolveVariables(ctx, vars, agentID, elem)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

var nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)

func sanitizeNamePart(s string) string {
	s = strings.ToLower(s)
	s = nameSanitizeRe.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// stepHex derives a short stable hex token from the step ID.
func stepHex(stepID string) string {
	sum := sha256.Sum256([]byte(stepID))
	return hex.EncodeToString(sum[:4])
}

// variableName builds the deterministic name
// {sanitize(prefix or tool)}_{step_hex}_{sanitize(field or "result")},
// lowercased and truncated to the model limit.
func variableName(prefix, tool, stepID, field string) string {
	head := sanitizeNamePart(prefix)
	if head == "" {
		head = sanitizeNamePart(tool)
	}
	tail := sanitizeNamePart(field)
	if tail == "" {
		tail = "result"
	}
	name := head + "_" + stepHex(stepID) + "_" + tail
	if len(name) > models.MaxVariableNameLen {
		name = name[:models.MaxVariableNameLen]
	}
	return name
}

// storeVariable persists one variable idempotently and returns its name.
func storeVariable(ctx context.Context, vars storage.VariableStore, agentID, toolCallID, name, value string, isJSON bool, summary string) (string, error) {
	v := &models.Variable{
		AgentID:    agentID,
		Name:       name,
		Value:      value,
		IsJSON:     isJSON,
		SizeBytes:  int64(len(value)),
		ToolCallID: toolCallID,
		Summary:    summary,
	}
	if _, _, err := vars.GetOrCreate(ctx, v); err != nil {
		return "", fmt.Errorf("store variable %s: %w", name, err)
	}
	return name, nil
}
