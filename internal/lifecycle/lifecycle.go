// Package lifecycle fans out agent shutdown events to registered handlers
// after the triggering transaction commits.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wardenhq/warden/pkg/models"
)

// Reason is why an agent is shutting down.
type Reason string

const (
	HardDelete   Reason = "HARD_DELETE"
	Pause        Reason = "PAUSE"
	CronDisabled Reason = "CRON_DISABLED"
	SoftExpire   Reason = "SOFT_EXPIRE"
)

// Event carries the shutdown context to handlers.
type Event struct {
	Agent  *models.Agent
	Reason Reason
}

// Handler reacts to a shutdown. Handlers must be idempotent; returned
// errors are logged and swallowed so one failure cannot block siblings.
type Handler func(ctx context.Context, ev Event) error

// Registry holds shutdown handlers keyed by the reasons they react to.
type Registry struct {
	mu       sync.RWMutex
	handlers []registration
	logger   *slog.Logger
}

type registration struct {
	name    string
	reasons map[Reason]bool // nil means all reasons
	fn      Handler
}

// NewRegistry creates a Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a handler for the given reasons; no reasons means all.
func (r *Registry) Register(name string, fn Handler, reasons ...Reason) {
	var set map[Reason]bool
	if len(reasons) > 0 {
		set = make(map[Reason]bool, len(reasons))
		for _, reason := range reasons {
			set[reason] = true
		}
	}
	r.mu.Lock()
	r.handlers = append(r.handlers, registration{name: name, reasons: set, fn: fn})
	r.mu.Unlock()
}

// Dispatch runs matching handlers in registration order. Callers invoke it
// only after the shutdown's database transaction has committed.
func (r *Registry) Dispatch(ctx context.Context, ev Event) {
	r.mu.RLock()
	handlers := make([]registration, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.RUnlock()

	for _, h := range handlers {
		if h.reasons != nil && !h.reasons[ev.Reason] {
			continue
		}
		if err := h.fn(ctx, ev); err != nil {
			r.logger.Error("shutdown handler failed",
				"handler", h.name,
				"agent", ev.Agent.ID,
				"reason", ev.Reason,
				"error", err)
		}
	}
}
