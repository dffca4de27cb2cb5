package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

// IntegrationClient is the remote-integration surface the built-in
// handlers need: failing pending sessions and removing external users.
type IntegrationClient interface {
	MarkSessionsErrored(ctx context.Context, agentID string) error
	DeleteExternalUser(ctx context.Context, agentID string) error
}

// ComputeController terminates sandbox sessions.
type ComputeController interface {
	Terminate(ctx context.Context, session *models.ComputeSession) error
}

// RegisterBuiltins wires the standard shutdown handlers.
func RegisterBuiltins(r *Registry, integrations IntegrationClient, compute storage.ComputeStore, controller ComputeController) {
	if integrations != nil {
		r.Register("integration-sessions-errored", func(ctx context.Context, ev Event) error {
			return integrations.MarkSessionsErrored(ctx, ev.Agent.ID)
		})
		r.Register("integration-external-user-delete", func(ctx context.Context, ev Event) error {
			return integrations.DeleteExternalUser(ctx, ev.Agent.ID)
		}, HardDelete, SoftExpire)
	}

	if compute != nil && controller != nil {
		r.Register("compute-terminate", func(ctx context.Context, ev Event) error {
			session, err := compute.GetByAgent(ctx, ev.Agent.ID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil
				}
				return fmt.Errorf("load compute session: %w", err)
			}
			if session.State != models.ComputeRunning && session.State != models.ComputeIdleStopping {
				return nil
			}
			if err := controller.Terminate(ctx, session); err != nil {
				return fmt.Errorf("terminate compute session: %w", err)
			}
			session.State = models.ComputeStopped
			session.StoppedAt = time.Now().UTC()
			return compute.Upsert(ctx, session)
		})
	}
}
