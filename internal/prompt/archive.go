package prompt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

// ContentHash is the archival key: sha256 of system + NUL + user.
func ContentHash(system, user string) string {
	h := sha256.New()
	h.Write([]byte(system))
	h.Write([]byte{0})
	h.Write([]byte(user))
	return hex.EncodeToString(h.Sum(nil))
}

// Archiver records rendered prompts and prunes old archives.
type Archiver struct {
	store  storage.ArchiveStore
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(store storage.ArchiveStore, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, logger: logger, now: time.Now}
}

// Record writes one archive row for a compacted prompt.
func (a *Archiver) Record(ctx context.Context, agentID, stepID string, res *Result) error {
	row := &models.PromptArchive{
		AgentID:      agentID,
		StepID:       stepID,
		StorageKey:   ContentHash(res.System, res.User),
		TokensBefore: res.TokensBefore,
		TokensAfter:  res.TokensAfter,
		TokensSaved:  res.TokensBefore - res.TokensAfter,
		RenderedAt:   a.now().UTC(),
	}
	if err := a.store.Create(ctx, row); err != nil {
		return fmt.Errorf("archive prompt: %w", err)
	}
	return nil
}

// Prune deletes archives older than retentionDays in chunks and returns
// the total deleted. dryRun reports the current count without deleting.
func (a *Archiver) Prune(ctx context.Context, retentionDays, chunk int, dryRun bool) (int, error) {
	cutoff := a.now().UTC().AddDate(0, 0, -retentionDays)
	if dryRun {
		return a.store.Count(ctx)
	}
	total := 0
	for {
		n, err := a.store.DeleteOlderThan(ctx, cutoff, chunk)
		if err != nil {
			return total, fmt.Errorf("prune archives: %w", err)
		}
		total += n
		if n < chunk {
			break
		}
	}
	a.logger.Info("pruned prompt archives", "deleted", total, "cutoff", cutoff)
	return total, nil
}
