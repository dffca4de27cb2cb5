package models

import "time"

// PromptArchive is a content-addressed record of a rendered prompt, written
// when a step's prompt is compacted or exceeds the archival threshold.
type PromptArchive struct {
	ID      string `json:"id"`
	AgentID string `json:"agent_id"`
	StepID  string `json:"step_id,omitempty"`
	// StorageKey is the sha256 content hash of system + "\x00" + user.
	StorageKey   string    `json:"storage_key"`
	TokensBefore int       `json:"tokens_before"`
	TokensAfter  int       `json:"tokens_after"`
	TokensSaved  int       `json:"tokens_saved"`
	RenderedAt   time.Time `json:"rendered_at"`
}
