package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/providers"
	"github.com/wardenhq/warden/pkg/models"
)

// Entry is one chronological element of the user prompt. Bulk carries raw
// tool output eligible for digest substitution during compaction.
type Entry struct {
	At    time.Time
	Label string
	Text  string
	Bulk  string
}

// FileInfo is one line of the filesystem listing.
type FileInfo struct {
	Path      string
	SizeBytes int64
	Mime      string
	UpdatedAt time.Time
}

// maxFileListing bounds the filesystem section to the most recently
// updated files.
const maxFileListing = 30

// Inputs collects everything the assembler folds into a step prompt.
type Inputs struct {
	Agent        *models.Agent
	Entries      []Entry
	Files        []FileInfo
	Variables    []*models.Variable
	Allowlist    []*models.AllowlistEntry
	Tools        []providers.ToolSpec
	PlanGuidance string
}

// Builder renders system and user prompts.
type Builder struct {
	counter *Counter
}

// NewBuilder creates a Builder.
func NewBuilder(counter *Counter) *Builder {
	if counter == nil {
		counter = NewCounter()
	}
	return &Builder{counter: counter}
}

// System renders the system prompt: static sections, the charter, capability
// hints, and safety notes. The text is deterministic for a given agent and
// tool set so it content-hashes and caches well.
func (b *Builder) System(in *Inputs) string {
	var s strings.Builder

	s.WriteString("You are ")
	s.WriteString(in.Agent.Name)
	s.WriteString(", a persistent autonomous agent. You act only through the tools listed below and end every turn with a stop.\n\n")

	s.WriteString("## Charter\n")
	s.WriteString(strings.TrimSpace(in.Agent.Charter))
	s.WriteString("\n\n")

	if len(in.Tools) > 0 {
		s.WriteString("## Capabilities\n")
		names := make([]string, 0, len(in.Tools))
		for _, t := range in.Tools {
			names = append(names, t.Name)
		}
		sort.Strings(names)
		s.WriteString("Available tools: ")
		s.WriteString(strings.Join(names, ", "))
		s.WriteString(".\n")
		s.WriteString("Reference large stored values in tool parameters as $variable_name; they resolve before execution.\n\n")
	}

	if in.PlanGuidance != "" {
		s.WriteString("## Plan guidance\n")
		s.WriteString(strings.TrimSpace(in.PlanGuidance))
		s.WriteString("\n\n")
	}

	s.WriteString("## Conduct\n")
	s.WriteString("Never send near-duplicate outbound messages. Respect the recipient allowlist. ")
	s.WriteString("When a task is finished or blocked, stop rather than padding the conversation.\n")

	return s.String()
}

// User renders the user prompt: the chronological event narrative followed
// by the working-state catalogs.
func (b *Builder) User(in *Inputs) string {
	var s strings.Builder

	s.WriteString("## Events\n")
	if len(in.Entries) == 0 {
		s.WriteString("No new events since the last step.\n")
	}
	for _, e := range in.Entries {
		s.WriteString(renderEntry(e))
	}
	s.WriteString("\n")

	if len(in.Files) > 0 {
		s.WriteString("## Files\n")
		files := in.Files
		sort.Slice(files, func(i, j int) bool { return files[i].UpdatedAt.After(files[j].UpdatedAt) })
		if len(files) > maxFileListing {
			files = files[:maxFileListing]
		}
		for _, f := range files {
			fmt.Fprintf(&s, "- %s (%d bytes, %s, updated %s)\n",
				f.Path, f.SizeBytes, f.Mime, f.UpdatedAt.UTC().Format(time.RFC3339))
		}
		s.WriteString("\n")
	}

	if len(in.Variables) > 0 {
		s.WriteString("## Variables\n")
		for _, v := range in.Variables {
			line := fmt.Sprintf("- $%s (~%d bytes", v.Name, v.SizeBytes)
			if v.IsJSON {
				line += ", json"
			}
			line += ")"
			if v.Summary != "" {
				line += ": " + v.Summary
			}
			s.WriteString(line)
			s.WriteString("\n")
		}
		s.WriteString("\n")
	}

	if in.Agent.AllowlistPolicy == models.AllowlistManual {
		s.WriteString("## Allowed recipients\n")
		if len(in.Allowlist) == 0 {
			s.WriteString("None configured; outbound messages will be refused.\n")
		}
		for _, e := range in.Allowlist {
			fmt.Fprintf(&s, "- %s via %s\n", e.Address, e.Channel)
		}
		s.WriteString("\n")
	}

	s.WriteString("Decide the next action, or stop if nothing needs doing.\n")
	return s.String()
}

func renderEntry(e Entry) string {
	var s strings.Builder
	fmt.Fprintf(&s, "[%s] %s: %s\n", e.At.UTC().Format("2006-01-02 15:04"), e.Label, e.Text)
	if e.Bulk != "" {
		s.WriteString(e.Bulk)
		s.WriteString("\n")
	}
	return s.String()
}

// MessageEntry converts a stored message into a narrative entry.
func MessageEntry(m *models.Message) Entry {
	direction := "received"
	who := m.FromAddress
	if m.IsOutbound {
		direction = "sent"
		who = m.ToAddress
	}
	label := fmt.Sprintf("%s %s %s", m.Channel, direction, who)
	text := m.Body
	if m.Subject != "" {
		text = m.Subject + " — " + text
	}
	return Entry{At: m.CreatedAt, Label: label, Text: text}
}

// ToolEntry converts a recorded tool call into a narrative entry. The raw
// result rides in Bulk so compaction can swap it for its digest.
func ToolEntry(tc *models.ToolCall) Entry {
	return Entry{
		At:    tc.CreatedAt,
		Label: "tool " + tc.ToolName,
		Text:  fmt.Sprintf("called with %s", truncateParams(tc.Params)),
		Bulk:  tc.Result,
	}
}

func truncateParams(raw []byte) string {
	const max = 200
	s := string(raw)
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
