package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wardenhq/warden/internal/digest"
)

// substituteDigests replaces large bulk tool output with a digest summary
// in place. Small bulk stays inline.
func substituteDigests(entries []Entry) {
	for i := range entries {
		bulk := entries[i].Bulk
		if bulk == "" {
			continue
		}
		if summary := digestBulk(bulk); summary != "" {
			entries[i].Bulk = summary
		}
	}
}

func digestBulk(bulk string) string {
	trimmed := strings.TrimSpace(bulk)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var value any
		if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
			d := digest.DigestJSON(value, []byte(bulk))
			line := fmt.Sprintf("[digest] JSON, %d bytes, depth %d, %d leaves, %s/%s; %s.",
				d.Bytes, d.MaxDepth, d.LeafCount, d.Verdict, d.SparsityVerdict, d.Action)
			if d.SchemaHint != "" {
				line += fmt.Sprintf(" Shape at %s: %s.", d.HotspotPath, d.SchemaHint)
			}
			return line
		}
	}
	return digest.ContextHint(bulk)
}
