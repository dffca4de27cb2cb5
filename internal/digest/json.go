// Package digest computes compact structural summaries of text and JSON
// blobs and content skeletons. Digests replace bulk tool output in the
// working context so prompt growth stays bounded.
package digest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// JSONDigest is a fixed-width structural summary of a JSON value.
type JSONDigest struct {
	Bytes     int `json:"bytes"`
	MaxDepth  int `json:"max_depth"`
	LeafCount int `json:"leaf_count"`

	// Type histogram as integer percentages of all nodes.
	PctStrings  int `json:"pct_strings"`
	PctNumbers  int `json:"pct_numbers"`
	PctBooleans int `json:"pct_booleans"`
	PctNulls    int `json:"pct_nulls"`
	PctObjects  int `json:"pct_objects"`
	PctArrays   int `json:"pct_arrays"`

	// KeyStyle is semantic, opaque, or mixed.
	KeyStyle string `json:"key_style"`
	// NamingConvention is snake_case, camelCase, PascalCase, UPPER_CASE,
	// or mixed.
	NamingConvention string `json:"naming_convention"`

	// ArrayConsistency scores how uniform array elements are, in [0,1].
	ArrayConsistency        float64 `json:"array_consistency"`
	ArrayConsistencyVerdict string  `json:"array_consistency_verdict"`

	// Sparsity is null/empty leaves over total leaves, in [0,1].
	Sparsity        float64 `json:"sparsity"`
	SparsityVerdict string  `json:"sparsity_verdict"`

	// HotspotPath is the path of the largest array; HotspotShare its
	// share of total leaves.
	HotspotPath  string  `json:"hotspot_path,omitempty"`
	HotspotShare float64 `json:"hotspot_share,omitempty"`

	// SchemaHint sketches the dominant shape, e.g. "{id, name, ...}[]".
	SchemaHint string `json:"schema_hint,omitempty"`

	// Verdict ranks overall workability; Action recommends a next move.
	Verdict string `json:"verdict"`
	Action  string `json:"action"`

	// SamplePath and SampleValue seed prompting with one leaf.
	SamplePath  string `json:"sample_path,omitempty"`
	SampleValue string `json:"sample_value,omitempty"`
}

type jsonStats struct {
	strings, numbers, booleans, nulls, objects, arrays int
	leaves                                             int
	emptyLeaves                                        int
	maxDepth                                           int

	keys []string

	largestArrayPath  string
	largestArrayLen   int
	largestArrayElems []any

	consistencySamples []float64

	samplePath  string
	sampleValue string
}

// DigestJSON summarizes a decoded JSON value. Raw is the original encoding
// used for the byte total; pass nil to re-encode.
func DigestJSON(value any, raw []byte) *JSONDigest {
	if raw == nil {
		raw, _ = json.Marshal(value)
	}
	stats := &jsonStats{}
	walkJSON(value, "$", 1, stats)

	d := &JSONDigest{
		Bytes:     len(raw),
		MaxDepth:  stats.maxDepth,
		LeafCount: stats.leaves,
	}

	total := stats.strings + stats.numbers + stats.booleans + stats.nulls + stats.objects + stats.arrays
	if total > 0 {
		d.PctStrings = 100 * stats.strings / total
		d.PctNumbers = 100 * stats.numbers / total
		d.PctBooleans = 100 * stats.booleans / total
		d.PctNulls = 100 * stats.nulls / total
		d.PctObjects = 100 * stats.objects / total
		d.PctArrays = 100 * stats.arrays / total
	}

	d.KeyStyle = classifyKeyStyle(stats.keys)
	d.NamingConvention = classifyNaming(stats.keys)

	d.ArrayConsistency = averageOr(stats.consistencySamples, 1.0)
	d.ArrayConsistencyVerdict = consistencyVerdict(d.ArrayConsistency)

	if stats.leaves > 0 {
		d.Sparsity = float64(stats.emptyLeaves) / float64(stats.leaves)
	}
	d.SparsityVerdict = sparsityVerdict(d.Sparsity)

	if stats.largestArrayLen > 0 {
		d.HotspotPath = stats.largestArrayPath
		if stats.leaves > 0 {
			d.HotspotShare = float64(countLeaves(stats.largestArrayElems)) / float64(stats.leaves)
		}
		d.SchemaHint = schemaHint(stats.largestArrayElems)
	}

	d.Verdict, d.Action = jsonVerdict(d)
	d.SamplePath = stats.samplePath
	d.SampleValue = stats.sampleValue
	return d
}

func walkJSON(v any, path string, depth int, s *jsonStats) {
	if depth > s.maxDepth {
		s.maxDepth = depth
	}
	switch x := v.(type) {
	case map[string]any:
		s.objects++
		if len(x) == 0 {
			s.leaves++
			s.emptyLeaves++
			return
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s.keys = append(s.keys, keys...)
		for _, k := range keys {
			walkJSON(x[k], path+"."+k, depth+1, s)
		}
	case []any:
		s.arrays++
		if len(x) == 0 {
			s.leaves++
			s.emptyLeaves++
			return
		}
		if len(x) > s.largestArrayLen {
			s.largestArrayLen = len(x)
			s.largestArrayPath = path
			s.largestArrayElems = x
		}
		s.consistencySamples = append(s.consistencySamples, arrayConsistency(x))
		for i, elem := range x {
			walkJSON(elem, fmt.Sprintf("%s[%d]", path, i), depth+1, s)
		}
	case string:
		s.strings++
		s.leaves++
		if x == "" {
			s.emptyLeaves++
		} else if s.sampleValue == "" {
			s.samplePath = path
			s.sampleValue = truncate(x, 120)
		}
	case float64, json.Number, int, int64:
		s.numbers++
		s.leaves++
		if s.sampleValue == "" {
			s.samplePath = path
			s.sampleValue = fmt.Sprintf("%v", x)
		}
	case bool:
		s.booleans++
		s.leaves++
	case nil:
		s.nulls++
		s.leaves++
		s.emptyLeaves++
	}
}

func countLeaves(elems []any) int {
	s := &jsonStats{}
	for _, e := range elems {
		walkJSON(e, "$", 1, s)
	}
	return s.leaves
}

// arrayConsistency scores element shape uniformity: the share of elements
// whose key set matches the most common key set (or whose scalar type
// matches the most common type).
func arrayConsistency(elems []any) float64 {
	if len(elems) <= 1 {
		return 1.0
	}
	shapes := make(map[string]int)
	for _, e := range elems {
		shapes[shapeOf(e)]++
	}
	best := 0
	for _, n := range shapes {
		if n > best {
			best = n
		}
	}
	return float64(best) / float64(len(elems))
}

func shapeOf(v any) string {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "{" + strings.Join(keys, ",") + "}"
	case []any:
		return "[]"
	case string:
		return "str"
	case bool:
		return "bool"
	case nil:
		return "null"
	default:
		return "num"
	}
}

var (
	snakeRe  = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)+$|^[a-z][a-z0-9]*$`)
	camelRe  = regexp.MustCompile(`^[a-z][a-zA-Z0-9]*$`)
	pascalRe = regexp.MustCompile(`^[A-Z][a-zA-Z0-9]*$`)
	upperRe  = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	opaqueRe = regexp.MustCompile(`^[0-9a-fA-F-]{16,}$|^[0-9]+$`)
)

// classifyKeyStyle labels keys semantic, opaque, or mixed. Opaque keys are
// hex-ish identifiers or bare numbers used as map keys.
func classifyKeyStyle(keys []string) string {
	if len(keys) == 0 {
		return "semantic"
	}
	opaque := 0
	for _, k := range keys {
		if opaqueRe.MatchString(k) {
			opaque++
		}
	}
	share := float64(opaque) / float64(len(keys))
	switch {
	case share >= 0.8:
		return "opaque"
	case share <= 0.2:
		return "semantic"
	default:
		return "mixed"
	}
}

func classifyNaming(keys []string) string {
	if len(keys) == 0 {
		return "mixed"
	}
	counts := map[string]int{}
	for _, k := range keys {
		switch {
		case upperRe.MatchString(k) && strings.ContainsAny(k, "_") || (upperRe.MatchString(k) && strings.ToUpper(k) == k && len(k) > 1):
			counts["UPPER_CASE"]++
		case strings.Contains(k, "_") && snakeRe.MatchString(k):
			counts["snake_case"]++
		case pascalRe.MatchString(k):
			counts["PascalCase"]++
		case camelRe.MatchString(k) && k != strings.ToLower(k):
			counts["camelCase"]++
		case camelRe.MatchString(k):
			// All-lowercase single words count toward snake_case.
			counts["snake_case"]++
		default:
			counts["mixed"]++
		}
	}
	best, bestN := "mixed", 0
	for name, n := range counts {
		if n > bestN {
			best, bestN = name, n
		}
	}
	if bestN*10 < len(keys)*8 { // dominant style must cover 80%
		return "mixed"
	}
	return best
}

func consistencyVerdict(score float64) string {
	switch {
	case score >= 0.95:
		return "excellent"
	case score >= 0.80:
		return "good"
	case score >= 0.60:
		return "fair"
	case score >= 0.40:
		return "poor"
	default:
		return "chaotic"
	}
}

func sparsityVerdict(sparsity float64) string {
	switch {
	case sparsity <= 0.05:
		return "dense"
	case sparsity <= 0.15:
		return "normal"
	case sparsity <= 0.30:
		return "sparse"
	default:
		return "very_sparse"
	}
}

// schemaHint sketches the dominant element shape of an array, e.g.
// "{id, name, ...}[]" or "str[]".
func schemaHint(elems []any) string {
	if len(elems) == 0 {
		return ""
	}
	switch first := elems[0].(type) {
	case map[string]any:
		keys := make([]string, 0, len(first))
		for k := range first {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		const maxKeys = 3
		suffix := ""
		if len(keys) > maxKeys {
			keys = keys[:maxKeys]
			suffix = ", ..."
		}
		return "{" + strings.Join(keys, ", ") + suffix + "}[]"
	case []any:
		return "[][]"
	case string:
		return "str[]"
	case bool:
		return "bool[]"
	case nil:
		return "null[]"
	default:
		return "num[]"
	}
}

func jsonVerdict(d *JSONDigest) (verdict, action string) {
	if d.LeafCount <= 3 {
		return "minimal", "parse_directly"
	}
	switch {
	case d.ArrayConsistency >= 0.95 && d.Sparsity <= 0.15 && d.KeyStyle == "semantic":
		return "structured", "parse_directly"
	case d.ArrayConsistency >= 0.80 && d.Sparsity <= 0.30:
		return "usable", "parse_with_care"
	case d.ArrayConsistency >= 0.60 || d.KeyStyle == "mixed":
		return "messy", "normalize_first"
	case d.ArrayConsistency >= 0.40:
		return "chaotic", "inspect_manually"
	default:
		return "chaotic", "skip"
	}
}

func averageOr(xs []float64, fallback float64) float64 {
	if len(xs) == 0 {
		return fallback
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
