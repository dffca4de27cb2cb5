package digest

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestDigestJSONStructured(t *testing.T) {
	raw := `{"results":[
		{"id":1,"name":"a","score":0.9},
		{"id":2,"name":"b","score":0.8},
		{"id":3,"name":"c","score":0.7},
		{"id":4,"name":"d","score":0.6}
	]}`
	d := DigestJSON(decode(t, raw), []byte(raw))

	if d.Verdict != "structured" || d.Action != "parse_directly" {
		t.Errorf("verdict/action = %s/%s, want structured/parse_directly", d.Verdict, d.Action)
	}
	if d.ArrayConsistency != 1.0 {
		t.Errorf("array consistency = %v, want 1.0", d.ArrayConsistency)
	}
	if d.ArrayConsistencyVerdict != "excellent" {
		t.Errorf("consistency verdict = %s, want excellent", d.ArrayConsistencyVerdict)
	}
	if d.HotspotPath != "$.results" {
		t.Errorf("hotspot = %s, want $.results", d.HotspotPath)
	}
	if d.SchemaHint != "{id, name, score}[]" {
		t.Errorf("schema hint = %q", d.SchemaHint)
	}
	if d.KeyStyle != "semantic" {
		t.Errorf("key style = %s, want semantic", d.KeyStyle)
	}
	if d.NamingConvention != "snake_case" {
		t.Errorf("naming = %s, want snake_case", d.NamingConvention)
	}
}

func TestDigestJSONSparseAndInconsistent(t *testing.T) {
	raw := `{"items":[
		{"a":1},{"b":null},{"c":null},"stray",42,
		{"d":null},{"e":null},[1]
	]}`
	d := DigestJSON(decode(t, raw), []byte(raw))

	if d.ArrayConsistencyVerdict == "excellent" || d.ArrayConsistencyVerdict == "good" {
		t.Errorf("consistency verdict = %s for mixed shapes", d.ArrayConsistencyVerdict)
	}
	if d.Sparsity <= 0.30 {
		t.Errorf("sparsity = %v, want > 0.30", d.Sparsity)
	}
	if d.SparsityVerdict != "very_sparse" {
		t.Errorf("sparsity verdict = %s, want very_sparse", d.SparsityVerdict)
	}
	if d.Action == "parse_directly" {
		t.Errorf("action = parse_directly for messy input")
	}
}

func TestDigestJSONMinimal(t *testing.T) {
	d := DigestJSON(decode(t, `{"ok":true}`), nil)
	if d.Verdict != "minimal" || d.Action != "parse_directly" {
		t.Errorf("verdict/action = %s/%s, want minimal/parse_directly", d.Verdict, d.Action)
	}
}

func TestDigestJSONDeterministic(t *testing.T) {
	raw := `{"z":1,"a":{"m":[1,2,3],"n":"x"},"k":[{"p":1},{"p":2}]}`
	a := DigestJSON(decode(t, raw), []byte(raw))
	b := DigestJSON(decode(t, raw), []byte(raw))
	if !reflect.DeepEqual(a, b) {
		t.Errorf("digest not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestDigestTextProse(t *testing.T) {
	text := strings.Repeat("The rain in spain stays mainly in the plain, and everyone there seems to agree on that point entirely. ", 20)
	d := DigestText(text)

	if d.LanguageKind != "english_like" {
		t.Errorf("language kind = %s (ic=%v), want english_like", d.LanguageKind, d.IndexOfCoincidence)
	}
	if d.ContentType != "prose" {
		t.Errorf("content type = %s, want prose", d.ContentType)
	}
	if d.Action != "process" {
		t.Errorf("action = %s, want process", d.Action)
	}
	if !strings.HasPrefix(d.Preview, "The rain in spain") {
		t.Errorf("preview = %q", d.Preview)
	}
}

func TestDigestTextNoise(t *testing.T) {
	// All 256 byte values in rotation has maximal entropy.
	b := make([]byte, 4096)
	for i := range b {
		b[i] = byte(i % 256)
	}
	d := DigestText(string(b))
	if d.EntropyKind != "noise" {
		t.Errorf("entropy kind = %s (h=%v), want noise", d.EntropyKind, d.Entropy)
	}
	if d.Verdict != "garbage" || d.Action != "skip" {
		t.Errorf("verdict/action = %s/%s, want garbage/skip", d.Verdict, d.Action)
	}
}

func TestDigestTextHTML(t *testing.T) {
	text := strings.Repeat("<div class=\"row\"><span>cell</span></div>\n", 30)
	d := DigestText(text)
	if d.ContentType != "html" {
		t.Errorf("content type = %s, want html", d.ContentType)
	}
	if d.Action != "extract_only" {
		t.Errorf("action = %s, want extract_only", d.Action)
	}
}

func TestDigestTextEmpty(t *testing.T) {
	d := DigestText("")
	if d.Verdict != "garbage" || d.Action != "skip" {
		t.Errorf("verdict/action = %s/%s, want garbage/skip", d.Verdict, d.Action)
	}
}

func TestSkeletonJSONSerp(t *testing.T) {
	raw := `{"results":[
		{"title":"Go maps in action","url":"https://go.dev/blog/maps","snippet":"How maps work"},
		{"title":"cached copy","url":"https://webcache.google.com/x"},
		{"title":"Go maps in action","url":"https://go.dev/blog/maps?utm=1","snippet":"dup"},
		{"title":"click here","url":"https://example.com/posts/understanding-slices"}
	]}`
	sk := SkeletonJSON(decode(t, raw))

	if sk.Kind != "serp" {
		t.Fatalf("kind = %s, want serp", sk.Kind)
	}
	if len(sk.Items) != 2 {
		t.Fatalf("items = %d, want 2 (noise and dup removed): %+v", len(sk.Items), sk.Items)
	}
	if sk.Items[0].T != "Go maps in action" || sk.Items[0].U != "https://go.dev/blog/maps" {
		t.Errorf("first item = %+v", sk.Items[0])
	}
	if sk.Items[1].T != "understanding slices" {
		t.Errorf("useless link text should be replaced from the URL, got %q", sk.Items[1].T)
	}
}

func TestSkeletonJSONRawFallback(t *testing.T) {
	sk := SkeletonJSON(decode(t, `{"count":3,"status":"ok"}`))
	if sk.Kind != "raw" {
		t.Errorf("kind = %s, want raw", sk.Kind)
	}
	if sk.Excerpt == "" {
		t.Error("raw skeleton should carry an excerpt")
	}
}

func TestSkeletonTextArticle(t *testing.T) {
	text := "# Release notes\n\nSome intro text about the release.\n\n## Changes\n\n" +
		"See [the changelog](https://example.com/changelog) for details and " +
		"[tracker pixel](https://gstatic.com/t.gif).\n"
	sk := SkeletonText(text)

	if sk.Kind != "article" {
		t.Fatalf("kind = %s, want article", sk.Kind)
	}
	if sk.Title != "Release notes" {
		t.Errorf("title = %q", sk.Title)
	}
	if len(sk.Items) != 2 {
		t.Fatalf("items = %d, want 2: %+v", len(sk.Items), sk.Items)
	}
	if sk.Items[0].H != "Release notes" || !strings.Contains(sk.Items[0].C, "Some intro text") {
		t.Errorf("first item = %+v", sk.Items[0])
	}
	if sk.Items[1].L != "https://example.com/changelog" {
		t.Errorf("second item link = %q (noise domain must not win)", sk.Items[1].L)
	}
	if !strings.Contains(sk.Excerpt, "Some intro text") {
		t.Errorf("excerpt = %q", sk.Excerpt)
	}
}

func TestSkeletonTextRawFallback(t *testing.T) {
	sk := SkeletonText("   \n\n  ")
	if sk.Kind != "raw" {
		t.Errorf("kind = %s, want raw", sk.Kind)
	}
}

func TestSERPHint(t *testing.T) {
	sk := &Skeleton{Kind: "serp", Items: []Item{
		{T: "Go maps in action", U: "https://go.dev/blog/maps"},
		{T: "Understanding slices", U: "https://example.com/posts/slices"},
	}}
	h := SERPHint(sk)
	if h == "" {
		t.Fatal("hint should be produced for two items")
	}
	if !strings.Contains(h, "go.dev: Go maps in action") {
		t.Errorf("hint = %q", h)
	}
	if !strings.Contains(h, "https://example.com/posts/slices") {
		t.Errorf("hint missing URL list: %q", h)
	}
}

func TestSERPHintOptimisticNil(t *testing.T) {
	sk := &Skeleton{Kind: "serp", Items: []Item{{T: "only one", U: "https://example.com"}}}
	if h := SERPHint(sk); h != "" {
		t.Errorf("single-item hint should be suppressed, got %q", h)
	}
	if h := SERPHint(&Skeleton{Kind: "article"}); h != "" {
		t.Errorf("non-serp skeleton should not hint, got %q", h)
	}
	if h := SERPHint(nil); h != "" {
		t.Errorf("nil skeleton should not hint, got %q", h)
	}
}

func TestContextHintSmallContentInlined(t *testing.T) {
	if h := ContextHint("short output"); h != "" {
		t.Errorf("small content should not get a hint, got %q", h)
	}
}

func TestContextHintOversizedText(t *testing.T) {
	h := ContextHint(strings.Repeat("All the usual words appear here in a long and steady stream of text. ", 30))
	if h == "" {
		t.Fatal("oversized text should get a hint")
	}
	if !strings.Contains(h, "Suggested handling:") {
		t.Errorf("hint missing action line: %q", h)
	}
}

// serpMarkdown renders a search result page: a large navigation block of
// google/gstatic links followed by numbered results with snippets, plus one
// tracking-parameter variant of the first result.
func serpMarkdown() string {
	var b strings.Builder
	b.WriteString("# Search results\n\n")
	nav := strings.Repeat("navigation text ", 18)
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, "- [%s](https://www.google.com/search?start=%d)\n", nav, i)
	}
	b.WriteString("- [logo](https://ssl.gstatic.com/ui/logo.png)\n\n")
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&b, "%d. [Go result %02d](https://site%02d.example.com/articles/topic-%02d)\n", i, i, i, i)
		fmt.Fprintf(&b, "   A short snippet describing result %02d for the query.\n", i)
	}
	b.WriteString("13. [Go result 01](https://site01.example.com/articles/topic-01?utm_source=serp)\n")
	return b.String()
}

func TestSkeletonTextSerpMarkdown(t *testing.T) {
	text := serpMarkdown()
	if len(text) < 20_000 {
		t.Fatalf("fixture too small: %d bytes", len(text))
	}

	sk := SkeletonText(text)
	if sk.Kind != "serp" {
		t.Fatalf("kind = %s, want serp", sk.Kind)
	}
	if len(sk.Items) != 12 {
		t.Fatalf("items = %d, want 12", len(sk.Items))
	}
	urls := map[string]bool{}
	for _, it := range sk.Items {
		if strings.Contains(it.U, "google.com") || strings.Contains(it.U, "gstatic.com") {
			t.Errorf("noise URL survived: %s", it.U)
		}
		urls[baseURL(it.U)] = true
		if it.T == "" {
			t.Errorf("item %s missing title", it.U)
		}
	}
	if len(urls) != 12 {
		t.Errorf("base URLs not deduplicated: %d distinct", len(urls))
	}
	if !strings.Contains(sk.Items[0].P, "describing result 01") {
		t.Errorf("first preview = %q", sk.Items[0].P)
	}

	raw, err := json.Marshal(sk)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(raw) > 2048 {
		t.Errorf("skeleton JSON = %d bytes, want <= 2048", len(raw))
	}

	again := SkeletonText(text)
	for i, it := range again.Items {
		if it.U != sk.Items[i].U {
			t.Errorf("extraction not deterministic at %d: %s vs %s", i, it.U, sk.Items[i].U)
		}
	}
}
