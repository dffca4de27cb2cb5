package digest

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// Content skeletons compress fetched web content into the few fields an
// agent actually acts on: search results become {t,u,p} triples, article
// pages become {h,c,l} sections. Anything unrecognized falls back to a
// trimmed raw excerpt.

const (
	maxSERPItems      = 12
	maxArticleItems   = 10
	articleExcerptLen = 800
	rawExcerptLen     = 2000
)

// Item is one skeleton entry. SERP items carry t/u/p (title, url, preview);
// article items carry h/c/l (heading, content, link).
type Item struct {
	T string `json:"t,omitempty"`
	U string `json:"u,omitempty"`
	P string `json:"p,omitempty"`

	H string `json:"h,omitempty"`
	C string `json:"c,omitempty"`
	L string `json:"l,omitempty"`
}

// Skeleton is the reduced form of fetched content.
type Skeleton struct {
	Kind    string `json:"kind"` // serp, article, raw
	Title   string `json:"title,omitempty"`
	Items   []Item `json:"items,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
}

// noiseDomains hosts that never carry content an agent wants to follow.
var noiseDomains = []string{"google.com", "gstatic.com"}

func noisyURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range noiseDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// baseURL strips query and fragment for dedup.
func baseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/")
}

// titleFromURL derives a readable title from a URL path when the link text
// is useless.
func titleFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := ""
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] != "" {
			last = segs[i]
			break
		}
	}
	if last == "" {
		return u.Hostname()
	}
	last = strings.TrimSuffix(last, ".html")
	last = strings.NewReplacer("-", " ", "_", " ").Replace(last)
	return strings.TrimSpace(last)
}

var uselessLinkText = map[string]bool{
	"click here": true,
	"here":       true,
	"read more":  true,
	"more":       true,
	"link":       true,
	"this":       true,
}

// normalizeLinkTitle replaces empty, too-short, boilerplate, or bare-URL
// link text with a title derived from the URL path.
func normalizeLinkTitle(text, href string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	if len(trimmed) < 4 || uselessLinkText[lower] ||
		strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return titleFromURL(href)
	}
	return trimmed
}

// SkeletonJSON reduces a decoded JSON payload. A top-level array (or a
// "results"/"items"/"organic" field) of objects carrying url-ish and
// title-ish keys is treated as a SERP; everything else falls back to raw.
func SkeletonJSON(value any) *Skeleton {
	if items := serpItems(value); len(items) > 0 {
		sk := &Skeleton{Kind: "serp", Items: items}
		if obj, ok := value.(map[string]any); ok {
			sk.Title = firstString(obj, "query", "title")
		}
		return sk
	}
	raw, _ := json.Marshal(value)
	return &Skeleton{Kind: "raw", Excerpt: truncate(string(raw), rawExcerptLen)}
}

func serpItems(value any) []Item {
	list, ok := value.([]any)
	if !ok {
		obj, isObj := value.(map[string]any)
		if !isObj {
			return nil
		}
		for _, field := range []string{"results", "items", "organic", "organic_results"} {
			if inner, found := obj[field].([]any); found {
				list = inner
				break
			}
		}
		if list == nil {
			return nil
		}
	}

	var out []Item
	seen := map[string]bool{}
	for _, elem := range list {
		m, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		u := firstString(m, "url", "link", "href")
		if u == "" || noisyURL(u) {
			continue
		}
		base := baseURL(u)
		if seen[base] {
			continue
		}
		seen[base] = true
		out = append(out, Item{
			T: truncate(normalizeLinkTitle(firstString(m, "title", "name", "heading"), u), 200),
			U: u,
			P: truncate(firstString(m, "snippet", "description", "summary", "preview"), 300),
		})
		if len(out) >= maxSERPItems {
			break
		}
	}
	return out
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

var (
	mdHeadingRe = regexp.MustCompile(`(?m)^(#{1,4})\s+(.+)$`)
	mdLinkRe    = regexp.MustCompile(`\[([^\]]*)\]\((https?://[^)\s]+)\)`)
)

// SkeletonText reduces fetched markdown. Link-dense pages are treated as
// search results and become {t,u,p} items; article-shaped pages become
// {h,c,l} sections: each heading with its first stretch of body text and
// first outbound link.
func SkeletonText(text string) *Skeleton {
	if items := serpFromText(text); items != nil {
		return &Skeleton{Kind: "serp", Items: items}
	}

	sk := &Skeleton{Kind: "article"}

	sections := splitSections(text)
	seen := map[string]bool{}
	for _, sec := range sections {
		if sk.Title == "" && sec.heading != "" {
			sk.Title = sec.heading
		}
		item := Item{H: sec.heading, C: truncate(sec.lead, 300)}
		if m := mdLinkRe.FindStringSubmatch(sec.body); m != nil {
			href := m[2]
			if !noisyURL(href) && !seen[baseURL(href)] {
				seen[baseURL(href)] = true
				item.L = href
			}
		}
		if item.H == "" && item.C == "" {
			continue
		}
		sk.Items = append(sk.Items, item)
		if len(sk.Items) >= maxArticleItems {
			break
		}
	}

	sk.Excerpt = truncate(leadText(text), articleExcerptLen)
	if len(sk.Items) == 0 {
		sk.Kind = "raw"
		sk.Excerpt = truncate(leadText(text), rawExcerptLen)
	}
	return sk
}

// minSERPLinks is the fewest distinct result links a page needs before the
// markdown path calls it a SERP.
const minSERPLinks = 5

// serpFromText extracts {t,u,p} items from link-dense markdown: a page
// where at least 40% of the non-empty lines carry links and at least
// minSERPLinks distinct non-noise result URLs survive dedup. Returns nil
// when the page reads like an article instead.
func serpFromText(text string) []Item {
	lines := strings.Split(text, "\n")
	nonEmpty, linkLines := 0, 0
	var items []Item
	seen := map[string]bool{}
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		nonEmpty++
		matches := mdLinkRe.FindAllStringSubmatch(trimmed, -1)
		if len(matches) == 0 {
			continue
		}
		linkLines++
		for _, m := range matches {
			href := m[2]
			if noisyURL(href) {
				continue
			}
			base := baseURL(href)
			if seen[base] {
				continue
			}
			seen[base] = true
			if len(items) >= maxSERPItems {
				continue
			}
			items = append(items, Item{
				T: truncate(normalizeLinkTitle(m[1], href), 200),
				U: href,
				P: truncate(serpPreview(lines, i, trimmed), 300),
			})
		}
	}
	if len(items) < minSERPLinks || linkLines*5 < nonEmpty*2 {
		return nil
	}
	return items
}

// serpPreview is the snippet next to a result link: the line's remaining
// text, or the following line when the link stands alone.
func serpPreview(lines []string, idx int, line string) string {
	rest := strings.TrimSpace(mdLinkRe.ReplaceAllString(line, ""))
	rest = strings.Trim(rest, "-*#>:1234567890. \t")
	if rest != "" {
		return rest
	}
	if idx+1 < len(lines) {
		next := strings.TrimSpace(lines[idx+1])
		if next != "" && !mdLinkRe.MatchString(next) && !strings.HasPrefix(next, "#") {
			return next
		}
	}
	return ""
}

type section struct {
	heading string
	body    string
	lead    string
}

// splitSections cuts markdown at headings. Text before the first heading
// becomes a headingless section.
func splitSections(text string) []section {
	locs := mdHeadingRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		body := strings.TrimSpace(text)
		if body == "" {
			return nil
		}
		return []section{{body: body, lead: leadText(body)}}
	}

	var out []section
	if head := strings.TrimSpace(text[:locs[0][0]]); head != "" {
		out = append(out, section{body: head, lead: leadText(head)})
	}
	for i, loc := range locs {
		heading := strings.TrimSpace(text[loc[4]:loc[5]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:end])
		out = append(out, section{heading: heading, body: body, lead: leadText(body)})
	}
	return out
}

// leadText strips markdown syntax noise and collapses whitespace from the
// first stretch of body text.
func leadText(text string) string {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		trimmed = mdLinkRe.ReplaceAllString(trimmed, "$1")
		b.WriteString(trimmed)
		b.WriteString(" ")
		if b.Len() > rawExcerptLen {
			break
		}
	}
	return strings.TrimSpace(b.String())
}
