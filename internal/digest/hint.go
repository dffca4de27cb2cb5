package digest

import (
	"fmt"
	"net/url"
	"strings"
)

// minHintItems is the floor under which a hint carries too little signal
// to be worth prompt space.
const minHintItems = 2

// SERPHint renders a SERP skeleton as a three-part scanning aid: an
// emoji-prefixed domain:title line per result, then one URL per line.
// Hints are optimistic: low-signal skeletons return "" so the caller
// omits the hint entirely.
func SERPHint(sk *Skeleton) string {
	if sk == nil || sk.Kind != "serp" || len(sk.Items) < minHintItems {
		return ""
	}

	var titles, urls []string
	for _, item := range sk.Items {
		host := hostOf(item.U)
		if host == "" || item.T == "" {
			continue
		}
		titles = append(titles, fmt.Sprintf("🔗 %s: %s", host, item.T))
		urls = append(urls, item.U)
	}
	if len(titles) < minHintItems {
		return ""
	}

	var b strings.Builder
	b.WriteString(strings.Join(titles, " · "))
	b.WriteString("\n")
	b.WriteString(strings.Join(urls, "\n"))
	return b.String()
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// hintThreshold is the size under which content goes into the prompt as is
// and no digest-based hint is produced.
const hintThreshold = 512

// ContextHint produces a short orientation note for an oversized blob:
// what it is, how big, and what to do with it. Small blobs return "" so
// the caller inlines them directly.
func ContextHint(content string) string {
	if len(content) <= hintThreshold {
		return ""
	}
	d := DigestText(content)
	lines := []string{
		fmt.Sprintf("Text, %d bytes, %d lines, %s/%s.",
			d.Bytes, d.Lines, d.ContentType, d.EntropyKind),
	}
	if d.Preview != "" {
		lines = append(lines, "Starts: "+d.Preview)
	}
	lines = append(lines, "Suggested handling: "+d.Action+".")
	return strings.Join(lines, "\n")
}
