package digest

import (
	"math"
	"strings"
	"unicode"
)

// TextDigest is a statistical summary of a text blob: what kind of text it
// is and whether it is worth reading in full.
type TextDigest struct {
	Bytes int `json:"bytes"`
	Runes int `json:"runes"`
	Lines int `json:"lines"`

	// Entropy is Shannon entropy in bits per byte; EntropyKind buckets it
	// into compressed, prose, mixed, markup, minified, encoded, noise.
	Entropy     float64 `json:"entropy"`
	EntropyKind string  `json:"entropy_kind"`

	// IndexOfCoincidence separates natural language from code and noise.
	IndexOfCoincidence float64 `json:"index_of_coincidence"`
	LanguageKind       string  `json:"language_kind"`

	// Character class shares, each in [0,1].
	AlphaShare   float64 `json:"alpha_share"`
	DigitShare   float64 `json:"digit_share"`
	SpaceShare   float64 `json:"space_share"`
	PunctShare   float64 `json:"punct_share"`
	ControlShare float64 `json:"control_share"`

	AvgLineLen      float64 `json:"avg_line_len"`
	MaxLineLen      int     `json:"max_line_len"`
	BlankLineFrac   float64 `json:"blank_line_frac"`
	UniqueLineRatio float64 `json:"unique_line_ratio"`

	// ContentType scores the blob as prose, code, html, markdown, data,
	// or noise.
	ContentType string `json:"content_type"`

	// Verdict ranks readability; Action recommends a next move.
	Verdict string `json:"verdict"`
	Action  string `json:"action"`

	// Preview is the first non-blank line, truncated.
	Preview string `json:"preview,omitempty"`
}

// DigestText summarizes a text blob.
func DigestText(text string) *TextDigest {
	d := &TextDigest{Bytes: len(text)}
	if text == "" {
		d.EntropyKind = "compressed"
		d.LanguageKind = "random_like"
		d.ContentType = "noise"
		d.Verdict = "garbage"
		d.Action = "skip"
		return d
	}

	var freq [256]int
	for i := 0; i < len(text); i++ {
		freq[text[i]]++
	}
	d.Entropy = shannonEntropy(freq[:], len(text))
	d.EntropyKind = entropyKind(d.Entropy)
	d.IndexOfCoincidence = indexOfCoincidence(text)
	d.LanguageKind = languageKind(d.IndexOfCoincidence)

	var alpha, digit, space, punct, control, runes int
	for _, r := range text {
		runes++
		switch {
		case unicode.IsLetter(r):
			alpha++
		case unicode.IsDigit(r):
			digit++
		case r == '\n' || r == '\t' || r == ' ' || unicode.IsSpace(r):
			space++
		case unicode.IsControl(r):
			control++
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			punct++
		}
	}
	d.Runes = runes
	total := float64(runes)
	d.AlphaShare = float64(alpha) / total
	d.DigitShare = float64(digit) / total
	d.SpaceShare = float64(space) / total
	d.PunctShare = float64(punct) / total
	d.ControlShare = float64(control) / total

	lines := strings.Split(text, "\n")
	d.Lines = len(lines)
	blank := 0
	uniq := map[string]bool{}
	var lineLenSum int
	for _, line := range lines {
		n := len(line)
		lineLenSum += n
		if n > d.MaxLineLen {
			d.MaxLineLen = n
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			blank++
			continue
		}
		uniq[trimmed] = true
		if d.Preview == "" {
			d.Preview = truncate(trimmed, 120)
		}
	}
	d.AvgLineLen = float64(lineLenSum) / float64(len(lines))
	d.BlankLineFrac = float64(blank) / float64(len(lines))
	if nonBlank := len(lines) - blank; nonBlank > 0 {
		d.UniqueLineRatio = float64(len(uniq)) / float64(nonBlank)
	}

	d.ContentType = contentType(text, d)
	d.Verdict, d.Action = textVerdict(d)
	return d
}

func shannonEntropy(freq []int, total int) float64 {
	var h float64
	for _, n := range freq {
		if n == 0 {
			continue
		}
		p := float64(n) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

func entropyKind(h float64) string {
	switch {
	case h < 3.8:
		return "compressed"
	case h < 4.5:
		return "prose"
	case h < 5.0:
		return "mixed"
	case h < 5.4:
		return "markup"
	case h < 5.8:
		return "minified"
	case h <= 6.1:
		return "encoded"
	default:
		return "noise"
	}
}

// indexOfCoincidence over ASCII letters, case-folded. English prose lands
// near 0.066; uniform random letters near 0.038.
func indexOfCoincidence(text string) float64 {
	var counts [26]int
	n := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c >= 'a' && c <= 'z':
			counts[c-'a']++
			n++
		case c >= 'A' && c <= 'Z':
			counts[c-'A']++
			n++
		}
	}
	if n < 2 {
		return 0
	}
	var sum float64
	for _, c := range counts {
		sum += float64(c) * float64(c-1)
	}
	return sum / (float64(n) * float64(n-1))
}

func languageKind(ic float64) string {
	switch {
	case ic >= 0.062:
		return "english_like"
	case ic >= 0.048:
		return "code_like"
	case ic >= 0.040:
		return "mixed"
	default:
		return "random_like"
	}
}

// contentType applies calibrated rules over the collected signals.
func contentType(text string, d *TextDigest) string {
	if d.EntropyKind == "noise" || d.ControlShare > 0.10 {
		return "noise"
	}
	lower := strings.ToLower(text)
	tagish := strings.Count(lower, "</") + strings.Count(lower, "/>")
	if tagish > 2 && tagish > d.Lines/10 {
		return "html"
	}
	if mdHeadingRe.MatchString(text) || mdLinkRe.MatchString(text) {
		return "markdown"
	}
	if d.DigitShare > 0.35 || (d.DigitShare > 0.15 && strings.Count(text, ",") > d.Lines*3) {
		return "data"
	}
	if d.LanguageKind == "english_like" && d.PunctShare < 0.12 {
		return "prose"
	}
	if d.LanguageKind == "code_like" || d.PunctShare >= 0.12 {
		return "code"
	}
	if d.LanguageKind == "random_like" && d.AlphaShare < 0.4 {
		return "noise"
	}
	return "prose"
}

func textVerdict(d *TextDigest) (verdict, action string) {
	switch d.ContentType {
	case "noise":
		return "garbage", "skip"
	case "html":
		return "usable", "extract_only"
	case "prose":
		if d.BlankLineFrac <= 0.30 && d.MaxLineLen <= 4000 && d.UniqueLineRatio >= 0.8 {
			return "pristine", "process"
		}
		return "clean", "process"
	case "markdown":
		return "clean", "process"
	case "code", "data":
		return "usable", "process"
	default:
		if d.EntropyKind == "minified" || d.EntropyKind == "encoded" {
			return "dirty", "clean_first"
		}
		return "dirty", "clean_first"
	}
}
