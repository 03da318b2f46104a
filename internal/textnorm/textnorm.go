package textnorm

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// SimilarityTokenLimit is the number of ranked tokens compared by Similarity.
const SimilarityTokenLimit = 16

var (
	markdownFencePattern  = regexp.MustCompile("(?s)```.*?```")
	markdownInlinePattern = regexp.MustCompile("`([^`]*)`")
	markdownLinkPattern   = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
	bulletPrefixPattern   = regexp.MustCompile(`^\s*(?:[-*•]+|\d+[.)])\s+`)
)

var stopWords = map[string]struct{}{
	"a": {}, "about": {}, "all": {}, "also": {}, "am": {}, "an": {}, "and": {}, "any": {}, "are": {},
	"as": {}, "at": {}, "be": {}, "been": {}, "but": {}, "by": {}, "can": {}, "could": {}, "did": {},
	"do": {}, "does": {}, "for": {}, "from": {}, "had": {}, "has": {}, "have": {}, "how": {}, "i": {},
	"if": {}, "in": {}, "into": {}, "is": {}, "it": {}, "its": {}, "just": {}, "let": {}, "me": {},
	"more": {}, "my": {}, "no": {}, "not": {}, "of": {}, "on": {}, "or": {}, "our": {}, "so": {},
	"some": {}, "that": {}, "the": {}, "their": {}, "them": {}, "then": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "to": {}, "up": {}, "us": {}, "was": {}, "we": {}, "were": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "will": {}, "with": {}, "would": {},
	"you": {}, "your": {}, "yours": {}, "yes": {}, "yeah": {}, "ok": {}, "okay": {}, "s": {}, "t": {},
	"re": {}, "ve": {}, "ll": {}, "d": {}, "m": {}, "don": {}, "very": {}, "really": {}, "right": {},
}

// CollapseWhitespace trims s and folds every whitespace run into a single space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Tokenize lower-cases s and splits it on anything that is not a letter or digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func IsStopWord(tok string) bool {
	_, ok := stopWords[tok]
	return ok
}

// ContentTokens tokenizes s and drops stop words.
func ContentTokens(s string) []string {
	toks := Tokenize(s)
	out := toks[:0]
	for _, tok := range toks {
		if IsStopWord(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// TopTokens returns up to n distinct content tokens of s ranked by frequency,
// ties broken by first occurrence.
func TopTokens(s string, n int) []string {
	toks := ContentTokens(s)
	if len(toks) == 0 || n <= 0 {
		return nil
	}
	counts := make(map[string]int, len(toks))
	first := make(map[string]int, len(toks))
	order := make([]string, 0, len(toks))
	for i, tok := range toks {
		if _, ok := counts[tok]; !ok {
			first[tok] = i
			order = append(order, tok)
		}
		counts[tok]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		return first[a] < first[b]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}

// Jaccard returns |a ∩ b| / |a ∪ b| over the distinct members of a and b.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]uint8, len(a)+len(b))
	for _, tok := range a {
		set[tok] |= 1
	}
	for _, tok := range b {
		set[tok] |= 2
	}
	inter := 0
	for _, mask := range set {
		if mask == 3 {
			inter++
		}
	}
	return float64(inter) / float64(len(set))
}

// Similarity is the Jaccard overlap of the top SimilarityTokenLimit tokens of a and b.
func Similarity(a, b string) float64 {
	return Jaccard(TopTokens(a, SimilarityTokenLimit), TopTokens(b, SimilarityTokenLimit))
}

// SanitizeModelText strips markdown and list decoration that completion backends
// like to add around a single spoken line.
func SanitizeModelText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	raw = markdownFencePattern.ReplaceAllString(raw, " ")
	raw = markdownInlinePattern.ReplaceAllString(raw, "$1")
	raw = markdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = bulletPrefixPattern.ReplaceAllString(raw, "")
	raw = strings.NewReplacer("**", "", "__", "", "#", " ").Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true
	for _, r := range raw {
		switch {
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sk):
			continue
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	out := strings.TrimSpace(b.String())
	return strings.Trim(out, `"`)
}
