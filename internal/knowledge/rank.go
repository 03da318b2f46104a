package knowledge

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ent0n29/callcoach/internal/textnorm"
)

const (
	DefaultSnippetLimit = 8
	ProofSnippetLimit   = 12
)

var synonyms = map[string]string{
	"roi":         "roi return value",
	"expensive":   "price pricing cost budget",
	"price":       "price pricing cost",
	"cost":        "cost price pricing budget",
	"budget":      "budget price pricing cost",
	"security":    "security compliance soc2 privacy",
	"integrate":   "integration integrations api connect",
	"integration": "integration api connect",
	"onboarding":  "onboarding implementation setup rollout",
	"setup":       "setup onboarding implementation",
	"contract":    "contract terms agreement",
	"trial":       "trial pilot",
	"competitor":  "competitor alternative compare",
	"switch":      "switch migrate migration",
}

// Per objection category, extra score by snippet kind.
var objectionBoosts = map[string]map[string]int{
	"pricing":      {KindPricing: 3, KindProofPoint: 2, KindValueProp: 1},
	"timing":       {KindProofPoint: 2, KindValueProp: 1},
	"competitor":   {KindDifferentiator: 3, KindProofPoint: 2},
	"authority":    {KindProofPoint: 2, KindValueProp: 1, KindFAQ: 1},
	"need":         {KindValueProp: 2, KindProofPoint: 2, KindCompany: 1},
	"info_request": {KindProduct: 2, KindFAQ: 2, KindPricing: 1},
}

// Objection plays tagged with the live category get this on top.
const objectionTagBoost = 3

var safeKinds = map[string]bool{KindProofPoint: true, KindDifferentiator: true, KindValueProp: true}

var proofRequestPattern = regexp.MustCompile(`(?i)\b(for example|example|examples|case stud(y|ies)|proof|references?|who else|customers? (like|using)|show me|success stor(y|ies))\b`)

// IsProofRequest reports whether an utterance explicitly asks for evidence.
func IsProofRequest(text string) bool {
	return proofRequestPattern.MatchString(text)
}

// Query describes one retrieval.
type Query struct {
	// Text is the recent transcript window.
	Text      string
	Objection string
	WantProof bool
}

// ExpandTokens tokenizes text and appends synonym expansions.
func ExpandTokens(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range textnorm.ContentTokens(text) {
		out[tok] = struct{}{}
		if extra, ok := synonyms[tok]; ok {
			for _, syn := range strings.Fields(extra) {
				out[syn] = struct{}{}
			}
		}
	}
	return out
}

// Rank returns the most relevant snippets for q, best first. When nothing
// scores, a fixed safe subset is returned instead.
func Rank(snippets []Snippet, q Query) []Snippet {
	limit := DefaultSnippetLimit
	if q.WantProof {
		limit = ProofSnippetLimit
	}
	if len(snippets) == 0 {
		return nil
	}
	queryTokens := ExpandTokens(q.Text)
	category := strings.ToLower(strings.TrimSpace(q.Objection))
	boosts := objectionBoosts[category]

	type scored struct {
		idx   int
		score int
	}
	ranked := make([]scored, 0, len(snippets))
	for i, sn := range snippets {
		score := 0
		for tok := range queryTokens {
			if sn.has(tok) {
				score++
			}
		}
		score += boosts[sn.Kind]
		if sn.Kind == KindObjection && category != "" && sn.Tag == category {
			score += objectionTagBoost
		}
		if q.WantProof && sn.Kind == KindProofPoint {
			score += 2
		}
		if score > 0 {
			ranked = append(ranked, scored{idx: i, score: score})
		}
	}
	if len(ranked) == 0 {
		return safeSubset(snippets, limit)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]Snippet, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, snippets[r.idx])
	}
	return out
}

func safeSubset(snippets []Snippet, limit int) []Snippet {
	var out []Snippet
	for _, sn := range snippets {
		if safeKinds[sn.Kind] {
			out = append(out, sn)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

func (s Snippet) has(tok string) bool {
	if s.tokens == nil {
		// Snippets built by hand (tests, static sources) are tokenized lazily.
		for _, t := range textnorm.ContentTokens(s.Text) {
			if t == tok {
				return true
			}
		}
		return false
	}
	_, ok := s.tokens[tok]
	return ok
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
