package coach

import (
	"strings"

	"github.com/ent0n29/callcoach/internal/textnorm"
)

// repetitionThreshold is the similarity at which two lines count as repeats.
const repetitionThreshold = 0.7

var paraphraseLeads = []string{
	"Let me come at it differently: ",
	"Different angle on this: ",
	"To make it concrete for your team: ",
}

func tooSimilar(candidate string, recent []string) bool {
	for _, prev := range recent {
		if textnorm.Similarity(candidate, prev) >= repetitionThreshold {
			return true
		}
	}
	return false
}

// selectPrimary returns the first candidate that does not repeat any recent
// primary. When all collide it tries light paraphrases, and as a last resort
// anything that differs from the immediately previous primary.
func selectPrimary(candidates, recent []string) (string, bool) {
	var cleaned []string
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	for _, c := range cleaned {
		if !tooSimilar(c, recent) {
			return c, false
		}
	}
	var variants []string
	for _, c := range cleaned {
		for _, lead := range paraphraseLeads {
			v := paraphrase(lead, c)
			if !tooSimilar(v, recent) {
				return v, true
			}
			variants = append(variants, v)
		}
	}
	if len(recent) > 0 {
		last := recent[len(recent)-1:]
		for _, c := range append(cleaned, variants...) {
			if !tooSimilar(c, last) {
				return c, true
			}
		}
	}
	if len(cleaned) > 0 {
		return cleaned[0], true
	}
	return "", true
}

func paraphrase(lead, line string) string {
	if line == "" {
		return ""
	}
	r := []rune(line)
	if len(r) > 1 && !(r[0] == 'I' && (r[1] == ' ' || r[1] == '\'')) {
		r[0] = []rune(strings.ToLower(string(r[0])))[0]
	}
	return lead + string(r)
}
