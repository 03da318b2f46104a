package coach

import (
	"regexp"
	"strings"
)

// specificContentMinChars is how much concrete text must follow a filler lead.
const specificContentMinChars = 25

var (
	terminalPunctPattern = regexp.MustCompile(`[.!?]["'”’)\]]*$`)
	danglingTailPattern  = regexp.MustCompile(`(?i)(\b(such as|including|for example|for instance|e\.g|i\.e|and|or|but|because|the|a|an|your|our)|[,;:\-–—])[\s.!?]*$`)
	fillerLeadPattern    = regexp.MustCompile(`(?i)^\s*(?:(?:i (?:totally |completely )?(?:understand|get|hear)(?: your concern| where you're coming from| how you feel| you| that| it)?|that makes (?:total |complete )?sense|makes sense|great question|good question|good point|fair enough|totally|absolutely|i appreciate (?:you sharing that|the honesty|that)|thanks for sharing(?: that)?|no worries|of course|sure|okay|ok|got it)\b[\s\p{P}]*)+`)
)

// isComplete reports whether a suggestion reads as a finished sentence.
func isComplete(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || !terminalPunctPattern.MatchString(text) {
		return false
	}
	if danglingTailPattern.MatchString(text) {
		return false
	}
	return balanced(text)
}

func balanced(text string) bool {
	if strings.Count(text, `"`)%2 != 0 {
		return false
	}
	if strings.Count(text, "(") > strings.Count(text, ")") {
		return false
	}
	if strings.Count(text, "[") > strings.Count(text, "]") {
		return false
	}
	return strings.Count(text, "“") <= strings.Count(text, "”")
}

// isGeneric flags filler or empathy lines without concrete content after the
// filler lead.
func isGeneric(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	loc := fillerLeadPattern.FindStringIndex(text)
	if loc == nil || loc[0] != 0 {
		return false
	}
	rest := strings.Trim(text[loc[1]:], " \t.,!?;:-")
	return len([]rune(rest)) < specificContentMinChars
}

// usable is the minimum bar for a line to be shown at all.
func usable(text string) bool {
	return isComplete(text) && !isGeneric(text)
}
