package policy

import "regexp"

type redactionRule struct {
	name    string
	pattern *regexp.Regexp
	mask    string
}

// Order matters: card numbers are masked before the looser phone pattern sees them.
var transcriptRules = []redactionRule{
	{name: "email", pattern: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), mask: "[REDACTED_EMAIL]"},
	{name: "ssn", pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), mask: "[REDACTED_SSN]"},
	{name: "card", pattern: regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), mask: "[REDACTED_CARD]"},
	{name: "phone", pattern: regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), mask: "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII in a transcript line before it is persisted.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range transcriptRules {
		next := rule.pattern.ReplaceAllString(out, rule.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// RedactedKinds lists which rule names would fire on input. Used for logging
// without echoing the sensitive text itself.
func RedactedKinds(input string) []string {
	var kinds []string
	for _, rule := range transcriptRules {
		if rule.pattern.MatchString(input) {
			kinds = append(kinds, rule.name)
		}
	}
	return kinds
}
