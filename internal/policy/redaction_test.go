package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if strings.Contains(out, "4242") {
		t.Fatalf("card digits leaked: %q", out)
	}
}

func TestRedactPIILeavesSalesTalkAlone(t *testing.T) {
	input := "We pay about $40,000 a year for Salesforce and renew in March."
	out, changed := RedactPII(input)
	if changed || out != input {
		t.Fatalf("RedactPII() = %q, %v; want unchanged", out, changed)
	}
}

func TestRedactedKinds(t *testing.T) {
	got := RedactedKinds("my ssn is 123-45-6789")
	if len(got) == 0 || got[0] != "ssn" {
		t.Fatalf("RedactedKinds() = %v, want [ssn ...]", got)
	}
	if kinds := RedactedKinds("nothing here"); len(kinds) != 0 {
		t.Fatalf("RedactedKinds() = %v, want empty", kinds)
	}
}
