package textnorm

import (
	"math"
	"testing"
)

func TestCollapseWhitespace(t *testing.T) {
	got := CollapseWhitespace("  we use \n\t salesforce   today ")
	if got != "we use salesforce today" {
		t.Fatalf("CollapseWhitespace() = %q", got)
	}
}

func TestTopTokensRanksByFrequency(t *testing.T) {
	got := TopTokens("pricing is fine but pricing on renewal, pricing and renewal", 2)
	if len(got) != 2 || got[0] != "pricing" || got[1] != "renewal" {
		t.Fatalf("TopTokens() = %v, want [pricing renewal]", got)
	}
}

func TestTopTokensDropsStopWords(t *testing.T) {
	got := TopTokens("I think that is what we would do", 16)
	for _, tok := range got {
		if IsStopWord(tok) {
			t.Fatalf("TopTokens() kept stop word %q", tok)
		}
	}
}

func TestSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{name: "identical", a: "What does your onboarding look like today?", b: "What does your onboarding look like today?", min: 1, max: 1},
		{name: "case and punctuation folded", a: "Budget approval next quarter.", b: "budget APPROVAL next quarter", min: 1, max: 1},
		{name: "disjoint", a: "Ask about onboarding timeline", b: "Share the security certification", min: 0, max: 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := Similarity(tc.a, tc.b)
			if got < tc.min-1e-9 || got > tc.max+1e-9 {
				t.Fatalf("Similarity(%q, %q) = %v, want in [%v, %v]", tc.a, tc.b, got, tc.min, tc.max)
			}
		})
	}
}

func TestJaccard(t *testing.T) {
	got := Jaccard([]string{"a", "b", "c"}, []string{"b", "c", "d"})
	if math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("Jaccard() = %v, want 0.5", got)
	}
	if Jaccard(nil, nil) != 0 {
		t.Fatalf("Jaccard(nil, nil) should be 0")
	}
}

func TestSanitizeModelText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "- **Ask** what changed since Q3.", want: "Ask what changed since Q3."},
		{in: "\"Walk me through [the renewal](https://x.test) process?\"", want: "Walk me through the renewal process?"},
		{in: "1. Use `their` words   here.", want: "Use their words here."},
	}
	for _, tc := range cases {
		if got := SanitizeModelText(tc.in); got != tc.want {
			t.Fatalf("SanitizeModelText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
