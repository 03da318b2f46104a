package knowledge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadAcme(t *testing.T, callID string) CallContext {
	t.Helper()
	cc, err := NewFileSource(filepath.Join("testdata", "acme.toml")).Load(context.Background(), callID)
	require.NoError(t, err)
	return cc
}

func TestFileSourceLoad(t *testing.T) {
	cc := loadAcme(t, "call-1")
	assert.Equal(t, "Acme Dialer", cc.Profile.Company)
	assert.False(t, cc.Defaulted)
	assert.False(t, cc.PracticeMode)
	require.Len(t, cc.Stages, 3)
	assert.Equal(t, "Close", cc.Stages[2].Name)
	require.Len(t, cc.Profile.Products, 1)
	assert.Equal(t, []string{"local presence", "voicemail drop"}, cc.Profile.Products[0].Features)
	assert.NotEmpty(t, cc.Snippets)

	assert.True(t, loadAcme(t, "rehearsal-1").PracticeMode)
}

func TestFileSourceMissing(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "nope.toml")).Load(context.Background(), "c")
	assert.True(t, errors.Is(err, ErrProfileNotFound))

	_, err = NewFileSource("").Load(context.Background(), "c")
	assert.True(t, errors.Is(err, ErrProfileNotFound))
}

func TestParseRejectsBadTOML(t *testing.T) {
	_, err := Parse([]byte("company = "), "c")
	assert.Error(t, err)
}

func TestDefaultCallContext(t *testing.T) {
	cc := DefaultCallContext()
	assert.True(t, cc.Defaulted)
	assert.Len(t, cc.Stages, 5)
	assert.Empty(t, cc.Snippets)
}

func TestSnippetsSplitProfile(t *testing.T) {
	kinds := map[string]int{}
	for _, sn := range loadAcme(t, "c").Snippets {
		kinds[sn.Kind]++
	}
	assert.Equal(t, 1, kinds[KindValueProp])
	assert.Equal(t, 2, kinds[KindDifferentiator])
	assert.Equal(t, 2, kinds[KindProofPoint])
	assert.Equal(t, 2, kinds[KindObjection])
	assert.Equal(t, 1, kinds[KindFAQ])
	assert.Equal(t, 1, kinds[KindPolicy])
	assert.Equal(t, 1, kinds[KindProduct])
	assert.Equal(t, 1, kinds[KindPricing])
}

func TestRankPricingObjection(t *testing.T) {
	snippets := loadAcme(t, "c").Snippets
	got := Rank(snippets, Query{Text: "honestly this feels expensive for our team", Objection: "pricing"})
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), DefaultSnippetLimit)
	assert.Equal(t, KindObjection, got[0].Kind)
	assert.Equal(t, "pricing", got[0].Tag)

	var sawPricing bool
	for _, sn := range got {
		if sn.Kind == KindPricing {
			sawPricing = true
		}
	}
	assert.True(t, sawPricing, "pricing snippet should be retrieved")
}

func TestRankSynonymExpansion(t *testing.T) {
	snippets := []Snippet{
		mustSnippet(KindCompany, "Offices in Austin and Lisbon."),
		mustSnippet(KindFAQ, "Typical payback is under a quarter, strong return on spend."),
	}
	got := Rank(snippets, Query{Text: "what kind of roi do people see"})
	require.Len(t, got, 1)
	assert.Equal(t, KindFAQ, got[0].Kind)
}

func TestRankFallsBackToSafeSubset(t *testing.T) {
	snippets := loadAcme(t, "c").Snippets
	got := Rank(snippets, Query{Text: "zzz qqq"})
	require.NotEmpty(t, got)
	for _, sn := range got {
		assert.Contains(t, []string{KindProofPoint, KindDifferentiator, KindValueProp}, sn.Kind)
	}
}

func TestRankProofRequestRaisesLimit(t *testing.T) {
	var snippets []Snippet
	for i := 0; i < 20; i++ {
		snippets = append(snippets, mustSnippet(KindProofPoint, "customer story about onboarding speed"))
	}
	text := "can you share an example of onboarding"
	require.True(t, IsProofRequest(text))
	assert.Len(t, Rank(snippets, Query{Text: text, WantProof: true}), ProofSnippetLimit)
	assert.Len(t, Rank(snippets, Query{Text: text}), DefaultSnippetLimit)
}

func TestRankHandBuiltSnippets(t *testing.T) {
	got := Rank([]Snippet{{Kind: KindCompany, Text: "We support HubSpot."}}, Query{Text: "hubspot"})
	assert.Len(t, got, 1)
}

func mustSnippet(kind, text string) Snippet {
	sn, ok := newSnippet(kind, "", text)
	if !ok {
		panic("empty snippet")
	}
	return sn
}
