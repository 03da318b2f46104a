package knowledge

import (
	"fmt"
	"strings"

	"github.com/ent0n29/callcoach/internal/playbook"
	"github.com/ent0n29/callcoach/internal/textnorm"
)

// Profile is the company knowledge a rep can lean on during a call.
type Profile struct {
	Company          string            `toml:"company"`
	ValueProposition string            `toml:"value_proposition"`
	Facts            []string          `toml:"facts"`
	Differentiators  []string          `toml:"differentiators"`
	ProofPoints      []string          `toml:"proof_points"`
	Objections       map[string]string `toml:"objections"`
	FAQ              []FAQ             `toml:"faq"`
	DoNotSay         []string          `toml:"do_not_say"`
	Products         []Product         `toml:"products"`
}

type FAQ struct {
	Question string `toml:"question"`
	Answer   string `toml:"answer"`
}

type Product struct {
	Name     string   `toml:"name"`
	Summary  string   `toml:"summary"`
	Pricing  string   `toml:"pricing"`
	Features []string `toml:"features"`
}

// Snippet kinds.
const (
	KindCompany        = "company"
	KindValueProp      = "value_prop"
	KindDifferentiator = "differentiator"
	KindProofPoint     = "proof_point"
	KindObjection      = "objection"
	KindFAQ            = "faq"
	KindPolicy         = "policy"
	KindProduct        = "product"
	KindPricing        = "pricing"
)

// Snippet is a short, independently scored piece of knowledge.
type Snippet struct {
	Kind string `json:"kind"`
	// Tag carries the objection category for objection plays.
	Tag  string `json:"tag,omitempty"`
	Text string `json:"text"`

	tokens map[string]struct{}
}

func newSnippet(kind, tag, text string) (Snippet, bool) {
	text = textnorm.CollapseWhitespace(text)
	if text == "" {
		return Snippet{}, false
	}
	toks := textnorm.ContentTokens(text)
	set := make(map[string]struct{}, len(toks)+1)
	for _, tok := range toks {
		set[tok] = struct{}{}
	}
	if tag != "" {
		set[tag] = struct{}{}
	}
	return Snippet{Kind: kind, Tag: tag, Text: text, tokens: set}, true
}

// Snippets splits the profile into retrieval units.
func (p Profile) Snippets() []Snippet {
	var out []Snippet
	add := func(kind, tag, text string) {
		if sn, ok := newSnippet(kind, tag, text); ok {
			out = append(out, sn)
		}
	}
	if p.ValueProposition != "" {
		add(KindValueProp, "", p.ValueProposition)
	}
	for _, fact := range p.Facts {
		add(KindCompany, "", fact)
	}
	for _, d := range p.Differentiators {
		add(KindDifferentiator, "", d)
	}
	for _, proof := range p.ProofPoints {
		add(KindProofPoint, "", proof)
	}
	for _, category := range sortedKeys(p.Objections) {
		add(KindObjection, strings.ToLower(category), p.Objections[category])
	}
	for _, f := range p.FAQ {
		add(KindFAQ, "", strings.TrimSpace(f.Question+" "+f.Answer))
	}
	for _, rule := range p.DoNotSay {
		add(KindPolicy, "", "Do not say: "+rule)
	}
	for _, prod := range p.Products {
		summary := prod.Summary
		if len(prod.Features) > 0 {
			summary += " Features: " + strings.Join(prod.Features, ", ") + "."
		}
		add(KindProduct, "", fmt.Sprintf("%s: %s", prod.Name, summary))
		if prod.Pricing != "" {
			add(KindPricing, "pricing", fmt.Sprintf("%s pricing: %s", prod.Name, prod.Pricing))
		}
	}
	return out
}

// CallContext is the per-call knowledge snapshot. It is swapped whole on
// refresh and read-only in between.
type CallContext struct {
	Profile      Profile
	Stages       []playbook.Stage
	PracticeMode bool
	Snippets     []Snippet
	// Defaulted is true when no profile or playbook was found.
	Defaulted bool
}

// NewCallContext derives snippets and fills in default stages.
func NewCallContext(profile Profile, stages []playbook.Stage, practice bool) CallContext {
	defaulted := false
	stages = playbook.NormalizeStages(stages)
	if len(stages) == 0 {
		stages = playbook.DefaultStages()
		defaulted = true
	}
	return CallContext{
		Profile:      profile,
		Stages:       stages,
		PracticeMode: practice,
		Snippets:     profile.Snippets(),
		Defaulted:    defaulted,
	}
}

// DefaultCallContext is used when no knowledge source answers.
func DefaultCallContext() CallContext {
	cc := NewCallContext(Profile{}, nil, false)
	cc.Defaulted = true
	return cc
}
