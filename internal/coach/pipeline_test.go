package coach

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/callcoach/internal/logging"
	"github.com/ent0n29/callcoach/internal/memory"
	"github.com/ent0n29/callcoach/internal/playbook"
	"github.com/ent0n29/callcoach/internal/textnorm"
)

func discoveryInput(utterance string) tickInput {
	stage := playbook.DefaultStages()[1]
	return tickInput{
		reason: ReasonUtterance,
		seq:    1,
		stage:  &stage,
		slots:  extractSlots(utterance),
		logger: logging.Discard(),
	}
}

func replies(texts ...string) func(int, string) string {
	return func(call int, _ string) string {
		if call > len(texts) {
			return texts[len(texts)-1]
		}
		return texts[call-1]
	}
}

func TestParseModelOutput(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		status  parseStatus
		primary string
		sugg    int
	}{
		{
			name:    "plain",
			text:    `{"primary": "What would fixing that be worth?", "suggestions": ["a", "b"]}`,
			status:  parseOK,
			primary: "What would fixing that be worth?",
			sugg:    2,
		},
		{
			name:    "fenced with loose keys",
			text:    "```json\n{\"Primary\": \"Who signs off on tools like this?\", \"suggestions\": \"single line\", \"checklist-done\": [\"Identify pain\"]}\n```",
			status:  parseOK,
			primary: "Who signs off on tools like this?",
			sugg:    1,
		},
		{
			name:    "bad optional field is dropped",
			text:    `{"primary": "What happens after the trial?", "suggestions": [], "cards": "oops"}`,
			status:  parseOK,
			primary: "What happens after the trial?",
		},
		{name: "missing primary", text: `{"suggestions": ["x"]}`, status: parseMissingFields},
		{name: "empty primary", text: `{"primary": "", "suggestions": []}`, status: parseMissingFields},
		{name: "not json", text: "Sure! Ask them about budget.", status: parseMalformed},
		{name: "truncated", text: `{"primary": "What would`, status: parseMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseModelOutput(tc.text)
			require.Equal(t, tc.status, got.status, "err: %v", got.err)
			if tc.status != parseOK {
				assert.Error(t, got.err)
				return
			}
			assert.Equal(t, tc.primary, got.out.Primary)
			assert.Len(t, got.out.Suggestions, tc.sugg)
		})
	}
}

func TestParseModelOutputOptionalFields(t *testing.T) {
	got := parseModelOutput(`{"primary": "Does Tuesday work for a demo?", "suggestions": [], "checklist_done": ["Propose next step"], "stage": "Next Step", "cards": [{"title": "Proof", "body": "Northwind saved 10 hours a week."}], "value_props_used": ["saves time"]}`)
	require.Equal(t, parseOK, got.status)
	assert.Equal(t, []string{"Propose next step"}, got.out.ChecklistDone)
	assert.Equal(t, "Next Step", got.out.Stage)
	require.Len(t, got.out.Cards, 1)
	assert.Equal(t, "Proof", got.out.Cards[0].Title)
	assert.Equal(t, []string{"saves time"}, got.out.ValuePropsUsed)
}

func TestExtractSlots(t *testing.T) {
	cases := []struct {
		text      string
		objection string
		intent    string
	}{
		{"That's way too expensive for us", ObjectionPricing, IntentPushingBack},
		{"I need to run it by my CFO before we sign off", ObjectionAuthority, IntentPushingBack},
		{"We already use Salesforce for this", ObjectionCompetitor, IntentPushingBack},
		{"Can you just send me some info?", ObjectionInfoRequest, IntentAskingInfo},
		{"What are the next steps to get started?", ObjectionOther, IntentRequestingNextSteps},
		{"How long does onboarding usually take?", ObjectionOther, IntentAskingInfo},
		{"That sounds interesting", ObjectionOther, IntentSoftInterest},
		{"We have forty reps", ObjectionOther, IntentOther},
	}
	for _, tc := range cases {
		s := extractSlots(tc.text)
		assert.Equal(t, tc.objection, s.Objection, tc.text)
		assert.Equal(t, tc.intent, s.Intent, tc.text)
	}
}

func TestExtractSlotsEntities(t *testing.T) {
	s := extractSlots("We budgeted $40,000 for next quarter and our VP of Sales still lives in Excel")
	assert.Equal(t, []string{"$40,000"}, s.Money)
	assert.Contains(t, s.Times, "next quarter")
	assert.Equal(t, []string{"Excel"}, s.Tools)
	assert.Equal(t, []string{"VP of Sales"}, s.Roles)
}

func TestIsComplete(t *testing.T) {
	cases := map[string]bool{
		"What would that save you each month?":         true,
		"Ask them about the timeline.":                 true,
		"We integrate with tools such as":              false,
		"We help teams, including.":                    false,
		"Ask about their timeline":                     false,
		`He said "wait.`:                               false,
		"Tell me more about (the rollout.":             false,
		"Would it help to loop in your CFO?":           true,
		"You mentioned Salesforce, how is that going?": true,
	}
	for text, want := range cases {
		assert.Equal(t, want, isComplete(text), text)
	}
}

func TestIsGeneric(t *testing.T) {
	cases := map[string]bool{
		"I understand your concern.": true,
		"That makes sense.":          true,
		"Great question!":            true,
		"Totally, I hear you.":       true,
		"That makes sense, what did the last rollout cost your team in lost hours?": false,
		"What does onboarding look like for new reps?":                              false,
	}
	for text, want := range cases {
		assert.Equal(t, want, isGeneric(text), text)
	}
}

func TestSelectPrimaryAvoidsRecent(t *testing.T) {
	recent := []string{"What is your budget for this quarter?"}
	got, collided := selectPrimary([]string{"What is the budget for this quarter?", "How do you handle onboarding today?"}, recent)
	assert.Equal(t, "How do you handle onboarding today?", got)
	assert.False(t, collided)
}

func TestSelectPrimaryParaphrasesWhenEverythingCollides(t *testing.T) {
	line := "What is your budget for this quarter?"
	got, collided := selectPrimary([]string{line}, []string{line})
	assert.True(t, collided)
	assert.NotEqual(t, line, got)
	assert.Less(t, textnorm.Similarity(got, line), repetitionThreshold)
}

func TestConsecutivePrimariesNeverRepeat(t *testing.T) {
	in := discoveryInput("we track pipeline in spreadsheets and it is a mess")
	var mem memory.CoachMemory
	var prev string
	for i := 0; i < 8; i++ {
		in.memory = mem.Clone()
		res := stubResult(in, fallbackDisabled)
		require.NotEmpty(t, res.primary)
		if prev != "" {
			assert.Less(t, textnorm.Similarity(prev, res.primary), repetitionThreshold, "%q then %q", prev, res.primary)
		}
		rememberEmission(&mem, res, in.slots)
		prev = res.primary
	}
	assert.Len(t, mem.RecentSuggestions, recentSuggestionLimit)
}

func TestAppendBounded(t *testing.T) {
	got := appendBounded([]string{"a", "b"}, 3, "A", "c", "d", " ")
	assert.Equal(t, []string{"A", "c", "d"}, got)
}

func TestFillSuggestionsPadsToCount(t *testing.T) {
	for n := 1; n <= maxAlternatives; n++ {
		got := fillSuggestions("", nil, nil, nil, n)
		require.Len(t, got, n)
		for _, line := range got {
			assert.True(t, usable(line), line)
		}
	}
}

func TestGenerateRepairsSchema(t *testing.T) {
	fc := &fakeCompleter{reply: replies(
		`{"suggestions": []}`,
		`{"primary": "You said spreadsheets are a mess, which report breaks first?", "suggestions": []}`,
	)}
	e := New(testConfig(), Deps{Completer: fc, Logger: logging.Discard()})
	defer e.Close()

	res := e.generate(context.Background(), discoveryInput("we track pipeline in spreadsheets and it is a mess"))
	assert.Equal(t, SourceModel, res.source)
	assert.Equal(t, "You said spreadsheets are a mess, which report breaks first?", res.primary)
	require.Equal(t, 2, fc.calls())
	assert.Contains(t, fc.prompt(1), schemaRetryInstruction)
}

func TestGenerateFallsBackOnMalformedOutput(t *testing.T) {
	fc := &fakeCompleter{reply: replies("no json here")}
	e := New(testConfig(), Deps{Completer: fc, Logger: logging.Discard()})
	defer e.Close()

	res := e.generate(context.Background(), discoveryInput("we track pipeline in spreadsheets"))
	assert.Equal(t, SourceFallback, res.source)
	assert.Equal(t, fallbackMalformed, res.fallbackKind)
	assert.True(t, usable(res.primary), res.primary)
	assert.Equal(t, 2, fc.calls())
}

func TestGenerateFallsBackOnBackendError(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("connection refused")}
	e := New(testConfig(), Deps{Completer: fc, Logger: logging.Discard()})
	defer e.Close()

	res := e.generate(context.Background(), discoveryInput("is there a discount for annual plans?"))
	assert.Equal(t, SourceFallback, res.source)
	assert.Equal(t, fallbackBackendError, res.fallbackKind)
	assert.True(t, usable(res.primary), res.primary)
	assert.Len(t, res.suggestions, defaultSuggestionCount)
	assert.Equal(t, 1, fc.calls())
}

func TestGenerateReplacesIncompletePrimary(t *testing.T) {
	fc := &fakeCompleter{reply: replies(`{"primary": "We work with teams like yours, such as", "suggestions": []}`)}
	e := New(testConfig(), Deps{Completer: fc, Logger: logging.Discard()})
	defer e.Close()

	res := e.generate(context.Background(), discoveryInput("we track pipeline in spreadsheets"))
	assert.Equal(t, fallbackIncomplete, res.fallbackKind)
	assert.NotContains(t, res.primary, "such as")
	assert.True(t, isComplete(res.primary), res.primary)
	require.Equal(t, 2, fc.calls())
	assert.Contains(t, fc.prompt(1), completenessRetryInstruction)
}

func TestGenerateRetriesGenericPrimary(t *testing.T) {
	fc := &fakeCompleter{reply: replies(
		`{"primary": "I understand your concern.", "suggestions": []}`,
		`{"primary": "You said onboarding took six weeks, what slowed it down the most?", "suggestions": []}`,
	)}
	e := New(testConfig(), Deps{Completer: fc, Logger: logging.Discard()})
	defer e.Close()

	res := e.generate(context.Background(), discoveryInput("onboarding took six weeks last time"))
	assert.Empty(t, res.fallbackKind)
	assert.Equal(t, "You said onboarding took six weeks, what slowed it down the most?", res.primary)
	require.Equal(t, 2, fc.calls())
	assert.Contains(t, fc.prompt(1), specificityRetryInstruction)
}

func TestBuildUserPromptRequiresStage(t *testing.T) {
	_, err := buildUserPrompt(promptContext{}, "")
	assert.ErrorIs(t, err, errNoStage)

	in := discoveryInput("we use HubSpot today")
	in.memory.RecentSuggestions = []string{"How is HubSpot working for you?"}
	prompt, err := buildUserPrompt(in.promptContext(), "")
	require.NoError(t, err)
	assert.Contains(t, prompt, "CURRENT STAGE: Discovery")
	assert.Contains(t, prompt, "tools=HubSpot")
	assert.Contains(t, prompt, "How is HubSpot working for you?")
	assert.True(t, strings.Contains(prompt, `LAST PROSPECT UTTERANCE: "we use HubSpot today"`))
}
