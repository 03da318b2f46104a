package coach

import (
	"regexp"
	"strings"
)

// Objection categories.
const (
	ObjectionPricing     = "pricing"
	ObjectionTiming      = "timing"
	ObjectionCompetitor  = "competitor"
	ObjectionAuthority   = "authority"
	ObjectionNeed        = "need"
	ObjectionInfoRequest = "info_request"
	ObjectionOther       = "other"
)

// Prospect intents.
const (
	IntentAskingInfo          = "asking_info"
	IntentPushingBack         = "pushing_back"
	IntentRequestingNextSteps = "requesting_next_steps"
	IntentSoftInterest        = "soft_interest"
	IntentOther               = "other"
)

type patternRule struct {
	label   string
	pattern *regexp.Regexp
}

// Checked in order; the first match wins.
var objectionRules = []patternRule{
	{ObjectionInfoRequest, regexp.MustCompile(`(?i)\b(send (me|us|over) (some |more )?(info|information|details|a deck|an email|something)|email me|just send|more information|do you have (a|any) (deck|brochure|one[- ]pager))\b`)},
	{ObjectionAuthority, regexp.MustCompile(`(?i)\b((my|our) (boss|manager|vp|cfo|ceo|director|team lead|leadership)|not my (call|decision)|need to (check|run it by|talk to|ask)|sign[- ]off|approval|decision maker|procurement|legal)\b`)},
	{ObjectionCompetitor, regexp.MustCompile(`(?i)\b(already (use|using|have|work with)|happy with (our|what we)|current (vendor|provider|tool|solution)|under contract|locked in|competitor|switching costs?)\b`)},
	{ObjectionTiming, regexp.MustCompile(`(?i)\b(not (the )?right time|bad time|too busy|next (quarter|year)|call (me )?back|not now|end of (the )?(quarter|year)|in a few months|timing)\b`)},
	{ObjectionPricing, regexp.MustCompile(`(?i)\b(expensive|price|pricing|cost|costs|budget|afford|cheaper|discount|too much|how much)\b`)},
	{ObjectionNeed, regexp.MustCompile(`(?i)\b(don'?t need|do not need|not interested|no need|not a priority|we'?re fine|we are fine|doesn'?t apply|not relevant|works fine)\b`)},
}

var (
	nextStepsPattern    = regexp.MustCompile(`(?i)\b(next steps?|send (me |us )?(the|a) (contract|proposal|invite)|set up (a|the) (call|demo|meeting)|schedule|book (a|the)|trial|pilot|sign up|get started|what do we need to do)\b`)
	pushBackPattern     = regexp.MustCompile(`(?i)\b(not sure|i don'?t think|i doubt|skeptical|not convinced|that won'?t work|sounds like a lot)\b`)
	questionLeadPattern = regexp.MustCompile(`(?i)^(how|what|why|when|where|who|which|can|could|do|does|is|are|will|would)\b`)
	softInterestPattern = regexp.MustCompile(`(?i)\b(interesting|sounds (good|great|interesting)|tell me more|i like|that'?s cool|makes sense|could work|curious)\b`)

	moneyPattern = regexp.MustCompile(`(?i)(\$\s?\d[\d,]*(\.\d+)?\s?(k|m|million|thousand)?\b|\b\d[\d,]*\s?(dollars|usd|bucks)\b)`)
	timePattern  = regexp.MustCompile(`(?i)\b(today|tomorrow|next (week|month|quarter|year)|this (week|month|quarter|year)|q[1-4]|monday|tuesday|wednesday|thursday|friday|january|february|march|april|may|june|july|august|september|october|november|december|end of (the )?(month|quarter|year)|\d+\s?(days|weeks|months))\b`)
	toolPattern  = regexp.MustCompile(`(?i)\b(salesforce|hubspot|gong|chorus|outreach|salesloft|zoominfo|apollo|pipedrive|zoho|dynamics|excel|spreadsheets?|slack|zendesk|intercom)\b`)
	rolePattern  = regexp.MustCompile(`(?i)\b(ceo|cfo|cto|coo|cro|vp( of \w+)?|director|manager|head of \w+|procurement|legal|founder|owner)\b`)
)

// Slots is the deterministic read of one settled utterance.
type Slots struct {
	Utterance string
	Objection string
	Intent    string
	Money     []string
	Times     []string
	Tools     []string
	Roles     []string
}

func (s Slots) HasObjection() bool {
	return s.Objection != "" && s.Objection != ObjectionOther
}

func extractSlots(utterance string) Slots {
	utterance = strings.TrimSpace(utterance)
	s := Slots{
		Utterance: utterance,
		Objection: classifyObjection(utterance),
		Money:     uniqueMatches(moneyPattern, utterance),
		Times:     uniqueMatches(timePattern, utterance),
		Tools:     uniqueMatches(toolPattern, utterance),
		Roles:     uniqueMatches(rolePattern, utterance),
	}
	s.Intent = classifyIntent(utterance, s.Objection)
	return s
}

func classifyObjection(text string) string {
	if strings.TrimSpace(text) == "" {
		return ObjectionOther
	}
	for _, rule := range objectionRules {
		if rule.pattern.MatchString(text) {
			return rule.label
		}
	}
	return ObjectionOther
}

func classifyIntent(text, objection string) string {
	switch {
	case strings.TrimSpace(text) == "":
		return IntentOther
	case nextStepsPattern.MatchString(text):
		return IntentRequestingNextSteps
	case objection != ObjectionOther && objection != ObjectionInfoRequest, pushBackPattern.MatchString(text):
		return IntentPushingBack
	case objection == ObjectionInfoRequest, strings.Contains(text, "?"), questionLeadPattern.MatchString(text):
		return IntentAskingInfo
	case softInterestPattern.MatchString(text):
		return IntentSoftInterest
	default:
		return IntentOther
	}
}

func uniqueMatches(re *regexp.Regexp, text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range re.FindAllString(text, -1) {
		m = strings.TrimSpace(m)
		key := strings.ToLower(m)
		if m == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}
