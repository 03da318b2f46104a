package playbook

import (
	"regexp"
	"strings"
)

type checklistRule struct {
	labelHint string
	speaker   string // empty matches either party
	pattern   *regexp.Regexp
}

// Matched by substring against the lower-cased checklist label; first hit wins.
var checklistRules = []checklistRule{
	{labelHint: "introduce", speaker: SpeakerRep, pattern: regexp.MustCompile(`(?i)\b(my name is|this is \w+ (from|with|at)|i'm \w+ (from|with|at))\b`)},
	{labelHint: "confirm time", pattern: regexp.MustCompile(`(?i)\b(bad time|good time|got a (minute|sec|second)|quick minute|few minutes)\b`)},
	{labelHint: "reason for call", speaker: SpeakerRep, pattern: regexp.MustCompile(`(?i)\b(reason (i'm|i am) calling|calling (because|about|to)|reaching out (because|about|to))\b`)},
	{labelHint: "current process", speaker: SpeakerProspect, pattern: regexp.MustCompile(`(?i)\b(currently|right now we|today we|our process|we use|we're using|we do it)\b`)},
	{labelHint: "pain", speaker: SpeakerProspect, pattern: regexp.MustCompile(`(?i)\b(struggl\w*|frustrat\w*|problem|challenge|headache|takes (too|so) long|manual(ly)?|painful)\b`)},
	{labelHint: "decision maker", pattern: regexp.MustCompile(`(?i)\b(decision|sign(s)? off|approve\w*|my boss|budget holder|procurement|cfo|vp)\b`)},
	{labelHint: "connect value", speaker: SpeakerRep, pattern: regexp.MustCompile(`(?i)\b(which means|so that you|that would (help|save)|save you|cut (that|the))\b`)},
	{labelHint: "proof", speaker: SpeakerRep, pattern: regexp.MustCompile(`(?i)\b(case study|customers? like|for example|helped \w+|one of our (customers|clients))\b`)},
	{labelHint: "acknowledge", speaker: SpeakerRep, pattern: regexp.MustCompile(`(?i)\b(i understand|i hear you|fair (point|concern)|that makes sense|totally get)\b`)},
	{labelHint: "resolve objection", speaker: SpeakerProspect, pattern: regexp.MustCompile(`(?i)\b(that helps|makes sense|fair enough|that works|good to know|i see)\b`)},
	{labelHint: "propose next step", speaker: SpeakerRep, pattern: regexp.MustCompile(`(?i)\b(next step|demo|follow[- ]up|schedule|book (a|some)|set up a)\b`)},
	{labelHint: "confirm meeting", pattern: regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|tomorrow|next week|\d{1,2}(:\d{2})?\s?(am|pm)|calendar invite|send (an|the) invite)\b`)},
}

// MatchChecklist returns the labels satisfied by one turn.
func MatchChecklist(items []ChecklistItem, turn Turn) []string {
	var hits []string
	for _, item := range items {
		if item.Done {
			continue
		}
		rule, ok := ruleFor(item.Label)
		if !ok {
			continue
		}
		if rule.speaker != "" && rule.speaker != turn.Speaker {
			continue
		}
		if rule.pattern.MatchString(turn.Text) {
			hits = append(hits, item.Label)
		}
	}
	return hits
}

func ruleFor(label string) (checklistRule, bool) {
	lower := strings.ToLower(label)
	for _, rule := range checklistRules {
		if strings.Contains(lower, rule.labelHint) {
			return rule, true
		}
	}
	return checklistRule{}, false
}
