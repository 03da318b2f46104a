package playbook

import (
	"regexp"
	"strings"
)

type stageCue struct {
	aliases []string
	pattern *regexp.Regexp
}

// Ordered latest stage first so the furthest-along cue in a turn wins.
var stageCues = []stageCue{
	{
		aliases: []string{"next step", "close", "closing", "commit"},
		pattern: regexp.MustCompile(`(?i)\b(next steps?|book (a|the) (demo|call|meeting)|schedule|calendar|send (over|me) (the|a) (contract|proposal)|start (a|the) trial|sign (up|the))\b`),
	},
	{
		aliases: []string{"objection"},
		pattern: regexp.MustCompile(`(?i)\b(too expensive|not interested|no budget|already (use|have)|bad timing|not the right time|need to think|send me an email|not a priority)\b`),
	},
	{
		aliases: []string{"value", "solution", "fit", "pitch", "present", "demo"},
		pattern: regexp.MustCompile(`(?i)\b(which means|the benefit|we help|customers like you|return on|roi|what we do is|how it works)\b`),
	},
	{
		aliases: []string{"discover", "qualif", "needs"},
		pattern: regexp.MustCompile(`(?i)\b(tell me about|how do you (currently|handle|manage)|what does your|walk me through|what's your process|how many (people|reps|users))\b`),
	},
}

// HeuristicLookback bounds how many recent turns the keyword scan inspects.
const HeuristicLookback = 4

// ProposeStage scans the most recent turns, newest first, for keyword cues and
// names the stage they point at. ok is false when nothing matched a stage in
// this playbook.
func ProposeStage(stages []Stage, recent []Turn) (name string, ok bool) {
	start := len(recent) - HeuristicLookback
	if start < 0 {
		start = 0
	}
	for i := len(recent) - 1; i >= start; i-- {
		text := recent[i].Text
		for _, cue := range stageCues {
			if !cue.pattern.MatchString(text) {
				continue
			}
			if idx := stageForAliases(stages, cue.aliases); idx >= 0 {
				return stages[idx].Name, true
			}
		}
	}
	return "", false
}

func stageForAliases(stages []Stage, aliases []string) int {
	for i, st := range stages {
		lower := strings.ToLower(st.Name)
		for _, alias := range aliases {
			if strings.Contains(lower, alias) {
				return i
			}
		}
	}
	return -1
}
