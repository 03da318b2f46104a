package coach

import (
	"fmt"
	"strings"

	"github.com/ent0n29/callcoach/internal/knowledge"
	"github.com/ent0n29/callcoach/internal/protocol"
)

const quoteMaxWords = 8

// slotLine is the deterministic reply to an utterance, driven by its
// objection, intent and entities.
func slotLine(s Slots) string {
	switch s.Objection {
	case ObjectionPricing:
		if len(s.Money) > 0 {
			return fmt.Sprintf("You mentioned %s, how did you land on that number for this?", s.Money[0])
		}
		return "Before we talk price, what is the current process costing you each month in hours or missed deals?"
	case ObjectionTiming:
		if len(s.Times) > 0 {
			return fmt.Sprintf("Understood on timing, what needs to happen before %s for this to move up the list?", s.Times[0])
		}
		return "Fair on timing, what would need to be true for this to be a priority next quarter?"
	case ObjectionCompetitor:
		if len(s.Tools) > 0 {
			return fmt.Sprintf("What do you like most about %s, and what would you change if you could?", s.Tools[0])
		}
		return "What would you keep from your current setup, and what is still missing today?"
	case ObjectionAuthority:
		if len(s.Roles) > 0 {
			return fmt.Sprintf("What will your %s want to see before signing off on something like this?", s.Roles[0])
		}
		return "Who else should be part of this conversation, and what matters most to them?"
	case ObjectionNeed:
		return "Fair enough, how are you handling this today, and what would make it worth revisiting?"
	case ObjectionInfoRequest:
		return "Happy to send details, which part matters most so I send the right thing?"
	}
	switch s.Intent {
	case IntentRequestingNextSteps:
		if len(s.Times) > 0 {
			return fmt.Sprintf("Let's put time on the calendar for %s, who else should join us?", s.Times[0])
		}
		return "Let's lock it in, does Tuesday or Thursday work better for a 30 minute walkthrough?"
	case IntentSoftInterest:
		return "Glad that resonates, which part of this would matter most to your team?"
	case IntentAskingInfo:
		return "Happy to answer that, what prompted the question on your side?"
	}
	return ""
}

// quoteLine reflects the prospect's own words back as a question.
func quoteLine(utterance string) string {
	words := strings.Fields(strings.Trim(utterance, " .,!?;:\"'"))
	if len(words) == 0 {
		return ""
	}
	if len(words) > quoteMaxWords {
		words = words[len(words)-quoteMaxWords:]
	}
	clip := strings.ReplaceAll(strings.Join(words, " "), `"`, "")
	return fmt.Sprintf("You said \"%s\", can you tell me more about what that looks like day to day?", clip)
}

var stageLines = []struct {
	hints []string
	lines []string
}{
	{
		hints: []string{"open", "intro"},
		lines: []string{
			"Thanks for taking the call, is now still a good time for a few minutes?",
			"I'll keep this short, can I share why I reached out and you tell me if it's relevant?",
		},
	},
	{
		hints: []string{"discover", "qualif", "needs"},
		lines: []string{
			"Walk me through how your team handles this today, step by step?",
			"What happens when that process breaks down in a busy week?",
			"How are you measuring whether the current approach is working?",
		},
	},
	{
		hints: []string{"value", "solution", "fit", "pitch", "present", "demo"},
		lines: []string{
			"Based on what you shared, would cutting that manual work in half matter this quarter?",
			"If we could show that working with your own data, would that be worth a closer look?",
		},
	},
	{
		hints: []string{"objection"},
		lines: []string{
			"What would you need to see to feel confident this is worth the change?",
			"Setting budget aside for a moment, does the approach itself make sense for your team?",
		},
	},
	{
		hints: []string{"next", "close", "commit"},
		lines: []string{
			"What would a good next step look like on your side this week?",
			"Who else needs to see this before you can make a call, and when could we include them?",
		},
	},
}

// genericLines never depend on context and share few tokens with each other.
var genericLines = []string{
	"What would make the rest of this conversation most useful for you?",
	"What is the biggest priority for your team over the next ninety days?",
	"If you could fix one thing about your current workflow tomorrow, what would it be?",
	"How does your team decide when a new tool is worth the switch?",
	"What have you already tried to solve this, and how did it go?",
}

func stageFallbacks(stageName string) []string {
	lower := strings.ToLower(stageName)
	for _, group := range stageLines {
		for _, hint := range group.hints {
			if strings.Contains(lower, hint) {
				return group.lines
			}
		}
	}
	return nil
}

// fallbackCandidates orders every deterministic line for a turn, most
// specific first.
func fallbackCandidates(stageName string, s Slots) []string {
	var out []string
	if line := slotLine(s); line != "" {
		out = append(out, line)
	}
	if line := quoteLine(s.Utterance); line != "" {
		out = append(out, line)
	}
	out = append(out, stageFallbacks(stageName)...)
	out = append(out, genericLines...)
	return dedupeLines(out)
}

// fillSuggestions returns exactly n distinct usable lines, primary first.
func fillSuggestions(primary string, extra []string, pool []string, recent []string, n int) []string {
	if n <= 0 {
		n = 1
	}
	out := make([]string, 0, n)
	seen := make(map[string]bool)
	add := func(line string, checkRecent bool) {
		line = strings.TrimSpace(line)
		key := strings.ToLower(line)
		if len(out) >= n || line == "" || seen[key] || !usable(line) {
			return
		}
		if checkRecent && tooSimilar(line, recent) {
			return
		}
		for _, existing := range out {
			if tooSimilar(line, []string{existing}) {
				return
			}
		}
		seen[key] = true
		out = append(out, line)
	}
	add(primary, false)
	for _, line := range extra {
		add(line, true)
	}
	for _, line := range pool {
		add(line, true)
	}
	for _, line := range pool {
		add(line, false)
	}
	for _, line := range genericLines {
		add(line, false)
	}
	for i := 0; len(out) < n && i < len(genericLines)*len(paraphraseLeads); i++ {
		add(paraphrase(paraphraseLeads[i%len(paraphraseLeads)], genericLines[i/len(paraphraseLeads)]), false)
	}
	return out
}

func dedupeLines(lines []string) []string {
	seen := make(map[string]bool, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		key := strings.ToLower(strings.TrimSpace(line))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, line)
	}
	return out
}

var cardTitles = map[string]string{
	knowledge.KindValueProp:      "Value",
	knowledge.KindDifferentiator: "Differentiator",
	knowledge.KindProofPoint:     "Proof point",
	knowledge.KindObjection:      "Objection play",
	knowledge.KindFAQ:            "FAQ",
	knowledge.KindPolicy:         "Avoid",
	knowledge.KindProduct:        "Product",
	knowledge.KindPricing:        "Pricing",
	knowledge.KindCompany:        "Company",
}

const maxCards = 3

// snippetCards turns the best retrieved snippets into context cards.
func snippetCards(snippets []knowledge.Snippet) []protocol.Card {
	var cards []protocol.Card
	for _, sn := range snippets {
		if sn.Kind == knowledge.KindPolicy {
			continue
		}
		title := cardTitles[sn.Kind]
		if title == "" {
			title = "Note"
		}
		cards = append(cards, protocol.Card{Title: title, Body: sn.Text, Kind: sn.Kind})
		if len(cards) == maxCards {
			break
		}
	}
	return cards
}
