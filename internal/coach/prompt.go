package coach

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/callcoach/internal/completion"
	"github.com/ent0n29/callcoach/internal/knowledge"
	"github.com/ent0n29/callcoach/internal/memory"
	"github.com/ent0n29/callcoach/internal/playbook"
)

// errNoStage means a prompt was assembled for a session without a stage.
// That is a broken invariant, not a runtime condition.
var errNoStage = errors.New("prompt assembled without a stage")

const systemPrompt = `You are a real-time sales coach listening to a live phone call between a sales rep and a prospect.
Tell the rep exactly what to say next. Lines must be short, spoken, specific to what the prospect just said, and complete sentences.
Never invent facts that are not in KNOWLEDGE. Never repeat a line listed under COACH MEMORY.
Answer with one JSON object and nothing else, using these keys:
"primary" (string, the single best next line),
"suggestions" (array of 3 alternative lines),
"nudges" (array of short coaching tips),
"cards" (array of {"title","body"} facts worth having on screen),
"objection" (pricing|timing|competitor|authority|need|info_request|other),
"sentiment" (positive|neutral|negative),
"stage" (the stage name the call is in now),
"checklist_done" (array of checklist labels completed in this exchange),
"moment" (objection|buying_signal|question|stage_change or empty),
"move_type" (question|objection_response|value_statement|close),
"value_props_used" and "differentiators_used" (arrays of knowledge lines your primary relies on).`

// Retry instructions appended to the user prompt.
const (
	schemaRetryInstruction       = "Your previous answer was not valid. Return strict JSON with exactly the keys listed, and non-empty \"primary\" and \"suggestions\"."
	completenessRetryInstruction = "Your previous primary line was cut off. Finish the sentence: every line must be a complete sentence ending in . ? or !"
	specificityRetryInstruction  = "Your previous primary line was generic filler. Reference the prospect's exact words from LAST PROSPECT UTTERANCE and say something concrete."
)

// promptContext is the snapshot a prompt is built from.
type promptContext struct {
	stage      *playbook.Stage
	checklist  []playbook.ChecklistItem
	slots      Slots
	snippets   []knowledge.Snippet
	memory     memory.CoachMemory
	transcript []transcriptTurn
	company    string
}

func buildUserPrompt(pc promptContext, retry string) (string, error) {
	if pc.stage == nil || strings.TrimSpace(pc.stage.Name) == "" {
		return "", errNoStage
	}

	var b strings.Builder
	if pc.company != "" {
		fmt.Fprintf(&b, "COMPANY: %s\n", pc.company)
	}
	fmt.Fprintf(&b, "%s %s\n", completion.StageMarker, pc.stage.Name)
	if pc.stage.Goals != "" {
		fmt.Fprintf(&b, "STAGE GOALS: %s\n", pc.stage.Goals)
	}

	var open []string
	for _, item := range pc.checklist {
		if !item.Done {
			open = append(open, item.Label)
		}
	}
	if len(open) > 0 {
		fmt.Fprintf(&b, "OPEN CHECKLIST: %s\n", strings.Join(open, "; "))
	}

	fmt.Fprintf(&b, "OBJECTION: %s\nINTENT: %s\n", pc.slots.Objection, pc.slots.Intent)
	if entities := describeEntities(pc.slots); entities != "" {
		fmt.Fprintf(&b, "ENTITIES: %s\n", entities)
	}

	if len(pc.snippets) > 0 {
		b.WriteString("KNOWLEDGE:\n")
		for _, sn := range pc.snippets {
			fmt.Fprintf(&b, "- [%s] %s\n", sn.Kind, sn.Text)
		}
	}

	if used := describeMemory(pc.memory); used != "" {
		b.WriteString("COACH MEMORY (already used, do not repeat):\n")
		b.WriteString(used)
	}

	if len(pc.transcript) > 0 {
		b.WriteString("RECENT TRANSCRIPT:\n")
		for _, turn := range pc.transcript {
			fmt.Fprintf(&b, "%s: %s\n", turn.Speaker, turn.Text)
		}
	}

	fmt.Fprintf(&b, "%s %q\n", completion.UtteranceMarker, pc.slots.Utterance)
	if retry != "" {
		b.WriteString("\n")
		b.WriteString(retry)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func describeEntities(s Slots) string {
	var parts []string
	add := func(label string, vals []string) {
		if len(vals) > 0 {
			parts = append(parts, label+"="+strings.Join(vals, ", "))
		}
	}
	add("money", s.Money)
	add("time", s.Times)
	add("tools", s.Tools)
	add("roles", s.Roles)
	return strings.Join(parts, "; ")
}

func describeMemory(m memory.CoachMemory) string {
	var b strings.Builder
	add := func(label string, vals []string) {
		if len(vals) > 0 {
			fmt.Fprintf(&b, "%s: %s\n", label, strings.Join(vals, " | "))
		}
	}
	add("recent lines", m.RecentSuggestions)
	add("value props", m.ValueProps)
	add("differentiators", m.Differentiators)
	add("objection responses", m.ObjectionResponses)
	add("questions asked", m.Questions)
	if m.LastMoveType != "" {
		fmt.Fprintf(&b, "last move: %s\n", m.LastMoveType)
	}
	return b.String()
}
