package playbook

import "strings"

// Vote is the hysteresis counter for a proposed forward stage.
type Vote struct {
	ForIndex int
	Count    int
}

// VotesToAdvance is how many consecutive proposals a forward stage needs.
const VotesToAdvance = 2

// Advance trigger reasons.
const (
	ReasonVote              = "vote"
	ReasonChecklistComplete = "checklist_complete"
)

// Transition describes one stage advance.
type Transition struct {
	From   int
	To     int
	Stage  Stage
	Reason string
}

// Tracker holds the stage index, vote and checklist of one call. The index
// never decreases and moves by one per satisfied trigger. Not safe for
// concurrent use; the owning session serializes access.
type Tracker struct {
	stages    []Stage
	index     int
	vote      Vote
	checklist []ChecklistItem
}

func NewTracker(stages []Stage) *Tracker {
	stages = NormalizeStages(stages)
	if len(stages) == 0 {
		stages = DefaultStages()
	}
	t := &Tracker{stages: stages, vote: Vote{ForIndex: -1}}
	t.resetChecklist()
	return t
}

func (t *Tracker) Index() int { return t.index }

func (t *Tracker) Vote() Vote { return t.vote }

func (t *Tracker) Current() Stage { return t.stages[t.index] }

func (t *Tracker) Stages() []Stage {
	out := make([]Stage, len(t.stages))
	copy(out, t.stages)
	return out
}

func (t *Tracker) Checklist() []ChecklistItem {
	out := make([]ChecklistItem, len(t.checklist))
	copy(out, t.checklist)
	return out
}

// ReplaceStages swaps in a reloaded playbook. The swap is refused when the
// new list would not contain the current index, which keeps the stage
// monotonic across refreshes.
func (t *Tracker) ReplaceStages(stages []Stage) bool {
	stages = NormalizeStages(stages)
	if len(stages) == 0 || t.index >= len(stages) {
		return false
	}
	sameStage := strings.EqualFold(stages[t.index].Name, t.stages[t.index].Name)
	t.stages = stages
	if !sameStage {
		t.resetChecklist()
		return true
	}
	done := make(map[string]bool, len(t.checklist))
	for _, item := range t.checklist {
		done[strings.ToLower(item.Label)] = item.Done
	}
	t.resetChecklist()
	for i := range t.checklist {
		t.checklist[i].Done = done[strings.ToLower(t.checklist[i].Label)]
	}
	return true
}

// ProposeStage registers one vote for a stage by name. Unknown names are
// ignored. A vote for the current or an earlier stage clears the streak.
func (t *Tracker) ProposeStage(name string) (Transition, bool) {
	idx := IndexOf(t.stages, name)
	if idx < 0 {
		return Transition{}, false
	}
	if idx <= t.index {
		t.vote.Count = 0
		return Transition{}, false
	}
	if t.vote.ForIndex == idx && t.vote.Count > 0 {
		t.vote.Count++
	} else {
		t.vote = Vote{ForIndex: idx, Count: 1}
	}
	if t.vote.Count < VotesToAdvance {
		return Transition{}, false
	}
	return t.advance(ReasonVote)
}

// MarkDone marks the named checklist items done and returns the ones that
// changed. Items are never un-marked.
func (t *Tracker) MarkDone(labels ...string) []string {
	var changed []string
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		for i := range t.checklist {
			if t.checklist[i].Done || !strings.EqualFold(t.checklist[i].Label, label) {
				continue
			}
			t.checklist[i].Done = true
			changed = append(changed, t.checklist[i].Label)
		}
	}
	return changed
}

// ScanTurn applies the deterministic checklist patterns to one turn.
func (t *Tracker) ScanTurn(turn Turn) []string {
	return t.MarkDone(MatchChecklist(t.checklist, turn)...)
}

func (t *Tracker) ChecklistComplete() bool {
	if len(t.checklist) == 0 {
		return false
	}
	for _, item := range t.checklist {
		if !item.Done {
			return false
		}
	}
	return true
}

// AdvanceIfComplete moves one stage forward when every checklist item of the
// current stage is done.
func (t *Tracker) AdvanceIfComplete() (Transition, bool) {
	if !t.ChecklistComplete() {
		return Transition{}, false
	}
	return t.advance(ReasonChecklistComplete)
}

func (t *Tracker) advance(reason string) (Transition, bool) {
	if t.index >= len(t.stages)-1 {
		t.vote = Vote{ForIndex: -1}
		return Transition{}, false
	}
	from := t.index
	t.index++
	t.vote = Vote{ForIndex: -1}
	t.resetChecklist()
	return Transition{From: from, To: t.index, Stage: t.stages[t.index], Reason: reason}, true
}

func (t *Tracker) resetChecklist() {
	labels := t.stages[t.index].Checklist
	t.checklist = make([]ChecklistItem, 0, len(labels))
	for _, label := range labels {
		t.checklist = append(t.checklist, ChecklistItem{Label: label})
	}
}
