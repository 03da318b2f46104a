package playbook

import "strings"

// Speakers on a sales call. The rep is the operator being coached.
const (
	SpeakerRep      = "rep"
	SpeakerProspect = "prospect"
)

// Stage is one step of a call playbook. Values are immutable once loaded.
type Stage struct {
	Name      string   `toml:"name" json:"name"`
	Goals     string   `toml:"goals" json:"goals"`
	Checklist []string `toml:"checklist" json:"checklist"`
}

// ChecklistItem is one goal of the current stage.
type ChecklistItem struct {
	Label string `json:"label"`
	Done  bool   `json:"done"`
}

// Turn is the slice of a transcript turn the heuristics look at.
type Turn struct {
	Speaker string
	Text    string
}

// DefaultStages is used when no playbook is configured.
func DefaultStages() []Stage {
	return []Stage{
		{
			Name:      "Opening",
			Goals:     "Earn the next thirty seconds and set an agenda.",
			Checklist: []string{"Introduce yourself", "Confirm time", "State reason for call"},
		},
		{
			Name:      "Discovery",
			Goals:     "Learn how they work today and what hurts.",
			Checklist: []string{"Understand current process", "Identify pain", "Identify decision maker"},
		},
		{
			Name:      "Value Framing",
			Goals:     "Tie the product to the pain they described.",
			Checklist: []string{"Connect value to pain", "Share proof point"},
		},
		{
			Name:      "Objection Handling",
			Goals:     "Surface and resolve concerns without arguing.",
			Checklist: []string{"Acknowledge concern", "Resolve objection"},
		},
		{
			Name:      "Next Step",
			Goals:     "Leave with a concrete, dated commitment.",
			Checklist: []string{"Propose next step", "Confirm meeting time"},
		},
	}
}

// NormalizeStages drops unnamed stages and trims labels. An empty result means
// the caller should fall back to DefaultStages.
func NormalizeStages(in []Stage) []Stage {
	out := make([]Stage, 0, len(in))
	for _, st := range in {
		name := strings.TrimSpace(st.Name)
		if name == "" {
			continue
		}
		items := make([]string, 0, len(st.Checklist))
		for _, label := range st.Checklist {
			if label = strings.TrimSpace(label); label != "" {
				items = append(items, label)
			}
		}
		out = append(out, Stage{Name: name, Goals: strings.TrimSpace(st.Goals), Checklist: items})
	}
	return out
}

// IndexOf finds a stage by case-insensitive name, -1 if absent.
func IndexOf(stages []Stage, name string) int {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return -1
	}
	for i, st := range stages {
		if strings.ToLower(st.Name) == name {
			return i
		}
	}
	return -1
}
