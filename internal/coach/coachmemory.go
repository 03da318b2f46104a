package coach

import (
	"strings"

	"github.com/ent0n29/callcoach/internal/memory"
	"github.com/ent0n29/callcoach/internal/textnorm"
)

const (
	memoryCategoryLimit   = 40
	recentSuggestionLimit = 5
)

// Move types recorded in coach memory.
const (
	MoveQuestion          = "question"
	MoveObjectionResponse = "objection_response"
	MoveValueStatement    = "value_statement"
	MoveClose             = "close"
)

// appendBounded appends items, drops earlier duplicates so the newest copy
// wins, then evicts from the front down to limit.
func appendBounded(list []string, limit int, items ...string) []string {
	for _, item := range items {
		item = textnorm.CollapseWhitespace(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		kept := list[:0:0]
		for _, existing := range list {
			if strings.ToLower(existing) != key {
				kept = append(kept, existing)
			}
		}
		list = append(kept, item)
	}
	if len(list) > limit {
		list = append([]string(nil), list[len(list)-limit:]...)
	}
	return list
}

// rememberEmission records an emitted primary and whatever the model said it
// used.
func rememberEmission(mem *memory.CoachMemory, res tickResult, slots Slots) {
	mem.RecentSuggestions = appendBounded(mem.RecentSuggestions, recentSuggestionLimit, res.primary)
	mem.ValueProps = appendBounded(mem.ValueProps, memoryCategoryLimit, res.valueProps...)
	mem.Differentiators = appendBounded(mem.Differentiators, memoryCategoryLimit, res.differentiators...)
	if slots.HasObjection() {
		mem.ObjectionResponses = appendBounded(mem.ObjectionResponses, memoryCategoryLimit, res.primary)
	}
	if strings.HasSuffix(strings.TrimSpace(res.primary), "?") {
		mem.Questions = appendBounded(mem.Questions, memoryCategoryLimit, res.primary)
	}
	mem.LastMoveType = classifyMove(res.moveType, res.primary, slots)
}

func classifyMove(model, primary string, slots Slots) string {
	switch m := strings.ToLower(strings.TrimSpace(model)); m {
	case MoveQuestion, MoveObjectionResponse, MoveValueStatement, MoveClose:
		return m
	}
	switch {
	case slots.HasObjection():
		return MoveObjectionResponse
	case slots.Intent == IntentRequestingNextSteps:
		return MoveClose
	case strings.HasSuffix(strings.TrimSpace(primary), "?"):
		return MoveQuestion
	default:
		return MoveValueStatement
	}
}
