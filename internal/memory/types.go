package memory

import (
	"context"
	"time"
)

// Call statuses written by the engine.
const (
	StatusActive  = "active"
	StatusEnded   = "ended"
	StatusExpired = "expired"
)

// TranscriptRow stores one final transcript turn of a call.
type TranscriptRow struct {
	ID          string    `json:"id"`
	CallID      string    `json:"call_id"`
	Speaker     string    `json:"speaker"`
	Text        string    `json:"text"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// CoachMemory is what the coach has already used on a call. It is stored as
// one JSON column next to the call status.
type CoachMemory struct {
	ValueProps         []string `json:"value_props"`
	Differentiators    []string `json:"differentiators"`
	ObjectionResponses []string `json:"objection_responses"`
	Questions          []string `json:"questions"`
	RecentSuggestions  []string `json:"recent_suggestions"`
	LastMoveType       string   `json:"last_move_type,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (m CoachMemory) Clone() CoachMemory {
	return CoachMemory{
		ValueProps:         cloneStrings(m.ValueProps),
		Differentiators:    cloneStrings(m.Differentiators),
		ObjectionResponses: cloneStrings(m.ObjectionResponses),
		Questions:          cloneStrings(m.Questions),
		RecentSuggestions:  cloneStrings(m.RecentSuggestions),
		LastMoveType:       m.LastMoveType,
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Store is the persistence collaborator of the coaching engine.
type Store interface {
	SaveTranscript(ctx context.Context, row TranscriptRow) error
	RecentTranscript(ctx context.Context, callID string, limit int) ([]TranscriptRow, error)
	LoadCoachMemory(ctx context.Context, callID string) (CoachMemory, bool, error)
	SaveCoachMemory(ctx context.Context, callID string, mem CoachMemory) error
	SetCallStatus(ctx context.Context, callID, status string) error
	Close() error
}
