package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType identifies outbound coaching events.
type EventType string

const (
	EventSessionStart      EventType = "session_start"
	EventTranscriptPartial EventType = "transcript.partial"
	EventTranscriptFinal   EventType = "transcript.final"
	EventStage             EventType = "engine.stage"
	EventChecklist         EventType = "engine.checklist"
	EventStats             EventType = "engine.stats"
	EventSuggestions       EventType = "engine.suggestions"
	EventPrimarySuggestion EventType = "engine.primary_suggestion"
	EventNudges            EventType = "engine.nudges"
	EventContextCards      EventType = "engine.context_cards"
	EventMoment            EventType = "engine.moment"
	EventProspectSpeaking  EventType = "engine.prospect_speaking"
	EventDebug             EventType = "engine.debug"
	EventError             EventType = "error"
)

// Event is the envelope of every outbound message.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	CallID    string    `json:"call_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

func NewEvent(callID string, typ EventType, data any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		CallID:    callID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

type ChecklistItem struct {
	Label string `json:"label"`
	Done  bool   `json:"done"`
}

type SessionStartData struct {
	Stage        string          `json:"stage"`
	StageIndex   int             `json:"stage_index"`
	Stages       []string        `json:"stages"`
	Checklist    []ChecklistItem `json:"checklist"`
	PracticeMode bool            `json:"practice_mode"`
	Defaulted    bool            `json:"defaulted"`
}

type TranscriptData struct {
	Speaker     string `json:"speaker"`
	Text        string `json:"text"`
	TimestampMs int64  `json:"timestamp_ms"`
}

type StageData struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Goals  string `json:"goals,omitempty"`
	From   int    `json:"from"`
	Reason string `json:"reason"`
}

type ChecklistData struct {
	Stage string          `json:"stage"`
	Items []ChecklistItem `json:"items"`
}

type StatsData struct {
	RepTurns      int    `json:"rep_turns"`
	ProspectTurns int    `json:"prospect_turns"`
	RepWords      int    `json:"rep_words"`
	ProspectWords int    `json:"prospect_words"`
	Questions     int    `json:"questions"`
	RepQuestions  int    `json:"rep_questions"`
	TalkRatio     int    `json:"talk_ratio"`
	LastObjection string `json:"last_objection,omitempty"`
	LastSentiment string `json:"last_sentiment,omitempty"`
}

type SuggestionsData struct {
	Suggestions []string `json:"suggestions"`
	Reason      string   `json:"reason"`
	Seq         uint64   `json:"seq"`
	Interim     bool     `json:"interim,omitempty"`
	Source      string   `json:"source"`
}

type PrimarySuggestionData struct {
	Text     string `json:"text"`
	Reason   string `json:"reason"`
	Seq      uint64 `json:"seq"`
	Interim  bool   `json:"interim,omitempty"`
	MoveType string `json:"move_type,omitempty"`
}

type NudgesData struct {
	Nudges []string `json:"nudges"`
}

type Card struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Kind  string `json:"kind,omitempty"`
}

type ContextCardsData struct {
	Cards []Card `json:"cards"`
}

type MomentData struct {
	Tag string `json:"tag"`
	Seq uint64 `json:"seq"`
}

type ProspectSpeakingData struct {
	Speaking    bool   `json:"speaking"`
	PartialText string `json:"partial_text,omitempty"`
}

// DebugData always reports whether the suggestion set was replaced.
type DebugData struct {
	Reason         string `json:"reason"`
	Seq            uint64 `json:"seq"`
	LastEmittedSeq uint64 `json:"last_emitted_seq"`
	Updated        bool   `json:"updated"`
	Source         string `json:"source,omitempty"`
	Note           string `json:"note,omitempty"`
	Objection      string `json:"objection,omitempty"`
	Intent         string `json:"intent,omitempty"`
	LatencyMs      int64  `json:"latency_ms,omitempty"`
}

type ErrorData struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// ClientMessageType identifies inbound websocket messages.
type ClientMessageType string

const (
	ClientTypeTranscript   ClientMessageType = "transcript"
	ClientTypeSpeaking     ClientMessageType = "speaking"
	ClientTypeAlternatives ClientMessageType = "alternatives"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type ClientMessageType `json:"type"`
}

// ClientTranscript carries one transcript fragment. Final defaults to true.
type ClientTranscript struct {
	Type    ClientMessageType `json:"type"`
	Speaker string            `json:"speaker"`
	Text    string            `json:"text"`
	Final   *bool             `json:"final,omitempty"`
}

func (m ClientTranscript) IsFinal() bool { return m.Final == nil || *m.Final }

type ClientSpeaking struct {
	Type        ClientMessageType `json:"type"`
	Speaker     string            `json:"speaker"`
	PartialText string            `json:"partial_text,omitempty"`
}

type ClientAlternatives struct {
	Type  ClientMessageType `json:"type"`
	Mode  string            `json:"mode"`
	Count int               `json:"count"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case ClientTypeTranscript:
		var msg ClientTranscript
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Speaker) == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid transcript")
		}
		return msg, nil
	case ClientTypeSpeaking:
		var msg ClientSpeaking
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Speaker) == "" {
			return nil, errors.New("invalid speaking")
		}
		return msg, nil
	case ClientTypeAlternatives:
		var msg ClientAlternatives
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Count < 0 {
			return nil, errors.New("invalid alternatives count")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
