package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ent0n29/callcoach/internal/textnorm"
)

// Prompt markers the mock client reads back.
const (
	UtteranceMarker = "LAST PROSPECT UTTERANCE:"
	StageMarker     = "CURRENT STAGE:"
)

// MockClient returns deterministic coaching JSON derived from the prompt.
// It keeps the service usable offline and in the simulate command.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Complete(ctx context.Context, req Request) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	utterance := markerValue(req.UserPrompt, UtteranceMarker)
	stage := markerValue(req.UserPrompt, StageMarker)
	body, err := json.Marshal(buildMockReply(utterance, stage))
	if err != nil {
		return Result{}, fmt.Errorf("marshal mock reply: %w", err)
	}
	return Result{
		Text:             string(body),
		Model:            "mock",
		PromptTokens:     len(strings.Fields(req.SystemPrompt + " " + req.UserPrompt)),
		CompletionTokens: len(strings.Fields(string(body))),
	}, nil
}

type mockReply struct {
	Primary     string   `json:"primary"`
	Suggestions []string `json:"suggestions"`
	Nudges      []string `json:"nudges"`
	Sentiment   string   `json:"sentiment"`
	Stage       string   `json:"stage,omitempty"`
	MoveType    string   `json:"move_type"`
}

func buildMockReply(utterance, stage string) mockReply {
	focus := strings.Join(textnorm.TopTokens(utterance, 3), " ")
	if focus == "" {
		return mockReply{
			Primary: "What prompted you to take this call today?",
			Suggestions: []string{
				"What prompted you to take this call today?",
				"How are you handling this process right now?",
				"Who else on your team feels this problem most?",
			},
			Sentiment: "neutral",
			Stage:     stage,
			MoveType:  "question",
		}
	}
	return mockReply{
		Primary: fmt.Sprintf("You mentioned %s, what is that costing your team each week?", focus),
		Suggestions: []string{
			fmt.Sprintf("You mentioned %s, what is that costing your team each week?", focus),
			fmt.Sprintf("When %s comes up, who feels it first on your side?", focus),
			fmt.Sprintf("If %s were solved next quarter, what would change for you?", focus),
		},
		Sentiment: "neutral",
		Stage:     stage,
		MoveType:  "question",
	}
}

func markerValue(prompt, marker string) string {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, marker) {
			return strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, marker)), `"`)
		}
	}
	return ""
}
