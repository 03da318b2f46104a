package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnavailable wraps failures after the client gave up on the backend.
var ErrUnavailable = errors.New("completion backend unavailable")

// Options tune one completion call.
type Options struct {
	Temperature float64
	MaxTokens   int
	// JSON asks the backend for a JSON object response.
	JSON bool
}

// Request is one prompt pair.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Options      Options
}

// Result is the raw backend answer. Text is untrusted.
type Result struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Client is the generation collaborator.
type Client interface {
	Complete(ctx context.Context, req Request) (Result, error)
}

// Modes accepted by NewClient.
const (
	ModeAuto     = "auto"
	ModeHTTP     = "http"
	ModeMock     = "mock"
	ModeDisabled = "disabled"
)

// Config controls client construction.
type Config struct {
	Mode        string
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	Temperature float64
	MaxTokens   int
}

// NewClient picks a client for cfg.Mode. Disabled mode returns a nil Client
// and callers must run without generation.
func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = ModeAuto
	}

	switch mode {
	case ModeAuto:
		if strings.TrimSpace(cfg.BaseURL) != "" {
			return NewHTTPClient(cfg), nil
		}
		return NewMockClient(), nil
	case ModeHTTP:
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("completion base url is required for http mode")
		}
		return NewHTTPClient(cfg), nil
	case ModeMock:
		return NewMockClient(), nil
	case ModeDisabled:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported completion mode %q", cfg.Mode)
	}
}
