package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/callcoach/internal/reliability"
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion http status %d: %s", e.Code, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Code }

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	url         string
	apiKey      string
	model       string
	maxRetries  int
	temperature float64
	maxTokens   int
	backoffBase time.Duration
	backoffCap  time.Duration
	client      *http.Client
}

func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &HTTPClient{
		url:         strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/") + "/chat/completions",
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       strings.TrimSpace(cfg.Model),
		maxRetries:  retries,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		backoffBase: 150 * time.Millisecond,
		backoffCap:  2 * time.Second,
		client:      &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model,omitempty"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (Result, error) {
	payload, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, c.backoffBase, c.backoffCap)
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(wait):
			}
		}
		res, err := c.do(ctx, payload)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !reliability.IsRetryable(err) {
			break
		}
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

func (c *HTTPClient) buildRequest(req Request) chatRequest {
	temp := req.Options.Temperature
	if temp == 0 {
		temp = c.temperature
	}
	maxTokens := req.Options.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	out := chatRequest{
		Model:       c.model,
		Temperature: temp,
		MaxTokens:   maxTokens,
	}
	if s := strings.TrimSpace(req.SystemPrompt); s != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: s})
	}
	out.Messages = append(out.Messages, chatMessage{Role: "user", Content: req.UserPrompt})
	if req.Options.JSON {
		out.ResponseFormat = map[string]string{"type": "json_object"}
	}
	return out
}

func (c *HTTPClient) do(ctx context.Context, payload []byte) (Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Result{}, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var decoded chatResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return Result{}, fmt.Errorf("completion response has no choices")
	}
	model := decoded.Model
	if model == "" {
		model = c.model
	}
	return Result{
		Text:             decoded.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
	}, nil
}
