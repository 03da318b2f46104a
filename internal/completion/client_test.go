package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClientModes(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantNil bool
		wantErr bool
		wantTyp string
	}{
		{name: "auto without url", cfg: Config{}, wantTyp: "mock"},
		{name: "auto with url", cfg: Config{BaseURL: "http://llm.test/v1"}, wantTyp: "http"},
		{name: "mock", cfg: Config{Mode: "MOCK"}, wantTyp: "mock"},
		{name: "disabled", cfg: Config{Mode: "disabled"}, wantNil: true},
		{name: "http without url", cfg: Config{Mode: "http"}, wantErr: true},
		{name: "unknown", cfg: Config{Mode: "carrier-pigeon"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewClient(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("NewClient() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			if tc.wantNil {
				if c != nil {
					t.Fatalf("NewClient() = %T, want nil", c)
				}
				return
			}
			switch c.(type) {
			case *MockClient:
				if tc.wantTyp != "mock" {
					t.Fatalf("NewClient() = mock, want %s", tc.wantTyp)
				}
			case *HTTPClient:
				if tc.wantTyp != "http" {
					t.Fatalf("NewClient() = http, want %s", tc.wantTyp)
				}
			default:
				t.Fatalf("NewClient() unexpected type %T", c)
			}
		})
	}
}

func TestHTTPClientComplete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"coach-1","choices":[{"message":{"content":"{\"primary\":\"Ask about renewal.\"}"}}],"usage":{"prompt_tokens":12,"completion_tokens":5}}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "coach-1", Temperature: 0.3})
	res, err := c.Complete(context.Background(), Request{
		SystemPrompt: "You coach reps.",
		UserPrompt:   "go",
		Options:      Options{JSON: true, MaxTokens: 200},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Text != `{"primary":"Ask about renewal."}` || res.Model != "coach-1" {
		t.Fatalf("Complete() = %+v", res)
	}
	if res.PromptTokens != 12 || res.CompletionTokens != 5 {
		t.Fatalf("usage = %d/%d, want 12/5", res.PromptTokens, res.CompletionTokens)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", got.Messages)
	}
	if got.ResponseFormat["type"] != "json_object" || got.MaxTokens != 200 || got.Temperature != 0.3 {
		t.Fatalf("request = %+v", got)
	}
}

func TestHTTPClientRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, MaxRetries: 2})
	c.backoffBase = time.Millisecond
	res, err := c.Complete(context.Background(), Request{UserPrompt: "x"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Text != "ok" || calls.Load() != 2 {
		t.Fatalf("Complete() = %q after %d calls", res.Text, calls.Load())
	}
}

func TestHTTPClientDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, MaxRetries: 3})
	_, err := c.Complete(context.Background(), Request{UserPrompt: "x"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Complete() error = %v, want ErrUnavailable", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("Complete() error = %v, want StatusError 401", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestMockClientEchoesUtterance(t *testing.T) {
	prompt := strings.Join([]string{
		StageMarker + " Discovery",
		UtteranceMarker + ` "Our onboarding takes forever and onboarding is manual"`,
	}, "\n")
	res, err := NewMockClient().Complete(context.Background(), Request{UserPrompt: prompt})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	var reply mockReply
	if err := json.Unmarshal([]byte(res.Text), &reply); err != nil {
		t.Fatalf("mock reply is not json: %v", err)
	}
	if !strings.Contains(reply.Primary, "onboarding") {
		t.Fatalf("primary = %q, want mention of onboarding", reply.Primary)
	}
	if reply.Stage != "Discovery" || len(reply.Suggestions) != 3 {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestMockClientHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockClient().Complete(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Complete() error = %v, want context.Canceled", err)
	}
}
