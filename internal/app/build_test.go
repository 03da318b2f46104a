package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ent0n29/callcoach/internal/coach"
	"github.com/ent0n29/callcoach/internal/completion"
	"github.com/ent0n29/callcoach/internal/config"
	"github.com/ent0n29/callcoach/internal/logging"
)

func testConfig(mode string) config.Config {
	return config.Config{
		MetricsNamespace:         "test_app",
		SessionInactivityTimeout: time.Minute,
		Completion:               completion.Config{Mode: mode},
		Coach:                    coach.DefaultConfig(),
	}
}

func TestBuildWiresInMemoryGraph(t *testing.T) {
	res, err := Build(context.Background(), testConfig(completion.ModeMock), logging.Discard(), Options{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if res.Completer == nil {
		t.Fatalf("mock mode should build a completer")
	}

	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	if err := res.Engine.Start("call-build", coach.StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := res.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if res.Engine.ActiveSessions() != 0 {
		t.Fatalf("ActiveSessions() = %d after cleanup, want 0", res.Engine.ActiveSessions())
	}
}

func TestBuildDisabledCompletion(t *testing.T) {
	res, err := Build(context.Background(), testConfig(completion.ModeDisabled), logging.Discard(), Options{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()
	if res.Completer != nil {
		t.Fatalf("disabled mode should not build a completer")
	}
}

func TestBuildRejectsHTTPWithoutURL(t *testing.T) {
	if _, err := Build(context.Background(), testConfig(completion.ModeHTTP), logging.Discard(), Options{}); err == nil {
		t.Fatalf("Build() expected error for http mode without base url")
	}
}
