package main

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/callcoach/internal/app"
	"github.com/ent0n29/callcoach/internal/coach"
	"github.com/ent0n29/callcoach/internal/completion"
	"github.com/ent0n29/callcoach/internal/config"
	"github.com/ent0n29/callcoach/internal/logging"
)

func TestReplayAgainstServer(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace:         "test_replay",
		SessionInactivityTimeout: time.Minute,
		Completion:               completion.Config{Mode: completion.ModeDisabled},
		Coach: coach.Config{
			Debounce:          10 * time.Millisecond,
			Silence:           50 * time.Millisecond,
			FallbackInterval:  time.Hour,
			GenerationTimeout: time.Second,
		},
	}
	built, err := app.Build(context.Background(), cfg, logging.Discard(), app.Options{})
	require.NoError(t, err)
	ts := httptest.NewServer(built.API.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = built.Cleanup()
	})

	summary, err := runReplay(context.Background(), replayOptions{
		baseURL:     ts.URL,
		callID:      "replay-test",
		turns:       3,
		turnTimeout: 3 * time.Second,
		texts:       splitUtterances(""),
	}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Timeouts)
	assert.Len(t, summary.TurnMS, 3)
	assert.LessOrEqual(t, summary.P50MS, summary.MaxMS)
	assert.False(t, built.Engine.Active("replay-test"), "replay should stop the call")
}

func TestWSURLForCall(t *testing.T) {
	got, err := wsURLForCall("https://coach.example.com/base/", "call 1")
	require.NoError(t, err)
	assert.Equal(t, "wss://coach.example.com/base/v1/calls/call%201/ws", got)

	_, err = wsURLForCall("ftp://coach.example.com", "c")
	require.Error(t, err)
}

func TestLatencyStats(t *testing.T) {
	p50, p95, peak := latencyStats([]float64{40, 10, 30, 20, 50})
	assert.Equal(t, 30.0, p50)
	assert.Equal(t, 50.0, p95)
	assert.Equal(t, 50.0, peak)
}
