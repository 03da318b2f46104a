package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/callcoach/internal/coach"
	"github.com/ent0n29/callcoach/internal/completion"
	"github.com/ent0n29/callcoach/internal/config"
	"github.com/ent0n29/callcoach/internal/protocol"
)

func TestParseScript(t *testing.T) {
	script, err := parseScript(strings.NewReader(`
# discovery call
Rep: Thanks for making the time today.
prospect: We mostly track renewals in a spreadsheet: it is painful.
`))
	require.NoError(t, err)
	require.Len(t, script, 2)
	assert.Equal(t, "rep", script[0].Speaker)
	assert.Equal(t, "prospect", script[1].Speaker)
	assert.Equal(t, "We mostly track renewals in a spreadsheet: it is painful.", script[1].Text)
}

func TestParseScriptRejectsMalformedLines(t *testing.T) {
	_, err := parseScript(strings.NewReader("rep: hello\njust words\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = parseScript(strings.NewReader("# nothing\n\n"))
	require.Error(t, err)
}

func TestSimulatePrintsEvents(t *testing.T) {
	cfg := config.Config{
		LogLevel:                 "error",
		LogFormat:                "text",
		MetricsNamespace:         "test_simulate",
		SessionInactivityTimeout: time.Minute,
		Completion:               completion.Config{Mode: completion.ModeDisabled},
		Coach: coach.Config{
			Debounce:          10 * time.Millisecond,
			Silence:           50 * time.Millisecond,
			FallbackInterval:  time.Hour,
			GenerationTimeout: time.Second,
		},
	}
	script := []scriptLine{
		{Speaker: "rep", Text: "How are you handling renewals today?"},
		{Speaker: "prospect", Text: "Honestly the price is too high for us this quarter."},
	}

	var stdout, stderr bytes.Buffer
	err := simulate(context.Background(), cfg, simulateOptions{callID: "sim-1"}, script, &stdout, &stderr)
	require.NoError(t, err)

	seen := map[protocol.EventType]int{}
	sc := bufio.NewScanner(&stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var evt struct {
			Type   protocol.EventType `json:"type"`
			CallID string             `json:"call_id"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &evt), "line: %s", sc.Text())
		assert.Equal(t, "sim-1", evt.CallID)
		seen[evt.Type]++
	}
	assert.Equal(t, 1, seen[protocol.EventSessionStart])
	assert.GreaterOrEqual(t, seen[protocol.EventPrimarySuggestion], 2)
	assert.GreaterOrEqual(t, seen[protocol.EventTranscriptFinal], 2)
}

func TestSimulateRequiresScript(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"simulate", "--env-file", ""})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "script" not set`)
}
