package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/callcoach/internal/coach"
	"github.com/ent0n29/callcoach/internal/protocol"
)

type replayOptions struct {
	baseURL        string
	callID         string
	turns          int
	startDelay     time.Duration
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

var defaultReplayUtterances = []string{
	"We already use a spreadsheet for renewals and it mostly works.",
	"Honestly the price feels too high for a team our size.",
	"I would need to run this by our finance lead before anything moves.",
	"What does onboarding look like if we started next month?",
}

// replaySummary is printed as JSON when the replay finishes.
type replaySummary struct {
	CallID   string    `json:"call_id"`
	Turns    int       `json:"turns"`
	Timeouts int       `json:"timeouts"`
	P50MS    float64   `json:"p50_ms"`
	P95MS    float64   `json:"p95_ms"`
	MaxMS    float64   `json:"max_ms"`
	TurnMS   []float64 `json:"turn_ms"`
}

func newReplayCmd() *cobra.Command {
	var (
		opts     replayOptions
		textsRaw string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay prospect turns against a running server and report suggestion latency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
			if opts.baseURL == "" {
				return fmt.Errorf("base-url is required")
			}
			if opts.turns <= 0 {
				return fmt.Errorf("turns must be > 0")
			}
			if opts.turnTimeout < time.Second {
				opts.turnTimeout = time.Second
			}
			opts.texts = splitUtterances(textsRaw)
			if opts.callID == "" {
				opts.callID = fmt.Sprintf("replay-%d", time.Now().UnixNano())
			}
			summary, err := runReplay(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "callcoach base URL")
	cmd.Flags().StringVar(&opts.callID, "call-id", "", "call id (random when empty)")
	cmd.Flags().IntVar(&opts.turns, "turns", 8, "number of prospect turns to replay")
	cmd.Flags().DurationVar(&opts.startDelay, "start-delay", 300*time.Millisecond, "delay before the first turn")
	cmd.Flags().DurationVar(&opts.interTurnDelay, "inter-turn", 200*time.Millisecond, "delay between turns")
	cmd.Flags().DurationVar(&opts.turnTimeout, "turn-timeout", 15*time.Second, "timeout waiting for a primary suggestion per turn")
	cmd.Flags().StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "print replay progress to stderr")
	return cmd
}

func splitUtterances(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultReplayUtterances...)
	}
	return out
}

func runReplay(ctx context.Context, opts replayOptions, progress io.Writer) (replaySummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	if err := postCall(ctx, httpClient, opts.baseURL, opts.callID, "start", nil); err != nil {
		return replaySummary{}, fmt.Errorf("start call: %w", err)
	}
	defer func() {
		_ = postCall(context.Background(), httpClient, opts.baseURL, opts.callID, "stop", nil)
	}()

	wsURL, err := wsURLForCall(opts.baseURL, opts.callID)
	if err != nil {
		return replaySummary{}, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return replaySummary{}, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	settled := make(chan struct{}, 32)
	readErr := make(chan error, 1)
	go replayReadLoop(conn, settled, readErr, opts.verbose, progress)

	if opts.startDelay > 0 {
		time.Sleep(opts.startDelay)
	}

	summary := replaySummary{CallID: opts.callID, Turns: opts.turns}
	for i := 0; i < opts.turns; i++ {
		// Drop completions left over from the previous turn.
		for len(settled) > 0 {
			<-settled
		}
		text := opts.texts[i%len(opts.texts)]
		if opts.verbose {
			fmt.Fprintf(progress, "replay: turn %d/%d text=%q\n", i+1, opts.turns, text)
		}
		sentAt := time.Now()
		msg := protocol.ClientTranscript{Type: protocol.ClientTypeTranscript, Speaker: "prospect", Text: text}
		if err := conn.WriteJSON(msg); err != nil {
			return summary, fmt.Errorf("turn %d send transcript: %w", i+1, err)
		}
		select {
		case <-settled:
			summary.TurnMS = append(summary.TurnMS, float64(time.Since(sentAt).Milliseconds()))
		case err := <-readErr:
			return summary, fmt.Errorf("ws read: %w", err)
		case <-time.After(opts.turnTimeout):
			summary.Timeouts++
		case <-ctx.Done():
			return summary, ctx.Err()
		}
		if opts.interTurnDelay > 0 && i < opts.turns-1 {
			time.Sleep(opts.interTurnDelay)
		}
	}
	summary.P50MS, summary.P95MS, summary.MaxMS = latencyStats(summary.TurnMS)
	return summary, nil
}

func postCall(ctx context.Context, client *http.Client, baseURL, callID, action string, body any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	endpoint := baseURL + "/v1/calls/" + url.PathEscape(callID) + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

func wsURLForCall(baseURL, callID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	base := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/calls/" + callID + "/ws"
	u.RawPath = base + "/v1/calls/" + url.PathEscape(callID) + "/ws"
	return u.String(), nil
}

type replayEnvelope struct {
	Type protocol.EventType `json:"type"`
	Data struct {
		Interim bool   `json:"interim"`
		Reason  string `json:"reason"`
		Code    string `json:"code"`
		Detail  string `json:"detail"`
	} `json:"data"`
}

func replayReadLoop(conn *websocket.Conn, settled chan<- struct{}, readErr chan<- error, verbose bool, progress io.Writer) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}
		var env replayEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case protocol.EventPrimarySuggestion:
			if env.Data.Interim || env.Data.Reason != coach.ReasonUtterance {
				continue
			}
			select {
			case settled <- struct{}{}:
			default:
			}
		case protocol.EventError:
			if verbose {
				fmt.Fprintf(progress, "replay: error code=%s detail=%s\n", env.Data.Code, env.Data.Detail)
			}
		}
	}
}

func latencyStats(samples []float64) (p50, p95, peak float64) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	at := func(q float64) float64 {
		idx := int(q*float64(len(sorted)-1) + 0.5)
		return sorted[idx]
	}
	return at(0.50), at(0.95), sorted[len(sorted)-1]
}
