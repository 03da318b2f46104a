package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/callcoach/internal/app"
	"github.com/ent0n29/callcoach/internal/coach"
	"github.com/ent0n29/callcoach/internal/config"
	"github.com/ent0n29/callcoach/internal/logging"
	"github.com/ent0n29/callcoach/internal/playbook"
	"github.com/ent0n29/callcoach/internal/protocol"
)

type scriptLine struct {
	Speaker string
	Text    string
}

type simulateOptions struct {
	scriptPath    string
	callID        string
	knowledgePath string
	practice      bool
	persist       bool
	pause         time.Duration
}

func newSimulateCmd() *cobra.Command {
	var opts simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a scripted call and print coaching events as JSON lines",
		Long: "simulate feeds a script of \"rep: ...\" / \"prospect: ...\" lines through the engine " +
			"and writes every event it emits to stdout, one JSON object per line.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			f, err := os.Open(opts.scriptPath)
			if err != nil {
				return fmt.Errorf("open script: %w", err)
			}
			defer f.Close()
			script, err := parseScript(f)
			if err != nil {
				return err
			}
			return simulate(cmd.Context(), cfg, opts, script, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.scriptPath, "script", "", "call script file")
	cmd.Flags().StringVar(&opts.callID, "call-id", "simulated-call", "call id used for the session")
	cmd.Flags().StringVar(&opts.knowledgePath, "knowledge", "", "knowledge TOML file (overrides KNOWLEDGE_PATH)")
	cmd.Flags().BoolVar(&opts.practice, "practice", false, "use practice mode timers")
	cmd.Flags().BoolVar(&opts.persist, "persist", false, "write to DATABASE_URL instead of an in-memory store")
	cmd.Flags().DurationVar(&opts.pause, "pause", 0, "delay between script lines")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

// parseScript reads "speaker: text" lines. Blank lines and # comments are skipped.
func parseScript(r io.Reader) ([]scriptLine, error) {
	var out []scriptLine
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		speaker, text, ok := strings.Cut(line, ":")
		speaker, text = strings.TrimSpace(speaker), strings.TrimSpace(text)
		if !ok || speaker == "" || text == "" {
			return nil, fmt.Errorf("script line %d: expected \"speaker: text\"", n)
		}
		out = append(out, scriptLine{Speaker: strings.ToLower(speaker), Text: text})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("script is empty")
	}
	return out, nil
}

func simulate(ctx context.Context, cfg config.Config, opts simulateOptions, script []scriptLine, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := logging.NewWithWriter(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	if opts.knowledgePath != "" {
		cfg.KnowledgePath = opts.knowledgePath
	}
	if !opts.persist {
		cfg.DatabaseURL = ""
	}

	built, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Error("cleanup failed", "error", err)
		}
	}()

	engine := built.Engine
	events, unsubscribe := engine.Subscribe(opts.callID)
	defer unsubscribe()

	out := &eventPrinter{enc: json.NewEncoder(stdout)}
	if err := engine.Start(opts.callID, coach.StartOptions{PracticeMode: opts.practice}); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	engine.EmitSessionStart(opts.callID)
	if err := out.until(ctx, events, isSettled, cfg.Coach.GenerationTimeout+time.Second); err != nil {
		return err
	}

	// Long enough for debounce plus one full generation.
	settle := cfg.Coach.Debounce + cfg.Coach.GenerationTimeout + time.Second
	for _, line := range script {
		engine.PushTranscript(opts.callID, line.Speaker, line.Text)
		if coach.NormalizeSpeaker(line.Speaker) == playbook.SpeakerProspect {
			if err := out.until(ctx, events, isSettled, settle); err != nil {
				return err
			}
		} else if err := out.drain(events); err != nil {
			return err
		}
		if opts.pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.pause):
			}
		}
	}

	engine.Stop(opts.callID)
	return out.drain(events)
}

// isSettled matches the final suggestion of a tick.
func isSettled(evt protocol.Event) bool {
	if evt.Type != protocol.EventPrimarySuggestion {
		return false
	}
	data, ok := evt.Data.(protocol.PrimarySuggestionData)
	return ok && !data.Interim
}

type eventPrinter struct {
	enc *json.Encoder
}

// until prints events until match returns true or the timeout passes.
func (p *eventPrinter) until(ctx context.Context, events <-chan protocol.Event, match func(protocol.Event) bool, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := p.enc.Encode(evt); err != nil {
				return fmt.Errorf("write event: %w", err)
			}
			if match(evt) {
				return nil
			}
		}
	}
}

// drain prints whatever is already queued.
func (p *eventPrinter) drain(events <-chan protocol.Event) error {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := p.enc.Encode(evt); err != nil {
				return fmt.Errorf("write event: %w", err)
			}
		default:
			return nil
		}
	}
}
