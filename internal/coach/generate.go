package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/callcoach/internal/completion"
	"github.com/ent0n29/callcoach/internal/knowledge"
	"github.com/ent0n29/callcoach/internal/memory"
	"github.com/ent0n29/callcoach/internal/playbook"
	"github.com/ent0n29/callcoach/internal/protocol"
	"github.com/ent0n29/callcoach/internal/textnorm"
)

// Result sources reported on suggestion and debug events.
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
	SourceInterim  = "interim"
)

// Fallback kinds, used as metric labels.
const (
	fallbackDisabled     = "backend_disabled"
	fallbackBackendError = "backend_error"
	fallbackMalformed    = "malformed"
	fallbackIncomplete   = "incomplete"
	fallbackGeneric      = "generic"
	fallbackNoStage      = "no_stage"
	fallbackTimer        = "timer"
	fallbackSessionStart = "session_start"
	fallbackInterim      = "interim"
)

const defaultSuggestionCount = 3

// tickInput is an immutable snapshot of session state taken under the
// session lock. Generation runs on it without holding the lock.
type tickInput struct {
	reason     string
	seq        uint64
	stage      *playbook.Stage
	checklist  []playbook.ChecklistItem
	slots      Slots
	snippets   []knowledge.Snippet
	memory     memory.CoachMemory
	transcript []transcriptTurn
	company    string
	// count is the number of suggestions wanted; zero means the default.
	count  int
	logger *slog.Logger
}

func (in tickInput) stageName() string {
	if in.stage == nil {
		return ""
	}
	return in.stage.Name
}

func (in tickInput) recent() []string { return in.memory.RecentSuggestions }

func (in tickInput) suggestionCount() int {
	if in.count > 0 {
		return in.count
	}
	return defaultSuggestionCount
}

func (in tickInput) promptContext() promptContext {
	return promptContext{
		stage:      in.stage,
		checklist:  in.checklist,
		slots:      in.slots,
		snippets:   in.snippets,
		memory:     in.memory,
		transcript: in.transcript,
		company:    in.company,
	}
}

// tickResult is a validated payload ready to be gated and emitted.
type tickResult struct {
	reason  string
	seq     uint64
	interim bool

	primary         string
	suggestions     []string
	nudges          []string
	cards           []protocol.Card
	objection       string
	sentiment       string
	stage           string
	moment          string
	moveType        string
	checklistDone   []string
	valueProps      []string
	differentiators []string
	slots           Slots

	source       string
	fallbackKind string
	model        string
	collided     bool
	latency      time.Duration
}

type validated struct {
	out   modelOutput
	model string
	// primaryFallback names why the model primary was dropped, if it was.
	primaryFallback string
}

// generate runs one full generation with validation and repair. It never
// fails: every problem degrades to deterministic output.
func (e *Engine) generate(ctx context.Context, in tickInput) tickResult {
	started := time.Now()
	v, kind, err := e.completeValidated(ctx, in)
	if err != nil {
		if errors.Is(err, errNoStage) {
			in.logger.Error("prompt assembly failed", "reason", in.reason, "seq", in.seq, "error", err)
		} else {
			in.logger.Warn("generation failed, using fallback", "reason", in.reason, "seq", in.seq, "kind", kind, "error", err)
		}
		e.metrics.ObserveFallback(kind)
		res := stubResult(in, kind)
		res.latency = time.Since(started)
		return res
	}
	if v.primaryFallback != "" {
		e.metrics.ObserveFallback(v.primaryFallback)
	}
	res := assembleResult(in, v)
	res.latency = time.Since(started)
	if res.collided {
		in.logger.Debug("primary collided with recent lines", "seq", in.seq, "primary", res.primary)
	}
	return res
}

func (e *Engine) completeValidated(ctx context.Context, in tickInput) (validated, string, error) {
	call := func(retry string) (parsedOutput, string, error) {
		prompt, err := buildUserPrompt(in.promptContext(), retry)
		if err != nil {
			return parsedOutput{}, "", err
		}
		result, err := e.completer.Complete(ctx, completion.Request{
			SystemPrompt: systemPrompt,
			UserPrompt:   prompt,
			Options:      completion.Options{JSON: true},
		})
		if err != nil {
			return parsedOutput{}, "", err
		}
		return parseModelOutput(result.Text), result.Model, nil
	}
	failKind := func(err error) string {
		if errors.Is(err, errNoStage) {
			return fallbackNoStage
		}
		return fallbackBackendError
	}

	parsed, model, err := call("")
	if err != nil {
		return validated{}, failKind(err), err
	}
	if parsed.status != parseOK {
		e.metrics.ObserveRetry("schema")
		in.logger.Debug("model output rejected, retrying", "status", parsed.status.String(), "error", parsed.err)
		parsed, model, err = call(schemaRetryInstruction)
		if err != nil {
			return validated{}, failKind(err), err
		}
		if parsed.status != parseOK {
			return validated{}, fallbackMalformed, fmt.Errorf("model output %s after retry: %w", parsed.status, parsed.err)
		}
	}

	v := validated{out: parsed.out, model: model}
	v.out.Primary = textnorm.SanitizeModelText(v.out.Primary)

	if !isComplete(v.out.Primary) {
		e.metrics.ObserveRetry("completeness")
		if retried, ok := e.retryPrimary(call, completenessRetryInstruction, isComplete); ok {
			v.out, v.model = retried.out, retried.model
		} else {
			v.primaryFallback = fallbackIncomplete
		}
	}
	if v.primaryFallback == "" && isGeneric(v.out.Primary) {
		e.metrics.ObserveRetry("specificity")
		if retried, ok := e.retryPrimary(call, specificityRetryInstruction, usable); ok {
			v.out, v.model = retried.out, retried.model
		} else {
			v.primaryFallback = fallbackGeneric
		}
	}
	return v, "", nil
}

// retryPrimary asks once more and keeps the answer only when its primary
// passes check.
func (e *Engine) retryPrimary(call func(string) (parsedOutput, string, error), instruction string, check func(string) bool) (validated, bool) {
	parsed, model, err := call(instruction)
	if err != nil || parsed.status != parseOK {
		return validated{}, false
	}
	parsed.out.Primary = textnorm.SanitizeModelText(parsed.out.Primary)
	if !check(parsed.out.Primary) {
		return validated{}, false
	}
	return validated{out: parsed.out, model: model}, true
}

func assembleResult(in tickInput, v validated) tickResult {
	pool := fallbackCandidates(in.stageName(), in.slots)
	var candidates []string
	if v.primaryFallback == "" {
		candidates = append(candidates, v.out.Primary)
	}
	candidates = append(candidates, pool...)
	primary, collided := selectPrimary(candidates, in.recent())

	res := tickResult{
		reason:          in.reason,
		seq:             in.seq,
		primary:         primary,
		suggestions:     fillSuggestions(primary, sanitizeLines(v.out.Suggestions), pool, in.recent(), in.suggestionCount()),
		nudges:          sanitizeLines(v.out.Nudges),
		cards:           modelCards(v.out.Cards),
		objection:       pickObjection(v.out.Objection, in.slots),
		sentiment:       pickSentiment(v.out.Sentiment, in.slots.Utterance),
		stage:           strings.TrimSpace(v.out.Stage),
		moment:          v.out.Moment,
		moveType:        classifyMove(v.out.MoveType, primary, in.slots),
		checklistDone:   v.out.ChecklistDone,
		valueProps:      v.out.ValuePropsUsed,
		differentiators: v.out.DifferentiatorsUsed,
		slots:           in.slots,
		source:          SourceModel,
		fallbackKind:    v.primaryFallback,
		model:           v.model,
		collided:        collided,
	}
	if len(res.cards) == 0 {
		res.cards = snippetCards(in.snippets)
	}
	return res
}

// stubResult is the fully deterministic path.
func stubResult(in tickInput, kind string) tickResult {
	pool := fallbackCandidates(in.stageName(), in.slots)
	primary, collided := selectPrimary(pool, in.recent())
	sentiment := ""
	if in.slots.Utterance != "" {
		sentiment = classifySentiment(in.slots.Utterance)
	}
	return tickResult{
		reason:       in.reason,
		seq:          in.seq,
		primary:      primary,
		suggestions:  fillSuggestions(primary, nil, pool, in.recent(), in.suggestionCount()),
		cards:        snippetCards(in.snippets),
		objection:    in.slots.Objection,
		sentiment:    sentiment,
		moveType:     classifyMove("", primary, in.slots),
		slots:        in.slots,
		source:       SourceFallback,
		fallbackKind: kind,
		collided:     collided,
	}
}

func interimResult(in tickInput) tickResult {
	res := stubResult(in, fallbackInterim)
	res.interim = true
	res.source = SourceInterim
	return res
}

func sanitizeLines(lines []string) []string {
	var out []string
	for _, line := range lines {
		if line = textnorm.SanitizeModelText(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func modelCards(cards []modelCard) []protocol.Card {
	var out []protocol.Card
	for _, c := range cards {
		title := textnorm.SanitizeModelText(c.Title)
		body := textnorm.SanitizeModelText(c.Body)
		if body == "" {
			continue
		}
		if title == "" {
			title = "Note"
		}
		out = append(out, protocol.Card{Title: title, Body: body})
		if len(out) == maxCards {
			break
		}
	}
	return out
}

var knownObjections = map[string]bool{
	ObjectionPricing: true, ObjectionTiming: true, ObjectionCompetitor: true, ObjectionAuthority: true,
	ObjectionNeed: true, ObjectionInfoRequest: true, ObjectionOther: true,
}

func pickObjection(model string, slots Slots) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if knownObjections[model] && model != ObjectionOther {
		return model
	}
	return slots.Objection
}

func pickSentiment(model, utterance string) string {
	switch m := strings.ToLower(strings.TrimSpace(model)); m {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return m
	}
	if utterance == "" {
		return ""
	}
	return classifySentiment(utterance)
}
