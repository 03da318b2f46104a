package coach

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/callcoach/internal/protocol"
)

// Alternative modes.
const (
	ModeSwap        = "SWAP"
	ModeMoreOptions = "MORE_OPTIONS"
)

const (
	defaultAlternatives = 3
	maxAlternatives     = 5
	sourceCache         = "cache"
)

// ErrAlternativesCount rejects a request for more lines than one event carries.
var ErrAlternativesCount = errors.New("alternatives count out of range")

// GetAlternatives returns count alternative lines for the call and emits
// them as one suggestions event. SWAP also makes the first line the new
// primary. The sequence gate does not apply.
func (e *Engine) GetAlternatives(ctx context.Context, callID, mode string, count int) ([]string, error) {
	s := e.sessions.get(strings.TrimSpace(callID))
	if s == nil {
		return nil, ErrSessionNotFound
	}
	mode, err := normalizeMode(mode)
	if err != nil {
		return nil, err
	}
	count, err = alternativesCount(count)
	if err != nil {
		return nil, err
	}
	reason := ReasonMoreOptions
	if mode == ModeSwap {
		reason = ReasonManualSwap
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	seq := s.seq
	var lines []string
	if s.alternatives.lines != nil && s.alternatives.seq == seq && len(s.alternatives.lines) >= count {
		lines = append([]string(nil), s.alternatives.lines[:count]...)
	}
	in := e.buildInputLocked(s, reason, seq, count)
	s.mu.Unlock()

	source := sourceCache
	if lines == nil {
		var res tickResult
		if e.completer == nil {
			e.metrics.ObserveFallback(fallbackDisabled)
			res = stubResult(in, fallbackDisabled)
		} else {
			genCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
			res = e.generate(genCtx, in)
			cancel()
			e.metrics.ObserveGeneration(res.latency)
		}
		lines, source = res.suggestions, res.source
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrSessionNotFound
	}
	cached := append([]string(nil), lines...)
	if mode == ModeSwap && len(lines) > 0 {
		// the swapped-in line is spent
		cached = cached[1:]
		s.memory.RecentSuggestions = appendBounded(s.memory.RecentSuggestions, recentSuggestionLimit, lines[0])
		e.persistMemory(s.callID, s.memory.Clone())
	}
	if s.seq == seq {
		s.alternatives = alternativesCache{seq: seq, lines: cached}
	}

	e.broadcast(s, protocol.EventSuggestions, protocol.SuggestionsData{
		Suggestions: lines,
		Reason:      reason,
		Seq:         seq,
		Source:      source,
	})
	if mode == ModeSwap && len(lines) > 0 {
		e.broadcast(s, protocol.EventPrimarySuggestion, protocol.PrimarySuggestionData{
			Text:     lines[0],
			Reason:   reason,
			Seq:      seq,
			MoveType: classifyMove("", lines[0], in.slots),
		})
	}
	e.metrics.ObserveTick(reason, "emitted")
	s.logger.Debug("alternatives served", "mode", mode, "count", len(lines), "source", source)
	return lines, nil
}

func normalizeMode(mode string) (string, error) {
	switch m := strings.ToUpper(strings.TrimSpace(mode)); m {
	case "":
		return ModeMoreOptions, nil
	case ModeSwap, ModeMoreOptions:
		return m, nil
	case "MORE", "MORE-OPTIONS", "MOREOPTIONS":
		return ModeMoreOptions, nil
	default:
		return "", fmt.Errorf("unsupported alternatives mode %q", mode)
	}
}

// alternativesCount defaults a zero count and rejects anything out of range.
func alternativesCount(count int) (int, error) {
	switch {
	case count == 0:
		return defaultAlternatives, nil
	case count < 0, count > maxAlternatives:
		return 0, fmt.Errorf("%w: got %d, want 1..%d", ErrAlternativesCount, count, maxAlternatives)
	default:
		return count, nil
	}
}
