package coach

import (
	"context"
	"strings"
	"time"

	"github.com/ent0n29/callcoach/internal/knowledge"
	"github.com/ent0n29/callcoach/internal/observability"
	"github.com/ent0n29/callcoach/internal/playbook"
	"github.com/ent0n29/callcoach/internal/protocol"
)

const maxNudges = 3

// runTickLocked starts one tick for seq. It returns false when a tick is
// already in flight; callers that must not lose the request set the pending
// slot themselves.
func (e *Engine) runTickLocked(s *session, reason string, seq uint64) bool {
	if s.inFlight {
		return false
	}
	if s.pending != nil && s.pending.seq <= seq {
		s.pending = nil
	}
	if reason == ReasonUtterance || reason == ReasonFallback {
		e.voteHeuristicStageLocked(s)
	}
	in := e.buildInputLocked(s, reason, seq, 0)
	s.lastTickAt = time.Now()

	if e.completer == nil || reason == ReasonFallback || reason == ReasonSessionStart {
		kind := fallbackDisabled
		switch reason {
		case ReasonFallback:
			kind = fallbackTimer
		case ReasonSessionStart:
			kind = fallbackSessionStart
		}
		res := stubResult(in, kind)
		if e.completer == nil {
			e.metrics.ObserveFallback(kind)
		}
		e.applyResultLocked(s, res)
		return true
	}

	s.inFlight = true
	e.goAsync(func() { e.generateTick(s, in) })
	return true
}

// generateTick runs generation off the session lock. Utterance ticks race
// the interim timeout and show a deterministic line if it fires first.
func (e *Engine) generateTick(s *session, in tickInput) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.GenerationTimeout)
	defer cancel()

	done := make(chan tickResult, 1)
	go func() { done <- e.generate(ctx, in) }()

	var res tickResult
	if in.reason == ReasonUtterance && e.cfg.InterimTimeout > 0 {
		timer := time.NewTimer(e.cfg.InterimTimeout)
		select {
		case res = <-done:
			timer.Stop()
		case <-timer.C:
			e.deliverInterim(s, in)
			res = <-done
		}
	} else {
		res = <-done
	}
	e.metrics.ObserveGeneration(res.latency)
	e.completeTick(s, res)
}

func (e *Engine) deliverInterim(s *session, in tickInput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.seq != in.seq || s.speaking {
		return
	}
	e.applyResultLocked(s, interimResult(in))
}

func (e *Engine) completeTick(s *session, res tickResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	if s.stopped {
		s.logger.Debug("dropping result for stopped session", "reason", res.reason, "seq", res.seq)
		return
	}

	if s.speaking && !exemptReason(res.reason) {
		s.held = &res
		e.broadcast(s, protocol.EventDebug, protocol.DebugData{
			Reason:         res.reason,
			Seq:            res.seq,
			LastEmittedSeq: s.lastEmitted,
			Updated:        false,
			Source:         res.source,
			Note:           "held while prospect is speaking",
		})
	} else {
		e.applyResultLocked(s, res)
	}

	e.resumeLocked(s)
}

// resumeLocked runs what waited for the prospect to stop speaking: the held
// result first, then the pending request.
func (e *Engine) resumeLocked(s *session) {
	if s.speaking {
		return
	}
	if s.held != nil {
		held := *s.held
		s.held = nil
		e.applyResultLocked(s, held)
	}
	if s.pending != nil && !s.inFlight {
		next := *s.pending
		s.pending = nil
		e.runTickLocked(s, next.reason, next.seq)
	}
}

// applyResultLocked gates res by sequence and emits it. Stage, checklist,
// stats and nudges are applied even for stale results; suggestions are not.
func (e *Engine) applyResultLocked(s *session, res tickResult) bool {
	stageChanged := false
	if !res.interim {
		stageChanged = e.applyModelStateLocked(s, res)
	}

	e.broadcast(s, protocol.EventNudges, protocol.NudgesData{Nudges: mergeNudges(s.stats.nudges(), res.nudges)})
	e.broadcast(s, protocol.EventStats, s.stats.payload())

	if !s.accept(res.reason, res.seq, res.interim) {
		s.logger.Debug("discarding stale result", "reason", res.reason, "seq", res.seq, "last_emitted", s.lastEmitted)
		e.metrics.ObserveTick(res.reason, "stale")
		e.broadcast(s, protocol.EventDebug, protocol.DebugData{
			Reason:         res.reason,
			Seq:            res.seq,
			LastEmittedSeq: s.lastEmitted,
			Updated:        false,
			Source:         res.source,
			Note:           "stale",
		})
		return false
	}

	e.broadcast(s, protocol.EventSuggestions, protocol.SuggestionsData{
		Suggestions: res.suggestions,
		Reason:      res.reason,
		Seq:         res.seq,
		Interim:     res.interim,
		Source:      res.source,
	})
	e.broadcast(s, protocol.EventPrimarySuggestion, protocol.PrimarySuggestionData{
		Text:     res.primary,
		Reason:   res.reason,
		Seq:      res.seq,
		Interim:  res.interim,
		MoveType: res.moveType,
	})
	if len(res.cards) > 0 {
		e.broadcast(s, protocol.EventContextCards, protocol.ContextCardsData{Cards: res.cards})
	}
	if tag := momentTag(res.moment, stageChanged, res.slots); tag != "" {
		e.broadcast(s, protocol.EventMoment, protocol.MomentData{Tag: tag, Seq: res.seq})
	}

	if !res.interim {
		rememberEmission(&s.memory, res, res.slots)
		s.alternatives = alternativesCache{}
		e.persistMemory(s.callID, s.memory.Clone())
	}

	outcome := "emitted"
	if res.interim {
		outcome = "interim"
	}
	e.metrics.ObserveTick(res.reason, outcome)
	if res.reason == ReasonUtterance && res.seq == s.seq && !s.finalizedAt.IsZero() {
		stage := observability.StageFinalizeToEmit
		if res.interim {
			stage = observability.StageInterim
		}
		e.metrics.ObserveStage(stage, time.Since(s.finalizedAt))
	}

	e.broadcast(s, protocol.EventDebug, protocol.DebugData{
		Reason:         res.reason,
		Seq:            res.seq,
		LastEmittedSeq: s.lastEmitted,
		Updated:        true,
		Source:         res.source,
		Note:           res.fallbackKind,
		Objection:      res.slots.Objection,
		Intent:         res.slots.Intent,
		LatencyMs:      res.latency.Milliseconds(),
	})
	s.logger.Debug("suggestions emitted", "reason", res.reason, "seq", res.seq, "source", res.source, "interim", res.interim)
	return true
}

// applyModelStateLocked applies the stage vote and checklist items a result
// reports. It returns true when the stage advanced.
func (e *Engine) applyModelStateLocked(s *session, res tickResult) bool {
	changed := false
	if res.stage != "" {
		if tr, ok := s.tracker.ProposeStage(res.stage); ok {
			e.announceTransitionLocked(s, tr)
			changed = true
		}
	}
	if marked := s.tracker.MarkDone(res.checklistDone...); len(marked) > 0 {
		s.logger.Debug("checklist items completed", "items", marked, "source", res.source)
		e.broadcastChecklistLocked(s)
		if tr, ok := s.tracker.AdvanceIfComplete(); ok {
			e.announceTransitionLocked(s, tr)
			changed = true
		}
	}
	return changed
}

func (e *Engine) voteHeuristicStageLocked(s *session) {
	name, ok := playbook.ProposeStage(s.tracker.Stages(), s.recentPlaybookTurns(playbook.HeuristicLookback))
	if !ok {
		return
	}
	if tr, advanced := s.tracker.ProposeStage(name); advanced {
		e.announceTransitionLocked(s, tr)
	}
}

func (e *Engine) announceTransitionLocked(s *session, tr playbook.Transition) {
	s.logger.Info("stage advanced", "from", tr.From, "to", tr.To, "stage", tr.Stage.Name, "trigger", tr.Reason)
	e.broadcast(s, protocol.EventStage, protocol.StageData{
		Index:  tr.To,
		Name:   tr.Stage.Name,
		Goals:  tr.Stage.Goals,
		From:   tr.From,
		Reason: tr.Reason,
	})
	e.broadcastChecklistLocked(s)
}

// buildInputLocked snapshots what a generation needs. count overrides the
// number of suggestions.
func (e *Engine) buildInputLocked(s *session, reason string, seq uint64, count int) tickInput {
	utterance := s.tickUtterance(reason)
	slots := extractSlots(utterance)

	var window strings.Builder
	for _, t := range s.recentTurns(retrievalWindowTurns) {
		window.WriteString(t.Text)
		window.WriteByte(' ')
	}
	window.WriteString(utterance)
	q := knowledge.Query{Text: window.String(), WantProof: knowledge.IsProofRequest(utterance)}
	if slots.HasObjection() {
		q.Objection = slots.Objection
	}

	stage := s.tracker.Current()
	return tickInput{
		reason:     reason,
		seq:        seq,
		stage:      &stage,
		checklist:  s.tracker.Checklist(),
		slots:      slots,
		snippets:   knowledge.Rank(s.callCtx.Snippets, q),
		memory:     s.memory.Clone(),
		transcript: s.recentTurns(promptTranscriptTurns),
		company:    s.callCtx.Profile.Company,
		count:      count,
		logger:     s.logger,
	}
}

// armFallbackLocked keeps a liveness tick scheduled for the life of the
// session.
func (e *Engine) armFallbackLocked(s *session) {
	s.fallback.arm(e.cfg.FallbackInterval, func(token uint64) { e.onFallback(s, token) })
}

func (e *Engine) onFallback(s *session, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || !s.fallback.claim(token) {
		return
	}
	defer e.armFallbackLocked(s)

	if s.inFlight || s.speaking {
		return
	}
	if time.Since(s.lastTickAt) < e.cfg.FallbackInterval {
		return
	}
	// A liveness tick stands for the idle period and takes its own sequence
	// number, so it supersedes anything older.
	s.seq++
	e.runTickLocked(s, ReasonFallback, s.seq)
}

func mergeNudges(stats, model []string) []string {
	out := make([]string, 0, maxNudges)
	seen := make(map[string]bool)
	for _, n := range append(append([]string(nil), stats...), model...) {
		key := strings.ToLower(strings.TrimSpace(n))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(n))
		if len(out) == maxNudges {
			break
		}
	}
	return out
}

func checklistPayload(items []playbook.ChecklistItem) []protocol.ChecklistItem {
	out := make([]protocol.ChecklistItem, len(items))
	for i, item := range items {
		out[i] = protocol.ChecklistItem{Label: item.Label, Done: item.Done}
	}
	return out
}
