package coach

import (
	"strings"
	"time"

	"github.com/ent0n29/callcoach/internal/playbook"
	"github.com/ent0n29/callcoach/internal/protocol"
)

// PushTranscript ingests one final transcript fragment. Prospect fragments
// are consolidated by the debounce timer into a settled utterance. Unknown
// ids are ignored.
func (e *Engine) PushTranscript(callID, speaker, text string) {
	s := e.sessions.get(strings.TrimSpace(callID))
	if s == nil {
		return
	}
	text = collapse(text)
	if text == "" {
		return
	}
	s.touch()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	turn := transcriptTurn{Speaker: NormalizeSpeaker(speaker), Text: text, TimestampMs: time.Now().UnixMilli()}
	e.recordTurnLocked(s, turn)

	if turn.Speaker != playbook.SpeakerProspect {
		return
	}
	s.segments = append(s.segments, text)
	s.partial = ""
	s.silence.cancel()
	s.debounce.arm(e.cfg.Debounce, func(token uint64) { e.onDebounce(s, token) })
}

// SignalSpeaking reports that a party is talking, with the latest partial
// text if known.
func (e *Engine) SignalSpeaking(callID, speaker, partialText string) {
	s := e.sessions.get(strings.TrimSpace(callID))
	if s == nil {
		return
	}
	partialText = collapse(partialText)
	s.touch()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	who := NormalizeSpeaker(speaker)
	if partialText != "" {
		e.broadcast(s, protocol.EventTranscriptPartial, protocol.TranscriptData{
			Speaker:     who,
			Text:        partialText,
			TimestampMs: time.Now().UnixMilli(),
		})
	}
	if who != playbook.SpeakerProspect {
		return
	}
	s.speaking = true
	if partialText != "" {
		s.partial = partialText
	}
	e.broadcast(s, protocol.EventProspectSpeaking, protocol.ProspectSpeakingData{Speaking: true, PartialText: partialText})
	s.silence.arm(e.silenceFor(s), func(token uint64) { e.onSilence(s, token) })
}

func (e *Engine) silenceFor(s *session) time.Duration {
	if s.practice {
		return e.cfg.PracticeSilence
	}
	return e.cfg.Silence
}

// recordTurnLocked applies the side effects every final turn has: transcript
// window, stats, checklist scan and persistence.
func (e *Engine) recordTurnLocked(s *session, turn transcriptTurn) {
	s.appendTurn(turn)
	s.stats.observe(playbook.Turn{Speaker: turn.Speaker, Text: turn.Text})
	e.broadcast(s, protocol.EventTranscriptFinal, protocol.TranscriptData{
		Speaker:     turn.Speaker,
		Text:        turn.Text,
		TimestampMs: turn.TimestampMs,
	})
	e.broadcast(s, protocol.EventStats, s.stats.payload())

	if marked := s.tracker.ScanTurn(playbook.Turn{Speaker: turn.Speaker, Text: turn.Text}); len(marked) > 0 {
		s.logger.Debug("checklist items completed", "items", marked, "source", "transcript")
		e.broadcastChecklistLocked(s)
		if tr, ok := s.tracker.AdvanceIfComplete(); ok {
			e.announceTransitionLocked(s, tr)
		}
	}
	e.persistTurn(s.callID, turn)
}

func (e *Engine) onDebounce(s *session, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || !s.debounce.claim(token) {
		return
	}
	e.finalizeLocked(s)
}

func (e *Engine) onSilence(s *session, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || !s.silence.claim(token) {
		return
	}
	if len(s.segments) == 0 && s.partial != "" {
		// The recognizer never sent a final; the partial is the turn.
		e.recordTurnLocked(s, transcriptTurn{
			Speaker:     playbook.SpeakerProspect,
			Text:        s.partial,
			TimestampMs: time.Now().UnixMilli(),
		})
		s.segments = append(s.segments, s.partial)
	}
	e.finalizeLocked(s)
}

// finalizeLocked settles the current utterance and reacts to it.
func (e *Engine) finalizeLocked(s *session) {
	s.debounce.cancel()
	s.silence.cancel()

	text := collapse(strings.Join(s.segments, " "))
	if text == "" {
		text = s.partial
	}
	s.segments = nil
	s.partial = ""
	wasSpeaking := s.speaking
	s.speaking = false

	if text == "" {
		if wasSpeaking {
			e.broadcast(s, protocol.EventProspectSpeaking, protocol.ProspectSpeakingData{Speaking: false})
		}
		// Nothing new was said, but whatever queued up behind the speech still runs.
		e.resumeLocked(s)
		return
	}

	s.seq++
	s.lastUtterance = text
	s.finalizedAt = time.Now()
	e.broadcast(s, protocol.EventProspectSpeaking, protocol.ProspectSpeakingData{Speaking: false})
	s.logger.Debug("utterance settled", "seq", s.seq, "text", text)

	if s.held != nil {
		held := *s.held
		s.held = nil
		e.applyResultLocked(s, held)
	}

	if s.inFlight {
		s.setPending(ReasonUtterance, s.seq)
		e.broadcast(s, protocol.EventDebug, protocol.DebugData{
			Reason:         ReasonUtterance,
			Seq:            s.seq,
			LastEmittedSeq: s.lastEmitted,
			Updated:        false,
			Note:           "tick in flight, queued",
		})
		return
	}
	e.runTickLocked(s, ReasonUtterance, s.seq)
}
