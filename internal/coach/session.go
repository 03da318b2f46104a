package coach

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ent0n29/callcoach/internal/knowledge"
	"github.com/ent0n29/callcoach/internal/memory"
	"github.com/ent0n29/callcoach/internal/playbook"
	"github.com/ent0n29/callcoach/internal/textnorm"
)

// Tick reasons. Session start and manual swap bypass the sequence gate.
const (
	ReasonSessionStart = "session_start"
	ReasonUtterance    = "utterance"
	ReasonFallback     = "fallback"
	ReasonManualSwap   = "manual_swap"
	ReasonMoreOptions  = "more_options"
)

func exemptReason(reason string) bool {
	return reason == ReasonSessionStart || reason == ReasonManualSwap
}

const (
	promptTranscriptTurns = 12
	retrievalWindowTurns  = 6
)

type transcriptTurn struct {
	Speaker     string
	Text        string
	TimestampMs int64
}

// pendingRequest is the single retry slot. A newer request overwrites it.
type pendingRequest struct {
	reason string
	seq    uint64
}

type alternativesCache struct {
	seq   uint64
	lines []string
}

// session is the state of one call. Every field below mu is guarded by it.
type session struct {
	callID string
	logger *slog.Logger
	// unix nanos of the last inbound event, read by the janitor without mu
	lastActivity atomic.Int64

	mu      sync.Mutex
	stopped bool

	contextReady  bool
	startDeferred bool
	callCtx       knowledge.CallContext
	tracker       *playbook.Tracker
	practice      bool
	practiceForce bool

	transcript []transcriptTurn
	window     int
	stats      callStats
	memory     memory.CoachMemory

	segments      []string
	partial       string
	speaking      bool
	lastUtterance string
	finalizedAt   time.Time

	debounce scheduledTask
	silence  scheduledTask
	fallback scheduledTask

	seq         uint64
	lastEmitted uint64
	inFlight    bool
	pending     *pendingRequest
	held        *tickResult
	lastTickAt  time.Time

	alternatives alternativesCache

	// closed when the latest call status write finished
	statusWritten chan struct{}
}

func newSession(callID string, window int, practice bool, logger *slog.Logger) *session {
	cc := knowledge.DefaultCallContext()
	s := &session{
		callID:        callID,
		logger:        logger,
		callCtx:       cc,
		tracker:       playbook.NewTracker(cc.Stages),
		practiceForce: practice,
		practice:      practice,
		window:        window,
		lastTickAt:    time.Now(),
	}
	s.touch()
	return s
}

func (s *session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *session) idleSince() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// applyContext swaps the call context in one step.
func (s *session) applyContext(cc knowledge.CallContext) {
	s.callCtx = cc
	if !s.tracker.ReplaceStages(cc.Stages) {
		s.logger.Warn("reloaded playbook does not cover current stage, keeping previous stages",
			"stage_index", s.tracker.Index(), "stages", len(cc.Stages))
	}
	s.practice = s.practiceForce || cc.PracticeMode
	s.contextReady = true
}

func (s *session) appendTurn(turn transcriptTurn) {
	s.transcript = append(s.transcript, turn)
	if len(s.transcript) > s.window {
		s.transcript = append([]transcriptTurn(nil), s.transcript[len(s.transcript)-s.window:]...)
	}
}

func (s *session) recentTurns(n int) []transcriptTurn {
	if n > len(s.transcript) {
		n = len(s.transcript)
	}
	out := make([]transcriptTurn, n)
	copy(out, s.transcript[len(s.transcript)-n:])
	return out
}

func (s *session) recentPlaybookTurns(n int) []playbook.Turn {
	turns := s.recentTurns(n)
	out := make([]playbook.Turn, len(turns))
	for i, t := range turns {
		out[i] = playbook.Turn{Speaker: t.Speaker, Text: t.Text}
	}
	return out
}

// tickUtterance picks the text a tick reacts to.
func (s *session) tickUtterance(reason string) string {
	if reason == ReasonUtterance && s.lastUtterance != "" {
		return s.lastUtterance
	}
	if reason == ReasonSessionStart {
		return ""
	}
	for i := len(s.transcript) - 1; i >= 0; i-- {
		if s.transcript[i].Speaker == playbook.SpeakerProspect {
			return s.transcript[i].Text
		}
	}
	return s.lastUtterance
}

// accept is the staleness gate. Exempt reasons always pass and leave the
// watermark alone; interim results pass without moving it.
func (s *session) accept(reason string, seq uint64, interim bool) bool {
	if exemptReason(reason) {
		return true
	}
	if seq <= s.lastEmitted {
		return false
	}
	if !interim {
		s.lastEmitted = seq
	}
	return true
}

// setPending records a tick request, newest wins.
func (s *session) setPending(reason string, seq uint64) {
	s.pending = &pendingRequest{reason: reason, seq: seq}
}

func (s *session) cancelTimers() {
	s.debounce.cancel()
	s.silence.cancel()
	s.fallback.cancel()
}

// NormalizeSpeaker maps transcript speaker labels onto rep or prospect.
func NormalizeSpeaker(speaker string) string {
	switch strings.ToLower(strings.TrimSpace(speaker)) {
	case "rep", "agent", "operator", "seller", "user", "me":
		return playbook.SpeakerRep
	default:
		return playbook.SpeakerProspect
	}
}

// mergeMemory folds memory recorded before a context load into the
// persisted memory of the call.
func mergeMemory(persisted, live memory.CoachMemory) memory.CoachMemory {
	out := persisted.Clone()
	out.ValueProps = appendBounded(out.ValueProps, memoryCategoryLimit, live.ValueProps...)
	out.Differentiators = appendBounded(out.Differentiators, memoryCategoryLimit, live.Differentiators...)
	out.ObjectionResponses = appendBounded(out.ObjectionResponses, memoryCategoryLimit, live.ObjectionResponses...)
	out.Questions = appendBounded(out.Questions, memoryCategoryLimit, live.Questions...)
	out.RecentSuggestions = appendBounded(out.RecentSuggestions, recentSuggestionLimit, live.RecentSuggestions...)
	if live.LastMoveType != "" {
		out.LastMoveType = live.LastMoveType
	}
	return out
}

func collapse(text string) string { return textnorm.CollapseWhitespace(text) }
