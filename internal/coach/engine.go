package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/callcoach/internal/completion"
	"github.com/ent0n29/callcoach/internal/knowledge"
	"github.com/ent0n29/callcoach/internal/logging"
	"github.com/ent0n29/callcoach/internal/memory"
	"github.com/ent0n29/callcoach/internal/observability"
	"github.com/ent0n29/callcoach/internal/policy"
	"github.com/ent0n29/callcoach/internal/protocol"
)

var (
	ErrSessionNotFound = errors.New("coach session not found")
	ErrEngineClosed    = errors.New("coach engine closed")
	ErrInvalidCallID   = errors.New("call id is required")
)

const (
	contextLoadTimeout = 3 * time.Second
	persistTimeout     = 2 * time.Second
)

// Config holds the engine timings. Zero values take the defaults.
type Config struct {
	Debounce          time.Duration
	Silence           time.Duration
	PracticeSilence   time.Duration
	FallbackInterval  time.Duration
	InterimTimeout    time.Duration
	GenerationTimeout time.Duration
	TranscriptWindow  int
	InactivityTimeout time.Duration
	// PracticeMode makes every call use the practice silence timer.
	PracticeMode bool
}

func DefaultConfig() Config {
	return Config{
		Debounce:          280 * time.Millisecond,
		Silence:           1000 * time.Millisecond,
		PracticeSilence:   2600 * time.Millisecond,
		FallbackInterval:  15 * time.Second,
		InterimTimeout:    900 * time.Millisecond,
		GenerationTimeout: 8 * time.Second,
		TranscriptWindow:  30,
		InactivityTimeout: 10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Debounce <= 0 {
		c.Debounce = def.Debounce
	}
	if c.Silence <= 0 {
		c.Silence = def.Silence
	}
	if c.PracticeSilence <= 0 {
		c.PracticeSilence = def.PracticeSilence
	}
	if c.FallbackInterval <= 0 {
		c.FallbackInterval = def.FallbackInterval
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = def.GenerationTimeout
	}
	if c.TranscriptWindow <= 0 {
		c.TranscriptWindow = def.TranscriptWindow
	}
	return c
}

// Deps are the collaborators of the engine. Completer may be nil, which
// runs every tick on the deterministic path.
type Deps struct {
	Store     memory.Store
	Knowledge knowledge.Source
	Completer completion.Client
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// StartOptions tune one call.
type StartOptions struct {
	PracticeMode bool
}

// Engine runs the coaching timeline of every active call.
type Engine struct {
	cfg       Config
	store     memory.Store
	knowledge knowledge.Source
	completer completion.Client
	metrics   *observability.Metrics
	logger    *slog.Logger

	sessions *registry
	hub      *hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, deps Deps) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg.withDefaults(),
		store:     deps.Store,
		knowledge: deps.Knowledge,
		completer: deps.Completer,
		metrics:   deps.Metrics,
		logger:    logging.NewComponentLogger(deps.Logger, "coach"),
		sessions:  newRegistry(),
		hub:       newHub(deps.Metrics),
		ctx:       ctx,
		cancel:    cancel,
	}
	if e.store == nil {
		e.store = memory.NewInMemoryStore()
	}
	if e.knowledge == nil {
		e.knowledge = knowledge.NewStaticSource(nil)
	}
	return e
}

// Subscribe streams the events of one call, or of every call for AllCalls.
func (e *Engine) Subscribe(callID string) (<-chan protocol.Event, func()) {
	return e.hub.subscribe(callID)
}

func (e *Engine) ActiveSessions() int { return e.sessions.count() }

// Active reports whether callID has a live session.
func (e *Engine) Active(callID string) bool {
	return e.sessions.get(strings.TrimSpace(callID)) != nil
}

// Start creates the session for callID. Starting a live call is a no-op.
func (e *Engine) Start(callID string, opts StartOptions) error {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return ErrInvalidCallID
	}
	s := newSession(callID, e.cfg.TranscriptWindow, opts.PracticeMode || e.cfg.PracticeMode, e.logger.With("call_id", callID))
	added, err := e.sessions.add(s)
	if err != nil || !added {
		return err
	}

	e.metrics.SessionStarted()
	s.logger.Info("session started", "practice_mode", s.practice)

	s.mu.Lock()
	e.armFallbackLocked(s)
	e.persistStatusLocked(s, memory.StatusActive)
	s.mu.Unlock()

	e.goAsync(func() { e.loadContext(s) })
	return nil
}

// Stop ends the session and closes its event subscriptions. Unknown ids and
// repeated stops are no-ops.
func (e *Engine) Stop(callID string) {
	e.stop(strings.TrimSpace(callID), endStopped)
}

type sessionEnd struct {
	status string
	event  string
}

var (
	endStopped  = sessionEnd{status: memory.StatusEnded, event: "stop"}
	endExpired  = sessionEnd{status: memory.StatusExpired, event: "expire"}
	endShutdown = sessionEnd{status: memory.StatusEnded, event: "shutdown"}
)

func (e *Engine) stop(callID string, end sessionEnd) {
	s := e.sessions.remove(callID)
	if s == nil {
		return
	}
	e.endSession(s, end)
}

func (e *Engine) endSession(s *session, end sessionEnd) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancelTimers()
	s.pending = nil
	s.held = nil
	e.persistMemory(s.callID, s.memory.Clone())
	e.persistStatusLocked(s, end.status)
	s.mu.Unlock()

	if e.sessions.get(s.callID) == nil {
		e.hub.closeCall(s.callID)
	}
	e.metrics.SessionEnded(end.event)
	s.logger.Info("session ended", "event", end.event)
}

// RefreshContext reloads knowledge and playbook for a live call and swaps
// them in atomically. Unknown ids are a no-op.
func (e *Engine) RefreshContext(ctx context.Context, callID string) error {
	s := e.sessions.get(strings.TrimSpace(callID))
	if s == nil {
		return nil
	}
	cc, err := e.knowledge.Load(ctx, s.callID)
	switch {
	case errors.Is(err, knowledge.ErrProfileNotFound):
		s.logger.Debug("no knowledge profile, using defaults", "error", err)
		cc = knowledge.DefaultCallContext()
	case err != nil:
		s.logger.Warn("context refresh failed, keeping current context", "error", err)
		return fmt.Errorf("refresh context for %s: %w", s.callID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.applyContext(cc)
	s.logger.Info("context refreshed", "stages", len(cc.Stages), "snippets", len(cc.Snippets), "defaulted", cc.Defaulted)
	e.broadcastChecklistLocked(s)
	return nil
}

// EmitSessionStart announces the session and its first suggestions. It is
// deferred until the call context has loaded.
func (e *Engine) EmitSessionStart(callID string) {
	s := e.sessions.get(strings.TrimSpace(callID))
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if !s.contextReady {
		s.startDeferred = true
		return
	}
	e.emitSessionStartLocked(s)
}

func (e *Engine) emitSessionStartLocked(s *session) {
	stages := s.tracker.Stages()
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = st.Name
	}
	e.broadcast(s, protocol.EventSessionStart, protocol.SessionStartData{
		Stage:        s.tracker.Current().Name,
		StageIndex:   s.tracker.Index(),
		Stages:       names,
		Checklist:    checklistPayload(s.tracker.Checklist()),
		PracticeMode: s.practice,
		Defaulted:    s.callCtx.Defaulted,
	})
	e.runTickLocked(s, ReasonSessionStart, s.seq)
}

func (e *Engine) loadContext(s *session) {
	ctx, cancel := context.WithTimeout(e.ctx, contextLoadTimeout)
	defer cancel()

	cc, err := e.knowledge.Load(ctx, s.callID)
	if err != nil {
		if errors.Is(err, knowledge.ErrProfileNotFound) {
			s.logger.Debug("no knowledge profile, using defaults", "error", err)
		} else {
			s.logger.Warn("knowledge load failed, using defaults", "error", err)
		}
		cc = knowledge.DefaultCallContext()
	}
	persisted, found, err := e.store.LoadCoachMemory(ctx, s.callID)
	if err != nil {
		s.logger.Warn("coach memory load failed", "error", err)
	}
	rows, err := e.store.RecentTranscript(ctx, s.callID, e.cfg.TranscriptWindow)
	if err != nil {
		s.logger.Warn("transcript load failed", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.applyContext(cc)
	if found {
		s.memory = mergeMemory(persisted, s.memory)
	}
	if len(s.transcript) == 0 {
		// A resumed call picks up where the persisted transcript left off.
		for _, row := range rows {
			s.appendTurn(transcriptTurn{Speaker: row.Speaker, Text: row.Text, TimestampMs: row.CreatedAt.UnixMilli()})
		}
	}
	s.logger.Debug("context loaded", "stages", len(cc.Stages), "snippets", len(cc.Snippets), "defaulted", cc.Defaulted,
		"memory_found", found, "resumed_turns", len(rows))
	if s.startDeferred {
		s.startDeferred = false
		e.emitSessionStartLocked(s)
	}
}

// Close stops every session and waits for background work.
func (e *Engine) Close() {
	for _, s := range e.sessions.drain() {
		e.endSession(s, endShutdown)
	}
	e.cancel()
	e.wg.Wait()
	e.hub.closeAll()
}

func (e *Engine) goAsync(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

func (e *Engine) broadcast(s *session, typ protocol.EventType, data any) {
	e.hub.publish(protocol.NewEvent(s.callID, typ, data))
}

func (e *Engine) broadcastChecklistLocked(s *session) {
	e.broadcast(s, protocol.EventChecklist, protocol.ChecklistData{
		Stage: s.tracker.Current().Name,
		Items: checklistPayload(s.tracker.Checklist()),
	})
}

func (e *Engine) persistTurn(callID string, turn transcriptTurn) {
	text, redacted := policy.RedactPII(turn.Text)
	if redacted {
		e.logger.Debug("transcript redacted", "call_id", callID, "kinds", policy.RedactedKinds(turn.Text))
	}
	row := memory.TranscriptRow{
		ID:          uuid.NewString(),
		CallID:      callID,
		Speaker:     turn.Speaker,
		Text:        text,
		PIIRedacted: redacted,
		CreatedAt:   time.UnixMilli(turn.TimestampMs).UTC(),
	}
	e.goAsync(func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := e.store.SaveTranscript(ctx, row); err != nil {
			e.metrics.ObserveSessionEvent("transcript_save_failed")
			e.logger.Warn("transcript save failed", "call_id", callID, "error", err)
		}
	})
}

func (e *Engine) persistMemory(callID string, mem memory.CoachMemory) {
	e.goAsync(func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := e.store.SaveCoachMemory(ctx, callID, mem); err != nil {
			e.metrics.ObserveSessionEvent("memory_save_failed")
			e.logger.Warn("coach memory save failed", "call_id", callID, "error", err)
		}
	})
}

// persistStatusLocked writes call status in order: each write waits for the
// previous one of the same session.
func (e *Engine) persistStatusLocked(s *session, status string) {
	prev := s.statusWritten
	done := make(chan struct{})
	s.statusWritten = done
	callID := s.callID
	e.goAsync(func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := e.store.SetCallStatus(ctx, callID, status); err != nil {
			e.logger.Warn("call status save failed", "call_id", callID, "status", status, "error", err)
		}
	})
}
