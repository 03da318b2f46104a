package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/callcoach/internal/coach"
	"github.com/ent0n29/callcoach/internal/config"
	"github.com/ent0n29/callcoach/internal/logging"
	"github.com/ent0n29/callcoach/internal/observability"
	"github.com/ent0n29/callcoach/internal/protocol"
)

// Coach is the engine surface the HTTP layer drives.
type Coach interface {
	Start(callID string, opts coach.StartOptions) error
	Stop(callID string)
	Active(callID string) bool
	ActiveSessions() int
	RefreshContext(ctx context.Context, callID string) error
	EmitSessionStart(callID string)
	PushTranscript(callID, speaker, text string)
	SignalSpeaking(callID, speaker, partialText string)
	GetAlternatives(ctx context.Context, callID, mode string, count int) ([]string, error)
	Subscribe(callID string) (<-chan protocol.Event, func())
}

type Server struct {
	cfg      config.Config
	coach    Coach
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, engine Coach, metrics *observability.Metrics, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		coach:   engine,
		metrics: metrics,
		logger:  logging.NewComponentLogger(logger, "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1/calls/{id}", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/session-start", s.handleSessionStart)
		r.Post("/transcript", s.handleTranscript)
		r.Post("/speaking", s.handleSpeaking)
		r.Post("/alternatives", s.handleAlternatives)
		r.Get("/ws", s.handleCallWS)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.coach.ActiveSessions(),
		"completion_mode": s.cfg.Completion.Mode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"memory_store":    storeMode(s.cfg.DatabaseURL),
		"completion_mode": s.cfg.Completion.Mode,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "metrics not configured")
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

type startRequest struct {
	PracticeMode bool `json:"practice_mode"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	callID := callIDParam(r)
	var req startRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	err := s.coach.Start(callID, coach.StartOptions{PracticeMode: req.PracticeMode})
	switch {
	case errors.Is(err, coach.ErrInvalidCallID):
		respondError(w, http.StatusBadRequest, "invalid_call_id", err.Error())
		return
	case errors.Is(err, coach.ErrEngineClosed):
		respondError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "start_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"call_id":           callID,
		"status":            "active",
		"practice_mode":     req.PracticeMode || s.cfg.Coach.PracticeMode,
		"inactivity_ttl_ms": s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	callID := callIDParam(r)
	s.coach.Stop(callID)
	respondJSON(w, http.StatusOK, map[string]any{"call_id": callID, "status": "ended"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	callID, ok := s.requireActive(w, r)
	if !ok {
		return
	}
	if err := s.coach.RefreshContext(r.Context(), callID); err != nil {
		respondError(w, http.StatusBadGateway, "refresh_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"call_id": callID, "status": "refreshed"})
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	callID, ok := s.requireActive(w, r)
	if !ok {
		return
	}
	s.coach.EmitSessionStart(callID)
	respondJSON(w, http.StatusAccepted, map[string]any{"call_id": callID})
}

type transcriptRequest struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Final   *bool  `json:"final,omitempty"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	callID, ok := s.requireActive(w, r)
	if !ok {
		return
	}
	var req transcriptRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Speaker) == "" || strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "speaker and text are required")
		return
	}
	s.dispatch(callID, protocol.ClientTranscript{
		Type:    protocol.ClientTypeTranscript,
		Speaker: req.Speaker,
		Text:    req.Text,
		Final:   req.Final,
	})
	respondJSON(w, http.StatusAccepted, map[string]any{"call_id": callID})
}

type speakingRequest struct {
	Speaker     string `json:"speaker"`
	PartialText string `json:"partial_text"`
}

func (s *Server) handleSpeaking(w http.ResponseWriter, r *http.Request) {
	callID, ok := s.requireActive(w, r)
	if !ok {
		return
	}
	var req speakingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Speaker) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "speaker is required")
		return
	}
	s.coach.SignalSpeaking(callID, req.Speaker, req.PartialText)
	respondJSON(w, http.StatusAccepted, map[string]any{"call_id": callID})
}

type alternativesRequest struct {
	Mode  string `json:"mode"`
	Count int    `json:"count"`
}

func (s *Server) handleAlternatives(w http.ResponseWriter, r *http.Request) {
	callID := callIDParam(r)
	var req alternativesRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	lines, err := s.coach.GetAlternatives(r.Context(), callID, req.Mode, req.Count)
	switch {
	case errors.Is(err, coach.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"call_id": callID, "suggestions": lines})
}

// dispatch routes one inbound client message to the engine.
func (s *Server) dispatch(callID string, msg any) {
	switch m := msg.(type) {
	case protocol.ClientTranscript:
		if m.IsFinal() {
			s.coach.PushTranscript(callID, m.Speaker, m.Text)
			return
		}
		s.coach.SignalSpeaking(callID, m.Speaker, m.Text)
	case protocol.ClientSpeaking:
		s.coach.SignalSpeaking(callID, m.Speaker, m.PartialText)
	}
}

func (s *Server) requireActive(w http.ResponseWriter, r *http.Request) (string, bool) {
	callID := callIDParam(r)
	if callID == "" {
		respondError(w, http.StatusBadRequest, "invalid_call_id", "missing call id")
		return "", false
	}
	if !s.coach.Active(callID) {
		respondError(w, http.StatusNotFound, "call_not_found", "no active coaching session for call")
		return "", false
	}
	return callID, true
}

func callIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "id"))
}

func storeMode(databaseURL string) string {
	if strings.TrimSpace(databaseURL) == "" {
		return "in-memory"
	}
	return "postgres"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
