package coach

import (
	"context"
	"sync"
	"time"
)

const defaultJanitorInterval = 5 * time.Second

// registry owns the call id to session mapping.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*session)}
}

func (r *registry) get(callID string) *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[callID]
}

// add stores s unless the id is taken. It reports whether s was added.
func (r *registry) add(s *session) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, ErrEngineClosed
	}
	if _, ok := r.sessions[s.callID]; ok {
		return false, nil
	}
	r.sessions[s.callID] = s
	return true, nil
}

func (r *registry) remove(callID string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return nil
	}
	delete(r.sessions, callID)
	return s
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// idle lists sessions without inbound activity since cutoff.
func (r *registry) idle(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// drain closes the registry to new sessions and returns every live one.
func (r *registry) drain() []*session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	out := make([]*session, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, s)
		delete(r.sessions, id)
	}
	return out
}

// StartJanitor expires sessions idle for longer than the inactivity timeout
// until ctx is done.
func (e *Engine) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	ticker := time.NewTicker(interval)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.ctx.Done():
				return
			case <-ticker.C:
				e.expireInactive()
			}
		}
	}()
}

func (e *Engine) expireInactive() {
	if e.cfg.InactivityTimeout <= 0 {
		return
	}
	for _, callID := range e.sessions.idle(time.Now().Add(-e.cfg.InactivityTimeout)) {
		e.logger.Info("session expired", "call_id", callID, "timeout", e.cfg.InactivityTimeout)
		e.stop(callID, endExpired)
	}
}
