package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu          sync.RWMutex
	transcripts map[string][]TranscriptRow
	coach       map[string]CoachMemory
	status      map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		transcripts: make(map[string][]TranscriptRow),
		coach:       make(map[string]CoachMemory),
		status:      make(map[string]string),
	}
}

func (s *InMemoryStore) SaveTranscript(_ context.Context, row TranscriptRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	s.transcripts[row.CallID] = append(s.transcripts[row.CallID], row)
	return nil
}

func (s *InMemoryStore) RecentTranscript(_ context.Context, callID string, limit int) ([]TranscriptRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.transcripts[callID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TranscriptRow, 0, limit)
	out = append(out, arr[len(arr)-limit:]...)
	return out, nil
}

func (s *InMemoryStore) LoadCoachMemory(_ context.Context, callID string) (CoachMemory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mem, ok := s.coach[callID]
	if !ok {
		return CoachMemory{}, false, nil
	}
	return mem.Clone(), true, nil
}

func (s *InMemoryStore) SaveCoachMemory(_ context.Context, callID string, mem CoachMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coach[callID] = mem.Clone()
	return nil
}

func (s *InMemoryStore) SetCallStatus(_ context.Context, callID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[callID] = status
	return nil
}

// CallStatus returns the last status written for callID.
func (s *InMemoryStore) CallStatus(callID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status[callID]
}

func (s *InMemoryStore) Close() error { return nil }
