package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/ent0n29/callcoach/internal/playbook"
)

// ErrProfileNotFound is returned when no knowledge is configured for a call.
var ErrProfileNotFound = errors.New("knowledge profile not found")

// Source resolves the knowledge snapshot for a call.
type Source interface {
	Load(ctx context.Context, callID string) (CallContext, error)
}

// document is the on-disk layout. Per-call overrides live under [calls.<id>].
type document struct {
	Profile
	Stages []playbook.Stage      `toml:"stages"`
	Calls  map[string]callConfig `toml:"calls"`
}

type callConfig struct {
	PracticeMode bool             `toml:"practice_mode"`
	Stages       []playbook.Stage `toml:"stages"`
}

// FileSource reads a TOML knowledge file. The file is re-read on every Load
// so refreshes pick up edits.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: strings.TrimSpace(path)}
}

func (s *FileSource) Load(ctx context.Context, callID string) (CallContext, error) {
	if err := ctx.Err(); err != nil {
		return CallContext{}, err
	}
	if s.path == "" {
		return CallContext{}, ErrProfileNotFound
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return CallContext{}, fmt.Errorf("%w: %s", ErrProfileNotFound, s.path)
		}
		return CallContext{}, fmt.Errorf("read knowledge file: %w", err)
	}
	return Parse(raw, callID)
}

// Parse decodes a TOML knowledge document for one call.
func Parse(raw []byte, callID string) (CallContext, error) {
	var doc document
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return CallContext{}, fmt.Errorf("decode knowledge toml: %w", err)
	}
	stages := doc.Stages
	practice := false
	if override, ok := doc.Calls[callID]; ok {
		if len(override.Stages) > 0 {
			stages = override.Stages
		}
		practice = override.PracticeMode
	}
	return NewCallContext(doc.Profile, stages, practice), nil
}

// StaticSource serves fixed contexts, keyed by call id with an optional
// default. Used by tests and the simulate command.
type StaticSource struct {
	mu       sync.RWMutex
	byCall   map[string]CallContext
	fallback *CallContext
}

func NewStaticSource(fallback *CallContext) *StaticSource {
	return &StaticSource{byCall: make(map[string]CallContext), fallback: fallback}
}

func (s *StaticSource) Set(callID string, cc CallContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCall[callID] = cc
}

func (s *StaticSource) Load(_ context.Context, callID string) (CallContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cc, ok := s.byCall[callID]; ok {
		return cc, nil
	}
	if s.fallback != nil {
		return *s.fallback, nil
	}
	return CallContext{}, ErrProfileNotFound
}
