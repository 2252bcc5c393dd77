package persona

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loadmi/Wyatt-sub000/internal/fsstore"
)

var ErrUnknownPersona = errors.New("persona: unknown persona id")

// Record is the persona assignment for one conversation.
type Record struct {
	PersonaID    string    `json:"personaId"`
	SystemPrompt string    `json:"systemPrompt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type stateFile struct {
	ChatPersonalities map[string]Record `json:"chatPersonalities"`
}

// Service owns the per-conversation persona records and the bounded prompt
// cache. Records are created lazily with the default persona and persisted
// on every mutation; they are never deleted, only overwritten.
type Service struct {
	mu        sync.Mutex
	registry  *Registry
	defaultID string
	records   map[string]Record
	cache     *promptCache
	statePath string
	logger    *slog.Logger
	now       func() time.Time
}

type ServiceOptions struct {
	Registry      *Registry
	DefaultID     string
	CacheCapacity int
	StatePath     string
	Logger        *slog.Logger
	Now           func() time.Time
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("persona: registry is required")
	}
	if !opts.Registry.Has(opts.DefaultID) {
		return nil, fmt.Errorf("persona: default persona %q is not in the registry", opts.DefaultID)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	svc := &Service{
		registry:  opts.Registry,
		defaultID: opts.DefaultID,
		records:   make(map[string]Record),
		cache:     newPromptCache(opts.CacheCapacity, now),
		statePath: opts.StatePath,
		logger:    logger,
		now:       now,
	}
	if svc.statePath != "" {
		var state stateFile
		found, err := fsstore.ReadJSON(svc.statePath, &state)
		if err != nil {
			return nil, fmt.Errorf("load persona state: %w", err)
		}
		if found && state.ChatPersonalities != nil {
			svc.records = state.ChatPersonalities
		}
	}
	return svc, nil
}

// Resolve returns the persona record for key, materializing one with the
// default persona on first access.
func (s *Service) Resolve(key string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok {
		return rec, nil
	}

	prompt, err := s.promptLocked(s.defaultID)
	if err != nil {
		return Record{}, err
	}
	now := s.now().UTC()
	rec := Record{
		PersonaID:    s.defaultID,
		SystemPrompt: prompt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.records[key] = rec
	s.persistLocked()
	return rec, nil
}

// Set switches the conversation to the requested persona.
func (s *Service) Set(key, personaID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registry.Has(personaID) {
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownPersona, personaID)
	}
	prompt, err := s.promptLocked(personaID)
	if err != nil {
		return Record{}, err
	}

	now := s.now().UTC()
	rec, ok := s.records[key]
	if !ok {
		rec.CreatedAt = now
	}
	rec.PersonaID = personaID
	rec.SystemPrompt = prompt
	rec.UpdatedAt = now
	s.records[key] = rec
	s.persistLocked()
	return rec, nil
}

// Summary reports the record for key without materializing one.
func (s *Service) Summary(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok
}

func (s *Service) CacheLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.len()
}

// promptLocked resolves a prompt through the bounded cache, falling back to
// the registry on a miss.
func (s *Service) promptLocked(personaID string) (string, error) {
	if text, ok := s.cache.get(personaID); ok {
		return text, nil
	}
	text, ok := s.registry.Prompt(personaID)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPersona, personaID)
	}
	s.cache.put(personaID, text)
	return text, nil
}

// Persistence is write-through but non-fatal: a failed write is logged and
// the in-memory state stays authoritative for this process.
func (s *Service) persistLocked() {
	if s.statePath == "" {
		return
	}
	state := stateFile{ChatPersonalities: s.records}
	if err := fsstore.WriteJSONAtomic(s.statePath, state); err != nil {
		s.logger.Warn("persona_state_write_error", "path", s.statePath, "error", err.Error())
	}
}
