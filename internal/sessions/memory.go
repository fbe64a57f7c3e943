package sessions

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultDestroyedTTL = 24 * time.Hour

// MemoryStore keeps sessions in process memory. State does not survive a
// restart; use RedisStore when calls must fail over between instances.
// Entries expire on the same schedule as RedisStore keys.
type MemoryStore struct {
	mu        sync.RWMutex
	calls     map[string]CallState
	configs   map[string]memoryConfig
	destroyed map[string]time.Time

	ttl          time.Duration
	destroyedTTL time.Duration
	now          func() time.Time
	newID        func() string
}

type memoryConfig struct {
	cfg       DialogueConfig
	createdAt time.Time
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithSessionTTL bounds how long an abandoned call keeps its state.
func WithSessionTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		calls:        make(map[string]CallState),
		configs:      make(map[string]memoryConfig),
		destroyed:    make(map[string]time.Time),
		ttl:          defaultSessionTTL,
		destroyedTTL: defaultDestroyedTTL,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(_ context.Context, callerID string, cfg DialogueConfig) (string, error) {
	sessionID := s.newID()
	now := s.now().UTC()

	cfg.SessionID = sessionID
	cfg.CallerID = callerID
	if strings.TrimSpace(cfg.ThreadID) == "" {
		cfg.ThreadID = s.newID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	s.calls[callerID] = CallState{
		CallerID:  callerID,
		SessionID: sessionID,
		Phase:     PhaseGreeting,
		StartedAt: now,
		UpdatedAt: now,
	}
	s.configs[sessionID] = memoryConfig{cfg: cfg, createdAt: now}
	return sessionID, nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (DialogueConfig, error) {
	now := s.now().UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.destroyed[sessionID]; ok {
		return DialogueConfig{}, ErrSessionClosed
	}
	entry, ok := s.configs[sessionID]
	if !ok || s.expired(entry.createdAt, now) {
		return DialogueConfig{}, ErrSessionNotFound
	}
	return entry.cfg, nil
}

func (s *MemoryStore) Touch(_ context.Context, callerID string, delta int) (CallState, error) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	state, ok := s.calls[callerID]
	if !ok {
		state = CallState{CallerID: callerID, StartedAt: now}
	}
	state.TurnCount += delta
	if !state.Phase.Terminal() {
		state.Phase = PhaseListening
	}
	state.UpdatedAt = now
	s.calls[callerID] = state
	return state, nil
}

func (s *MemoryStore) SetPhase(_ context.Context, callerID string, phase Phase) error {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.calls[callerID]
	if !ok || s.expired(state.UpdatedAt, now) {
		return nil
	}
	state.Phase = phase
	state.UpdatedAt = now
	s.calls[callerID] = state
	return nil
}

func (s *MemoryStore) Destroy(_ context.Context, callerID, sessionID string) error {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.calls[callerID]; ok && (sessionID == "" || state.SessionID == sessionID || state.SessionID == "") {
		delete(s.calls, callerID)
	}
	if sessionID != "" {
		delete(s.configs, sessionID)
		s.destroyed[sessionID] = now
	}
	s.pruneLocked(now)
	return nil
}

func (s *MemoryStore) IsDestroyed(_ context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.destroyed[sessionID]
	return ok, nil
}

// State returns the caller's call state, if any.
func (s *MemoryStore) State(callerID string) (CallState, bool) {
	now := s.now().UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.calls[callerID]
	if !ok || s.expired(state.UpdatedAt, now) {
		return CallState{}, false
	}
	return state, true
}

func (s *MemoryStore) expired(stamp, now time.Time) bool {
	return !now.Before(stamp.Add(s.ttl))
}

func (s *MemoryStore) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.destroyedTTL)
	for id, at := range s.destroyed {
		if at.Before(cutoff) {
			delete(s.destroyed, id)
		}
	}
	for caller, state := range s.calls {
		if s.expired(state.UpdatedAt, now) {
			delete(s.calls, caller)
		}
	}
	for id, entry := range s.configs {
		if s.expired(entry.createdAt, now) {
			delete(s.configs, id)
		}
	}
}
