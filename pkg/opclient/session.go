package opclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"outpatient-backend/internal/models"
)

// Profile is the signed-in staff member.
type Profile struct {
	ID       uint64      `json:"id"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
}

// SessionState is what a store persists between runs.
type SessionState struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      Profile   `json:"user"`
}

// SessionStore persists the session. Load returns nil, nil when nothing is
// stored.
type SessionStore interface {
	Load() (*SessionState, error)
	Save(state *SessionState) error
	Clear() error
}

// MemoryStore keeps the session for the life of the process.
type MemoryStore struct {
	mu    sync.Mutex
	state *SessionState
}

func (m *MemoryStore) Load() (*SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, nil
	}
	cp := *m.state
	return &cp, nil
}

func (m *MemoryStore) Save(state *SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.state = &cp
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
	return nil
}

// FileStore keeps the session as JSON in a file readable only by the owner.
type FileStore struct {
	Path string
}

func (f FileStore) Load() (*SessionState, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &state, nil
}

func (f FileStore) Save(state *SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(f.Path, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (f FileStore) Clear() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// Session is the client's authentication context. It starts empty, is
// hydrated from its store and is torn down on logout or any 401.
type Session struct {
	store SessionStore
	now   func() time.Time

	mu    sync.RWMutex
	state *SessionState
}

// NewSession wraps store. A nil store keeps the session in memory.
func NewSession(store SessionStore) *Session {
	if store == nil {
		store = &MemoryStore{}
	}
	return &Session{store: store, now: time.Now}
}

// Hydrate restores a stored session. An expired session is cleared instead.
func (s *Session) Hydrate() error {
	state, err := s.store.Load()
	if err != nil {
		return err
	}
	if state == nil || state.Token == "" {
		return nil
	}
	if !state.ExpiresAt.IsZero() && !s.now().Before(state.ExpiresAt) {
		return s.Clear()
	}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return nil
}

// Current returns a copy of the active session, or nil when signed out.
func (s *Session) Current() *SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil
	}
	cp := *s.state
	return &cp
}

func (s *Session) token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return ""
	}
	return s.state.Token
}

func (s *Session) set(state *SessionState) error {
	if err := s.store.Save(state); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return nil
}

// Clear signs the session out locally.
func (s *Session) Clear() error {
	s.mu.Lock()
	s.state = nil
	s.mu.Unlock()
	return s.store.Clear()
}
