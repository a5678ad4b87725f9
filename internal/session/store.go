// Package session keeps per-user, per-farm conversation state in memory:
// an ordered message history behind a bounded window, a pinned system
// message, and the most recent telemetry snapshot used for context.
package session

import (
	"errors"
	"sync"

	"farm-advisory-agent/internal/domain"
)

const defaultWindow = 20

// Session holds one user/farm conversation. All mutation goes through the
// methods below; the mutex makes appends atomic so two concurrent turns for
// the same session cannot interleave partial writes.
type Session struct {
	mu       sync.Mutex
	system   domain.ChatMessage
	messages []domain.ChatMessage
	snapshot *domain.TelemetrySnapshot
	window   int
}

// Append adds a message to the history. System-role messages are rejected;
// the pinned system message is set at session creation and never dropped.
func (s *Session) Append(msg domain.ChatMessage) error {
	if msg.Role == domain.RoleSystem {
		return errors.New("session: system messages are pinned, not appended")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	// Trim eagerly so memory stays bounded alongside the window.
	if over := len(s.messages) - s.window; over > 0 {
		s.messages = append([]domain.ChatMessage(nil), s.messages[over:]...)
	}
	return nil
}

// Window returns the pinned system message followed by the most recent
// window of non-system messages, oldest first. The returned slice is a copy.
func (s *Session) Window() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, 0, len(s.messages)+1)
	out = append(out, s.system)
	out = append(out, s.messages...)
	return out
}

// History returns the non-system messages only, oldest first.
func (s *Session) History() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatMessage(nil), s.messages...)
}

// SetSnapshot pins the latest telemetry snapshot used for this session.
func (s *Session) SetSnapshot(snap *domain.TelemetrySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
}

// Snapshot returns the most recently pinned telemetry snapshot, or nil.
func (s *Session) Snapshot() *domain.TelemetrySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Store hands out sessions keyed by user and farm.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	system   string
	window   int
}

// Option configures a Store.
type Option func(*Store)

// WithWindow overrides the bounded history window.
func WithWindow(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.window = n
		}
	}
}

// NewStore creates a Store whose sessions pin the given system prompt.
func NewStore(systemPrompt string, opts ...Option) (*Store, error) {
	if systemPrompt == "" {
		return nil, errors.New("session: system prompt must not be empty")
	}
	st := &Store{
		sessions: make(map[string]*Session),
		system:   systemPrompt,
		window:   defaultWindow,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st, nil
}

// Get returns the session for a user/farm pair, creating it on first use.
func (st *Store) Get(userID, farmID string) *Session {
	key := userID + "|" + farmID
	st.mu.RLock()
	s, ok := st.sessions[key]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok = st.sessions[key]; ok {
		return s
	}
	s = &Session{
		system: domain.ChatMessage{Role: domain.RoleSystem, Content: st.system},
		window: st.window,
	}
	st.sessions[key] = s
	return s
}
