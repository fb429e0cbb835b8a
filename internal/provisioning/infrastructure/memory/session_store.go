package memory

import (
	"context"
	"sync"

	provisioning "github.com/kovacsmedia/SchoolLive-backend/internal/provisioning/domain"
)

// SessionStore keeps provisioning sessions in memory for tests.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]provisioning.Session
}

// NewSessionStore constructs an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: map[string]provisioning.Session{}}
}

// Create inserts a session.
func (s *SessionStore) Create(_ context.Context, session provisioning.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Token] = session
	return nil
}

// Get loads a session by token, or nil.
func (s *SessionStore) Get(_ context.Context, token string) (*provisioning.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return nil, nil
	}
	copied := session
	return &copied, nil
}

// MarkUsed redeems a session exactly once.
func (s *SessionStore) MarkUsed(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok || session.Used {
		return false, nil
	}
	session.Used = true
	s.sessions[token] = session
	return true, nil
}
