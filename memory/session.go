package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/becomeliminal/nim-runtime/core"
)

// Session is one conversation. Its runs are serialised: at most one pipeline
// run (or history wipe) touches the working memory at a time.
type Session struct {
	ID        string
	CreatedAt time.Time

	turn   chan struct{} // single slot; holding it means owning the session
	memory *WorkingMemory
}

func newSession(id string) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		turn:      make(chan struct{}, 1),
		memory:    NewWorkingMemory(),
	}
}

// WorkingMemory returns the committed working memory.
func (s *Session) WorkingMemory() *WorkingMemory {
	return s.memory
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session %s busy: %w", s.ID, ctx.Err())
	}
}

func (s *Session) release() {
	<-s.turn
}

// Transact runs fn with exclusive ownership of the session. fn receives a
// clone of the working memory which is committed only if fn returns nil, so
// an aborted run leaves no partial writes behind.
func (s *Session) Transact(ctx context.Context, fn func(wm *WorkingMemory) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	draft := s.memory.Clone()
	if err := fn(draft); err != nil {
		return err
	}
	s.memory.replace(draft)
	return nil
}

// ClearHistory empties the session history once no run is in progress.
func (s *Session) ClearHistory(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	s.memory.ClearHistory()
	return nil
}

// SessionStore holds sessions keyed by id (the user id).
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Get returns an existing session.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// GetOrCreate returns the session for id, creating it on first use.
func (s *SessionStore) GetOrCreate(id string) (*Session, error) {
	if id == "" {
		return nil, &core.ValidationError{Field: "user_id", Message: "session id is empty"}
	}
	if sess, ok := s.Get(id); ok {
		return sess, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	sess := newSession(id)
	s.sessions[id] = sess
	return sess, nil
}

// Len returns the number of sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
