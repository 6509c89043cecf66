package livenative

import (
	"sort"
	"sync"
)

// SessionStore keeps the sessions of one connection, keyed by channel topic
type SessionStore interface {
	Get(topic string) *Session
	Set(topic string, session *Session)
	Delete(topic string)
}

// MemorySessionStore is a simple in-memory session store
type MemorySessionStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewMemorySessionStore creates a new in-memory session store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*Session),
	}
}

// Get retrieves a session, or nil
func (s *MemorySessionStore) Get(topic string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[topic]
}

// Set stores a session
func (s *MemorySessionStore) Set(topic string, session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[topic] = session
}

// Delete removes a session and discards its state
func (s *MemorySessionStore) Delete(topic string) {
	s.mu.Lock()
	session := s.sessions[topic]
	delete(s.sessions, topic)
	s.mu.Unlock()

	if session != nil {
		session.Reset()
	}
}

// GetOrCreate returns the session for topic, creating it with opts if it
// does not exist yet
func (s *MemorySessionStore) GetOrCreate(topic string, opts ...Option) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[topic]; ok {
		return session
	}
	session := New(opts...)
	s.sessions[topic] = session
	return session
}

// Topics returns the stored topics in sorted order
func (s *MemorySessionStore) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]string, 0, len(s.sessions))
	for topic := range s.sessions {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
