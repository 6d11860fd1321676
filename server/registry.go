package server

import (
	"sort"
	"sync"
)

// SessionRegistry is the authoritative set of online users.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Session)}
}

// Put maps username to s unconditionally and returns the session it replaced,
// if any.
func (r *SessionRegistry) Put(username string, s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[username]
	r.sessions[username] = s
	return prev
}

func (r *SessionRegistry) Get(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[username]
	return s, ok
}

// Remove deletes username only while it still maps to s, so a replaced
// session cannot evict its successor.
func (r *SessionRegistry) Remove(username string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[username] != s {
		return false
	}
	delete(r.sessions, username)
	return true
}

// Snapshot returns the online usernames, sorted.
func (r *SessionRegistry) Snapshot() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.sessions))
	for username := range r.sessions {
		users = append(users, username)
	}
	r.mu.RUnlock()

	sort.Strings(users)
	return users
}

func (r *SessionRegistry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
