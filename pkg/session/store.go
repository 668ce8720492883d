// Package session holds the conversation identity a backend assigns on the
// first reply.
package session

import (
	"strings"
	"sync"
)

// Store keeps at most one session id. Once set it never changes.
type Store struct {
	mu sync.RWMutex
	id string
}

// Get returns the stored id and whether one has been assigned.
func (s *Store) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.id, s.id != ""
}

// SetIfAbsent stores id when no session is held yet. Blank ids and every call
// after the first successful one are ignored. It reports whether id was stored.
func (s *Store) SetIfAbsent(id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.id != "" {
		return false
	}

	s.id = id
	return true
}
