package session

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry tracks live sessions keyed by remote address.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds a session, closing any previous one under the same key.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[s.Key()]; ok {
		existing.Close()
	}
	r.sessions[s.Key()] = s
	log.Debug().Str("remote", s.Key()).Msg("session registered")
}

// Unregister removes and closes the session under key, if present.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		s.Close()
		delete(r.sessions, key)
		log.Debug().Str("remote", key).Msg("session unregistered")
	}
}

// Get returns the session under key.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Snapshot returns the current sessions. Callers iterate the copy so no
// lock is held while writing to sockets.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// ByPlayer returns every session bound to playerID.
func (r *Registry) ByPlayer(playerID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, s := range r.sessions {
		if s.PlayerID() == playerID {
			out = append(out, s)
		}
	}
	return out
}

// GameplayByPlayer returns the player's gameplay session, if connected.
func (r *Registry) GameplayByPlayer(playerID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if s.Gameplay() && s.PlayerID() == playerID {
			return s, true
		}
	}
	return nil, false
}

// LobbyByPlayer returns the player's lobby session, if connected.
func (r *Registry) LobbyByPlayer(playerID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if !s.Gameplay() && s.PlayerID() == playerID {
			return s, true
		}
	}
	return nil, false
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes and drops every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, s := range r.sessions {
		s.Close()
		delete(r.sessions, key)
	}
	log.Info().Msg("all sessions closed")
}
