package orch

import (
	"sort"
	"sync"

	"github.com/dkeye/callbot/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry is the single table of session rows, keyed by room id.
// Cross-room operations never hold a row lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.RoomID]*session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.RoomID]*session)}
}

// Acquire returns the row of id, creating it, and counts the caller as a
// joiner until Release.
func (r *Registry) Acquire(id domain.RoomID) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = newSession(id)
		r.sessions[id] = s
		log.Info().Str("module", "orch.registry").Str("room", string(id)).Msg("created session row")
	}
	s.joiners++
	return s
}

// Release ends an Acquire. The last joiner drops a row that never left Idle,
// e.g. when every join gave up waiting for the row lock.
func (r *Registry) Release(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.joiners--
	if s.joiners > 0 || s.state() != domain.StateIdle || s.isRemoved() {
		return
	}
	s.markRemoved()
	if cur, ok := r.sessions[s.roomID]; ok && cur == s {
		delete(r.sessions, s.roomID)
	}
	log.Debug().Str("module", "orch.registry").Str("room", string(s.roomID)).Msg("dropped idle session row")
}

func (r *Registry) Get(id domain.RoomID) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the row only if it is still s.
func (r *Registry) Remove(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.roomID]; ok && cur == s {
		delete(r.sessions, s.roomID)
	}
	log.Info().Str("module", "orch.registry").Str("room", string(s.roomID)).Msg("removed session row")
}

// All returns the rows ordered by room id.
func (r *Registry) All() []*session {
	r.mu.RLock()
	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].roomID < out[j].roomID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
