package session

import (
	"context"
	"sync"

	"github.com/MrWong99/wernicke/internal/observe"
)

// Registry tracks the live sessions of a server. It backs the /health
// endpoint and the active-session gauge.
//
// All methods are safe for concurrent use.
type Registry struct {
	met *observe.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry reporting to m. A nil m falls back
// to [observe.DefaultMetrics].
func NewRegistry(m *observe.Metrics) *Registry {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Registry{
		met:      m,
		sessions: make(map[string]*Session),
	}
}

// Add registers a session under its id.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	r.met.ActiveSessions.Add(context.Background(), 1)
}

// Remove drops a session. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, present := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if present {
		r.met.ActiveSessions.Add(context.Background(), -1)
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
