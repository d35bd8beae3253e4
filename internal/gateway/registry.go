package gateway

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks live sessions. It only answers "how many" and hands
// out opaque session IDs; sessions own their own lifecycle.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]struct{})}
}

// Add registers a new session and returns its ID.
func (r *Registry) Add() string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = struct{}{}
	r.mu.Unlock()
	return id
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
