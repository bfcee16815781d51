package usecase

import (
	"sync"
	"time"

	"recalld/internal/domain"
)

// SessionInfo tracks one session's live state. All fields are guarded by
// the owning Registry's lock. MemoryIDs holds the session's memory IDs in
// registration order, which defines in-session visibility order.
type SessionInfo struct {
	ID         string
	CreatedAt  time.Time
	LastActive time.Time
	MemoryIDs  []string
}

// MemoryCount returns how many memories the session has registered.
func (s *SessionInfo) MemoryCount() int { return len(s.MemoryIDs) }

// Registry tracks sessions the engine has seen. A session exists from its
// first store or retrieval until it is reaped for inactivity; reaping
// drops only the registry entry, never the persisted memories.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*SessionInfo
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*SessionInfo)}
}

// Touch marks a session active, creating it on first sight.
func (r *Registry) Touch(sessionID string) *SessionInfo {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		s = &SessionInfo{ID: sessionID, CreatedAt: now}
		r.sessions[sessionID] = s
	}
	s.LastActive = now
	return s
}

// Register appends a memory ID to the session's ordered list, creating
// the session if needed.
func (r *Registry) Register(sessionID, memoryID string) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		s = &SessionInfo{ID: sessionID, CreatedAt: now}
		r.sessions[sessionID] = s
	}
	s.LastActive = now
	s.MemoryIDs = append(s.MemoryIDs, memoryID)
}

// Get returns a copy of a session's info or domain.ErrSessionNotFound.
func (r *Registry) Get(sessionID string) (SessionInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return SessionInfo{}, domain.NewDomainError("Registry.Get", domain.ErrSessionNotFound, sessionID)
	}
	cp := *s
	cp.MemoryIDs = append([]string(nil), s.MemoryIDs...)
	return cp, nil
}

// List returns the session's memory IDs in registration order, or
// domain.ErrSessionNotFound.
func (r *Registry) List(sessionID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.NewDomainError("Registry.List", domain.ErrSessionNotFound, sessionID)
	}
	return append([]string(nil), s.MemoryIDs...), nil
}

// ActiveCount returns the number of tracked sessions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns all tracked session IDs.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// ReapStale removes sessions idle for longer than maxAge and returns the
// count of reaped sessions.
func (r *Registry) ReapStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	// Phase 1: identify stale sessions under read lock.
	r.mu.RLock()
	var staleIDs []string
	for id, s := range r.sessions {
		if s.LastActive.Before(cutoff) {
			staleIDs = append(staleIDs, id)
		}
	}
	r.mu.RUnlock()

	if len(staleIDs) == 0 {
		return 0
	}

	// Phase 2: delete under write lock, revalidating — the session may
	// have been touched between phases.
	reaped := 0
	r.mu.Lock()
	for _, id := range staleIDs {
		if s, ok := r.sessions[id]; ok && s.LastActive.Before(cutoff) {
			delete(r.sessions, id)
			reaped++
		}
	}
	r.mu.Unlock()
	return reaped
}
