package scan

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager owns the scan sessions of a server.
type Manager struct {
	opts Options
	deps Deps

	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewManager creates a manager whose sessions share opts and deps.
func NewManager(opts Options, deps Deps) *Manager {
	return &Manager{
		opts:     opts,
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Create builds and starts a session reading from frames. The session is only
// registered when it started successfully.
func (m *Manager) Create(ctx context.Context, filter GroupFilter, frames FrameSource) (*Session, error) {
	session, err := NewSession(uuid.NewString(), filter, frames, m.opts, m.deps)
	if err != nil {
		return nil, err
	}
	if err := session.Start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[session.ID()] = session
	m.mu.Unlock()

	return session, nil
}

// Get retrieves a session by ID, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// List returns all sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		return a.StartedAt().Compare(b.StartedAt())
	})
	return sessions
}

// Stop stops a session but keeps it listed.
func (m *Manager) Stop(id string) error {
	session := m.Get(id)
	if session == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	session.Stop()
	return nil
}

// Remove stops a session, closes its listeners and forgets it.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	session.Stop()
	session.CloseListeners()
	return nil
}

// Shutdown stops every session, waits for their in-flight record calls and closes
// their listeners so open event streams end.
func (m *Manager) Shutdown() {
	sessions := m.List()
	for _, s := range sessions {
		s.Stop()
	}
	for _, s := range sessions {
		s.Wait()
		s.CloseListeners()
	}
}

// ResetAll clears the scan set of every scanning session. Returns how many were reset.
func (m *Manager) ResetAll() int {
	n := 0
	for _, s := range m.List() {
		if s.State() == StateScanning {
			s.ResetScanned()
			n++
		}
	}
	return n
}

// PurgeStopped removes sessions that have been idle for longer than olderThan.
func (m *Manager) PurgeStopped(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	m.mu.Lock()
	var purged []*Session
	for id, s := range m.sessions {
		if s.stoppedSince(cutoff) {
			purged = append(purged, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range purged {
		s.CloseListeners()
	}
	return len(purged)
}

// Count returns the number of sessions and how many are scanning.
func (m *Manager) Count() (total, scanning int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		total++
		if s.State() == StateScanning {
			scanning++
		}
	}
	return total, scanning
}
