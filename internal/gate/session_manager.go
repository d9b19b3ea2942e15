// internal/gate/session_manager.go
package gate

import (
	"sync"
)

// SessionManager indexes the local connections by session id. One session
// may hold several connections at once.
type SessionManager struct {
	sessions map[string]map[int64]*Conn
	mu       sync.RWMutex
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]map[int64]*Conn),
	}
}

func (sm *SessionManager) Add(sessionID string, c *Conn) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	conns, ok := sm.sessions[sessionID]
	if !ok {
		conns = make(map[int64]*Conn)
		sm.sessions[sessionID] = conns
	}
	conns[c.id] = c
}

// Remove drops c and returns how many connections the session still has.
func (sm *SessionManager) Remove(sessionID string, c *Conn) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	conns, ok := sm.sessions[sessionID]
	if !ok {
		return 0
	}
	delete(conns, c.id)
	if len(conns) == 0 {
		delete(sm.sessions, sessionID)
	}
	return len(conns)
}

func (sm *SessionManager) Get(sessionID string) []*Conn {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	conns := sm.sessions[sessionID]
	items := make([]*Conn, 0, len(conns))
	for _, c := range conns {
		items = append(items, c)
	}
	return items
}

func (sm *SessionManager) snapshot() []*Conn {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var items []*Conn
	for _, conns := range sm.sessions {
		for _, c := range conns {
			items = append(items, c)
		}
	}
	return items
}

// Count returns the number of sessions and connections.
func (sm *SessionManager) Count() (sessions, conns int) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for _, c := range sm.sessions {
		conns += len(c)
	}
	return len(sm.sessions), conns
}
