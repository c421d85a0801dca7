package mcp

import "sync"

// SessionRegistry maps agents to MCP session ids. An agent is keyed by app
// and id, since agent ids are only unique within one app's world. Entries are
// captured when a client calls an action tool.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[agentKey]string
}

type agentKey struct {
	app   string
	agent string
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[agentKey]string)}
}

// Register associates an app agent with a session. A reconnecting agent
// overwrites its previous session.
func (r *SessionRegistry) Register(app, agentID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[agentKey{app, agentID}] = sessionID
}

// SessionFor returns the session of an app agent, if connected.
func (r *SessionRegistry) SessionFor(app, agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[agentKey{app, agentID}]
	return sid, ok
}

// Remove deletes every agent mapped to sessionID.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, k)
		}
	}
}

// Len returns the number of connected agents.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
