package store

import (
	"sync"
	"time"
)

// SessionUser is the authenticated identity bound to a session cookie.
type SessionUser struct {
	Email     string
	Name      string
	Provider  string // "google" | "github" | "credentials"
	CreatedAt time.Time
}

// DefaultSessionTTL mirrors the original 30-day session lifetime.
const DefaultSessionTTL = 30 * 24 * time.Hour

// MemoryStore keeps authenticated sessions and in-flight OAuth state in
// process memory. Safe for concurrent handlers; entries expire on read.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionUser
	ttl      time.Duration
	// OAuth state mapping (CSRF protection) and its reverse, to resolve the
	// session from a provider callback.
	oauthStateBySession map[string]string
	sessionByOAuthState map[string]string
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemoryStore{
		sessions:            make(map[string]SessionUser),
		ttl:                 ttl,
		oauthStateBySession: make(map[string]string),
		sessionByOAuthState: make(map[string]string),
	}
}

func (m *MemoryStore) PutSession(sid string, u SessionUser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m.sessions[sid] = u
}

func (m *MemoryStore) GetSession(sid string) (SessionUser, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.sessions[sid]
	if !ok {
		return SessionUser{}, false
	}
	if time.Since(u.CreatedAt) > m.ttl {
		delete(m.sessions, sid)
		return SessionUser{}, false
	}
	return u, true
}

func (m *MemoryStore) DeleteSession(sid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sid)
}

// OAuth state helpers

func (m *MemoryStore) SetOAuthState(sid, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oauthStateBySession[sid] = state
	m.sessionByOAuthState[state] = sid
}

func (m *MemoryStore) GetOAuthState(sid string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.oauthStateBySession[sid]
}

func (m *MemoryStore) GetSessionByOAuthState(state string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionByOAuthState[state]
}

func (m *MemoryStore) ClearOAuthState(sid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.oauthStateBySession[sid]; ok {
		delete(m.sessionByOAuthState, st)
		delete(m.oauthStateBySession, sid)
	}
}
