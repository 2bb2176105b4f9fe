package session

import (
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session describes one live connection.
type Session struct {
	ID         string    `json:"session_id"`
	RemoteAddr string    `json:"remote_addr"`
	Transport  string    `json:"transport"`
	StartedAt  time.Time `json:"started_at"`
}

type entry struct {
	session Session
	conn    io.Closer
}

// Registry is a thread-safe set of live sessions. It lets the server close
// every connection still open when a graceful shutdown runs out of time.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]entry
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]entry),
		now:      time.Now,
	}
}

// Add registers conn and returns its session with a fresh ID.
func (r *Registry) Add(conn io.Closer, remote net.Addr, transport string) Session {
	s := Session{
		ID:        uuid.NewString(),
		Transport: transport,
		StartedAt: r.now(),
	}
	if remote != nil {
		s.RemoteAddr = remote.String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = entry{session: s, conn: conn}
	return s
}

// Remove drops a session. It reports whether the session was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns the live sessions, oldest first.
func (r *Registry) List() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.session)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// CloseAll closes every registered connection and returns how many were
// closed. Sessions stay registered until their workers remove them.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	conns := make([]io.Closer, 0, len(r.sessions))
	for _, e := range r.sessions {
		conns = append(conns, e.conn)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
	return len(conns)
}
