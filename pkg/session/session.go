// Package session tracks client sessions for the MCP transports.
//
// A session is created by initialize, refreshed by every later request,
// and ends when it is terminated or when it sits idle longer than its
// timeout. Expiry is checked lazily on every lookup and eagerly by a
// background sweep, so a stale session is never served even between
// sweeps.
package session

import (
	"errors"
	"sync"
	"time"
)

// ErrSessionInvalid is returned for a session id that is unknown, expired
// or terminated.
var ErrSessionInvalid = errors.New("invalid or expired session")

// ClientInfo describes the client that opened a session.
type ClientInfo struct {
	Name            string `json:"name,omitempty"`
	Version         string `json:"version,omitempty"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	RemoteAddr      string `json:"remote_addr,omitempty"`
}

// Session is one client's session. Only the Registry changes it.
type Session struct {
	ID        string
	CreatedAt time.Time
	Timeout   time.Duration
	Client    ClientInfo

	mu           sync.Mutex
	lastActivity time.Time
	terminated   bool
}

// LastActivity returns the time of the most recent request.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Terminated reports whether the session has ended.
func (s *Session) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// Info is a point-in-time copy of a session for reporting.
type Info struct {
	ID           string     `json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Client       ClientInfo `json:"client"`
}

// Info returns a copy of the session's state.
func (s *Session) Info() Info {
	last := s.LastActivity()
	return Info{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		LastActivity: last,
		ExpiresAt:    last.Add(s.Timeout),
		Client:       s.Client,
	}
}

// refresh validates the session at now and, if still live, moves its last
// activity forward. Concurrent refreshes keep the latest time.
// It reports false if the session is terminated or has expired; an
// expired session is marked terminated.
func (s *Session) refresh(now time.Time, touch bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminated {
		return false
	}
	if now.Sub(s.lastActivity) > s.Timeout {
		s.terminated = true
		return false
	}
	if touch && now.After(s.lastActivity) {
		s.lastActivity = now
	}
	return true
}

func (s *Session) terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = true
}
