// Package streamhttp implements the Streamable-HTTP transport binding: one
// HTTP endpoint accepting POST (client->server messages), GET (server->client
// SSE push stream), and DELETE (session termination), per spec.md §4.5.
package streamhttp

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionStore tracks the live ServerTransport for each Mcp-Session-Id, in
// stateful mode. Stateless mode (HandlerOptions.Stateless) never populates this.
type sessionStore struct {
	mu  sync.Mutex
	byID map[string]*sessionEntry
	ttl  time.Duration
}

type sessionEntry struct {
	transport *ServerTransport
	lastSeen  time.Time
}

func newSessionStore(ttl time.Duration) *sessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &sessionStore{byID: make(map[string]*sessionEntry), ttl: ttl}
}

func newSessionID() string { return uuid.NewString() }

func (s *sessionStore) put(id string, tr *ServerTransport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = &sessionEntry{transport: tr, lastSeen: time.Now()}
}

func (s *sessionStore) get(id string) (*ServerTransport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = time.Now()
	return e.transport, true
}

func (s *sessionStore) delete(id string) (*ServerTransport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	delete(s.byID, id)
	return e.transport, true
}

// sweep closes and removes every session idle longer than s.ttl. Intended to
// be called periodically by Handler's background goroutine.
func (s *sessionStore) sweep() {
	s.mu.Lock()
	var stale []*ServerTransport
	now := time.Now()
	for id, e := range s.byID {
		if now.Sub(e.lastSeen) > s.ttl {
			stale = append(stale, e.transport)
			delete(s.byID, id)
		}
	}
	s.mu.Unlock()
	for _, tr := range stale {
		tr.Close()
	}
}

func (s *sessionStore) closeAll() {
	s.mu.Lock()
	entries := s.byID
	s.byID = make(map[string]*sessionEntry)
	s.mu.Unlock()
	for _, e := range entries {
		e.transport.Close()
	}
}
