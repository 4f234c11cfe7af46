package streamhttp

import (
	"testing"
	"time"
)

func TestSessionStorePutGetDelete(t *testing.T) {
	s := newSessionStore(time.Hour)
	tr := newServerTransport("sess-1", nil)
	s.put("sess-1", tr)

	got, ok := s.get("sess-1")
	if !ok || got != tr {
		t.Fatalf("get: got (%v, %v), want (tr, true)", got, ok)
	}

	if _, ok := s.delete("sess-1"); !ok {
		t.Fatalf("delete must report the session existed")
	}
	if _, ok := s.get("sess-1"); ok {
		t.Fatalf("session must be gone after delete")
	}
}

func TestSessionStoreSweepRemovesOnlyIdleSessions(t *testing.T) {
	s := newSessionStore(20 * time.Millisecond)
	stale := newServerTransport("stale", nil)
	s.put("stale", stale)

	time.Sleep(30 * time.Millisecond)

	fresh := newServerTransport("fresh", nil)
	s.put("fresh", fresh)

	s.sweep()

	if _, ok := s.get("stale"); ok {
		t.Errorf("sweep must remove a session idle past the ttl")
	}
	if _, ok := s.get("fresh"); !ok {
		t.Errorf("sweep must keep a recently-touched session")
	}
	if stale.IsConnected() {
		t.Errorf("sweep must close the transport of a removed session")
	}
}

func TestSessionStoreCloseAllClosesEveryTransport(t *testing.T) {
	s := newSessionStore(time.Hour)
	a := newServerTransport("a", nil)
	b := newServerTransport("b", nil)
	s.put("a", a)
	s.put("b", b)

	s.closeAll()

	if a.IsConnected() || b.IsConnected() {
		t.Errorf("closeAll must close every tracked transport")
	}
	if _, ok := s.get("a"); ok {
		t.Errorf("closeAll must empty the store")
	}
}
