package pmcp

import "testing"

func TestAtomicMapSetGetDelete(t *testing.T) {
	var m atomicMap[int]
	m.store(map[string]int{})

	m.set("a", 1)
	m.set("b", 2)
	if v, ok := m.get("a"); !ok || v != 1 {
		t.Fatalf("get(a): got (%v, %v), want (1, true)", v, ok)
	}
	if got := m.keys(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("keys: got %v, want [a b]", got)
	}
	if !m.delete("a") {
		t.Errorf("delete(a) should report existed=true")
	}
	if m.delete("a") {
		t.Errorf("second delete(a) should report existed=false")
	}
	if _, ok := m.get("a"); ok {
		t.Errorf("a should no longer be present after delete")
	}
}

func TestAtomicMapSnapshotIsolatesWriters(t *testing.T) {
	var m atomicMap[int]
	m.store(map[string]int{"x": 1})

	snap := m.snapshot()
	m.set("x", 2)
	if snap["x"] != 1 {
		t.Errorf("a prior snapshot must not observe a later write: got %v, want 1", snap["x"])
	}
	if got, _ := m.get("x"); got != 2 {
		t.Errorf("a fresh read must observe the write: got %v, want 2", got)
	}
}

func TestRegistriesRegisterToolFiresChangeCallback(t *testing.T) {
	r := newRegistries()
	var fired int
	r.onToolsChanged = func() { fired++ }

	r.RegisterTool(Tool{Name: "echo"})
	if fired != 1 {
		t.Fatalf("got %d callback firings, want 1", fired)
	}
	if _, ok := r.tools.get("echo"); !ok {
		t.Errorf("registered tool must be retrievable")
	}

	if !r.UnregisterTool("echo") {
		t.Errorf("UnregisterTool must report the tool existed")
	}
	if fired != 2 {
		t.Errorf("got %d callback firings after unregister, want 2", fired)
	}
	if r.UnregisterTool("echo") {
		t.Errorf("a second UnregisterTool must report false")
	}
	if fired != 2 {
		t.Errorf("unregistering a missing tool must not fire the change callback")
	}
}

func TestRegistriesResourceKeyedByURI(t *testing.T) {
	r := newRegistries()
	r.RegisterResource(Resource{URI: "demo://status", Name: "status"})
	if _, ok := r.resources.get("demo://status"); !ok {
		t.Fatalf("resource must be retrievable by its URI")
	}
}
