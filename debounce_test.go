package pmcp

import (
	"sync"
	"testing"
	"time"
)

func TestDebouncerCoalescesBurstIntoOneEmit(t *testing.T) {
	var mu sync.Mutex
	var emitted []any
	d := newDebouncer(
		func(string) DebouncePolicy { return DebouncePolicy{IntervalMS: 10, MaxWaitMS: 1000} },
		func(method string, params any) {
			mu.Lock()
			emitted = append(emitted, params)
			mu.Unlock()
		},
		nil,
	)

	d.Notify(methodToolsListChanged, "", "v1")
	d.Notify(methodToolsListChanged, "", "v2")
	d.Notify(methodToolsListChanged, "", "v3")

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 1 {
		t.Fatalf("got %d emits, want 1 (coalesced burst): %v", len(emitted), emitted)
	}
	if emitted[0] != "v3" {
		t.Errorf("merge semantics should keep the newest payload, got %v", emitted[0])
	}
}

func TestDebouncerDropAllSuppressesPendingEmit(t *testing.T) {
	var mu sync.Mutex
	emitted := false
	d := newDebouncer(
		func(string) DebouncePolicy { return DebouncePolicy{IntervalMS: 20, MaxWaitMS: 1000} },
		func(string, any) {
			mu.Lock()
			emitted = true
			mu.Unlock()
		},
		nil,
	)

	d.Notify(methodResourcesListChanged, "", nil)
	d.dropAll()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if emitted {
		t.Errorf("dropAll must cancel pending timers before they fire")
	}
}

func TestDebouncerReportsCoalescedEvents(t *testing.T) {
	var mu sync.Mutex
	var coalescedCount int
	d := newDebouncer(
		func(string) DebouncePolicy { return DebouncePolicy{IntervalMS: 1000, MaxWaitMS: 2000} },
		func(string, any) {},
		func(method string) {
			mu.Lock()
			coalescedCount++
			mu.Unlock()
		},
	)

	d.Notify(methodToolsListChanged, "", "v1")
	d.Notify(methodToolsListChanged, "", "v2")
	d.Notify(methodToolsListChanged, "", "v3")

	mu.Lock()
	defer mu.Unlock()
	if coalescedCount != 2 {
		t.Fatalf("got %d coalesced observations, want 2 (the first event arms the window, the rest are absorbed)", coalescedCount)
	}
}

func TestDebouncerDistinctKeysDoNotCoalesce(t *testing.T) {
	var mu sync.Mutex
	var emitted []string
	d := newDebouncer(
		func(string) DebouncePolicy { return DebouncePolicy{IntervalMS: 5, MaxWaitMS: 1000} },
		func(method string, params any) {
			mu.Lock()
			emitted = append(emitted, params.(string))
			mu.Unlock()
		},
		nil,
	)

	d.Notify(methodResourcesUpdated, "demo://a", "a")
	d.Notify(methodResourcesUpdated, "demo://b", "b")

	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 2 {
		t.Fatalf("distinct keys must emit independently, got %v", emitted)
	}
}
