package pmcp

import (
	"sync"
	"time"
)

// debounceKey identifies one coalescing stream: a method plus an optional
// key (the resource URI for notifications/resources/updated, or "" for a
// list_changed notification), per spec.md §4.4.
type debounceKey struct {
	method string
	key    string
}

// debouncer coalesces high-churn server notifications. Policy is
// per-method: on the first event for a (method,key), a timer is armed for
// IntervalMS; further events before it fires replace the pending payload
// (merge semantics) and may push the timer out, but never past MaxWaitMS
// from the first event in the window. On fire, emit exactly emits one
// notification.
type debouncer struct {
	mu        sync.Mutex
	pending   map[debounceKey]*debounceEntry
	policy    func(method string) DebouncePolicy
	emit      func(method string, params any)
	coalesced func(method string) // observed once per event absorbed into a pending window, not itself emitted
	now       func() time.Time
}

type debounceEntry struct {
	timer      *time.Timer
	firstFired time.Time
	payload    any
}

func newDebouncer(policy func(method string) DebouncePolicy, emit func(method string, params any), coalesced func(method string)) *debouncer {
	if coalesced == nil {
		coalesced = func(string) {}
	}
	return &debouncer{
		pending:   make(map[debounceKey]*debounceEntry),
		policy:    policy,
		emit:      emit,
		coalesced: coalesced,
		now:       time.Now,
	}
}

// Notify arms or updates the coalescing window for (method,key) with
// payload, replacing whatever payload is currently pending for that key.
// notifications/resources/updated keys by the affected URI, so distinct
// URIs coalesce independently rather than unioning into one event; a
// resource's own repeated updates within the window still collapse to the
// single latest payload.
func (d *debouncer) Notify(method, key string, payload any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pol := d.policy(method)
	dk := debounceKey{method: method, key: key}
	ent, ok := d.pending[dk]
	now := d.now()
	if !ok {
		ent = &debounceEntry{firstFired: now, payload: payload}
		d.pending[dk] = ent
		ent.timer = time.AfterFunc(pol.interval(), func() { d.fire(dk) })
		return
	}

	ent.payload = payload
	d.coalesced(method)
	elapsed := now.Sub(ent.firstFired)
	remaining := pol.maxWait() - elapsed
	next := pol.interval()
	if remaining < next {
		next = remaining
	}
	if next < 0 {
		next = 0
	}
	ent.timer.Stop()
	ent.timer = time.AfterFunc(next, func() { d.fire(dk) })
}

func (d *debouncer) fire(dk debounceKey) {
	d.mu.Lock()
	ent, ok := d.pending[dk]
	if ok {
		delete(d.pending, dk)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	d.emit(dk.method, ent.payload)
}

// dropAll cancels every pending timer without emitting, used when the
// owning connection closes (spec.md §4.4: "on connection close, pending
// notifications are dropped").
func (d *debouncer) dropAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, ent := range d.pending {
		ent.timer.Stop()
		delete(d.pending, k)
	}
}

const (
	methodToolsListChanged     = "notifications/tools/list_changed"
	methodPromptsListChanged   = "notifications/prompts/list_changed"
	methodResourcesListChanged = "notifications/resources/list_changed"
	methodResourcesUpdated     = "notifications/resources/updated"
)
