package pmcp

import (
	"context"
	"sync"
	"time"

	"github.com/pmcp-dev/pmcp/code"
	"github.com/pmcp-dev/pmcp/transport"
)

// state is the handshake lifecycle state of one Protocol Engine instance
// (Client or Server), per spec.md §4.3's state machine.
type state int32

const (
	stateCreated state = iota
	stateInitializing
	stateOperational
	stateShuttingDown
	stateClosed
)

// pendingKey scopes a pending outgoing request by the transport it was
// issued on AND its RequestID, so that a reply delivered on transport B can
// never resolve a request issued on transport A, even when ids collide
// (spec.md §9, "Transport id for response routing").
type pendingKey struct {
	transport transport.ID
	id        RequestID
}

// pendingRequest is the engine-owned record of one in-flight outgoing
// request: its method, a result slot and a cancellation signal, matching
// spec.md §3's PendingRequest and §9's "owning record". Progress sinks are
// kept apart, in progressTable.
type pendingRequest struct {
	method string
	ch     chan *Frame // buffered, written at most once
	cancel context.CancelFunc
}

// pendingTable tracks in-flight outgoing requests for one engine. It is
// shared code between Client and Server (a server uses it for the requests
// it issues back to a client: sampling/createMessage, roots/list).
type pendingTable struct {
	mu      sync.Mutex
	entries map[pendingKey]*pendingRequest
	ids     idSource
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[pendingKey]*pendingRequest)}
}

// register inserts a new pending request and returns a derived context that
// ends on reply, timeout, or cancellation, its cancel function, and the
// pending record whose channel receives the reply.
func (t *pendingTable) register(ctx context.Context, tid transport.ID, id RequestID, method string, timeout time.Duration) (context.Context, context.CancelFunc, *pendingRequest) {
	base := ctx
	var cancelTimeout context.CancelFunc = func() {}
	if timeout > 0 {
		base, cancelTimeout = context.WithTimeout(ctx, timeout)
	}
	pctx, cancelSelf := context.WithCancel(base)
	cancel := func() { cancelSelf(); cancelTimeout() }
	pr := &pendingRequest{method: method, ch: make(chan *Frame, 1), cancel: cancel}
	t.mu.Lock()
	t.entries[pendingKey{transport: tid, id: id}] = pr
	t.mu.Unlock()
	return pctx, cancel, pr
}

// resolve delivers f to the pending request matching (tid, f.ID), removing
// it from the table. It reports false if no such pending request exists (a
// late or unknown reply, dropped with a warning by the caller).
func (t *pendingTable) resolve(tid transport.ID, f *Frame) bool {
	key := pendingKey{transport: tid, id: f.ID}
	t.mu.Lock()
	pr, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	pr.ch <- f
	return true
}

// abandon removes the pending entry for key without delivering a value,
// used when a local cancellation or timeout fires: the entry is removed so
// that if the peer's reply arrives later anyway, resolve finds nothing and
// drops it silently (spec.md §4.3's cancellation semantics, point (c)).
func (t *pendingTable) abandon(key pendingKey) (method string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pr, ok := t.entries[key]
	if !ok {
		return "", false
	}
	delete(t.entries, key)
	return pr.method, true
}

// closeAll cancels every pending request with ConnectionClosed, used when a
// transport goes down.
func (t *pendingTable) closeAll() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[pendingKey]*pendingRequest)
	t.mu.Unlock()
	for _, pr := range entries {
		pr.ch <- &Frame{Err: Errorf(code.SystemError, "%s", ErrConnReset.Error())}
	}
}

// nextID returns the next monotonic outgoing request id for this table.
func (t *pendingTable) nextID() RequestID { return t.ids.Next() }

// A ProgressSink receives notifications/progress payloads correlated to a
// request's progress token.
type ProgressSink func(progress float64, total *float64, message string)

// progressTable routes notifications/progress by token to the sink
// registered for the request that requested them.
type progressTable struct {
	mu    sync.Mutex
	sinks map[ProgressToken]ProgressSink // keyed by the full token, kind included
}

func newProgressTable() *progressTable {
	return &progressTable{sinks: make(map[ProgressToken]ProgressSink)}
}

func (t *progressTable) register(tok ProgressToken, sink ProgressSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks[tok] = sink
}

func (t *progressTable) unregister(tok ProgressToken) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sinks, tok)
}

func (t *progressTable) dispatch(tok ProgressToken, progress float64, total *float64, message string) bool {
	t.mu.Lock()
	sink, ok := t.sinks[tok]
	t.mu.Unlock()
	if !ok {
		return false
	}
	sink(progress, total, message)
	return true
}

// cancellationRegistry lets the peer cancel an INCOMING request we are
// still processing, via notifications/cancelled.
type cancellationRegistry struct {
	mu      sync.Mutex
	signals map[RequestID]context.CancelFunc // keyed by the full id, kind included
}

func newCancellationRegistry() *cancellationRegistry {
	return &cancellationRegistry{signals: make(map[RequestID]context.CancelFunc)}
}

func (c *cancellationRegistry) register(id RequestID, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals[id] = cancel
}

func (c *cancellationRegistry) remove(id RequestID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.signals, id)
}

func (c *cancellationRegistry) trigger(id RequestID) bool {
	c.mu.Lock()
	cancel, ok := c.signals[id]
	if ok {
		delete(c.signals, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// notifications/cancelled and notifications/progress parameter shapes.
type cancelledParams struct {
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason,omitempty"`
}

type progressParams struct {
	ProgressToken ProgressToken `json:"progressToken"`
	Progress      float64       `json:"progress"`
	Total         *float64      `json:"total,omitempty"`
	Message       string        `json:"message,omitempty"`
}

const (
	methodInitialize           = "initialize"
	methodInitialized          = "notifications/initialized"
	methodCancelled            = "notifications/cancelled"
	methodProgress             = "notifications/progress"
	methodLoggingSetLevel      = "logging/setLevel"
)
