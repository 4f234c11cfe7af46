package streamhttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pmcp-dev/pmcp"
	"github.com/pmcp-dev/pmcp/mcpmetrics"
	"github.com/pmcp-dev/pmcp/transport"
)

const sessionHeader = "Mcp-Session-Id"
const lastEventHeader = "Last-Event-ID"
const authHeader = "Authorization"

// attachAuthInfo extracts a bearer token from req, if present, and attaches
// it to srv so that handlers can recover the principal via
// pmcp.AuthInfoFromContext. The session's lifetime is scoped to one
// Authorization header, established by whichever request creates it; this
// binding performs no verification of its own (spec.md §1 leaves that to
// the embedding application).
func attachAuthInfo(srv *pmcp.Server, req *http.Request) {
	h := req.Header.Get(authHeader)
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return
	}
	token := strings.TrimPrefix(h, prefix)
	if token == "" {
		return
	}
	srv.SetAuthInfo(pmcp.NewAuthInfo("bearer", token, h))
}

// ServerTransport is the transport.Transport bound to one streamable-HTTP
// session: incoming POST bodies feed Receive, and every Send is both handed
// back to whichever POST is currently awaiting a reply and fanned out to any
// open GET (SSE) listeners, per spec.md §4.5's single logical connection per
// session model. POST handling within one session is serialized; concurrent
// POSTs to the same session queue rather than interleave, a deliberate
// simplification of the general multi-stream accounting the MCP spec allows.
type ServerTransport struct {
	id        transport.ID
	sessionID string
	events    *eventStore // nil in stateless mode

	incoming chan []byte
	closeCh  chan struct{}

	postMu    sync.Mutex
	postReply chan []byte

	mu      sync.Mutex
	closed  bool
	subs    map[int]chan sseEvent
	nextSub int
}

func newServerTransport(sessionID string, events *eventStore) *ServerTransport {
	return &ServerTransport{
		id:        transport.ID(sessionID),
		sessionID: sessionID,
		events:    events,
		incoming:  make(chan []byte, 8),
		closeCh:   make(chan struct{}),
		postReply: make(chan []byte, 1),
		subs:      make(map[int]chan sseEvent),
	}
}

func (t *ServerTransport) Send(ctx context.Context, data []byte, _ transport.SendOptions) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	t.mu.Unlock()

	select {
	case t.postReply <- data:
	default:
	}
	var id string
	if t.events != nil {
		id = t.events.append(t.sessionID, data)
	}
	t.broadcast(sseEvent{id: id, data: data})
	return nil
}

func (t *ServerTransport) broadcast(ev sseEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (t *ServerTransport) subscribe() (id int, ch chan sseEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id = t.nextSub
	t.nextSub++
	ch = make(chan sseEvent, 32)
	t.subs[id] = ch
	return id, ch
}

func (t *ServerTransport) unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, id)
}

func (t *ServerTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-t.incoming:
		if !ok {
			return nil, transport.ErrClosed
		}
		return b, nil
	case <-t.closeCh:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *ServerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closeCh)
	close(t.incoming)
	for _, ch := range t.subs {
		close(ch)
	}
	t.subs = nil
	t.mu.Unlock()
	return nil
}

func (t *ServerTransport) TransportID() ID { return t.id }

// ID aliases transport.ID for callers of this package that do not otherwise
// import the transport package.
type ID = transport.ID

func (t *ServerTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

func (t *ServerTransport) TransportType() transport.Kind { return transport.KindHTTP }

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	// Stateless disables session persistence: every POST is served by a
	// fresh Server/ServerTransport pair with no Mcp-Session-Id issued, and
	// GET/resumability are unsupported (spec.md §4.5, stateless mode).
	Stateless bool

	// SessionTTL bounds how long an idle stateful session is retained.
	// Zero uses a 30 minute default.
	SessionTTL time.Duration

	// EventHistoryPerStream bounds the resumability ring buffer's size in a
	// stateful session. Zero uses a 256-event default.
	EventHistoryPerStream int

	// EventHistoryTTL bounds how long a retained event may be replayed.
	// Zero uses a 5 minute default.
	EventHistoryTTL time.Duration

	// Metrics, if set, is incremented for every open SSE GET stream. A nil
	// value (the default) records nothing.
	Metrics *mcpmetrics.Metrics
}

// Handler is an http.Handler serving the MCP streamable-HTTP binding over a
// single endpoint, per spec.md §4.5.
type Handler struct {
	newServer func(*http.Request, transport.Transport) *pmcp.Server
	opts      HandlerOptions
	sessions  *sessionStore

	sweepStop chan struct{}
}

// NewHandler returns a Handler. newServer is called once per new session (or
// once per request, in stateless mode) to construct the pmcp.Server bound to
// the given transport (typically via pmcp.NewServer(tr, info, opts)); each
// call receives a fresh ServerTransport dedicated to that session.
func NewHandler(newServer func(*http.Request, transport.Transport) *pmcp.Server, opts HandlerOptions) *Handler {
	h := &Handler{
		newServer: newServer,
		opts:      opts,
		sweepStop: make(chan struct{}),
	}
	if !opts.Stateless {
		h.sessions = newSessionStore(opts.SessionTTL)
		go h.sweepLoop()
	}
	return h
}

func (h *Handler) sweepLoop() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			h.sessions.sweep()
		case <-h.sweepStop:
			return
		}
	}
}

// Close terminates every live session and stops the Handler's background
// housekeeping goroutine.
func (h *Handler) Close() {
	close(h.sweepStop)
	if h.sessions != nil {
		h.sessions.closeAll()
	}
}

func (h *Handler) newEventStore() *eventStore {
	if h.opts.Stateless {
		return nil
	}
	return newEventStore(h.opts.EventHistoryPerStream, h.opts.EventHistoryTTL)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	accept := strings.Split(strings.Join(req.Header.Values("Accept"), ","), ",")
	var jsonOK, streamOK bool
	for _, c := range accept {
		switch strings.TrimSpace(c) {
		case "application/json":
			jsonOK = true
		case "text/event-stream":
			streamOK = true
		case "*/*", "":
			jsonOK, streamOK = true, true
		}
	}
	if req.Method == http.MethodGet {
		if !streamOK {
			http.Error(w, "Accept must contain text/event-stream for GET", http.StatusBadRequest)
			return
		}
	} else if req.Method == http.MethodPost && (!jsonOK || !streamOK) {
		http.Error(w, "Accept must contain application/json and text/event-stream", http.StatusBadRequest)
		return
	}

	if h.opts.Stateless {
		h.serveStateless(w, req)
		return
	}
	h.serveStateful(w, req)
}

func (h *Handler) serveStateless(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodDelete:
		w.WriteHeader(http.StatusMethodNotAllowed)
	case http.MethodGet:
		http.Error(w, "GET is not supported in stateless mode", http.StatusMethodNotAllowed)
	case http.MethodPost:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		tr := newServerTransport("", nil)
		srv := h.newServer(req, tr)
		attachAuthInfo(srv, req)
		defer tr.Close()
		h.servePost(w, req, tr, body)
	default:
		w.Header().Set("Allow", "POST")
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
	}
}

// containsInitialize reports whether body parses as a batch containing a
// request for method "initialize": the only request allowed to mint a new
// session (spec.md §4.5's session gate).
func containsInitialize(body []byte) bool {
	res, err := pmcp.ParseMessage(body, pmcp.DefaultMaxFrameBytes)
	if err != nil {
		return false
	}
	for _, f := range res.Frames {
		if f.IsRequest() && f.Method == "initialize" {
			return true
		}
	}
	return false
}

func (h *Handler) serveStateful(w http.ResponseWriter, req *http.Request) {
	id := req.Header.Get(sessionHeader)
	var tr *ServerTransport
	if id != "" {
		var ok bool
		tr, ok = h.sessions.get(id)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
	}

	if req.Method == http.MethodDelete {
		if tr == nil {
			http.Error(w, "DELETE requires "+sessionHeader, http.StatusBadRequest)
			return
		}
		h.sessions.delete(id)
		tr.Close()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch req.Method {
	case http.MethodPost, http.MethodGet:
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
		return
	}

	if req.Method == http.MethodGet {
		if tr == nil {
			http.Error(w, "GET requires "+sessionHeader, http.StatusBadRequest)
			return
		}
		h.serveGet(w, req, tr)
		return
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	if tr == nil {
		if !containsInitialize(body) {
			http.Error(w, "missing "+sessionHeader, http.StatusBadRequest)
			return
		}
		newID := newSessionID()
		tr = newServerTransport(newID, h.newEventStore())
		srv := h.newServer(req, tr)
		attachAuthInfo(srv, req)
		h.sessions.put(newID, tr)
		w.Header().Set(sessionHeader, newID)
	}

	h.servePost(w, req, tr, body)
}

func (h *Handler) servePost(w http.ResponseWriter, req *http.Request, tr *ServerTransport, body []byte) {
	tr.postMu.Lock()
	defer tr.postMu.Unlock()

	if len(body) == 0 {
		http.Error(w, "empty request body", http.StatusBadRequest)
		return
	}

	res, err := pmcp.ParseMessage(body, pmcp.DefaultMaxFrameBytes)
	needsReply := err != nil
	if err == nil {
		for i, f := range res.Frames {
			if res.Errs[i] != nil || f.IsRequest() {
				needsReply = true
				break
			}
		}
	}

	select {
	case tr.incoming <- body:
	case <-req.Context().Done():
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
		return
	}

	if !needsReply {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	select {
	case reply := <-tr.postReply:
		w.Header().Set("Content-Type", "application/json")
		w.Write(reply)
	case <-req.Context().Done():
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
	}
}

func (h *Handler) serveGet(w http.ResponseWriter, req *http.Request, tr *ServerTransport) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if h.opts.Metrics != nil {
		h.opts.Metrics.ActiveSSEStreams.Inc()
		defer h.opts.Metrics.ActiveSSEStreams.Dec()
	}

	if tr.events != nil {
		lastID := req.Header.Get(lastEventHeader)
		if backlog, found := tr.events.since(tr.sessionID, lastID); found || lastID == "" {
			for _, ev := range backlog {
				writeSSE(w, ev.id, ev.data)
			}
			flusher.Flush()
		}
	}

	id, ch := tr.subscribe()
	defer tr.unsubscribe(id)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, ev.id, ev.data)
			flusher.Flush()
		case <-req.Context().Done():
			return
		case <-tr.closeCh:
			return
		}
	}
}

// writeSSE writes one SSE event. id is omitted when empty (stateless mode,
// where no eventStore exists to mint one).
func writeSSE(w http.ResponseWriter, id string, data []byte) {
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
}
