package pmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pmcp-dev/pmcp/code"
	"github.com/pmcp-dev/pmcp/mcpmetrics"
	"github.com/pmcp-dev/pmcp/transport"
)

// ServerInfo identifies this server implementation in the initialize reply.
type ServerInfo struct {
	Name    string
	Version string
}

// A Server is the MCP-server side of one connection: it answers requests
// from a client (tools/call, resources/read, ...) and may itself issue
// requests back to the client (sampling/createMessage, roots/list), all
// over one Transport.
type Server struct {
	tr   transport.Transport
	opt  *ServerOptions
	info ServerInfo
	log  func(string, ...any)
	sem  *semaphore.Weighted

	reg  *registries
	subs *subscriptions
	deb  *debouncer

	pending  *pendingTable // outgoing server->client requests
	cancelIn *cancellationRegistry

	done *sync.WaitGroup

	mu               sync.Mutex
	st               state
	err              error
	negotiated       ProtocolVersion
	peerCapabilities *ClientCapabilities
	auth             *AuthInfo
}

// NewServer constructs a Server bound to tr. The server begins serving
// immediately in a background goroutine; register tools/prompts/resources
// before or after construction, the registries are safe for concurrent use.
func NewServer(tr transport.Transport, info ServerInfo, opts *ServerOptions) *Server {
	s := &Server{
		tr:       tr,
		opt:      opts,
		info:     info,
		log:      opts.logFunc(),
		sem:      semaphore.NewWeighted(opts.concurrency()),
		reg:      newRegistries(),
		subs:     newSubscriptions(),
		pending:  newPendingTable(),
		cancelIn: newCancellationRegistry(),
		done:     new(sync.WaitGroup),
	}
	s.deb = newDebouncer(
		func(method string) DebouncePolicy { return opts.debouncePolicy(method) },
		s.emitNotification,
		opts.metrics().ObserveNotificationCoalesced,
	)
	s.reg.onToolsChanged = func() { s.deb.Notify(methodToolsListChanged, "", struct{}{}) }
	s.reg.onPromptsChanged = func() { s.deb.Notify(methodPromptsListChanged, "", struct{}{}) }
	s.reg.onResourcesChanged = func() { s.deb.Notify(methodResourcesListChanged, "", struct{}{}) }

	if m := opts.metrics(); m != nil {
		m.ActiveServers.Inc()
	}

	s.done.Add(1)
	go func() {
		defer s.done.Done()
		s.readLoop()
	}()
	return s
}

// Register* and Unregister* add to and remove from this server's registries.
func (s *Server) RegisterTool(t Tool)            { s.reg.RegisterTool(t) }
func (s *Server) UnregisterTool(name string) bool { return s.reg.UnregisterTool(name) }
func (s *Server) RegisterPrompt(p Prompt)           { s.reg.RegisterPrompt(p) }
func (s *Server) UnregisterPrompt(name string) bool { return s.reg.UnregisterPrompt(name) }
func (s *Server) RegisterResource(r Resource)       { s.reg.RegisterResource(r) }
func (s *Server) UnregisterResource(uri string) bool { return s.reg.UnregisterResource(uri) }
func (s *Server) RegisterCompletionProvider(ref string, p CompletionProvider) {
	s.reg.RegisterCompletionProvider(ref, p)
}

// SetAuthInfo attaches the principal identity for this connection, recovered
// by handlers via AuthInfoFromContext. Bindings that authenticate out of
// band (e.g. streamhttp extracting a bearer token from the request that
// established the session) call this once, before traffic starts flowing.
func (s *Server) SetAuthInfo(auth AuthInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = &auth
}

// Wait blocks until the server's read loop exits, i.e. until the transport
// is closed or disconnects, whichever comes first. Useful for a stdio-bound
// server whose lifetime should track its transport rather than a signal.
func (s *Server) Wait() {
	s.done.Wait()
}

// NotifyResourceUpdated enqueues a debounced notifications/resources/updated
// for every subscriber of uri.
func (s *Server) NotifyResourceUpdated(uri string) {
	if !s.subs.isSubscribed(uri) {
		return
	}
	s.deb.Notify(methodResourcesUpdated, uri, map[string]string{"uri": uri})
}

func (s *Server) emitNotification(method string, params any) {
	raw, err := marshalParams(params)
	if err != nil {
		s.log("encode notification %s: %v", method, err)
		return
	}
	data, err := EncodeFrame(NewNotificationFrame(method, raw))
	if err != nil {
		s.log("encode notification %s: %v", method, err)
		return
	}
	if err := s.tr.Send(context.Background(), data, transport.SendOptions{}); err != nil {
		s.log("send notification %s: %v", method, err)
		return
	}
	s.opt.metrics().ObserveNotificationEmitted(method)
}

func (s *Server) readLoop() {
	ctx := context.Background()
	for {
		data, err := s.tr.Receive(ctx)
		if err != nil {
			s.mu.Lock()
			s.stopLocked(err)
			s.mu.Unlock()
			return
		}
		s.opt.metrics().AddBytesRead(len(data))
		s.handleIncoming(data)
	}
}

func (s *Server) handleIncoming(data []byte) {
	res, err := ParseMessage(data, DefaultMaxFrameBytes)
	if err != nil {
		s.sendFrame(NewErrorFrame(RequestID{}, Errorf(code.ParseError, "%v", err)))
		return
	}

	type slot struct {
		idx  int
		ch   chan *Frame
	}
	var slots []slot
	var wg sync.WaitGroup

	for i, f := range res.Frames {
		i, f := i, f
		if res.Errs[i] != nil {
			if !f.ID.IsZero() {
				ch := make(chan *Frame, 1)
				ch <- NewErrorFrame(f.ID, res.Errs[i])
				slots = append(slots, slot{idx: i, ch: ch})
			}
			continue
		}
		if f.IsNotification() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handleNotification(f)
			}()
			continue
		}
		if f.Method == "" {
			// A response to one of OUR outgoing requests (sampling, roots).
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !s.pending.resolve(s.tr.TransportID(), f) {
					s.log("discarding response for unknown id %s", f.ID)
				}
			}()
			continue
		}
		ch := make(chan *Frame, 1)
		slots = append(slots, slot{idx: i, ch: ch})
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch <- s.handleRequest(f)
		}()
	}

	if len(slots) == 0 {
		wg.Wait()
		return
	}

	// Collect and send the replies off the read loop, so that a later
	// notifications/cancelled for an in-flight request can still be read.
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		replies := make([]*Frame, 0, len(slots))
		for _, sl := range slots {
			if reply := <-sl.ch; reply != nil {
				replies = append(replies, reply)
			}
		}
		wg.Wait()
		if len(replies) == 0 {
			return
		}
		data2, err := EncodeBatch(replies, res.IsBatch)
		if err != nil {
			s.log("encode reply batch: %v", err)
			return
		}
		if err := s.tr.Send(context.Background(), data2, transport.SendOptions{}); err != nil {
			s.log("send reply: %v", err)
			return
		}
		s.opt.metrics().AddBytesWritten(len(data2))
	}()
}

func (s *Server) handleNotification(f *Frame) {
	switch f.Method {
	case methodInitialized:
		s.mu.Lock()
		s.st = stateOperational
		s.mu.Unlock()
	case methodProgress:
		// Servers only receive progress from a client in response to a
		// server-initiated request (sampling/createMessage); route the same
		// as a client would. Not wired to a sink table here since this
		// server implementation does not itself await progress on its own
		// outgoing requests in this build; dropped with a log, matching the
		// "unknown token is dropped" rule.
		s.log("discarding unrouted progress notification")
	case methodCancelled:
		var p cancelledParams
		_ = json.Unmarshal(f.Params, &p)
		s.cancelIn.trigger(p.RequestID)
	default:
		s.log("discarding notification %s", f.Method)
	}
}

func (s *Server) handleRequest(f *Frame) *Frame {
	s.mu.Lock()
	st := s.st
	s.mu.Unlock()

	if f.Method == methodInitialize {
		return s.handleInitialize(f)
	}
	if st != stateOperational {
		return NewErrorFrame(f.ID, Errorf(code.InvalidRequest, "server is not operational (state=%d)", st))
	}

	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		return NewErrorFrame(f.ID, Errorf(code.InternalError, "acquire concurrency slot: %v", err))
	}
	defer s.sem.Release(1)

	reqCtx, cancel := context.WithCancel(s.opt.newContext()())
	defer cancel()
	s.cancelIn.register(f.ID, cancel)
	defer s.cancelIn.remove(f.ID)
	reqCtx = context.WithValue(reqCtx, serverKey{}, s)
	reqCtx = context.WithValue(reqCtx, inboundRequestKey{}, f)
	reqCtx = context.WithValue(reqCtx, transportIDKey{}, s.tr.TransportID())
	s.mu.Lock()
	auth := s.auth
	s.mu.Unlock()
	if auth != nil {
		reqCtx = WithAuthInfo(reqCtx, *auth)
	}

	s.opt.rpcLog().LogRequest(reqCtx, f)
	s.opt.metrics().ObserveRequest(f.Method)
	start := time.Now()
	reply := s.dispatch(reqCtx, f)
	s.opt.metrics().ObserveDuration(f.Method, time.Since(start).Seconds())
	select {
	case <-reqCtx.Done():
		// The peer cancelled while we were working; the late reply must be
		// suppressed (spec.md §4.3's cancellation semantics).
		return nil
	default:
	}
	if reply != nil && reply.Err != nil {
		s.opt.metrics().ObserveError(reply.Err.Code.String())
	}
	s.opt.rpcLog().LogResponse(reqCtx, reply)
	return reply
}

func (s *Server) handleInitialize(f *Frame) *Frame {
	var params initializeParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		return NewErrorFrame(f.ID, Errorf(code.InvalidParams, "invalid initialize params: %v", err))
	}
	version, ok := NegotiateVersion(params.ProtocolVersion, SupportedVersions)
	if !ok {
		return NewErrorFrame(f.ID, Errorf(code.InvalidParams, "unsupported protocol version").WithData(map[string]any{"supported": SupportedVersions}))
	}

	s.mu.Lock()
	s.st = stateInitializing
	s.negotiated = version
	cc := params.Capabilities
	s.peerCapabilities = &cc
	s.mu.Unlock()

	result := InitializeResult{
		ProtocolVersion: version,
		Capabilities:    s.opt.capabilities(),
		ServerInfo:      serverInfo{Name: s.info.Name, Version: s.info.Version},
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return NewErrorFrame(f.ID, Errorf(code.InternalError, "marshal initialize result: %v", err))
	}
	return NewResultFrame(f.ID, raw)
}

func (s *Server) dispatch(ctx context.Context, f *Frame) *Frame {
	switch f.Method {
	case "tools/list":
		return s.replyJSON(f.ID, toolsListResult{Tools: s.listTools()})
	case "tools/call":
		return s.callTool(ctx, f)
	case "prompts/list":
		return s.replyJSON(f.ID, promptsListResult{Prompts: s.listPrompts()})
	case "prompts/get":
		return s.getPrompt(ctx, f)
	case "resources/list":
		return s.replyJSON(f.ID, resourcesListResult{Resources: s.listResources()})
	case "resources/read":
		return s.readResource(ctx, f)
	case "resources/subscribe":
		return s.subscribeResource(f)
	case "resources/unsubscribe":
		return s.unsubscribeResource(f)
	case "completion/complete":
		return s.complete(ctx, f)
	case methodLoggingSetLevel:
		return s.replyJSON(f.ID, struct{}{})
	default:
		return NewErrorFrame(f.ID, Errorf(code.MethodNotFound, "method not found: %s", f.Method))
	}
}

func (s *Server) replyJSON(id RequestID, v any) *Frame {
	raw, err := json.Marshal(v)
	if err != nil {
		return NewErrorFrame(id, Errorf(code.InternalError, "marshal result: %v", err))
	}
	return NewResultFrame(id, raw)
}

type toolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []toolDescriptor `json:"tools"`
}

func (s *Server) listTools() []toolDescriptor {
	m := s.reg.tools.snapshot()
	out := make([]toolDescriptor, 0, len(m))
	for _, name := range s.reg.tools.keys() {
		t := m[name]
		schema := t.InputSchema
		if schema == nil {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		out = append(out, toolDescriptor{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) callTool(ctx context.Context, f *Frame) *Frame {
	var params toolCallParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		return NewErrorFrame(f.ID, Errorf(code.InvalidParams, "invalid tools/call params: %v", err))
	}
	t, ok := s.reg.tools.get(params.Name)
	if !ok {
		return NewErrorFrame(f.ID, Errorf(code.MethodNotFound, "unknown tool %q", params.Name))
	}
	result, err := panicToError(func() (any, error) { return t.Handler(ctx, params.Arguments) })
	if err != nil {
		if e, ok := err.(*Error); ok {
			return NewErrorFrame(f.ID, e)
		}
		// Domain error: surfaced as a successful result with isError=true,
		// per spec.md §4.4, not as a JSON-RPC error.
		return s.replyJSON(f.ID, ToolResult{IsError: true, Content: []ContentBlock{TextContent(err.Error())}})
	}
	tr, _ := result.(*ToolResult)
	if tr == nil {
		tr = &ToolResult{}
	}
	return s.replyJSON(f.ID, tr)
}

type promptDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type promptsListResult struct {
	Prompts []promptDescriptor `json:"prompts"`
}

func (s *Server) listPrompts() []promptDescriptor {
	m := s.reg.prompts.snapshot()
	out := make([]promptDescriptor, 0, len(m))
	for _, name := range s.reg.prompts.keys() {
		p := m[name]
		out = append(out, promptDescriptor{Name: p.Name, Description: p.Description})
	}
	return out
}

type promptGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

type promptGetResult struct {
	Messages []Message `json:"messages"`
}

func (s *Server) getPrompt(ctx context.Context, f *Frame) *Frame {
	var params promptGetParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		return NewErrorFrame(f.ID, Errorf(code.InvalidParams, "invalid prompts/get params: %v", err))
	}
	p, ok := s.reg.prompts.get(params.Name)
	if !ok {
		return NewErrorFrame(f.ID, Errorf(code.MethodNotFound, "unknown prompt %q", params.Name))
	}
	msgs, err := p.Handler(ctx, params.Arguments)
	if err != nil {
		if e, ok := err.(*Error); ok {
			return NewErrorFrame(f.ID, e)
		}
		return NewErrorFrame(f.ID, Errorf(code.InternalError, "%v", err))
	}
	return s.replyJSON(f.ID, promptGetResult{Messages: msgs})
}

type resourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

type resourcesListResult struct {
	Resources []resourceDescriptor `json:"resources"`
}

func (s *Server) listResources() []resourceDescriptor {
	m := s.reg.resources.snapshot()
	out := make([]resourceDescriptor, 0, len(m))
	for _, uri := range s.reg.resources.keys() {
		r := m[uri]
		out = append(out, resourceDescriptor{URI: r.URI, Name: r.Name, Description: r.Description, MimeType: r.MimeType})
	}
	return out
}

type resourceURIParams struct {
	URI string `json:"uri"`
}

type resourceReadResult struct {
	Contents []ResourceContents `json:"contents"`
}

func (s *Server) readResource(ctx context.Context, f *Frame) *Frame {
	var params resourceURIParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		return NewErrorFrame(f.ID, Errorf(code.InvalidParams, "invalid resources/read params: %v", err))
	}
	r, ok := s.reg.resources.get(params.URI)
	if !ok {
		return NewErrorFrame(f.ID, Errorf(code.ResourceNotFound, "unknown resource %q", params.URI))
	}
	contents, err := r.Handler(ctx, params.URI)
	if err != nil {
		return NewErrorFrame(f.ID, Errorf(code.ResourceNotFound, "%v", err))
	}
	return s.replyJSON(f.ID, resourceReadResult{Contents: []ResourceContents{*contents}})
}

func (s *Server) subscribeResource(f *Frame) *Frame {
	var params resourceURIParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		return NewErrorFrame(f.ID, Errorf(code.InvalidParams, "invalid resources/subscribe params: %v", err))
	}
	if m := s.opt.metrics(); m != nil && !s.subs.isSubscribed(params.URI) {
		m.ActiveSubscriptions.Inc()
	}
	s.subs.subscribe(params.URI, string(s.tr.TransportID()))
	return s.replyJSON(f.ID, struct{}{})
}

func (s *Server) unsubscribeResource(f *Frame) *Frame {
	var params resourceURIParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		return NewErrorFrame(f.ID, Errorf(code.InvalidParams, "invalid resources/unsubscribe params: %v", err))
	}
	if s.subs.unsubscribe(params.URI) {
		if m := s.opt.metrics(); m != nil {
			m.ActiveSubscriptions.Dec()
		}
	}
	return s.replyJSON(f.ID, struct{}{})
}

type completeParams struct {
	Ref      string `json:"ref"`
	Argument struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"argument"`
}

type completeResult struct {
	Completion CompletionValues `json:"completion"`
}

func (s *Server) complete(ctx context.Context, f *Frame) *Frame {
	var params completeParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		return NewErrorFrame(f.ID, Errorf(code.InvalidParams, "invalid completion/complete params: %v", err))
	}
	provider, ok := s.reg.completions.get(params.Ref)
	if !ok {
		return NewErrorFrame(f.ID, Errorf(code.MethodNotFound, "no completion provider for %q", params.Ref))
	}
	values, err := provider(ctx, params.Ref, params.Argument.Name, params.Argument.Value)
	if err != nil {
		return NewErrorFrame(f.ID, Errorf(code.InternalError, "%v", err))
	}
	return s.replyJSON(f.ID, completeResult{Completion: *values})
}

// requestPeer issues a server-initiated request to the client (e.g.
// sampling/createMessage, roots/list), gated by the client's advertised
// capabilities when strict mode is enabled.
func (s *Server) requestPeer(ctx context.Context, method string, params any, timeout time.Duration) (*Frame, error) {
	s.mu.Lock()
	peer := s.peerCapabilities
	s.mu.Unlock()
	if s.opt.strict() && peer != nil && !checkCapability(method, nil, peer) {
		return nil, &Error{Code: code.CapabilityNotSupported, Message: fmt.Sprintf("peer does not support %s", method)}
	}
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	id := s.pending.nextID()
	if timeout == 0 {
		timeout = s.opt.defaultTimeout()
	}
	pctx, cancel, pr := s.pending.register(ctx, s.tr.TransportID(), id, method, timeout)
	defer cancel()

	data, err := EncodeFrame(NewRequestFrame(id, method, raw))
	if err != nil {
		return nil, err
	}
	if m := s.opt.metrics(); m != nil {
		m.CallsPushed.Inc()
	}
	if err := s.tr.Send(ctx, data, transport.SendOptions{}); err != nil {
		s.pending.abandon(pendingKey{transport: s.tr.TransportID(), id: id})
		return nil, err
	}
	select {
	case f := <-pr.ch:
		if f.Err != nil {
			return nil, f.Err
		}
		return f, nil
	case <-pctx.Done():
		if _, ok := s.pending.abandon(pendingKey{transport: s.tr.TransportID(), id: id}); ok {
			switch pctx.Err() {
			case context.DeadlineExceeded:
				return nil, ErrTimeout
			default:
				return nil, ErrCancelled
			}
		}
		f := <-pr.ch
		if f.Err != nil {
			return nil, f.Err
		}
		return f, nil
	}
}

// RequestSampling asks the client's model to sample a completion for
// messages, per the sampling/createMessage method.
func (s *Server) RequestSampling(ctx context.Context, params any) (*Frame, error) {
	return s.requestPeer(ctx, "sampling/createMessage", params, 0)
}

// RequestRoots asks the client for its current roots/list.
func (s *Server) RequestRoots(ctx context.Context) (*Frame, error) {
	return s.requestPeer(ctx, "roots/list", nil, 0)
}

func (s *Server) sendFrame(f *Frame) {
	data, err := EncodeFrame(f)
	if err != nil {
		s.log("encode: %v", err)
		return
	}
	if err := s.tr.Send(context.Background(), data, transport.SendOptions{}); err != nil {
		s.log("send: %v", err)
	}
}

// Close shuts the server down, cancelling all pending outgoing requests and
// dropping all subscriptions.
func (s *Server) Close() error {
	s.mu.Lock()
	s.stopLocked(ErrClosed)
	s.mu.Unlock()
	s.done.Wait()
	if s.err == ErrClosed {
		return nil
	}
	return s.err
}

func (s *Server) stopLocked(err error) {
	if s.st == stateClosed {
		return
	}
	s.st = stateClosed
	s.err = err
	s.tr.Close()
	s.pending.closeAll()
	if m := s.opt.metrics(); m != nil {
		m.ActiveSubscriptions.Sub(float64(len(s.subs.list())))
	}
	s.subs.clear()
	s.deb.dropAll()
	if m := s.opt.metrics(); m != nil {
		m.ActiveServers.Dec()
	}
}
