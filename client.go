package pmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pmcp-dev/pmcp/code"
	"github.com/pmcp-dev/pmcp/transport"
)

// A Client is the host side of an MCP connection: it issues requests
// (initialize, tools/call, ...) to a server and answers any requests the
// server issues back to it (sampling/createMessage, roots/list), over one
// Transport.
type Client struct {
	tr  transport.Transport
	log func(string, ...any)
	opt *ClientOptions

	pending  *pendingTable
	progress *progressTable
	cancelIn *cancellationRegistry // incoming requests FROM the server

	done *sync.WaitGroup

	mu               sync.Mutex
	st               state
	err              error
	negotiated       ProtocolVersion
	peerCapabilities *ServerCapabilities
}

// NewClient constructs a Client bound to tr. The returned client has not
// yet performed the initialize handshake; call Initialize before issuing
// any other request.
func NewClient(tr transport.Transport, opts *ClientOptions) *Client {
	c := &Client{
		tr:       tr,
		log:      opts.logFunc(),
		opt:      opts,
		pending:  newPendingTable(),
		progress: newProgressTable(),
		cancelIn: newCancellationRegistry(),
		done:     new(sync.WaitGroup),
	}
	c.done.Add(1)
	go func() {
		defer c.done.Done()
		c.readLoop()
	}()
	return c
}

func (c *Client) readLoop() {
	ctx := context.Background()
	for {
		data, err := c.tr.Receive(ctx)
		if err != nil {
			c.mu.Lock()
			c.stopLocked(err)
			c.mu.Unlock()
			return
		}
		res, err := ParseMessage(data, DefaultMaxFrameBytes)
		if err != nil {
			c.log("discarding unparseable frame: %v", err)
			continue
		}
		for i, f := range res.Frames {
			if res.Errs[i] != nil {
				c.log("discarding malformed frame: %v", res.Errs[i])
				continue
			}
			c.deliver(f)
		}
	}
}

func (c *Client) deliver(f *Frame) {
	switch {
	case f.IsNotification():
		c.handleNotification(f)
	case f.IsRequest():
		c.handleServerRequest(f)
	default:
		if !c.pending.resolve(c.tr.TransportID(), f) {
			c.log("discarding response for unknown id %s", f.ID)
		}
	}
}

func (c *Client) handleNotification(f *Frame) {
	switch f.Method {
	case methodProgress:
		var p progressParams
		_ = json.Unmarshal(f.Params, &p)
		c.progress.dispatch(p.ProgressToken, p.Progress, p.Total, p.Message)
	case methodCancelled:
		var p cancelledParams
		_ = json.Unmarshal(f.Params, &p)
		c.cancelIn.trigger(p.RequestID)
	default:
		if h := c.opt.handleNotify(); h != nil {
			h(f)
		} else {
			c.log("discarding notification %s", f.Method)
		}
	}
}

func (c *Client) handleServerRequest(f *Frame) {
	h := c.opt.handleRequest()
	if h == nil {
		c.replyError(f.ID, Errorf(code.MethodNotFound, "method not found: %s", f.Method))
		return
	}
	reqCtx, cancel := context.WithCancel(context.Background())
	c.cancelIn.register(f.ID, cancel)
	reqCtx = context.WithValue(reqCtx, clientKey{}, c)
	reqCtx = context.WithValue(reqCtx, inboundRequestKey{}, f)

	go func() {
		defer c.cancelIn.remove(f.ID)
		v, err := panicToError(func() (any, error) { return h(reqCtx, f) })
		select {
		case <-reqCtx.Done():
			// Cancelled by the peer; the engine must not send the late reply.
			return
		default:
		}
		if err != nil {
			if e, ok := err.(*Error); ok {
				c.replyError(f.ID, e)
			} else {
				c.replyError(f.ID, Errorf(code.InternalError, "%v", err))
			}
			return
		}
		raw, merr := json.Marshal(v)
		if merr != nil {
			c.replyError(f.ID, Errorf(code.InternalError, "marshal result: %v", merr))
			return
		}
		c.sendFrame(NewResultFrame(f.ID, raw))
	}()
}

func (c *Client) replyError(id RequestID, e *Error) {
	c.sendFrame(NewErrorFrame(id, e))
}

func (c *Client) sendFrame(f *Frame) {
	data, err := EncodeFrame(f)
	if err != nil {
		c.log("encode reply: %v", err)
		return
	}
	if err := c.tr.Send(context.Background(), data, transport.SendOptions{}); err != nil {
		c.log("send reply: %v", err)
	}
}

// Initialize performs the handshake: sends initialize, waits for the
// server's reply, then sends notifications/initialized. It must be called
// exactly once, before any other Client method.
func (c *Client) Initialize(ctx context.Context, clientName, clientVersion string) (*InitializeResult, error) {
	c.mu.Lock()
	c.st = stateInitializing
	c.mu.Unlock()

	ictx, cancel := context.WithTimeout(ctx, c.opt.initializeTimeout())
	defer cancel()

	params := initializeParams{
		ProtocolVersion: LatestVersion,
		Capabilities:    c.opt.capabilities(),
		ClientInfo:      clientInfo{Name: clientName, Version: clientVersion},
	}
	rsp, err := c.call(ictx, methodInitialize, params, nil)
	if err != nil {
		return nil, err
	}
	var result InitializeResult
	if err := json.Unmarshal(rsp.Result, &result); err != nil {
		return nil, Errorf(code.InternalError, "decode initialize result: %v", err)
	}

	c.mu.Lock()
	c.negotiated = result.ProtocolVersion
	caps := result.Capabilities
	c.peerCapabilities = &caps
	c.st = stateOperational
	c.mu.Unlock()

	if err := c.Notify(ctx, methodInitialized, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// callOptions customizes a single Call.
type callOptions struct {
	timeout       time.Duration
	progressToken *ProgressToken
	onProgress    ProgressSink
}

// Call issues a request and blocks for the reply or ctx's end.
func (c *Client) Call(ctx context.Context, method string, params any) (*Frame, error) {
	return c.call(ctx, method, params, nil)
}

// CallResult is Call, followed by decoding the result into v.
func (c *Client) CallResult(ctx context.Context, method string, params, v any) error {
	rsp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	return json.Unmarshal(rsp.Result, v)
}

// CallWithProgress is Call, additionally correlating
// notifications/progress for this request to sink.
func (c *Client) CallWithProgress(ctx context.Context, method string, params any, sink ProgressSink) (*Frame, error) {
	return c.call(ctx, method, params, &callOptions{onProgress: sink})
}

func (c *Client) call(ctx context.Context, method string, params any, opts *callOptions) (*Frame, error) {
	c.mu.Lock()
	st := c.st
	peer := c.peerCapabilities
	c.mu.Unlock()

	if st != stateOperational && method != methodInitialize {
		return nil, Errorf(code.InvalidRequest, "client is not operational (state=%d)", st)
	}
	if c.opt.strict() && peer != nil && !checkCapability(method, peer, nil) {
		return nil, &Error{Code: code.CapabilityNotSupported, Message: fmt.Sprintf("peer does not support %s", method)}
	}

	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	id := c.pending.nextID()

	var tok *ProgressToken
	if opts != nil && opts.onProgress != nil {
		t := c.pending.nextID()
		tok = &t
		c.progress.register(t, opts.onProgress)
		raw = withProgressToken(raw, t)
	}

	timeout := c.opt.defaultTimeout()
	if opts != nil && opts.timeout > 0 {
		timeout = opts.timeout
	}
	pctx, cancel, pr := c.pending.register(ctx, c.tr.TransportID(), id, method, timeout)
	defer cancel()

	data, err := EncodeFrame(NewRequestFrame(id, method, raw))
	if err != nil {
		return nil, err
	}
	if err := c.tr.Send(ctx, data, transport.SendOptions{}); err != nil {
		c.pending.abandon(pendingKey{transport: c.tr.TransportID(), id: id})
		return nil, err
	}

	key := pendingKey{transport: c.tr.TransportID(), id: id}
	select {
	case f := <-pr.ch:
		if tok != nil {
			c.progress.unregister(*tok)
		}
		if f.Err != nil {
			return nil, f.Err
		}
		return f, nil
	case <-pctx.Done():
		// Abandon first so a late reply from the peer is dropped silently
		// rather than resolved (spec.md §4.3 cancellation semantics).
		if _, ok := c.pending.abandon(key); ok {
			go func() {
				_ = c.Notify(context.Background(), methodCancelled, cancelledParams{RequestID: id})
			}()
			if tok != nil {
				c.progress.unregister(*tok)
			}
			switch pctx.Err() {
			case context.DeadlineExceeded:
				return nil, ErrTimeout
			default:
				return nil, ErrCancelled
			}
		}
		// Already resolved concurrently; fall through to read its value.
		f := <-pr.ch
		if f.Err != nil {
			return nil, f.Err
		}
		return f, nil
	}
}

// Notify sends a notification (no reply expected).
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	data, err := EncodeFrame(NewNotificationFrame(method, raw))
	if err != nil {
		return err
	}
	return c.tr.Send(ctx, data, transport.SendOptions{})
}

// BatchItem is one element of a Batch call.
type BatchItem struct {
	Method string
	Params any
	Notify bool
}

// batchWaiter is one outstanding reply slot within a Batch call.
type batchWaiter struct {
	ch     chan *Frame
	pctx   context.Context
	cancel context.CancelFunc
	key    pendingKey
}

// Batch sends a batch of requests/notifications in one frame and waits for
// all replies, returned in the same order as specs (notifications omitted).
// Each reply is subject to the same per-request timeout/cancellation as
// Call, rather than blocking indefinitely for a peer that never answers.
func (c *Client) Batch(ctx context.Context, specs []BatchItem) ([]*Frame, error) {
	var frames []*Frame
	var waiters []batchWaiter
	for _, spec := range specs {
		raw, err := marshalParams(spec.Params)
		if err != nil {
			return nil, err
		}
		if spec.Notify {
			frames = append(frames, NewNotificationFrame(spec.Method, raw))
			continue
		}
		id := c.pending.nextID()
		key := pendingKey{transport: c.tr.TransportID(), id: id}
		pctx, cancel, pr := c.pending.register(ctx, c.tr.TransportID(), id, spec.Method, c.opt.defaultTimeout())
		waiters = append(waiters, batchWaiter{ch: pr.ch, pctx: pctx, cancel: cancel, key: key})
		frames = append(frames, NewRequestFrame(id, spec.Method, raw))
	}

	data, err := EncodeBatch(frames, true)
	if err != nil {
		for _, w := range waiters {
			w.cancel()
		}
		return nil, err
	}
	if err := c.tr.Send(ctx, data, transport.SendOptions{}); err != nil {
		for _, w := range waiters {
			c.pending.abandon(w.key)
			w.cancel()
		}
		return nil, err
	}

	out := make([]*Frame, len(waiters))
	for i, w := range waiters {
		select {
		case f := <-w.ch:
			out[i] = f
		case <-w.pctx.Done():
			if _, ok := c.pending.abandon(w.key); ok {
				switch w.pctx.Err() {
				case context.DeadlineExceeded:
					out[i] = NewErrorFrame(RequestID{}, Errorf(code.DeadlineExceeded, "%s", ErrTimeout.Error()))
				default:
					out[i] = NewErrorFrame(RequestID{}, Errorf(code.Cancelled, "%s", ErrCancelled.Error()))
				}
			} else {
				// Already resolved concurrently; fall through to its value.
				out[i] = <-w.ch
			}
		}
		w.cancel()
	}
	return out, nil
}

// Close shuts the client down, failing any pending requests with
// ConnectionClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	c.stopLocked(ErrClosed)
	c.mu.Unlock()
	c.done.Wait()
	if c.err == ErrClosed {
		return nil
	}
	return c.err
}

func (c *Client) stopLocked(err error) {
	if c.st == stateClosed {
		return
	}
	c.st = stateClosed
	c.err = err
	c.tr.Close()
	c.pending.closeAll()
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if fb := firstNonSpace(raw); fb != '[' && fb != '{' && !isNullRaw(raw) {
		return nil, &Error{Code: code.InvalidRequest, Message: "invalid parameters: array or object required"}
	}
	return raw, nil
}

func withProgressToken(params json.RawMessage, tok ProgressToken) json.RawMessage {
	var obj map[string]json.RawMessage
	if len(params) == 0 {
		obj = map[string]json.RawMessage{}
	} else if err := json.Unmarshal(params, &obj); err != nil {
		return params
	}
	tokRaw, _ := tok.MarshalJSON()
	meta, _ := json.Marshal(map[string]json.RawMessage{"progressToken": tokRaw})
	obj["_meta"] = meta
	raw, _ := json.Marshal(obj)
	return raw
}

// initializeParams / InitializeResult / clientInfo / serverInfo are the
// wire shapes of the handshake, per spec.md §8 scenario 1 and §4.3.
type initializeParams struct {
	ProtocolVersion ProtocolVersion    `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      clientInfo         `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the server's reply to initialize.
type InitializeResult struct {
	ProtocolVersion ProtocolVersion    `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      serverInfo         `json:"serverInfo"`
}
