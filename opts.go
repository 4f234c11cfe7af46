package pmcp

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/pmcp-dev/pmcp/mcpmetrics"
)

// A Logger records text logs from a Client or Server. A nil logger discards
// its input.
type Logger func(text string)

// Printf writes a formatted message to lg. If lg == nil, the message is
// discarded.
func (lg Logger) Printf(msg string, args ...any) {
	if lg != nil {
		lg(fmt.Sprintf(msg, args...))
	}
}

// StdLogger adapts a *log.Logger to a Logger. If logger == nil, the
// returned function writes to the default logger.
func StdLogger(logger *log.Logger) Logger {
	if logger == nil {
		return func(text string) { log.Output(2, text) }
	}
	return func(text string) { logger.Output(2, text) }
}

// An RPCLogger receives synchronous callbacks from a Server around the
// processing of each request, for audit/debug logging.
type RPCLogger interface {
	// LogRequest is called for each request, before its handler runs.
	LogRequest(ctx context.Context, f *Frame)
	// LogResponse is called for each response, just before it is sent.
	LogResponse(ctx context.Context, f *Frame)
}

type nullRPCLogger struct{}

func (nullRPCLogger) LogRequest(context.Context, *Frame)  {}
func (nullRPCLogger) LogResponse(context.Context, *Frame) {}

// DebouncePolicy configures how the server's notification debouncer
// coalesces a single (method, key) stream of high-churn notifications.
type DebouncePolicy struct {
	// IntervalMS is the minimum spacing between two emitted notifications
	// for the same (method, key).
	IntervalMS int
	// MaxWaitMS bounds how long a notification may be held pending before
	// being forcibly emitted, measured from the first coalesced event.
	MaxWaitMS int
	// Merge is not consulted by the debouncer: whatever its value, a later
	// event inside the window replaces the pending payload with the newest
	// one, and no payload merging is performed.
	Merge bool
}

func (p DebouncePolicy) interval() time.Duration {
	if p.IntervalMS <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(p.IntervalMS) * time.Millisecond
}

func (p DebouncePolicy) maxWait() time.Duration {
	if p.MaxWaitMS <= 0 {
		return 1000 * time.Millisecond
	}
	return time.Duration(p.MaxWaitMS) * time.Millisecond
}

// ServerOptions control the behavior of a Server created by NewServer. A nil
// *ServerOptions provides sensible defaults. It is safe to share options
// across multiple servers.
type ServerOptions struct {
	// If not nil, send debug text logs here.
	Logger Logger

	// If not nil, the methods of this value are called around each request
	// processed by the server.
	RPCLog RPCLogger

	// The capabilities this server advertises during initialize.
	Capabilities ServerCapabilities

	// If true, a server-initiated request (sampling/createMessage,
	// roots/list) whose method family the peer did not advertise fails
	// locally without reaching the transport.
	EnforceStrictCapabilities bool

	// Allows up to this many handlers to execute concurrently. A value less
	// than 1 uses runtime.NumCPU(). Does not constrain order of dispatch.
	Concurrency int

	// Per-notification-method debounce policy (e.g.
	// "notifications/tools/list_changed"). A method with no entry uses the
	// DebouncePolicy zero value's defaults.
	Debounce map[string]DebouncePolicy

	// Default per-request timeout applied when a caller specifies none.
	// Zero means no default deadline.
	DefaultTimeout time.Duration

	// InitializeTimeout is not applied by Server; the server puts no
	// deadline on the handshake.
	InitializeTimeout time.Duration

	// If set, called to create the base context for each request the
	// server handles. If unset, context.Background is used.
	NewContext func() context.Context

	StartTime time.Time

	// If not nil, dispatch counters and gauges are recorded here. A nil
	// value discards all observations.
	Metrics *mcpmetrics.Metrics
}

func (s *ServerOptions) logFunc() func(string, ...any) {
	if s == nil || s.Logger == nil {
		return func(string, ...any) {}
	}
	return s.Logger.Printf
}

func (s *ServerOptions) rpcLog() RPCLogger {
	if s == nil || s.RPCLog == nil {
		return nullRPCLogger{}
	}
	return s.RPCLog
}

func (s *ServerOptions) concurrency() int64 {
	if s == nil || s.Concurrency < 1 {
		return int64(runtime.NumCPU())
	}
	return int64(s.Concurrency)
}

func (s *ServerOptions) capabilities() ServerCapabilities {
	if s == nil {
		return ServerCapabilities{}
	}
	return s.Capabilities
}

func (s *ServerOptions) strict() bool { return s != nil && s.EnforceStrictCapabilities }

func (s *ServerOptions) debouncePolicy(method string) DebouncePolicy {
	if s == nil || s.Debounce == nil {
		return DebouncePolicy{}
	}
	return s.Debounce[method]
}

func (s *ServerOptions) defaultTimeout() time.Duration {
	if s == nil {
		return 0
	}
	return s.DefaultTimeout
}

func (s *ServerOptions) initializeTimeout() time.Duration {
	if s == nil || s.InitializeTimeout <= 0 {
		return 60 * time.Second
	}
	return s.InitializeTimeout
}

func (s *ServerOptions) newContext() func() context.Context {
	if s == nil || s.NewContext == nil {
		return context.Background
	}
	return s.NewContext
}

func (s *ServerOptions) startTime() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.StartTime
}

func (s *ServerOptions) metrics() *mcpmetrics.Metrics {
	if s == nil {
		return nil
	}
	return s.Metrics
}

// ClientOptions control the behavior of a Client created by NewClient. A nil
// *ClientOptions provides sensible defaults.
type ClientOptions struct {
	// If not nil, send debug text logs here.
	Logger Logger

	// The capabilities this client advertises during initialize.
	Capabilities ClientCapabilities

	// If true, issuing a request whose method family the server did not
	// advertise fails locally with CapabilityNotSupported.
	EnforceStrictCapabilities bool

	// Called for a notification this client does not handle internally
	// (anything but notifications/progress and notifications/cancelled). If
	// unset, such notifications
	// are logged and discarded.
	OnNotify func(*Frame)

	// Called when the server issues a request to this client (e.g.
	// sampling/createMessage, roots/list). If unset, such requests are
	// answered with MethodNotFound. If the handler panics, the client
	// recovers and reports InternalError back to the server.
	OnRequest func(context.Context, *Frame) (any, error)

	// Default per-request timeout.
	DefaultTimeout time.Duration

	InitializeTimeout time.Duration
}

func (c *ClientOptions) logFunc() func(string, ...any) {
	if c == nil || c.Logger == nil {
		return func(string, ...any) {}
	}
	return c.Logger.Printf
}

func (c *ClientOptions) capabilities() ClientCapabilities {
	if c == nil {
		return ClientCapabilities{}
	}
	return c.Capabilities
}

func (c *ClientOptions) strict() bool { return c != nil && c.EnforceStrictCapabilities }

func (c *ClientOptions) handleNotify() func(*Frame) {
	if c == nil || c.OnNotify == nil {
		return nil
	}
	return c.OnNotify
}

func (c *ClientOptions) handleRequest() func(context.Context, *Frame) (any, error) {
	if c == nil || c.OnRequest == nil {
		return nil
	}
	return c.OnRequest
}

func panicToError(f func() (any, error)) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in handler: %v", p)
		}
	}()
	return f()
}

func (c *ClientOptions) defaultTimeout() time.Duration {
	if c == nil {
		return 0
	}
	return c.DefaultTimeout
}

func (c *ClientOptions) initializeTimeout() time.Duration {
	if c == nil || c.InitializeTimeout <= 0 {
		return 60 * time.Second
	}
	return c.InitializeTimeout
}
