// Package transport defines the frame-oriented conduit between a Protocol
// Engine and its peer, plus the stdio and in-memory bindings.
package transport

import (
	"context"
	"errors"
)

// ID is a stable opaque identifier for one Transport instance, used by the
// engine to scope its pending-request table so frames received on one
// transport never resolve a request issued on another.
type ID string

// Kind names the concrete transport binding in use.
type Kind string

const (
	KindStdio  Kind = "stdio"
	KindHTTP   Kind = "http"
	KindDirect Kind = "direct"
)

// Priority hints the relative urgency of an outbound send. Transports that
// do not implement priority scheduling may ignore it.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityLow
	PriorityHigh
)

// SendOptions controls one Send call.
type SendOptions struct {
	Priority     Priority
	RequiresAck  bool
}

// ErrClosed is returned by Send/Receive after Close.
var ErrClosed = errors.New("transport: closed")

// Transport is the contract a Protocol Engine uses to exchange raw message
// frames with a peer. Implementations are frame-oriented: framing,
// encoding, and any length/newline delimiting are hidden from the engine.
type Transport interface {
	// Send enqueues data (one already-encoded JSON-RPC message or batch) for
	// delivery. It may block under backpressure.
	Send(ctx context.Context, data []byte, opts SendOptions) error

	// Receive blocks until the next frame is available, the transport is
	// closed, or ctx is done. A frame that fails to parse at a higher layer
	// does not invalidate the transport; Receive only reports transport-level
	// failures (ErrClosed, I/O errors).
	Receive(ctx context.Context) ([]byte, error)

	// Close shuts the transport down. It is idempotent; subsequent Send and
	// Receive calls fail with ErrClosed.
	Close() error

	// TransportID returns this instance's stable identifier.
	TransportID() ID

	// IsConnected reports whether the transport is still usable.
	IsConnected() bool

	// TransportType names the concrete binding.
	TransportType() Kind
}
