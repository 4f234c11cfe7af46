// Package code defines the error codes used by the wire protocol, following
// the JSON-RPC 2.0 reserved range plus the MCP implementation-defined band.
package code

import "fmt"

// A Code is an error code as defined by the JSON-RPC 2.0 spec and the
// implementation-defined extensions used by this protocol.
type Code int32

// Standard JSON-RPC 2.0 codes, required by the wire protocol.
const (
	ParseError     Code = -32700
	InvalidRequest Code = -32600
	MethodNotFound Code = -32601
	InvalidParams  Code = -32602
	InternalError  Code = -32603
)

// Implementation-defined codes, in the reserved -32000..-32099 band.
const (
	NoError                Code = -32000
	SystemError            Code = -32001
	Cancelled              Code = -32002
	DeadlineExceeded       Code = -32003
	AuthenticationFailed   Code = -32004
	CapabilityNotSupported Code = -32005
	ResourceNotFound       Code = -32006
	ProtocolVersionMismatch Code = -32007
)

// An ErrCoder is an error that knows its own error code.
type ErrCoder interface {
	ErrCode() Code
}

// codeError implements ErrCoder and error for a bare code.
type codeError Code

func (c codeError) Error() string    { return fmt.Sprintf("error code %d", int32(c)) }
func (c codeError) ErrCode() Code    { return Code(c) }
func (c Code) Err() error            { return codeError(c) }

// String renders a human-readable name for c, falling back to its numeric
// value if c is not one of the codes defined here.
func (c Code) String() string {
	switch c {
	case ParseError:
		return "parse error"
	case InvalidRequest:
		return "invalid request"
	case MethodNotFound:
		return "method not found"
	case InvalidParams:
		return "invalid params"
	case InternalError:
		return "internal error"
	case NoError:
		return "no error"
	case SystemError:
		return "system error"
	case Cancelled:
		return "cancelled"
	case DeadlineExceeded:
		return "deadline exceeded"
	case AuthenticationFailed:
		return "authentication failed"
	case CapabilityNotSupported:
		return "capability not supported"
	case ResourceNotFound:
		return "resource not found"
	case ProtocolVersionMismatch:
		return "protocol version mismatch"
	default:
		return fmt.Sprintf("code(%d)", int32(c))
	}
}

// FromError reports the error code associated with err. If err implements
// ErrCoder, that code is returned; if err is nil, NoError is returned; if
// err wraps another error (via Unwrap), the wrapped error's code is
// returned; otherwise InternalError is returned.
func FromError(err error) Code {
	if err == nil {
		return NoError
	}
	if c, ok := err.(ErrCoder); ok {
		return c.ErrCode()
	}
	if e, ok := err.(interface{ Unwrap() error }); ok {
		return FromError(e.Unwrap())
	}
	return InternalError
}
