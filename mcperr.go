package pmcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pmcp-dev/pmcp/code"
)

// An Error is the JSON-RPC error object, carrying a stable code, a
// human-readable message, and optional structured data.
type Error struct {
	Code    code.Code       `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string { return fmt.Sprintf("[%d] %s", e.Code, e.Message) }

// ErrCode implements code.ErrCoder.
func (e *Error) ErrCode() code.Code { return e.Code }

// WithData attaches a JSON-encodable value as the error's Data field,
// returning a copy of e. If marshaling v fails, Data is left as a string
// description of the failure.
func (e *Error) WithData(v any) *Error {
	cp := *e
	raw, err := json.Marshal(v)
	if err != nil {
		raw, _ = json.Marshal(fmt.Sprintf("unrepresentable error data: %v", err))
	}
	cp.Data = raw
	return &cp
}

// UnmarshalData decodes the error's Data field into v. It reports an error
// if e has no data or the data does not unmarshal into v.
func (e *Error) UnmarshalData(v any) error {
	if len(e.Data) == 0 {
		return errors.New("error has no data")
	}
	return json.Unmarshal(e.Data, v)
}

// Errorf constructs an *Error with the given code and a formatted message.
func Errorf(c code.Code, msg string, args ...any) *Error {
	return &Error{Code: c, Message: fmt.Sprintf(msg, args...)}
}

// Sentinel errors reported by the engine and transports. These are not wire
// errors: they never cross the JSON-RPC boundary directly, but are mapped
// to a code.Code (via code.FromError) when they must be reported to a peer.
var (
	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("pmcp: connection closed")

	// ErrConnReset indicates the underlying transport failed or reset.
	ErrConnReset = errors.New("pmcp: connection reset")

	// ErrCancelled indicates a request was cancelled locally or by the peer.
	ErrCancelled = codedErr{code.Cancelled, "pmcp: request cancelled"}

	// ErrTimeout indicates a request's deadline elapsed before a reply.
	ErrTimeout = codedErr{code.DeadlineExceeded, "pmcp: request timed out"}

	// ErrCapabilityNotSupported indicates strict capability gating rejected
	// a request locally, without sending it to the peer.
	ErrCapabilityNotSupported = codedErr{code.CapabilityNotSupported, "pmcp: capability not supported by peer"}
)

// codedErr is a plain sentinel error that also carries a code.Code, so
// code.FromError can recover it without a type switch at each call site.
type codedErr struct {
	code code.Code
	msg  string
}

func (e codedErr) Error() string      { return e.msg }
func (e codedErr) ErrCode() code.Code { return e.code }
