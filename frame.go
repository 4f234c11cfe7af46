package pmcp

import (
	"bytes"
	"encoding/json"

	"github.com/pmcp-dev/pmcp/code"
)

// Version is the JSON-RPC protocol version string required on every frame.
const Version = "2.0"

// DefaultMaxFrameBytes bounds the size of a single wire frame the codec will
// accept, per spec's OversizedFrame error.
const DefaultMaxFrameBytes = 4 << 20 // 4 MiB

// A Frame is one parsed JSON-RPC message: a request, a response, or a
// notification. Batches are represented as a []*Frame.
type Frame struct {
	ID     RequestID       // zero for a notification
	Method string          // set for a request or notification
	Params json.RawMessage // set for a request or notification, may be nil
	Result json.RawMessage // set for a successful response
	Err    *Error          // set for a failed response

	raw json.RawMessage // original encoding, retained for relay/forward-compat
}

// IsRequest reports whether f is a request (has both a method and an id).
func (f *Frame) IsRequest() bool { return f.Method != "" && !f.ID.IsZero() }

// IsNotification reports whether f is a notification (method, no id).
func (f *Frame) IsNotification() bool { return f.Method != "" && f.ID.IsZero() }

// IsResponse reports whether f is a response (no method, has an id).
func (f *Frame) IsResponse() bool { return f.Method == "" && !f.ID.IsZero() }

// NewRequestFrame builds a request frame.
func NewRequestFrame(id RequestID, method string, params json.RawMessage) *Frame {
	return &Frame{ID: id, Method: method, Params: params}
}

// NewNotificationFrame builds a notification frame (no id).
func NewNotificationFrame(method string, params json.RawMessage) *Frame {
	return &Frame{Method: method, Params: params}
}

// NewResultFrame builds a successful response frame.
func NewResultFrame(id RequestID, result json.RawMessage) *Frame {
	return &Frame{ID: id, Result: result}
}

// NewErrorFrame builds a failed response frame.
func NewErrorFrame(id RequestID, err *Error) *Frame {
	return &Frame{ID: id, Err: err}
}

// wireFrame is the on-the-wire shape of a single JSON-RPC message. Unlike
// Frame, its ID field is a json.RawMessage so the codec controls exactly how
// ids are read and written, preserving numeric-vs-string kind.
type wireFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// EncodeFrame serializes f as a single minified JSON object.
func EncodeFrame(f *Frame) ([]byte, error) {
	w := wireFrame{JSONRPC: Version, Method: f.Method, Params: f.Params, Result: f.Result, Error: f.Err}
	if !f.ID.IsZero() {
		id, err := f.ID.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.ID = id
	}
	return json.Marshal(w)
}

// EncodeBatch serializes a slice of frames as a JSON array, or as a single
// object if there is exactly one frame and wasBatch is false.
func EncodeBatch(frames []*Frame, wasBatch bool) ([]byte, error) {
	if len(frames) == 1 && !wasBatch {
		return EncodeFrame(frames[0])
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, f := range frames {
		if i > 0 {
			buf.WriteByte(',')
		}
		bits, err := EncodeFrame(f)
		if err != nil {
			return nil, err
		}
		buf.Write(bits)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// ParseResult holds the result of parsing a wire message, which may be a
// single frame or a batch, along with any per-frame errors (a malformed
// element of an otherwise well-formed batch does not invalidate its
// siblings, per the stdio binding's "parse errors do not tear down the
// connection" rule).
type ParseResult struct {
	Frames  []*Frame
	Errs    []*Error // Errs[i] describes why Frames[i] is invalid, or nil
	IsBatch bool
}

// ParseMessage parses a single JSON-RPC message or batch from data. It
// reports a top-level error only if data exceeds maxBytes (InvalidRequest)
// or is not valid JSON at all (ParseError); otherwise, malformed individual
// frames, including a valid JSON value that is not an object, are captured
// per-element in ParseResult.Errs.
func ParseMessage(data []byte, maxBytes int) (*ParseResult, error) {
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, Errorf(code.InvalidRequest, "frame exceeds maximum size of %d bytes", maxBytes)
	}
	var raws []json.RawMessage
	isBatch := firstNonSpace(data) == '['
	if isBatch {
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, Errorf(code.ParseError, "invalid JSON: %v", err)
		}
	} else {
		raws = []json.RawMessage{data}
		if !json.Valid(data) {
			return nil, Errorf(code.ParseError, "invalid JSON: not a valid value")
		}
	}

	out := &ParseResult{IsBatch: isBatch}
	for _, raw := range raws {
		f, perr := parseOne(raw)
		out.Frames = append(out.Frames, f)
		out.Errs = append(out.Errs, perr)
	}
	return out, nil
}

func parseOne(raw json.RawMessage) (*Frame, *Error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return &Frame{raw: raw}, Errorf(code.ParseError, "not a JSON object")
	}

	f := &Frame{raw: raw}
	var version string
	var extra []string
	var haveID, haveMethod, haveResult, haveError bool

	for key, val := range obj {
		switch key {
		case "jsonrpc":
			if err := json.Unmarshal(val, &version); err != nil {
				return f, Errorf(code.ParseError, "invalid jsonrpc version field")
			}
		case "id":
			if isNullRaw(val) {
				continue
			}
			if err := f.ID.UnmarshalJSON(val); err != nil {
				return f, Errorf(code.InvalidRequest, "invalid request id")
			}
			haveID = true
		case "method":
			if err := json.Unmarshal(val, &f.Method); err != nil {
				return f, Errorf(code.ParseError, "invalid method name")
			}
			haveMethod = true
		case "params":
			if !isNullRaw(val) {
				f.Params = val
			}
			if fb := firstNonSpace(f.Params); fb != 0 && fb != '[' && fb != '{' {
				return f, Errorf(code.InvalidRequest, "params must be array or object")
			}
		case "result":
			f.Result = val
			haveResult = true
		case "error":
			if err := json.Unmarshal(val, &f.Err); err != nil {
				return f, Errorf(code.ParseError, "invalid error object")
			}
			haveError = true
		default:
			extra = append(extra, key)
		}
	}

	if version != Version {
		return f, Errorf(code.InvalidRequest, "missing or invalid jsonrpc version")
	}
	if haveMethod && (haveResult || haveError) {
		return f, Errorf(code.InvalidRequest, "frame mixes request and response fields")
	}
	if !haveMethod && haveResult && haveError {
		return f, Errorf(code.InvalidRequest, "response carries both result and error")
	}
	if !haveMethod && !haveResult && !haveError {
		return f, Errorf(code.InvalidRequest, "frame is neither a request, response, nor notification")
	}
	if len(extra) > 0 {
		return f, Errorf(code.InvalidRequest, "unexpected fields: %v", extra)
	}
	if !haveMethod && !haveID {
		return f, Errorf(code.InvalidRequest, "response has no id")
	}
	return f, nil
}

func isNullRaw(v json.RawMessage) bool {
	return len(v) == 4 && string(v) == "null"
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return b
		}
	}
	return 0
}
