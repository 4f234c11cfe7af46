package pmcp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
)

// A RequestID is the wire identifier of a JSON-RPC request: either a signed
// 64-bit integer or a UTF-8 string. Unlike a plain string, a RequestID
// remembers which of the two it was, so that it round-trips through the
// wire codec without changing kind (a number must serialize back out as a
// number, never as a string).
type RequestID struct {
	str   string
	num   int64
	isStr bool
	valid bool // false only for the zero value (no id: a notification)
}

// NewIntID returns a RequestID holding the integer n.
func NewIntID(n int64) RequestID { return RequestID{num: n, valid: true} }

// NewStringID returns a RequestID holding the string s.
func NewStringID(s string) RequestID { return RequestID{str: s, isStr: true, valid: true} }

// IsZero reports whether id is the zero value, i.e. "no id" (a notification
// has no RequestID at all; this is distinct from either a zero int id or an
// empty string id, both of which are valid ids).
func (id RequestID) IsZero() bool { return !id.valid }

// IsString reports whether id holds a string, as opposed to an integer.
func (id RequestID) IsString() bool { return id.isStr }

// Int64 returns the integer value of id. It panics if id does not hold an
// integer.
func (id RequestID) Int64() int64 {
	if id.isStr {
		panic("RequestID: not an integer id")
	}
	return id.num
}

// String renders id for logging/debugging; it does not imply id.IsString().
func (id RequestID) String() string {
	if id.IsZero() {
		return "<none>"
	}
	if id.isStr {
		return id.str
	}
	return strconv.FormatInt(id.num, 10)
}

// Equal reports whether id and other denote the same request id, including
// agreement on kind (the integer 1 and the string "1" are NOT equal).
func (id RequestID) Equal(other RequestID) bool {
	return id.isStr == other.isStr && id.valid == other.valid && id.str == other.str && id.num == other.num
}

// MarshalJSON renders id as a bare JSON number or string, matching whichever
// kind it was constructed with.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	if id.isStr {
		return json.Marshal(id.str)
	}
	return json.Marshal(id.num)
}

// UnmarshalJSON parses a bare JSON number or string into id, preserving
// which kind was present on the wire.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = RequestID{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = NewStringID(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	*id = NewIntID(n)
	return nil
}

// A ProgressToken has exactly the same shape as a RequestID: a signed
// 64-bit integer or a UTF-8 string, carried in a request's
// _meta.progressToken field to correlate notifications/progress back to
// the request that requested them.
type ProgressToken = RequestID

// idSource generates monotonically increasing integer request ids for one
// Protocol Engine, starting at 1.
type idSource struct {
	next int64
}

// Next returns the next id in sequence as a RequestID.
func (s *idSource) Next() RequestID {
	return NewIntID(atomic.AddInt64(&s.next, 1))
}
