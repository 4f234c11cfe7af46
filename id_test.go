package pmcp_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/pmcp-dev/pmcp"
)

func TestRequestIDRoundtrip(t *testing.T) {
	tests := []struct {
		name string
		id   pmcp.RequestID
		wire string
	}{
		{"int", pmcp.NewIntID(42), "42"},
		{"zeroInt", pmcp.NewIntID(0), "0"},
		{"negative", pmcp.NewIntID(-7), "-7"},
		{"string", pmcp.NewStringID("abc"), `"abc"`},
		{"emptyString", pmcp.NewStringID(""), `""`},
		{"numericString", pmcp.NewStringID("1"), `"1"`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			data, err := test.id.MarshalJSON()
			if err != nil {
				t.Fatalf("MarshalJSON: %v", err)
			}
			if got := string(data); got != test.wire {
				t.Errorf("MarshalJSON: got %q, want %q", got, test.wire)
			}
			var back pmcp.RequestID
			if err := back.UnmarshalJSON(data); err != nil {
				t.Fatalf("UnmarshalJSON(%q): %v", data, err)
			}
			if !back.Equal(test.id) {
				t.Errorf("roundtrip: got %+v, want %+v", back, test.id)
			}
		})
	}
}

func TestRequestIDKindNeverConflates(t *testing.T) {
	// The integer 1 and the string "1" must never compare equal: a server
	// that replies to id 1 (number) must not satisfy a pending call keyed on
	// id "1" (string).
	intOne := pmcp.NewIntID(1)
	strOne := pmcp.NewStringID("1")
	if intOne.Equal(strOne) {
		t.Fatalf("NewIntID(1) must not equal NewStringID(\"1\")")
	}
	if cmp.Equal(intOne.String(), strOne.String()) == false {
		t.Fatalf("String() rendering should agree even though Equal does not")
	}
}

func TestRequestIDZeroValueIsNoID(t *testing.T) {
	var zero pmcp.RequestID
	if !zero.IsZero() {
		t.Fatalf("zero value RequestID must report IsZero")
	}
	data, err := zero.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(data) != "null" {
		t.Errorf("zero id must marshal to null, got %q", data)
	}
}

func TestRequestIDUnmarshalNull(t *testing.T) {
	var id pmcp.RequestID
	if err := id.UnmarshalJSON([]byte("null")); err != nil {
		t.Fatalf("UnmarshalJSON(null): %v", err)
	}
	if !id.IsZero() {
		t.Errorf("unmarshaling null must produce the zero value")
	}
}

func TestRequestIDInFrameJSON(t *testing.T) {
	type wire struct {
		ID json.RawMessage `json:"id"`
	}
	id := pmcp.NewStringID("req-1")
	raw, err := id.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	out, err := json.Marshal(wire{ID: raw})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back wire
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	var gotID pmcp.RequestID
	if err := gotID.UnmarshalJSON(back.ID); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if diff := cmp.Diff(id.String(), gotID.String(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("id mismatch (-want +got):\n%s", diff)
	}
}
