package pmcp_test

import (
	"encoding/json"
	"testing"

	"github.com/pmcp-dev/pmcp"
	"github.com/pmcp-dev/pmcp/code"
)

func TestFrameEncodeParseRoundtrip(t *testing.T) {
	f := pmcp.NewRequestFrame(pmcp.NewIntID(7), "tools/call", json.RawMessage(`{"name":"echo"}`))
	data, err := pmcp.EncodeFrame(f)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	res, err := pmcp.ParseMessage(data, pmcp.DefaultMaxFrameBytes)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if res.IsBatch {
		t.Fatalf("single frame must not parse as a batch")
	}
	if len(res.Frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(res.Frames))
	}
	got := res.Frames[0]
	if got.Method != "tools/call" || !got.IsRequest() {
		t.Errorf("parsed frame mismatch: %+v", got)
	}
	if !got.ID.Equal(pmcp.NewIntID(7)) {
		t.Errorf("id mismatch: got %v, want 7", got.ID)
	}
}

func TestFrameNotificationHasNoID(t *testing.T) {
	f := pmcp.NewNotificationFrame("notifications/initialized", nil)
	if !f.IsNotification() {
		t.Fatalf("expected IsNotification")
	}
	data, err := pmcp.EncodeFrame(f)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	res, err := pmcp.ParseMessage(data, pmcp.DefaultMaxFrameBytes)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if !res.Frames[0].ID.IsZero() {
		t.Errorf("notification must round-trip with a zero id")
	}
}

func TestBatchRoundtrip(t *testing.T) {
	frames := []*pmcp.Frame{
		pmcp.NewRequestFrame(pmcp.NewIntID(1), "tools/list", nil),
		pmcp.NewNotificationFrame("notifications/progress", json.RawMessage(`{"progressToken":1,"progress":1}`)),
		pmcp.NewResultFrame(pmcp.NewIntID(2), json.RawMessage(`{"ok":true}`)),
	}
	data, err := pmcp.EncodeBatch(frames, true)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	res, err := pmcp.ParseMessage(data, pmcp.DefaultMaxFrameBytes)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if !res.IsBatch {
		t.Errorf("expected a batch parse result")
	}
	if len(res.Frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(res.Frames))
	}
}

func TestBatchWithMalformedElementDoesNotInvalidateSiblings(t *testing.T) {
	good := pmcp.NewRequestFrame(pmcp.NewIntID(1), "ping", nil)
	goodBytes, err := pmcp.EncodeFrame(good)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	// The second element is syntactically valid JSON (so the batch as a
	// whole still parses as an array) but semantically malformed: "method"
	// must be a string, not a number.
	batch := append(append([]byte("["), goodBytes...), []byte(`,{"jsonrpc":"2.0","id":2,"method":123}]`)...)

	res, err := pmcp.ParseMessage(batch, pmcp.DefaultMaxFrameBytes)
	if err != nil {
		t.Fatalf("ParseMessage should not fail at the top level: %v", err)
	}
	if len(res.Frames) != 2 {
		t.Fatalf("got %d frame slots, want 2 (one valid, one error placeholder)", len(res.Frames))
	}
	if res.Errs[0] != nil {
		t.Errorf("first element should have parsed cleanly, got error %v", res.Errs[0])
	}
	if res.Errs[1] == nil {
		t.Errorf("second element is a malformed frame and must report an error")
	}
}

func TestParseMessageRejectsOversizedFrame(t *testing.T) {
	_, err := pmcp.ParseMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), 8)
	if err == nil {
		t.Fatalf("expected an error for a frame exceeding maxBytes")
	}
	if code.FromError(err) != code.InvalidRequest {
		t.Errorf("got code %v, want InvalidRequest", code.FromError(err))
	}
}
