package pmcp_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmcp-dev/pmcp"
	"github.com/pmcp-dev/pmcp/transport"
)

func newTestServer(t *testing.T, tr transport.Transport, opts *pmcp.ServerOptions) *pmcp.Server {
	t.Helper()
	s := pmcp.NewServer(tr, pmcp.ServerInfo{Name: "test-server", Version: "0.0.1"}, opts)
	s.RegisterTool(pmcp.Tool{
		Name:        "echo",
		Description: "echoes its input",
		Handler: func(_ context.Context, args json.RawMessage) (*pmcp.ToolResult, error) {
			var p struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(args, &p); err != nil {
				return nil, err
			}
			return &pmcp.ToolResult{Content: []pmcp.ContentBlock{pmcp.TextContent(p.Text)}}, nil
		},
	})
	s.RegisterTool(pmcp.Tool{
		Name: "slow",
		Handler: func(ctx context.Context, _ json.RawMessage) (*pmcp.ToolResult, error) {
			select {
			case <-time.After(5 * time.Second):
				return &pmcp.ToolResult{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	return s
}

// TestHandshakeAndToolCall covers scenario 1: initialize, then tools/call.
func TestHandshakeAndToolCall(t *testing.T) {
	defer leaktest.Check(t)()

	ct, st := transport.NewDirectPair()
	srv := newTestServer(t, st, nil)
	cli := pmcp.NewClient(ct, nil)
	defer func() {
		require.NoError(t, cli.Close())
		srv.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := cli.Initialize(ctx, "test-client", "0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "test-server", res.ServerInfo.Name)

	var out pmcp.ToolResult
	err = cli.CallResult(ctx, "tools/call", map[string]any{
		"name":      "echo",
		"arguments": map[string]any{"text": "hello"},
	}, &out)
	require.NoError(t, err)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "hello", out.Content[0].Text)
}

// TestCallCancelPropagatesToHandlerContext covers scenario 2: a client that
// cancels a long-running call observes ErrCancelled, and the server-side
// handler's context is cancelled in turn.
func TestCallCancelPropagatesToHandlerContext(t *testing.T) {
	defer leaktest.Check(t)()

	ct, st := transport.NewDirectPair()
	srv := newTestServer(t, st, nil)
	cli := pmcp.NewClient(ct, nil)
	defer func() {
		require.NoError(t, cli.Close())
		srv.Close()
	}()

	bg := context.Background()
	ictx, icancel := context.WithTimeout(bg, 5*time.Second)
	defer icancel()
	_, err := cli.Initialize(ictx, "test-client", "0.0.1")
	require.NoError(t, err)

	handlerCancelled := make(chan struct{})
	srv.RegisterTool(pmcp.Tool{
		Name: "wait-for-cancel",
		Handler: func(ctx context.Context, _ json.RawMessage) (*pmcp.ToolResult, error) {
			select {
			case <-ctx.Done():
				close(handlerCancelled)
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return &pmcp.ToolResult{}, nil
			}
		},
	})

	callCtx, callCancel := context.WithCancel(bg)
	done := make(chan error, 1)
	go func() {
		_, err := cli.Call(callCtx, "tools/call", map[string]any{
			"name":      "wait-for-cancel",
			"arguments": map[string]any{},
		})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	callCancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, pmcp.ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("call did not observe cancellation in time")
	}

	select {
	case <-handlerCancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("server-side handler context was not cancelled")
	}
}

// TestCapabilityGateRejectsUnadvertisedMethod covers scenario 3: a strict
// client refuses to send a request for a method family the server never
// advertised during initialize.
func TestCapabilityGateRejectsUnadvertisedMethod(t *testing.T) {
	defer leaktest.Check(t)()

	ct, st := transport.NewDirectPair()
	// Resources is advertised, so "resources/list" would pass the gate;
	// use resources/subscribe, which requires an explicit Subscribe flag.
	srv := newTestServer(t, st, &pmcp.ServerOptions{
		Capabilities: pmcp.ServerCapabilities{
			Resources: &pmcp.ResourceCapability{Subscribe: false},
		},
	})
	cli := pmcp.NewClient(ct, &pmcp.ClientOptions{EnforceStrictCapabilities: true})
	defer func() {
		require.NoError(t, cli.Close())
		srv.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := cli.Initialize(ctx, "test-client", "0.0.1")
	require.NoError(t, err)

	_, err = cli.Call(ctx, "resources/subscribe", map[string]any{"uri": "demo://status"})
	require.Error(t, err)
	var pe *pmcp.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "peer does not support resources/subscribe", pe.Message)
}

// TestBatchWithMixedNotificationAndRequest covers scenario 4: a batch
// containing both a notification and a request yields exactly one reply, in
// position order, with the notification contributing no reply slot.
func TestBatchWithMixedNotificationAndRequest(t *testing.T) {
	defer leaktest.Check(t)()

	ct, st := transport.NewDirectPair()
	srv := newTestServer(t, st, nil)
	cli := pmcp.NewClient(ct, nil)
	defer func() {
		require.NoError(t, cli.Close())
		srv.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := cli.Initialize(ctx, "test-client", "0.0.1")
	require.NoError(t, err)

	replies, err := cli.Batch(ctx, []pmcp.BatchItem{
		{Method: "tools/call", Params: map[string]any{"name": "echo", "arguments": map[string]any{"text": "a"}}},
		{Method: "notifications/progress", Params: map[string]any{"progressToken": 1, "progress": 1.0}, Notify: true},
		{Method: "tools/call", Params: map[string]any{"name": "echo", "arguments": map[string]any{"text": "b"}}},
	})
	require.NoError(t, err)
	require.Len(t, replies, 2)

	var first, second pmcp.ToolResult
	require.NoError(t, json.Unmarshal(replies[0].Result, &first))
	require.NoError(t, json.Unmarshal(replies[1].Result, &second))
	assert.Equal(t, "a", first.Content[0].Text)
	assert.Equal(t, "b", second.Content[0].Text)
}

// TestVersionMismatchFailsInitialize covers scenario 6: a client offering a
// protocol version the server shares no overlap with fails the handshake
// with InvalidParams and a data.supported list, rather than silently
// picking one side.
func TestVersionMismatchFailsInitialize(t *testing.T) {
	defer leaktest.Check(t)()

	ct, st := transport.NewDirectPair()
	srv := newTestServer(t, st, nil)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := json.Marshal(map[string]any{
		"protocolVersion": "1999-01-01",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "bad-client", "version": "0"},
	})
	require.NoError(t, err)

	data, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params":  json.RawMessage(raw),
	})
	require.NoError(t, err)

	require.NoError(t, ct.Send(ctx, data, transport.SendOptions{}))
	reply, err := ct.Receive(ctx)
	require.NoError(t, err)

	var env struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(reply, &env))
	require.NotNil(t, env.Error)
	assert.EqualValues(t, -32602, env.Error.Code)
	require.NoError(t, ct.Close())
}
