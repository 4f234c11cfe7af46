package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/pmcp-dev/pmcp"
	"github.com/pmcp-dev/pmcp/code"
	"github.com/pmcp-dev/pmcp/handler"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func TestToolWithStructArgument(t *testing.T) {
	h := handler.Tool(func(_ context.Context, args addArgs) (*pmcp.ToolResult, error) {
		sum := args.A + args.B
		return &pmcp.ToolResult{Content: []pmcp.ContentBlock{
			pmcp.TextContent(strconv.Itoa(sum)),
		}}, nil
	})
	out, err := h(context.Background(), json.RawMessage(`{"a":2,"b":3}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Content) != 1 || out.Content[0].Text != "5" {
		t.Errorf("got %+v, want content [5]", out.Content)
	}
}

func TestToolContextOnlySignature(t *testing.T) {
	called := false
	h := handler.Tool(func(_ context.Context) (*pmcp.ToolResult, error) {
		called = true
		return &pmcp.ToolResult{}, nil
	})
	if _, err := h(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatalf("handler was not invoked")
	}
}

func TestToolContextOnlyRejectsUnexpectedArguments(t *testing.T) {
	h := handler.Tool(func(_ context.Context) (*pmcp.ToolResult, error) {
		return &pmcp.ToolResult{}, nil
	})
	_, err := h(context.Background(), json.RawMessage(`{"unexpected":1}`))
	if err == nil {
		t.Fatalf("expected an error for unexpected arguments")
	}
	var pe *pmcp.Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected a *pmcp.Error, got %T: %v", err, err)
	}
	if pe.Code != code.InvalidParams {
		t.Errorf("got code %v, want InvalidParams", pe.Code)
	}
}

func TestToolInvalidJSONArgumentsYieldsInvalidParams(t *testing.T) {
	h := handler.Tool(func(_ context.Context, _ addArgs) (*pmcp.ToolResult, error) {
		return &pmcp.ToolResult{}, nil
	})
	_, err := h(context.Background(), json.RawMessage(`{not json`))
	var pe *pmcp.Error
	if !errors.As(err, &pe) || pe.Code != code.InvalidParams {
		t.Fatalf("got %v, want a *pmcp.Error with code InvalidParams", err)
	}
}

func TestToolHandlerErrorPassesThrough(t *testing.T) {
	sentinel := errors.New("boom")
	h := handler.Tool(func(_ context.Context, _ addArgs) (*pmcp.ToolResult, error) {
		return nil, sentinel
	})
	_, err := h(context.Background(), json.RawMessage(`{}`))
	if !errors.Is(err, sentinel) {
		t.Fatalf("got %v, want sentinel error to pass through unwrapped", err)
	}
}

func TestToolNonResultReturnValueIsWrappedAsText(t *testing.T) {
	h := handler.Tool(func(_ context.Context, args addArgs) (string, error) {
		return "sum computed", nil
	})
	out, err := h(context.Background(), json.RawMessage(`{"a":1,"b":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Content) != 1 {
		t.Fatalf("expected one content block, got %d", len(out.Content))
	}
}

func TestToolSingleReturnValueSignature(t *testing.T) {
	h := handler.Tool(func(_ context.Context, _ addArgs) error {
		return nil
	})
	out, err := h(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == nil || len(out.Content) != 0 {
		t.Errorf("expected an empty ToolResult, got %+v", out)
	}
}

func TestCheckRejectsBadSignatures(t *testing.T) {
	cases := []any{
		nil,
		42,
		func() {},
		func(a, b int) {},
		func(ctx context.Context, a, b int) error { return nil },
		func(ctx context.Context, a ...int) error { return nil },
		func(a int, ctx context.Context) error { return nil },
		func(ctx context.Context) (int, string) { return 0, "" },
	}
	for i, fn := range cases {
		if _, err := handler.Check(fn); err == nil {
			t.Errorf("case %d: expected Check to reject %T", i, fn)
		}
	}
}

func TestToolPanicsOnInvalidSignature(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Tool to panic on an invalid signature")
		}
	}()
	handler.Tool(func(a, b int) {})
}
