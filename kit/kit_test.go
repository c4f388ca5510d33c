package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	chained := Chain(mw("a"), mw("b"), mw("c"))(base)
	resp, err := chained(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "c_before", "endpoint", "c_after", "b_after", "a_after"}
	if len(order) != len(expected) {
		t.Fatalf("order length: got %d, want %d", len(order), len(expected))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], v)
		}
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) {
		return nil, errFail
	}

	noop := func(next Endpoint) Endpoint { return next }
	chained := Chain(noop)(base)

	_, err := chained(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestContext_Transport_Default(t *testing.T) {
	ctx := context.Background()
	if v := GetTransport(ctx); v != "http" {
		t.Fatalf("default transport: got %q, want 'http'", v)
	}
}

func TestContext_Transport_Set(t *testing.T) {
	ctx := WithTransport(context.Background(), "mcp")
	if v := GetTransport(ctx); v != "mcp" {
		t.Fatalf("transport: got %q", v)
	}
}

func TestContext_RequestID(t *testing.T) {
	if v := GetRequestID(context.Background()); v != "" {
		t.Fatalf("request_id default: got %q", v)
	}
	ctx := WithRequestID(context.Background(), "req_abc")
	if v := GetRequestID(ctx); v != "req_abc" {
		t.Fatalf("request_id: got %q", v)
	}
}

func TestRecover(t *testing.T) {
	ep := Chain(Recover())(func(context.Context, any) (any, error) {
		panic("boom")
	})
	resp, err := ep(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err: got %v", err)
	}
	if resp != nil {
		t.Errorf("resp: got %v, want nil", resp)
	}
}

func TestLogging_RecordsFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	errFail := errors.New("portal down")
	ep := Logging(logger, "harvest")(func(context.Context, any) (any, error) { return nil, errFail })

	ctx := WithRequestID(WithTransport(context.Background(), "mcp"), "req_1")
	if _, err := ep(ctx, nil); !errors.Is(err, errFail) {
		t.Fatalf("error: got %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"endpoint":"harvest"`, `"transport":"mcp"`, `"request_id":"req_1"`, "portal down"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %s", out, want)
		}
	}
}

type echoReq struct {
	Name string `json:"name"`
}

func TestRegisterMCPTool(t *testing.T) {
	ctx := context.Background()
	srv := mcp.NewServer(&mcp.Implementation{Name: "kit-test", Version: "0.0.1"}, nil)

	var gotTransport string
	endpoint := func(ctx context.Context, req any) (any, error) {
		gotTransport = GetTransport(ctx)
		r := req.(*echoReq)
		if r.Name == "" {
			return nil, errors.New("name is required")
		}
		return map[string]string{"hello": r.Name}, nil
	}
	RegisterMCPTool(srv, &mcp.Tool{
		Name:        "echo",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{"name": map[string]any{"type": "string"}}},
	}, endpoint, func(req *mcp.CallToolRequest) (*MCPDecodeResult, error) {
		var r echoReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &MCPDecodeResult{Request: &r}, nil
	})

	serverT, clientT := mcp.NewInMemoryTransports()
	go srv.Run(ctx, serverT)
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"name": "newham"}})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %v", res.Content)
	}
	text := res.Content[0].(*mcp.TextContent).Text
	if text != `{"hello":"newham"}` {
		t.Errorf("response: got %s", text)
	}
	if gotTransport != "mcp" {
		t.Errorf("transport: got %q, want mcp", gotTransport)
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !res.IsError {
		t.Fatal("empty name should be a tool error")
	}
	if msg := res.Content[0].(*mcp.TextContent).Text; msg != "name is required" {
		t.Errorf("error text: got %q", msg)
	}
}
