package mcpstdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/broker"
	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/registry"
)

type fakeDispatcher struct {
	lastArgs broker.ArgVariant
	result   broker.Result
	err      error
}

func (f *fakeDispatcher) Call(ctx context.Context, args broker.ArgVariant) (broker.ToolArguments, broker.Result, error) {
	f.lastArgs = args
	if f.err != nil {
		return broker.ToolArguments{}, broker.Result{}, f.err
	}
	return broker.NewToolArguments(args), f.result, nil
}

func writeReq(buf *bytes.Buffer, id int, method string, params any) {
	p, _ := json.Marshal(params)
	req := rpcRequest{JSONRPC: "2.0", ID: json.RawMessage(fmt.Sprintf("%d", id)), Method: method, Params: p}
	_ = writeFrame(buf, req)
}

func readAllFrames(t *testing.T, r io.Reader) []rpcResponse {
	t.Helper()
	reader := bufio.NewReader(r)
	var out []rpcResponse
	for {
		frame, err := readFrame(reader)
		if err != nil {
			break
		}
		var resp rpcResponse
		if err := json.Unmarshal(frame, &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		out = append(out, resp)
	}
	return out
}

func testRegistry() *registry.Registry {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return registry.Discover("/nonexistent/tools/dir", logger)
}

func TestToolsListAdvertisesThreeTools(t *testing.T) {
	var in, out bytes.Buffer
	writeReq(&in, 1, "tools/list", nil)

	dispatcher := &fakeDispatcher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(&in, &out, dispatcher, testRegistry(), logger)

	if err := s.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	resps := readAllFrames(t, &out)
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	raw, _ := json.Marshal(resps[0].Result)
	var body struct {
		Tools []toolDef `json:"tools"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal tools/list result: %v", err)
	}
	if len(body.Tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(body.Tools))
	}
}

func TestRunCommandForwardsToDispatcher(t *testing.T) {
	var in, out bytes.Buffer
	writeReq(&in, 2, "tools/call", map[string]any{
		"name":      "run_command",
		"arguments": map[string]any{"command": "print(1)"},
	})

	dispatcher := &fakeDispatcher{result: broker.TextResult("1")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(&in, &out, dispatcher, testRegistry(), logger)

	if err := s.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	if _, ok := dispatcher.lastArgs.(broker.RunCommand); !ok {
		t.Fatalf("expected RunCommand, got %T", dispatcher.lastArgs)
	}

	resps := readAllFrames(t, &out)
	if len(resps) != 1 || resps[0].Error != nil {
		t.Fatalf("unexpected response: %+v", resps)
	}
}

// TestUnknownLuauToolReturnsSoftError: for an unknown tool name the
// facade returns a tool-result error (not a protocol error), and no
// traffic reaches the dispatcher.
func TestUnknownLuauToolReturnsSoftError(t *testing.T) {
	var in, out bytes.Buffer
	writeReq(&in, 3, "tools/call", map[string]any{
		"name":      "execute_discovered_luau_tool",
		"arguments": map[string]any{"tool_name": "Nope", "tool_arguments_luau": "{}"},
	})

	dispatcher := &fakeDispatcher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(&in, &out, dispatcher, testRegistry(), logger)

	if err := s.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	if dispatcher.lastArgs != nil {
		t.Fatalf("dispatcher should never have been called, got %+v", dispatcher.lastArgs)
	}

	resps := readAllFrames(t, &out)
	if len(resps) != 1 || resps[0].Error != nil {
		t.Fatalf("expected a successful tool-result (soft error), got %+v", resps)
	}

	raw, _ := json.Marshal(resps[0].Result)
	var result broker.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected isError=true, got %+v", result)
	}
}

func TestNotificationGetsNoReply(t *testing.T) {
	var in, out bytes.Buffer
	// A notification has no "id" field at all.
	notif := map[string]any{"jsonrpc": "2.0", "method": "notifications/initialized"}
	p, _ := json.Marshal(notif)
	_, _ = in.Write(p)
	hdr := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(p))
	combined := append([]byte(hdr), p...)
	in.Reset()
	in.Write(combined)

	dispatcher := &fakeDispatcher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(&in, &out, dispatcher, testRegistry(), logger)

	if err := s.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no reply to a notification, got %q", out.String())
	}
}
