package mcpstdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/broker"
	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/registry"
)

const protocolVersion = "2024-11-05"

// Caller is the subset of *broker.Dispatcher the facade needs; narrowed
// to an interface so tests can substitute a fake dispatcher.
type Caller interface {
	Call(ctx context.Context, args broker.ArgVariant) (broker.ToolArguments, broker.Result, error)
}

// Server owns the stdio framing loop and the static+discovered tool
// catalogue, and forwards every tools/call to Caller.
type Server struct {
	in       io.Reader
	out      io.Writer
	outMu    sync.Mutex
	dispatch Caller
	tools    *registry.Registry
	logger   *slog.Logger
}

func New(in io.Reader, out io.Writer, dispatch Caller, tools *registry.Registry, logger *slog.Logger) *Server {
	return &Server{in: in, out: out, dispatch: dispatch, tools: tools, logger: logger}
}

// Serve runs the read-dispatch-write loop until stdin hits EOF or ctx is
// cancelled. Notifications (no ID) are processed but never answered,
// per JSON-RPC 2.0.
func (s *Server) Serve(ctx context.Context) error {
	reader := bufio.NewReader(s.in)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		frame, err := readFrame(reader)
		if err != nil {
			if err == io.EOF {
				s.logger.Info("stdio client closed, shutting down")
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		var req rpcRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			s.writeError(nil, codeParseError, "parse error: "+err.Error())
			continue
		}

		resp := s.handle(ctx, req)
		if resp == nil {
			continue // notification, no reply
		}
		if err := s.write(*resp); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
}

func (s *Server) write(resp rpcResponse) error {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return writeFrame(s.out, resp)
}

func (s *Server) writeError(id json.RawMessage, code int, msg string) {
	_ = s.write(rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}})
}

func (s *Server) handle(ctx context.Context, req rpcRequest) *rpcResponse {
	if len(req.ID) == 0 {
		return nil // notification (e.g. "notifications/initialized")
	}

	var (
		result any
		rpcErr *rpcError
	)

	switch req.Method {
	case "initialize":
		result = s.handleInitialize()
	case "tools/list":
		result = s.handleToolsList()
	case "tools/call":
		result, rpcErr = s.handleToolsCall(ctx, req.Params)
	default:
		rpcErr = &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
	}

	return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr}
}

func (s *Server) handleInitialize() any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"serverInfo": map[string]any{
			"name":    "Roblox Studio MCP",
			"version": "0.1.0",
		},
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": true},
		},
		"instructions": s.instructions(),
	}
}

// instructions names every discovered tool so the client knows what
// execute_discovered_luau_tool can reach.
func (s *Server) instructions() string {
	names := s.tools.Names()
	if len(names) == 0 {
		return "Roblox Studio MCP broker. No Luau tools are currently discovered; run_command and insert_model are always available."
	}
	return "Roblox Studio MCP broker. Discovered Luau tools: " + strings.Join(names, ", ")
}

type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func (s *Server) handleToolsList() any {
	names := s.tools.Names()
	toolDesc := "Invoke a discovered Luau tool by name with a JSON-encoded argument blob."
	if len(names) > 0 {
		toolDesc += " Discovered tools: " + strings.Join(names, ", ")
	}

	tools := []toolDef{
		{
			Name:        "run_command",
			Description: "Execute raw Luau script text inside Roblox Studio.",
			InputSchema: stringParamSchema("command", "Luau source to execute."),
		},
		{
			Name:        "insert_model",
			Description: "Search the Roblox marketplace and insert a matching model into the place.",
			InputSchema: stringParamSchema("query", "Marketplace search query."),
		},
		{
			Name:        "execute_discovered_luau_tool",
			Description: toolDesc,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tool_name":           map[string]any{"type": "string", "description": "Name of a discovered Luau tool."},
					"tool_arguments_luau": map[string]any{"type": "string", "description": "Opaque JSON-encoded argument blob, forwarded unparsed."},
				},
				"required": []string{"tool_name", "tool_arguments_luau"},
			},
		},
	}
	return map[string]any{"tools": tools}
}

func stringParamSchema(field, description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			field: map[string]any{"type": "string", "description": description},
		},
		"required": []string{field},
	}
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var params toolsCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &rpcError{Code: codeInvalidRequest, Message: "invalid tools/call params: " + err.Error()}
	}

	variant, result, protocolErr := s.buildArgVariant(params)
	if protocolErr != nil {
		return nil, protocolErr
	}
	if result != nil {
		// Soft error: a well-formed MCP result, not a protocol error.
		return result, nil
	}

	_, callResult, err := s.dispatch.Call(ctx, variant)
	if err != nil {
		return broker.ErrorResult("%s", err.Error()), nil
	}
	return callResult, nil
}

// buildArgVariant translates a named tool call into its typed
// broker.ArgVariant. A non-nil *broker.Result return is a soft error
// (e.g. unknown tool_name) that never reaches the plugin.
func (s *Server) buildArgVariant(params toolsCallParams) (broker.ArgVariant, *broker.Result, *rpcError) {
	switch params.Name {
	case "run_command":
		var args struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return nil, nil, &rpcError{Code: codeInvalidRequest, Message: "invalid run_command arguments: " + err.Error()}
		}
		return broker.RunCommand{Command: args.Command}, nil, nil

	case "insert_model":
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return nil, nil, &rpcError{Code: codeInvalidRequest, Message: "invalid insert_model arguments: " + err.Error()}
		}
		return broker.InsertModel{Query: args.Query}, nil, nil

	case "execute_discovered_luau_tool":
		var args struct {
			ToolName          string `json:"tool_name"`
			ToolArgumentsLuau string `json:"tool_arguments_luau"`
		}
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return nil, nil, &rpcError{Code: codeInvalidRequest, Message: "invalid execute_discovered_luau_tool arguments: " + err.Error()}
		}
		if _, ok := s.tools.Get(args.ToolName); !ok {
			res := broker.ErrorResult("Luau tool '%s' not found", args.ToolName)
			return nil, &res, nil
		}
		return broker.ExecuteLuauByName{ToolName: args.ToolName, ArgumentsJSON: args.ToolArgumentsLuau}, nil, nil

	default:
		return nil, nil, &rpcError{Code: codeInvalidRequest, Message: "unknown tool: " + params.Name}
	}
}
