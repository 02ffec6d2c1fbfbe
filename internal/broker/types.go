// Package broker implements the request-dispatch state machine: the
// single-owner State Manager, the command protocol that mediates all
// access to it, and the Tool-Call Dispatch coordinator that correlates a
// stdio tool call with its eventual result from the Roblox Studio plugin.
package broker

import (
	"fmt"

	"github.com/google/uuid"
)

// ArgVariant is one of the three tagged argument shapes a ToolArguments
// can carry. Its only job is to name itself for wire encoding.
type ArgVariant interface {
	variantName() string
}

// RunCommand asks the plugin to execute raw Luau script text.
type RunCommand struct {
	Command string
}

func (RunCommand) variantName() string { return "RunCommand" }

// InsertModel asks the plugin to search the marketplace and insert a result.
type InsertModel struct {
	Query string
}

func (InsertModel) variantName() string { return "InsertModel" }

// ExecuteLuauByName invokes a tool discovered in the registry by name,
// carrying an opaque JSON-encoded argument blob the broker never inspects.
type ExecuteLuauByName struct {
	ToolName      string
	ArgumentsJSON string
}

func (ExecuteLuauByName) variantName() string { return "ExecuteLuauByName" }

// ToolArguments is the unit of work flowing through the broker. ID is
// assigned once at dispatch time and is immutable afterwards.
type ToolArguments struct {
	ID   uuid.UUID
	Args ArgVariant
}

// NewToolArguments assigns a fresh id and wraps args.
func NewToolArguments(args ArgVariant) ToolArguments {
	return ToolArguments{ID: uuid.New(), Args: args}
}

// ContentItem is one element of an MCP tool-result content list.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the MCP tool-call result schema: a content list plus an
// error flag. It is the type carried on every pending-result channel,
// submitted by the plugin over HTTP, and returned to the stdio client.
type Result struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// TextResult builds a successful single-text-block result.
func TextResult(text string) Result {
	return Result{Content: []ContentItem{{Type: "text", Text: text}}}
}

// ErrorResult builds an error single-text-block result.
func ErrorResult(format string, args ...any) Result {
	return Result{
		Content: []ContentItem{{Type: "text", Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}
