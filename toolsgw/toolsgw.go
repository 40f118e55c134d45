// Package toolsgw provides a transport-agnostic tool invocation gateway
// consumed by the turn pipeline's tool-execution phases (spec.md §4.1
// phases 7 and 10). Callers topologically order a step's ToolBindings via
// domain.TopoSortBindings, then invoke each through a Gateway implementation
// (MCP stdio/SSE, in-process registry, etc.).
package toolsgw

import (
	"context"
	"encoding/json"
	"errors"
)

// Gateway invokes a named tool with the given arguments and returns its
// result. Implementations wrap specific transports (MCP, direct function
// registry) behind this single contract.
type Gateway interface {
	CallTool(ctx context.Context, req CallRequest) (CallResponse, error)
}

// CallRequest describes a single tool invocation.
type CallRequest struct {
	// ToolID identifies the tool, matching domain.ToolBinding.ToolID.
	ToolID string
	// Args is the JSON-encoded argument payload resolved from the step's
	// collected/profile variables.
	Args json.RawMessage
}

// CallResponse carries a tool's result.
type CallResponse struct {
	Result     json.RawMessage
	Structured json.RawMessage
}

// ToolError is a structured tool failure that preserves a cause chain
// across retries, so a per-tool failure (spec.md §4.1: "phases 7/10 fail
// per-tool, not phase-fatal") can be reported without losing the original
// error for audit logging.
type ToolError struct {
	ToolID  string
	Message string
	Cause   *ToolError
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	if e.ToolID == "" {
		return e.Message
	}
	return e.ToolID + ": " + e.Message
}

func (e *ToolError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// NewToolError constructs a ToolError, converting an arbitrary wrapped
// error into a ToolError chain via errors.As so causes survive retries and
// audit serialization.
func NewToolError(toolID, message string, cause error) *ToolError {
	return &ToolError{ToolID: toolID, Message: message, Cause: fromError(cause)}
}

func fromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Message: err.Error(), Cause: fromError(errors.Unwrap(err))}
}
