// Package llmgw provides a provider-agnostic abstraction over chat
// completion APIs (Anthropic, OpenAI, Bedrock) for the turn pipeline's
// generation lane and the enforcement package's subjective judge lane
// (spec.md §4.1 phase 8, §5.2). Implementations translate the normalized
// Request/Response types below into provider-specific SDK calls.
package llmgw

import (
	"context"
	"errors"
)

type (
	// Generator is the contract the turn pipeline uses to produce assistant
	// replies. Implementations wrap provider SDKs and must be safe for
	// concurrent use across sessions.
	Generator interface {
		// Complete sends a chat completion request and returns the full
		// response. Implementations apply their own retry/backoff policy
		// for transient provider errors.
		Complete(ctx context.Context, req Request) (Response, error)

		// Stream sends a request and returns a Streamer yielding
		// incremental chunks. Providers that cannot stream return
		// ErrStreamingUnsupported.
		Stream(ctx context.Context, req Request) (Streamer, error)
	}

	// Judge is the contract the enforcement package's subjective lane uses
	// to evaluate natural-language constraints against a candidate reply
	// (spec.md §5.2). It is distinct from Generator because judge calls are
	// always non-streaming, always temperature 0, and return a structured
	// verdict rather than free text.
	Judge interface {
		Evaluate(ctx context.Context, req JudgeRequest) (JudgeVerdict, error)
	}

	// JudgeRequest asks a model whether a candidate reply satisfies a
	// natural-language constraint, given the turn's conversational context.
	JudgeRequest struct {
		Model      string
		Constraint string
		Candidate  string
		Context    []Message
	}

	// JudgeVerdict is the normalized result of a subjective evaluation.
	// Satisfied is authoritative only when Parsed is true; callers that get
	// Parsed=false must treat the constraint as fail-open (spec.md §5.2
	// "an unparseable judge verdict never blocks a reply").
	JudgeVerdict struct {
		Satisfied bool
		Parsed    bool
		Rationale string
	}

	// Streamer delivers incremental model output. Recv returns io.EOF when
	// the stream completes. Implementations must release any underlying
	// resources when Close is invoked.
	Streamer interface {
		Recv() (Chunk, error)
		Close() error
	}

	// Request captures the normalized parameters for a model invocation.
	Request struct {
		Model       string
		Messages    []Message
		Temperature float32
		Tools       []ToolDefinition
		MaxTokens   int
		Thinking    *ThinkingOptions
	}

	// Response wraps the generated content and any tool calls requested by
	// the model.
	Response struct {
		Content    []Message
		ToolCalls  []ToolCall
		Usage      TokenUsage
		StopReason string
	}

	// Message mirrors a chat message with role and content.
	Message struct {
		Role    string
		Content string
		Meta    map[string]any
	}

	// ToolDefinition describes a tool schema passed to the model for
	// function calling.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema any
	}

	// ToolCall captures a tool invocation requested by the model.
	ToolCall struct {
		Name    string
		Payload any
	}

	// Chunk represents a streaming event. Only one of Message, ToolCall, or
	// UsageDelta is populated, depending on Type.
	Chunk struct {
		Type       ChunkType
		Message    Message
		ToolCall   ToolCall
		UsageDelta TokenUsage
		StopReason string
	}

	// ChunkType identifies the chunk payload type.
	ChunkType string

	// ThinkingOptions toggles provider-specific extended-reasoning modes.
	ThinkingOptions struct {
		Enable       bool
		BudgetTokens int
	}

	// TokenUsage records prompt/completion token counts when the provider
	// reports them.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}
)

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeThinking ChunkType = "thinking"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeStop     ChunkType = "stop"
)

// ErrStreamingUnsupported indicates the provider adapter does not implement
// streaming for the requested model.
var ErrStreamingUnsupported = errors.New("llmgw: streaming not supported")

// ErrProviderRequired indicates an adapter was constructed without its
// required underlying SDK client.
var ErrProviderRequired = errors.New("llmgw: provider client is required")
