// Package anthropic adapts github.com/anthropics/anthropic-sdk-go's Messages
// API to llmgw.Generator.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/turnkit/align/llmgw"
)

// MessagesClient captures the subset of *sdk.MessageService the adapter
// depends on, so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error)
}

// Options configures the adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements llmgw.Generator on top of the Anthropic Messages API.
type Client struct {
	msg       MessagesClient
	model     string
	maxTok    int
	temp      float32
}

// New builds a Client from an explicit MessagesClient, allowing callers to
// inject a mock in tests.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, llmgw.ErrProviderRequired
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = 4096
	}
	return &Client{msg: msg, model: opts.DefaultModel, maxTok: maxTok, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	sc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&sc.Messages, opts)
}

func (c *Client) Complete(ctx context.Context, req llmgw.Request) (llmgw.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return llmgw.Response{}, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return llmgw.Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateResponse(msg), nil
}

// Stream is not implemented by this adapter; the Anthropic streaming API
// requires a distinct SSE-consuming client type this package does not wrap.
// Callers needing partial output should use Complete and a polling UI, or
// the teacher's full runtime/agents/model/anthropic streaming path.
func (c *Client) Stream(context.Context, llmgw.Request) (llmgw.Streamer, error) {
	return nil, llmgw.ErrStreamingUnsupported
}

func (c *Client) prepareRequest(req llmgw.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	var system []sdk.TextBlockParam
	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, sdk.TextBlockParam{Text: m.Content})
			continue
		}
		block := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			msgs = append(msgs, sdk.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, sdk.NewUserMessage(block))
		}
	}
	maxTok := req.MaxTokens
	if maxTok <= 0 {
		maxTok = c.maxTok
	}
	params := &sdk.MessageNewParams{
		MaxTokens: int64(maxTok),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if t := req.Temperature; t > 0 {
		params.Temperature = sdk.Float(float64(t))
	} else if c.temp > 0 {
		params.Temperature = sdk.Float(float64(c.temp))
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	if req.Thinking != nil && req.Thinking.Enable && req.Thinking.BudgetTokens >= 1024 {
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(req.Thinking.BudgetTokens))
	}
	return params, nil
}

func encodeTools(defs []llmgw.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema, err := toInputSchema(d.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: encode tool %s schema: %w", d.Name, err)
		}
		out = append(out, sdk.ToolUnionParamOfTool(sdk.ToolParam{
			Name:        d.Name,
			Description: sdk.String(d.Description),
			InputSchema: schema,
		}))
	}
	return out, nil
}

func toInputSchema(schema any) (sdk.ToolInputSchemaParam, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	props, _ := decoded["properties"].(map[string]any)
	return sdk.ToolInputSchemaParam{Properties: props}, nil
}

func translateResponse(msg *sdk.Message) llmgw.Response {
	var content []llmgw.Message
	var calls []llmgw.ToolCall
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			content = append(content, llmgw.Message{Role: "assistant", Content: b.Text})
		case sdk.ToolUseBlock:
			var payload any
			if err := json.Unmarshal([]byte(b.Input), &payload); err != nil {
				payload = map[string]any{"raw": string(b.Input)}
			}
			calls = append(calls, llmgw.ToolCall{Name: b.Name, Payload: payload})
		}
	}
	return llmgw.Response{
		Content:   content,
		ToolCalls: calls,
		Usage: llmgw.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		StopReason: string(msg.StopReason),
	}
}
