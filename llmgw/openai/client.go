// Package openai adapts github.com/openai/openai-go's Chat Completions API
// to llmgw.Generator.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/turnkit/align/llmgw"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, so tests can substitute a fake.
type ChatClient interface {
	New(ctx context.Context, params sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Options configures the adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Client implements llmgw.Generator via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an OpenAI-backed Generator from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, llmgw.ErrProviderRequired
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: opts.Client, model: modelID}, nil
}

// NewFromAPIKey constructs a client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: &c.Chat.Completions, DefaultModel: defaultModel})
}

func (c *Client) Complete(ctx context.Context, req llmgw.Request) (llmgw.Response, error) {
	if len(req.Messages) == 0 {
		return llmgw.Response{}, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, sdk.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, sdk.AssistantMessage(m.Content))
		default:
			messages = append(messages, sdk.UserMessage(m.Content))
		}
	}
	params := sdk.ChatCompletionNewParams{
		Model:    modelID,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return llmgw.Response{}, err
		}
		params.Tools = tools
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return llmgw.Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	return translateResponse(resp), nil
}

// Stream reports that streaming is not supported by this adapter; callers
// should fall back to Complete.
func (c *Client) Stream(context.Context, llmgw.Request) (llmgw.Streamer, error) {
	return nil, llmgw.ErrStreamingUnsupported
}

func encodeTools(defs []llmgw.ToolDefinition) ([]sdk.ChatCompletionToolUnionParam, error) {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(defs))
	for _, d := range defs {
		params, err := json.Marshal(d.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("openai: marshal tool %s schema: %w", d.Name, err)
		}
		var schema map[string]any
		if err := json.Unmarshal(params, &schema); err != nil {
			return nil, fmt.Errorf("openai: decode tool %s schema: %w", d.Name, err)
		}
		out = append(out, sdk.ChatCompletionFunctionTool(sdk.FunctionDefinitionParam{
			Name:        d.Name,
			Description: sdk.String(d.Description),
			Parameters:  schema,
		}))
	}
	return out, nil
}

func translateResponse(resp *sdk.ChatCompletion) llmgw.Response {
	var content []llmgw.Message
	var calls []llmgw.ToolCall
	stop := ""
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		stop = string(choice.FinishReason)
		if strings.TrimSpace(choice.Message.Content) != "" {
			content = append(content, llmgw.Message{Role: "assistant", Content: choice.Message.Content})
		}
		for _, call := range choice.Message.ToolCalls {
			var payload any
			if err := json.Unmarshal([]byte(call.Function.Arguments), &payload); err != nil {
				payload = map[string]any{"raw": call.Function.Arguments}
			}
			calls = append(calls, llmgw.ToolCall{Name: call.Function.Name, Payload: payload})
		}
	}
	return llmgw.Response{
		Content:   content,
		ToolCalls: calls,
		Usage: llmgw.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		StopReason: stop,
	}
}
