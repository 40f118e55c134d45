// Package bedrock adapts the AWS Bedrock Converse API to llmgw.Generator.
// It splits system vs. conversational messages, encodes tool schemas into
// Bedrock's ToolConfiguration, and translates Converse responses (text +
// tool_use blocks) back into the normalized llmgw types.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/turnkit/align/llmgw"
)

// RuntimeClient is the subset of *bedrockruntime.Client the adapter
// depends on.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the adapter.
type Options struct {
	Runtime      RuntimeClient
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements llmgw.Generator on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	model   string
	maxTok  int
	temp    float32
}

// New builds a Client from an explicit RuntimeClient.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, llmgw.ErrProviderRequired
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = 4096
	}
	return &Client{runtime: opts.Runtime, model: opts.DefaultModel, maxTok: maxTok, temp: opts.Temperature}, nil
}

func (c *Client) Complete(ctx context.Context, req llmgw.Request) (llmgw.Response, error) {
	if len(req.Messages) == 0 {
		return llmgw.Response{}, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}

	var system []brtypes.SystemContentBlock
	var messages []brtypes.Message
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == "assistant" {
			role = brtypes.ConversationRoleAssistant
		}
		messages = append(messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}

	maxTok := req.MaxTokens
	if maxTok <= 0 {
		maxTok = c.maxTok
	}
	infConfig := &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTok))}
	if t := req.Temperature; t > 0 {
		infConfig.Temperature = aws.Float32(t)
	} else if c.temp > 0 {
		infConfig.Temperature = aws.Float32(c.temp)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(modelID),
		Messages:        messages,
		InferenceConfig: infConfig,
	}
	if len(system) > 0 {
		input.System = system
	}
	if len(req.Tools) > 0 {
		toolConfig, err := encodeToolConfig(req.Tools)
		if err != nil {
			return llmgw.Response{}, err
		}
		input.ToolConfig = toolConfig
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return llmgw.Response{}, fmt.Errorf("bedrock converse: %w", err)
	}
	return translateResponse(out)
}

// Stream is not implemented: ConverseStream uses an event-stream reader
// type distinct from the non-streaming path this adapter wraps.
func (c *Client) Stream(context.Context, llmgw.Request) (llmgw.Streamer, error) {
	return nil, llmgw.ErrStreamingUnsupported
}

func encodeToolConfig(defs []llmgw.ToolDefinition) (*brtypes.ToolConfiguration, error) {
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, d := range defs {
		raw, err := json.Marshal(d.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("bedrock: marshal tool %s schema: %w", d.Name, err)
		}
		var schema map[string]any
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("bedrock: decode tool %s schema: %w", d.Name, err)
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(d.Name),
				Description: aws.String(d.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}, nil
}

func translateResponse(out *bedrockruntime.ConverseOutput) (llmgw.Response, error) {
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return llmgw.Response{}, errors.New("bedrock: unexpected converse output shape")
	}
	var content []llmgw.Message
	var calls []llmgw.ToolCall
	for _, block := range msgOut.Value.Content {
		switch b := block.(type) {
		case *brtypes.ContentBlockMemberText:
			content = append(content, llmgw.Message{Role: "assistant", Content: b.Value})
		case *brtypes.ContentBlockMemberToolUse:
			var payload any
			if err := b.Value.Input.UnmarshalSmithyDocument(&payload); err != nil {
				payload = map[string]any{}
			}
			calls = append(calls, llmgw.ToolCall{Name: aws.ToString(b.Value.Name), Payload: payload})
		}
	}
	var usage llmgw.TokenUsage
	if out.Usage != nil {
		usage = llmgw.TokenUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return llmgw.Response{
		Content:    content,
		ToolCalls:  calls,
		Usage:      usage,
		StopReason: string(out.StopReason),
	}, nil
}
