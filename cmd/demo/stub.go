package main

import (
	"context"
	"strings"

	"github.com/turnkit/align/llmgw"
)

// echoGenerator is a minimal llmgw.Generator that needs no provider
// credentials: it acknowledges the latest user message. It exists purely to
// drive this demo; a real deployment wires an adapter over an actual
// provider SDK the way features/model/* do for the rest of the module.
type echoGenerator struct{}

func (echoGenerator) Complete(_ context.Context, req llmgw.Request) (llmgw.Response, error) {
	var last string
	for _, m := range req.Messages {
		if m.Role == "user" {
			last = m.Content
		}
	}
	return llmgw.Response{
		Content:    []llmgw.Message{{Role: "assistant", Content: "You said: " + strings.TrimSpace(last)}},
		Usage:      llmgw.TokenUsage{InputTokens: len(req.Messages), OutputTokens: 1, TotalTokens: len(req.Messages) + 1},
		StopReason: "end_turn",
	}, nil
}

func (echoGenerator) Stream(_ context.Context, _ llmgw.Request) (llmgw.Streamer, error) {
	return nil, llmgw.ErrStreamingUnsupported
}

// zeroEmbedder returns a fixed-dimension zero vector. Good enough to
// exercise the memory-ingestion and retrieval code paths without a real
// embedding provider.
type zeroEmbedder struct{ dims int }

func (e zeroEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, e.dims), nil
}

func (e zeroEmbedder) Dimensions() int { return e.dims }
