// Package openai adapts github.com/openai/openai-go's Embeddings API to
// embedgw.Embedder.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/turnkit/align/embedgw"
)

// EmbeddingsClient captures the subset of the openai-go client used by the
// adapter, so tests can substitute a fake.
type EmbeddingsClient interface {
	New(ctx context.Context, params sdk.EmbeddingNewParams, opts ...option.RequestOption) (*sdk.CreateEmbeddingResponse, error)
}

// Client implements embedgw.Embedder via the OpenAI Embeddings API.
type Client struct {
	embeddings EmbeddingsClient
	model      string
	dims       int
}

// New builds a Client. dims must match the configured model's output
// dimensionality (e.g. 1536 for text-embedding-3-small).
func New(embeddings EmbeddingsClient, model string, dims int) (*Client, error) {
	if embeddings == nil {
		return nil, errors.New("openai: embeddings client is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("openai: embedding model is required")
	}
	if dims <= 0 {
		return nil, errors.New("openai: dims must be positive")
	}
	return &Client{embeddings: embeddings, model: model, dims: dims}, nil
}

// NewFromAPIKey constructs a client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, model string, dims int) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Embeddings, model, dims)
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: c.model,
		Input: sdk.EmbeddingNewParamsInputUnion{OfString: sdk.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings.new: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai: empty embedding response")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (c *Client) Dimensions() int { return c.dims }
