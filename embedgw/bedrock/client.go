// Package bedrock adapts AWS Bedrock's Titan embedding model to
// embedgw.Embedder via the raw InvokeModel API (Titan has no Converse
// embedding surface).
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/turnkit/align/embedgw"
)

const defaultModelID = "amazon.titan-embed-text-v1"

// InvokeModelClient is the subset of *bedrockruntime.Client the adapter
// depends on.
type InvokeModelClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Client implements embedgw.Embedder via Bedrock's Titan Embed model.
type Client struct {
	runtime InvokeModelClient
	model   string
	dims    int
}

// New builds a Client. modelID defaults to Titan Embed Text v1 (1536 dims)
// when empty.
func New(runtime InvokeModelClient, modelID string, dims int) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if modelID == "" {
		modelID = defaultModelID
	}
	if dims <= 0 {
		dims = 1536
	}
	return &Client{runtime: runtime, model: modelID, dims: dims}, nil
}

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal titan embed request: %w", err)
	}
	out, err := c.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock invoke model: %w", err)
	}
	var resp titanEmbedResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("bedrock: decode titan embed response: %w", err)
	}
	return resp.Embedding, nil
}

func (c *Client) Dimensions() int { return c.dims }

var _ embedgw.Embedder = (*Client)(nil)
