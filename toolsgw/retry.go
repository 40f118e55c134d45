package toolsgw

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// RetryingGateway wraps a Gateway with exponential backoff retry for
// transient failures, used when a tool binding's underlying transport
// (network call to an MCP server, external API) flakes independently of
// the binding's own business logic.
type RetryingGateway struct {
	Next       Gateway
	MaxRetries int
}

// NewRetryingGateway wraps next with up to maxRetries retries (0 disables
// retrying and simply delegates).
func NewRetryingGateway(next Gateway, maxRetries int) *RetryingGateway {
	return &RetryingGateway{Next: next, MaxRetries: maxRetries}
}

func (g *RetryingGateway) CallTool(ctx context.Context, req CallRequest) (CallResponse, error) {
	if g.MaxRetries <= 0 {
		return g.Next.CallTool(ctx, req)
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(g.MaxRetries)), ctx)

	var resp CallResponse
	err := backoff.Retry(func() error {
		var callErr error
		resp, callErr = g.Next.CallTool(ctx, req)
		return callErr
	}, bo)
	if err != nil {
		return CallResponse{}, NewToolError(req.ToolID, "exhausted retries", err)
	}
	return resp, nil
}
