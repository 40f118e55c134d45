// Package mcp implements toolsgw.Gateway over the Model Context Protocol's
// HTTP+SSE transport, the mechanism spec.md §4.1 phases 7/10 assume tool
// bindings are invoked through.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/turnkit/align/toolsgw"
)

// Options configures a Gateway.
type Options struct {
	// Endpoint is the MCP server's JSON-RPC HTTP endpoint.
	Endpoint string
	// Suite is the MCP toolset (server) name prefixed onto ToolID for
	// servers that multiplex several tool suites behind one endpoint.
	Suite string
	// HTTPClient overrides the default client (useful for tests/mocks).
	HTTPClient *http.Client
	// RequestTimeout bounds a single tools/call round trip.
	RequestTimeout time.Duration
}

// Gateway invokes MCP tools over HTTP, consuming the server's
// "tools/call" JSON-RPC method and reading its Server-Sent-Events response
// stream for the terminal result frame.
type Gateway struct {
	endpoint string
	suite    string
	client   *http.Client
	timeout  time.Duration
	nextID   atomic.Int64
}

// New constructs a Gateway. opts.Endpoint is required.
func New(opts Options) (*Gateway, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, fmt.Errorf("toolsgw/mcp: endpoint is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{endpoint: opts.Endpoint, suite: opts.Suite, client: client, timeout: timeout}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int64  `json:"id"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolCallResult struct {
	Result     json.RawMessage `json:"result,omitempty"`
	Structured json.RawMessage `json:"structuredContent,omitempty"`
	Error      *rpcError       `json:"error,omitempty"`
}

func (g *Gateway) CallTool(ctx context.Context, req toolsgw.CallRequest) (toolsgw.CallResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	name := req.ToolID
	if g.suite != "" {
		name = g.suite + "." + name
	}
	rpc := rpcRequest{
		JSONRPC: "2.0",
		Method:  "tools/call",
		ID:      g.nextID.Add(1),
		Params:  map[string]any{"name": name, "arguments": req.Args},
	}
	body, err := json.Marshal(rpc)
	if err != nil {
		return toolsgw.CallResponse{}, toolsgw.NewToolError(req.ToolID, "encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return toolsgw.CallResponse{}, toolsgw.NewToolError(req.ToolID, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return toolsgw.CallResponse{}, toolsgw.NewToolError(req.ToolID, "transport error", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return toolsgw.CallResponse{}, toolsgw.NewToolError(req.ToolID, fmt.Sprintf("status %d: %s", resp.StatusCode, raw), nil)
	}

	result, err := readResult(resp)
	if err != nil {
		return toolsgw.CallResponse{}, toolsgw.NewToolError(req.ToolID, "decode response", err)
	}
	if result.Error != nil {
		return toolsgw.CallResponse{}, toolsgw.NewToolError(req.ToolID, result.Error.Message, nil)
	}
	return toolsgw.CallResponse{Result: result.Result, Structured: result.Structured}, nil
}

// readResult handles both a plain JSON body and an SSE stream, returning
// the last "data:" frame's payload in the SSE case (the terminal result
// frame per the MCP streaming convention).
func readResult(resp *http.Response) (toolCallResult, error) {
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(contentType, "text/event-stream") {
		var out toolCallResult
		err := json.NewDecoder(resp.Body).Decode(&out)
		return out, err
	}

	var last toolCallResult
	var seen bool
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var frame toolCallResult
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			continue
		}
		last, seen = frame, true
	}
	if err := scanner.Err(); err != nil {
		return toolCallResult{}, err
	}
	if !seen {
		return toolCallResult{}, fmt.Errorf("no result frame in event stream")
	}
	return last, nil
}
