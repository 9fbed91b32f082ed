// Package mcptool registers typed endpoints as MCP tools.
package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Endpoint handles one decoded tool call. The response is marshaled to JSON
// and returned as text content.
type Endpoint func(ctx context.Context, req any) (any, error)

// DecodeResult holds the decoded request and an optional context enrichment.
type DecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

// Decoder extracts the typed request from the tool arguments.
type Decoder func(*mcp.CallToolRequest) (*DecodeResult, error)

// Register adds endpoint as a tool on srv. Decode and endpoint failures are
// reported as tool errors, not protocol errors.
func Register(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode Decoder) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			return errorResult(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		if decoded.EnrichCtx != nil {
			ctx = decoded.EnrichCtx(ctx)
		}

		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			return errorResult(errors.New(err.Error())), nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			return errorResult(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// JSON decodes the arguments into a fresh *T. Missing arguments decode to
// the zero value.
func JSON[T any]() Decoder {
	return func(req *mcp.CallToolRequest) (*DecodeResult, error) {
		var r T
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &DecodeResult{Request: &r}, nil
	}
}

// InputSchema builds a JSON Schema object with type "object".
func InputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func errorResult(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
