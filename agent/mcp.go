package agent

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/malu/internal/mcptool"
)

// TabOpener opens a recordable tab and returns its surface id.
type TabOpener interface {
	Open(ctx context.Context, pageURL string) (string, error)
}

type openTabRequest struct {
	URL string `json:"url"`
}

type openTabResponse struct {
	SurfaceID string `json:"surface_id"`
	URL       string `json:"url"`
}

// RegisterMCP registers malu_open_tab, which opens a page in the recording
// browser. Its surface id is what malu_select_source expects.
func RegisterMCP(srv *mcp.Server, tabs TabOpener) {
	tool := &mcp.Tool{
		Name:        "malu_open_tab",
		Description: "Open a page in the recording browser and return its surface id.",
		InputSchema: mcptool.InputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Page to load"},
		}, []string{"url"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*openTabRequest)
		if r.URL == "" {
			return nil, errors.New("url is required")
		}
		id, err := tabs.Open(ctx, r.URL)
		if err != nil {
			return nil, err
		}
		return openTabResponse{SurfaceID: id, URL: r.URL}, nil
	}
	mcptool.Register(srv, tool, endpoint, mcptool.JSON[openTabRequest]())
}
