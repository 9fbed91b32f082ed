package export

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/malu/internal/mcptool"
)

// RegisterMCP registers malu_export on an MCP server.
func (e *Exporter) RegisterMCP(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "malu_export",
		Description: "Render the latest recording through the virtual camera and write it as a WebM file.",
		InputSchema: mcptool.InputSchema(map[string]any{
			"output":  map[string]any{"type": "string", "description": "Output path (default malu-export-<unix-ms>.webm in the export directory)"},
			"fps":     map[string]any{"type": "number", "description": "Frame rate (default 60)"},
			"bitrate": map[string]any{"type": "integer", "description": "Bits per second (default 8000000)"},
			"width":   map[string]any{"type": "integer", "description": "Output width, with height"},
			"height":  map[string]any{"type": "integer", "description": "Output height, with width"},
		}, nil),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return e.Export(ctx, *req.(*Request))
	}
	mcptool.Register(srv, tool, endpoint, mcptool.JSON[Request]())
}
