package capture

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/malu/internal/mcptool"
)

// RegisterMCP registers the recording tools on an MCP server.
func (s *Session) RegisterMCP(srv *mcp.Server) {
	s.registerSelectSourceTool(srv)
	s.registerStartTool(srv)
	s.registerStopTool(srv)
	s.registerChangeSourceTool(srv)
	s.registerStatusTool(srv)
}

type selectSourceRequest struct {
	Kind      string `json:"kind"`
	SurfaceID string `json:"surface_id,omitempty"`
	Display   string `json:"display,omitempty"`
}

func (s *Session) registerSelectSourceTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "malu_select_source",
		Description: "Select what to record: a browser tab or the whole screen. A declined prompt leaves the session idle.",
		InputSchema: mcptool.InputSchema(map[string]any{
			"kind":       map[string]any{"type": "string", "enum": []any{"tab", "screen"}, "description": "Capture source"},
			"surface_id": map[string]any{"type": "string", "description": "Tab whose pointer is traced (tab id)"},
			"display":    map[string]any{"type": "string", "description": "Screen to grab, platform specific"},
		}, []string{"kind"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*selectSourceRequest)
		err := s.SelectSource(ctx, Source{Kind: SourceKind(r.Kind), SurfaceID: r.SurfaceID, Display: r.Display})
		if err != nil && !errors.Is(err, ErrPermissionDenied) {
			return nil, err
		}
		return s.Snapshot(), nil
	}
	mcptool.Register(srv, tool, endpoint, mcptool.JSON[selectSourceRequest]())
}

type emptyRequest struct{}

func (s *Session) registerStartTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "malu_start",
		Description: "Start recording the selected source and tracing the pointer.",
		InputSchema: mcptool.InputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		if err := s.Start(ctx); err != nil {
			return nil, err
		}
		return s.Snapshot(), nil
	}
	mcptool.Register(srv, tool, endpoint, mcptool.JSON[emptyRequest]())
}

func (s *Session) registerStopTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "malu_stop",
		Description: "Stop recording and save the video with its pointer trace. Safe to call repeatedly.",
		InputSchema: mcptool.InputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		res, err := s.Stop(ctx)
		if err != nil && res.SessionID == "" {
			return nil, err
		}
		return res, nil
	}
	mcptool.Register(srv, tool, endpoint, mcptool.JSON[emptyRequest]())
}

func (s *Session) registerChangeSourceTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "malu_change_source",
		Description: "Release the selected source, or clear a finished session, and return to idle.",
		InputSchema: mcptool.InputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		if err := s.ChangeSource(ctx); err != nil {
			return nil, err
		}
		return s.Snapshot(), nil
	}
	mcptool.Register(srv, tool, endpoint, mcptool.JSON[emptyRequest]())
}

func (s *Session) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "malu_status",
		Description: "Current recording status.",
		InputSchema: mcptool.InputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return s.Snapshot(), nil
	}
	mcptool.Register(srv, tool, endpoint, mcptool.JSON[emptyRequest]())
}
