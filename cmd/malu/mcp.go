package main

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/malu/agent"
)

const version = "0.1.0"

// runMCP serves the recording and export tools over stdio. Logs stay on
// stderr.
func runMCP(ctx context.Context, a *app) error {
	tabs, err := a.startBrowser(ctx)
	if err != nil {
		return err
	}
	defer tabs.Close()

	sess, release, err := a.recorder(ctx, tabs)
	if err != nil {
		return err
	}
	defer release(context.WithoutCancel(ctx))
	exp, err := a.exporter()
	if err != nil {
		return err
	}

	srv := mcp.NewServer(&mcp.Implementation{Name: "malu", Version: version}, nil)
	agent.RegisterMCP(srv, tabs)
	sess.RegisterMCP(srv)
	exp.RegisterMCP(srv)

	a.logger.Info("malu: mcp serving on stdio")
	return srv.Run(ctx, &mcp.StdioTransport{})
}
