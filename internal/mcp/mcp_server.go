// Package mcp provides the Model Context Protocol (MCP) server implementation.
package mcp

import (
	"context"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer initializes and configures the feedmirror MCP server without starting it.
// This is exposed for unit testing.
func NewMCPServer(baseCfg *contract.Config, mirror Mirror) *server.MCPServer {
	s := server.NewMCPServer(
		"feedmirror Cache Server",
		"1.0.0",
		server.WithLogging(),
	)

	h := &toolHandler{
		baseCfg: baseCfg,
		mirror:  mirror,
	}

	collections := make([]string, 0, len(baseCfg.Collections))
	for _, ct := range baseCfg.Collections {
		collections = append(collections, string(ct))
	}

	// --- 1. Tool: get_snapshot ---
	s.AddTool(mcp.NewTool("get_snapshot",
		mcp.WithDescription("Return the best cached snapshot of a collection. Never calls the remote API."),
		mcp.WithString("collection", mcp.Description("Collection type to read."), mcp.Enum(collections...), mcp.Required()),
		mcp.WithString("project", mcp.Description("Project key (defaults to the configured project).")),
		mcp.WithNumber("limit", mcp.Description("Return at most this many items, newest first.")),
	), h.handleGetSnapshot)

	// --- 2. Tool: get_status ---
	s.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Report cache health for one or all configured collections."),
		mcp.WithString("collection", mcp.Description("Collection type (all configured collections if omitted).")),
		mcp.WithString("project", mcp.Description("Project key (defaults to the configured project).")),
	), h.handleGetStatus)

	// --- 3. Tool: trigger_refresh ---
	s.AddTool(mcp.NewTool("trigger_refresh",
		mcp.WithDescription("Ask the background refresher of a collection for a run. Dropped if one is already running."),
		mcp.WithString("collection", mcp.Description("Collection type to refresh."), mcp.Enum(collections...), mcp.Required()),
		mcp.WithString("project", mcp.Description("Project key (defaults to the configured project).")),
	), h.handleTriggerRefresh)

	return s
}

// StartMCPServer starts the feedmirror MCP server on stdio.
func StartMCPServer(_ context.Context, baseCfg *contract.Config, mirror Mirror) error {
	s := NewMCPServer(baseCfg, mirror)
	return server.ServeStdio(s)
}
