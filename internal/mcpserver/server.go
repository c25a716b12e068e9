// Package mcpserver exposes recalculation as MCP tools over stdio, so ERP
// agents can trigger runs and inspect dirty state.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kerfworks/kerf/api"
	"github.com/kerfworks/kerf/internal/app"
	"github.com/kerfworks/kerf/internal/forest"
	"github.com/kerfworks/kerf/internal/walk"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients.
var Version = "dev"

// Tools holds the MCP tool handlers.
type Tools struct {
	app *app.App
}

// New creates the MCP server with every kerf tool registered.
func New(a *app.App) *server.MCPServer {
	s := server.NewMCPServer(
		"kerf",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	t := &Tools{app: a}

	s.AddTool(mcp.NewTool("recalculate_project",
		mcp.WithDescription("Recalculate the dirty nodes of one project and return per-kind counts."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
	), t.RecalculateProject)

	s.AddTool(mcp.NewTool("recalculate_all",
		mcp.WithDescription("Recalculate every project. With force, clean nodes are rescored too."),
		mcp.WithBoolean("force", mcp.Description("Rescore clean nodes (after a formula change)")),
	), t.RecalculateAll)

	s.AddTool(mcp.NewTool("recalculate_dirty",
		mcp.WithDescription("Recalculate only the nodes that are dirty now."),
	), t.RecalculateDirty)

	s.AddTool(mcp.NewTool("mark_dirty",
		mcp.WithDescription("Mark a node and its ancestors dirty."),
		mcp.WithString("ref", mcp.Required(), mcp.Description("Node ref as kind:id, e.g. section:42")),
	), t.MarkDirty)

	s.AddTool(mcp.NewTool("dirty_status",
		mcp.WithDescription("Count dirty nodes per kind."),
		mcp.WithString("project_id", mcp.Description("Restrict to one project")),
	), t.DirtyStatus)

	return s
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(a *app.App) error {
	return server.ServeStdio(New(a))
}

func (t *Tools) RecalculateProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return t.recalculate(ctx, walk.ProjectScope(id), false)
}

func (t *Tools) RecalculateAll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.recalculate(ctx, walk.AllScope(), req.GetBool("force", false))
}

func (t *Tools) RecalculateDirty(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.recalculate(ctx, walk.DirtyScope(), false)
}

func (t *Tools) recalculate(ctx context.Context, scope walk.Scope, force bool) (*mcp.CallToolResult, error) {
	sum, err := t.app.Recalculate(ctx, scope, force)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(sum)
}

func (t *Tools) MarkDirty(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("ref")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ref, err := forest.ParseRef(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.app.Mark(ctx, ref); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("marked %s and its ancestors dirty", ref)), nil
}

func (t *Tools) DirtyStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counts, err := t.app.Status(ctx, req.GetString("project_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := make(map[string]int, len(counts))
	for _, k := range api.BottomUp() {
		out[k.String()] = counts[k]
	}
	return jsonResult(out)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
