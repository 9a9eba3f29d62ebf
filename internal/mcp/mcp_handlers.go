package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/huangsam/feedmirror/core"
	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/schema"
	"github.com/mark3labs/mcp-go/mcp"
)

// Mirror is the part of the tiered cache the tools expose.
type Mirror interface {
	Get(ctx context.Context, ct schema.CollectionType, project string) core.Result
	Status(ctx context.Context, ct schema.CollectionType, project string) schema.CacheHealth
	TriggerRefreshNow(ct schema.CollectionType, project string) bool
}

var _ Mirror = &core.TieredCache{} // Compile-time check

// toolHandler holds common dependencies for MCP tool handlers.
type toolHandler struct {
	baseCfg *contract.Config
	mirror  Mirror
}

// target resolves the collection and project arguments of a request.
func (h *toolHandler) target(request mcp.CallToolRequest) (schema.CollectionType, string, error) {
	ct := schema.CollectionType(request.GetString("collection", ""))
	if ct == "" {
		return "", "", fmt.Errorf("collection is required")
	}
	if !slices.Contains(h.baseCfg.Collections, ct) {
		return "", "", fmt.Errorf("collection %q is not configured", ct)
	}
	project := request.GetString("project", "")
	if project == "" {
		project = h.baseCfg.Project
	}
	return ct, project, nil
}

func (h *toolHandler) handleGetSnapshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ct, project, err := h.target(request)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid snapshot parameters: %v", err)), nil
	}
	limit := request.GetInt("limit", 0)
	if limit < 0 {
		return mcp.NewToolResultError("invalid snapshot parameters: limit cannot be negative"), nil
	}

	res := h.mirror.Get(ctx, ct, project)
	if limit > 0 && res.Snapshot != nil && len(res.Snapshot.Items) > limit {
		res.Snapshot.Items = res.Snapshot.Items[:limit]
	}

	jsonData, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(jsonData)), nil
}

func (h *toolHandler) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collections := h.baseCfg.Collections
	if request.GetString("collection", "") != "" {
		ct, _, err := h.target(request)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid status parameters: %v", err)), nil
		}
		collections = []schema.CollectionType{ct}
	}
	project := request.GetString("project", "")
	if project == "" {
		project = h.baseCfg.Project
	}

	health := make([]schema.CacheHealth, 0, len(collections))
	for _, ct := range collections {
		health = append(health, h.mirror.Status(ctx, ct, project))
	}

	jsonData, _ := json.MarshalIndent(health, "", "  ")
	return mcp.NewToolResultText(string(jsonData)), nil
}

func (h *toolHandler) handleTriggerRefresh(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ct, project, err := h.target(request)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid refresh parameters: %v", err)), nil
	}

	accepted := h.mirror.TriggerRefreshNow(ct, project)
	payload := map[string]any{
		"collection": ct,
		"project":    project,
		"accepted":   accepted,
	}
	if !accepted {
		payload["reason"] = "a run is active, queued or cooling down after a failure"
	}

	jsonData, _ := json.MarshalIndent(payload, "", "  ")
	return mcp.NewToolResultText(string(jsonData)), nil
}
