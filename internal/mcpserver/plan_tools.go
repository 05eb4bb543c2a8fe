package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mlindqvist/cryovault/internal/executor"
	"github.com/mlindqvist/cryovault/internal/plan"
)

const maxPlanItems = 500

type planResult struct {
	Report *executor.Report        `json:"report"`
	Stats  executor.ExecutionStats `json:"stats"`
}

func parsePlanArgs(req mcp.CallToolRequest) ([]plan.Item, string, error) {
	raw, err := req.RequireString("items")
	if err != nil {
		return nil, "", err
	}

	var items []plan.Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, "", fmt.Errorf("items must be a JSON array of plan items: %w", err)
	}
	if len(items) > maxPlanItems {
		return nil, "", fmt.Errorf("plan too large: %d items (max %d)", len(items), maxPlanItems)
	}

	date := ""
	if v, dErr := req.RequireString("date"); dErr == nil {
		date = v
	}
	return items, date, nil
}

func planResultText(report *executor.Report) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(planResult{
		Report: report,
		Stats:  executor.Summarize(report),
	}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if report.Blocked {
		return mcp.NewToolResultError(string(out)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) preflightPlan(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, date, err := parsePlanArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return planResultText(s.runner.Preflight(items, date, mcpActor()))
}

func (s *Server) executePlan(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, date, err := parsePlanArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return planResultText(s.runner.Run(items, date, mcpActor()))
}
