// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes cryovault tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mlindqvist/cryovault/internal/auditindex"
	"github.com/mlindqvist/cryovault/internal/bridge"
	"github.com/mlindqvist/cryovault/internal/executor"
	"github.com/mlindqvist/cryovault/internal/gate"
	"github.com/mlindqvist/cryovault/internal/store"
)

// Server wraps the MCP server with cryovault tools.
type Server struct {
	mcp    *server.MCPServer
	store  *store.Store
	eng    *bridge.Engine
	runner *executor.Runner
	idx    auditindex.TimelineIndex // optional, nil falls back to log scans
	log    *slog.Logger
}

// New creates a new MCP server with all cryovault tools registered.
// idx may be nil when no audit index is configured.
func New(st *store.Store, eng *bridge.Engine, runner *executor.Runner, idx auditindex.TimelineIndex, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{store: st, eng: eng, runner: runner, idx: idx, log: logger}

	s.mcp = server.NewMCPServer(
		"Cryovault",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_document",
		mcp.WithDescription("Read the full tube inventory document with occupancy stats."),
	), s.getDocument)

	s.mcp.AddTool(mcp.NewTool("get_plan_contract",
		mcp.WithDescription("Returns the canonical plan item format. "+
			"Call this before building plans to ensure correct structure."),
	), s.getPlanContract)

	s.mcp.AddTool(mcp.NewTool("preflight_plan",
		mcp.WithDescription("Validate a plan against a throwaway copy of the store without "+
			"changing anything. Items MUST follow the plan format contract; read it first "+
			"via the get_plan_contract tool or the cryovault://plan-format resource."),
		mcp.WithString("items", mcp.Required(), mcp.Description("JSON array of plan items")),
		mcp.WithString("date", mcp.Description("Optional effective date (YYYY-MM-DD), defaults to today")),
	), s.preflightPlan)

	s.mcp.AddTool(mcp.NewTool("execute_plan",
		mcp.WithDescription("Execute a plan phase by phase against the live store. "+
			"A backup is taken first and a partial failure triggers an automatic rollback. "+
			"Preflight the plan before executing it."),
		mcp.WithString("items", mcp.Required(), mcp.Description("JSON array of plan items")),
		mcp.WithString("date", mcp.Description("Optional effective date (YYYY-MM-DD), defaults to today")),
	), s.executePlan)

	s.mcp.AddTool(mcp.NewTool("list_backups",
		mcp.WithDescription("List available backup snapshots, newest first."),
	), s.listBackups)

	s.mcp.AddTool(mcp.NewTool("rollback_store",
		mcp.WithDescription("Restore the store from a backup snapshot. With no backup_path "+
			"the newest backup is restored. A snapshot of the current state is taken first."),
		mcp.WithString("backup_path", mcp.Description("Backup to restore (empty for newest)")),
		mcp.WithBoolean("dry_run", mcp.Description("Preview the rollback without touching the store")),
	), s.rollbackStore)

	s.mcp.AddTool(mcp.NewTool("list_audit_timeline",
		mcp.WithDescription("Query the append-only audit timeline, newest first."),
		mcp.WithString("action", mcp.Description("Optional action filter, e.g. add_entry or rollback")),
		mcp.WithNumber("limit", mcp.Description("Maximum events to return (default 20)")),
	), s.listAuditTimeline)

	// Resource: plan format contract.
	s.mcp.AddResource(
		mcp.NewResource("cryovault://plan-format", "Plan Format Contract",
			mcp.WithResourceDescription("Canonical plan item format that all plans must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPlanFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func mcpActor() store.ActorContext {
	return store.ActorContext{ActorType: "agent", Channel: "mcp"}
}

func (s *Server) getDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := s.store.Load()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(map[string]any{
		"document": doc,
		"stats":    store.CollectStats(doc),
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getPlanContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PlanFormatContract), nil
}

func (s *Server) readPlanFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "cryovault://plan-format",
			MIMEType: "text/markdown",
			Text:     PlanFormatContract,
		},
	}, nil
}

func (s *Server) listBackups(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	backups, err := s.store.ListBackups()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(backups) == 0 {
		return mcp.NewToolResultText("no backups available"), nil
	}
	out, _ := json.MarshalIndent(backups, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) rollbackStore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	backupPath := ""
	if v, err := req.RequireString("backup_path"); err == nil {
		backupPath = v
	}
	dryRun := req.GetBool("dry_run", false)

	resp := s.eng.Rollback(bridge.RollbackRequest{
		CallOptions: bridge.CallOptions{
			DryRun: dryRun,
			Source: gate.SourceToolAPI,
			Actor:  mcpActor(),
		},
		BackupPath: backupPath,
	})
	out, _ := json.MarshalIndent(resp, "", "  ")
	if !resp.OK {
		return mcp.NewToolResultError(string(out)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listAuditTimeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action := ""
	if v, err := req.RequireString("action"); err == nil {
		action = v
	}
	limit := req.GetInt("limit", 20)

	events, err := s.auditEvents(action, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(events) == 0 {
		return mcp.NewToolResultText("no audit events found"), nil
	}
	out, _ := json.MarshalIndent(events, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) auditEvents(action string, limit int) ([]store.AuditEvent, error) {
	if s.idx != nil {
		var rows []auditindex.Row
		var err error
		if action != "" {
			rows, err = s.idx.ByAction(action, limit)
		} else {
			rows, err = s.idx.Recent(limit)
		}
		if err != nil {
			return nil, err
		}
		events := make([]store.AuditEvent, 0, len(rows))
		for _, row := range rows {
			events = append(events, row.Event)
		}
		return events, nil
	}

	all, err := s.store.ReadAuditEvents(0)
	if err != nil {
		return nil, fmt.Errorf("mcpserver: read audit log: %w", err)
	}
	var events []store.AuditEvent
	for i := len(all) - 1; i >= 0; i-- {
		if action != "" && all[i].Action != action {
			continue
		}
		events = append(events, all[i])
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}
