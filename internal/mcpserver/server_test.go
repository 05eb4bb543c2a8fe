package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mlindqvist/cryovault/internal/bridge"
	"github.com/mlindqvist/cryovault/internal/executor"
	"github.com/mlindqvist/cryovault/internal/models"
	"github.com/mlindqvist/cryovault/internal/plan"
	"github.com/mlindqvist/cryovault/internal/store"
)

func testDoc() *models.Document {
	return &models.Document{
		Meta: models.Meta{
			BoxLayout: models.BoxLayout{Rows: 9, Cols: 9, Boxes: []int{1, 2}},
			Fields: []models.FieldDef{
				{Key: "cell_line", Label: "Cell line", Required: true},
			},
		},
		Inventory: []models.Record{
			{ID: 1, Box: 1, Position: models.Int(1), FrozenAt: "2024-01-10",
				Fields: map[string]any{"cell_line": "HeLa"}},
			{ID: 2, Box: 1, Position: models.Int(2), FrozenAt: "2024-02-05",
				Fields: map[string]any{"cell_line": "K562"}},
		},
	}
}

func testServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	st, err := store.New(filepath.Join(t.TempDir(), "inventory.yaml"), store.Options{Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Write(store.WriteRequest{Doc: testDoc()}); err != nil {
		t.Fatal(err)
	}

	srv := New(st, bridge.NewEngine(st, logger), executor.NewRunner(st, logger), nil, logger)
	return srv, st
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go doesn't expose a direct "call tool" test helper, so we call
	// the handler functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "get_document":
		result, err = srv.getDocument(ctx, req)
	case "get_plan_contract":
		result, err = srv.getPlanContract(ctx, req)
	case "preflight_plan":
		result, err = srv.preflightPlan(ctx, req)
	case "execute_plan":
		result, err = srv.executePlan(ctx, req)
	case "list_backups":
		result, err = srv.listBackups(ctx, req)
	case "rollback_store":
		result, err = srv.rollbackStore(ctx, req)
	case "list_audit_timeline":
		result, err = srv.listAuditTimeline(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func planJSON(t *testing.T, items []plan.Item) string {
	t.Helper()
	data, err := json.Marshal(items)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func addItems(box, position int) []plan.Item {
	return []plan.Item{{
		Action: plan.ActionAdd, Box: box, Position: position,
		Add: &plan.AddPayload{
			Box: box, Positions: []int{position}, FrozenAt: "2024-03-01",
			Fields: map[string]any{"cell_line": "HeLa"},
		},
	}}
}

func TestGetDocumentTool(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "get_document", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("get_document errored: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, `"inventory"`) || !strings.Contains(text, `"stats"`) {
		t.Errorf("unexpected document output: %s", text)
	}
}

func TestGetPlanContract(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "get_plan_contract", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "Plan Format Contract") {
		t.Errorf("contract = %q", text)
	}
}

func TestPreflightThenExecutePlan(t *testing.T) {
	srv, st := testServer(t)
	items := planJSON(t, addItems(1, 3))

	r := callTool(t, srv, "preflight_plan", map[string]interface{}{"items": items})
	if r.IsError {
		t.Fatalf("preflight errored: %s", resultText(r))
	}

	doc, _ := st.Load()
	if len(doc.Inventory) != 2 {
		t.Fatalf("preflight changed the store: %d records", len(doc.Inventory))
	}

	r = callTool(t, srv, "execute_plan", map[string]interface{}{"items": items})
	if r.IsError {
		t.Fatalf("execute errored: %s", resultText(r))
	}

	doc, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Inventory) != 3 {
		t.Errorf("inventory = %d records, want 3", len(doc.Inventory))
	}
}

func TestExecutePlan_BlockedIsError(t *testing.T) {
	srv, _ := testServer(t)

	// Slot 1 is already occupied.
	r := callTool(t, srv, "execute_plan", map[string]interface{}{
		"items": planJSON(t, addItems(1, 1)),
	})
	if !r.IsError {
		t.Error("expected error result for a blocked plan")
	}
	if !strings.Contains(resultText(r), "position_conflict") {
		t.Errorf("result = %s", resultText(r))
	}
}

func TestExecutePlan_BadItems(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "execute_plan", map[string]interface{}{"items": "{not json"})
	if !r.IsError {
		t.Error("expected error for malformed items")
	}
}

func TestListBackups(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "list_backups", map[string]interface{}{})
	if resultText(r) != "no backups available" {
		t.Errorf("empty list = %q", resultText(r))
	}

	callTool(t, srv, "execute_plan", map[string]interface{}{
		"items": planJSON(t, addItems(1, 3)),
	})

	r = callTool(t, srv, "list_backups", map[string]interface{}{})
	if !strings.Contains(resultText(r), ".bak") {
		t.Errorf("backup list = %q", resultText(r))
	}
}

func TestRollbackStore(t *testing.T) {
	srv, st := testServer(t)

	callTool(t, srv, "execute_plan", map[string]interface{}{
		"items": planJSON(t, addItems(1, 3)),
	})

	r := callTool(t, srv, "rollback_store", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("rollback errored: %s", resultText(r))
	}

	doc, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Inventory) != 2 {
		t.Errorf("inventory after rollback = %d records, want 2", len(doc.Inventory))
	}
}

func TestRollbackStore_NoBackups(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "rollback_store", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error when no backups exist")
	}
	if !strings.Contains(resultText(r), "no_backups") {
		t.Errorf("result = %s", resultText(r))
	}
}

func TestListAuditTimeline(t *testing.T) {
	srv, _ := testServer(t)

	callTool(t, srv, "execute_plan", map[string]interface{}{
		"items": planJSON(t, addItems(1, 3)),
	})

	r := callTool(t, srv, "list_audit_timeline", map[string]interface{}{"action": "add_entry"})
	if r.IsError {
		t.Fatalf("timeline errored: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "add_entry") {
		t.Errorf("timeline = %s", resultText(r))
	}
}
