package gate

import (
	"strings"
	"testing"

	"github.com/mlindqvist/cryovault/internal/apperr"
	"github.com/mlindqvist/cryovault/internal/plan"
)

func TestNormalizeMode(t *testing.T) {
	cases := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"", ModeDirect, true},
		{"direct", ModeDirect, true},
		{"EXECUTE", ModeExecute, true},
		{" preflight ", ModePreflight, true},
		{"yolo", "yolo", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeMode(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("NormalizeMode(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAdmitDirectSourceUnrestricted(t *testing.T) {
	adm, gateErr := Admit(Request{Action: "add_entry", Source: SourceToolAPI, Mode: ""})
	if gateErr != nil {
		t.Fatalf("tool_api direct write must be admitted, got %v", gateErr)
	}
	if adm.Mode != ModeDirect {
		t.Fatalf("mode = %q, want direct", adm.Mode)
	}
}

func TestAdmitGuiSourceNeedsExecuteMode(t *testing.T) {
	for _, source := range []string{"gui", "agent", "plan_executor"} {
		_, gateErr := Admit(Request{Action: "add_entry", Source: source, Mode: "direct"})
		if gateErr == nil || gateErr.Code != apperr.CodeWriteRequiresExecuteMode {
			t.Fatalf("source %q in direct mode: got %v, want write_requires_execute_mode", source, gateErr)
		}
	}
}

func TestAdmitDryRunBypassesModePolicy(t *testing.T) {
	_, gateErr := Admit(Request{Action: "add_entry", Source: "gui", Mode: "direct", DryRun: true})
	if gateErr != nil {
		t.Fatalf("dry-run must bypass the mode policy, got %v", gateErr)
	}
}

func TestAdmitExecuteModeRequiresBackupRef(t *testing.T) {
	_, gateErr := Admit(Request{Action: "add_entry", Source: "gui", Mode: "execute"})
	if gateErr == nil || gateErr.Code != apperr.CodeMissingBackupPath {
		t.Fatalf("got %v, want missing_backup_path", gateErr)
	}

	adm, gateErr := Admit(Request{Action: "add_entry", Source: "gui", Mode: "execute", BackupPath: "/tmp/b.bak"})
	if gateErr != nil {
		t.Fatalf("backed execute write must be admitted, got %v", gateErr)
	}
	if adm.Mode != ModeExecute {
		t.Fatalf("mode = %q", adm.Mode)
	}
}

func TestAdmitPreflightSourceSkipsBackupRef(t *testing.T) {
	_, gateErr := Admit(Request{Action: "add_entry", Source: "plan_executor.preflight", Mode: "execute"})
	if gateErr != nil {
		t.Fatalf("preflight source must not need a backup ref, got %v", gateErr)
	}
}

func TestAdmitInvalidMode(t *testing.T) {
	_, gateErr := Admit(Request{Action: "add_entry", Mode: "sideways"})
	if gateErr == nil || gateErr.Code != apperr.CodeValidationFailed {
		t.Fatalf("got %v, want validation_failed", gateErr)
	}
}

func TestAdmitPayloadShapes(t *testing.T) {
	base := Request{Action: "add_entry", Source: SourceToolAPI}

	req := base
	req.Payload = plan.AddPayload{Positions: []int{1}, FrozenAt: "2025-01-10"}
	if _, gateErr := Admit(req); gateErr != nil {
		t.Fatalf("valid add rejected: %v", gateErr)
	}

	req.Payload = plan.AddPayload{Positions: []int{1}, FrozenAt: "01/10/2025"}
	if _, gateErr := Admit(req); gateErr == nil || gateErr.Code != apperr.CodeValidationFailed {
		t.Fatalf("bad date: got %v", gateErr)
	}

	req.Payload = plan.AddPayload{FrozenAt: "2025-01-10"}
	_, gateErr := Admit(req)
	if gateErr == nil || !strings.Contains(gateErr.Message, "add_entry request rejected") {
		t.Fatalf("empty positions: got %v", gateErr)
	}

	req.Payload = plan.EditPayload{RecordID: 3}
	if _, gateErr := Admit(req); gateErr == nil {
		t.Fatal("edit without fields must be rejected")
	}

	req.Payload = plan.MovePayload{RecordID: 3, Position: 1}
	if _, gateErr := Admit(req); gateErr == nil {
		t.Fatal("move without to_position must be rejected")
	}

	req.Payload = plan.RollbackPayload{}
	if _, gateErr := Admit(req); gateErr == nil {
		t.Fatal("rollback without backup_path must be rejected")
	}

	req.Payload = plan.RollbackPayload{BackupPath: "/tmp/inventory.yaml.20250101-000000.bak"}
	if _, gateErr := Admit(req); gateErr != nil {
		t.Fatalf("valid rollback rejected: %v", gateErr)
	}
}
