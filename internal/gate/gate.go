// Package gate is the admission control in front of every write call:
// it normalizes the execution mode, enforces the execute-mode policy
// for GUI/agent callers, requires a pre-created backup reference for
// real execute-mode writes, and dispatches each request payload to its
// action-specific shape validator.
package gate

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/mlindqvist/cryovault/internal/apperr"
)

// Mode is the execution mode of one write call.
type Mode string

const (
	// ModeDirect is unrestricted library-internal use.
	ModeDirect Mode = "direct"
	// ModePreflight simulates against a private copy.
	ModePreflight Mode = "preflight"
	// ModeExecute performs the real write.
	ModeExecute Mode = "execute"
)

// SourceToolAPI marks direct library callers, which are exempt from
// the execute-mode policy.
const SourceToolAPI = "tool_api"

// NormalizeMode lowercases and defaults an execution mode. The second
// return value is false for unrecognized modes.
func NormalizeMode(raw string) (Mode, bool) {
	mode := Mode(strings.ToLower(strings.TrimSpace(raw)))
	switch mode {
	case "":
		return ModeDirect, true
	case ModeDirect, ModePreflight, ModeExecute:
		return mode, true
	}
	return mode, false
}

// Request is one write call awaiting admission.
type Request struct {
	// Action names the operation for error reporting.
	Action string
	// Source identifies the calling channel, e.g. "tool_api",
	// "gui", "agent", "plan_executor".
	Source string
	// Mode is the raw execution mode string.
	Mode string
	// DryRun requests a preview with no write.
	DryRun bool
	// BackupPath is the pre-created backup reference required for
	// non-dry-run execute-mode writes.
	BackupPath string
	// Payload is the action-specific request payload; when it
	// implements validation.Validatable its shape is checked.
	Payload any
}

// Admitted is a normalized, admitted request.
type Admitted struct {
	Mode Mode
}

// sourceRequiresExecuteMode reports whether writes from this source
// must go through plan execution. Plain tool_api callers stay
// unrestricted for direct library use.
func sourceRequiresExecuteMode(source string) bool {
	src := strings.ToLower(strings.TrimSpace(source))
	if src == "" || src == SourceToolAPI {
		return false
	}
	return strings.HasPrefix(src, "agent") ||
		strings.HasPrefix(src, "gui") ||
		strings.HasPrefix(src, "plan_executor")
}

// sourceIsPlanPreflight reports whether the caller is the preflight
// path of the plan executor, which writes only to temp copies.
func sourceIsPlanPreflight(source string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(source)), "plan_executor.preflight")
}

// Admit runs the full gate: mode policy first, then the backup-ref
// requirement, then the payload shape validator. It never touches the
// store.
func Admit(req Request) (*Admitted, *apperr.Error) {
	mode, ok := NormalizeMode(req.Mode)
	if !ok {
		return nil, apperr.New(apperr.CodeValidationFailed,
			"execution_mode must be direct/preflight/execute, got %q", req.Mode)
	}

	if !req.DryRun {
		if sourceRequiresExecuteMode(req.Source) && mode != ModeExecute {
			return nil, apperr.New(apperr.CodeWriteRequiresExecuteMode,
				"writes from source %q are only allowed during plan execution", req.Source)
		}
		if mode == ModeExecute && !sourceIsPlanPreflight(req.Source) && strings.TrimSpace(req.BackupPath) == "" {
			return nil, apperr.New(apperr.CodeMissingBackupPath,
				"execute-mode write requires a pre-created backup reference")
		}
	}

	if req.Payload != nil {
		if err := validation.Validate(req.Payload); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeValidationFailed,
				"%s request rejected", req.Action)
		}
	}

	return &Admitted{Mode: mode}, nil
}
