// Package bridge defines the per-action store calls consumed by the
// plan executor, and a local engine implementing them against a YAML
// store. Every call returns a structured Response; ok=false is the
// normal path for a rejected request, not a fatal condition.
package bridge

import (
	"github.com/mlindqvist/cryovault/internal/apperr"
	"github.com/mlindqvist/cryovault/internal/store"
)

// CallOptions carry the execution context shared by every bridge call.
type CallOptions struct {
	// DryRun previews the outcome without writing.
	DryRun bool
	// Mode is the execution mode (direct/preflight/execute).
	Mode string
	// Source identifies the calling channel for the write gate.
	Source string
	// Actor is recorded on audit events.
	Actor store.ActorContext
	// AutoBackup creates a backup before each write when no
	// RequestBackupPath is given.
	AutoBackup bool
	// RequestBackupPath is the pre-created backup reference required
	// for execute-mode writes.
	RequestBackupPath string
}

// AddRequest creates one record per position in a box.
type AddRequest struct {
	CallOptions
	Box       int
	Positions []int
	FrozenAt  string
	Fields    map[string]any
	Note      string
}

// EditRequest updates user-editable fields of one record.
type EditRequest struct {
	CallOptions
	RecordID int
	Fields   map[string]any
}

// MoveEntry is one relocation inside a batch move.
type MoveEntry struct {
	RecordID     int
	FromPosition int
	ToPosition   int
	// ToBox, when set, moves the record across boxes.
	ToBox *int
}

// BatchMoveRequest relocates several records in one write.
type BatchMoveRequest struct {
	CallOptions
	Entries []MoveEntry
	Date    string
	Note    string
}

// TakeoutEntry is one removal inside a batch takeout. A zero Position
// means "whatever slot the record currently occupies".
type TakeoutEntry struct {
	RecordID int
	Position int
}

// BatchTakeoutRequest removes several records from their slots in one
// write. Records are never deleted; their position is cleared and a
// history event appended.
type BatchTakeoutRequest struct {
	CallOptions
	Entries []TakeoutEntry
	Date    string
	Note    string
}

// RollbackRequest restores the store from a backup. An empty
// BackupPath selects the newest backup.
type RollbackRequest struct {
	CallOptions
	BackupPath string
}

// Response is the unified result of one bridge call.
type Response struct {
	OK         bool           `json:"ok"`
	DryRun     bool           `json:"dry_run,omitempty"`
	ErrorCode  apperr.Code    `json:"error_code,omitempty"`
	Message    string         `json:"message,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
	Preview    map[string]any `json:"preview,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	BackupPath string         `json:"backup_path,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
}

// Bridge is the fixed interface between the executor and whatever
// execution backend is wired in. The executor never assumes more.
type Bridge interface {
	AddEntry(req AddRequest) Response
	EditEntry(req EditRequest) Response
	BatchMove(req BatchMoveRequest) Response
	BatchTakeout(req BatchTakeoutRequest) Response
	Rollback(req RollbackRequest) Response
}
