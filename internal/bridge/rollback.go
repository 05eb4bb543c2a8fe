package bridge

import (
	"fmt"
	"strings"

	"github.com/mlindqvist/cryovault/internal/apperr"
	"github.com/mlindqvist/cryovault/internal/plan"
	"github.com/mlindqvist/cryovault/internal/store"
)

// Rollback restores the store from a backup snapshot. An empty
// BackupPath resolves to the newest backup; an explicit one must also
// appear in the audit timeline as the backup of a successful write.
func (e *Engine) Rollback(req RollbackRequest) Response {
	const action, tool = "rollback", "rollback_store"

	explicit := strings.TrimSpace(req.BackupPath) != ""
	target := strings.TrimSpace(req.BackupPath)
	if !explicit {
		backups, err := e.store.ListBackups()
		if err != nil {
			return e.failFromErr(req.CallOptions, action, tool, err)
		}
		if len(backups) == 0 {
			return e.fail(req.CallOptions, action, tool, apperr.CodeNoBackups,
				"no backups available to roll back to", nil)
		}
		target = backups[0].Path
	}

	// Snapshot the live file before overwriting it so a rollback can
	// itself be rolled back. A caller-provided backup reference serves
	// as that snapshot. Created after target resolution so it never
	// becomes the backup being restored.
	snapshot := strings.TrimSpace(req.RequestBackupPath)
	if snapshot == "" && !req.DryRun {
		created, err := e.store.CreateBackup()
		if err != nil {
			return e.failFromErr(req.CallOptions, action, tool, err)
		}
		snapshot = created
	}
	opts := req.CallOptions
	opts.RequestBackupPath = snapshot

	payload := plan.RollbackPayload{BackupPath: target}
	if _, failResp := e.admit(opts, action, tool, payload); failResp != nil {
		return *failResp
	}

	if explicit {
		inTimeline, err := e.store.BackupInTimeline(target)
		if err != nil {
			return e.failFromErr(req.CallOptions, action, tool, err)
		}
		if !inTimeline {
			return e.fail(req.CallOptions, action, tool, apperr.CodeRollbackNotInTimeline,
				fmt.Sprintf("backup %s does not appear in the audit timeline", target), nil)
		}
	}

	if req.DryRun {
		result := map[string]any{"requested_backup": target}
		return Response{OK: true, DryRun: true, Preview: result, Result: result}
	}

	res, err := e.store.Rollback(target, snapshot, store.AuditMeta{
		Action: action, ToolName: tool, Actor: req.Actor,
	})
	if err != nil {
		return e.failFromErr(req.CallOptions, action, tool, err)
	}

	result := map[string]any{
		"restored_from":            res.RestoredFrom,
		"snapshot_before_rollback": res.SnapshotBeforeRollback,
	}
	return Response{OK: true, Result: result,
		BackupPath: snapshot, Warnings: res.Warnings}
}
