// Package executor runs staged plans against a store in two modes:
// preflight validates every item against a throwaway copy, execute
// applies the plan phase by phase and rolls back on partial failure.
package executor

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mlindqvist/cryovault/internal/apperr"
	"github.com/mlindqvist/cryovault/internal/bridge"
	"github.com/mlindqvist/cryovault/internal/gate"
	"github.com/mlindqvist/cryovault/internal/plan"
	"github.com/mlindqvist/cryovault/internal/store"
	"github.com/mlindqvist/cryovault/internal/validate"
)

// Mode selects between validation-only and real execution.
type Mode string

const (
	ModeExecute   Mode = "execute"
	ModePreflight Mode = "preflight"
)

const runnerSource = "plan_executor"

// ItemReport is the per-item outcome of a plan run.
type ItemReport struct {
	Item      plan.Item        `json:"item"`
	OK        bool             `json:"ok"`
	Blocked   bool             `json:"blocked"`
	ErrorCode apperr.Code      `json:"error_code,omitempty"`
	Message   string           `json:"message,omitempty"`
	Response  *bridge.Response `json:"response,omitempty"`
}

// Stats are the aggregate counts of a plan run.
type Stats struct {
	Total     int `json:"total"`
	OK        int `json:"ok"`
	Blocked   int `json:"blocked"`
	Remaining int `json:"remaining"`
}

// RollbackOutcome reports the post-failure rollback attempt of an
// execute run.
type RollbackOutcome struct {
	Attempted  bool        `json:"attempted"`
	OK         bool        `json:"ok"`
	Message    string      `json:"message"`
	BackupPath string      `json:"backup_path,omitempty"`
	ErrorCode  apperr.Code `json:"error_code,omitempty"`
}

// Report is the full outcome of a plan run.
type Report struct {
	OK         bool             `json:"ok"`
	Blocked    bool             `json:"blocked"`
	Mode       Mode             `json:"mode"`
	Items      []ItemReport     `json:"items"`
	Stats      Stats            `json:"stats"`
	Summary    string           `json:"summary"`
	BackupPath string           `json:"backup_path,omitempty"`
	Remaining  []plan.Item      `json:"remaining_items"`
	Rollback   *RollbackOutcome `json:"rollback,omitempty"`
}

// Runner executes plans through a bridge bound to one store.
type Runner struct {
	store *store.Store
	eng   *bridge.Engine
	log   *slog.Logger
}

func NewRunner(st *store.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: st, eng: bridge.NewEngine(st, logger), log: logger}
}

// Run applies the plan to the live store. Items execute in phases
// (rollback, add, edit, move, takeout); if any item fails after others
// succeeded, the run attempts to restore the pre-run backup.
func (r *Runner) Run(items []plan.Item, date string, actor store.ActorContext) *Report {
	if len(items) == 0 {
		return emptyReport(ModeExecute)
	}
	if !r.store.Exists() {
		return blanketBlocked(items, ModeExecute, apperr.CodeYAMLNotFound,
			fmt.Sprintf("store file not found: %s", r.store.Path()))
	}

	report := r.run(r.eng, items, ModeExecute, date, actor)

	failCount := report.Stats.Total - report.Stats.OK
	if failCount > 0 && report.Stats.OK > 0 {
		report.Rollback = r.attemptAtomicRollback(report, actor)
		// The run counts as fully unapplied whether or not the restore
		// succeeded; the whole plan is pending again.
		report.Remaining = append([]plan.Item(nil), items...)
		report.Stats.Remaining = len(report.Remaining)
	}
	return report
}

// Preflight validates the plan against a temporary copy of the store
// file. The live file, its backups and its audit log are untouched.
func (r *Runner) Preflight(items []plan.Item, date string, actor store.ActorContext) *Report {
	if len(items) == 0 {
		return emptyReport(ModePreflight)
	}
	if !r.store.Exists() {
		return blanketBlocked(items, ModePreflight, apperr.CodeYAMLNotFound,
			fmt.Sprintf("store file not found: %s", r.store.Path()))
	}

	data, err := os.ReadFile(r.store.Path())
	if err != nil {
		return blanketBlocked(items, ModePreflight, apperr.CodeLoadFailed, err.Error())
	}
	tmp, err := os.CreateTemp("", "cryovault-preflight-*.yaml")
	if err != nil {
		return blanketBlocked(items, ModePreflight, apperr.CodeInternal, err.Error())
	}
	tmpPath := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	defer os.Remove(tmpPath)
	if writeErr != nil || closeErr != nil {
		return blanketBlocked(items, ModePreflight, apperr.CodeInternal, "failed to stage preflight copy")
	}

	tmpStore, err := store.New(tmpPath, store.Options{Logger: r.log})
	if err != nil {
		return blanketBlocked(items, ModePreflight, apperr.CodeInternal, err.Error())
	}
	return r.run(bridge.NewEngine(tmpStore, r.log), items, ModePreflight, date, actor)
}

func (r *Runner) run(eng *bridge.Engine, items []plan.Item, mode Mode, date string, actor store.ActorContext) *Report {
	if hasRollback(items) && len(items) != 1 {
		rep := blanketBlocked(items, mode, apperr.CodeRollbackMustBeAlone,
			"rollback must be the only plan item")
		rep.Summary = "Blocked: rollback cannot be mixed with other operations."
		return rep
	}

	effectiveDate := date
	if effectiveDate == "" {
		effectiveDate = time.Now().Format(validate.DateLayout)
	}

	var backupRef string
	if mode == ModeExecute && !hasRollback(items) {
		ref, err := eng.Store().CreateBackup()
		if err != nil {
			return blanketBlocked(items, mode, apperr.CodeWriteFailed,
				fmt.Sprintf("failed to create pre-run backup: %v", err))
		}
		backupRef = ref
	}
	execOpts := bridge.CallOptions{
		Mode: string(gate.ModeExecute), Source: runnerSource,
		Actor: actor, RequestBackupPath: backupRef,
	}
	dryOpts := bridge.CallOptions{
		DryRun: true, Mode: string(gate.ModePreflight),
		Source: runnerSource + ".preflight", Actor: actor,
	}

	reports := make([]ItemReport, 0, len(items))
	done := make(map[int]bool, len(items))    // item handled, no later phase may touch it
	applied := make(map[int]bool, len(items)) // item succeeded
	lastBackup := ""

	record := func(i int, rep ItemReport) {
		reports = append(reports, rep)
		done[i] = true
		if rep.OK {
			applied[i] = true
			if rep.Response != nil && rep.Response.BackupPath != "" {
				lastBackup = rep.Response.BackupPath
			}
		}
	}

	for i, it := range items {
		if msg := plan.ValidateItem(it); msg != "" {
			record(i, blockedReport(it, apperr.CodeValidationFailed, msg))
		}
	}

	// Phase 0: rollback. Alone by construction.
	for i, it := range items {
		if done[i] || it.Action != plan.ActionRollback {
			continue
		}
		req := bridge.RollbackRequest{CallOptions: execOpts}
		if it.Rollback != nil {
			req.BackupPath = it.Rollback.BackupPath
		}
		if mode == ModePreflight {
			// Dry run against the live store so backup resolution and
			// timeline checks see the real history.
			req.CallOptions = dryOpts
		}
		record(i, fromResponse(it, r.eng.Rollback(req), apperr.CodeInternal, "rollback failed"))
	}

	// Phase 1: adds, each independent, in-batch slot conflicts blocked
	// before any call.
	conflicting := plan.ConflictingAdds(items)
	for i, it := range items {
		if done[i] || it.Action != plan.ActionAdd {
			continue
		}
		if conflicting[i] {
			record(i, blockedReport(it, apperr.CodePositionConflict,
				"position already claimed by an earlier add in this batch"))
			continue
		}
		req := bridge.AddRequest{
			Box:       it.AddBox(),
			Positions: it.AddPositions(),
		}
		if it.Add != nil {
			req.FrozenAt = it.Add.FrozenAt
			req.Fields = it.Add.Fields
			req.Note = it.Add.Note
		}
		if mode == ModePreflight {
			req.CallOptions = dryOpts
		} else {
			req.CallOptions = execOpts
		}
		record(i, fromResponse(it, eng.AddEntry(req), apperr.CodeInternal, "add failed"))
	}

	// Phase 2: edits, each independent. Preflight passes trivially;
	// field-level problems surface at execute time.
	for i, it := range items {
		if done[i] || it.Action != plan.ActionEdit {
			continue
		}
		if mode == ModePreflight {
			record(i, ItemReport{Item: it, OK: true, Message: "preflight passed"})
			continue
		}
		req := bridge.EditRequest{CallOptions: execOpts, RecordID: it.RecordID}
		if it.Edit != nil {
			if it.Edit.RecordID != 0 {
				req.RecordID = it.Edit.RecordID
			}
			req.Fields = it.Edit.Fields
		}
		record(i, fromResponse(it, eng.EditEntry(req), apperr.CodeInternal, "edit failed"))
	}

	r.runMovePhase(eng, items, mode, effectiveDate, execOpts, dryOpts, done, record)
	r.runTakeoutPhase(eng, items, mode, effectiveDate, execOpts, dryOpts, done, record)

	okCount, blockedCount := 0, 0
	for _, rep := range reports {
		if rep.OK {
			okCount++
		}
		if rep.Blocked {
			blockedCount++
		}
	}
	remaining := make([]plan.Item, 0, len(items))
	for i, it := range items {
		if !applied[i] {
			remaining = append(remaining, it)
		}
	}

	var summary string
	switch {
	case blockedCount > 0:
		summary = fmt.Sprintf("Blocked: %d/%d items cannot execute.", blockedCount, len(reports))
	case okCount == len(reports):
		summary = fmt.Sprintf("All %d operation(s) succeeded.", okCount)
	default:
		summary = fmt.Sprintf("Completed: %d ok, %d blocked, %d remaining.", okCount, blockedCount, len(remaining))
	}

	return &Report{
		OK:      blockedCount == 0,
		Blocked: blockedCount > 0,
		Mode:    mode,
		Items:   reports,
		Stats: Stats{
			Total: len(reports), OK: okCount,
			Blocked: blockedCount, Remaining: len(remaining),
		},
		Summary:    summary,
		BackupPath: lastBackup,
		Remaining:  remaining,
	}
}

// attemptAtomicRollback restores the first backup recorded by a
// successful item of this run. Best effort: the outcome is reported,
// never retried.
func (r *Runner) attemptAtomicRollback(report *Report, actor store.ActorContext) *RollbackOutcome {
	firstBackup := ""
	for _, rep := range report.Items {
		if rep.OK && rep.Response != nil && rep.Response.BackupPath != "" {
			firstBackup = rep.Response.BackupPath
			break
		}
	}
	if firstBackup == "" {
		return &RollbackOutcome{Attempted: false, OK: false,
			Message: "no backup available to roll back to"}
	}

	snapshot, err := r.store.CreateBackup()
	if err != nil {
		return &RollbackOutcome{Attempted: false, OK: false,
			Message:    fmt.Sprintf("failed to snapshot before rollback: %v", err),
			BackupPath: firstBackup}
	}

	resp := r.eng.Rollback(bridge.RollbackRequest{
		CallOptions: bridge.CallOptions{
			Mode: string(gate.ModeExecute), Source: runnerSource,
			Actor: actor, RequestBackupPath: snapshot,
		},
		BackupPath: firstBackup,
	})
	if resp.OK {
		return &RollbackOutcome{Attempted: true, OK: true,
			Message: "execution rolled back", BackupPath: firstBackup}
	}
	return &RollbackOutcome{Attempted: true, OK: false,
		Message: resp.Message, BackupPath: firstBackup, ErrorCode: resp.ErrorCode}
}

func hasRollback(items []plan.Item) bool {
	for _, it := range items {
		if it.Action == plan.ActionRollback {
			return true
		}
	}
	return false
}

func blockedReport(it plan.Item, code apperr.Code, message string) ItemReport {
	return ItemReport{Item: it, Blocked: true, ErrorCode: code, Message: message}
}

func fromResponse(it plan.Item, resp bridge.Response, fallback apperr.Code, fallbackMsg string) ItemReport {
	if resp.OK {
		return ItemReport{Item: it, OK: true, Response: &resp, Message: resp.Message}
	}
	code := resp.ErrorCode
	if code == "" {
		code = fallback
	}
	msg := resp.Message
	if msg == "" {
		msg = fallbackMsg
	}
	return ItemReport{Item: it, Blocked: true, ErrorCode: code, Message: msg, Response: &resp}
}

func emptyReport(mode Mode) *Report {
	return &Report{
		OK: true, Mode: mode, Items: []ItemReport{},
		Summary: "No items to process.", Remaining: []plan.Item{},
	}
}

func blanketBlocked(items []plan.Item, mode Mode, code apperr.Code, message string) *Report {
	reports := make([]ItemReport, 0, len(items))
	for _, it := range items {
		reports = append(reports, blockedReport(it, code, message))
	}
	return &Report{
		OK: false, Blocked: true, Mode: mode, Items: reports,
		Stats: Stats{Total: len(items), Blocked: len(items), Remaining: len(items)},
		Summary: message,
		Remaining: append([]plan.Item(nil), items...),
	}
}
