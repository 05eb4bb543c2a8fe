package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mlindqvist/cryovault/internal/apperr"
	"github.com/mlindqvist/cryovault/internal/gate"
	"github.com/mlindqvist/cryovault/internal/models"
	"github.com/mlindqvist/cryovault/internal/plan"
	"github.com/mlindqvist/cryovault/internal/store"
)

// Engine implements Bridge against a local YAML store.
type Engine struct {
	store *store.Store
	log   *slog.Logger
}

// NewEngine wraps a store as an execution backend.
func NewEngine(st *store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, log: logger}
}

// Store exposes the underlying store for read-only surfaces.
func (e *Engine) Store() *store.Store { return e.store }

// fail builds a failure Response and, for non-dry-run calls, records a
// failed audit event. Failed write attempts are audited so the trail
// covers rejections, not only applied writes.
func (e *Engine) fail(opts CallOptions, action, tool string, code apperr.Code, message string, errs []string) Response {
	if !opts.DryRun {
		meta := store.AuditMeta{Action: action, ToolName: tool, Actor: opts.Actor}
		if err := e.store.RecordFailure(meta, message); err != nil {
			e.log.Warn("failed to record audit failure", "action", action, "error", err)
		}
	}
	return Response{OK: false, DryRun: opts.DryRun, ErrorCode: code, Message: message, Errors: errs}
}

func (e *Engine) failFromErr(opts CallOptions, action, tool string, err error) Response {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return e.fail(opts, action, tool, ae.Code, ae.Message, nil)
	}
	return e.fail(opts, action, tool, apperr.CodeInternal, err.Error(), nil)
}

// admit runs the write gate; a nil second return means admitted.
func (e *Engine) admit(opts CallOptions, action, tool string, payload any) (*gate.Admitted, *Response) {
	adm, gateErr := gate.Admit(gate.Request{
		Action:     action,
		Source:     opts.Source,
		Mode:       opts.Mode,
		DryRun:     opts.DryRun,
		BackupPath: opts.RequestBackupPath,
		Payload:    payload,
	})
	if gateErr != nil {
		resp := e.fail(opts, action, tool, gateErr.Code, gateErr.Message, nil)
		return nil, &resp
	}
	return adm, nil
}

func (e *Engine) load(opts CallOptions, action, tool string) (*models.Document, *Response) {
	doc, err := e.store.Load()
	if err != nil {
		resp := e.failFromErr(opts, action, tool, err)
		return nil, &resp
	}
	return doc, nil
}

// allowedFieldKeys returns the field keys accepted for add/edit. When
// the store declares no fields, any key is accepted.
func allowedFieldKeys(meta models.Meta, extra ...string) map[string]struct{} {
	declared := meta.DeclaredFieldKeys()
	if len(declared) == 0 {
		return nil
	}
	for _, key := range extra {
		declared[key] = struct{}{}
	}
	return declared
}

func forbiddenKeys(fields map[string]any, allowed map[string]struct{}) []string {
	if allowed == nil {
		return nil
	}
	var bad []string
	for key := range fields {
		if _, ok := allowed[key]; !ok {
			bad = append(bad, key)
		}
	}
	sort.Strings(bad)
	return bad
}

// checkFieldOptions verifies option-restricted fields carry one of
// their declared values.
func checkFieldOptions(meta models.Meta, fields map[string]any) string {
	for key, raw := range fields {
		options := meta.FieldOptions(key)
		if len(options) == 0 {
			continue
		}
		value := strings.TrimSpace(fmt.Sprintf("%v", raw))
		if value == "" {
			continue
		}
		found := false
		for _, opt := range options {
			if value == opt {
				found = true
				break
			}
		}
		if !found {
			return fmt.Sprintf("%s must be one of the declared options: %s", key, strings.Join(options, ", "))
		}
	}
	return ""
}

func missingRequired(meta models.Meta, fields map[string]any) []string {
	var missing []string
	for _, key := range meta.RequiredFieldKeys() {
		raw, ok := fields[key]
		if !ok || raw == nil {
			missing = append(missing, key)
			continue
		}
		if s, isStr := raw.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// AddEntry creates one record per target position. Each add is
// all-or-nothing: a conflict on any position rejects the whole call.
func (e *Engine) AddEntry(req AddRequest) Response {
	const action, tool = "add_entry", "add_entry"

	payload := plan.AddPayload{
		Box: req.Box, Positions: req.Positions, FrozenAt: req.FrozenAt,
		Fields: req.Fields, Note: req.Note,
	}
	if _, failResp := e.admit(req.CallOptions, action, tool, payload); failResp != nil {
		return *failResp
	}

	doc, failResp := e.load(req.CallOptions, action, tool)
	if failResp != nil {
		return *failResp
	}

	layout := doc.Meta.BoxLayout
	posLo, posHi := layout.PositionRange()
	for _, pos := range req.Positions {
		if pos < posLo || pos > posHi {
			return e.fail(req.CallOptions, action, tool, apperr.CodeInvalidPosition,
				fmt.Sprintf("position %d must be within %d-%d", pos, posLo, posHi), nil)
		}
	}
	if !layout.HasBox(req.Box) {
		return e.fail(req.CallOptions, action, tool, apperr.CodeInvalidBox,
			fmt.Sprintf("box %d is not part of the layout", req.Box), nil)
	}

	var conflicts []string
	occupied := activeSlots(doc.Inventory)
	for _, pos := range req.Positions {
		if id, taken := occupied[[2]int{req.Box, pos}]; taken {
			conflicts = append(conflicts, fmt.Sprintf("box %d position %d occupied by record %d", req.Box, pos, id))
		}
	}
	if len(conflicts) > 0 {
		return e.fail(req.CallOptions, action, tool, apperr.CodePositionConflict,
			"position conflict", conflicts)
	}

	fields := make(map[string]any, len(req.Fields)+1)
	for k, v := range req.Fields {
		fields[k] = v
	}
	if note := strings.TrimSpace(req.Note); note != "" {
		fields["note"] = note
	}

	allowed := allowedFieldKeys(doc.Meta, "note")
	if bad := forbiddenKeys(fields, allowed); len(bad) > 0 {
		return e.fail(req.CallOptions, action, tool, apperr.CodeForbiddenFields,
			fmt.Sprintf("these fields are not allowed for add_entry: %s", strings.Join(bad, ", ")), nil)
	}
	if missing := missingRequired(doc.Meta, fields); len(missing) > 0 {
		return e.fail(req.CallOptions, action, tool, apperr.CodeMissingRequiredFields,
			fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")), nil)
	}
	if msg := checkFieldOptions(doc.Meta, fields); msg != "" {
		return e.fail(req.CallOptions, action, tool, apperr.CodeInvalidFieldOption, msg, nil)
	}

	// One record per position, ids assigned from the current maximum.
	nextID := doc.NextID()
	newIDs := make([]int, 0, len(req.Positions))
	created := make([]map[string]any, 0, len(req.Positions))
	newRecords := make([]models.Record, 0, len(req.Positions))
	for offset, pos := range req.Positions {
		id := nextID + offset
		rec := models.Record{
			ID: id, Box: req.Box, Position: models.Int(pos), FrozenAt: req.FrozenAt,
			Fields: cloneFields(fields),
		}
		newRecords = append(newRecords, rec)
		newIDs = append(newIDs, id)
		created = append(created, map[string]any{"id": id, "box": req.Box, "position": pos})
	}

	preview := map[string]any{
		"new_ids": newIDs, "count": len(created), "box": req.Box,
		"positions": req.Positions, "frozen_at": req.FrozenAt, "created": created,
	}
	if req.DryRun {
		return Response{OK: true, DryRun: true, Preview: preview,
			Result: map[string]any{"new_ids": newIDs, "count": len(created), "created": created}}
	}

	candidate := doc.Clone()
	candidate.Inventory = append(candidate.Inventory, newRecords...)
	res, err := e.store.Write(store.WriteRequest{
		Doc:        candidate,
		AutoBackup: req.AutoBackup,
		BackupPath: req.RequestBackupPath,
		Audit: store.AuditMeta{
			Action: action, ToolName: tool, Actor: req.Actor,
			Details: map[string]any{"new_ids": newIDs, "count": len(created), "box": req.Box, "positions": req.Positions},
		},
	})
	if err != nil {
		return e.failFromErr(req.CallOptions, action, tool, err)
	}

	return Response{
		OK: true, Preview: preview, BackupPath: res.BackupPath, Warnings: res.Warnings,
		Result: map[string]any{"new_ids": newIDs, "count": len(created), "created": created},
	}
}

// EditEntry updates the editable fields of one record. Structural
// fields other than frozen_at are not editable here; moves and
// takeouts have their own calls.
func (e *Engine) EditEntry(req EditRequest) Response {
	const action, tool = "edit_entry", "edit_entry"

	payload := plan.EditPayload{RecordID: req.RecordID, Fields: req.Fields}
	if _, failResp := e.admit(req.CallOptions, action, tool, payload); failResp != nil {
		return *failResp
	}

	doc, failResp := e.load(req.CallOptions, action, tool)
	if failResp != nil {
		return *failResp
	}

	allowed := allowedFieldKeys(doc.Meta, "frozen_at", "note")
	if bad := forbiddenKeys(req.Fields, allowed); len(bad) > 0 {
		return e.fail(req.CallOptions, action, tool, apperr.CodeForbiddenFields,
			fmt.Sprintf("these fields are not editable: %s", strings.Join(bad, ", ")), nil)
	}
	if msg := checkFieldOptions(doc.Meta, req.Fields); msg != "" {
		return e.fail(req.CallOptions, action, tool, apperr.CodeInvalidFieldOption, msg, nil)
	}

	idx, rec := doc.FindRecord(req.RecordID)
	if rec == nil {
		return e.fail(req.CallOptions, action, tool, apperr.CodeRecordNotFound,
			fmt.Sprintf("record %d not found", req.RecordID), nil)
	}

	candidate := doc.Clone()
	target := &candidate.Inventory[idx]
	changed := make([]string, 0, len(req.Fields))
	for key, value := range req.Fields {
		changed = append(changed, key)
		if key == "frozen_at" {
			target.FrozenAt = fmt.Sprintf("%v", value)
			continue
		}
		if target.Fields == nil {
			target.Fields = make(map[string]any)
		}
		if value == nil {
			delete(target.Fields, key)
		} else {
			target.Fields[key] = value
		}
	}
	sort.Strings(changed)

	preview := map[string]any{"record_id": req.RecordID, "changed_fields": changed}
	if req.DryRun {
		return Response{OK: true, DryRun: true, Preview: preview, Result: preview}
	}

	res, err := e.store.Write(store.WriteRequest{
		Doc:        candidate,
		AutoBackup: req.AutoBackup,
		BackupPath: req.RequestBackupPath,
		Audit: store.AuditMeta{
			Action: action, ToolName: tool, Actor: req.Actor,
			Details: map[string]any{"record_id": req.RecordID, "changed_fields": changed},
		},
	})
	if err != nil {
		return e.failFromErr(req.CallOptions, action, tool, err)
	}

	return Response{OK: true, Preview: preview, Result: preview,
		BackupPath: res.BackupPath, Warnings: res.Warnings}
}

// activeSlots maps occupied (box, position) pairs to record ids.
func activeSlots(records []models.Record) map[[2]int]int {
	out := make(map[[2]int]int, len(records))
	for _, rec := range records {
		if rec.Position != nil {
			out[[2]int{rec.Box, *rec.Position}] = rec.ID
		}
	}
	return out
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
