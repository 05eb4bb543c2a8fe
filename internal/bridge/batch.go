package bridge

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mlindqvist/cryovault/internal/apperr"
	"github.com/mlindqvist/cryovault/internal/models"
	"github.com/mlindqvist/cryovault/internal/plan"
	"github.com/mlindqvist/cryovault/internal/store"
	"github.com/mlindqvist/cryovault/internal/validate"
)

// BatchMove relocates a set of records in one write. Moves are
// simulated against a shared view of the grid so that later entries
// see the slots earlier entries freed, and a same-box move onto an
// occupied slot swaps the two records.
func (e *Engine) BatchMove(req BatchMoveRequest) Response {
	const action, tool = "move", "batch_move"

	date := strings.TrimSpace(req.Date)
	if date == "" {
		date = time.Now().Format(validate.DateLayout)
	}
	payload := plan.MovePayload{Date: date, Note: req.Note}
	if len(req.Entries) > 0 {
		first := req.Entries[0]
		payload.RecordID = first.RecordID
		payload.Position = first.FromPosition
		payload.ToPosition = first.ToPosition
		payload.ToBox = first.ToBox
	}
	if _, failResp := e.admit(req.CallOptions, action, tool, payload); failResp != nil {
		return *failResp
	}
	if len(req.Entries) == 0 {
		return e.fail(req.CallOptions, action, tool, apperr.CodeValidationFailed,
			"batch_move requires at least one entry", nil)
	}

	doc, failResp := e.load(req.CallOptions, action, tool)
	if failResp != nil {
		return *failResp
	}

	candidate := doc.Clone()
	posLo, posHi := candidate.Meta.BoxLayout.PositionRange()

	// Simulated occupancy. positionOwner tracks who sits where as the
	// batch progresses; simulated* track where each moved record ends up.
	positionOwner := make(map[[2]int]int)
	recordIndex := make(map[int]int, len(candidate.Inventory))
	for i, rec := range candidate.Inventory {
		recordIndex[rec.ID] = i
		if rec.Position != nil {
			positionOwner[[2]int{rec.Box, *rec.Position}] = rec.ID
		}
	}

	var errs []string
	type applied struct {
		recordID, fromPos, toPos int
		fromBox, toBox           int
		swappedWith              int // 0 when no displacement happened
	}
	var moves []applied

	for n, entry := range req.Entries {
		label := fmt.Sprintf("entry %d (record %d)", n+1, entry.RecordID)

		idx, ok := recordIndex[entry.RecordID]
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: record not found", label))
			continue
		}
		rec := &candidate.Inventory[idx]
		if rec.Position == nil {
			errs = append(errs, fmt.Sprintf("%s: record has no current position", label))
			continue
		}
		fromPos := *rec.Position
		if entry.FromPosition != 0 && entry.FromPosition != fromPos {
			errs = append(errs, fmt.Sprintf("%s: expected position %d but record is at %d",
				label, entry.FromPosition, fromPos))
			continue
		}
		toPos := entry.ToPosition
		if toPos < posLo || toPos > posHi {
			errs = append(errs, fmt.Sprintf("%s: target position %d out of range %d-%d",
				label, toPos, posLo, posHi))
			continue
		}
		fromBox := rec.Box
		toBox := fromBox
		if entry.ToBox != nil {
			toBox = *entry.ToBox
		}
		if !candidate.Meta.BoxLayout.HasBox(toBox) {
			errs = append(errs, fmt.Sprintf("%s: box %d is not part of the layout", label, toBox))
			continue
		}
		if toBox == fromBox && toPos == fromPos {
			errs = append(errs, fmt.Sprintf("%s: target slot equals current slot", label))
			continue
		}

		targetKey := [2]int{toBox, toPos}
		occupantID, occupied := positionOwner[targetKey]
		swappedWith := 0
		if occupied && occupantID != entry.RecordID {
			if toBox != fromBox {
				errs = append(errs, fmt.Sprintf("%s: target box %d position %d occupied by record %d",
					label, toBox, toPos, occupantID))
				continue
			}
			// Same-box move onto an occupied slot displaces the
			// occupant back into the freed slot.
			swappedWith = occupantID
		}

		sourceKey := [2]int{fromBox, fromPos}
		delete(positionOwner, sourceKey)
		if swappedWith != 0 {
			occIdx := recordIndex[swappedWith]
			occ := &candidate.Inventory[occIdx]
			occ.Position = models.Int(fromPos)
			positionOwner[sourceKey] = swappedWith
			occ.History = append(occ.History, moveEvent(date, toPos, fromPos, toBox, fromBox, entry.RecordID, req.Note))
		}
		rec.Box = toBox
		rec.Position = models.Int(toPos)
		positionOwner[targetKey] = entry.RecordID
		rec.History = append(rec.History, moveEvent(date, fromPos, toPos, fromBox, toBox, swappedWith, req.Note))

		moves = append(moves, applied{
			recordID: entry.RecordID, fromPos: fromPos, toPos: toPos,
			fromBox: fromBox, toBox: toBox, swappedWith: swappedWith,
		})
	}

	if len(errs) > 0 {
		return e.fail(req.CallOptions, action, tool, apperr.CodeValidationFailed,
			fmt.Sprintf("batch_move validation failed for %d entries", len(errs)), errs)
	}

	recordIDs := make([]int, 0, len(moves))
	affected := make(map[int]struct{}, len(moves))
	movedList := make([]map[string]any, 0, len(moves))
	for _, m := range moves {
		recordIDs = append(recordIDs, m.recordID)
		affected[m.recordID] = struct{}{}
		entry := map[string]any{
			"record_id": m.recordID,
			"from_box":  m.fromBox, "from_position": m.fromPos,
			"to_box": m.toBox, "to_position": m.toPos,
		}
		if m.swappedWith != 0 {
			entry["swapped_with"] = m.swappedWith
			affected[m.swappedWith] = struct{}{}
		}
		movedList = append(movedList, entry)
	}
	affectedIDs := sortedKeys(affected)

	result := map[string]any{
		"count": len(moves), "record_ids": recordIDs,
		"affected_record_ids": affectedIDs, "moved": movedList, "date": date,
	}
	if req.DryRun {
		return Response{OK: true, DryRun: true, Preview: result, Result: result}
	}

	res, err := e.store.Write(store.WriteRequest{
		Doc:        candidate,
		AutoBackup: req.AutoBackup,
		BackupPath: req.RequestBackupPath,
		Audit: store.AuditMeta{
			Action: action, ToolName: tool, Actor: req.Actor,
			Details: map[string]any{"count": len(moves), "record_ids": recordIDs, "affected_record_ids": affectedIDs, "date": date},
		},
	})
	if err != nil {
		return e.failFromErr(req.CallOptions, action, tool, err)
	}

	return Response{OK: true, Preview: result, Result: result,
		BackupPath: res.BackupPath, Warnings: res.Warnings}
}

// BatchTakeout retires a set of records in one write: position cleared,
// takeout event appended, record kept for its history.
func (e *Engine) BatchTakeout(req BatchTakeoutRequest) Response {
	const action, tool = "takeout", "batch_takeout"

	date := strings.TrimSpace(req.Date)
	if date == "" {
		date = time.Now().Format(validate.DateLayout)
	}
	payload := plan.TakeoutPayload{Date: date, Note: req.Note}
	if len(req.Entries) > 0 {
		payload.RecordID = req.Entries[0].RecordID
		payload.Position = req.Entries[0].Position
	}
	if _, failResp := e.admit(req.CallOptions, action, tool, payload); failResp != nil {
		return *failResp
	}
	if len(req.Entries) == 0 {
		return e.fail(req.CallOptions, action, tool, apperr.CodeValidationFailed,
			"batch_takeout requires at least one entry", nil)
	}

	doc, failResp := e.load(req.CallOptions, action, tool)
	if failResp != nil {
		return *failResp
	}

	candidate := doc.Clone()
	recordIndex := make(map[int]int, len(candidate.Inventory))
	for i, rec := range candidate.Inventory {
		recordIndex[rec.ID] = i
	}

	var errs []string
	seen := make(map[int]struct{}, len(req.Entries))
	type taken struct{ recordID, box, position int }
	var takeouts []taken

	for n, entry := range req.Entries {
		label := fmt.Sprintf("entry %d (record %d)", n+1, entry.RecordID)

		if _, dup := seen[entry.RecordID]; dup {
			errs = append(errs, fmt.Sprintf("%s: duplicate record in batch", label))
			continue
		}
		seen[entry.RecordID] = struct{}{}

		idx, ok := recordIndex[entry.RecordID]
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: record not found", label))
			continue
		}
		rec := &candidate.Inventory[idx]
		if rec.Position == nil {
			errs = append(errs, fmt.Sprintf("%s: record already taken out", label))
			continue
		}
		pos := *rec.Position
		if entry.Position != 0 && entry.Position != pos {
			errs = append(errs, fmt.Sprintf("%s: expected position %d but record is at %d",
				label, entry.Position, pos))
			continue
		}

		event := models.HistoryEvent{
			Date: date, Action: models.EventTakeout, Positions: []int{pos},
		}
		if note := strings.TrimSpace(req.Note); note != "" {
			event.Note = note
		}
		rec.History = append(rec.History, event)
		rec.Position = nil

		takeouts = append(takeouts, taken{recordID: entry.RecordID, box: rec.Box, position: pos})
	}

	if len(errs) > 0 {
		return e.fail(req.CallOptions, action, tool, apperr.CodeValidationFailed,
			fmt.Sprintf("batch_takeout validation failed for %d entries", len(errs)), errs)
	}

	recordIDs := make([]int, 0, len(takeouts))
	takenList := make([]map[string]any, 0, len(takeouts))
	for _, t := range takeouts {
		recordIDs = append(recordIDs, t.recordID)
		takenList = append(takenList, map[string]any{
			"record_id": t.recordID, "box": t.box, "position": t.position,
		})
	}

	result := map[string]any{
		"count": len(takeouts), "record_ids": recordIDs,
		"affected_record_ids": recordIDs, "taken_out": takenList, "date": date,
	}
	if req.DryRun {
		return Response{OK: true, DryRun: true, Preview: result, Result: result}
	}

	res, err := e.store.Write(store.WriteRequest{
		Doc:        candidate,
		AutoBackup: req.AutoBackup,
		BackupPath: req.RequestBackupPath,
		Audit: store.AuditMeta{
			Action: action, ToolName: tool, Actor: req.Actor,
			Details: map[string]any{"count": len(takeouts), "record_ids": recordIDs, "date": date},
		},
	})
	if err != nil {
		return e.failFromErr(req.CallOptions, action, tool, err)
	}

	return Response{OK: true, Preview: result, Result: result,
		BackupPath: res.BackupPath, Warnings: res.Warnings}
}

func moveEvent(date string, fromPos, toPos, fromBox, toBox, pairedWith int, note string) models.HistoryEvent {
	ev := models.HistoryEvent{
		Date: date, Action: models.EventMove,
		Positions:    []int{fromPos},
		FromPosition: models.Int(fromPos), ToPosition: models.Int(toPos),
	}
	if fromBox != toBox {
		ev.FromBox = models.Int(fromBox)
		ev.ToBox = models.Int(toBox)
	}
	if pairedWith != 0 {
		ev.PairedRecordID = models.Int(pairedWith)
	}
	if n := strings.TrimSpace(note); n != "" {
		ev.Note = n
	}
	return ev
}

func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
