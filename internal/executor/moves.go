package executor

import (
	"fmt"

	"github.com/mlindqvist/cryovault/internal/apperr"
	"github.com/mlindqvist/cryovault/internal/bridge"
	"github.com/mlindqvist/cryovault/internal/models"
	"github.com/mlindqvist/cryovault/internal/plan"
)

// moveOp is a normalized move item with payload fallbacks resolved.
type moveOp struct {
	index    int
	recordID int
	fromBox  int
	fromPos  int
	toBox    int
	toPos    int
}

type moveIssue struct {
	code    apperr.Code
	message string
}

func resolveMoveOp(index int, it plan.Item) moveOp {
	op := moveOp{
		index:    index,
		recordID: it.RecordID,
		fromBox:  it.Box,
		fromPos:  it.Position,
	}
	if it.ToPosition != nil {
		op.toPos = *it.ToPosition
	}
	op.toBox = op.fromBox
	if it.ToBox != nil {
		op.toBox = *it.ToBox
	}
	if p := it.Move; p != nil {
		if p.RecordID != 0 {
			op.recordID = p.RecordID
		}
		if p.Position != 0 {
			op.fromPos = p.Position
		}
		if p.ToPosition != 0 {
			op.toPos = p.ToPosition
		}
		if p.ToBox != nil {
			op.toBox = *p.ToBox
		}
	}
	return op
}

// validateMoveBatch checks a batch of moves against the current grid
// as a whole. A move may target an occupied slot only when the
// occupant is itself moving away in the same batch, with swap pairs
// (A to B's slot, B to A's slot) recognized explicitly.
func validateMoveBatch(ops []moveOp, records []models.Record) map[int]moveIssue {
	issues := make(map[int]moveIssue)

	destCounts := make(map[[2]int]int, len(ops))
	moveGraph := make(map[[2]int]moveOp, len(ops))
	for _, op := range ops {
		if op.toPos != 0 {
			destCounts[[2]int{op.toBox, op.toPos}]++
		}
		moveGraph[[2]int{op.fromBox, op.fromPos}] = op
	}

	posMap := make(map[[2]int]*models.Record, len(records))
	for i := range records {
		rec := &records[i]
		if rec.Position != nil {
			posMap[[2]int{rec.Box, *rec.Position}] = rec
		}
	}

	claimed := make(map[[2]int]int, len(ops))

	for _, op := range ops {
		src := [2]int{op.fromBox, op.fromPos}
		rec := posMap[src]
		if rec == nil {
			issues[op.index] = moveIssue{apperr.CodeSourceEmpty,
				fmt.Sprintf("no record at source box %d position %d", op.fromBox, op.fromPos)}
			continue
		}
		if rec.ID != op.recordID {
			issues[op.index] = moveIssue{apperr.CodeSourceMismatch,
				fmt.Sprintf("record id mismatch at box %d position %d: expected %d, found %d",
					op.fromBox, op.fromPos, op.recordID, rec.ID)}
			continue
		}

		dst := [2]int{op.toBox, op.toPos}
		if destCounts[dst] > 1 {
			issues[op.index] = moveIssue{apperr.CodeTargetConflictInBatch,
				fmt.Sprintf("multiple moves in batch target box %d position %d", op.toBox, op.toPos)}
			continue
		}

		if existing := posMap[dst]; existing != nil {
			_, isClaimed := claimed[dst]

			validSwap := false
			for _, other := range ops {
				if other.recordID == existing.ID && other.toBox == op.fromBox && other.toPos == op.fromPos {
					validSwap = true
					break
				}
			}

			if isClaimed && !validSwap {
				issues[op.index] = moveIssue{apperr.CodeTargetOccupiedByBatchMove,
					fmt.Sprintf("box %d position %d is already claimed by another move in this batch", op.toBox, op.toPos)}
				continue
			}
			if !isClaimed && !validSwap {
				if _, movingAway := moveGraph[dst]; !movingAway {
					issues[op.index] = moveIssue{apperr.CodeTargetOccupied,
						fmt.Sprintf("box %d position %d is occupied by record %d and not part of a swap",
							op.toBox, op.toPos, existing.ID)}
					continue
				}
			}
		}

		claimed[dst] = op.recordID
	}

	return issues
}

func (r *Runner) runMovePhase(
	eng *bridge.Engine,
	items []plan.Item,
	mode Mode,
	date string,
	execOpts, dryOpts bridge.CallOptions,
	done map[int]bool,
	record func(int, ItemReport),
) {
	var ops []moveOp
	for i, it := range items {
		if done[i] || it.Action != plan.ActionMove {
			continue
		}
		ops = append(ops, resolveMoveOp(i, it))
	}
	if len(ops) == 0 {
		return
	}

	var records []models.Record
	if doc, err := eng.Store().Load(); err == nil {
		records = doc.Inventory
	}

	var issues map[int]moveIssue
	if len(records) > 0 {
		issues = validateMoveBatch(ops, records)
	}

	valid := ops[:0:0]
	for _, op := range ops {
		if issue, bad := issues[op.index]; bad {
			record(op.index, blockedReport(items[op.index], issue.code, issue.message))
			continue
		}
		valid = append(valid, op)
	}
	if len(valid) == 0 {
		return
	}

	entries := make([]bridge.MoveEntry, 0, len(valid))
	for _, op := range valid {
		entry := bridge.MoveEntry{
			RecordID: op.recordID, FromPosition: op.fromPos, ToPosition: op.toPos,
		}
		if op.toBox != op.fromBox {
			entry.ToBox = models.Int(op.toBox)
		}
		entries = append(entries, entry)
	}

	req := bridge.BatchMoveRequest{Entries: entries, Date: date}
	if first := items[valid[0].index].Move; first != nil {
		if first.Date != "" {
			req.Date = first.Date
		}
		req.Note = first.Note
	}
	if mode == ModePreflight {
		req.CallOptions = dryOpts
	} else {
		req.CallOptions = execOpts
	}

	resp := eng.BatchMove(req)
	for _, op := range valid {
		record(op.index, fromResponse(items[op.index], resp, apperr.CodeInternal, "move batch failed"))
	}
}

func (r *Runner) runTakeoutPhase(
	eng *bridge.Engine,
	items []plan.Item,
	mode Mode,
	date string,
	execOpts, dryOpts bridge.CallOptions,
	done map[int]bool,
	record func(int, ItemReport),
) {
	var indices []int
	for i, it := range items {
		if done[i] || it.Action != plan.ActionTakeout {
			continue
		}
		indices = append(indices, i)
	}
	if len(indices) == 0 {
		return
	}

	// Preflight validates each item on its own so every bad entry gets
	// a precise message instead of one batch-level failure.
	if mode == ModePreflight {
		for _, i := range indices {
			req := bridge.BatchTakeoutRequest{
				CallOptions: dryOpts,
				Entries:     []bridge.TakeoutEntry{takeoutEntryFor(items[i])},
				Date:        date,
			}
			if p := items[i].Takeout; p != nil {
				if p.Date != "" {
					req.Date = p.Date
				}
				req.Note = p.Note
			}
			record(i, fromResponse(items[i], eng.BatchTakeout(req), apperr.CodeInternal, "takeout failed"))
		}
		return
	}

	entries := make([]bridge.TakeoutEntry, 0, len(indices))
	for _, i := range indices {
		entries = append(entries, takeoutEntryFor(items[i]))
	}
	req := bridge.BatchTakeoutRequest{CallOptions: execOpts, Entries: entries, Date: date}
	if first := items[indices[0]].Takeout; first != nil {
		if first.Date != "" {
			req.Date = first.Date
		}
		req.Note = first.Note
	}

	resp := eng.BatchTakeout(req)
	for _, i := range indices {
		record(i, fromResponse(items[i], resp, apperr.CodeInternal, "takeout batch failed"))
	}
}

func takeoutEntryFor(it plan.Item) bridge.TakeoutEntry {
	entry := bridge.TakeoutEntry{RecordID: it.RecordID, Position: it.Position}
	if p := it.Takeout; p != nil {
		if p.RecordID != 0 {
			entry.RecordID = p.RecordID
		}
		if p.Position != 0 {
			entry.Position = p.Position
		}
	}
	return entry
}
