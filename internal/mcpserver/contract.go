package mcpserver

// PlanFormatContract describes the canonical plan item format that
// LLM consumers should follow when building plans.
const PlanFormatContract = `# Cryovault Plan Format Contract

A plan is a JSON array of items. Every item MUST follow this structure.

## Structure

` + "```" + `json
{
  "action": "add",                    // REQUIRED - add | edit | move | takeout | rollback
  "box": 1,                           // box holding the source slot
  "position": 12,                     // source slot (1-based)
  "record_id": 42,                    // record being edited, moved, or taken out
  "payload": { ... }                  // action-specific fields, see below
}
` + "```" + `

## Payloads

- **add**: ` + "`" + `{"box": 1, "positions": [12, 13], "frozen_at": "2025-06-01", "fields": {"cell_line": "HeLa"}, "note": "..."}` + "`" + `.
  One record is created per position. ` + "`" + `frozen_at` + "`" + ` is required; ` + "`" + `fields` + "`" + ` must
  use keys declared in the document schema.
- **edit**: ` + "`" + `{"record_id": 42, "fields": {"note": "thawed once"}}` + "`" + `.
  Only non-structural fields may change; a null value deletes the key.
- **move**: ` + "`" + `{"record_id": 42, "position": 12, "to_position": 30, "to_box": 2, "date": "2025-06-01"}` + "`" + `.
  ` + "`" + `position` + "`" + ` must match the record's current slot. Omit ` + "`" + `to_box` + "`" + ` for a
  same-box move. Two same-box moves exchanging slots are executed as a swap.
- **takeout**: ` + "`" + `{"record_id": 42, "position": 12, "date": "2025-06-01", "note": "shipped"}` + "`" + `.
  The record keeps its history but leaves its slot.
- **rollback**: ` + "`" + `{"backup_path": ""}` + "`" + `.
  Empty path restores the newest backup. A rollback item must be the ONLY
  item in its plan.

## Rules

1. **Dates** are ISO-8601 (` + "`" + `YYYY-MM-DD` + "`" + `). Omitted dates default to today.
2. **Positions** are 1-based and must fit the box layout (rows x cols).
3. **Slot conflicts block the item**: adding onto an occupied slot, or two
   adds claiming the same slot in one plan, never partially apply.
4. **Execution is phased**: rollback, then add, edit, move, takeout. Items
   within a phase run in plan order.
5. **Preflight first.** ` + "`" + `preflight_plan` + "`" + ` runs the same validation against a
   throwaway copy of the store and reports per-item outcomes without
   changing anything.
6. **Partial failures roll back.** If execution applies some items and
   blocks others, the store is restored to its pre-plan snapshot and the
   report says so.

## Example

` + "```" + `json
[
  {"action": "add", "payload": {"box": 1, "positions": [14], "frozen_at": "2025-06-01",
   "fields": {"cell_line": "K562", "passage": "P4"}}},
  {"action": "move", "box": 1, "position": 3, "record_id": 17,
   "payload": {"record_id": 17, "position": 3, "to_position": 22}},
  {"action": "takeout", "box": 2, "position": 9, "record_id": 31,
   "payload": {"record_id": 31, "position": 9, "note": "sent to lab B"}}
]
` + "```" + `
`
