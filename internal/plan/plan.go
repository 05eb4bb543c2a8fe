// Package plan models one batch of proposed inventory mutations: a
// tagged union of plan items, shape-level item validation, and the
// in-batch claim set used for cross-item conflict detection.
package plan

import (
	"encoding/json"
	"fmt"
)

// Action is one of the recognized plan verbs.
type Action string

const (
	ActionAdd      Action = "add"
	ActionEdit     Action = "edit"
	ActionMove     Action = "move"
	ActionTakeout  Action = "takeout"
	ActionRollback Action = "rollback"
)

// Valid reports whether a is a recognized action.
func (a Action) Valid() bool {
	switch a {
	case ActionAdd, ActionEdit, ActionMove, ActionTakeout, ActionRollback:
		return true
	}
	return false
}

// AddPayload creates one record per target position.
type AddPayload struct {
	Box       int            `json:"box,omitempty"`
	Positions []int          `json:"positions"`
	FrozenAt  string         `json:"frozen_at"`
	Fields    map[string]any `json:"fields,omitempty"`
	Note      string         `json:"note,omitempty"`
}

// EditPayload updates user-editable fields of one record.
type EditPayload struct {
	RecordID int            `json:"record_id"`
	Fields   map[string]any `json:"fields"`
}

// MovePayload relocates one record, optionally across boxes.
type MovePayload struct {
	RecordID   int    `json:"record_id"`
	Position   int    `json:"position"`
	ToPosition int    `json:"to_position"`
	ToBox      *int   `json:"to_box,omitempty"`
	Date       string `json:"date,omitempty"`
	Note       string `json:"note,omitempty"`
}

// TakeoutPayload removes one record from its slot.
type TakeoutPayload struct {
	RecordID int    `json:"record_id"`
	Position int    `json:"position"`
	Date     string `json:"date,omitempty"`
	Note     string `json:"note,omitempty"`
}

// RollbackPayload restores the store from a backup.
type RollbackPayload struct {
	BackupPath string `json:"backup_path"`
}

// Item is one proposed mutation. Exactly one payload variant is set,
// matching Action; the flat fields mirror the wire shape produced by
// plan-building callers.
type Item struct {
	Action     Action
	Box        int
	Position   int
	ToPosition *int
	ToBox      *int
	RecordID   int

	Add      *AddPayload
	Edit     *EditPayload
	Move     *MovePayload
	Takeout  *TakeoutPayload
	Rollback *RollbackPayload
}

type itemWire struct {
	Action     Action          `json:"action"`
	Box        int             `json:"box,omitempty"`
	Position   int             `json:"position,omitempty"`
	ToPosition *int            `json:"to_position,omitempty"`
	ToBox      *int            `json:"to_box,omitempty"`
	RecordID   int             `json:"record_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// UnmarshalJSON decodes the wire shape and dispatches the payload to
// the variant matching the action. Unknown actions are rejected here
// rather than at execution time.
func (it *Item) UnmarshalJSON(data []byte) error {
	var wire itemWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if !wire.Action.Valid() {
		return fmt.Errorf("plan: unknown action %q", wire.Action)
	}

	*it = Item{
		Action:     wire.Action,
		Box:        wire.Box,
		Position:   wire.Position,
		ToPosition: wire.ToPosition,
		ToBox:      wire.ToBox,
		RecordID:   wire.RecordID,
	}

	payload := wire.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	switch wire.Action {
	case ActionAdd:
		it.Add = &AddPayload{}
		return json.Unmarshal(payload, it.Add)
	case ActionEdit:
		it.Edit = &EditPayload{}
		return json.Unmarshal(payload, it.Edit)
	case ActionMove:
		it.Move = &MovePayload{}
		return json.Unmarshal(payload, it.Move)
	case ActionTakeout:
		it.Takeout = &TakeoutPayload{}
		return json.Unmarshal(payload, it.Takeout)
	case ActionRollback:
		it.Rollback = &RollbackPayload{}
		return json.Unmarshal(payload, it.Rollback)
	}
	return nil
}

// MarshalJSON writes the wire shape back out.
func (it Item) MarshalJSON() ([]byte, error) {
	wire := itemWire{
		Action:     it.Action,
		Box:        it.Box,
		Position:   it.Position,
		ToPosition: it.ToPosition,
		ToBox:      it.ToBox,
		RecordID:   it.RecordID,
	}
	var payload any
	switch {
	case it.Add != nil:
		payload = it.Add
	case it.Edit != nil:
		payload = it.Edit
	case it.Move != nil:
		payload = it.Move
	case it.Takeout != nil:
		payload = it.Takeout
	case it.Rollback != nil:
		payload = it.Rollback
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		wire.Payload = data
	}
	return json.Marshal(wire)
}

// AddBox resolves the target box of an add item, preferring the
// payload over the flat field.
func (it Item) AddBox() int {
	if it.Add != nil && it.Add.Box != 0 {
		return it.Add.Box
	}
	return it.Box
}

// AddPositions returns the target positions of an add item.
func (it Item) AddPositions() []int {
	if it.Add == nil {
		return nil
	}
	return it.Add.Positions
}
