// Package models defines the domain types for Cryovault.
package models

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Default grid shape used when a document carries no explicit layout.
const (
	DefaultRows = 9
	DefaultCols = 9
)

// Document is the full YAML store: layout metadata plus the ordered
// inventory list. No other top-level keys are permitted.
type Document struct {
	Meta      Meta     `yaml:"meta" json:"meta"`
	Inventory []Record `yaml:"inventory" json:"inventory"`
}

// Clone returns a deep copy of the document. The executor and bridge
// mutate candidate clones, never the loaded document itself.
func (d *Document) Clone() *Document {
	out := &Document{Meta: d.Meta.Clone()}
	if d.Inventory != nil {
		out.Inventory = make([]Record, len(d.Inventory))
		for i := range d.Inventory {
			out.Inventory[i] = d.Inventory[i].Clone()
		}
	}
	return out
}

// FindRecord returns the index and record with the given id, or (-1, nil).
func (d *Document) FindRecord(id int) (int, *Record) {
	for i := range d.Inventory {
		if d.Inventory[i].ID == id {
			return i, &d.Inventory[i]
		}
	}
	return -1, nil
}

// NextID returns max(id)+1 across the inventory, starting at 1.
func (d *Document) NextID() int {
	next := 1
	for i := range d.Inventory {
		if d.Inventory[i].ID >= next {
			next = d.Inventory[i].ID + 1
		}
	}
	return next
}

// Meta holds the box layout and user-defined field declarations.
type Meta struct {
	BoxLayout BoxLayout  `yaml:"box_layout" json:"box_layout"`
	Fields    []FieldDef `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Clone returns a deep copy of the metadata.
func (m Meta) Clone() Meta {
	out := m
	out.BoxLayout = m.BoxLayout.Clone()
	if m.Fields != nil {
		out.Fields = append([]FieldDef(nil), m.Fields...)
	}
	return out
}

// RequiredFieldKeys returns the keys of fields declared required, sorted.
func (m Meta) RequiredFieldKeys() []string {
	var keys []string
	for _, f := range m.Fields {
		if f.Required && f.Key != "" {
			keys = append(keys, f.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

// FieldOptions returns the allowed values of an option-restricted
// field, or nil when the field is free-form or undeclared.
func (m Meta) FieldOptions(key string) []string {
	for _, f := range m.Fields {
		if f.Key == key {
			return f.Options
		}
	}
	return nil
}

// DeclaredFieldKeys returns the set of user-declared field keys.
func (m Meta) DeclaredFieldKeys() map[string]struct{} {
	keys := make(map[string]struct{}, len(m.Fields))
	for _, f := range m.Fields {
		if f.Key != "" {
			keys[f.Key] = struct{}{}
		}
	}
	return keys
}

// FieldDef declares one user-defined record field. A non-empty Options
// list restricts the field to those values.
type FieldDef struct {
	Key      string   `yaml:"key" json:"key"`
	Label    string   `yaml:"label,omitempty" json:"label,omitempty"`
	Required bool     `yaml:"required,omitempty" json:"required,omitempty"`
	Options  []string `yaml:"options,flow,omitempty" json:"options,omitempty"`
}

// BoxLayout describes the physical grid: rows x cols slots per box and
// the set of box numbers in the tank. Tags carry optional box labels.
type BoxLayout struct {
	Rows  int            `yaml:"rows" json:"rows"`
	Cols  int            `yaml:"cols" json:"cols"`
	Boxes []int          `yaml:"boxes,flow" json:"boxes"`
	Tags  map[int]string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Clone returns a deep copy of the layout.
func (l BoxLayout) Clone() BoxLayout {
	out := l
	if l.Boxes != nil {
		out.Boxes = append([]int(nil), l.Boxes...)
	}
	if l.Tags != nil {
		out.Tags = make(map[int]string, len(l.Tags))
		for k, v := range l.Tags {
			out.Tags[k] = v
		}
	}
	return out
}

// PositionRange returns the inclusive range of valid positions per box.
func (l BoxLayout) PositionRange() (int, int) {
	rows, cols := l.Rows, l.Cols
	if rows <= 0 {
		rows = DefaultRows
	}
	if cols <= 0 {
		cols = DefaultCols
	}
	return 1, rows * cols
}

// TotalSlots returns the number of slots in one box.
func (l BoxLayout) TotalSlots() int {
	_, hi := l.PositionRange()
	return hi
}

// BoxNumbers returns the configured box numbers, defaulting to box 1.
func (l BoxLayout) BoxNumbers() []int {
	if len(l.Boxes) == 0 {
		return []int{1}
	}
	return l.Boxes
}

// HasBox reports whether n is part of the layout.
func (l BoxLayout) HasBox(n int) bool {
	for _, b := range l.BoxNumbers() {
		if b == n {
			return true
		}
	}
	return false
}

// History event actions.
const (
	EventTakeout = "takeout"
	EventMove    = "move"
)

// HistoryEvent is one append-only takeout/move event on a record.
type HistoryEvent struct {
	Date           string `yaml:"date" json:"date"`
	Action         string `yaml:"action" json:"action"`
	Positions      []int  `yaml:"positions,flow,omitempty" json:"positions,omitempty"`
	FromPosition   *int   `yaml:"from_position,omitempty" json:"from_position,omitempty"`
	ToPosition     *int   `yaml:"to_position,omitempty" json:"to_position,omitempty"`
	FromBox        *int   `yaml:"from_box,omitempty" json:"from_box,omitempty"`
	ToBox          *int   `yaml:"to_box,omitempty" json:"to_box,omitempty"`
	PairedRecordID *int   `yaml:"paired_record_id,omitempty" json:"paired_record_id,omitempty"`
	Note           string `yaml:"note,omitempty" json:"note,omitempty"`
}

// Record is one physical tube. ID is globally unique and immutable once
// assigned; a nil Position means the tube is no longer stored. Records
// are never deleted: takeout clears Position and appends history.
type Record struct {
	ID       int            `json:"id"`
	Box      int            `json:"box"`
	Position *int           `json:"position,omitempty"`
	FrozenAt string         `json:"frozen_at"`
	Fields   map[string]any `json:"fields,omitempty"`
	History  []HistoryEvent `json:"history,omitempty"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	if r.Position != nil {
		p := *r.Position
		out.Position = &p
	}
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	if r.History != nil {
		out.History = make([]HistoryEvent, len(r.History))
		for i, ev := range r.History {
			if ev.Positions != nil {
				ev.Positions = append([]int(nil), ev.Positions...)
			}
			out.History[i] = ev
		}
	}
	return out
}

// Active reports whether the record currently occupies a slot.
func (r Record) Active() bool {
	return r.Position != nil
}

// HasTakeoutHistory reports whether any history event is a takeout.
// A record with a nil position is expected to carry one.
func (r Record) HasTakeoutHistory() bool {
	for _, ev := range r.History {
		if ev.Action == EventTakeout {
			return true
		}
	}
	return false
}

// structural record keys; everything else round-trips through Fields.
var recordStructuralKeys = map[string]struct{}{
	"id": {}, "box": {}, "position": {}, "frozen_at": {}, "history": {},
}

// UnmarshalYAML decodes the structural keys into their typed fields and
// preserves every remaining scalar in Fields.
func (r *Record) UnmarshalYAML(value *yaml.Node) error {
	var aux struct {
		ID       int            `yaml:"id"`
		Box      int            `yaml:"box"`
		Position *int           `yaml:"position"`
		FrozenAt string         `yaml:"frozen_at"`
		History  []HistoryEvent `yaml:"history"`
	}
	if err := value.Decode(&aux); err != nil {
		return fmt.Errorf("models: decode record: %w", err)
	}
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("models: decode record fields: %w", err)
	}

	r.ID = aux.ID
	r.Box = aux.Box
	r.Position = aux.Position
	r.FrozenAt = aux.FrozenAt
	r.History = aux.History
	r.Fields = nil
	for k, v := range raw {
		if _, structural := recordStructuralKeys[k]; structural {
			continue
		}
		if r.Fields == nil {
			r.Fields = make(map[string]any)
		}
		r.Fields[k] = v
	}
	return nil
}

// MarshalYAML emits the record as a flat mapping with a stable key
// order: structural keys first, user fields sorted, history last.
func (r Record) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	put := func(key string, v any) error {
		kn := &yaml.Node{}
		kn.SetString(key)
		vn := &yaml.Node{}
		if err := vn.Encode(v); err != nil {
			return fmt.Errorf("models: encode record %q: %w", key, err)
		}
		node.Content = append(node.Content, kn, vn)
		return nil
	}

	if err := put("id", r.ID); err != nil {
		return nil, err
	}
	if err := put("box", r.Box); err != nil {
		return nil, err
	}
	if r.Position != nil {
		if err := put("position", *r.Position); err != nil {
			return nil, err
		}
	} else {
		if err := put("position", nil); err != nil {
			return nil, err
		}
	}
	if err := put("frozen_at", r.FrozenAt); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := put(k, r.Fields[k]); err != nil {
			return nil, err
		}
	}

	if len(r.History) > 0 {
		if err := put("history", r.History); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// Int returns a pointer to v, for optional position/box fields.
func Int(v int) *int {
	return &v
}
