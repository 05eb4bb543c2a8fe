// Package validate checks global invariants on a candidate inventory
// document. It is pure: no I/O, no mutation. Any non-empty violation
// list blocks the write entirely.
package validate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mlindqvist/cryovault/internal/models"
)

// DateLayout is the canonical date format for frozen_at and history dates.
const DateLayout = "2006-01-02"

// ValidDate reports whether s is a well-formed YYYY-MM-DD date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// ParseDate parses a YYYY-MM-DD date, returning the zero time on failure.
func ParseDate(s string) (time.Time, bool) {
	t, err := time.Parse(DateLayout, s)
	return t, err == nil
}

// Violation is one broken invariant, attributed to a record when possible.
type Violation struct {
	RecordID int    `json:"record_id,omitempty"`
	Message  string `json:"message"`
}

func (v Violation) String() string {
	return v.Message
}

// Check validates the whole document and returns every violation found.
func Check(doc *models.Document, now time.Time) []Violation {
	if doc == nil {
		return []Violation{{Message: "document must not be nil"}}
	}

	var out []Violation
	layout := doc.Meta.BoxLayout
	required := doc.Meta.RequiredFieldKeys()

	for i := range doc.Inventory {
		out = append(out, checkRecord(&doc.Inventory[i], i, layout, required, now)...)
	}
	out = append(out, checkDuplicateIDs(doc.Inventory)...)
	out = append(out, checkPositionConflicts(doc.Inventory)...)
	return out
}

func recordLabel(rec *models.Record, idx int) string {
	return fmt.Sprintf("record #%d (id=%d)", idx+1, rec.ID)
}

func checkRecord(rec *models.Record, idx int, layout models.BoxLayout, required []string, now time.Time) []Violation {
	var out []Violation
	label := recordLabel(rec, idx)
	posLo, posHi := layout.PositionRange()

	add := func(format string, args ...any) {
		out = append(out, Violation{RecordID: rec.ID, Message: label + ": " + fmt.Sprintf(format, args...)})
	}

	if rec.ID <= 0 {
		add("'id' must be a positive integer")
	}
	if !layout.HasBox(rec.Box) {
		add("'box' %d is not part of the layout (%s)", rec.Box, formatBoxConstraint(layout))
	}

	for _, key := range required {
		val, ok := rec.Fields[key]
		if !ok || val == nil {
			add("missing required field %q", key)
			continue
		}
		if s, isStr := val.(string); isStr && strings.TrimSpace(s) == "" {
			add("%q must be a non-empty string", key)
		}
	}

	if rec.Position != nil {
		if *rec.Position < posLo || *rec.Position > posHi {
			add("'position' %d out of range (%d-%d)", *rec.Position, posLo, posHi)
		}
	} else if !rec.HasTakeoutHistory() {
		add("'position' is null but no takeout history found")
	}

	if !ValidDate(rec.FrozenAt) {
		add("'frozen_at' must be YYYY-MM-DD")
	} else if t, _ := ParseDate(rec.FrozenAt); t.After(now) {
		add("frozen date %s is in the future", rec.FrozenAt)
	}

	for evIdx, ev := range rec.History {
		evLabel := fmt.Sprintf("history[%d]", evIdx+1)
		if ev.Action != models.EventTakeout && ev.Action != models.EventMove {
			add("%s has invalid action %q", evLabel, ev.Action)
		}
		if !ValidDate(ev.Date) {
			add("%s has invalid date", evLabel)
		}
		if len(ev.Positions) == 0 {
			add("%s positions must be a non-empty list", evLabel)
			continue
		}
		seen := make(map[int]struct{}, len(ev.Positions))
		for _, p := range ev.Positions {
			if p < posLo || p > posHi {
				add("%s position %d out of range (%d-%d)", evLabel, p, posLo, posHi)
				continue
			}
			if _, dup := seen[p]; dup {
				add("%s duplicate position %d", evLabel, p)
			}
			seen[p] = struct{}{}
		}
	}

	return out
}

func checkDuplicateIDs(records []models.Record) []Violation {
	var out []Violation
	firstIdx := make(map[int]int, len(records))
	for idx, rec := range records {
		if rec.ID <= 0 {
			continue
		}
		if prev, dup := firstIdx[rec.ID]; dup {
			out = append(out, Violation{
				RecordID: rec.ID,
				Message:  fmt.Sprintf("duplicate id %d: record #%d and record #%d", rec.ID, prev+1, idx+1),
			})
		} else {
			firstIdx[rec.ID] = idx
		}
	}
	return out
}

func checkPositionConflicts(records []models.Record) []Violation {
	type slot struct{ box, pos int }
	usage := make(map[slot][]int)
	for _, rec := range records {
		if rec.Position == nil {
			continue
		}
		key := slot{rec.Box, *rec.Position}
		usage[key] = append(usage[key], rec.ID)
	}

	var slots []slot
	for key, ids := range usage {
		if len(ids) > 1 {
			slots = append(slots, key)
		}
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].box != slots[j].box {
			return slots[i].box < slots[j].box
		}
		return slots[i].pos < slots[j].pos
	})

	var out []Violation
	for _, key := range slots {
		ids := usage[key]
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = fmt.Sprintf("id=%d", id)
		}
		out = append(out, Violation{
			Message: fmt.Sprintf("position conflict: box %d position %d is occupied by multiple records: %s",
				key.box, key.pos, strings.Join(parts, ", ")),
		})
	}
	return out
}

func formatBoxConstraint(layout models.BoxLayout) string {
	boxes := layout.BoxNumbers()
	if len(boxes) == 1 {
		return fmt.Sprintf("%d", boxes[0])
	}
	contiguous := true
	for i := 0; i < len(boxes)-1; i++ {
		if boxes[i]+1 != boxes[i+1] {
			contiguous = false
			break
		}
	}
	if contiguous {
		return fmt.Sprintf("%d-%d", boxes[0], boxes[len(boxes)-1])
	}
	parts := make([]string, len(boxes))
	for i, b := range boxes {
		parts[i] = fmt.Sprintf("%d", b)
	}
	return strings.Join(parts, ",")
}

// Format renders violations as a concise multi-line message, capped at
// six detail lines.
func Format(violations []Violation, prefix string) string {
	if len(violations) == 0 {
		return prefix
	}
	top := violations
	if len(top) > 6 {
		top = top[:6]
	}
	lines := []string{prefix}
	for _, v := range top {
		lines = append(lines, "- "+v.Message)
	}
	if more := len(violations) - len(top); more > 0 {
		lines = append(lines, fmt.Sprintf("- ... and %d more", more))
	}
	return strings.Join(lines, "\n")
}
