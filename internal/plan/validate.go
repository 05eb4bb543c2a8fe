package plan

import "fmt"

// ValidateItem checks the shape of one item before it reaches
// execution: recognized action, sane numeric ranges, and per-action
// companion fields. It returns an error message, or the empty string
// when the item is acceptable. Required-field checks for add/edit are
// deliberately deferred to execution time, where the store's declared
// fields are known.
func ValidateItem(it Item) string {
	if !it.Action.Valid() {
		return fmt.Sprintf("unknown action: %s", it.Action)
	}

	if it.Action == ActionRollback {
		// Rollback restores the whole store from backup; no
		// box/position/record needed.
		return ""
	}

	if it.Box < 0 {
		return "box must be >= 0"
	}
	if it.Position < 1 {
		return "position must be a positive integer"
	}

	if it.Action == ActionMove {
		if it.ToPosition == nil || *it.ToPosition < 1 {
			return "to_position must be a positive integer for move"
		}
		if it.ToBox != nil && *it.ToBox < 1 {
			return "to_box must be a positive integer"
		}
		targetBox := it.Box
		if it.ToBox != nil {
			targetBox = *it.ToBox
		}
		if targetBox == it.Box && *it.ToPosition == it.Position {
			return "to_position must differ from position"
		}
	}

	if it.Action != ActionAdd && it.RecordID < 1 {
		return "record_id must be a positive integer"
	}

	return ""
}

// ValidateItems validates a whole batch and returns the first error
// per offending item, keyed by index.
func ValidateItems(items []Item) map[int]string {
	var out map[int]string
	for i, it := range items {
		if msg := ValidateItem(it); msg != "" {
			if out == nil {
				out = make(map[int]string)
			}
			out[i] = msg
		}
	}
	return out
}
