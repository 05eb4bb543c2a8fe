package plan

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestItemJSONRoundTrip(t *testing.T) {
	in := `{"action":"move","box":1,"position":3,"to_position":7,"record_id":42,
		"payload":{"record_id":42,"position":3,"to_position":7,"date":"2025-04-01"}}`
	var it Item
	if err := json.Unmarshal([]byte(in), &it); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if it.Action != ActionMove {
		t.Fatalf("action = %q", it.Action)
	}
	if it.Move == nil || it.Move.ToPosition != 7 || it.Move.Date != "2025-04-01" {
		t.Fatalf("move payload = %+v", it.Move)
	}
	if it.Edit != nil || it.Add != nil {
		t.Fatal("only the move variant should be set")
	}

	out, err := json.Marshal(it)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var again Item
	if err := json.Unmarshal(out, &again); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if again.Move == nil || again.Move.ToPosition != 7 {
		t.Fatalf("payload lost on round trip: %s", out)
	}
}

func TestItemUnknownActionRejected(t *testing.T) {
	var it Item
	err := json.Unmarshal([]byte(`{"action":"discard","box":1,"position":2}`), &it)
	if err == nil || !strings.Contains(err.Error(), "unknown action") {
		t.Fatalf("expected unknown action error, got %v", err)
	}
}

func TestItemMissingPayloadDefaultsEmpty(t *testing.T) {
	var it Item
	if err := json.Unmarshal([]byte(`{"action":"rollback"}`), &it); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if it.Rollback == nil || it.Rollback.BackupPath != "" {
		t.Fatalf("rollback payload = %+v", it.Rollback)
	}
}

func TestValidateItem(t *testing.T) {
	to := func(v int) *int { return &v }
	cases := []struct {
		name string
		item Item
		want string
	}{
		{"add ok", Item{Action: ActionAdd, Box: 1, Position: 5, Add: &AddPayload{}}, ""},
		{"rollback needs nothing", Item{Action: ActionRollback}, ""},
		{"unknown action", Item{Action: "thaw"}, "unknown action: thaw"},
		{"negative box", Item{Action: ActionAdd, Box: -1, Position: 1}, "box must be >= 0"},
		{"zero position", Item{Action: ActionAdd, Box: 1, Position: 0}, "position must be a positive integer"},
		{"move without target", Item{Action: ActionMove, Box: 1, Position: 2, RecordID: 1}, "to_position must be a positive integer for move"},
		{"move same slot", Item{Action: ActionMove, Box: 1, Position: 2, ToPosition: to(2), RecordID: 1}, "to_position must differ from position"},
		{"move same position different box", Item{Action: ActionMove, Box: 1, Position: 2, ToPosition: to(2), ToBox: to(3), RecordID: 1}, ""},
		{"move bad to_box", Item{Action: ActionMove, Box: 1, Position: 2, ToPosition: to(4), ToBox: to(0), RecordID: 1}, "to_box must be a positive integer"},
		{"edit without record", Item{Action: ActionEdit, Box: 1, Position: 2}, "record_id must be a positive integer"},
		{"takeout without record", Item{Action: ActionTakeout, Box: 1, Position: 2}, "record_id must be a positive integer"},
		{"takeout ok", Item{Action: ActionTakeout, Box: 1, Position: 2, RecordID: 9}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateItem(tc.item); got != tc.want {
				t.Fatalf("ValidateItem = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestConflictingAdds(t *testing.T) {
	items := []Item{
		{Action: ActionAdd, Box: 2, Position: 4, Add: &AddPayload{Box: 2, Positions: []int{4}}},
		{Action: ActionAdd, Box: 2, Position: 4, Add: &AddPayload{Box: 2, Positions: []int{4}}},
		{Action: ActionAdd, Box: 3, Position: 4, Add: &AddPayload{Box: 3, Positions: []int{4}}},
	}
	blocked := ConflictingAdds(items)
	if blocked[0] {
		t.Fatal("first claimant must not be blocked")
	}
	if !blocked[1] {
		t.Fatal("second add on the same slot must be blocked")
	}
	if blocked[2] {
		t.Fatal("same position in a different box is not a conflict")
	}
}

func TestConflictingAddsMultiPosition(t *testing.T) {
	items := []Item{
		{Action: ActionAdd, Add: &AddPayload{Box: 1, Positions: []int{1, 2, 3}}},
		{Action: ActionAdd, Add: &AddPayload{Box: 1, Positions: []int{5, 2}}},
	}
	blocked := ConflictingAdds(items)
	if blocked[0] || !blocked[1] {
		t.Fatalf("blocked = %v, want only second item", blocked)
	}
}
