package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/mlindqvist/cryovault/internal/models"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func validDoc() *models.Document {
	return &models.Document{
		Meta: models.Meta{
			BoxLayout: models.BoxLayout{Rows: 9, Cols: 9, Boxes: []int{1, 2}},
			Fields: []models.FieldDef{
				{Key: "cell_line", Required: true},
			},
		},
		Inventory: []models.Record{
			{
				ID: 1, Box: 1, Position: models.Int(5), FrozenAt: "2025-01-10",
				Fields: map[string]any{"cell_line": "HeLa"},
			},
			{
				ID: 2, Box: 1, Position: nil, FrozenAt: "2025-01-12",
				Fields: map[string]any{"cell_line": "K562"},
				History: []models.HistoryEvent{
					{Date: "2025-02-01", Action: models.EventTakeout, Positions: []int{7}},
				},
			},
		},
	}
}

func TestCheckValidDocument(t *testing.T) {
	if got := Check(validDoc(), testNow); len(got) != 0 {
		t.Fatalf("expected no violations, got %v", got)
	}
}

func TestCheckNilDocument(t *testing.T) {
	if got := Check(nil, testNow); len(got) != 1 {
		t.Fatalf("expected a single violation, got %v", got)
	}
}

func TestCheckDuplicateIDs(t *testing.T) {
	doc := validDoc()
	doc.Inventory[1].ID = 1
	got := Check(doc, testNow)
	if !hasViolation(got, "duplicate id 1") {
		t.Fatalf("expected duplicate id violation, got %v", got)
	}
}

func TestCheckPositionConflict(t *testing.T) {
	doc := validDoc()
	doc.Inventory[1].Position = models.Int(5)
	got := Check(doc, testNow)
	if !hasViolation(got, "position conflict: box 1 position 5") {
		t.Fatalf("expected position conflict, got %v", got)
	}
}

func TestCheckNullPositionsDoNotConflict(t *testing.T) {
	doc := validDoc()
	doc.Inventory = append(doc.Inventory, models.Record{
		ID: 3, Box: 1, Position: nil, FrozenAt: "2025-01-15",
		Fields: map[string]any{"cell_line": "A549"},
		History: []models.HistoryEvent{
			{Date: "2025-02-02", Action: models.EventTakeout, Positions: []int{8}},
		},
	})
	if got := Check(doc, testNow); len(got) != 0 {
		t.Fatalf("expected no violations, got %v", got)
	}
}

func TestCheckBoxOutsideLayout(t *testing.T) {
	doc := validDoc()
	doc.Inventory[0].Box = 9
	got := Check(doc, testNow)
	if !hasViolation(got, "'box' 9 is not part of the layout") {
		t.Fatalf("expected box violation, got %v", got)
	}
}

func TestCheckPositionOutOfRange(t *testing.T) {
	doc := validDoc()
	doc.Inventory[0].Position = models.Int(82)
	got := Check(doc, testNow)
	if !hasViolation(got, "'position' 82 out of range (1-81)") {
		t.Fatalf("expected position range violation, got %v", got)
	}
}

func TestCheckNullPositionWithoutTakeoutHistory(t *testing.T) {
	doc := validDoc()
	doc.Inventory[1].History = nil
	got := Check(doc, testNow)
	if !hasViolation(got, "'position' is null but no takeout history") {
		t.Fatalf("expected null position violation, got %v", got)
	}
}

func TestCheckMissingRequiredField(t *testing.T) {
	doc := validDoc()
	delete(doc.Inventory[0].Fields, "cell_line")
	got := Check(doc, testNow)
	if !hasViolation(got, `missing required field "cell_line"`) {
		t.Fatalf("expected missing field violation, got %v", got)
	}
}

func TestCheckBlankRequiredField(t *testing.T) {
	doc := validDoc()
	doc.Inventory[0].Fields["cell_line"] = "   "
	got := Check(doc, testNow)
	if !hasViolation(got, `"cell_line" must be a non-empty string`) {
		t.Fatalf("expected blank field violation, got %v", got)
	}
}

func TestCheckFutureFrozenDate(t *testing.T) {
	doc := validDoc()
	doc.Inventory[0].FrozenAt = "2031-01-01"
	got := Check(doc, testNow)
	if !hasViolation(got, "frozen date 2031-01-01 is in the future") {
		t.Fatalf("expected future date violation, got %v", got)
	}
}

func TestCheckMalformedDate(t *testing.T) {
	doc := validDoc()
	doc.Inventory[0].FrozenAt = "10/01/2025"
	got := Check(doc, testNow)
	if !hasViolation(got, "'frozen_at' must be YYYY-MM-DD") {
		t.Fatalf("expected date format violation, got %v", got)
	}
}

func TestCheckHistoryEvent(t *testing.T) {
	doc := validDoc()
	doc.Inventory[1].History = []models.HistoryEvent{
		{Date: "bad", Action: "thaw", Positions: nil},
	}
	got := Check(doc, testNow)
	if !hasViolation(got, `invalid action "thaw"`) {
		t.Fatalf("expected action violation, got %v", got)
	}
	if !hasViolation(got, "invalid date") {
		t.Fatalf("expected date violation, got %v", got)
	}
	if !hasViolation(got, "positions must be a non-empty list") {
		t.Fatalf("expected positions violation, got %v", got)
	}
}

func TestCheckHistoryDuplicatePositions(t *testing.T) {
	doc := validDoc()
	doc.Inventory[1].History[0].Positions = []int{7, 7}
	got := Check(doc, testNow)
	if !hasViolation(got, "duplicate position 7") {
		t.Fatalf("expected duplicate position violation, got %v", got)
	}
}

func TestFormatTruncation(t *testing.T) {
	violations := make([]Violation, 8)
	for i := range violations {
		violations[i] = Violation{Message: "broken"}
	}
	got := Format(violations, "Validation failed:")
	if !strings.Contains(got, "... and 2 more") {
		t.Fatalf("expected truncation marker, got %q", got)
	}
	if strings.Count(got, "\n") != 7 {
		t.Fatalf("expected 7 detail lines, got %q", got)
	}
}

func TestValidDate(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"2025-01-10", true},
		{"2025-13-10", false},
		{"2025-1-1", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidDate(tc.in); got != tc.ok {
			t.Errorf("ValidDate(%q) = %v, want %v", tc.in, got, tc.ok)
		}
	}
}

func hasViolation(violations []Violation, substr string) bool {
	for _, v := range violations {
		if strings.Contains(v.Message, substr) {
			return true
		}
	}
	return false
}
