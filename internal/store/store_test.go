package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mlindqvist/cryovault/internal/apperr"
	"github.com/mlindqvist/cryovault/internal/models"
)

func testDoc() *models.Document {
	return &models.Document{
		Meta: models.Meta{
			BoxLayout: models.BoxLayout{Rows: 9, Cols: 9, Boxes: []int{1, 2}},
		},
		Inventory: []models.Record{
			{ID: 1, Box: 1, Position: models.Int(1), FrozenAt: "2025-01-10",
				Fields: map[string]any{"cell_line": "HeLa"}},
			{ID: 2, Box: 1, Position: models.Int(2), FrozenAt: "2025-01-12",
				Fields: map[string]any{"cell_line": "K562"}},
		},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "inventory.yaml"), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func mustWrite(t *testing.T, s *Store, doc *models.Document) *WriteResult {
	t.Helper()
	res, err := s.Write(WriteRequest{Doc: doc, AutoBackup: true})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	return res
}

func TestLoadMissingFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load()
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if apperr.CodeOf(err) != apperr.CodeYAMLNotFound {
		t.Fatalf("expected yaml_not_found, got %v", err)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("inventory: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := s.Load()
	if apperr.CodeOf(err) != apperr.CodeLoadFailed {
		t.Fatalf("expected load_failed, got %v", err)
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testDoc())

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Inventory) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got.Inventory))
	}
	if got.Inventory[0].Fields["cell_line"] != "HeLa" {
		t.Fatalf("user field lost: %v", got.Inventory[0].Fields)
	}
	if got.Inventory[1].Position == nil || *got.Inventory[1].Position != 2 {
		t.Fatalf("position lost: %v", got.Inventory[1].Position)
	}
}

func TestWriteRefusesInvalidDocument(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testDoc())
	before, _ := os.ReadFile(s.Path())

	bad := testDoc()
	bad.Inventory[1].Position = models.Int(1) // same slot as record 1
	_, err := s.Write(WriteRequest{Doc: bad})
	if apperr.CodeOf(err) != apperr.CodeIntegrityValidationFailed {
		t.Fatalf("expected integrity_validation_failed, got %v", err)
	}

	after, _ := os.ReadFile(s.Path())
	if string(before) != string(after) {
		t.Fatal("file changed despite refused write")
	}
}

func TestWriteCreatesBackupAndAudit(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testDoc())

	doc := testDoc()
	doc.Inventory = append(doc.Inventory, models.Record{
		ID: 3, Box: 2, Position: models.Int(5), FrozenAt: "2025-02-01",
	})
	res := mustWrite(t, s, doc)
	if res.BackupPath == "" {
		t.Fatal("expected backup to be created")
	}
	base := filepath.Base(res.BackupPath)
	if !strings.HasPrefix(base, "inventory.yaml.") || !strings.HasSuffix(base, ".bak") {
		t.Fatalf("unexpected backup name %q", base)
	}
	if filepath.Dir(res.BackupPath) != s.BackupDir() {
		t.Fatalf("backup outside backup dir: %s", res.BackupPath)
	}

	events, err := s.ReadAuditEvents(0)
	if err != nil {
		t.Fatalf("ReadAuditEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Status != StatusSuccess {
		t.Fatalf("expected success status, got %q", last.Status)
	}
	if last.BackupPath != res.BackupPath {
		t.Fatalf("audit backup_path %q, want %q", last.BackupPath, res.BackupPath)
	}
	if len(last.ChangedIDs.Added) != 1 || last.ChangedIDs.Added[0] != 3 {
		t.Fatalf("changed_ids.added = %v, want [3]", last.ChangedIDs.Added)
	}
	if last.Delta == nil || last.Delta.RecordCount != 1 {
		t.Fatalf("delta = %+v, want record_count 1", last.Delta)
	}
}

func TestWriteWithProvidedBackupRef(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testDoc())

	ref, err := s.CreateBackup()
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	backupsBefore, _ := s.ListBackups()

	doc := testDoc()
	doc.Inventory[0].Fields["cell_line"] = "A549"
	res, err := s.Write(WriteRequest{Doc: doc, BackupPath: ref})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.BackupPath != ref {
		t.Fatalf("expected provided ref %q, got %q", ref, res.BackupPath)
	}
	backupsAfter, _ := s.ListBackups()
	if len(backupsAfter) != len(backupsBefore) {
		t.Fatal("write with backup ref must not create a new backup")
	}
}

func TestBackupNameCollision(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	s, err := New(filepath.Join(t.TempDir(), "inventory.yaml"), Options{
		Now: func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatal(err)
	}
	mustWrite(t, s, testDoc())

	first, err := s.CreateBackup()
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.CreateBackup()
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(first) != "inventory.yaml.20250301-103000.bak" {
		t.Fatalf("unexpected first backup name %q", filepath.Base(first))
	}
	if filepath.Base(second) != "inventory.yaml.20250301-103000.1.bak" {
		t.Fatalf("unexpected collision name %q", filepath.Base(second))
	}
}

func TestBackupRetention(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "inventory.yaml"), Options{BackupKeep: 3})
	if err != nil {
		t.Fatal(err)
	}
	mustWrite(t, s, testDoc())
	for i := 0; i < 6; i++ {
		if _, err := s.CreateBackup(); err != nil {
			t.Fatalf("CreateBackup: %v", err)
		}
	}
	backups, err := s.ListBackups()
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 3 {
		t.Fatalf("expected 3 retained backups, got %d", len(backups))
	}
	for i := 1; i < len(backups); i++ {
		if backups[i].ModTime.After(backups[i-1].ModTime) {
			t.Fatal("backups not sorted newest first")
		}
	}
}

func TestRollbackRestoresAndAudits(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testDoc())
	backup, err := s.CreateBackup()
	if err != nil {
		t.Fatal(err)
	}

	doc := testDoc()
	doc.Inventory = doc.Inventory[:1]
	mustWrite(t, s, doc)

	snapshot, err := s.CreateBackup()
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Rollback(backup, snapshot, AuditMeta{})
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if res.RestoredFrom != backup {
		t.Fatalf("restored_from = %q, want %q", res.RestoredFrom, backup)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Inventory) != 2 {
		t.Fatalf("expected restored 2 records, got %d", len(got.Inventory))
	}

	events, _ := s.ReadAuditEvents(0)
	last := events[len(events)-1]
	if last.Action != "rollback" {
		t.Fatalf("audit action = %q, want rollback", last.Action)
	}
	if last.BackupPath != snapshot {
		t.Fatalf("audit backup_path = %q, want pre-rollback snapshot %q", last.BackupPath, snapshot)
	}
	if last.Details["restored_from"] != backup {
		t.Fatalf("details.restored_from = %v", last.Details["restored_from"])
	}
}

func TestRollbackRejectsCorruptBackup(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testDoc())

	bad := filepath.Join(s.BackupDir(), "inventory.yaml.20250101-000000.bak")
	if err := os.MkdirAll(s.BackupDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("inventory: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := s.Rollback(bad, "", AuditMeta{})
	if apperr.CodeOf(err) != apperr.CodeRollbackBackupInvalid {
		t.Fatalf("expected rollback_backup_invalid, got %v", err)
	}
}

func TestRollbackRejectsBackupFailingIntegrity(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testDoc())

	data := "meta:\n  box_layout:\n    rows: 9\n    cols: 9\ninventory:\n" +
		"  - {id: 1, box: 1, position: 1, frozen_at: \"2025-01-10\"}\n" +
		"  - {id: 1, box: 1, position: 2, frozen_at: \"2025-01-12\"}\n"
	bad := filepath.Join(s.BackupDir(), "inventory.yaml.20250101-000001.bak")
	if err := os.MkdirAll(s.BackupDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := s.Rollback(bad, "", AuditMeta{})
	if apperr.CodeOf(err) != apperr.CodeRollbackBackupInvalid {
		t.Fatalf("expected rollback_backup_invalid, got %v", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || !strings.Contains(ae.Message, "duplicate id") {
		t.Fatalf("expected duplicate id detail, got %v", err)
	}
}

func TestRollbackToNewestWhenUnspecified(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testDoc())
	if _, err := s.CreateBackup(); err != nil {
		t.Fatal(err)
	}

	doc := testDoc()
	doc.Inventory = doc.Inventory[:1]
	if _, err := s.Write(WriteRequest{Doc: doc}); err != nil {
		t.Fatal(err)
	}

	res, err := s.Rollback("", "", AuditMeta{})
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	backups, _ := s.ListBackups()
	if res.RestoredFrom != backups[0].Path {
		t.Fatalf("restored_from = %q, want newest backup %q", res.RestoredFrom, backups[0].Path)
	}
}

func TestRecordFailureAppendsFailedEvent(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testDoc())

	meta := AuditMeta{Action: "add", ToolName: "add_entry",
		Actor: ActorContext{ActorType: "agent", ActorID: "bot-1", Channel: "tool_api"}}
	if err := s.RecordFailure(meta, "position occupied"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	events, _ := s.ReadAuditEvents(0)
	last := events[len(events)-1]
	if last.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", last.Status)
	}
	if last.Error != "position occupied" {
		t.Fatalf("error = %q", last.Error)
	}
	if last.ActorType != "agent" || last.Channel != "tool_api" {
		t.Fatalf("actor not recorded: %+v", last)
	}
}

func TestBackupInTimeline(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testDoc())

	doc := testDoc()
	doc.Inventory[0].FrozenAt = "2025-01-11"
	res := mustWrite(t, s, doc)

	ok, err := s.BackupInTimeline(res.BackupPath)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("backup %q should be in timeline", res.BackupPath)
	}
	ok, err = s.BackupInTimeline(filepath.Join(s.BackupDir(), "not-real.bak"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("unknown path must not be in timeline")
	}
}

func TestCollectStats(t *testing.T) {
	doc := testDoc()
	doc.Inventory = append(doc.Inventory, models.Record{
		ID: 3, Box: 2, Position: nil, FrozenAt: "2025-01-15",
		History: []models.HistoryEvent{{Date: "2025-02-01", Action: models.EventTakeout, Positions: []int{4}}},
	})
	stats := CollectStats(doc)
	if stats.RecordCount != 3 {
		t.Fatalf("record_count = %d", stats.RecordCount)
	}
	if stats.TotalSlots != 162 {
		t.Fatalf("total_slots = %d, want 162", stats.TotalSlots)
	}
	if stats.TotalOccupied != 2 {
		t.Fatalf("total_occupied = %d, want 2 (nil position not counted)", stats.TotalOccupied)
	}
	if stats.Boxes["1"].Occupied != 2 || stats.Boxes["2"].Occupied != 0 {
		t.Fatalf("per-box stats wrong: %+v", stats.Boxes)
	}
}

func TestCapacityWarnings(t *testing.T) {
	doc := &models.Document{
		Meta: models.Meta{BoxLayout: models.BoxLayout{Rows: 2, Cols: 2, Boxes: []int{1}}},
	}
	for i := 1; i <= 3; i++ {
		doc.Inventory = append(doc.Inventory, models.Record{
			ID: i, Box: 1, Position: models.Int(i), FrozenAt: "2025-01-10",
		})
	}
	warnings := CapacityWarnings(doc, 1, 1)
	if len(warnings) != 2 {
		t.Fatalf("expected total + box warnings, got %v", warnings)
	}
	if !strings.Contains(warnings[0], "only 1 free slots left overall") {
		t.Fatalf("unexpected warning %q", warnings[0])
	}
}

func TestDiffRecordIDs(t *testing.T) {
	before := testDoc().Inventory
	after := testDoc().Inventory
	after[0].Fields["cell_line"] = "A549"
	after = append(after[1:], models.Record{ID: 7, Box: 2, Position: models.Int(9), FrozenAt: "2025-03-01"})

	changed := diffRecordIDs(before, after)
	if len(changed.Added) != 1 || changed.Added[0] != 7 {
		t.Fatalf("added = %v", changed.Added)
	}
	if len(changed.Removed) != 1 || changed.Removed[0] != 1 {
		t.Fatalf("removed = %v", changed.Removed)
	}
	if len(changed.Updated) != 0 {
		t.Fatalf("updated = %v", changed.Updated)
	}
}
