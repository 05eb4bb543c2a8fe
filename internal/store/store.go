// Package store is the file accessor for a YAML-backed inventory
// document: wholesale load and atomic rewrite, timestamped backups
// with retention, an append-only JSONL audit trail, and restore from
// backup. It assumes a single writer per path and performs no locking.
package store

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mlindqvist/cryovault/internal/apperr"
	"github.com/mlindqvist/cryovault/internal/models"
	"github.com/mlindqvist/cryovault/internal/validate"
)

const (
	backupDirName  = ".backups"
	auditLogSuffix = ".audit.jsonl"

	DefaultBackupKeep        = 20
	DefaultTotalEmptyWarning = 10
	DefaultBoxEmptyWarning   = 3
	DefaultSizeWarningMB     = 5.0
)

// Options tune backup retention and warning thresholds.
type Options struct {
	// BackupKeep is how many backups to retain; older ones are pruned
	// after each new backup. Zero or negative disables pruning.
	BackupKeep int
	// TotalEmptyWarning triggers a capacity warning when the whole
	// store has this many free slots or fewer.
	TotalEmptyWarning int
	// BoxEmptyWarning triggers a per-box capacity warning.
	BoxEmptyWarning int
	// SizeWarningMB triggers a file-size warning when the YAML file
	// reaches this size.
	SizeWarningMB float64

	Logger *slog.Logger
	// Now overrides the clock, used by tests.
	Now func() time.Time
}

// Store accesses one YAML inventory file and its backup/audit siblings.
type Store struct {
	path string
	opts Options
	log  *slog.Logger
	now  func() time.Time
}

// New creates a Store for the YAML file at path. The file itself may
// not exist yet; the parent directory must.
func New(path string, opts Options) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("store: resolve path: %w", err)
	}
	if opts.BackupKeep == 0 {
		opts.BackupKeep = DefaultBackupKeep
	}
	if opts.TotalEmptyWarning == 0 {
		opts.TotalEmptyWarning = DefaultTotalEmptyWarning
	}
	if opts.BoxEmptyWarning == 0 {
		opts.BoxEmptyWarning = DefaultBoxEmptyWarning
	}
	if opts.SizeWarningMB == 0 {
		opts.SizeWarningMB = DefaultSizeWarningMB
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{path: abs, opts: opts, log: opts.Logger, now: opts.Now}, nil
}

// Path returns the absolute path of the YAML file.
func (s *Store) Path() string { return s.path }

// BackupDir returns the directory holding this store's backups.
func (s *Store) BackupDir() string {
	return filepath.Join(filepath.Dir(s.path), backupDirName)
}

// AuditLogPath returns the path of this store's audit log.
func (s *Store) AuditLogPath() string { return s.path + auditLogSuffix }

// Exists reports whether the YAML file is present on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads and decodes the whole document.
func (s *Store) Load() (*models.Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Wrap(err, apperr.CodeYAMLNotFound, "store file not found: %s", s.path)
		}
		return nil, apperr.Wrap(err, apperr.CodeLoadFailed, "read %s", s.path)
	}
	var doc models.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeLoadFailed, "parse %s", s.path)
	}
	return &doc, nil
}

// WriteRequest carries one document write plus its audit attribution.
type WriteRequest struct {
	Doc *models.Document
	// AutoBackup creates a fresh backup before overwriting, unless
	// BackupPath already names one created by the caller.
	AutoBackup bool
	// BackupPath is a pre-created backup reference. When set, no new
	// backup is made and this path is recorded in the audit event.
	BackupPath string
	Audit      AuditMeta
}

// WriteResult reports a completed write.
type WriteResult struct {
	BackupPath string
	Warnings   []string
}

// Write validates, backs up, atomically rewrites the YAML file, and
// appends one audit event. It refuses to persist a document that fails
// integrity validation, with no partial write and no backup consumed.
func (s *Store) Write(req WriteRequest) (*WriteResult, error) {
	if req.Doc == nil {
		return nil, apperr.New(apperr.CodeWriteFailed, "document must not be nil")
	}
	if violations := validate.Check(req.Doc, s.now()); len(violations) > 0 {
		return nil, apperr.New(apperr.CodeIntegrityValidationFailed,
			"%s", validate.Format(violations, "integrity validation failed:"))
	}

	var before *models.Document
	if s.Exists() {
		loaded, err := s.Load()
		if err != nil {
			s.log.Warn("failed to load store before write", "path", s.path, "error", err)
		} else {
			before = loaded
		}
	}

	backupPath := req.BackupPath
	if backupPath == "" && req.AutoBackup {
		created, err := s.CreateBackup()
		if err != nil {
			s.log.Warn("failed to create backup", "path", s.path, "error", err)
		} else {
			backupPath = created
		}
	}

	data, err := yaml.Marshal(req.Doc)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeWriteFailed, "encode document")
	}
	if err := s.writeAtomic(data); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeWriteFailed, "write %s", s.path)
	}

	warnings := s.collectWarnings(req.Doc)
	if err := s.AppendAudit(s.buildEvent(before, req.Doc, backupPath, warnings, req.Audit)); err != nil {
		s.log.Warn("failed to append audit event", "path", s.AuditLogPath(), "error", err)
	}

	return &WriteResult{BackupPath: backupPath, Warnings: warnings}, nil
}

// RollbackResult reports a completed restore.
type RollbackResult struct {
	RestoredFrom           string
	SnapshotBeforeRollback string
	Warnings               []string
}

// Rollback restores the YAML file from a backup. An empty backupPath
// selects the newest backup. The target must decode and pass integrity
// validation before anything is overwritten. snapshotPath, when set,
// names a pre-rollback backup created by the caller; it is recorded so
// the rollback itself stays reversible.
func (s *Store) Rollback(backupPath, snapshotPath string, meta AuditMeta) (*RollbackResult, error) {
	if !s.Exists() {
		return nil, apperr.New(apperr.CodeYAMLNotFound, "store file not found: %s", s.path)
	}

	target := backupPath
	if target == "" {
		backups, err := s.ListBackups()
		if err != nil {
			return nil, err
		}
		if len(backups) == 0 {
			return nil, apperr.New(apperr.CodeRollbackBackupInvalid, "no backups available")
		}
		target = backups[0].Path
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeRollbackBackupInvalid, "resolve backup path")
	}
	target = abs

	raw, err := os.ReadFile(target)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeRollbackBackupInvalid, "backup unreadable: %s", target)
	}
	var restored models.Document
	if err := yaml.Unmarshal(raw, &restored); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeRollbackBackupInvalid, "backup not parseable: %s", filepath.Base(target))
	}
	if violations := validate.Check(&restored, s.now()); len(violations) > 0 {
		return nil, apperr.New(apperr.CodeRollbackBackupInvalid,
			"%s", validate.Format(violations,
				fmt.Sprintf("rollback blocked: backup %s fails integrity validation:", filepath.Base(target))))
	}

	before, err := s.Load()
	if err != nil {
		s.log.Warn("failed to load store before rollback", "path", s.path, "error", err)
	}

	if err := s.writeAtomic(raw); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeWriteFailed, "restore %s", s.path)
	}

	warnings := s.collectWarnings(&restored)
	if meta.Action == "" {
		meta.Action = "rollback"
	}
	if meta.Details == nil {
		meta.Details = map[string]any{}
	}
	meta.Details["restored_from"] = target
	if snapshotPath != "" {
		meta.Details["snapshot_before_rollback"] = snapshotPath
	}
	if err := s.AppendAudit(s.buildEvent(before, &restored, snapshotPath, warnings, meta)); err != nil {
		s.log.Warn("failed to append audit event", "path", s.AuditLogPath(), "error", err)
	}

	return &RollbackResult{
		RestoredFrom:           target,
		SnapshotBeforeRollback: snapshotPath,
		Warnings:               warnings,
	}, nil
}

// writeAtomic writes content via temp file, fsync, rename.
func (s *Store) writeAtomic(content []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".cryovault-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	success = true
	return nil
}

func (s *Store) collectWarnings(doc *models.Document) []string {
	warnings := CapacityWarnings(doc, s.opts.TotalEmptyWarning, s.opts.BoxEmptyWarning)
	if w := s.sizeWarning(); w != "" {
		warnings = append(warnings, w)
	}
	return warnings
}

func (s *Store) sizeWarning() string {
	info, err := os.Stat(s.path)
	if err != nil {
		return ""
	}
	sizeMB := float64(info.Size()) / (1024 * 1024)
	if sizeMB < s.opts.SizeWarningMB {
		return ""
	}
	return fmt.Sprintf("file size warning: %s is %.2f MB (threshold %.1f MB), consider archiving inactive records",
		filepath.Base(s.path), sizeMB, s.opts.SizeWarningMB)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
