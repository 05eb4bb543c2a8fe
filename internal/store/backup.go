package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Backup describes one backup file.
type Backup struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size_bytes"`
	ModTime time.Time `json:"mod_time"`
}

// CreateBackup copies the YAML file into the backup directory under a
// timestamped name and prunes old backups past the retention count.
// Returns the empty string when the source file does not exist yet.
func (s *Store) CreateBackup() (string, error) {
	if !s.Exists() {
		return "", nil
	}

	dir := s.BackupDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: create backup dir: %w", err)
	}

	stamp := s.now().Format("20060102-150405")
	base := filepath.Base(s.path)
	backupPath := filepath.Join(dir, fmt.Sprintf("%s.%s.bak", base, stamp))
	for i := 1; ; i++ {
		if _, err := os.Stat(backupPath); os.IsNotExist(err) {
			break
		}
		backupPath = filepath.Join(dir, fmt.Sprintf("%s.%s.%d.bak", base, stamp, i))
	}

	if err := copyFile(s.path, backupPath); err != nil {
		return "", fmt.Errorf("store: copy backup: %w", err)
	}

	if keep := s.opts.BackupKeep; keep > 0 {
		backups, err := s.ListBackups()
		if err == nil {
			for _, old := range backups[min(keep, len(backups)):] {
				if err := os.Remove(old.Path); err != nil {
					s.log.Warn("failed to prune backup", "path", old.Path, "error", err)
				}
			}
		}
	}

	return backupPath, nil
}

// ListBackups returns this store's backups, newest first by
// modification time. A missing backup directory yields an empty list.
func (s *Store) ListBackups() ([]Backup, error) {
	entries, err := os.ReadDir(s.BackupDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: list backups: %w", err)
	}

	prefix := filepath.Base(s.path) + "."
	var out []Backup
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".bak") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Backup{
			Path:    filepath.Join(s.BackupDir(), name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}
