package auditindex

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/mlindqvist/cryovault/internal/store"
)

// Sync brings the index up to date with the audit log. The log is
// append-only, so only lines past the indexed high-water mark are
// scanned; a shrunken log means it was replaced and triggers a full
// rebuild.
func Sync(db *DB, st *store.Store, logger *slog.Logger) error {
	f, err := os.Open(st.AuditLogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	mark, err := db.maxLineNo()
	if err != nil {
		return err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	indexed := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= mark {
			continue
		}
		line := scanner.Bytes()
		var ev store.AuditEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			logger.Warn("sync: skipping bad audit line",
				slog.Int("line", lineNo), slog.String("error", err.Error()))
			continue
		}
		if err := db.insertEvent(tx, lineNo, line, ev); err != nil {
			return err
		}
		indexed++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if lineNo < mark {
		// The log on disk is shorter than what we indexed: it was
		// replaced. Drop everything and rescan from the top.
		if _, err := tx.Exec(`DELETE FROM audit_events`); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		logger.Info("sync: audit log replaced, rebuilding index")
		return Sync(db, st, logger)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if indexed > 0 {
		logger.Debug("sync: indexed audit events", slog.Int("count", indexed))
	}
	return nil
}
