package auditindex

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mlindqvist/cryovault/internal/store"
)

// Row is one indexed audit event plus its position in the log.
type Row struct {
	LineNo int              `json:"line_no"`
	Event  store.AuditEvent `json:"event"`
}

// TimelineIndex defines the query surface of the audit mirror.
// Consumers should depend on this interface rather than the concrete
// *DB type to facilitate testing with mocks.
type TimelineIndex interface {
	Recent(limit int) ([]Row, error)
	ByAction(action string, limit int) ([]Row, error)
	Failures(limit int) ([]Row, error)
	SuccessfulBackups() ([]string, error)
	BackupInTimeline(path string) (bool, error)
	Count() (int, error)
	Close() error
}

var _ TimelineIndex = (*DB)(nil)

func (db *DB) insertEvent(tx *sql.Tx, lineNo int, raw []byte, ev store.AuditEvent) error {
	_, err := tx.Exec(`
		INSERT INTO audit_events (
			line_no, timestamp, actor_type, actor_id, channel, session_id,
			trace_id, action, tool_name, status, error, store_path,
			backup_path, size_bytes, raw
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(line_no) DO NOTHING
	`, lineNo, ev.Timestamp, ev.ActorType, ev.ActorID, ev.Channel, ev.SessionID,
		ev.TraceID, ev.Action, ev.ToolName, ev.Status, ev.Error, ev.StorePath,
		ev.BackupPath, ev.SizeBytes, string(raw))
	if err != nil {
		return fmt.Errorf("auditindex: insert event: %w", err)
	}
	return nil
}

// maxLineNo returns the highest indexed log line, 0 when empty.
func (db *DB) maxLineNo() (int, error) {
	var n sql.NullInt64
	if err := db.conn.QueryRow(`SELECT MAX(line_no) FROM audit_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("auditindex: max line: %w", err)
	}
	return int(n.Int64), nil
}

// Count returns the number of indexed events.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM audit_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("auditindex: count: %w", err)
	}
	return n, nil
}

// normLimit maps "no limit" requests to SQLite's unbounded LIMIT.
func normLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// Recent returns the newest events, log order, newest first.
func (db *DB) Recent(limit int) ([]Row, error) {
	return db.queryRows(`
		SELECT line_no, raw FROM audit_events
		ORDER BY line_no DESC LIMIT ?`, normLimit(limit))
}

// ByAction returns the newest events for one action.
func (db *DB) ByAction(action string, limit int) ([]Row, error) {
	return db.queryRows(`
		SELECT line_no, raw FROM audit_events
		WHERE action = ? ORDER BY line_no DESC LIMIT ?`, action, normLimit(limit))
}

// Failures returns the newest failed events.
func (db *DB) Failures(limit int) ([]Row, error) {
	return db.queryRows(`
		SELECT line_no, raw FROM audit_events
		WHERE status = ? ORDER BY line_no DESC LIMIT ?`, store.StatusFailed, normLimit(limit))
}

// SuccessfulBackups returns the backup paths recorded by successful
// writes, newest first. These are the valid rollback targets.
func (db *DB) SuccessfulBackups() ([]string, error) {
	rows, err := db.conn.Query(`
		SELECT backup_path FROM audit_events
		WHERE status = ? AND backup_path != ''
		GROUP BY backup_path
		ORDER BY MAX(line_no) DESC`, store.StatusSuccess)
	if err != nil {
		return nil, fmt.Errorf("auditindex: successful backups: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// BackupInTimeline reports whether path was recorded as the backup of
// a successful write.
func (db *DB) BackupInTimeline(path string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM audit_events
		WHERE status = ? AND backup_path = ?`, store.StatusSuccess, path).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("auditindex: backup lookup: %w", err)
	}
	return n > 0, nil
}

func (db *DB) queryRows(query string, args ...any) ([]Row, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("auditindex: query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var lineNo int
		var raw string
		if err := rows.Scan(&lineNo, &raw); err != nil {
			return nil, err
		}
		var ev store.AuditEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, Row{LineNo: lineNo, Event: ev})
	}
	return out, rows.Err()
}
