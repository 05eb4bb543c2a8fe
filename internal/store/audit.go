package store

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/mlindqvist/cryovault/internal/models"
)

// Audit event statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ActorContext identifies who asked for a write and through which
// surface. It is recorded verbatim on every audit event.
type ActorContext struct {
	ActorType string `json:"actor_type"`
	ActorID   string `json:"actor_id"`
	Channel   string `json:"channel"`
	SessionID string `json:"session_id"`
	TraceID   string `json:"trace_id"`
}

// AuditMeta is the caller-supplied portion of an audit event.
type AuditMeta struct {
	Action   string
	ToolName string
	Status   string
	Error    string
	Actor    ActorContext
	Details  map[string]any
}

// AuditEvent is one line of the append-only audit log. Events are
// never edited or deleted; they are the authoritative history used to
// validate rollback targets.
type AuditEvent struct {
	Timestamp  string         `json:"timestamp"`
	ActorType  string         `json:"actor_type"`
	ActorID    string         `json:"actor_id"`
	Channel    string         `json:"channel"`
	SessionID  string         `json:"session_id"`
	TraceID    string         `json:"trace_id"`
	Action     string         `json:"action"`
	ToolName   string         `json:"tool_name,omitempty"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	StorePath  string         `json:"store_path"`
	BackupPath string         `json:"backup_path,omitempty"`
	SizeBytes  int64          `json:"size_bytes,omitempty"`
	Warnings   []string       `json:"warnings"`
	Before     *Stats         `json:"before,omitempty"`
	After      *Stats         `json:"after,omitempty"`
	Delta      *Delta         `json:"delta,omitempty"`
	ChangedIDs ChangedIDs     `json:"changed_ids"`
	Details    map[string]any `json:"details,omitempty"`
}

func (s *Store) buildEvent(before, after *models.Document, backupPath string, warnings []string, meta AuditMeta) AuditEvent {
	var beforeStats, afterStats *Stats
	var beforeRecords, afterRecords []models.Record
	if before != nil {
		st := CollectStats(before)
		beforeStats = &st
		beforeRecords = before.Inventory
	}
	if after != nil {
		st := CollectStats(after)
		afterStats = &st
		afterRecords = after.Inventory
	}

	var sizeBytes int64
	if info, err := os.Stat(s.path); err == nil {
		sizeBytes = info.Size()
	}

	actor := meta.Actor
	if actor.SessionID == "" {
		actor.SessionID = "session-" + s.now().Format("20060102150405")
	}
	if actor.TraceID == "" {
		actor.TraceID = "trace-" + randomHex(16)
	}

	action := meta.Action
	if action == "" {
		action = "write"
	}
	status := meta.Status
	if status == "" {
		status = StatusSuccess
	}
	if warnings == nil {
		warnings = []string{}
	}

	return AuditEvent{
		Timestamp:  s.now().Format("2006-01-02T15:04:05"),
		ActorType:  actor.ActorType,
		ActorID:    actor.ActorID,
		Channel:    actor.Channel,
		SessionID:  actor.SessionID,
		TraceID:    actor.TraceID,
		Action:     action,
		ToolName:   meta.ToolName,
		Status:     status,
		Error:      meta.Error,
		StorePath:  s.path,
		BackupPath: backupPath,
		SizeBytes:  sizeBytes,
		Warnings:   warnings,
		Before:     beforeStats,
		After:      afterStats,
		Delta:      deltaStats(beforeStats, afterStats),
		ChangedIDs: diffRecordIDs(beforeRecords, afterRecords),
		Details:    meta.Details,
	}
}

// RecordFailure appends a failed audit event for a write attempt that
// never reached the persist step. The document on disk is unchanged.
func (s *Store) RecordFailure(meta AuditMeta, errMsg string) error {
	var current *models.Document
	if s.Exists() {
		if loaded, err := s.Load(); err == nil {
			current = loaded
		}
	}
	meta.Status = StatusFailed
	if meta.Error == "" {
		meta.Error = errMsg
	}
	return s.AppendAudit(s.buildEvent(current, current, "", nil, meta))
}

// AppendAudit writes one event as a single JSON line.
func (s *Store) AppendAudit(event AuditEvent) error {
	f, err := os.OpenFile(s.AuditLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("store: open audit log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("store: encode audit event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("store: append audit event: %w", err)
	}
	return f.Sync()
}

// ReadAuditEvents returns audit events in chronological order. Lines
// that fail to parse are skipped. A limit of zero returns everything.
func (s *Store) ReadAuditEvents(limit int) ([]AuditEvent, error) {
	f, err := os.Open(s.AuditLogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: open audit log: %w", err)
	}
	defer f.Close()

	var events []AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("store: read audit log: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp < events[j].Timestamp })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// BackupInTimeline reports whether path appears as the backup_path of
// any successful audit event for this store.
func (s *Store) BackupInTimeline(path string) (bool, error) {
	events, err := s.ReadAuditEvents(0)
	if err != nil {
		return false, err
	}
	for _, event := range events {
		if event.Status == StatusSuccess && event.BackupPath == path {
			return true, nil
		}
	}
	return false, nil
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "0000"
	}
	return hex.EncodeToString(buf)
}
