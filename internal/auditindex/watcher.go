package auditindex

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mlindqvist/cryovault/internal/store"
)

// EventCallback is called after a watcher-driven sync that indexed at
// least one new event.
type EventCallback func(indexed int)

// Watch starts an fsnotify watcher on the store directory and keeps
// the index in step with the audit log until ctx is cancelled. Writes
// land through O_APPEND, so events arrive in bursts; a short debounce
// collapses each burst into one sync pass.
func Watch(ctx context.Context, db *DB, st *store.Store, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(st.AuditLogPath())
	if err := w.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(st.AuditLogPath())

	logger.Info("audit watcher: started", slog.String("log", target))

	var syncTimer *time.Timer
	var syncCh <-chan time.Time
	scheduleSync := func() {
		if syncTimer == nil {
			syncTimer = time.NewTimer(200 * time.Millisecond)
			syncCh = syncTimer.C
		} else {
			syncTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if syncTimer != nil {
				syncTimer.Stop()
			}
			logger.Info("audit watcher: stopped")
			return nil

		case <-syncCh:
			before, _ := db.Count()
			if err := Sync(db, st, logger); err != nil {
				logger.Warn("audit watcher: sync failed", slog.String("error", err.Error()))
				continue
			}
			after, _ := db.Count()
			if cb != nil && after > before {
				cb(after - before)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				scheduleSync()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("audit watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
