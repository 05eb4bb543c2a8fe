package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mlindqvist/cryovault/internal/apperr"
	"github.com/mlindqvist/cryovault/internal/auditindex"
	"github.com/mlindqvist/cryovault/internal/bridge"
	"github.com/mlindqvist/cryovault/internal/executor"
	"github.com/mlindqvist/cryovault/internal/gate"
	"github.com/mlindqvist/cryovault/internal/store"
)

// Handler holds API route handlers.
type Handler struct {
	store  *store.Store
	eng    *bridge.Engine
	runner *executor.Runner
	idx    auditindex.TimelineIndex // optional, nil falls back to log scans
}

// NewHandler creates a new Handler. idx may be nil when no audit index
// is configured; timeline queries then scan the log directly.
func NewHandler(st *store.Store, eng *bridge.Engine, runner *executor.Runner, idx auditindex.TimelineIndex) *Handler {
	return &Handler{store: st, eng: eng, runner: runner, idx: idx}
}

func apiActor(r *http.Request) store.ActorContext {
	return store.ActorContext{
		ActorType: "human",
		ActorID:   r.Header.Get("X-Actor-Id"),
		Channel:   "api",
	}
}

// GetDocument handles GET /api/document.
//
//	@Summary		Fetch the full inventory document with occupancy stats
//	@Tags			document
//	@Produce		json
//	@Success		200	{object}	DocumentResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/document [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Load()
	if err != nil {
		code := apperr.CodeOf(err)
		writeJSON(w, statusForCode(code), codedError(code, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, DocumentResponse{Document: doc, Stats: store.CollectStats(doc)})
}

// PreflightPlan handles POST /api/plan/preflight.
//
//	@Summary		Validate a plan against a throwaway copy of the store
//	@Tags			plan
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PlanRequest	true	"Plan to validate"
//	@Success		200		{object}	PlanResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/plan/preflight [post]
func (h *Handler) PreflightPlan(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePlan(w, r)
	if !ok {
		return
	}
	report := h.runner.Preflight(req.Items, req.Date, apiActor(r))
	writeJSON(w, http.StatusOK, PlanResponse{Report: report, Stats: executor.Summarize(report)})
}

// ExecutePlan handles POST /api/plan/execute.
//
//	@Summary		Execute a plan phase by phase
//	@Tags			plan
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PlanRequest	true	"Plan to execute"
//	@Success		200		{object}	PlanResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/plan/execute [post]
func (h *Handler) ExecutePlan(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePlan(w, r)
	if !ok {
		return
	}
	report := h.runner.Run(req.Items, req.Date, apiActor(r))
	writeJSON(w, http.StatusOK, PlanResponse{Report: report, Stats: executor.Summarize(report)})
}

// Rollback handles POST /api/rollback.
//
//	@Summary		Restore the store from a backup snapshot
//	@Tags			rollback
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RollbackRequest	true	"Rollback target"
//	@Success		200		{object}	bridge.Response
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/rollback [post]
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	resp := h.eng.Rollback(bridge.RollbackRequest{
		CallOptions: bridge.CallOptions{
			DryRun: req.DryRun,
			Source: gate.SourceToolAPI,
			Actor:  apiActor(r),
		},
		BackupPath: req.BackupPath,
	})
	if !resp.OK {
		writeJSON(w, statusForCode(resp.ErrorCode), errResponse{Error: resp.Message, Code: resp.ErrorCode})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListBackups handles GET /api/backups.
//
//	@Summary		List available backups, newest first
//	@Tags			backups
//	@Produce		json
//	@Success		200	{object}	BackupListResponse
//	@Security		BearerAuth
//	@Router			/backups [get]
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.store.ListBackups()
	if err != nil {
		slog.Error("list backups failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if backups == nil {
		backups = []store.Backup{}
	}
	writeJSON(w, http.StatusOK, BackupListResponse{Backups: backups, Total: len(backups)})
}

// AuditTimeline handles GET /api/audit.
//
//	@Summary		Query the audit timeline
//	@Tags			audit
//	@Produce		json
//	@Param			limit	query		int		false	"Maximum events to return"
//	@Param			action	query		string	false	"Filter by action"
//	@Param			status	query		string	false	"Filter by status"	Enums(success, failed)
//	@Success		200		{object}	AuditResponse
//	@Security		BearerAuth
//	@Router			/audit [get]
func (h *Handler) AuditTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	action := q.Get("action")
	status := q.Get("status")

	events, err := h.auditEvents(limit, action, status)
	if err != nil {
		slog.Error("audit query failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if events == nil {
		events = []store.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, AuditResponse{Events: events, Total: len(events)})
}

func (h *Handler) auditEvents(limit int, action, status string) ([]store.AuditEvent, error) {
	if h.idx != nil {
		var rows []auditindex.Row
		var err error
		switch {
		case status == store.StatusFailed:
			rows, err = h.idx.Failures(limit)
		case action != "":
			rows, err = h.idx.ByAction(action, limit)
		default:
			rows, err = h.idx.Recent(limit)
		}
		if err != nil {
			return nil, err
		}
		events := make([]store.AuditEvent, 0, len(rows))
		for _, row := range rows {
			if status != "" && row.Event.Status != status {
				continue
			}
			if action != "" && row.Event.Action != action {
				continue
			}
			events = append(events, row.Event)
		}
		return events, nil
	}

	all, err := h.store.ReadAuditEvents(0)
	if err != nil {
		return nil, err
	}
	var events []store.AuditEvent
	for i := len(all) - 1; i >= 0; i-- { // newest first
		ev := all[i]
		if action != "" && ev.Action != action {
			continue
		}
		if status != "" && ev.Status != status {
			continue
		}
		events = append(events, ev)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

func decodePlan(w http.ResponseWriter, r *http.Request) (PlanRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid plan body: "+err.Error()))
		return PlanRequest{}, false
	}
	return req, true
}
