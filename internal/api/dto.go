package api

import (
	"github.com/mlindqvist/cryovault/internal/executor"
	"github.com/mlindqvist/cryovault/internal/models"
	"github.com/mlindqvist/cryovault/internal/plan"
	"github.com/mlindqvist/cryovault/internal/store"
)

// PlanRequest is the request body for preflighting or executing a plan.
type PlanRequest struct {
	Items []plan.Item `json:"items" validate:"required"`
	Date  string      `json:"date,omitempty" example:"2025-06-01"`
}

// PlanResponse wraps a plan run report with its canonical stats.
type PlanResponse struct {
	Report *executor.Report        `json:"report" validate:"required"`
	Stats  executor.ExecutionStats `json:"stats" validate:"required"`
}

// RollbackRequest is the request body for restoring a backup. An empty
// backup_path restores the newest backup.
type RollbackRequest struct {
	BackupPath string `json:"backup_path,omitempty"`
	DryRun     bool   `json:"dry_run,omitempty"`
}

// DocumentResponse carries the full document and its occupancy stats.
type DocumentResponse struct {
	Document *models.Document `json:"document" validate:"required"`
	Stats    store.Stats      `json:"stats" validate:"required"`
}

// BackupListResponse wraps the available backups, newest first.
type BackupListResponse struct {
	Backups []store.Backup `json:"backups" validate:"required"`
	Total   int            `json:"total" example:"12" validate:"required"`
}

// AuditResponse wraps a slice of the audit timeline.
type AuditResponse struct {
	Events []store.AuditEvent `json:"events" validate:"required"`
	Total  int                `json:"total" example:"87" validate:"required"`
}
