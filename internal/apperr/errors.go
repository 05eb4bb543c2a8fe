// Package apperr defines the stable error codes the write engine
// reports. Codes travel inside structured responses and audit events,
// so their string values must not change.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a failure category.
type Code string

const (
	CodeValidationFailed          Code = "validation_failed"
	CodeIntegrityValidationFailed Code = "integrity_validation_failed"
	CodePositionConflict          Code = "position_conflict"
	CodeYAMLNotFound              Code = "yaml_not_found"
	CodeLoadFailed                Code = "load_failed"
	CodeWriteFailed               Code = "write_failed"
	CodeRollbackBackupInvalid     Code = "rollback_backup_invalid"
	CodeRollbackNotInTimeline     Code = "rollback_backup_not_in_timeline"
	CodeRollbackMustBeAlone       Code = "rollback_must_be_alone"
	CodeMissingBackupPath         Code = "missing_backup_path"
	CodeWriteRequiresExecuteMode  Code = "write_requires_execute_mode"
	CodeInvalidPosition           Code = "invalid_position"
	CodeInvalidBox                Code = "invalid_box"
	CodeMissingRequiredFields     Code = "missing_required_fields"
	CodeForbiddenFields           Code = "forbidden_fields"
	CodeInvalidFieldOption        Code = "invalid_field_option"
	CodeRecordNotFound            Code = "record_not_found"
	CodeSourceEmpty               Code = "source_empty"
	CodeSourceMismatch            Code = "source_mismatch"
	CodeTargetConflictInBatch     Code = "target_conflict_in_batch"
	CodeTargetOccupiedByBatchMove Code = "target_occupied_by_batch_move"
	CodeTargetOccupied            Code = "target_occupied"
	CodeNoBackups                 Code = "no_backups"
	CodeNotFound                  Code = "not_found"
	CodeInternal                  Code = "internal_error"
)

// Error pairs a stable code with a human-readable message.
type Error struct {
	Code    Code
	Message string
	Err     error // optional cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the Code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}
