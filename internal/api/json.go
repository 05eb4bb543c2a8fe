package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mlindqvist/cryovault/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string      `json:"error" validate:"required"`
	Code  apperr.Code `json:"error_code,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

func codedError(code apperr.Code, msg string) errResponse {
	return errResponse{Error: msg, Code: code}
}

// statusForCode maps engine error codes onto HTTP statuses. Anything
// unrecognized is treated as a caller mistake.
func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.CodeYAMLNotFound, apperr.CodeRecordNotFound, apperr.CodeNoBackups, apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodePositionConflict:
		return http.StatusConflict
	case apperr.CodeLoadFailed, apperr.CodeWriteFailed, apperr.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
