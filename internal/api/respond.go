package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/flotilla-app/flotilla/internal/service"
	"github.com/flotilla-app/flotilla/internal/storage"
)

// errorBody is the JSON shape of every error response. The code lets a
// client decide between "fix input" and "retry" without parsing messages.
type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	writeJSON(w, status, errorBody{Code: code, Error: err.Error()})
}

// errorStatus maps the service/storage error taxonomy onto HTTP.
func errorStatus(err error) (int, string) {
	switch {
	case service.IsValidation(err):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, service.ErrGroupNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrAlreadyInGroup):
		return http.StatusConflict, "already_in_group"
	case errors.Is(err, service.ErrAlreadyMember):
		return http.StatusConflict, "already_member"
	case errors.Is(err, service.ErrNotMember):
		return http.StatusConflict, "not_member"
	case errors.Is(err, service.ErrCodeExhausted):
		return http.StatusServiceUnavailable, "code_exhausted"
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, storage.ErrPermissionDenied):
		return http.StatusInternalServerError, "store_permission_denied"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
