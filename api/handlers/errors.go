package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/givestake/ledger/ledger/pkg/types"
)

// ErrorResponse is the JSON envelope for all error replies.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// statusForKind maps ledger error kinds to HTTP status codes.
func statusForKind(kind types.ErrorKind) int {
	switch kind {
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindAuthorization:
		return http.StatusForbidden
	case types.KindTemporal:
		return http.StatusConflict
	case types.KindStateConflict:
		return http.StatusConflict
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindCollaborator:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("handlers: failed to encode response", "error", err)
	}
}

// writeError translates a ledger error into an HTTP error reply. Unrecognized
// errors become an opaque 500 so internal details never leave the process.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	var lerr *types.Error
	if errors.As(err, &lerr) {
		writeJSON(w, statusForKind(lerr.Kind), ErrorResponse{
			Error:   lerr.Code,
			Message: err.Error(),
		})
		return
	}
	log.Error("handlers: internal error", "error", err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: msg})
}
