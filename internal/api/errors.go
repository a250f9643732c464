package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/deckvault/deckvault-core/internal/access"
)

// Error is the body of every error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes. Clients switch on these, never on messages.
const (
	ErrCodeBadRequest           = "BAD_REQUEST"
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeUnauthorized         = access.CodeUnauthorized
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeSessionInvalid       = "SESSION_INVALID"
	ErrCodeForbidden            = access.CodeForbidden
	ErrCodeRegistrationDisabled = "REGISTRATION_DISABLED"
	ErrCodeNotFound             = access.CodeNotFound
	ErrCodeConflict             = "CONFLICT"
	ErrCodeLastAdmin            = "LAST_ADMIN"
	ErrCodeRateLimited          = access.CodeRateLimited
	ErrCodeMaintenanceMode      = access.CodeMaintenanceMode
	ErrCodeInternal             = access.CodeInternal
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeSessionInvalid(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, ErrCodeSessionInvalid, "session is invalid or expired, please log in again")
}

func writeMaintenance(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeMaintenanceMode, "service is in maintenance mode")
}

// writeInternalError writes a 500. Details belong in the server log only.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeRejection is the access.RejectFunc for every guarded route.
func writeRejection(w http.ResponseWriter, _ *http.Request, rej *access.Rejection) {
	writeError(w, rej.Status, rej.Code, rej.Message)
}

// queryInt parses an integer query parameter, returning def when absent or
// malformed.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
