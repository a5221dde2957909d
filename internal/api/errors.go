package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/gray-logic-irrigation/internal/irrigation"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes not produced by the irrigation package.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeUnavailable = "unavailable"
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
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, irrigation.CodeInternal, message)
}

// writeUnavailable writes a 503 error response for a disabled feature.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// statusForCode maps an irrigation error code onto an HTTP status.
func statusForCode(code string) int {
	switch code {
	case irrigation.CodeNotFound:
		return http.StatusNotFound
	case irrigation.CodeGuardViolation, irrigation.CodeConflict:
		return http.StatusConflict
	case irrigation.CodeMissingField, irrigation.CodeInvalid:
		return http.StatusBadRequest
	case irrigation.CodeTransport, irrigation.CodeProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err using the irrigation error taxonomy.
// Server-side failures are logged.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := irrigation.ErrorCode(err)
	status := statusForCode(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", code,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	}
	writeError(w, status, code, err.Error())
}
