package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/social-trends-api/internal/httputil"
)

// ErrorResponse is the standard JSON error response body.
type ErrorResponse = httputil.ErrorResponse

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	httputil.RespondJSON(w, status, data)
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	httputil.RespondError(w, status, code, message)
}

// DecodeJSON decodes the request body into dst and writes a 400 or 413 on
// failure. Callers return when it reports false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondError(w, http.StatusRequestEntityTooLarge, "request_too_large", "Request body too large")
			return false
		}
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}

// NotFound is the router's fallback for unknown paths.
func NotFound(w http.ResponseWriter, r *http.Request) {
	RespondError(w, http.StatusNotFound, "not_found", "Endpoint not found. See / for the list of endpoints.")
}

// MethodNotAllowed is the router's fallback for known paths hit with the
// wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	RespondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
}
