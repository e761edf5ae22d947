package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// ErrorResponse is the standard JSON error response body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Limit   int64  `json:"limit,omitempty"`
}

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Debug().Err(err).Msg("failed to write response body")
	}
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// RespondLimitError writes a JSON error response carrying the limit that was hit.
func RespondLimitError(w http.ResponseWriter, status int, code, message string, limit int64) {
	RespondJSON(w, status, ErrorResponse{Error: code, Message: message, Limit: limit})
}
