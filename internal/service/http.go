package service

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/social-trends-api/internal/httputil"
)

var kindStatus = map[ErrorKind]int{
	ErrBadRequest:      http.StatusBadRequest,
	ErrUnauthorized:    http.StatusUnauthorized,
	ErrForbidden:       http.StatusForbidden,
	ErrNotFound:        http.StatusNotFound,
	ErrConflict:        http.StatusConflict,
	ErrTooManyRequests: http.StatusTooManyRequests,
	ErrInternal:        http.StatusInternalServerError,
	ErrUnavailable:     http.StatusServiceUnavailable,
}

// HTTPStatus maps an ErrorKind to its HTTP status code. Unknown kinds are 500.
func (k ErrorKind) HTTPStatus() int {
	if status, ok := kindStatus[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RespondError writes err as a JSON error body. A *service.Error anywhere in
// the chain supplies status, code and message; anything else is logged and
// reported as a generic 500.
func RespondError(w http.ResponseWriter, err error) {
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		log.Error().Err(err).Msg("unclassified error reached the HTTP layer")
		httputil.RespondError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
		return
	}

	status := svcErr.Kind.HTTPStatus()
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `ApiKey realm="social-trends-api"`)
	}
	if svcErr.Limit > 0 {
		httputil.RespondLimitError(w, status, svcErr.Code, svcErr.Message, svcErr.Limit)
		return
	}
	httputil.RespondError(w, status, svcErr.Code, svcErr.Message)
}
