package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/social-trends-api/internal/httputil"
)

func respondError(w http.ResponseWriter, status int, code, message string) {
	httputil.RespondError(w, status, code, message)
}

func respondLockedOut(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	respondError(w, http.StatusTooManyRequests, "rate_limited", "Too many authentication failures")
}
