package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/social-trends-api/internal/metrics"
	"github.com/social-trends-api/internal/service"
)

// ResponseTimeHeader reports server-side processing time in milliseconds.
const ResponseTimeHeader = "X-Response-Time"

// timingWriter stamps the response time header just before the status line
// is written, since headers cannot change afterwards.
type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	status      int
	wroteHeader bool
}

func (tw *timingWriter) WriteHeader(status int) {
	if !tw.wroteHeader {
		tw.wroteHeader = true
		tw.status = status
		elapsed := time.Since(tw.start)
		tw.Header().Set(ResponseTimeHeader, strconv.FormatFloat(float64(elapsed.Microseconds())/1000, 'f', 2, 64)+"ms")
	}
	tw.ResponseWriter.WriteHeader(status)
}

func (tw *timingWriter) Write(b []byte) (int, error) {
	if !tw.wroteHeader {
		tw.WriteHeader(http.StatusOK)
	}
	return tw.ResponseWriter.Write(b)
}

func (tw *timingWriter) Unwrap() http.ResponseWriter {
	return tw.ResponseWriter
}

const identitySlotKey contextKey = "identity_slot"

// identitySlot lets auth middleware further down the chain hand the resolved
// identity back to the request logger.
type identitySlot struct {
	id *service.Identity
}

// RequestLogger logs each request and records it in the HTTP metrics, labelled
// by chi route pattern to keep cardinality bounded.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &timingWriter{ResponseWriter: w, start: time.Now(), status: http.StatusOK}
		slot := &identitySlot{}
		next.ServeHTTP(tw, r.WithContext(context.WithValue(r.Context(), identitySlotKey, slot)))
		elapsed := time.Since(tw.start)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		metrics.RecordHTTPRequest(r.Method, route, tw.status, elapsed)

		level := zerolog.InfoLevel
		switch {
		case tw.status >= 500:
			level = zerolog.ErrorLevel
		case route == "/health" || route == "/metrics":
			level = zerolog.DebugLevel
		}

		event := log.WithLevel(level).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", tw.status).
			Dur("duration", elapsed).
			Str("request_id", chimw.GetReqID(r.Context()))
		if id := slot.id; id != nil {
			event = event.Str("key", id.KeyPrefix).Str("tier", string(id.Tier))
		}
		event.Msg("request")
	})
}
