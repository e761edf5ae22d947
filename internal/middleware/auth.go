package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/social-trends-api/internal/service"
	"github.com/social-trends-api/internal/tier"
)

type contextKey string

const identityContextKey contextKey = "identity"

// APIKeyHeader carries the caller's API key. A Bearer token is accepted too.
const APIKeyHeader = "X-API-Key"

// Authenticator is the part of service.Authenticator the middleware uses.
type Authenticator interface {
	Authenticate(ctx context.Context, rawKey, endpoint string) (*service.Identity, error)
	Identify(ctx context.Context, rawKey string) (*service.Identity, error)
}

// GetIdentity extracts the authenticated identity from the request context.
func GetIdentity(ctx context.Context) *service.Identity {
	id, _ := ctx.Value(identityContextKey).(*service.Identity)
	return id
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *service.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// APIKeyAuth returns middleware that authenticates the request's API key and
// meters the call against its monthly quota.
func APIKeyAuth(auth Authenticator, limiter *AuthAttemptLimiter) func(http.Handler) http.Handler {
	return apiKeyMiddleware(limiter, true, func(r *http.Request, rawKey string) (*service.Identity, error) {
		return auth.Authenticate(r.Context(), rawKey, r.URL.Path)
	})
}

// APIKeyIdentify is APIKeyAuth without metering, for account and usage views.
func APIKeyIdentify(auth Authenticator, limiter *AuthAttemptLimiter) func(http.Handler) http.Handler {
	return apiKeyMiddleware(limiter, false, func(r *http.Request, rawKey string) (*service.Identity, error) {
		return auth.Identify(r.Context(), rawKey)
	})
}

func apiKeyMiddleware(limiter *AuthAttemptLimiter, metered bool, resolve func(*http.Request, string) (*service.Identity, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attemptKey := clientIPKey(r, "api_key")
			if limiter != nil {
				if ok, retryAfter := limiter.allow(attemptKey); !ok {
					respondLockedOut(w, retryAfter)
					return
				}
			}

			id, err := resolve(r, extractAPIKey(r))
			if err != nil {
				if limiter != nil && isCredentialFailure(err) {
					limiter.registerFailure(attemptKey)
				}
				var svcErr *service.Error
				if errors.As(err, &svcErr) && svcErr.Code == service.CodeQuotaExceeded {
					setQuotaHeaders(w, svcErr.Limit, svcErr.Limit, 0)
				}
				service.RespondError(w, err)
				return
			}

			if limiter != nil {
				limiter.registerSuccess(attemptKey)
			}
			if metered {
				setQuotaHeaders(w, id.Quota, id.Used, id.Remaining())
			}
			if slot, ok := r.Context().Value(identitySlotKey).(*identitySlot); ok {
				slot.id = id
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireTier rejects requests whose identity ranks below minimum. It must run
// after APIKeyAuth.
func RequireTier(minimum tier.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := service.RequireTier(GetIdentity(r.Context()), minimum); err != nil {
				service.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isCredentialFailure excludes rejections caused by a store outage so that
// valid callers are not locked out once the database recovers.
func isCredentialFailure(err error) bool {
	if service.IsStoreFailure(err) {
		return false
	}
	return service.IsCode(err, service.CodeMissingKey) || service.IsCode(err, service.CodeInvalidKey)
}

func setQuotaHeaders(w http.ResponseWriter, limit, used, remaining int64) {
	w.Header().Set("X-Quota-Limit", strconv.FormatInt(limit, 10))
	w.Header().Set("X-Quota-Used", strconv.FormatInt(used, 10))
	w.Header().Set("X-Quota-Remaining", strconv.FormatInt(remaining, 10))
}

func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	return extractBearerToken(r)
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}
