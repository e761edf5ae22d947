package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog/log"
)

const googleIssuer = "https://accounts.google.com"

type adminEmailKey struct{}

// GetAdminEmail extracts the authenticated admin email from the request context.
func GetAdminEmail(ctx context.Context) string {
	email, _ := ctx.Value(adminEmailKey{}).(string)
	return email
}

// IDClaims holds the verified claims from a Google ID token.
type IDClaims struct {
	Email         string
	EmailVerified bool
	HD            string
}

// TokenVerifier verifies an ID token and returns its claims.
type TokenVerifier interface {
	VerifyClaims(ctx context.Context, rawToken string) (*IDClaims, error)
}

type oidcTokenVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (v *oidcTokenVerifier) VerifyClaims(ctx context.Context, rawToken string) (*IDClaims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		HD            string `json:"hd"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}

	return &IDClaims{
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		HD:            claims.HD,
	}, nil
}

// AdminPolicy restricts admin access to verified Google Workspace accounts of
// one domain that are also on an explicit allowlist.
type AdminPolicy struct {
	Domain string
	Emails []string
}

// AdminAuth guards the key administration routes with Google ID tokens.
type AdminAuth struct {
	verifier TokenVerifier
	domain   string
	emails   map[string]struct{}
}

// NewAdminAuth fetches Google's OIDC discovery document and returns an
// AdminAuth verifying tokens issued for clientID.
func NewAdminAuth(ctx context.Context, clientID string, policy AdminPolicy) (*AdminAuth, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("create Google OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return NewAdminAuthWithVerifier(&oidcTokenVerifier{verifier: verifier}, policy), nil
}

// NewAdminAuthWithVerifier creates an AdminAuth with a custom TokenVerifier.
// Domain and email comparisons are case-insensitive.
func NewAdminAuthWithVerifier(verifier TokenVerifier, policy AdminPolicy) *AdminAuth {
	emails := make(map[string]struct{}, len(policy.Emails))
	for _, e := range policy.Emails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			emails[e] = struct{}{}
		}
	}

	return &AdminAuth{
		verifier: verifier,
		domain:   strings.ToLower(strings.TrimSpace(policy.Domain)),
		emails:   emails,
	}
}

// Middleware returns an http middleware that authenticates admin requests.
func (a *AdminAuth) Middleware(limiter *AuthAttemptLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attemptKey := clientIPKey(r, "admin")
			if limiter != nil {
				if ok, retryAfter := limiter.allow(attemptKey); !ok {
					respondLockedOut(w, retryAfter)
					return
				}
			}

			fail := func(status int, code, message string) {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				respondError(w, status, code, message)
			}

			token := extractBearerToken(r)
			if token == "" {
				fail(http.StatusUnauthorized, "unauthorized", "Missing authorization token")
				return
			}

			claims, err := a.verifier.VerifyClaims(r.Context(), token)
			if err != nil {
				log.Debug().Err(err).Msg("admin token rejected")
				fail(http.StatusUnauthorized, "unauthorized", "Invalid ID token")
				return
			}

			email := strings.ToLower(claims.Email)
			switch {
			case !claims.EmailVerified:
				fail(http.StatusForbidden, "forbidden", "Email not verified")
				return
			case strings.ToLower(claims.HD) != a.domain:
				fail(http.StatusForbidden, "forbidden", "Domain not allowed")
				return
			}
			if _, ok := a.emails[email]; !ok {
				fail(http.StatusForbidden, "forbidden", "User not authorized")
				return
			}

			if limiter != nil {
				limiter.registerSuccess(attemptKey)
			}
			log.Info().Str("admin", email).Str("method", r.Method).Str("path", r.URL.Path).Msg("admin request")

			ctx := context.WithValue(r.Context(), adminEmailKey{}, email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
