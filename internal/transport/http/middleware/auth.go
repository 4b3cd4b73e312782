package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-notifications-nosql/internal/domain"
	jwtinfra "github.com/go-notifications-nosql/internal/infrastructure/jwt"
)

type contextKey string

const claimsKey contextKey = "claims"

// TokenVerifier is implemented by *jwtinfra.Provider.
type TokenVerifier interface {
	Verify(tokenStr string) (*jwtinfra.Claims, error)
}

// Auth returns middleware that validates the JWT and injects claims into
// context. The token comes from the Bearer header or, for browser EventSource
// and WebSocket clients that cannot set headers, the access_token query
// parameter.
func Auth(provider TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := bearerToken(r)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			claims, err := provider.Verify(tokenStr)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		tok, ok := strings.CutPrefix(h, "Bearer ")
		return tok, ok && tok != ""
	}
	tok := r.URL.Query().Get("access_token")
	return tok, tok != ""
}

// ClaimsFromContext extracts JWT claims from the request context.
func ClaimsFromContext(ctx context.Context) (*jwtinfra.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*jwtinfra.Claims)
	return c, ok
}

// ViewerFromContext returns the authenticated caller's identity.
func ViewerFromContext(ctx context.Context) (domain.Viewer, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return domain.Viewer{}, false
	}
	return c.Viewer(), true
}

// WithClaims returns a copy of ctx carrying claims. Used by tests and by
// callers that authenticate out of band.
func WithClaims(ctx context.Context, claims *jwtinfra.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}
