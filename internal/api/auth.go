package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type callerKey struct{}

// WithCaller returns a context carrying the caller identity.
func WithCaller(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerKey{}, callerID)
}

// CallerID returns the caller identity set by BearerAuth, or "".
func CallerID(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}

// BearerAuth resolves the bearer token against tokens (token -> caller ID)
// and stores the caller in the request context. Every token is compared so
// the time taken does not depend on which one matched.
func BearerAuth(tokens map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			presented := []byte(auth[len(prefix):])

			caller := ""
			for token, id := range tokens {
				if subtle.ConstantTimeCompare(presented, []byte(token)) == 1 && caller == "" {
					caller = id
				}
			}
			if caller == "" {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
