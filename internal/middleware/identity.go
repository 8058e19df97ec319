package middleware

import (
	"context"
	"net/http"
	"strings"
)

// Headers set by the authenticating proxy in front of the service.
const (
	HeaderUsername = "X-Username"
	HeaderRole     = "X-Role"

	RoleAdmin = "ADMIN"
)

type usernameKey struct{}

// WithUsername stores the verified caller identity in ctx.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey{}, username)
}

// Username returns the caller identity or "".
func Username(ctx context.Context) string {
	u, _ := ctx.Value(usernameKey{}).(string)
	return u
}

// RequireUser rejects requests without a caller identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := strings.TrimSpace(r.Header.Get(HeaderUsername))
		if username == "" {
			http.Error(w, "missing caller identity", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUsername(r.Context(), username)))
	})
}

// RequireAdmin rejects requests whose role is not ADMIN.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get(HeaderUsername)) == "" {
			http.Error(w, "missing caller identity", http.StatusUnauthorized)
			return
		}
		if !strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderRole)), RoleAdmin) {
			http.Error(w, "admin role required", http.StatusForbidden)
			return
		}
		ctx := WithUsername(r.Context(), strings.TrimSpace(r.Header.Get(HeaderUsername)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
